package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/igolaizola/trackgen"
	"github.com/igolaizola/trackgen/pkg/classify"
	"github.com/igolaizola/trackgen/pkg/logger"
	"github.com/igolaizola/trackgen/pkg/music"
	"github.com/igolaizola/trackgen/pkg/storage"
	"go.uber.org/zap"
)

type Config struct {
	trackgen.Config

	Addr        string
	CORSOrigins []string
	// ShutdownTimeout bounds the wait for running tasks on exit.
	ShutdownTimeout time.Duration
}

// Serve starts the generation service and blocks until ctx is done.
func Serve(ctx context.Context, cfg *Config) error {
	log := logger.OrNop(cfg.Logger)
	log.Info("web: server started")
	defer log.Info("web: server ended")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app, err := trackgen.Start(ctx, &cfg.Config)
	if err != nil {
		return fmt.Errorf("web: couldn't start service: %w", err)
	}
	defer func() {
		if err := app.Stop(cfg.ShutdownTimeout); err != nil {
			log.Error("web: couldn't stop service", zap.Error(err))
		}
	}()

	handler := Handler(app.Service, &HandlerConfig{
		Debug:       cfg.Debug,
		Production:  cfg.Production,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      log,
	})

	// Create server
	split := strings.Split(cfg.Addr, ":")
	if len(split) != 2 {
		return fmt.Errorf("web: invalid address: %s", cfg.Addr)
	}
	host := split[0]
	port, err := strconv.Atoi(split[1])
	if err != nil {
		return fmt.Errorf("web: invalid port: %s", split[1])
	}
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errC := make(chan error, 1)
	go func() {
		note := fmt.Sprintf("http://%s:%d", host, port)
		if host == "" {
			note = fmt.Sprintf("all interfaces http://localhost:%d", port)
		}
		log.Info("web: listening", zap.String("addr", note))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- fmt.Errorf("web: couldn't start server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errC:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web: couldn't shutdown server: %w", err)
	}
	return nil
}

// Tasks is the task service exposed over HTTP.
type Tasks interface {
	Submit(ctx context.Context, req music.Request) (string, error)
	Poll(ctx context.Context, id string) (*music.Task, error)
}

type HandlerConfig struct {
	Debug       bool
	Production  bool
	CORSOrigins []string
	Logger      *zap.Logger
}

type handler struct {
	tasks      Tasks
	production bool
	log        *zap.Logger
}

// Handler returns the router of the HTTP API. Routes are served both at the
// root and under /api.
func Handler(tasks Tasks, cfg *HandlerConfig) http.Handler {
	h := &handler{
		tasks:      tasks,
		production: cfg.Production,
		log:        logger.OrNop(cfg.Logger),
	}

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	if cfg.Debug {
		mux.Use(middleware.Logger)
	}
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	routes := func(r chi.Router) {
		r.Post("/generate", h.generate)
		r.Get("/status/{taskId}", h.status)
		r.Get("/health", h.health)
	}
	routes(mux)
	mux.Route("/api", routes)
	return mux
}

type generateRequest struct {
	Description string   `json:"description"`
	Genre       string   `json:"genre"`
	Subgenres   []string `json:"subgenres"`
}

type generateResponse struct {
	TaskID string `json:"taskId"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type statusResponse struct {
	Status      music.Status  `json:"status"`
	Description string        `json:"description"`
	Genre       string        `json:"genre"`
	Subgenres   []string      `json:"subgenres"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	Result      *result       `json:"result,omitempty"`
	Track       *music.Track  `json:"track,omitempty"`
	Alternates  []music.Track `json:"alternates,omitempty"`
	Error       string        `json:"error,omitempty"`
	ErrorKind   string        `json:"errorKind,omitempty"`
}

type result struct {
	URL      string  `json:"url"`
	Duration float64 `json:"duration"`
}

type healthResponse struct {
	Status      string `json:"status"`
	Environment string `json:"environment"`
	Timestamp   string `json:"timestamp"`
}

func (h *handler) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, &errorResponse{Error: "Invalid request body"})
		return
	}
	subgenres := req.Subgenres
	if subgenres == nil {
		subgenres = []string{}
	}
	id, err := h.tasks.Submit(r.Context(), music.Request{
		Description: req.Description,
		Genre:       req.Genre,
		Subgenres:   subgenres,
	})
	var cerr *classify.Error
	switch {
	case errors.As(err, &cerr) && cerr.Kind == classify.InvalidRequest:
		h.writeJSON(w, http.StatusBadRequest, &errorResponse{Error: cerr.Message(h.production)})
		return
	case err != nil:
		reqID := middleware.GetReqID(r.Context())
		h.log.Error("web: couldn't submit task", zap.String("request", reqID), zap.Error(err))
		details := err.Error()
		if h.production {
			details = classify.Redact(details)
		}
		h.writeJSON(w, http.StatusInternalServerError, &errorResponse{
			Error:     "Generation failed",
			Details:   details,
			RequestID: reqID,
		})
		return
	}
	h.writeJSON(w, http.StatusAccepted, &generateResponse{TaskID: id})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskId")
	task, err := h.tasks.Poll(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		h.writeJSON(w, http.StatusNotFound, &errorResponse{Error: "Task not found"})
		return
	}
	if err != nil {
		h.log.Error("web: couldn't get task", zap.String("task", id), zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, &errorResponse{Error: "Internal server error"})
		return
	}
	h.writeJSON(w, http.StatusOK, toStatus(task))
}

func toStatus(t *music.Task) *statusResponse {
	resp := &statusResponse{
		Status:      t.Status,
		Description: t.Request.Description,
		Genre:       t.Request.Genre,
		Subgenres:   t.Request.Subgenres,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		Alternates:  t.Alternates,
		Error:       t.Error,
		ErrorKind:   t.ErrorKind,
	}
	if resp.Subgenres == nil {
		resp.Subgenres = []string{}
	}
	if t.Status == music.Completed && t.Track != nil {
		resp.Track = t.Track
		resp.Result = &result{
			URL:      t.Track.AudioURL,
			Duration: t.Track.Duration,
		}
	}
	return resp
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	env := "development"
	if h.production {
		env = "production"
	}
	h.writeJSON(w, http.StatusOK, &healthResponse{
		Status:      "ok",
		Environment: env,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("web: couldn't encode response", zap.Error(err))
	}
}
