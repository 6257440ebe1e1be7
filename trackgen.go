package trackgen

import (
	"context"
	"fmt"
	"time"

	"github.com/igolaizola/trackgen/pkg/generator"
	"github.com/igolaizola/trackgen/pkg/logger"
	"github.com/igolaizola/trackgen/pkg/lyrics"
	"github.com/igolaizola/trackgen/pkg/service"
	"github.com/igolaizola/trackgen/pkg/storage"
	"github.com/igolaizola/trackgen/pkg/suno"
	"go.uber.org/zap"
)

type Config struct {
	Debug      bool
	Production bool

	DBType  string
	DBConn  string
	TaskTTL time.Duration

	// Instance names this process in a shared database. Only pending tasks of
	// the same instance are failed on start.
	Instance string

	SunoURL      string
	SunoKey      string
	MusicTimeout time.Duration

	Lyrics        bool
	OpenAIKey     string
	OpenAIURL     string
	OpenAIModel   string
	LyricsTimeout time.Duration

	ProviderWait    time.Duration
	CompletionDelay time.Duration

	Logger *zap.Logger
}

// App is a running task service with its store.
type App struct {
	Service *service.Service
	store   storage.Backend
	cancel  context.CancelFunc
	log     *zap.Logger
}

// Start opens the store and wires the providers into a task service.
func Start(ctx context.Context, cfg *Config) (*App, error) {
	log := logger.OrNop(cfg.Logger)

	m, err := suno.New(&suno.Config{
		BaseURL: cfg.SunoURL,
		Key:     cfg.SunoKey,
		Timeout: cfg.MusicTimeout,
		Wait:    cfg.ProviderWait,
		Debug:   cfg.Debug,
		Logger:  log,
	})
	if err != nil {
		return nil, fmt.Errorf("trackgen: couldn't create music client: %w", err)
	}
	var l generator.LyricsProvider
	if cfg.Lyrics {
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("trackgen: openai key is required when lyrics are enabled")
		}
		l = lyrics.New(&lyrics.Config{
			Key:     cfg.OpenAIKey,
			BaseURL: cfg.OpenAIURL,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.LyricsTimeout,
			Logger:  log,
		})
	}
	gen, err := generator.New(m, l, &generator.Config{
		Lyrics: cfg.Lyrics,
		Logger: log,
	})
	if err != nil {
		return nil, fmt.Errorf("trackgen: couldn't create generator: %w", err)
	}

	store, err := storage.New(cfg.DBType, cfg.DBConn, &storage.Options{
		TTL:    cfg.TaskTTL,
		Owner:  cfg.Instance,
		Debug:  cfg.Debug,
		Logger: log,
	})
	if err != nil {
		return nil, fmt.Errorf("trackgen: couldn't create store: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return nil, fmt.Errorf("trackgen: couldn't start store: %w", err)
	}
	if mig, ok := store.(storage.Migrator); ok {
		if err := mig.Migrate(ctx); err != nil {
			_ = store.Stop()
			return nil, fmt.Errorf("trackgen: couldn't migrate store: %w", err)
		}
	}
	if i, ok := store.(storage.Interrupter); ok {
		n, err := i.Interrupt(ctx)
		if err != nil {
			_ = store.Stop()
			return nil, fmt.Errorf("trackgen: couldn't fail interrupted tasks: %w", err)
		}
		if n > 0 {
			log.Warn("trackgen: failed tasks interrupted by a restart", zap.Int("count", n))
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	if s, ok := store.(storage.Sweeper); ok && cfg.TaskTTL > 0 {
		interval := cfg.TaskTTL
		if interval > time.Minute {
			interval = time.Minute
		}
		go storage.Janitor(ctx, s, cfg.TaskTTL, interval, log)
	}

	svc := service.New(store, gen, &service.Config{
		Production:      cfg.Production,
		CompletionDelay: cfg.CompletionDelay,
		Logger:          log,
	})
	return &App{
		Service: svc,
		store:   store,
		cancel:  cancel,
		log:     log,
	}, nil
}

// Stop waits up to timeout for background tasks and closes the store.
func (a *App) Stop(timeout time.Duration) error {
	defer a.cancel()
	done := make(chan struct{})
	go func() {
		a.Service.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		a.log.Warn("trackgen: stopped with tasks still running")
	}
	if err := a.store.Stop(); err != nil {
		return fmt.Errorf("trackgen: couldn't stop store: %w", err)
	}
	return nil
}
