package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/igolaizola/trackgen"
	"github.com/igolaizola/trackgen/pkg/logger"
	"github.com/igolaizola/trackgen/pkg/music"
	"go.uber.org/zap"
)

type Config struct {
	trackgen.Config

	Description string
	Genre       string
	Subgenres   []string

	// Poll is the interval between status checks.
	Poll   time.Duration
	Output string
}

// Run submits a single generation and waits for its terminal snapshot, which
// is written as JSON to the output file or stdout.
func Run(ctx context.Context, cfg *Config) error {
	log := logger.OrNop(cfg.Logger)
	log.Info("generate: process started")
	defer log.Info("generate: process ended")

	// The task only lives for this process.
	appCfg := cfg.Config
	appCfg.DBType, appCfg.DBConn, appCfg.TaskTTL = "memory", "", 0

	app, err := trackgen.Start(ctx, &appCfg)
	if err != nil {
		return fmt.Errorf("generate: couldn't start service: %w", err)
	}
	defer func() {
		if err := app.Stop(5 * time.Second); err != nil {
			log.Error("generate: couldn't stop service", zap.Error(err))
		}
	}()

	id, err := app.Service.Submit(ctx, music.Request{
		Description: cfg.Description,
		Genre:       cfg.Genre,
		Subgenres:   cfg.Subgenres,
	})
	if err != nil {
		return fmt.Errorf("generate: couldn't submit: %w", err)
	}
	log.Info("generate: task submitted", zap.String("task", id))

	poll := cfg.Poll
	if poll <= 0 {
		poll = 2 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var task *music.Task
	for {
		task, err = app.Service.Poll(ctx, id)
		if err != nil {
			return fmt.Errorf("generate: couldn't poll task %s: %w", id, err)
		}
		if task.Status.Terminal() {
			break
		}
		log.Debug("generate: waiting", zap.String("task", id), zap.String("status", string(task.Status)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	var w io.Writer = os.Stdout
	if cfg.Output != "" {
		f, err := os.Create(cfg.Output)
		if err != nil {
			return fmt.Errorf("generate: couldn't create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(task); err != nil {
		return fmt.Errorf("generate: couldn't encode task: %w", err)
	}
	if task.Status == music.Failed {
		return fmt.Errorf("generate: task %s failed (%s): %s", id, task.ErrorKind, task.Error)
	}
	return nil
}
