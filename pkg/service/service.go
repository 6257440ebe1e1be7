// Package service accepts generation requests and runs them in the background.
package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/igolaizola/trackgen/pkg/classify"
	"github.com/igolaizola/trackgen/pkg/generator"
	"github.com/igolaizola/trackgen/pkg/logger"
	"github.com/igolaizola/trackgen/pkg/music"
	"github.com/igolaizola/trackgen/pkg/storage"
	"go.uber.org/zap"
)

// Runner produces the tracks of a request.
type Runner interface {
	Run(ctx context.Context, req music.Request) (*generator.Result, error)
}

type Config struct {
	// Production redacts credential like words from failure messages.
	Production bool
	// CompletionDelay is waited after a successful generation before the task
	// is marked as completed.
	CompletionDelay time.Duration
	Logger          *zap.Logger
}

type Service struct {
	store      storage.Store
	runner     Runner
	production bool
	delay      time.Duration
	log        *zap.Logger
	wg         sync.WaitGroup
}

func New(store storage.Store, runner Runner, cfg *Config) *Service {
	return &Service{
		store:      store,
		runner:     runner,
		production: cfg.Production,
		delay:      cfg.CompletionDelay,
		log:        logger.OrNop(cfg.Logger),
	}
}

// Submit validates the request, creates a pending task and starts generating
// it in the background. It returns without waiting for the providers.
func (s *Service) Submit(ctx context.Context, req music.Request) (string, error) {
	if err := generator.Validate(req); err != nil {
		return "", err
	}
	task, err := s.store.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("service: couldn't create task: %w", err)
	}
	s.log.Info("service: task created",
		zap.String("task", task.ID),
		zap.String("genre", req.Genre),
		zap.Strings("subgenres", req.Subgenres),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Background work isn't tied to the submitting request.
		s.run(context.Background(), task)
	}()
	return task.ID, nil
}

// Poll returns the current snapshot of a task.
func (s *Service) Poll(ctx context.Context, id string) (*music.Task, error) {
	return s.store.Get(ctx, id)
}

// Wait blocks until every background task has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context, task *music.Task) {
	log := s.log.With(zap.String("task", task.ID))
	start := time.Now()

	var result *generator.Result
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("service: generation panicked",
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				result = nil
				err = &classify.Error{Kind: classify.Internal, Err: fmt.Errorf("panic: %v", r)}
			}
		}()
		result, err = s.runner.Run(ctx, task.Request)
		if err == nil && result == nil {
			err = &classify.Error{Kind: classify.Internal, Err: fmt.Errorf("no result")}
		}
	}()

	var final *music.Task
	if err != nil {
		cerr := classify.Classify(err)
		log.Error("service: generation failed",
			zap.String("kind", string(cerr.Kind)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		final = task.Fail(string(cerr.Kind), cerr.Message(s.production), time.Now().UTC())
	} else {
		if s.delay > 0 {
			time.Sleep(s.delay)
		}
		log.Info("service: generation completed",
			zap.String("audio", result.Track.AudioURL),
			zap.Int("alternates", len(result.Alternates)),
			zap.Duration("elapsed", time.Since(start)),
		)
		final = task.Complete(result.Track, result.Alternates, time.Now().UTC())
	}

	if err := s.store.Replace(ctx, task.ID, final); err != nil {
		log.Error("service: couldn't store result", zap.Error(err))
		ierr := &classify.Error{Kind: classify.Internal, Err: err}
		fallback := task.Fail(string(ierr.Kind), ierr.Message(s.production), time.Now().UTC())
		if err := s.store.Replace(ctx, task.ID, fallback); err != nil {
			log.Error("service: couldn't store failure", zap.Error(err))
		}
	}
}
