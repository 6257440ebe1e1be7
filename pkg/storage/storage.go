package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/igolaizola/trackgen/pkg/logger"
	"github.com/igolaizola/trackgen/pkg/music"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrIDMismatch        = errors.New("task id mismatch")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInconsistent      = errors.New("inconsistent task snapshot")
)

// InterruptedMessage is recorded on tasks that were pending when a durable
// backend was restarted.
const InterruptedMessage = "Generation was interrupted"

// Store holds task snapshots keyed by id. Readers always get a copy.
type Store interface {
	Create(ctx context.Context, req music.Request) (*music.Task, error)
	Get(ctx context.Context, id string) (*music.Task, error)
	// Replace overwrites the whole snapshot of an existing task atomically.
	Replace(ctx context.Context, id string, t *music.Task) error
}

// Backend is a store with a lifecycle.
type Backend interface {
	Store
	Start(ctx context.Context) error
	Stop() error
}

// Migrator is implemented by backends with a schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Interrupter is implemented by backends that outlive the process. Interrupt
// fails the pending tasks created under the same owner and returns how many
// were updated. Tasks of other owners sharing the backend are left alone.
type Interrupter interface {
	Interrupt(ctx context.Context) (int, error)
}

// Sweeper is implemented by backends that evict terminal tasks on demand.
type Sweeper interface {
	Sweep(ctx context.Context, before time.Time) (int, error)
}

type Options struct {
	// TTL is how long terminal tasks are kept, zero keeps them forever.
	TTL time.Duration
	// Owner names the process instance creating tasks.
	Owner string

	Debug  bool
	Logger *zap.Logger
}

// New returns the backend of the given type. Start must be called before use.
func New(typ, conn string, opts *Options) (Backend, error) {
	if opts == nil {
		opts = &Options{}
	}
	switch typ {
	case "", "memory":
		return newMemory(), nil
	case "sqlite", "mysql", "postgres":
		return newORM(typ, conn, opts)
	case "redis":
		return newRedis(conn, opts)
	default:
		return nil, fmt.Errorf("storage: unknown db type: %s", typ)
	}
}

func newID() string {
	return ulid.Make().String()
}

// next validates a replacement snapshot against the current one and returns
// the copy to store. Id, request and creation time are immutable.
func next(id string, cur, t *music.Task) (*music.Task, error) {
	if t == nil {
		return nil, fmt.Errorf("storage: %w: nil snapshot for %s", ErrInconsistent, id)
	}
	if t.ID != id {
		return nil, fmt.Errorf("storage: %w: %s != %s", ErrIDMismatch, t.ID, id)
	}
	if !music.CanTransition(cur.Status, t.Status) {
		return nil, fmt.Errorf("storage: %w: %s to %s", ErrInvalidTransition, cur.Status, t.Status)
	}
	if err := t.Consistent(); err != nil {
		return nil, fmt.Errorf("storage: %w: %v", ErrInconsistent, err)
	}
	c := t.Clone()
	c.Request = cur.Clone().Request
	c.CreatedAt = cur.CreatedAt
	if c.UpdatedAt.Before(c.CreatedAt) {
		c.UpdatedAt = c.CreatedAt
	}
	return c, nil
}

// Janitor sweeps terminal tasks older than ttl every interval until ctx is
// done.
func Janitor(ctx context.Context, s Sweeper, ttl, interval time.Duration, log *zap.Logger) {
	log = logger.OrNop(log)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := s.Sweep(ctx, time.Now().Add(-ttl))
		if err != nil {
			log.Error("storage: sweep failed", zap.Error(err))
			continue
		}
		if n > 0 {
			log.Debug("storage: swept tasks", zap.Int("count", n))
		}
	}
}
