package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/igolaizola/trackgen/pkg/classify"
	"github.com/igolaizola/trackgen/pkg/logger"
	"github.com/igolaizola/trackgen/pkg/music"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisPrefix  = "trackgen:task:"
	redisRetries = 10
)

type redisStore struct {
	owner  string
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func newRedis(conn string, opts *Options) (*redisStore, error) {
	if conn == "" {
		conn = "redis://localhost:6379/0"
	}
	if !strings.Contains(conn, "://") {
		conn = "redis://" + conn
	}
	o, err := redis.ParseURL(conn)
	if err != nil {
		return nil, fmt.Errorf("storage: invalid redis url: %w", err)
	}
	return &redisStore{
		owner:  opts.Owner,
		client: redis.NewClient(o),
		ttl:    opts.TTL,
		log:    logger.OrNop(opts.Logger),
	}, nil
}

func (s *redisStore) Start(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("storage: couldn't ping redis: %w", err)
	}
	return nil
}

func (s *redisStore) Stop() error {
	return s.client.Close()
}

func (s *redisStore) Create(ctx context.Context, req music.Request) (*music.Task, error) {
	t := music.NewTask(newID(), req, time.Now().UTC())
	b, err := json.Marshal(&redisTask{Task: t, Owner: s.owner})
	if err != nil {
		return nil, fmt.Errorf("storage: couldn't marshal task %s: %w", t.ID, err)
	}
	ok, err := s.client.SetNX(ctx, redisPrefix+t.ID, b, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("storage: couldn't create task %s: %w", t.ID, err)
	}
	if !ok {
		return nil, fmt.Errorf("storage: task %s already exists", t.ID)
	}
	return t, nil
}

func (s *redisStore) Get(ctx context.Context, id string) (*music.Task, error) {
	v, err := get(ctx, s.client, id)
	if err != nil {
		return nil, err
	}
	return v.Task, nil
}

// redisTask is the stored value, a task snapshot with its owner.
type redisTask struct {
	*music.Task
	Owner string `json:"owner,omitempty"`
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func get(ctx context.Context, c getter, id string) (*redisTask, error) {
	b, err := c.Get(ctx, redisPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: couldn't get task %s: %w", id, err)
	}
	v := &redisTask{Task: &music.Task{}}
	if err := json.Unmarshal(b, v); err != nil {
		return nil, fmt.Errorf("storage: couldn't unmarshal task %s: %w", id, err)
	}
	return v, nil
}

// Replace uses an optimistic transaction on the task key, retried while other
// writers modify it.
func (s *redisStore) Replace(ctx context.Context, id string, t *music.Task) error {
	key := redisPrefix + id
	update := func(tx *redis.Tx) error {
		cur, err := get(ctx, tx, id)
		if err != nil {
			return err
		}
		n, err := next(id, cur.Task, t)
		if err != nil {
			return err
		}
		b, err := json.Marshal(&redisTask{Task: n, Owner: cur.Owner})
		if err != nil {
			return fmt.Errorf("storage: couldn't marshal task %s: %w", id, err)
		}
		var exp time.Duration
		if n.Status.Terminal() && s.ttl > 0 {
			exp = s.ttl
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, exp)
			return nil
		})
		return err
	}
	for i := 0; i < redisRetries; i++ {
		err := s.client.Watch(ctx, update, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !isStoreError(err) {
			return fmt.Errorf("storage: couldn't replace task %s: %w", id, err)
		}
		return err
	}
	return fmt.Errorf("storage: couldn't replace task %s: too many concurrent writes", id)
}

func isStoreError(err error) bool {
	for _, e := range []error{ErrNotFound, ErrIDMismatch, ErrInvalidTransition, ErrInconsistent} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// Interrupt fails the tasks left pending by a previous process.
func (s *redisStore) Interrupt(ctx context.Context) (int, error) {
	var n int
	iter := s.client.Scan(ctx, 0, redisPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), redisPrefix)
		v, err := get(ctx, s.client, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		if v.Status != music.Pending || v.Owner != s.owner {
			continue
		}
		t := v.Task
		err = s.Replace(ctx, id, t.Fail(string(classify.Internal), InterruptedMessage, time.Now().UTC()))
		if errors.Is(err, ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return n, err
		}
		s.log.Debug("storage: interrupted task", zap.String("id", id))
		n++
	}
	if err := iter.Err(); err != nil {
		return n, fmt.Errorf("storage: couldn't scan tasks: %w", err)
	}
	return n, nil
}
