package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/igolaizola/trackgen/pkg/music"
)

type memoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*music.Task
}

func newMemory() *memoryStore {
	return &memoryStore{tasks: map[string]*music.Task{}}
}

func (s *memoryStore) Start(context.Context) error { return nil }

func (s *memoryStore) Stop() error { return nil }

func (s *memoryStore) Create(ctx context.Context, req music.Request) (*music.Task, error) {
	t := music.NewTask(newID(), req, time.Now().UTC())
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return nil, fmt.Errorf("storage: task %s already exists", t.ID)
	}
	s.tasks[t.ID] = t
	return t.Clone(), nil
}

func (s *memoryStore) Get(ctx context.Context, id string) (*music.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *memoryStore) Replace(ctx context.Context, id string, t *music.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	n, err := next(id, cur, t)
	if err != nil {
		return err
	}
	s.tasks[id] = n
	return nil
}

func (s *memoryStore) Sweep(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for id, t := range s.tasks {
		if t.Status.Terminal() && t.UpdatedAt.Before(before) {
			delete(s.tasks, id)
			n++
		}
	}
	return n, nil
}
