package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the keyed registry of live sessions. Sessions are fully
// independent of each other; the only shared state is the similarity
// cache the engines were configured with.
type Store struct {
	conf Config

	mu       sync.RWMutex
	sessions map[string]*Engine
}

func NewStore(conf Config) (*Store, error) {
	conf = conf.withDefaults()
	if conf.Extractor == nil || conf.Generator == nil || conf.Cache == nil {
		return nil, fmt.Errorf("session store requires an extractor, a generator and a cache")
	}
	return &Store{
		conf:     conf,
		sessions: make(map[string]*Engine),
	}, nil
}

// Create starts a new session and returns its engine. Session ids are
// opaque and never reused.
func (s *Store) Create(_ context.Context) *Engine {
	e := newEngine(uuid.NewString(), s.conf)
	s.mu.Lock()
	s.sessions[e.ID()] = e
	s.mu.Unlock()
	slog.Info("session created", "session", e.ID())
	return e
}

// Get returns the engine for id or ErrNotFound.
func (s *Store) Get(id string) (*Engine, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Close removes the session and discards its in-memory state. Cache
// entries the session contributed stay behind for other sessions.
func (s *Store) Close(id string) error {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	slog.Info("session closed", "session", id)
	return nil
}

// CloseIdle evicts sessions whose last activity is older than maxIdle and
// returns how many were removed. Callers own the sweep cadence.
func (s *Store) CloseIdle(maxIdle time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxIdle)

	s.mu.RLock()
	var stale []string
	for id, e := range s.sessions {
		if e.LastActive().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	closed := 0
	for _, id := range stale {
		if err := s.Close(id); err == nil {
			closed++
		}
	}
	if closed > 0 {
		slog.Info("idle sessions evicted", "count", closed, "max_idle", maxIdle)
	}
	return closed
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
