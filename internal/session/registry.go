// Package session ties one connected client to its server-side aggregator
// and to the redis-backed instant-resume record.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/knockme-app/knockme-backend/internal/alerts/service"
	"github.com/knockme-app/knockme-backend/internal/auth"
)

// Session is one client's live server-side state: its identity watcher and
// its feed aggregator, both torn down together.
type Session struct {
	ID        string
	Identity  *auth.Adapter
	Feed      *service.Aggregator
	CreatedAt time.Time

	cancel context.CancelFunc
}

// Close tears down the session's aggregator and identity watchers.
func (s *Session) Close() {
	s.cancel()
	s.Feed.Close()
	s.Identity.Close()
}

// Builder constructs the per-session identity adapter and aggregator bound
// to the session's context.
type Builder func(ctx context.Context) (*auth.Adapter, *service.Aggregator)

// Registry owns all live sessions.
type Registry struct {
	baseCtx context.Context
	build   Builder

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(ctx context.Context, build Builder) *Registry {
	return &Registry{
		baseCtx:  ctx,
		build:    build,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new session with a server-assigned ID.
func (r *Registry) Create() *Session {
	ctx, cancel := context.WithCancel(r.baseCtx)
	identity, feed := r.build(ctx)

	s := &Session{
		ID:        uuid.New().String(),
		Identity:  identity,
		Feed:      feed,
		CreatedAt: time.Now(),
		cancel:    cancel,
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	log.Info().Str("sessionId", s.ID).Msg("session created")
	return s
}

// Get returns the session for id, if it is still live.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Close removes and tears down one session.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.Close()
	log.Info().Str("sessionId", id).Msg("session closed")
	return true
}

// SweepIdle closes every session that has had no stream subscriber for at
// least idleTimeout, and reports how many were closed.
func (r *Registry) SweepIdle(idleTimeout time.Duration) int {
	cutoff := time.Now().Add(-idleTimeout)

	r.mu.Lock()
	var stale []*Session
	for id, s := range r.sessions {
		if since, idle := s.Feed.IdleSince(); idle && since.Before(cutoff) {
			delete(r.sessions, id)
			stale = append(stale, s)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		s.Close()
		log.Info().Str("sessionId", s.ID).Msg("idle session swept")
	}
	return len(stale)
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll tears down every session; used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		delete(r.sessions, id)
		all = append(all, s)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}
