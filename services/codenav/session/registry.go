// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/codenav/services/codenav/backend"
	"github.com/AleutianAI/codenav/services/codenav/depcache"
	"github.com/AleutianAI/codenav/services/codenav/indexing"
	"github.com/AleutianAI/codenav/services/codenav/tree"
)

var (
	// ErrNotFound is returned for an unknown or disposed session id.
	ErrNotFound = errors.New("session not found")

	// ErrTooManySessions is returned by Open when MaxSessions are open.
	ErrTooManySessions = errors.New("too many open sessions")

	// ErrInvalidURL is returned by Open for an empty repository URL.
	ErrInvalidURL = errors.New("repository url required")
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codenav",
		Name:      "sessions_active",
		Help:      "Open browsing sessions",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codenav",
		Name:      "sessions_total",
		Help:      "Session lifecycle events",
	}, []string{"event"})
)

// Options configures a Registry.
type Options struct {
	// Backend is the analysis backend. Must not be nil.
	Backend Backend

	// Lifecycle tracks parse jobs. Nil creates one owned by the registry.
	Lifecycle *indexing.Lifecycle

	// Filter hides tree entries. Nil hides nothing.
	Filter *tree.Filter

	// Cache tunes each session's dependency cache.
	Cache depcache.Options

	// IdleTTL disposes sessions idle for longer. Zero disables reaping.
	IdleTTL time.Duration

	// MaxSessions caps open sessions. Zero means unlimited.
	MaxSessions int

	// Logger for diagnostics. Nil uses slog.Default().
	Logger *slog.Logger

	// Now overrides the clock for tests.
	Now func() time.Time
}

// Registry creates, finds and disposes sessions.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	opts         Options
	logger       *slog.Logger
	ownLifecycle bool

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Backend == nil {
		panic("session.NewRegistry: Backend must not be nil")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	own := false
	if opts.Lifecycle == nil {
		opts.Lifecycle = indexing.NewLifecycle(opts.Backend, 0, opts.Logger)
		own = true
	}
	return &Registry{
		opts:         opts,
		logger:       opts.Logger,
		ownLifecycle: own,
		sessions:     make(map[string]*Session),
	}
}

// Open ingests a repository and starts a session on it.
//
// Description:
//
//	Calls the backend ingest, normalizes and filters the returned tree,
//	registers a new session under a fresh id and triggers indexing for the
//	project. Indexing runs in the background; its failure never fails Open.
//
// Inputs:
//
//	ctx - Bounds the ingest call.
//	repoURL - Repository to ingest.
//
// Outputs:
//
//	*Session - The new session.
//	error - ErrInvalidURL, ErrTooManySessions, or a backend error
//	        (backend.ErrIngest, backend.ErrTransport).
func (r *Registry) Open(ctx context.Context, repoURL string) (*Session, error) {
	repoURL = strings.TrimSpace(repoURL)
	if repoURL == "" {
		return nil, ErrInvalidURL
	}
	if err := r.checkCapacity(); err != nil {
		return nil, err
	}

	result, err := r.opts.Backend.Ingest(ctx, repoURL)
	if err != nil {
		sessionsTotal.WithLabelValues("ingest_failed").Inc()
		return nil, fmt.Errorf("opening %s: %w", repoURL, err)
	}
	if result.ProjectID == "" {
		return nil, fmt.Errorf("opening %s: %w: empty project id", repoURL, backend.ErrIngest)
	}
	return r.Attach(ctx, repoURL, result)
}

// Attach starts a session on an already ingested project.
func (r *Registry) Attach(ctx context.Context, repoURL string, result *backend.IngestResult) (*Session, error) {
	s := newSession(sessionConfig{
		id:        uuid.NewString(),
		repoURL:   repoURL,
		result:    result,
		backend:   r.opts.Backend,
		lifecycle: r.opts.Lifecycle,
		filter:    r.opts.Filter,
		cacheOpts: r.opts.Cache,
		now:       r.opts.Now(),
		logger:    r.logger,
	})

	r.mu.Lock()
	if limit := r.opts.MaxSessions; limit > 0 && len(r.sessions) >= limit {
		r.mu.Unlock()
		s.Close()
		return nil, fmt.Errorf("%w: limit %d", ErrTooManySessions, limit)
	}
	r.sessions[s.id] = s
	r.mu.Unlock()

	activeSessions.Inc()
	sessionsTotal.WithLabelValues("opened").Inc()
	r.opts.Lifecycle.Ensure(ctx, s.projectID)

	files, folders := tree.Count(s.nodes)
	s.logger.Info("session opened",
		slog.String("repo_url", repoURL),
		slog.Int("files", files),
		slog.Int("folders", folders),
	)
	return s, nil
}

func (r *Registry) checkCapacity() error {
	limit := r.opts.MaxSessions
	if limit <= 0 {
		return nil
	}
	r.mu.RLock()
	n := len(r.sessions)
	r.mu.RUnlock()
	if n >= limit {
		return fmt.Errorf("%w: limit %d", ErrTooManySessions, limit)
	}
	return nil
}

// Get returns an open session and marks it used.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.touch(r.opts.Now())
	return s, nil
}

// Close disposes one session.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.dispose(s, "closed")
	return nil
}

func (r *Registry) dispose(s *Session, event string) {
	s.Close()
	activeSessions.Dec()
	sessionsTotal.WithLabelValues(event).Inc()

	// The last session of a project drops its parse record so reopening
	// the project indexes it again.
	if !r.hasProject(s.projectID) {
		r.opts.Lifecycle.Forget(s.projectID)
	}
}

func (r *Registry) hasProject(projectID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.projectID == projectID {
			return true
		}
	}
	return false
}

// List returns summaries of every open session, oldest first.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	out := make([]Summary, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Summary())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Reap disposes sessions idle for longer than IdleTTL and returns how many.
func (r *Registry) Reap() int {
	ttl := r.opts.IdleTTL
	if ttl <= 0 {
		return 0
	}
	cutoff := r.opts.Now().Add(-ttl)

	r.mu.Lock()
	var idle []*Session
	for id, s := range r.sessions {
		if s.LastUsed().Before(cutoff) {
			idle = append(idle, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		r.logger.Info("reaping idle session",
			slog.String("session_id", s.id),
			slog.Time("last_used", s.LastUsed()),
		)
		r.dispose(s, "reaped")
	}
	return len(idle)
}

// RunReaper calls Reap every interval until ctx is done.
func (r *Registry) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 || r.opts.IdleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reap()
		}
	}
}

// Lifecycle returns the shared indexing lifecycle.
func (r *Registry) Lifecycle() *indexing.Lifecycle { return r.opts.Lifecycle }

// Shutdown disposes every session and, when the registry created it,
// stops the indexing lifecycle.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range all {
		r.dispose(s, "shutdown")
	}
	if r.ownLifecycle {
		r.opts.Lifecycle.Close()
	}
}
