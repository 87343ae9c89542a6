// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package depcache is the session-scoped, node-keyed cache of lazily
// fetched caller/callee edge sets.
//
// # State Machine
//
// Each identity moves through:
//
//	NotRequested -> Pending -> Ready(EdgeSet)
//	                        -> Failed(reason) -> (Retry) -> Pending
//
// Entries are created on the first request and never evicted while the
// cache is open. Ready entries never change again.
//
// # Concurrency
//
// At most one fetch is outstanding per identity. The goroutine that moved an
// entry to Pending is its single writer; any number of callers may hold the
// entry's Future and wait on it. Fetches run under the cache's own lifetime
// context (plus a per-fetch timeout) rather than the requester's, so one
// caller giving up never fails the fetch for the others, and a hung
// transport still settles the entry as Failed.
package depcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/codenav/services/codenav/backend"
	"github.com/AleutianAI/codenav/services/codenav/identity"
)

const (
	// DefaultFetchTimeout bounds one dependency fetch.
	DefaultFetchTimeout = 15 * time.Second

	// DefaultPrefetchConcurrency bounds parallel fetches started by Prefetch.
	DefaultPrefetchConcurrency = 4

	cacheTracerName = "codenav.depcache"
)

var (
	// ErrClosed is the failure reason of entries whose fetch was cut short
	// by Close, and of requests made after Close.
	ErrClosed = errors.New("dependency cache closed")

	// ErrFetchPanic wraps a panic raised by the fetcher.
	ErrFetchPanic = errors.New("dependency fetch panicked")
)

// State is the lifecycle state of one cache entry.
type State int

const (
	StateNotRequested State = iota
	StatePending
	StateReady
	StateFailed
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "not_requested"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Fetcher looks up the edges of one identity in the backend.
//
// *backend.Client satisfies this interface.
type Fetcher interface {
	GetDependencies(ctx context.Context, projectID string, id identity.ID) (*backend.EdgeSet, error)
}

// Result is a snapshot of one entry.
type Result struct {
	ID    identity.ID
	State State
	Edges *backend.EdgeSet
	Err   error
}

// Settled reports whether the result is final (Ready or Failed).
func (r Result) Settled() bool {
	return r.State == StateReady || r.State == StateFailed
}

// Future is the subscribe-able handle of one fetch.
//
// Thread Safety: Safe for concurrent use by any number of waiters.
type Future struct {
	id     identity.ID
	done   chan struct{}
	result Result
}

func newFuture(id identity.ID) *Future {
	return &Future{id: id, done: make(chan struct{}), result: Result{ID: id, State: StatePending}}
}

func settledFuture(r Result) *Future {
	f := &Future{id: r.ID, done: make(chan struct{}), result: r}
	close(f.done)
	return f
}

// ID returns the identity the future resolves.
func (f *Future) ID() identity.ID { return f.id }

// Done is closed once the entry is Ready or Failed.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result returns the settled result, or a Pending result while in flight.
func (f *Future) Result() Result {
	select {
	case <-f.done:
		return f.result
	default:
		return Result{ID: f.id, State: StatePending}
	}
}

// Wait blocks until the entry settles or ctx is done.
//
// A cancelled ctx only abandons this waiter; the fetch itself continues.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return Result{ID: f.id, State: StatePending}, ctx.Err()
	}
}

// entry is guarded by Cache.mu.
type entry struct {
	state  State
	future *Future
	edges  *backend.EdgeSet
	err    error
}

// Options configures a Cache.
type Options struct {
	// FetchTimeout bounds a single fetch. Zero uses DefaultFetchTimeout.
	FetchTimeout time.Duration

	// PrefetchConcurrency bounds Prefetch. Zero uses DefaultPrefetchConcurrency.
	PrefetchConcurrency int

	// Logger for diagnostics. Nil uses slog.Default().
	Logger *slog.Logger
}

// Cache is a per-session map from identity to dependency edges.
//
// Thread Safety: Safe for concurrent use.
type Cache struct {
	projectID string
	fetcher   Fetcher
	opts      Options
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[identity.ID]*entry
	closed  bool
	fetches int
}

// New creates a cache for one project.
//
// Description:
//
//	The cache owns a lifetime context that is cancelled by Close. Create one
//	cache per browsing session; never share a cache between sessions.
//
// Inputs:
//
//	projectID - The backend project the identities belong to.
//	fetcher - Dependency lookup. Must not be nil.
//	opts - Optional tuning.
//
// Outputs:
//
//	*Cache - Ready-to-use cache. Never nil.
func New(projectID string, fetcher Fetcher, opts Options) *Cache {
	if fetcher == nil {
		panic("depcache.New: fetcher must not be nil")
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.PrefetchConcurrency <= 0 {
		opts.PrefetchConcurrency = DefaultPrefetchConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		projectID: projectID,
		fetcher:   fetcher,
		opts:      opts,
		logger:    logger.With(slog.String("project_id", projectID)),
		ctx:       ctx,
		cancel:    cancel,
		entries:   make(map[identity.ID]*entry),
	}
}

// Request returns the future of an identity's edges, fetching on first use.
//
// Description:
//
//	Ready or Failed entries return an already-settled future without any
//	network work. A Pending entry returns the in-flight future, so
//	concurrent requests for the same identity share one fetch. A new
//	identity transitions to Pending and starts exactly one fetch.
//
//	Failed entries are not retried here; use Retry for an explicit
//	re-attempt.
//
// Inputs:
//
//	ctx - Used only for tracing the request. Cancelling it does not cancel
//	      the fetch.
//	id - Node identity.
//
// Outputs:
//
//	*Future - Never nil.
//
// Thread Safety: Safe for concurrent use.
func (c *Cache) Request(ctx context.Context, id identity.ID) *Future {
	return c.request(ctx, id, false)
}

// Retry re-attempts a Failed entry. For any other state it behaves like Request.
func (c *Cache) Retry(ctx context.Context, id identity.ID) *Future {
	return c.request(ctx, id, true)
}

func (c *Cache) request(ctx context.Context, id identity.ID, retryFailed bool) *Future {
	id = canonical(id)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		recordRequest(outcomeClosed)
		return settledFuture(Result{ID: id, State: StateFailed, Err: ErrClosed})
	}

	e, ok := c.entries[id]
	if ok {
		switch {
		case e.state == StatePending:
			f := e.future
			c.mu.Unlock()
			recordRequest(outcomeJoined)
			c.logger.Debug("dependency fetch joined", slog.String("identity", id.String()))
			return f
		case e.state == StateFailed && retryFailed:
			// fall through to start a new fetch
		default:
			f := e.future
			c.mu.Unlock()
			recordRequest(outcomeHit)
			return f
		}
	} else {
		e = &entry{}
		c.entries[id] = e
	}

	f := newFuture(id)
	e.state = StatePending
	e.future = f
	e.edges = nil
	e.err = nil
	c.fetches++
	c.wg.Add(1)
	c.mu.Unlock()

	if retryFailed && ok {
		recordRequest(outcomeRetry)
	} else {
		recordRequest(outcomeMiss)
	}
	go c.fetch(ctx, id, f)
	return f
}

// canonical re-normalizes the path half of id so separator variants of
// one symbol share an entry. Unparseable ids are kept as given.
func canonical(id identity.ID) identity.ID {
	if canon, err := identity.Parse(string(id)); err == nil {
		return canon
	}
	return id
}

// fetch runs one backend lookup and settles the entry.
func (c *Cache) fetch(reqCtx context.Context, id identity.ID, f *Future) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.FetchTimeout)
	defer cancel()

	// Link the fetch span to the request's trace without inheriting its
	// cancellation.
	_, span := otel.Tracer(cacheTracerName).Start(
		contextWithSpanOf(ctx, reqCtx), "depcache.fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("project_id", c.projectID),
		attribute.String("identity", id.String()),
	)

	start := time.Now()
	edges, err := c.safeFetch(ctx, id)
	if err == nil && edges == nil {
		err = fmt.Errorf("%w: empty dependency result for %s", backend.ErrNotFound, id)
	}
	if err != nil && c.ctx.Err() != nil {
		err = fmt.Errorf("%w: %v", ErrClosed, err)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dependency fetch failed")
		c.logger.Warn("dependency fetch failed",
			slog.String("identity", id.String()),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
	} else {
		span.SetAttributes(
			attribute.Int("callers", len(edges.Callers)),
			attribute.Int("callees", len(edges.Callees)),
		)
		c.logger.Debug("dependency fetch ready",
			slog.String("identity", id.String()),
			slog.Int("callers", len(edges.Callers)),
			slog.Int("callees", len(edges.Callees)),
		)
	}
	recordFetch(time.Since(start), err)

	c.settle(id, f, edges, err)
}

// safeFetch calls the fetcher, converting a panic into an error.
func (c *Cache) safeFetch(ctx context.Context, id identity.ID) (edges *backend.EdgeSet, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			c.logger.Error("panic in dependency fetch recovered",
				slog.String("identity", id.String()),
				slog.Any("panic", r),
				slog.String("stack", string(buf[:n])),
			)
			edges, err = nil, fmt.Errorf("%w: %v", ErrFetchPanic, r)
		}
	}()
	return c.fetcher.GetDependencies(ctx, c.projectID, id)
}

// settle records the outcome and wakes every waiter of f.
func (c *Cache) settle(id identity.ID, f *Future, edges *backend.EdgeSet, err error) {
	c.mu.Lock()
	e := c.entries[id]
	if err != nil {
		e.state = StateFailed
		e.err = err
		f.result = Result{ID: id, State: StateFailed, Err: err}
	} else {
		e.state = StateReady
		e.edges = edges
		f.result = Result{ID: id, State: StateReady, Edges: edges}
	}
	c.mu.Unlock()
	close(f.done)
}

// Peek returns the current state of an identity without requesting it.
func (c *Cache) Peek(id identity.ID) Result {
	id = canonical(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return Result{ID: id, State: StateNotRequested}
	}
	return Result{ID: id, State: e.state, Edges: e.edges, Err: e.err}
}

// Prefetch requests several identities, running at most
// PrefetchConcurrency fetches at a time, and waits until all settle or ctx
// is done.
//
// Outputs:
//
//	map[identity.ID]Result - Settled results keyed by identity.
//	error - ctx.Err() if waiting was cut short. Fetch failures are reported
//	        in the results, not as an error.
func (c *Cache) Prefetch(ctx context.Context, ids []identity.ID) (map[identity.ID]Result, error) {
	results := make(map[identity.ID]Result, len(ids))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.PrefetchConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			res, err := c.Request(gctx, id).Wait(gctx)
			if err != nil {
				return err
			}
			mu.Lock()
			results[id] = res
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

// Stats summarizes the cache.
type Stats struct {
	Entries      int `json:"entries"`
	Pending      int `json:"pending"`
	Ready        int `json:"ready"`
	Failed       int `json:"failed"`
	FetchesTotal int `json:"fetches_total"`
}

// Stats counts entries per state.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{Entries: len(c.entries), FetchesTotal: c.fetches}
	for _, e := range c.entries {
		switch e.state {
		case StatePending:
			s.Pending++
		case StateReady:
			s.Ready++
		case StateFailed:
			s.Failed++
		}
	}
	return s
}

// Close cancels in-flight fetches and waits for them to settle.
//
// Entries still Pending settle as Failed with ErrClosed. Requests made after
// Close return a settled ErrClosed future. Close is idempotent.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}
