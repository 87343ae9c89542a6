// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package depcache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codenav/services/codenav/backend"
	"github.com/AleutianAI/codenav/services/codenav/identity"
)

// fakeFetcher counts calls per identity and optionally blocks until gate
// is closed.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   map[identity.ID]int
	gate    chan struct{}
	failOn  map[identity.ID]error
	panicOn identity.ID
	total   atomic.Int32
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: make(map[identity.ID]int), failOn: make(map[identity.ID]error)}
}

func (f *fakeFetcher) GetDependencies(ctx context.Context, projectID string, id identity.ID) (*backend.EdgeSet, error) {
	f.mu.Lock()
	f.calls[id]++
	err := f.failOn[id]
	gate := f.gate
	f.mu.Unlock()
	f.total.Add(1)

	if id == f.panicOn && id != "" {
		panic("boom")
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &backend.EdgeSet{
		Callers: []backend.DependencyRef{{Identity: "pkg/mod.py::baz", DisplayLabel: "baz", FilePath: "pkg/mod.py", LineNumber: 42}},
	}, nil
}

func (f *fakeFetcher) callsFor(id identity.ID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeFetcher) setFailure(id identity.ID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failOn, id)
		return
	}
	f.failOn[id] = err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

const fooBar = identity.ID("pkg/mod.py::Foo.bar")

func TestRequest_ConcurrentRequestsShareOneFetch(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.gate = make(chan struct{})
	c := New("p-1", fetcher, Options{Logger: testLogger()})
	defer c.Close()

	const n = 20
	futures := make([]*Future, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			futures[i] = c.Request(context.Background(), fooBar)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, StatePending, c.Peek(fooBar).State)
	close(fetcher.gate)

	for _, f := range futures {
		res, err := f.Wait(waitCtx(t))
		require.NoError(t, err)
		assert.Equal(t, StateReady, res.State)
	}
	assert.Equal(t, 1, fetcher.callsFor(fooBar), "at most one fetch per identity")
}

func TestRequest_ReadyIsServedFromCache(t *testing.T) {
	fetcher := newFakeFetcher()
	c := New("p-1", fetcher, Options{Logger: testLogger()})
	defer c.Close()

	res, err := c.Request(context.Background(), fooBar).Wait(waitCtx(t))
	require.NoError(t, err)
	require.Equal(t, StateReady, res.State)
	require.Len(t, res.Edges.Callers, 1)
	assert.Equal(t, "baz", res.Edges.Callers[0].DisplayLabel)

	again := c.Request(context.Background(), fooBar)
	select {
	case <-again.Done():
	default:
		t.Fatal("ready entry should return a settled future")
	}
	assert.Same(t, res.Edges, again.Result().Edges, "ready entries never change")
	assert.Equal(t, 1, fetcher.callsFor(fooBar))
}

func TestRequest_DistinctIdentitiesFetchIndependently(t *testing.T) {
	fetcher := newFakeFetcher()
	c := New("p-1", fetcher, Options{Logger: testLogger()})
	defer c.Close()

	other := identity.ID("pkg/mod.py::Foo")
	_, err := c.Request(context.Background(), fooBar).Wait(waitCtx(t))
	require.NoError(t, err)
	_, err = c.Request(context.Background(), other).Wait(waitCtx(t))
	require.NoError(t, err)

	assert.Equal(t, 1, fetcher.callsFor(fooBar))
	assert.Equal(t, 1, fetcher.callsFor(other))
	s := c.Stats()
	assert.Equal(t, 2, s.Entries)
	assert.Equal(t, 2, s.Ready)
	assert.Equal(t, 2, s.FetchesTotal)
}

func TestRequest_SeparatorVariantsShareOneEntry(t *testing.T) {
	fetcher := newFakeFetcher()
	c := New("p-1", fetcher, Options{Logger: testLogger()})
	defer c.Close()

	res, err := c.Request(context.Background(), identity.ID(`pkg\mod.py::Foo.bar`)).Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, fooBar, res.ID)

	_, err = c.Request(context.Background(), fooBar).Wait(waitCtx(t))
	require.NoError(t, err)
	_, err = c.Request(context.Background(), identity.ID("./pkg//mod.py::Foo.bar")).Wait(waitCtx(t))
	require.NoError(t, err)

	assert.Equal(t, 1, fetcher.callsFor(fooBar), "fetcher sees the canonical identity")
	assert.Equal(t, StateReady, c.Peek(identity.ID(`pkg\mod.py::Foo.bar`)).State)
	s := c.Stats()
	assert.Equal(t, 1, s.Entries)
	assert.Equal(t, 1, s.FetchesTotal)
}

func TestRequest_TransportFailureSettlesFailed(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.setFailure(fooBar, backend.ErrTransport)
	c := New("p-1", fetcher, Options{Logger: testLogger()})
	defer c.Close()

	res, err := c.Request(context.Background(), fooBar).Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State, "failure never leaves the entry pending")
	assert.ErrorIs(t, res.Err, backend.ErrTransport)

	// A plain request does not re-fetch a failed entry.
	res = c.Request(context.Background(), fooBar).Result()
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 1, fetcher.callsFor(fooBar))
}

func TestRetry_RefetchesFailedEntry(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.setFailure(fooBar, backend.ErrTransport)
	c := New("p-1", fetcher, Options{Logger: testLogger()})
	defer c.Close()

	_, err := c.Request(context.Background(), fooBar).Wait(waitCtx(t))
	require.NoError(t, err)

	fetcher.setFailure(fooBar, nil)
	res, err := c.Retry(context.Background(), fooBar).Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, StateReady, res.State)
	assert.Equal(t, 2, fetcher.callsFor(fooBar))

	// Retrying a ready entry is a cache hit.
	_, err = c.Retry(context.Background(), fooBar).Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.callsFor(fooBar))
}

func TestRequest_StateIsMonotonic(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.gate = make(chan struct{})
	c := New("p-1", fetcher, Options{Logger: testLogger()})
	defer c.Close()

	assert.Equal(t, StateNotRequested, c.Peek(fooBar).State)
	f := c.Request(context.Background(), fooBar)
	assert.Equal(t, StatePending, c.Peek(fooBar).State)
	assert.Equal(t, StatePending, f.Result().State)

	close(fetcher.gate)
	_, err := f.Wait(waitCtx(t))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		c.Request(context.Background(), fooBar)
		assert.Equal(t, StateReady, c.Peek(fooBar).State)
	}
}

func TestFuture_WaiterCancellationDoesNotCancelFetch(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.gate = make(chan struct{})
	c := New("p-1", fetcher, Options{Logger: testLogger()})
	defer c.Close()

	reqCtx, cancel := context.WithCancel(context.Background())
	f := c.Request(reqCtx, fooBar)
	cancel()

	_, err := f.Wait(reqCtx)
	assert.ErrorIs(t, err, context.Canceled)

	close(fetcher.gate)
	res, err := f.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, StateReady, res.State)
}

func TestFetch_TimeoutSettlesFailed(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.gate = make(chan struct{})
	c := New("p-1", fetcher, Options{FetchTimeout: 20 * time.Millisecond, Logger: testLogger()})
	defer c.Close()

	res, err := c.Request(context.Background(), fooBar).Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestFetch_PanicSettlesFailed(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.panicOn = fooBar
	c := New("p-1", fetcher, Options{Logger: testLogger()})
	defer c.Close()

	res, err := c.Request(context.Background(), fooBar).Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.ErrorIs(t, res.Err, ErrFetchPanic)
}

func TestClose_SettlesPendingAsClosed(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.gate = make(chan struct{})
	c := New("p-1", fetcher, Options{Logger: testLogger()})

	f := c.Request(context.Background(), fooBar)
	c.Close()

	res, err := f.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.True(t, errors.Is(res.Err, ErrClosed))

	after := c.Request(context.Background(), "pkg/mod.py::other").Result()
	assert.Equal(t, StateFailed, after.State)
	assert.ErrorIs(t, after.Err, ErrClosed)

	c.Close()
}

func TestPrefetch_BoundedAndComplete(t *testing.T) {
	fetcher := newFakeFetcher()
	c := New("p-1", fetcher, Options{PrefetchConcurrency: 2, Logger: testLogger()})
	defer c.Close()

	ids := []identity.ID{"a.py::f", "a.py::g", "b.py::C", "b.py::C.m", "a.py::f"}
	results, err := c.Prefetch(waitCtx(t), ids)
	require.NoError(t, err)
	assert.Len(t, results, 4)
	for id, r := range results {
		assert.Equal(t, StateReady, r.State, id)
	}
	assert.Equal(t, 1, fetcher.callsFor("a.py::f"))
	assert.EqualValues(t, 4, fetcher.total.Load())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "not_requested", StateNotRequested.String())
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "failed", StateFailed.String())
}
