// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package selection owns the "what file is shown, and where to scroll"
// state shared by every panel of a session.
//
// Every change is a single transition under one lock, so an observer never
// sees a new file paired with a stale line or the reverse. Each transition
// increments Seq; navigating twice to the same (file, line) therefore still
// produces a new observable state.
package selection

import (
	"context"
	"log/slog"
	"sync"

	"github.com/AleutianAI/codenav/services/codenav/identity"
)

// State is an immutable snapshot of the selection.
type State struct {
	// CurrentFile is nil when no file is selected.
	CurrentFile *identity.FileRef `json:"current_file"`

	// PendingScrollLine is the 1-based line the viewer should reveal, or nil.
	PendingScrollLine *int `json:"pending_scroll_line"`

	// Seq increases by one on every transition.
	Seq uint64 `json:"seq"`
}

// HasFile reports whether a file is selected.
func (s State) HasFile() bool { return s.CurrentFile != nil }

// File returns the selected file, or a zero FileRef.
func (s State) File() identity.FileRef {
	if s.CurrentFile == nil {
		return identity.FileRef{}
	}
	return *s.CurrentFile
}

// Line returns the pending scroll line and whether one is set.
func (s State) Line() (int, bool) {
	if s.PendingScrollLine == nil {
		return 0, false
	}
	return *s.PendingScrollLine, true
}

func (s State) clone() State {
	out := State{Seq: s.Seq}
	if s.CurrentFile != nil {
		f := *s.CurrentFile
		out.CurrentFile = &f
	}
	if s.PendingScrollLine != nil {
		l := *s.PendingScrollLine
		out.PendingScrollLine = &l
	}
	return out
}

// Controller serializes selection transitions and fans them out to watchers.
//
// Thread Safety: Safe for concurrent use.
type Controller struct {
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	watchers map[uint64]chan State
	nextID   uint64
}

// NewController creates a controller with nothing selected.
func NewController(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		logger:   logger,
		watchers: make(map[uint64]chan State),
	}
}

// SelectFile shows ref without any scroll target.
//
// The file and the cleared scroll line are set in one transition.
func (c *Controller) SelectFile(ref identity.FileRef) State {
	f := ref
	return c.transition(func(s *State) {
		s.CurrentFile = &f
		s.PendingScrollLine = nil
	})
}

// NavigateTo shows ref scrolled to line.
//
// Description:
//
//	File and line are replaced together. When several navigations race,
//	the last one to take the lock wins and watchers see only its state.
//
// Inputs:
//
//	ref - File to show.
//	line - 1-based line to reveal.
//
// Outputs:
//
//	State - The state produced by this transition.
func (c *Controller) NavigateTo(ref identity.FileRef, line int) State {
	f, l := ref, line
	st := c.transition(func(s *State) {
		s.CurrentFile = &f
		s.PendingScrollLine = &l
	})
	c.logger.Debug("navigated",
		slog.String("path", ref.Path),
		slog.Int("line", line),
		slog.Uint64("seq", st.Seq),
	)
	return st
}

// ClearScrollTarget acknowledges that the viewer revealed the scroll line of
// transition seq. It is ignored when a newer transition has happened since,
// so a slow acknowledgement can never discard a newer target.
//
// Outputs:
//
//	bool - True when the scroll line was cleared.
func (c *Controller) ClearScrollTarget(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Seq != seq || c.state.PendingScrollLine == nil {
		return false
	}
	c.state.PendingScrollLine = nil
	c.state.Seq++
	c.publishLocked()
	return true
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Watch subscribes to state changes until ctx is done.
//
// Description:
//
//	The returned channel immediately holds the current state. It has a
//	buffer of one and is overwritten on every transition, so a slow reader
//	only ever receives the newest state. The channel is closed after ctx
//	is done.
//
// Inputs:
//
//	ctx - Subscription lifetime.
//
// Outputs:
//
//	<-chan State - Latest-value stream.
func (c *Controller) Watch(ctx context.Context) <-chan State {
	ch := make(chan State, 1)

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = ch
	ch <- c.state.clone()
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.watchers, id)
		close(ch)
		c.mu.Unlock()
	}()
	return ch
}

// Watchers returns the number of active subscriptions.
func (c *Controller) Watchers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.watchers)
}

func (c *Controller) transition(apply func(*State)) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	apply(&c.state)
	c.state.Seq++
	c.publishLocked()
	return c.state.clone()
}

// publishLocked replaces the buffered value of every watcher. Caller holds mu,
// which makes it the only sender.
func (c *Controller) publishLocked() {
	for _, ch := range c.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- c.state.clone()
	}
}
