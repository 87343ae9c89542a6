// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package indexing triggers the backend's one-shot parse job per project.
//
// # State Machine
//
//	Idle -> Running -> Succeeded
//	                -> Failed
//
// A job is started at most once per project id. Failure is recorded and
// reported but never blocks browsing: the file tree and file content do not
// depend on it.
package indexing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/codenav/services/codenav/backend"
)

// DefaultTimeout bounds one parse job.
const DefaultTimeout = 5 * time.Minute

// ErrUnknownProject is returned by Wait for a project that was never ensured.
var ErrUnknownProject = errors.New("no indexing job for project")

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codenav",
		Subsystem: "indexing",
		Name:      "jobs_total",
		Help:      "Parse jobs by result",
	}, []string{"result"})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "codenav",
		Subsystem: "indexing",
		Name:      "job_duration_seconds",
		Help:      "Duration of parse jobs",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)

// State is the lifecycle state of a parse job.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Done reports whether the job has finished.
func (s State) Done() bool { return s == StateSucceeded || s == StateFailed }

// Trigger starts the backend parse of a project.
//
// *backend.Client satisfies this interface.
type Trigger interface {
	ParseProject(ctx context.Context, projectID string) (*backend.ParseAck, error)
}

// Job is a snapshot of one project's parse job.
type Job struct {
	ProjectID   string     `json:"project_id"`
	State       State      `json:"state"`
	ParsedFiles int        `json:"parsed_files,omitempty"`
	Errors      int        `json:"errors,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

type job struct {
	snap Job
	done chan struct{}
}

// Lifecycle tracks parse jobs by project id.
//
// Thread Safety: Safe for concurrent use.
type Lifecycle struct {
	trigger Trigger
	timeout time.Duration
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	jobs map[string]*job
}

// NewLifecycle creates a lifecycle. A zero timeout uses DefaultTimeout.
func NewLifecycle(trigger Trigger, timeout time.Duration, logger *slog.Logger) *Lifecycle {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Lifecycle{
		trigger: trigger,
		timeout: timeout,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*job),
	}
}

// Ensure starts the parse job of projectID unless one already exists.
//
// Description:
//
//	The first call moves the project from Idle to Running and triggers the
//	parse in the background. Every later call, including calls after the
//	job failed, returns the existing job unchanged.
//
// Inputs:
//
//	ctx - Carries the trace of the caller. Cancelling it does not stop the job.
//	projectID - Backend project id.
//
// Outputs:
//
//	Job - Snapshot after the call.
func (l *Lifecycle) Ensure(ctx context.Context, projectID string) Job {
	l.mu.Lock()
	if j, ok := l.jobs[projectID]; ok {
		snap := j.snap
		l.mu.Unlock()
		return snap
	}
	j := &job{
		snap: Job{ProjectID: projectID, State: StateRunning, StartedAt: time.Now()},
		done: make(chan struct{}),
	}
	l.jobs[projectID] = j
	snap := j.snap
	l.wg.Add(1)
	l.mu.Unlock()

	l.logger.Info("indexing started", slog.String("project_id", projectID))
	go l.run(trace.SpanContextFromContext(ctx), projectID, j)
	return snap
}

func (l *Lifecycle) run(parent trace.SpanContext, projectID string, j *job) {
	defer l.wg.Done()

	ctx, cancel := context.WithTimeout(l.ctx, l.timeout)
	defer cancel()
	if parent.IsValid() {
		ctx = trace.ContextWithSpanContext(ctx, parent)
	}
	ctx, span := otel.Tracer("codenav.indexing").Start(ctx, "indexing.parse")
	defer span.End()
	span.SetAttributes(attribute.String("project_id", projectID))

	start := time.Now()
	ack, err := l.safeParse(ctx, projectID)
	finished := time.Now()
	jobDuration.Observe(finished.Sub(start).Seconds())

	l.mu.Lock()
	j.snap.FinishedAt = &finished
	if err != nil {
		j.snap.State = StateFailed
		j.snap.Error = err.Error()
	} else {
		j.snap.State = StateSucceeded
		if ack != nil {
			j.snap.ParsedFiles = ack.ParsedFiles
			j.snap.Errors = ack.Errors
		}
	}
	snap := j.snap
	l.mu.Unlock()
	close(j.done)

	jobsTotal.WithLabelValues(string(snap.State)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		l.logger.Warn("indexing failed",
			slog.String("project_id", projectID),
			slog.String("error", err.Error()),
		)
		return
	}
	span.SetAttributes(attribute.Int("parsed_files", snap.ParsedFiles))
	l.logger.Info("indexing finished",
		slog.String("project_id", projectID),
		slog.Int("parsed_files", snap.ParsedFiles),
		slog.Int("errors", snap.Errors),
		slog.Duration("duration", finished.Sub(start)),
	)
}

func (l *Lifecycle) safeParse(ctx context.Context, projectID string) (ack *backend.ParseAck, err error) {
	defer func() {
		if r := recover(); r != nil {
			ack, err = nil, fmt.Errorf("parse trigger panicked: %v", r)
		}
	}()
	return l.trigger.ParseProject(ctx, projectID)
}

// Status returns the job of projectID, or an Idle job when none was started.
func (l *Lifecycle) Status(projectID string) Job {
	l.mu.Lock()
	defer l.mu.Unlock()
	if j, ok := l.jobs[projectID]; ok {
		return j.snap
	}
	return Job{ProjectID: projectID, State: StateIdle}
}

// Wait blocks until the job of projectID finishes or ctx is done.
func (l *Lifecycle) Wait(ctx context.Context, projectID string) (Job, error) {
	l.mu.Lock()
	j, ok := l.jobs[projectID]
	l.mu.Unlock()
	if !ok {
		return Job{ProjectID: projectID, State: StateIdle}, fmt.Errorf("%w: %s", ErrUnknownProject, projectID)
	}
	select {
	case <-j.done:
		return l.Status(projectID), nil
	case <-ctx.Done():
		return l.Status(projectID), ctx.Err()
	}
}

// Forget drops the record of projectID so a later Ensure triggers again.
// Running jobs are left to finish.
func (l *Lifecycle) Forget(projectID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if j, ok := l.jobs[projectID]; ok && j.snap.State.Done() {
		delete(l.jobs, projectID)
	}
}

// Close cancels running jobs and waits for them to finish.
func (l *Lifecycle) Close() {
	l.cancel()
	l.wg.Wait()
}
