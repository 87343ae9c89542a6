// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backend

import (
	"errors"
	"fmt"
)

// Sentinel errors for backend operations.
var (
	// ErrTransport is returned when the backend could not be reached or
	// answered with a server-side failure (network error, 5xx, bad JSON).
	ErrTransport = errors.New("backend transport failure")

	// ErrNotFound is returned when the backend does not know the requested
	// file, project, or node identity.
	ErrNotFound = errors.New("backend resource not found")

	// ErrIngest is returned when a repository URL could not be ingested
	// (invalid URL, unreachable repository, clone failure).
	ErrIngest = errors.New("repository ingest failed")
)

// Kind classifies a backend Error.
type Kind int

const (
	// KindTransport covers network and server failures.
	KindTransport Kind = iota

	// KindNotFound covers 404 answers and null bodies.
	KindNotFound

	// KindIngest covers rejected ingest requests.
	KindIngest
)

// String returns the label-safe name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindIngest:
		return "ingest"
	default:
		return "transport"
	}
}

// Error describes a failed backend operation.
//
// Description:
//
//	Carries the logical operation name, the HTTP status (0 when no response
//	was received), the classification, and the underlying cause. Matches the
//	package sentinels through errors.Is, so callers branch on
//	errors.Is(err, backend.ErrNotFound) without inspecting status codes.
type Error struct {
	Op     string
	Status int
	Kind   Kind
	Detail string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("backend: %s", e.Op)
	if e.Status != 0 {
		msg += fmt.Sprintf(" returned %d", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel corresponding to the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrIngest:
		return e.Kind == KindIngest
	}
	return false
}
