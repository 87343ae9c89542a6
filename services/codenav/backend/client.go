// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backend is the REST client of the external static-analysis
// service that ingests repositories and serves file trees, file contents,
// per-file symbol metadata, and caller/callee edges.
//
// The navigation core consumes the backend only through the small
// interfaces declared next to each consumer (depcache.Fetcher,
// viewer.ContentFetcher, structure.MetadataFetcher, indexing.Trigger);
// *Client satisfies all of them.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/codenav/services/codenav/identity"
)

const (
	// DefaultBaseURL is where the analysis backend listens by default.
	DefaultBaseURL = "http://127.0.0.1:8000"

	// DefaultTimeout bounds a single backend call.
	DefaultTimeout = 30 * time.Second

	// maxErrorBody caps how much of an error body is read for the detail text.
	maxErrorBody = 4096
)

// Options configures a Client.
type Options struct {
	// BaseURL of the backend, e.g. "http://127.0.0.1:8000".
	BaseURL string

	// Timeout per HTTP call. Zero uses DefaultTimeout.
	Timeout time.Duration

	// RatePerSecond limits outgoing calls. Zero or negative disables limiting.
	RatePerSecond float64

	// Burst is the limiter burst size. Values below 1 become 1.
	Burst int

	// HTTPClient overrides the transport (tests). Timeout is ignored when set.
	HTTPClient *http.Client

	// Logger for request diagnostics. Nil uses slog.Default().
	Logger *slog.Logger
}

// Client talks to the analysis backend over REST/JSON.
//
// Description:
//
//	Every call is rate-limited, traced with an OTel span named
//	"backend.<op>", and recorded in Prometheus. Failures are returned as
//	*Error values that match ErrTransport, ErrNotFound or ErrIngest.
//
// Thread Safety: Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a backend client.
//
// Inputs:
//
//	opts - Client options. An empty BaseURL uses DefaultBaseURL.
//
// Outputs:
//
//	*Client - Ready-to-use client. Never nil.
func NewClient(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}
}

// BaseURL returns the configured backend address.
func (c *Client) BaseURL() string { return c.baseURL }

// Ingest asks the backend to clone and scan a repository.
//
// Description:
//
//	POST /api/ingest {"url": repoURL}. A 4xx answer is an ingest failure
//	(invalid or unreachable repository); the backend's "detail" text is kept.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	repoURL - Remote repository URL.
//
// Outputs:
//
//	*IngestResult - Project id and raw file tree.
//	error - *Error matching ErrIngest or ErrTransport.
func (c *Client) Ingest(ctx context.Context, repoURL string) (*IngestResult, error) {
	const op = "ingest"
	body, err := json.Marshal(ingestRequest{URL: repoURL})
	if err != nil {
		return nil, &Error{Op: op, Kind: KindIngest, Err: err}
	}

	var out IngestResult
	found, err := c.do(ctx, op, http.MethodPost, "/api/ingest", nil, body, &out,
		attribute.String("repo_url", repoURL))
	if err != nil {
		return nil, err
	}
	if !found || out.ProjectID == "" {
		return nil, &Error{Op: op, Kind: KindIngest, Detail: "backend returned no project id"}
	}
	return &out, nil
}

// GetFileContent returns the raw text of a project file.
//
// Outputs:
//
//	string - File content.
//	error - *Error matching ErrNotFound when the file or project is unknown,
//	        ErrTransport otherwise.
func (c *Client) GetFileContent(ctx context.Context, projectID, path string) (string, error) {
	const op = "file_content"
	q := url.Values{"path": []string{path}}
	var out fileContentResponse
	found, err := c.do(ctx, op, http.MethodGet, projectPath(projectID, "file"), q, nil, &out,
		attribute.String("project_id", projectID), attribute.String("path", path))
	if err != nil {
		return "", err
	}
	if !found {
		return "", &Error{Op: op, Kind: KindNotFound, Detail: path}
	}
	return out.Content, nil
}

// ParseProject triggers background indexing of a project.
//
// The backend treats the call as idempotent; callers still keep at most one
// outstanding call per project id (see the indexing package).
func (c *Client) ParseProject(ctx context.Context, projectID string) (*ParseAck, error) {
	const op = "parse"
	var out ParseAck
	found, err := c.do(ctx, op, http.MethodPost, projectPath(projectID, "parse"), nil, nil, &out,
		attribute.String("project_id", projectID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &Error{Op: op, Kind: KindNotFound, Detail: projectID}
	}
	return &out, nil
}

// GetMetadata returns the symbol metadata of a file.
//
// Description:
//
//	A 404 answer or a JSON null body means the file has no extractable
//	symbols (non-source file, not indexed yet). That is a valid outcome and
//	is returned as (nil, nil).
//
// Outputs:
//
//	*FileMetadata - Metadata, or nil when absent.
//	error - *Error matching ErrTransport on network/server failure.
func (c *Client) GetMetadata(ctx context.Context, projectID, path string) (*FileMetadata, error) {
	const op = "metadata"
	q := url.Values{"path": []string{path}}
	var out *FileMetadata
	found, err := c.do(ctx, op, http.MethodGet, projectPath(projectID, "metadata"), q, nil, &out,
		attribute.String("project_id", projectID), attribute.String("path", path))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return out, nil
}

// GetDependencies returns the callers and callees of one node identity.
//
// Outputs:
//
//	*EdgeSet - Callers and callees; never nil on success.
//	error - *Error matching ErrNotFound when the identity is unknown to the
//	        backend index (404 or null body), ErrTransport otherwise.
func (c *Client) GetDependencies(ctx context.Context, projectID string, id identity.ID) (*EdgeSet, error) {
	const op = "dependencies"
	q := url.Values{"node_id": []string{id.String()}}
	var out *wireDependencies
	found, err := c.do(ctx, op, http.MethodGet, projectPath(projectID, "dependencies"), q, nil, &out,
		attribute.String("project_id", projectID), attribute.String("node_id", id.String()))
	if err != nil {
		return nil, err
	}
	if !found || out == nil {
		return nil, &Error{Op: op, Kind: KindNotFound, Detail: id.String()}
	}
	return toEdgeSet(out), nil
}

// do performs one JSON request.
//
// Returns found=false for 404 answers and JSON null bodies so each operation
// decides whether absence is an error.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body []byte, out any, attrs ...attribute.KeyValue) (found bool, err error) {
	ctx, span := otel.Tracer(backendTracerName).Start(ctx, "backend."+op)
	defer span.End()
	span.SetAttributes(attrs...)
	span.SetAttributes(attribute.String("http.method", method))

	start := time.Now()
	defer func() {
		recordCallMetrics(op, time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, op+" failed")
		}
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return false, &Error{Op: op, Kind: KindTransport, Detail: "rate limiter", Err: err}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return false, &Error{Op: op, Kind: KindTransport, Detail: "creating request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("backend request",
		slog.String("op", op),
		slog.String("method", method),
		slog.String("url", target),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, &Error{Op: op, Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return false, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && op == "ingest":
		return false, &Error{Op: op, Status: resp.StatusCode, Kind: KindIngest, Detail: readDetail(resp.Body)}
	case resp.StatusCode >= 300:
		return false, &Error{Op: op, Status: resp.StatusCode, Kind: KindTransport, Detail: readDetail(resp.Body)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, &Error{Op: op, Status: resp.StatusCode, Kind: KindTransport, Detail: "reading body", Err: err}
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return false, nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return false, &Error{Op: op, Status: resp.StatusCode, Kind: KindTransport, Detail: "decoding body", Err: err}
	}
	return true, nil
}

// readDetail extracts the "detail" field of an error body, or the raw text.
func readDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil && eb.Detail != "" {
		return eb.Detail
	}
	return strings.TrimSpace(string(raw))
}

func projectPath(projectID, leaf string) string {
	return fmt.Sprintf("/api/project/%s/%s", url.PathEscape(projectID), leaf)
}
