// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/codenav/services/codenav"
	"github.com/AleutianAI/codenav/services/codenav/session"
	"github.com/AleutianAI/codenav/services/codenav/structure"
	"github.com/AleutianAI/codenav/services/codenav/viewer"
)

// apiError is a non-2xx answer from the codenav server.
type apiError struct {
	Status int
	Code   string
	Msg    string
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s, HTTP %d)", e.Msg, e.Code, e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Msg)
}

// apiClient talks to a codenav server.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(server string, timeout time.Duration) *apiClient {
	return &apiClient{
		base: strings.TrimRight(server, "/") + "/v1/codenav",
		http: &http.Client{Timeout: timeout},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contacting codenav: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var er codenav.ErrorResponse
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			return &apiError{Status: resp.StatusCode, Code: er.Code, Msg: er.Error}
		}
		return &apiError{Status: resp.StatusCode, Msg: strings.TrimSpace(string(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func sessionPath(id string, parts ...string) string {
	p := "/sessions/" + url.PathEscape(id)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func (c *apiClient) Open(ctx context.Context, repoURL string) (codenav.OpenResponse, error) {
	var out codenav.OpenResponse
	err := c.do(ctx, http.MethodPost, "/sessions", codenav.OpenRequest{URL: repoURL}, &out)
	return out, err
}

func (c *apiClient) List(ctx context.Context) (codenav.ListResponse, error) {
	var out codenav.ListResponse
	err := c.do(ctx, http.MethodGet, "/sessions", nil, &out)
	return out, err
}

func (c *apiClient) Close(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(id), nil, nil)
}

func (c *apiClient) Tree(ctx context.Context, id string) (codenav.TreeResponse, error) {
	var out codenav.TreeResponse
	err := c.do(ctx, http.MethodGet, sessionPath(id, "tree"), nil, &out)
	return out, err
}

func (c *apiClient) Toggle(ctx context.Context, id, path string) (codenav.ToggleResponse, error) {
	var out codenav.ToggleResponse
	err := c.do(ctx, http.MethodPost, sessionPath(id, "tree", "toggle"), codenav.PathRequest{Path: path}, &out)
	return out, err
}

func (c *apiClient) Select(ctx context.Context, id, path string) (session.Update, error) {
	var out session.Update
	err := c.do(ctx, http.MethodPost, sessionPath(id, "select"), codenav.PathRequest{Path: path}, &out)
	return out, err
}

func (c *apiClient) NavigateRef(ctx context.Context, id string, req codenav.RefRequest) (session.Update, error) {
	var out session.Update
	err := c.do(ctx, http.MethodPost, sessionPath(id, "navigate", "ref"), req, &out)
	return out, err
}

func (c *apiClient) NavigateSymbol(ctx context.Context, id string, req codenav.SymbolRequest) (session.Update, error) {
	var out session.Update
	err := c.do(ctx, http.MethodPost, sessionPath(id, "navigate", "symbol"), req, &out)
	return out, err
}

func (c *apiClient) Expand(ctx context.Context, id string, req codenav.ExpandRequest) (structure.Expansion, error) {
	var out structure.Expansion
	err := c.do(ctx, http.MethodPost, sessionPath(id, "expand"), req, &out)
	return out, err
}

func (c *apiClient) Structure(ctx context.Context, id string) (structure.Model, error) {
	var out structure.Model
	err := c.do(ctx, http.MethodGet, sessionPath(id, "structure"), nil, &out)
	return out, err
}

func (c *apiClient) Viewer(ctx context.Context, id string) (viewer.View, error) {
	var out viewer.View
	err := c.do(ctx, http.MethodGet, sessionPath(id, "viewer"), nil, &out)
	return out, err
}

func (c *apiClient) Ack(ctx context.Context, id string, seq uint64) (bool, error) {
	var out codenav.AckResponse
	err := c.do(ctx, http.MethodPost, sessionPath(id, "viewer", "ack"), codenav.AckRequest{Seq: seq}, &out)
	return out.Cleared, err
}
