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
	"github.com/AleutianAI/codenav/services/codenav/identity"
)

// =============================================================================
// Wire Types
// =============================================================================

type ingestRequest struct {
	URL string `json:"url"`
}

// errorBody is the FastAPI-style error payload: {"detail": "..."}.
type errorBody struct {
	Detail string `json:"detail"`
}

type fileContentResponse struct {
	Content string `json:"content"`
}

// wireDependencyRef is the backend's graph node shape for a caller or callee.
type wireDependencyRef struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Label    string `json:"label"`
	FilePath string `json:"file_path"`
	Lineno   int    `json:"lineno"`
}

type wireDependencies struct {
	Callers []wireDependencyRef `json:"callers"`
	Callees []wireDependencyRef `json:"callees"`
}

// =============================================================================
// Domain Types
// =============================================================================

// TreeEntry is one node of the file tree as delivered by the ingest call.
//
// Path may be absolute and may use backslashes; the tree package normalizes
// it into a project-relative FileTreeNode.
type TreeEntry struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Type     string      `json:"type"`
	Language string      `json:"language,omitempty"`
	Children []TreeEntry `json:"children,omitempty"`
}

// IngestResult is the outcome of a successful ingest.
type IngestResult struct {
	ProjectID string      `json:"project_id"`
	FileTree  []TreeEntry `json:"file_tree"`
	Message   string      `json:"message,omitempty"`
}

// ParseAck acknowledges a parse trigger.
type ParseAck struct {
	Status      string `json:"status"`
	ParsedFiles int    `json:"parsed_files"`
	Errors      int    `json:"errors"`
}

// Import is one import statement of a file.
type Import struct {
	Module     string `json:"module"`
	Alias      string `json:"alias,omitempty"`
	FromModule string `json:"from_module,omitempty"`
	Lineno     int    `json:"lineno"`
}

// Method is a function defined inside a class.
type Method struct {
	Name   string `json:"name"`
	Lineno int    `json:"lineno"`
}

// Class is a class definition with its methods.
type Class struct {
	Name      string   `json:"name"`
	Lineno    int      `json:"lineno"`
	EndLineno int      `json:"end_lineno,omitempty"`
	Methods   []Method `json:"methods,omitempty"`
	Bases     []string `json:"bases,omitempty"`
}

// Function is a top-level function definition.
type Function struct {
	Name     string `json:"name"`
	FullName string `json:"full_name,omitempty"`
	Lineno   int    `json:"lineno"`
}

// FileMetadata is the per-file symbol metadata extracted by the backend.
type FileMetadata struct {
	FilePath     string     `json:"file_path,omitempty"`
	RelativePath string     `json:"relative_path,omitempty"`
	Classes      []Class    `json:"classes"`
	Functions    []Function `json:"functions"`
	Imports      []Import   `json:"imports"`
}

// DependencyRef points at one caller or callee of a symbol.
type DependencyRef struct {
	Identity     identity.ID `json:"identity"`
	DisplayLabel string      `json:"display_label"`
	FilePath     string      `json:"file_path"`
	LineNumber   int         `json:"line_number"`
}

// EdgeSet holds the callers and callees of one symbol.
//
// Immutable once returned; the dependency cache shares one EdgeSet between
// every subscriber of an identity.
type EdgeSet struct {
	Callers []DependencyRef `json:"callers"`
	Callees []DependencyRef `json:"callees"`
}

// toDependencyRef converts the wire node into a DependencyRef.
//
// The label falls back to the last component of the qualified name
// ("Foo.bar" -> "bar") the way the backend derives it for function nodes.
func (w wireDependencyRef) toDependencyRef() DependencyRef {
	id := identity.ID(w.ID)
	if parsed, err := identity.Parse(w.ID); err == nil {
		id = parsed
	}
	label := w.Label
	if label == "" {
		label = lastDotted(id.Symbol())
	}
	filePath := identity.NormalizePath(w.FilePath)
	if filePath == "" {
		filePath = id.FilePath()
	}
	return DependencyRef{
		Identity:     id,
		DisplayLabel: label,
		FilePath:     filePath,
		LineNumber:   w.Lineno,
	}
}

func toEdgeSet(w *wireDependencies) *EdgeSet {
	out := &EdgeSet{
		Callers: make([]DependencyRef, 0, len(w.Callers)),
		Callees: make([]DependencyRef, 0, len(w.Callees)),
	}
	for _, c := range w.Callers {
		out.Callers = append(out.Callers, c.toDependencyRef())
	}
	for _, c := range w.Callees {
		out.Callees = append(out.Callees, c.toDependencyRef())
	}
	return out
}

func lastDotted(s string) string {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return s[i+1:]
		}
	}
	return s
}
