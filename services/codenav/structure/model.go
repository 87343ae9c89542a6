// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package structure builds the symbol panel of the selected file: its
// classes with their methods, global functions, imports, and the lazily
// expanded caller/callee lists of each symbol.
package structure

import (
	"github.com/AleutianAI/codenav/services/codenav/backend"
	"github.com/AleutianAI/codenav/services/codenav/depcache"
	"github.com/AleutianAI/codenav/services/codenav/identity"
)

// Empty-state messages shown instead of symbol rows.
const (
	MessageNoFile    = "Select a python file to view its structure."
	MessageNoSymbols = "No symbols found."
)

// SymbolKind classifies a symbol row.
type SymbolKind string

const (
	KindClass    SymbolKind = "class"
	KindFunction SymbolKind = "function"
	KindMethod   SymbolKind = "method"
)

// Symbol is one navigable row of the panel.
type Symbol struct {
	Kind        SymbolKind  `json:"kind"`
	Name        string      `json:"name"`
	Line        int         `json:"line"`
	ParentClass string      `json:"parent_class,omitempty"`
	Identity    identity.ID `json:"identity"`
}

// ClassRow is a class and its methods.
type ClassRow struct {
	Symbol
	Methods []Symbol `json:"methods"`
}

// Status is the overall state of the panel.
type Status string

const (
	// StatusIdle means no file is selected.
	StatusIdle Status = "idle"

	// StatusLoading means metadata for the selected file is in flight.
	StatusLoading Status = "loading"

	// StatusNoMetadata means the backend has no metadata for the file
	// (a non-source file, or a degraded metadata fetch).
	StatusNoMetadata Status = "no_metadata"

	// StatusNoSymbols means metadata exists but lists no classes or functions.
	StatusNoSymbols Status = "no_symbols"

	// StatusReady means rows are available.
	StatusReady Status = "ready"
)

// Model is what the panel renders.
type Model struct {
	Status    Status           `json:"status"`
	File      identity.FileRef `json:"file"`
	Message   string           `json:"message,omitempty"`
	Classes   []ClassRow       `json:"classes"`
	Functions []Symbol         `json:"functions"`
	Imports   []string         `json:"imports"`

	// Degraded holds the reason metadata could not be loaded. The panel
	// still renders its empty state.
	Degraded string `json:"degraded,omitempty"`

	// Indexing is the state of the project's background parse job, filled
	// in by the session when the model is served.
	Indexing string `json:"indexing,omitempty"`
}

// HasSymbols reports whether the model has any class or function row.
func (m Model) HasSymbols() bool {
	return len(m.Classes) > 0 || len(m.Functions) > 0
}

// Symbols flattens the model into rows in display order: each class followed
// by its methods, then the global functions.
func (m Model) Symbols() []Symbol {
	out := make([]Symbol, 0, len(m.Classes)+len(m.Functions))
	for _, c := range m.Classes {
		out = append(out, c.Symbol)
		out = append(out, c.Methods...)
	}
	return append(out, m.Functions...)
}

// Idle returns the model shown when no file is selected.
func Idle() Model {
	return Model{Status: StatusIdle, Message: MessageNoFile, Classes: []ClassRow{}, Functions: []Symbol{}, Imports: []string{}}
}

// Build converts backend metadata into the panel model for file.
//
// Description:
//
//	A nil meta yields the no-metadata empty state; this is a normal outcome
//	for non-source files, not an error. Identities are built from the
//	metadata's relative path, falling back to file.Path.
//
// Inputs:
//
//	file - The selected file.
//	meta - Metadata returned by the backend. May be nil.
//
// Outputs:
//
//	Model - Never has nil slices.
func Build(file identity.FileRef, meta *backend.FileMetadata) Model {
	m := Idle()
	m.File = file
	if meta == nil {
		m.Status = StatusNoMetadata
		return m
	}

	path := identity.NormalizePath(meta.RelativePath)
	if path == "" {
		path = file.Path
	}

	for _, c := range meta.Classes {
		row := ClassRow{
			Symbol: Symbol{
				Kind:     KindClass,
				Name:     c.Name,
				Line:     c.Lineno,
				Identity: identity.Build(path, c.Name, ""),
			},
			Methods: make([]Symbol, 0, len(c.Methods)),
		}
		for _, meth := range c.Methods {
			row.Methods = append(row.Methods, Symbol{
				Kind:        KindMethod,
				Name:        meth.Name,
				Line:        meth.Lineno,
				ParentClass: c.Name,
				Identity:    identity.Build(path, c.Name, meth.Name),
			})
		}
		m.Classes = append(m.Classes, row)
	}
	for _, f := range meta.Functions {
		m.Functions = append(m.Functions, Symbol{
			Kind:     KindFunction,
			Name:     f.Name,
			Line:     f.Lineno,
			Identity: identity.Build(path, "", f.Name),
		})
	}
	for _, imp := range meta.Imports {
		m.Imports = append(m.Imports, ImportLine(imp))
	}

	if m.HasSymbols() {
		m.Status = StatusReady
		m.Message = ""
	} else {
		m.Status = StatusNoSymbols
		m.Message = MessageNoSymbols
	}
	return m
}

// ImportLine renders an import the way it appears in Python source.
//
//	{FromModule: "os", Module: "path"}  -> "from os import path"
//	{Module: "sys"}                      -> "import sys"
func ImportLine(imp backend.Import) string {
	if imp.FromModule != "" {
		name := imp.Alias
		if name == "" {
			name = imp.Module
		}
		return "from " + imp.FromModule + " import " + name
	}
	return "import " + imp.Module
}

// ExpansionStatus is the state of a symbol's caller/callee list.
type ExpansionStatus string

const (
	ExpansionLoading ExpansionStatus = "loading"
	ExpansionReady   ExpansionStatus = "ready"
	ExpansionError   ExpansionStatus = "error"
)

// Expansion is the rendered caller/callee list of one symbol.
type Expansion struct {
	Identity identity.ID             `json:"identity"`
	Status   ExpansionStatus         `json:"status"`
	Callers  []backend.DependencyRef `json:"callers"`
	Callees  []backend.DependencyRef `json:"callees"`
	Error    string                  `json:"error,omitempty"`
}

// ExpansionFromResult maps a dependency cache result onto the rows the
// panel shows under an expanded symbol.
func ExpansionFromResult(res depcache.Result) Expansion {
	e := Expansion{
		Identity: res.ID,
		Status:   ExpansionLoading,
		Callers:  []backend.DependencyRef{},
		Callees:  []backend.DependencyRef{},
	}
	switch res.State {
	case depcache.StateReady:
		e.Status = ExpansionReady
		if res.Edges != nil {
			e.Callers = append(e.Callers, res.Edges.Callers...)
			e.Callees = append(e.Callees, res.Edges.Callees...)
		}
	case depcache.StateFailed:
		e.Status = ExpansionError
		if res.Err != nil {
			e.Error = res.Err.Error()
		}
	}
	return e
}
