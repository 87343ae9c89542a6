// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tree

import (
	"sync"

	"github.com/AleutianAI/codenav/services/codenav/identity"
)

// ExpansionState records which folders are open.
//
// Description:
//
//	Folders never toggled are open, so a freshly loaded tree is browsable
//	without any interaction. The state is keyed by normalized folder path
//	and is independent of file selection.
//
// Thread Safety: Safe for concurrent use.
type ExpansionState struct {
	mu   sync.RWMutex
	open map[string]bool
}

// NewExpansionState creates an expansion state with every folder open.
func NewExpansionState() *ExpansionState {
	return &ExpansionState{open: make(map[string]bool)}
}

// IsOpen reports whether the folder at path is open. Defaults to true.
func (s *ExpansionState) IsOpen(folderPath string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	open, ok := s.open[identity.NormalizePath(folderPath)]
	return !ok || open
}

// Toggle flips the folder at path and returns its new state.
func (s *ExpansionState) Toggle(folderPath string) bool {
	key := identity.NormalizePath(folderPath)
	s.mu.Lock()
	defer s.mu.Unlock()
	open, ok := s.open[key]
	next := ok && !open
	s.open[key] = next
	return next
}

// ExpandAll resets every folder to the default (open).
func (s *ExpansionState) ExpandAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = make(map[string]bool)
}

// CollapseAll closes every folder of the given tree.
func (s *ExpansionState) CollapseAll(nodes []Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	Walk(nodes, func(n Node, _ int) bool {
		if n.IsFolder() {
			s.open[n.Path] = false
		}
		return true
	})
}

// RevealPath opens every ancestor folder of path so the entry is visible.
func (s *ExpansionState) RevealPath(path string) {
	path = identity.NormalizePath(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < len(path); i++ {
		if path[i] == '/' && i > 0 {
			s.open[path[:i]] = true
		}
	}
}

// Row is one visible line of the rendered tree.
type Row struct {
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	Path     string `json:"path"`
	Language string `json:"language,omitempty"`
	Depth    int    `json:"depth"`
	Open     bool   `json:"open,omitempty"`
}

// Visible flattens the tree into the rows a recursive renderer would show:
// children of closed folders are omitted.
func Visible(nodes []Node, state *ExpansionState) []Row {
	rows := make([]Row, 0)
	Walk(nodes, func(n Node, depth int) bool {
		row := Row{Name: n.Name, Kind: n.Kind, Path: n.Path, Language: n.Language, Depth: depth}
		open := true
		if n.IsFolder() {
			if state != nil {
				open = state.IsOpen(n.Path)
			}
			row.Open = open
		}
		rows = append(rows, row)
		return open
	})
	return rows
}
