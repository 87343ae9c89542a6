// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tree holds the project file hierarchy and its per-folder
// open/closed state.
//
// # Ownership Model
//
// Nodes are built once from the ingest result and never mutated afterwards.
// They are shared read-only by every reader of a session.
//
// # Thread Safety
//
// Node values are immutable. ExpansionState is safe for concurrent use.
package tree

import (
	"sort"
	"strings"

	"github.com/AleutianAI/codenav/services/codenav/backend"
	"github.com/AleutianAI/codenav/services/codenav/identity"
)

// Kind distinguishes files from folders.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// Node is one entry of the file tree.
//
// Path is project-relative and slash-normalized. Language is set for files
// only, inferred from the extension when the backend did not provide one.
// Source is the path exactly as the backend reported it; file content is
// addressed by it.
type Node struct {
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	Path     string `json:"path"`
	Language string `json:"language,omitempty"`
	Children []Node `json:"children,omitempty"`
	Source   string `json:"-"`
}

// IsFolder reports whether the node is a folder.
func (n Node) IsFolder() bool { return n.Kind == KindFolder }

// FileRef returns the displayable reference of a file node.
func (n Node) FileRef() identity.FileRef {
	return identity.FileRef{Name: n.Name, Path: n.Path, Language: n.Language}
}

// FromEntries converts the backend's raw tree into normalized Nodes.
//
// Description:
//
//	The backend reports absolute, OS-specific paths. The project root is
//	derived from the top-level entries (their path minus their name) and
//	stripped from every descendant, then separators are normalized to "/".
//	Entries matched by filter are dropped together with their subtrees.
//	Folders are listed before files, each group ordered case-insensitively.
//
// Inputs:
//
//	entries - Raw tree from backend.IngestResult.FileTree.
//	filter - Hidden-path filter. May be nil.
//
// Outputs:
//
//	[]Node - Normalized tree. Never nil.
func FromEntries(entries []backend.TreeEntry, filter *Filter) []Node {
	root := projectRoot(entries)
	return convert(entries, root, "", filter)
}

func convert(entries []backend.TreeEntry, root, parent string, filter *Filter) []Node {
	out := make([]Node, 0, len(entries))
	for _, e := range entries {
		kind := KindFile
		if e.Type == string(KindFolder) || e.Type == "directory" || len(e.Children) > 0 {
			kind = KindFolder
		}

		path := relativePath(e.Path, root)
		if path == "" {
			path = joinPath(parent, e.Name)
		}
		name := e.Name
		if name == "" {
			name = identity.BaseName(path)
		}

		if filter.Hidden(path, kind == KindFolder) {
			continue
		}

		n := Node{Name: name, Kind: kind, Path: path, Source: e.Path}
		if n.Source == "" {
			n.Source = path
		}
		if kind == KindFolder {
			n.Children = convert(e.Children, root, path, filter)
		} else {
			n.Language = e.Language
			if n.Language == "" {
				n.Language = identity.LanguageForPath(path)
			}
		}
		out = append(out, n)
	}
	sortNodes(out)
	return out
}

// projectRoot infers the directory that contains the top-level entries.
func projectRoot(entries []backend.TreeEntry) string {
	for _, e := range entries {
		p := identity.NormalizePath(e.Path)
		if e.Name == "" || p == e.Name {
			continue
		}
		if strings.HasSuffix(p, "/"+e.Name) {
			return strings.TrimSuffix(p, "/"+e.Name)
		}
	}
	return ""
}

func relativePath(raw, root string) string {
	p := identity.NormalizePath(raw)
	if root != "" {
		if p == root {
			return ""
		}
		p = strings.TrimPrefix(p, root+"/")
	}
	return strings.TrimPrefix(p, "/")
}

func joinPath(parent, name string) string {
	if parent == "" {
		return identity.NormalizePath(name)
	}
	return identity.NormalizePath(parent + "/" + name)
}

func sortNodes(nodes []Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].IsFolder() != nodes[j].IsFolder() {
			return nodes[i].IsFolder()
		}
		return strings.ToLower(nodes[i].Name) < strings.ToLower(nodes[j].Name)
	})
}

// Find returns the node at path, searching the whole tree.
func Find(nodes []Node, path string) (Node, bool) {
	path = identity.NormalizePath(path)
	for _, n := range nodes {
		if n.Path == path {
			return n, true
		}
		if n.IsFolder() && strings.HasPrefix(path, n.Path+"/") {
			if found, ok := Find(n.Children, path); ok {
				return found, true
			}
		}
	}
	return Node{}, false
}

// Walk calls fn for every node in depth-first order. Returning false from
// fn skips the node's children.
func Walk(nodes []Node, fn func(n Node, depth int) bool) {
	walk(nodes, 0, fn)
}

func walk(nodes []Node, depth int, fn func(Node, int) bool) {
	for _, n := range nodes {
		if fn(n, depth) && n.IsFolder() {
			walk(n.Children, depth+1, fn)
		}
	}
}

// Sources maps the relative path of every file to its backend Source path.
func Sources(nodes []Node) map[string]string {
	out := make(map[string]string)
	Walk(nodes, func(n Node, _ int) bool {
		if !n.IsFolder() {
			out[n.Path] = n.Source
		}
		return true
	})
	return out
}

// Count returns the number of files and folders in the tree.
func Count(nodes []Node) (files, folders int) {
	Walk(nodes, func(n Node, _ int) bool {
		if n.IsFolder() {
			folders++
		} else {
			files++
		}
		return true
	})
	return files, folders
}
