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
	ignore "github.com/sabhiram/go-gitignore"
)

// DefaultHidden lists the gitignore-style patterns hidden from the tree
// when no configuration is given: dot entries and build/cache folders.
var DefaultHidden = []string{
	".*",
	"__pycache__/",
	"node_modules/",
}

// Filter hides tree entries matching gitignore-style patterns.
//
// A nil *Filter hides nothing.
type Filter struct {
	gi *ignore.GitIgnore
}

// NewFilter compiles patterns using gitignore syntax. An empty pattern list
// returns nil (hide nothing).
func NewFilter(patterns []string) *Filter {
	if len(patterns) == 0 {
		return nil
	}
	return &Filter{gi: ignore.CompileIgnoreLines(patterns...)}
}

// Hidden reports whether the project-relative path should be hidden.
// Folder paths are matched with a trailing slash so "dir/" patterns apply.
func (f *Filter) Hidden(path string, folder bool) bool {
	if f == nil || f.gi == nil || path == "" {
		return false
	}
	if folder {
		return f.gi.MatchesPath(path + "/")
	}
	return f.gi.MatchesPath(path)
}
