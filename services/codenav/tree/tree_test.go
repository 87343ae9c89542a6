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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codenav/services/codenav/backend"
)

// sampleEntries mirrors what the backend scanner returns: absolute paths,
// mixed separators, hidden entries, and an unsorted listing.
func sampleEntries() []backend.TreeEntry {
	return []backend.TreeEntry{
		{Name: "README.md", Path: `C:\store\p-1\README.md`, Type: "file", Language: "markdown"},
		{Name: ".git", Path: `C:\store\p-1\.git`, Type: "folder", Children: []backend.TreeEntry{
			{Name: "HEAD", Path: `C:\store\p-1\.git\HEAD`, Type: "file"},
		}},
		{Name: "pkg", Path: `C:\store\p-1\pkg`, Type: "folder", Children: []backend.TreeEntry{
			{Name: "mod.py", Path: `C:\store\p-1\pkg\mod.py`, Type: "file"},
			{Name: "__pycache__", Path: `C:\store\p-1\pkg\__pycache__`, Type: "folder", Children: []backend.TreeEntry{
				{Name: "mod.cpython-312.pyc", Path: `C:\store\p-1\pkg\__pycache__\mod.cpython-312.pyc`, Type: "file"},
			}},
			{Name: "sub", Path: `C:\store\p-1\pkg\sub`, Type: "folder", Children: []backend.TreeEntry{
				{Name: "util.py", Path: `C:\store\p-1\pkg\sub\util.py`, Type: "file", Language: "python"},
			}},
		}},
	}
}

func TestFromEntries_NormalizesAndFilters(t *testing.T) {
	nodes := FromEntries(sampleEntries(), NewFilter(DefaultHidden))

	require.Len(t, nodes, 2, "hidden .git dropped")
	assert.Equal(t, "pkg", nodes[0].Name, "folders first")
	assert.Equal(t, "pkg", nodes[0].Path)
	assert.Equal(t, "README.md", nodes[1].Path)

	pkg := nodes[0]
	require.Len(t, pkg.Children, 2, "__pycache__ dropped")
	assert.Equal(t, "pkg/sub", pkg.Children[0].Path)
	assert.Equal(t, "pkg/mod.py", pkg.Children[1].Path)
	assert.Equal(t, "python", pkg.Children[1].Language, "language inferred from extension")
	assert.Equal(t, "pkg/sub/util.py", pkg.Children[0].Children[0].Path)
}

func TestFromEntries_RelativeInput(t *testing.T) {
	nodes := FromEntries([]backend.TreeEntry{
		{Name: "a", Type: "folder", Children: []backend.TreeEntry{{Name: "b.js", Type: "file"}}},
	}, nil)
	require.Len(t, nodes, 1)
	assert.Equal(t, "a/b.js", nodes[0].Children[0].Path)
	assert.Equal(t, "javascript", nodes[0].Children[0].Language)
}

func TestSources_KeepBackendPaths(t *testing.T) {
	nodes := FromEntries(sampleEntries(), NewFilter(DefaultHidden))
	src := Sources(nodes)

	assert.Equal(t, `C:\store\p-1\pkg\mod.py`, src["pkg/mod.py"])
	assert.Equal(t, `C:\store\p-1\README.md`, src["README.md"])
	assert.NotContains(t, src, "pkg", "folders have no content")
	assert.Len(t, src, 3)

	rel := Sources(FromEntries([]backend.TreeEntry{
		{Name: "a", Type: "folder", Children: []backend.TreeEntry{{Name: "b.js", Type: "file"}}},
	}, nil))
	assert.Equal(t, "a/b.js", rel["a/b.js"], "entries without a path fall back to the relative one")
}

func TestFind(t *testing.T) {
	nodes := FromEntries(sampleEntries(), nil)

	n, ok := Find(nodes, `pkg\sub\util.py`)
	require.True(t, ok)
	assert.Equal(t, "util.py", n.Name)
	assert.Equal(t, "pkg/sub/util.py", n.FileRef().Path)

	_, ok = Find(nodes, "pkg/nope.py")
	assert.False(t, ok)
}

func TestCount(t *testing.T) {
	files, folders := Count(FromEntries(sampleEntries(), NewFilter(DefaultHidden)))
	assert.Equal(t, 3, files)
	assert.Equal(t, 2, folders)
}

func TestFilter_NilHidesNothing(t *testing.T) {
	var f *Filter
	assert.False(t, f.Hidden(".git", true))
	assert.Nil(t, NewFilter(nil))
}

func TestExpansionState_DefaultOpenAndToggle(t *testing.T) {
	s := NewExpansionState()
	assert.True(t, s.IsOpen("pkg"), "never-toggled folders are open")

	assert.False(t, s.Toggle("pkg"))
	assert.False(t, s.IsOpen("pkg"))
	assert.False(t, s.IsOpen(`pkg\`), "keys are normalized")

	assert.True(t, s.Toggle("pkg"))
	assert.True(t, s.IsOpen("pkg"))

	assert.True(t, s.IsOpen("pkg/sub"), "toggling a parent leaves children alone")
}

func TestExpansionState_CollapseRevealExpand(t *testing.T) {
	nodes := FromEntries(sampleEntries(), NewFilter(DefaultHidden))
	s := NewExpansionState()

	s.CollapseAll(nodes)
	assert.False(t, s.IsOpen("pkg"))
	assert.False(t, s.IsOpen("pkg/sub"))

	s.RevealPath("pkg/sub/util.py")
	assert.True(t, s.IsOpen("pkg"))
	assert.True(t, s.IsOpen("pkg/sub"))

	assert.False(t, s.Toggle("pkg"))
	s.ExpandAll()
	assert.True(t, s.IsOpen("pkg"))
}

func TestVisible(t *testing.T) {
	nodes := FromEntries(sampleEntries(), NewFilter(DefaultHidden))
	s := NewExpansionState()

	rows := Visible(nodes, s)
	paths := make([]string, 0, len(rows))
	for _, r := range rows {
		paths = append(paths, r.Path)
	}
	assert.Equal(t, []string{"pkg", "pkg/sub", "pkg/sub/util.py", "pkg/mod.py", "README.md"}, paths)
	assert.Equal(t, 2, rows[2].Depth)

	s.Toggle("pkg/sub")
	rows = Visible(nodes, s)
	require.Len(t, rows, 4)
	assert.Equal(t, "pkg/sub", rows[1].Path)
	assert.False(t, rows[1].Open)
}
