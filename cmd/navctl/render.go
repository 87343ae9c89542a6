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
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	lgtree "github.com/charmbracelet/lipgloss/tree"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/codenav/services/codenav/backend"
	"github.com/AleutianAI/codenav/services/codenav/structure"
	"github.com/AleutianAI/codenav/services/codenav/tree"
	"github.com/AleutianAI/codenav/services/codenav/viewer"
)

// styles holds the output styles. The zero value renders plain text.
type styles struct {
	header   lipgloss.Style
	folder   lipgloss.Style
	file     lipgloss.Style
	muted    lipgloss.Style
	errText  lipgloss.Style
	marker   lipgloss.Style
	lineNo   lipgloss.Style
	enum     lipgloss.Style
	tableHdr lipgloss.Style
	color    bool
}

func newStyles(color bool) styles {
	if !color {
		return styles{}
	}
	return styles{
		header:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#005FAF", Dark: "#5FAFFF"}),
		folder:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#7A5600", Dark: "#F1FA8C"}),
		file:     lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#333333", Dark: "#E8E8E8"}),
		muted:    lipgloss.NewStyle().Foreground(lipgloss.Color("#808080")),
		errText:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555")),
		marker:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#50FA7B")),
		lineNo:   lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4")),
		enum:     lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4")).MarginRight(1),
		tableHdr: lipgloss.NewStyle().Bold(true).Padding(0, 1),
		color:    true,
	}
}

// colorEnabled reports whether w is a terminal that should get styled output.
func colorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// renderTree draws visible rows as a tree under a root label. Closed folders
// are marked with a trailing "+".
func renderTree(root string, rows []tree.Row, st styles) string {
	t := lgtree.Root(st.header.Render(root)).Enumerator(lgtree.RoundedEnumerator)
	if st.color {
		t = t.EnumeratorStyle(st.enum)
	}

	stack := []*lgtree.Tree{t}
	for _, r := range rows {
		if r.Depth+1 > len(stack) {
			// Malformed input; attach to the deepest known folder.
			r.Depth = len(stack) - 1
		}
		parent := stack[r.Depth]
		if r.Kind == tree.KindFolder {
			label := r.Name + "/"
			if !r.Open {
				label += " +"
			}
			sub := lgtree.Root(st.folder.Render(label))
			parent.Child(sub)
			stack = append(stack[:r.Depth+1], sub)
			continue
		}
		parent.Child(st.file.Render(r.Name))
	}
	return t.String()
}

// renderStructure draws the structure panel.
func renderStructure(m structure.Model, st styles) string {
	var b strings.Builder
	title := "Structure"
	if !m.File.IsZero() {
		title += ": " + m.File.Path
	}
	b.WriteString(st.header.Render(title))
	b.WriteString("\n")

	if m.Indexing != "" {
		b.WriteString(st.muted.Render("indexing: " + m.Indexing))
		b.WriteString("\n")
	}
	if !m.HasSymbols() {
		msg := m.Message
		if m.Degraded != "" {
			msg += " (" + m.Degraded + ")"
		}
		b.WriteString(st.muted.Render(msg))
		b.WriteString("\n")
		return b.String()
	}

	rows := make([][]string, 0, len(m.Symbols()))
	for _, c := range m.Classes {
		rows = append(rows, symbolRow(c.Symbol, ""))
		for _, meth := range c.Methods {
			rows = append(rows, symbolRow(meth, "  "))
		}
	}
	for _, fn := range m.Functions {
		rows = append(rows, symbolRow(fn, ""))
	}
	b.WriteString(newTable(st, []string{"KIND", "NAME", "LINE", "IDENTITY"}, rows))
	b.WriteString("\n")

	if len(m.Imports) > 0 {
		b.WriteString(st.header.Render("Imports"))
		b.WriteString("\n")
		for _, imp := range m.Imports {
			b.WriteString("  " + imp + "\n")
		}
	}
	return b.String()
}

func symbolRow(s structure.Symbol, indent string) []string {
	return []string{string(s.Kind), indent + s.Name, strconv.Itoa(s.Line), string(s.Identity)}
}

// renderExpansion draws the callers and callees of one symbol.
func renderExpansion(e structure.Expansion, st styles) string {
	var b strings.Builder
	b.WriteString(st.header.Render(string(e.Identity)))
	b.WriteString("\n")
	switch e.Status {
	case structure.ExpansionLoading:
		b.WriteString(st.muted.Render("Loading dependencies..."))
		b.WriteString("\n")
		return b.String()
	case structure.ExpansionError:
		b.WriteString(st.errText.Render("Failed to load dependencies: " + e.Error))
		b.WriteString("\n")
		return b.String()
	}
	writeRefs(&b, "Callers", e.Callers, st)
	writeRefs(&b, "Callees", e.Callees, st)
	return b.String()
}

func writeRefs(b *strings.Builder, title string, refs []backend.DependencyRef, st styles) {
	b.WriteString(st.header.Render(fmt.Sprintf("%s (%d)", title, len(refs))))
	b.WriteString("\n")
	if len(refs) == 0 {
		b.WriteString(st.muted.Render("  none"))
		b.WriteString("\n")
		return
	}
	rows := make([][]string, 0, len(refs))
	for _, r := range refs {
		line := ""
		if r.LineNumber > 0 {
			line = strconv.Itoa(r.LineNumber)
		}
		rows = append(rows, []string{r.DisplayLabel, r.FilePath, line, string(r.Identity)})
	}
	b.WriteString(newTable(st, []string{"NAME", "FILE", "LINE", "IDENTITY"}, rows))
	b.WriteString("\n")
}

func newTable(st styles, headers []string, rows [][]string) string {
	border := lipgloss.HiddenBorder()
	if st.color {
		border = lipgloss.RoundedBorder()
	}
	return table.New().
		Border(border).
		BorderStyle(st.muted).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return st.tableHdr
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		String()
}

// renderView draws the viewer header and the content with line numbers.
// The scroll line is marked with ">" and, with around > 0, only the lines
// around it are printed.
func renderView(v viewer.View, around int, st styles) string {
	var b strings.Builder
	if v.Empty() {
		b.WriteString(st.muted.Render("No file selected."))
		b.WriteString("\n")
		return b.String()
	}
	b.WriteString(st.header.Render(fmt.Sprintf("%s  [%s]", v.File.Path, v.Language)))
	b.WriteString("\n")
	if v.Loading {
		b.WriteString(st.muted.Render("Loading..."))
		b.WriteString("\n")
	}
	if v.Error != "" {
		b.WriteString(st.errText.Render(v.Error))
		b.WriteString("\n")
	}

	lines := strings.Split(strings.TrimSuffix(v.Content, "\n"), "\n")
	from, to := 1, len(lines)
	target := 0
	if v.ScrollLine != nil {
		target = *v.ScrollLine
		if around > 0 {
			from = max(1, target-around)
			to = min(len(lines), target+around)
		}
	}
	width := len(strconv.Itoa(to))
	for n := from; n <= to; n++ {
		mark := " "
		if n == target {
			mark = st.marker.Render(">")
		}
		fmt.Fprintf(&b, "%s %s  %s\n", mark, st.lineNo.Render(fmt.Sprintf("%*d", width, n)), lines[n-1])
	}
	return b.String()
}
