// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package identity provides the canonical addressing scheme for files and
// symbols of a browsed project.
//
// An identity is a string of the form:
//
//	<relative/file/path>::<ClassName>.<methodName>   methods
//	<relative/file/path>::<functionName>             free functions
//	<relative/file/path>::<ClassName>                classes
//
// The path half is always slash-normalized before concatenation. Two
// identities built from "pkg\\mod.py" and "pkg/mod.py" are the same string,
// which is what keeps the dependency cache from holding two entries for one
// symbol.
//
// # Thread Safety
//
// Everything in this package is a pure function or an immutable value type.
package identity

import (
	"errors"
	"fmt"
	"strings"
)

// Separator joins the file path and the symbol path of an identity.
const Separator = "::"

// DefaultDependencyLanguage is the language tag assigned to files reached
// through a caller/callee reference. The backend's dependency index only
// covers Python sources, so references carry no language of their own.
const DefaultDependencyLanguage = "python"

// ErrInvalidIdentity is returned by Parse for strings that are not identities.
var ErrInvalidIdentity = errors.New("invalid node identity")

// ID is a canonical node identity.
//
// Equal IDs address the same symbol. IDs are stable across re-fetches of the
// same file because they are derived only from the relative path and the
// symbol names.
type ID string

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// FilePath returns the normalized file path half of the identity.
func (id ID) FilePath() string {
	path, _, _ := strings.Cut(string(id), Separator)
	return path
}

// Symbol returns the symbol half of the identity ("Class.method" or "func").
func (id ID) Symbol() string {
	_, sym, _ := strings.Cut(string(id), Separator)
	return sym
}

// IsZero reports whether the identity is empty.
func (id ID) IsZero() bool { return id == "" }

// Build constructs the identity of a symbol.
//
// Description:
//
//	Normalizes filePath separators, then concatenates
//	"<path>::<className>.<memberName>" when className is set, or
//	"<path>::<memberName>" otherwise. When memberName is empty and className
//	is set the identity addresses the class itself.
//
// Inputs:
//
//	filePath - Project-relative file path in any separator style.
//	className - Enclosing class name, or "" for free functions.
//	memberName - Function or method name, or "" for a class identity.
//
// Outputs:
//
//	ID - The canonical identity. Never fails.
//
// Example:
//
//	identity.Build(`pkg\mod.py`, "Foo", "bar") // "pkg/mod.py::Foo.bar"
//	identity.Build("pkg/mod.py", "", "baz")    // "pkg/mod.py::baz"
func Build(filePath, className, memberName string) ID {
	var sym string
	switch {
	case className != "" && memberName != "":
		sym = className + "." + memberName
	case className != "":
		sym = className
	default:
		sym = memberName
	}
	return ID(NormalizePath(filePath) + Separator + sym)
}

// Parse validates s and returns it as an ID.
//
// The path half is re-normalized, so Parse(`a\b.py::f`) == Build("a/b.py", "", "f").
func Parse(s string) (ID, error) {
	path, sym, ok := strings.Cut(strings.TrimSpace(s), Separator)
	if !ok || sym == "" || NormalizePath(path) == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	return ID(NormalizePath(path) + Separator + sym), nil
}

// NormalizePath maps every separator variant of p to "/".
//
// Backslashes become slashes, runs of slashes collapse, and leading "./"
// segments and trailing slashes are removed. The result is the canonical
// form used for identities, tree paths and expansion keys.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
	if p == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(p))
	prevSlash := false
	for _, r := range p {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	out := b.String()

	for strings.HasPrefix(out, "./") {
		out = out[2:]
	}
	if out != "/" {
		out = strings.TrimSuffix(out, "/")
	}
	if out == "." {
		return ""
	}
	return out
}

// BaseName returns the final path segment of p after normalization.
func BaseName(p string) string {
	p = NormalizePath(p)
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// FileRef is a displayable reference to a project file.
type FileRef struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Language string `json:"language"`
}

// IsZero reports whether the reference points at no file.
func (f FileRef) IsZero() bool { return f.Path == "" }

// SameFile reports whether f and other address the same file.
func (f FileRef) SameFile(other FileRef) bool {
	return NormalizePath(f.Path) == NormalizePath(other.Path)
}

// NewFileRef builds a FileRef from a path, deriving the name and, when
// language is empty, the language from the extension.
func NewFileRef(path, language string) FileRef {
	path = NormalizePath(path)
	if language == "" {
		language = LanguageForPath(path)
	}
	return FileRef{Name: BaseName(path), Path: path, Language: language}
}

// FileRefFromDependency derives the FileRef a caller/callee reference points at.
//
// Description:
//
//	The name is the final path segment after separator normalization. The
//	language is always DefaultDependencyLanguage: a dependency reference does
//	not carry a language, and the index that produced it is Python-only.
//
// Inputs:
//
//	filePath - The reference's file path. May use any separator style.
//
// Outputs:
//
//	FileRef - Zero value when filePath is empty.
func FileRefFromDependency(filePath string) FileRef {
	path := NormalizePath(filePath)
	if path == "" {
		return FileRef{}
	}
	return FileRef{Name: BaseName(path), Path: path, Language: DefaultDependencyLanguage}
}
