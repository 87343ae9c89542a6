// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package identity

import (
	"path"
	"strings"
)

// PlainText is the language tag for files with no known extension.
const PlainText = "plaintext"

// extensionLanguages maps lowercase file extensions to editor language tags.
var extensionLanguages = map[string]string{
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".py":   "python",
	".html": "html",
	".css":  "css",
	".json": "json",
	".md":   "markdown",
	".java": "java",
	".c":    "c",
	".cpp":  "cpp",
	".go":   "go",
	".yaml": "yaml",
	".yml":  "yaml",
}

// LanguageForPath returns the editor language tag for a file path.
// Unknown extensions map to PlainText.
func LanguageForPath(p string) string {
	ext := strings.ToLower(path.Ext(NormalizePath(p)))
	if lang, ok := extensionLanguages[ext]; ok {
		return lang
	}
	return PlainText
}
