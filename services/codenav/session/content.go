// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package session

import (
	"context"

	"github.com/AleutianAI/codenav/services/codenav/identity"
)

// contentSource fetches file content by the path the backend reported at
// ingest. The backend resolves content paths as given, while the rest of the
// session works with project-relative paths. Paths outside the tree, such as
// dependency targets the tree does not list, are passed through unchanged.
type contentSource struct {
	backend Backend
	sources map[string]string
}

func (c contentSource) GetFileContent(ctx context.Context, projectID, path string) (string, error) {
	if src, ok := c.sources[identity.NormalizePath(path)]; ok && src != "" {
		path = src
	}
	return c.backend.GetFileContent(ctx, projectID, path)
}
