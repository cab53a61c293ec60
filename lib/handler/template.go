// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"os"
	"path/filepath"
	"strings"
)

// FindTemplate resolves the template file for an event, walking the
// hierarchy most specific first:
//
//	{templates}/{owner}/{repo}/{event}.md
//	{templates}/{owner}/.default/{event}.md
//	{templates}/.default/{event}.md
//
// Returns the path of the first file that exists, or "" when no level
// has one. An empty template file is still returned; the caller treats
// it as an explicit instruction to ignore the event.
func FindTemplate(templatesDir, repository, eventName string) string {
	if templatesDir == "" {
		return ""
	}

	owner, repo, ok := strings.Cut(repository, "/")
	if !ok {
		return ""
	}

	filename := eventName + ".md"
	candidates := []string{
		filepath.Join(templatesDir, owner, repo, filename),
		filepath.Join(templatesDir, owner, ".default", filename),
		filepath.Join(templatesDir, ".default", filename),
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}
