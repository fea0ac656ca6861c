// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package extract

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DocumentExtensions lists the file extensions routed through
// ExtractDocument to an object_type = "document" job (spec.md
// [EXPANSION] supplemented source types).
var DocumentExtensions = []string{".docx", ".xlsx", ".xls", ".eml", ".txt", ".md"}

// IsDocumentExtension reports whether path's extension is one the
// document worker knows how to extract.
func IsDocumentExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range DocumentExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ExtractDocument routes path to the extractor matching its
// extension, grounded on the teacher's internal/parser/dispatcher.go
// extension switch.
func ExtractDocument(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".docx":
		return ExtractDocx(path)
	case ".xlsx", ".xls":
		return ExtractExcel(path)
	case ".eml":
		return ExtractEmail(path)
	case ".txt", ".md":
		return ExtractText(path)
	default:
		return "", fmt.Errorf("unsupported document extension: %s", ext)
	}
}
