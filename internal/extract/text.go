// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package extract

import (
	"fmt"
	"os"
)

// ExtractText reads a plain-text file (.txt, .md) verbatim, grounded
// on the teacher's internal/parser/text.go.
func ExtractText(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read text file %s: %w", path, err)
	}
	if len(content) == 0 {
		return "", fmt.Errorf("no content in text file: %s", path)
	}
	return string(content), nil
}
