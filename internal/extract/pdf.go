// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package extract

import (
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// FitzExtractor implements PdfExtractor over go-fitz (MuPDF), grounded
// on the teacher's internal/parser/pdf.go and internal/pdf/processor.go
// page-by-page text extraction, extended to surface page count and
// document metadata per the PdfExtractor.extract contract (spec.md §6).
type FitzExtractor struct{}

func NewFitzExtractor() *FitzExtractor { return &FitzExtractor{} }

func (e *FitzExtractor) Extract(path string) (PdfResult, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return PdfResult{}, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer doc.Close()

	numPages := doc.NumPage()

	var textBuilder strings.Builder
	for i := 0; i < numPages; i++ {
		pageText, err := doc.Text(i)
		if err != nil {
			continue
		}
		textBuilder.WriteString(pageText)
		if i < numPages-1 {
			textBuilder.WriteString("\n\n")
		}
	}

	text := strings.TrimSpace(textBuilder.String())
	if text == "" {
		return PdfResult{}, fmt.Errorf("no text extracted from pdf: %s", path)
	}

	info := PdfInfo{}
	if meta, err := doc.Metadata(); err == nil {
		info.Title = meta["title"]
		info.Author = meta["author"]
	}

	return PdfResult{
		Text:     text,
		NumPages: numPages,
		Info:     info,
	}, nil
}
