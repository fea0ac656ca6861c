// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestIsDocumentExtension(t *testing.T) {
	cases := map[string]bool{
		"report.docx":  true,
		"sheet.xlsx":   true,
		"legacy.xls":   true,
		"thread.eml":   true,
		"notes.txt":    true,
		"readme.md":    true,
		"archive.zip":  false,
		"page.html":    false,
		"no-extension": false,
	}
	for name, want := range cases {
		if got := IsDocumentExtension(name); got != want {
			t.Errorf("IsDocumentExtension(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestExtractDocument_UnsupportedExtension(t *testing.T) {
	_, err := ExtractDocument("file.zip")
	if err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestExtractText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	text, err := ExtractText(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("expected %q, got %q", "hello world", text)
	}
}

func TestExtractText_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := ExtractText(path); err == nil {
		t.Fatal("expected error for empty text file")
	}
}

func TestHTTPFetcher_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<html><body><p>hi</p></body></html>"))
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher()
	result, err := fetcher.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.HTTPStatus != http.StatusOK {
		t.Fatalf("expected 200, got %d", result.HTTPStatus)
	}
	if result.HTML == "" {
		t.Fatal("expected non-empty HTML body")
	}
}

func TestGoqueryParser_Parse(t *testing.T) {
	html := `<html><head><title>My Page</title></head><body><h1>Heading</h1><p>Some paragraph text that is long enough.</p></body></html>`

	parser := NewGoqueryParser()
	result, ok := parser.Parse(html, "https://example.com/a")
	if !ok {
		t.Fatal("expected parse success")
	}
	if result.Title != "My Page" {
		t.Fatalf("expected title %q, got %q", "My Page", result.Title)
	}
	if result.TextContent == "" {
		t.Fatal("expected non-empty text content")
	}
}

func TestGoqueryParser_Parse_EmptyBodyFails(t *testing.T) {
	parser := NewGoqueryParser()
	_, ok := parser.Parse("<html><head></head><body></body></html>", "https://example.com/empty")
	if ok {
		t.Fatal("expected parse failure for empty body")
	}
}
