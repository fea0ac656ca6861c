// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestFolderWatcher_AddsJobForSupportedExtensions(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var calls []string
	addJob := func(ctx context.Context, jobType, sourceIdentifier string, priority int) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, jobType+":"+sourceIdentifier)
		return nil
	}

	fw, err := New(addJob)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := fw.AddDir(dir); err != nil {
		t.Fatalf("add dir: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go fw.Run(ctx)
	defer cancel()

	pdfPath := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(pdfPath, []byte("x"), 0o644); err != nil {
		t.Fatalf("write pdf: %v", err)
	}
	txtPath := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(txtPath, []byte("x"), 0o644); err != nil {
		t.Fatalf("write txt: %v", err)
	}
	zipPath := filepath.Join(dir, "archive.zip")
	if err := os.WriteFile(zipPath, []byte("x"), 0o644); err != nil {
		t.Fatalf("write zip: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(calls)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("expected 2 add_job calls (pdf, document), got %d: %v", len(calls), calls)
	}
	foundPDF, foundDoc := false, false
	for _, c := range calls {
		if c == "pdf:"+pdfPath {
			foundPDF = true
		}
		if c == "document:"+txtPath {
			foundDoc = true
		}
	}
	if !foundPDF || !foundDoc {
		t.Fatalf("expected pdf and document job calls, got %v", calls)
	}
}
