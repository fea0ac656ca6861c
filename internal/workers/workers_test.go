// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package workers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/northbound/knowledge-core/internal/aigw"
	"github.com/northbound/knowledge-core/internal/extract"
	"github.com/northbound/knowledge-core/internal/store"
)

type fakeFetcher struct {
	result extract.FetchResult
	err    error
}

func (f fakeFetcher) Fetch(ctx context.Context, url string) (extract.FetchResult, error) {
	return f.result, f.err
}

type fakeParser struct {
	readability extract.Readability
	ok          bool
}

func (f fakeParser) Parse(html, url string) (extract.Readability, bool) {
	return f.readability, f.ok
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0}
	}
	return out, nil
}

type fakePdfExtractor struct {
	result extract.PdfResult
	err    error
}

func (f fakePdfExtractor) Extract(path string) (extract.PdfResult, error) {
	return f.result, f.err
}

func newTestStore(t *testing.T) (*store.ObjectRepository, *store.ChunkRepository, *store.JobRepository) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "workers.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewObjectRepository(db), store.NewChunkRepository(db), store.NewJobRepository(db)
}

func TestURLWorker_Process_Success(t *testing.T) {
	objects, _, jobs := newTestStore(t)
	ctx := context.Background()

	job, err := jobs.Create(ctx, &store.Job{JobType: "url", SourceIdentifier: "https://example.com/a"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	fetcher := fakeFetcher{result: extract.FetchResult{HTML: "<html></html>", FinalURL: "https://example.com/a", HTTPStatus: 200}}
	parser := fakeParser{readability: extract.Readability{Title: "Title", TextContent: "some body text"}, ok: true}
	gateway := aigw.New(aigw.NewMockLlmClient(), fakeEmbedder{})

	w := NewURLWorker(fetcher, parser, gateway, objects, jobs)
	if err := w.Process(ctx, job); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != store.JobVectorizing {
		t.Fatalf("expected status vectorizing, got %s", got.Status)
	}
}

func TestURLWorker_Process_DuplicateURLAgainstEmbeddedObjectCompletesJob(t *testing.T) {
	objects, _, jobs := newTestStore(t)
	ctx := context.Background()

	existing, _, err := objects.Create(ctx, &store.Object{
		ObjectType: "webpage",
		Title:      "Already Embedded",
		Status:     store.StatusEmbedded,
		SourceURI:  sql.NullString{String: "https://example.com/dup", Valid: true},
	})
	if err != nil {
		t.Fatalf("seed existing object: %v", err)
	}

	job, err := jobs.Create(ctx, &store.Job{JobType: "url", SourceIdentifier: "https://example.com/dup"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	fetcher := fakeFetcher{result: extract.FetchResult{HTML: "<html></html>", FinalURL: "https://example.com/dup", HTTPStatus: 200}}
	parser := fakeParser{readability: extract.Readability{Title: "Title", TextContent: "some body text"}, ok: true}
	gateway := aigw.New(aigw.NewMockLlmClient(), fakeEmbedder{})

	w := NewURLWorker(fetcher, parser, gateway, objects, jobs)
	if err := w.Process(ctx, job); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != store.JobCompleted {
		t.Fatalf("expected duplicate job completed, got %s", got.Status)
	}
	if !got.RelatedObjectID.Valid || got.RelatedObjectID.String != existing.ID {
		t.Fatalf("expected related_object_id %s, got %+v", existing.ID, got.RelatedObjectID)
	}

	reread, err := objects.GetByID(ctx, existing.ID)
	if err != nil {
		t.Fatalf("get existing object: %v", err)
	}
	if reread.Status != store.StatusEmbedded {
		t.Fatalf("expected existing object's status left untouched, got %s", reread.Status)
	}
}

func TestURLWorker_Process_ClientErrorFailsPermanently(t *testing.T) {
	objects, _, jobs := newTestStore(t)
	ctx := context.Background()

	job, err := jobs.Create(ctx, &store.Job{JobType: "url", SourceIdentifier: "https://example.com/missing"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	fetcher := fakeFetcher{result: extract.FetchResult{HTTPStatus: 404}}
	gateway := aigw.New(aigw.NewMockLlmClient(), fakeEmbedder{})

	w := NewURLWorker(fetcher, fakeParser{}, gateway, objects, jobs)
	if err := w.Process(ctx, job); err != nil {
		t.Fatalf("expected nil error on permanent failure path, got %v", err)
	}

	got, err := jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != store.JobFailed {
		t.Fatalf("expected status failed, got %s", got.Status)
	}
}

func TestURLWorker_Process_ServerErrorRetries(t *testing.T) {
	objects, _, jobs := newTestStore(t)
	ctx := context.Background()

	job, err := jobs.Create(ctx, &store.Job{JobType: "url", SourceIdentifier: "https://example.com/down"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	fetcher := fakeFetcher{result: extract.FetchResult{HTTPStatus: 503}}
	gateway := aigw.New(aigw.NewMockLlmClient(), fakeEmbedder{})

	w := NewURLWorker(fetcher, fakeParser{}, gateway, objects, jobs)
	if err := w.Process(ctx, job); err == nil {
		t.Fatal("expected error for server error status so the queue can retry")
	}
}

func TestPDFWorker_Process_Success(t *testing.T) {
	objects, chunks, jobs := newTestStore(t)
	ctx := context.Background()

	data, _ := json.Marshal(map[string]any{
		"file_path":          "/tmp/example.pdf",
		"file_hash":          "abc123",
		"original_file_name": "example.pdf",
	})
	job, err := jobs.Create(ctx, &store.Job{JobType: "pdf", SourceIdentifier: "/tmp/example.pdf", JobSpecificData: string(data)})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	extractor := fakePdfExtractor{result: extract.PdfResult{Text: "pdf body text", NumPages: 1}}
	gateway := aigw.New(aigw.NewMockLlmClient(), fakeEmbedder{})

	w := NewPDFWorker(extractor, gateway, objects, chunks, jobs)
	if err := w.Process(ctx, job); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != store.JobVectorizing {
		t.Fatalf("expected status vectorizing, got %s", got.Status)
	}
	if !got.RelatedObjectID.Valid {
		t.Fatal("expected related_object_id set")
	}

	objChunks, err := chunks.ListByObject(ctx, got.RelatedObjectID.String)
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	if len(objChunks) != 1 {
		t.Fatalf("expected 1 summary chunk, got %d", len(objChunks))
	}
}

func TestPDFWorker_Process_ExtractionFailure(t *testing.T) {
	objects, chunks, jobs := newTestStore(t)
	ctx := context.Background()

	data, _ := json.Marshal(map[string]any{"file_path": "/tmp/bad.pdf"})
	job, err := jobs.Create(ctx, &store.Job{JobType: "pdf", SourceIdentifier: "/tmp/bad.pdf", JobSpecificData: string(data)})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	extractor := fakePdfExtractor{err: errors.New("corrupt pdf")}
	gateway := aigw.New(aigw.NewMockLlmClient(), fakeEmbedder{})

	w := NewPDFWorker(extractor, gateway, objects, chunks, jobs)
	if err := w.Process(ctx, job); err != nil {
		t.Fatalf("expected nil error on permanent failure path, got %v", err)
	}

	got, err := jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != store.JobFailed {
		t.Fatalf("expected status failed, got %s", got.Status)
	}
}

func TestDocumentWorker_Process_Success(t *testing.T) {
	objects, _, jobs := newTestStore(t)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("plain text document body"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	job, err := jobs.Create(ctx, &store.Job{JobType: "document", SourceIdentifier: path})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	gateway := aigw.New(aigw.NewMockLlmClient(), fakeEmbedder{})
	w := NewDocumentWorker(gateway, objects, jobs)
	if err := w.Process(ctx, job); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != store.JobVectorizing {
		t.Fatalf("expected status vectorizing, got %s", got.Status)
	}
}

func TestDocumentWorker_Process_UnsupportedExtension(t *testing.T) {
	objects, _, jobs := newTestStore(t)
	ctx := context.Background()

	job, err := jobs.Create(ctx, &store.Job{JobType: "document", SourceIdentifier: "/tmp/archive.zip"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	gateway := aigw.New(aigw.NewMockLlmClient(), fakeEmbedder{})
	w := NewDocumentWorker(gateway, objects, jobs)
	if err := w.Process(ctx, job); err != nil {
		t.Fatalf("expected nil error on permanent failure path, got %v", err)
	}

	got, err := jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != store.JobFailed {
		t.Fatalf("expected status failed, got %s", got.Status)
	}
}
