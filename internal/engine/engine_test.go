// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package engine

import (
	"context"
	"testing"
	"time"

	"github.com/northbound/knowledge-core/internal/aigw"
	"github.com/northbound/knowledge-core/internal/config"
	"github.com/northbound/knowledge-core/internal/extract"
	"github.com/northbound/knowledge-core/internal/store"
	"github.com/northbound/knowledge-core/internal/vectorstore"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, 1536)
	}
	return out, nil
}

type fakeFetcher struct{}

func (fakeFetcher) Fetch(ctx context.Context, url string) (extract.FetchResult, error) {
	return extract.FetchResult{HTML: "<html></html>", FinalURL: url, HTTPStatus: 200}, nil
}

type fakeParser struct{}

func (fakeParser) Parse(html, url string) (extract.Readability, bool) {
	return extract.Readability{Title: "t", TextContent: "some text content"}, true
}

type fakePdfExtractor struct{}

func (fakePdfExtractor) Extract(path string) (extract.PdfResult, error) {
	return extract.PdfResult{Text: "pdf text", NumPages: 1}, nil
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.DefaultEngine()
	cfg.UserDataPath = t.TempDir()
	cfg.ShutdownTimeoutSecond = 1

	deps := Deps{
		LlmClient:    aigw.NewMockLlmClient(),
		Embedder:     fakeEmbedder{},
		Fetcher:      fakeFetcher{},
		HtmlParser:   fakeParser{},
		PdfExtractor: fakePdfExtractor{},
	}

	e, err := New(context.Background(), cfg, deps)
	if err != nil {
		t.Fatalf("construct engine: %v", err)
	}
	t.Cleanup(func() { e.Stop() })
	return e
}

func TestEngine_AddJobAndStats(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	job, err := e.AddJob(ctx, "url", "https://example.com", AddJobOpts{})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected job id assigned")
	}

	stats, err := e.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats["queued"] != 1 {
		t.Fatalf("expected 1 queued job, got %d", stats["queued"])
	}
}

func TestEngine_CancelAndRetry(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	job, err := e.AddJob(ctx, "url", "https://example.com", AddJobOpts{})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}

	ok, err := e.Cancel(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("expected cancel to succeed, ok=%v err=%v", ok, err)
	}

	ok, err = e.Retry(ctx, job.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if ok {
		t.Fatal("expected retry of a cancelled job to fail (only failed jobs retry)")
	}
}

func TestEngine_CreateWithCognitiveAndAddChildToTabGroup(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	var children []string
	for i := 0; i < 2; i++ {
		child, err := e.CreateWithCognitive(ctx, CognitiveData{ObjectType: "url", Title: "child"})
		if err != nil {
			t.Fatalf("create child: %v", err)
		}
		children = append(children, child.ID)
	}

	parent, err := e.CreateWithCognitive(ctx, CognitiveData{
		ObjectType:     "tab_group",
		Title:          "group",
		ChildObjectIDs: children,
	})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}

	thirdChild, err := e.CreateWithCognitive(ctx, CognitiveData{ObjectType: "url", Title: "third"})
	if err != nil {
		t.Fatalf("create third child: %v", err)
	}

	if err := e.AddChildToTabGroup(ctx, parent.ID, thirdChild.ID); err != nil {
		t.Fatalf("add child to tab group: %v", err)
	}

	ids, err := e.Objects.GetChildIDs(ctx, parent.ID)
	if err != nil {
		t.Fatalf("get child ids: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 children after add, got %d", len(ids))
	}
}

func TestEngine_DeleteObjects(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	obj, err := e.CreateWithCognitive(ctx, CognitiveData{ObjectType: "url", Title: "to-delete"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	result := e.DeleteObjects(ctx, []string{obj.ID})
	if len(result.Successful) != 1 || result.Successful[0] != obj.ID {
		t.Fatalf("expected successful delete of %s, got %+v", obj.ID, result)
	}
}

func TestEngine_StartAndStop(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.Start(ctx)
	time.Sleep(20 * time.Millisecond)
}

func TestEngine_SimilarByTextAndVector(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	now := time.Now().UTC()
	v := make([]float32, vectorstore.Dim)
	v[0] = 1.0
	_, err := e.vs.AddDocuments(ctx, []vectorstore.Record{{
		ID: "rec-1", RecordType: vectorstore.RecordTypeChunk, Layer: vectorstore.LayerLOM,
		ProcessingDepth: vectorstore.DepthChunk, Vector: v, Content: "some content",
		ObjectID: "obj-1", CreatedAt: now, LastAccessedAt: now,
	}})
	if err != nil {
		t.Fatalf("seed vector: %v", err)
	}

	byVector, err := e.SimilarByVector(ctx, v, 1, vectorstore.Filter{})
	if err != nil {
		t.Fatalf("similar by vector: %v", err)
	}
	if len(byVector) != 1 || byVector[0].Record.ID != "rec-1" {
		t.Fatalf("expected rec-1, got %+v", byVector)
	}

	byText, err := e.SimilarByText(ctx, "some content", 1, vectorstore.Filter{})
	if err != nil {
		t.Fatalf("similar by text: %v", err)
	}
	if len(byText) != 1 || byText[0].Record.ID != "rec-1" {
		t.Fatalf("expected rec-1, got %+v", byText)
	}

	retriever := e.GetRetriever(1, vectorstore.Filter{})
	retrieved, err := retriever.Retrieve(ctx, "some content")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(retrieved) != 1 || retrieved[0].Record.ID != "rec-1" {
		t.Fatalf("expected rec-1 from retriever, got %+v", retrieved)
	}
}

func TestEngine_DeleteBySourceURI(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	obj, err := e.CreateWithCognitive(ctx, CognitiveData{
		ObjectType: "url", Title: "sourced", SourceURI: "https://example.com/page",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	result, err := e.DeleteBySourceURI(ctx, "https://example.com/page")
	if err != nil {
		t.Fatalf("delete by source uri: %v", err)
	}
	if len(result.Successful) != 1 || result.Successful[0] != obj.ID {
		t.Fatalf("expected successful delete of %s, got %+v", obj.ID, result)
	}

	notFound, err := e.DeleteBySourceURI(ctx, "https://example.com/missing")
	if err != nil {
		t.Fatalf("delete by missing source uri: %v", err)
	}
	if len(notFound.Successful) != 0 {
		t.Fatalf("expected no-op for unknown source uri, got %+v", notFound)
	}
}

func TestEngine_GetSourceDetailsByIDs(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	obj, err := e.CreateWithCognitive(ctx, CognitiveData{ObjectType: "url", Title: "details"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	details, err := e.GetSourceDetailsByIDs(ctx, []string{obj.ID})
	if err != nil {
		t.Fatalf("get source details: %v", err)
	}
	if _, ok := details[obj.ID]; !ok {
		t.Fatalf("expected details for %s, got %+v", obj.ID, details)
	}
}

func TestEngine_EmbedAllUnembeddedChunks(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	obj, err := e.CreateWithCognitive(ctx, CognitiveData{ObjectType: "pdf", Title: "doc"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := e.Chunks.AddBulk(ctx, []*store.Chunk{
		{ObjectID: obj.ID, ChunkIdx: 0, Content: "chunk one"},
		{ObjectID: obj.ID, ChunkIdx: 1, Content: "chunk two"},
	}); err != nil {
		t.Fatalf("add chunks: %v", err)
	}

	n, err := e.EmbedAllUnembeddedChunks(ctx)
	if err != nil {
		t.Fatalf("embed all unembedded chunks: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 chunks embedded, got %d", n)
	}

	again, err := e.EmbedAllUnembeddedChunks(ctx)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if again != 0 {
		t.Fatalf("expected no remaining unembedded chunks, got %d", again)
	}
}
