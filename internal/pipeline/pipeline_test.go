// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/northbound/knowledge-core/internal/aigw"
	"github.com/northbound/knowledge-core/internal/ratelimit"
	"github.com/northbound/knowledge-core/internal/store"
	"github.com/northbound/knowledge-core/internal/vectorstore"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, vectorstore.Dim)
		v[0] = 0.5
		out[i] = v
	}
	return out, nil
}

type testHarness struct {
	objects *store.ObjectRepository
	chunks  *store.ChunkRepository
	links   *store.EmbeddingLinkRepository
	jobs    *store.JobRepository
	vs      *vectorstore.Store
	p       *Pipeline
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	db, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	vs, err := vectorstore.Open(context.Background(), t.TempDir(), "test", fakeEmbedder{})
	if err != nil {
		t.Fatalf("open vectorstore: %v", err)
	}
	t.Cleanup(func() { vs.Close() })

	objects := store.NewObjectRepository(db)
	chunks := store.NewChunkRepository(db)
	links := store.NewEmbeddingLinkRepository(db)
	jobs := store.NewJobRepository(db)

	gateway := aigw.New(aigw.NewMockLlmClient(), fakeEmbedder{})
	limiter := ratelimit.NewWindow(time.Minute)

	p := New(objects, chunks, links, jobs, vs, gateway, limiter, 10000, 3.0, 4, 10)

	return &testHarness{objects: objects, chunks: chunks, links: links, jobs: jobs, vs: vs, p: p}
}

// newParsedObjectWithJob creates a parsed object plus the
// vectorizing job FindJobAwaitingChunking expects to find for it.
func newParsedObjectWithJob(t *testing.T, h *testHarness, objectType, text string) (*store.Object, *store.Job) {
	t.Helper()
	ctx := context.Background()

	obj, _, err := h.objects.CreateSync(ctx, &store.Object{
		ObjectType:  objectType,
		Title:       "title",
		Status:      store.StatusParsed,
		CleanedText: text,
	})
	if err != nil {
		t.Fatalf("create object: %v", err)
	}

	job, err := h.jobs.Create(ctx, &store.Job{
		JobType:          objectType,
		SourceIdentifier: "src",
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := h.jobs.MarkVectorizing(ctx, job.ID, obj.ID); err != nil {
		t.Fatalf("mark vectorizing: %v", err)
	}
	job, err = h.jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("reread job: %v", err)
	}
	return obj, job
}

func TestPipeline_Tick_ChunksAndEmbedsParsedObject(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	obj, _ := newParsedObjectWithJob(t, h, "url", "some reasonably long cleaned text content for chunking purposes")

	h.p.Tick(ctx)

	deadline := time.Now().Add(2 * time.Second)
	var reread *store.Object
	for time.Now().Before(deadline) {
		var err error
		reread, err = h.objects.GetByID(ctx, obj.ID)
		if err != nil {
			t.Fatalf("get by id: %v", err)
		}
		if reread.Status == store.StatusEmbedded || reread.Status == store.StatusEmbeddingFailed {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if reread.Status != store.StatusEmbedded {
		t.Fatalf("expected object embedded, got status=%s error=%s", reread.Status, reread.ErrorInfo)
	}

	chunks, err := h.chunks.ListByObject(ctx, obj.ID)
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk inserted")
	}

	results, err := h.vs.Filter(ctx, vectorstore.Filter{ObjectID: []string{obj.ID}})
	if err != nil {
		t.Fatalf("filter vectorstore: %v", err)
	}
	if len(results) != len(chunks) {
		t.Fatalf("expected %d vectors, got %d", len(chunks), len(results))
	}
}

func TestPipeline_Tick_PDFBranchEmbedsExistingChunk(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	obj, _ := newParsedObjectWithJob(t, h, "pdf", "pdf cleaned text")

	if err := h.chunks.AddBulk(ctx, []*store.Chunk{{
		ObjectID: obj.ID,
		ChunkIdx: 0,
		Content:  "pdf summary chunk content",
		Summary:  "pdf summary",
	}}); err != nil {
		t.Fatalf("insert pre-existing pdf chunk: %v", err)
	}

	h.p.Tick(ctx)

	deadline := time.Now().Add(2 * time.Second)
	var reread *store.Object
	for time.Now().Before(deadline) {
		var err error
		reread, err = h.objects.GetByID(ctx, obj.ID)
		if err != nil {
			t.Fatalf("get by id: %v", err)
		}
		if reread.Status == store.StatusEmbedded || reread.Status == store.StatusEmbeddingFailed {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if reread.Status != store.StatusEmbedded {
		t.Fatalf("expected pdf object embedded, got status=%s error=%s", reread.Status, reread.ErrorInfo)
	}

	links, err := h.chunks.ListByObject(ctx, obj.ID)
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("expected the single pre-existing chunk untouched, got %d", len(links))
	}
}

func TestPipeline_Tick_NoProcessableObjectsIsNoop(t *testing.T) {
	h := newTestHarness(t)
	h.p.Tick(context.Background())
}

func TestPipeline_Tick_OrphanObjectMarkedErrorAfterRepeatedTicks(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	obj, _, err := h.objects.CreateSync(ctx, &store.Object{
		ObjectType:  "url",
		Title:       "orphan",
		Status:      store.StatusParsed,
		CleanedText: "text with no matching vectorizing job",
	})
	if err != nil {
		t.Fatalf("create object: %v", err)
	}

	for i := 0; i < maxOrphanTicks; i++ {
		h.p.Tick(ctx)
		time.Sleep(20 * time.Millisecond)
	}

	deadline := time.Now().Add(1 * time.Second)
	var reread *store.Object
	for time.Now().Before(deadline) {
		reread, err = h.objects.GetByID(ctx, obj.ID)
		if err != nil {
			t.Fatalf("get by id: %v", err)
		}
		if reread.Status == store.StatusError {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if reread.Status != store.StatusError {
		t.Fatalf("expected orphaned object marked error after %d ticks, got status=%s", maxOrphanTicks, reread.Status)
	}
}
