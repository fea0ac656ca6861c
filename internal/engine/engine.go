// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/northbound/knowledge-core/internal/aigw"
	"github.com/northbound/knowledge-core/internal/composite"
	"github.com/northbound/knowledge-core/internal/config"
	"github.com/northbound/knowledge-core/internal/deletion"
	"github.com/northbound/knowledge-core/internal/events"
	"github.com/northbound/knowledge-core/internal/extract"
	"github.com/northbound/knowledge-core/internal/pipeline"
	"github.com/northbound/knowledge-core/internal/queue"
	"github.com/northbound/knowledge-core/internal/ratelimit"
	"github.com/northbound/knowledge-core/internal/store"
	"github.com/northbound/knowledge-core/internal/vectorstore"
	"github.com/northbound/knowledge-core/internal/workers"
)

// avgRequestsPerObject approximates, for the rate limiter's
// max-new-objects calculation (spec.md §5), how many external
// LLM/embedding calls a single ingested object costs on average: one
// summary call plus one chunk call plus one embed call.
const avgRequestsPerObject = 3.0

// pipelineTickInterval is how often the Chunking Pipeline polls for
// newly-parsed objects to embed (spec.md §4.9).
const pipelineTickInterval = 2 * time.Second

// queueTickInterval is how often the Ingestion Queue polls for
// claimable jobs (spec.md §4.5).
const queueTickInterval = 1 * time.Second

// Deps bundles the provider interfaces spec.md §6 names as the
// boundary the core depends on. Callers construct the concrete
// adapters (internal/aigw's OpenAI/Ollama/mock clients, internal/extract's
// HTTP fetcher and goquery/go-fitz extractors) and hand them to New.
type Deps struct {
	LlmClient    aigw.LlmClient
	Embedder     aigw.Embedder
	Fetcher      extract.Fetcher
	HtmlParser   extract.Parser
	PdfExtractor extract.PdfExtractor
}

// Engine is the core ingestion/retrieval facade spec.md §6 describes:
// the single object surrounding layers (CLI utilities, an HTTP/IPC
// front end, a notebook UI) construct and call into. It wires together
// every component built under internal/ — store, vectorstore, aigw,
// queue, pipeline, composite, deletion — the way the teacher's
// cmd/hive-server/main.go wires its own dependency graph, generalized
// to this domain.
type Engine struct {
	cfg config.Engine

	db        *store.DB
	Objects   *store.ObjectRepository
	Chunks    *store.ChunkRepository
	Links     *store.EmbeddingLinkRepository
	Jobs      *store.JobRepository
	Notebooks *store.NotebookRepository

	vs      *vectorstore.Store
	gateway *aigw.Gateway

	bus       *events.Bus
	limiter   *ratelimit.Window
	queue     *queue.Queue
	pipeline  *pipeline.Pipeline
	composite *composite.Enrichment
	deletion  *deletion.Orchestrator

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens the relational store, the vector store, and wires every
// component's constructor in dependency order. It does not start any
// background loop; call Start for that.
func New(ctx context.Context, cfg config.Engine, deps Deps) (*Engine, error) {
	db, err := store.Open(cfg.UserDataPath + "/knowledge.db")
	if err != nil {
		return nil, err
	}

	objects := store.NewObjectRepository(db)
	chunks := store.NewChunkRepository(db)
	links := store.NewEmbeddingLinkRepository(db)
	jobs := store.NewJobRepository(db)
	notebooks := store.NewNotebookRepository(db)

	vs, err := vectorstore.Open(ctx, cfg.LanceDBURI(), cfg.VectorTablePrefix, vectorstoreEmbedder{deps.Embedder})
	if err != nil {
		db.Close()
		return nil, err
	}

	gateway := aigw.New(deps.LlmClient, deps.Embedder)
	bus := events.NewBus()
	limiter := ratelimit.NewWindow(time.Minute)

	q := queue.New(jobs, bus, cfg.QueueConcurrency, limiter, cfg.RateLimitRPMBudget, avgRequestsPerObject)

	urlWorker := workers.NewURLWorker(deps.Fetcher, deps.HtmlParser, gateway, objects, jobs)
	pdfWorker := workers.NewPDFWorker(deps.PdfExtractor, gateway, objects, chunks, jobs)
	documentWorker := workers.NewDocumentWorker(gateway, objects, jobs)
	q.RegisterProcessor("url", urlWorker.Process)
	q.RegisterProcessor("pdf", pdfWorker.Process)
	q.RegisterProcessor("document", documentWorker.Process)

	p := pipeline.New(objects, chunks, links, jobs, vs, gateway, limiter, cfg.RateLimitRPMBudget, avgRequestsPerObject, cfg.PipelineConcurrency, cfg.EmbedMaxConcurrent)

	debounce := time.Duration(cfg.DebounceSeconds) * time.Second
	comp := composite.New(objects, vs, gateway, debounce)

	del := deletion.New(db, objects, chunks, links, vs)

	return &Engine{
		cfg:       cfg,
		db:        db,
		Objects:   objects,
		Chunks:    chunks,
		Links:     links,
		Jobs:      jobs,
		Notebooks: notebooks,
		vs:        vs,
		gateway:   gateway,
		bus:       bus,
		limiter:   limiter,
		queue:     q,
		pipeline:  p,
		composite: comp,
		deletion:  del,
	}, nil
}

// vectorstoreEmbedder adapts aigw.Embedder to vectorstore.Embedder;
// the two interfaces are structurally identical but kept distinct per
// package so neither package imports the other just for this shape.
type vectorstoreEmbedder struct {
	e aigw.Embedder
}

func (v vectorstoreEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return v.e.Embed(ctx, texts)
}

// Start launches the Ingestion Queue's dispatch loop and the Chunking
// Pipeline's tick loop as background goroutines, both bound to ctx.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(queueTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.queue.ProcessJobs(ctx)
			}
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(pipelineTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.pipeline.Tick(ctx)
			}
		}
	}()

	log.Printf("engine: started queue + pipeline loops")
}

// Stop cancels the background loops, waits up to the configured
// shutdown grace period (spec.md §5), and closes the stores.
func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	e.composite.Stop()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Duration(e.cfg.ShutdownTimeoutSecond) * time.Second):
		log.Printf("engine: shutdown grace period elapsed with background loops still active")
	}

	e.bus.Close()
	if err := e.vs.Close(); err != nil {
		log.Printf("engine: vector store close failed: %v", err)
	}
	return e.db.Close()
}

// Bus exposes the event stream for On-style subscriptions and for
// wiring internal/notify and internal/events.Hub.
func (e *Engine) Bus() *events.Bus { return e.bus }
