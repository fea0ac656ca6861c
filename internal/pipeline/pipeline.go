// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/northbound/knowledge-core/internal/aigw"
	"github.com/northbound/knowledge-core/internal/apperr"
	"github.com/northbound/knowledge-core/internal/breaker"
	"github.com/northbound/knowledge-core/internal/ratelimit"
	"github.com/northbound/knowledge-core/internal/store"
	"github.com/northbound/knowledge-core/internal/vectorstore"
)

const embedModel = "default"
const maxOrphanTicks = 3

// Pipeline is the Chunking Pipeline scheduler of spec.md §4.9: it
// claims "parsed" objects under a concurrency cap and rate-limit
// headroom, chunks/embeds them via a saga with compensation, and
// guards embedding calls with a circuit breaker.
type Pipeline struct {
	objects *store.ObjectRepository
	chunks  *store.ChunkRepository
	links   *store.EmbeddingLinkRepository
	jobs    *store.JobRepository
	vs      *vectorstore.Store
	gateway *aigw.Gateway

	limiter              *ratelimit.Window
	rpmBudget            int
	avgRequestsPerObject float64

	embedBreaker *breaker.Breaker
	embedSem     chan struct{}

	concurrency int

	mu             sync.Mutex
	active         map[string]bool
	orphanAttempts map[string]int
}

func New(objects *store.ObjectRepository, chunks *store.ChunkRepository, links *store.EmbeddingLinkRepository, jobs *store.JobRepository, vs *vectorstore.Store, gateway *aigw.Gateway, limiter *ratelimit.Window, rpmBudget int, avgRequestsPerObject float64, concurrency, embedMaxConcurrent int) *Pipeline {
	return &Pipeline{
		objects:              objects,
		chunks:               chunks,
		links:                links,
		jobs:                 jobs,
		vs:                   vs,
		gateway:              gateway,
		limiter:              limiter,
		rpmBudget:            rpmBudget,
		avgRequestsPerObject: avgRequestsPerObject,
		embedBreaker:         breaker.New("embed", 5, 60*time.Second, 30*time.Second, 2),
		embedSem:             make(chan struct{}, embedMaxConcurrent),
		concurrency:          concurrency,
		active:               make(map[string]bool),
		orphanAttempts:       make(map[string]int),
	}
}

// Tick runs one scheduler pass (spec.md §4.9 steps 1-3), dispatching
// matched objects to goroutines counted against active (step 4).
func (p *Pipeline) Tick(ctx context.Context) {
	p.mu.Lock()
	slots := p.concurrency - len(p.active)
	p.mu.Unlock()
	if slots <= 0 {
		return
	}

	maxNew := p.limiter.MaxNewObjects(p.rpmBudget, p.avgRequestsPerObject)
	if maxNew < slots {
		slots = maxNew
	}
	if slots <= 0 {
		return
	}

	objs, err := p.objects.GetProcessable(ctx, slots)
	if err != nil {
		log.Printf("pipeline: GetProcessable failed: %v", err)
		return
	}

	for _, obj := range objs {
		p.mu.Lock()
		if p.active[obj.ID] {
			p.mu.Unlock()
			continue
		}
		p.active[obj.ID] = true
		p.mu.Unlock()

		go func(obj *store.Object) {
			defer func() {
				p.mu.Lock()
				delete(p.active, obj.ID)
				p.mu.Unlock()
			}()
			p.processObject(ctx, obj)
		}(obj)
	}
}

// processObject implements spec.md §4.9 step 4's per-object body.
func (p *Pipeline) processObject(ctx context.Context, obj *store.Object) {
	job, err := p.jobs.FindJobAwaitingChunking(ctx, obj.ID)
	if err != nil {
		log.Printf("pipeline: find job awaiting chunking for object %s failed: %v", obj.ID, err)
		return
	}
	if job == nil {
		p.mu.Lock()
		p.orphanAttempts[obj.ID]++
		attempts := p.orphanAttempts[obj.ID]
		p.mu.Unlock()
		if attempts >= maxOrphanTicks {
			reason := "orphaned"
			_ = p.objects.UpdateStatus(ctx, obj.ID, store.StatusError, nil, &reason)
			p.mu.Lock()
			delete(p.orphanAttempts, obj.ID)
			p.mu.Unlock()
		}
		return
	}
	p.mu.Lock()
	delete(p.orphanAttempts, obj.ID)
	p.mu.Unlock()

	// Atomic claim: new → fetched → parsed → embedding is enforced by
	// re-reading after the write (spec.md §4.9 step b, §5).
	if err := p.objects.UpdateStatus(ctx, obj.ID, store.StatusEmbedding, nil, nil); err != nil {
		log.Printf("pipeline: claim object %s for embedding failed: %v", obj.ID, err)
		return
	}
	reread, err := p.objects.GetByID(ctx, obj.ID)
	if err != nil || reread.Status != store.StatusEmbedding {
		log.Printf("pipeline: lost claim race for object %s", obj.ID)
		_ = p.jobs.MarkJobFailed(ctx, job.ID, apperr.RaceLost("lost claim race on object "+obj.ID).Error())
		return
	}

	if err := p.jobs.SetChunkingStatus(ctx, job.ID, store.ChunkingInProgress, nil); err != nil {
		log.Printf("pipeline: set chunking_status in_progress for job %s failed: %v", job.ID, err)
	}

	var procErr error
	if reread.ObjectType == "pdf" {
		procErr = p.processPDFBranch(ctx, reread)
	} else {
		procErr = p.processChunkBranch(ctx, reread)
	}

	if procErr == nil {
		_ = p.objects.UpdateStatus(ctx, obj.ID, store.StatusEmbedded, nil, nil)
		_ = p.jobs.MarkCompleted(ctx, job.ID, &obj.ID)
		_ = p.jobs.SetChunkingStatus(ctx, job.ID, store.ChunkingCompleted, nil)
		return
	}

	log.Printf("pipeline: object %s embedding failed: %v", obj.ID, procErr)
	truncated := apperr.Truncate(procErr.Error())
	_ = p.objects.UpdateStatus(ctx, obj.ID, store.StatusEmbeddingFailed, nil, &truncated)
	_ = p.jobs.MarkJobFailed(ctx, job.ID, truncated)
}

// processPDFBranch embeds the single pre-existing summary chunk the
// PDF worker inserted (spec.md §4.9 step d).
func (p *Pipeline) processPDFBranch(ctx context.Context, obj *store.Object) error {
	chunks, err := p.chunks.ListByObject(ctx, obj.ID)
	if err != nil {
		return fmt.Errorf("list chunks for pdf object: %w", err)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("pdf object %s has no pre-existing chunk", obj.ID)
	}
	return p.embedAndLink(ctx, obj, chunks)
}

// processChunkBranch runs the saga of spec.md §4.9 step e / §4.9
// compensation: chunk_text → insert chunks → embed → insert links,
// compensating earlier sub-steps if a later one fails.
func (p *Pipeline) processChunkBranch(ctx context.Context, obj *store.Object) error {
	correlationID := aigw.NewCorrelationID()
	aiChunks, err := p.gateway.ChunkText(ctx, obj.CleanedText, correlationID)
	if err != nil {
		return fmt.Errorf("chunk_text: %w", err)
	}
	if len(aiChunks) == 0 {
		return fmt.Errorf("chunk_text returned no chunks")
	}

	rows := make([]*store.Chunk, 0, len(aiChunks))
	for _, c := range aiChunks {
		tagsJSON := mustJSON(c.Tags)
		propositionsJSON := mustJSON(c.Propositions)
		rows = append(rows, &store.Chunk{
			ObjectID:         obj.ID,
			ChunkIdx:         c.ChunkIdx,
			Content:          c.Content,
			Summary:          c.Summary,
			TagsJSON:         tagsJSON,
			PropositionsJSON: propositionsJSON,
			TokenCount:       estimateTokens(c.Content),
		})
	}

	if err := p.chunks.AddBulk(ctx, rows); err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}

	stored, err := p.chunks.ListByObject(ctx, obj.ID)
	if err != nil {
		p.compensateChunks(ctx, rows)
		return fmt.Errorf("re-read stored chunks: %w", err)
	}

	if err := p.embedAndLink(ctx, obj, stored); err != nil {
		p.compensateChunks(ctx, stored)
		return err
	}
	return nil
}

// embedAndLink embeds chunks' content via the circuit-breaker- and
// concurrency-guarded AI Gateway, writes the vectors, and links them
// (spec.md §4.9 steps d/e, §5's breaker/max_concurrent rules).
func (p *Pipeline) embedAndLink(ctx context.Context, obj *store.Object, chunks []*store.Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := p.guardedEmbed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embed returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	now := time.Now().UTC()
	ids := make([]string, len(chunks))
	records := make([]vectorstore.Record, len(chunks))
	for i, c := range chunks {
		id := uuid.NewString()
		ids[i] = id
		records[i] = vectorstore.Record{
			ID:              id,
			RecordType:      vectorstore.RecordTypeChunk,
			MediaType:       obj.ObjectType,
			Layer:           vectorstore.LayerLOM,
			ProcessingDepth: vectorstore.DepthChunk,
			Vector:          vectors[i],
			Content:         c.Content,
			ObjectID:        obj.ID,
			SQLChunkID:      c.ID,
			ChunkIdx:        c.ChunkIdx,
			Title:           obj.Title,
			Summary:         c.Summary,
			SourceURI:       obj.SourceURI.String,
			CreatedAt:       now,
			LastAccessedAt:  now,
		}
	}

	addedIDs, err := p.vs.AddDocuments(ctx, records)
	if err != nil {
		return fmt.Errorf("add vectors: %w", err)
	}

	links := make([]*store.EmbeddingLink, len(chunks))
	for i, c := range chunks {
		links[i] = &store.EmbeddingLink{ChunkID: c.ID, Model: embedModel, VectorID: ids[i]}
	}
	if err := p.links.AddBulk(ctx, links); err != nil {
		if delErr := p.vs.DeleteByIDs(ctx, addedIDs); delErr != nil {
			log.Printf("pipeline: compensating vector delete for object %s failed: %v", obj.ID, delErr)
		}
		return fmt.Errorf("insert embedding links: %w", err)
	}
	return nil
}

// guardedEmbed applies the circuit breaker and the embed
// max_concurrent=10 semaphore around a single Gateway.Embed call,
// recording the request against the shared rate-limit window.
func (p *Pipeline) guardedEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if !p.embedBreaker.Allow() {
		return nil, breaker.ErrOpen{Name: "embed"}
	}

	select {
	case p.embedSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-p.embedSem }()

	p.limiter.Record(1)
	vectors, err := p.gateway.Embed(ctx, texts)
	if err != nil {
		p.embedBreaker.RecordFailure()
		return nil, err
	}
	p.embedBreaker.RecordSuccess()
	return vectors, nil
}

// compensateChunks is the saga's best-effort rollback for chunks
// already inserted when a later sub-step fails (spec.md §4.9
// compensation paragraph); failures are logged, never re-raised.
func (p *Pipeline) compensateChunks(ctx context.Context, chunks []*store.Chunk) {
	ids := make([]int64, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	if err := p.links.DeleteByChunkIDs(ctx, ids); err != nil {
		log.Printf("pipeline: compensation delete_links failed: %v", err)
	}
	if err := p.chunks.DeleteByIDs(ctx, ids); err != nil {
		log.Printf("pipeline: compensation delete_chunks failed: %v", err)
	}
}

func estimateTokens(s string) int {
	return len(s) / 4
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}
