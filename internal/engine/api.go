// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package engine

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/northbound/knowledge-core/internal/aigw"
	"github.com/northbound/knowledge-core/internal/events"
	"github.com/northbound/knowledge-core/internal/store"
	"github.com/northbound/knowledge-core/internal/vectorstore"
)

// AddJobOpts mirrors spec.md §6's `add_job(type, identifier, opts)`
// third argument: a priority and an optional already-known object (for
// re-ingestion of an existing source).
type AddJobOpts struct {
	Priority        int
	RelatedObjectID *string
	JobSpecificData any
}

// AddJob enqueues a new ingestion job (spec.md §6 Ingestion surface).
func (e *Engine) AddJob(ctx context.Context, jobType, identifier string, opts AddJobOpts) (*store.Job, error) {
	return e.queue.AddJob(ctx, jobType, identifier, opts.Priority, opts.RelatedObjectID, opts.JobSpecificData)
}

// Cancel implements spec.md §6's `cancel(id)`: only affects jobs still
// in `queued` or `retry_pending` (spec.md §5's cancellation semantics).
func (e *Engine) Cancel(ctx context.Context, id string) (bool, error) {
	return e.queue.Cancel(ctx, id)
}

// Retry implements spec.md §6's `retry(id)`.
func (e *Engine) Retry(ctx context.Context, id string) (bool, error) {
	return e.queue.Retry(ctx, id)
}

// Stats implements spec.md §6's `stats()`: a status -> count breakdown
// of ingestion jobs.
func (e *Engine) Stats(ctx context.Context) (map[string]int, error) {
	return e.queue.Stats(ctx)
}

// ActiveCount implements spec.md §6's `active_count()`.
func (e *Engine) ActiveCount() int {
	return e.queue.ActiveCount()
}

// On implements spec.md §6's `on(event, handler)` as a Go channel
// subscription; the returned cancel func must be called to unsubscribe.
func (e *Engine) On() (<-chan events.Event, func()) {
	return e.queue.On()
}

// SimilarByText implements spec.md §6's `similar_by_text(q, {k, filter})`.
func (e *Engine) SimilarByText(ctx context.Context, query string, k int, filter vectorstore.Filter) ([]vectorstore.Result, error) {
	return e.vs.QuerySimilarByText(ctx, query, k, filter)
}

// SimilarByVector implements spec.md §6's `similar_by_vector(v, {k, filter})`.
func (e *Engine) SimilarByVector(ctx context.Context, v []float32, k int, filter vectorstore.Filter) ([]vectorstore.Result, error) {
	return e.vs.QuerySimilarByVector(ctx, v, k, filter)
}

// Retriever is the narrow read surface `get_retriever(k, filter)`
// hands to a caller (e.g. a RAG chain) without exposing the whole
// engine.
type Retriever struct {
	engine *Engine
	k      int
	filter vectorstore.Filter
}

// GetRetriever implements spec.md §6's `get_retriever(k, filter)`.
func (e *Engine) GetRetriever(k int, filter vectorstore.Filter) *Retriever {
	return &Retriever{engine: e, k: k, filter: filter}
}

// Retrieve runs the retriever's fixed k/filter against a fresh query.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]vectorstore.Result, error) {
	return r.engine.SimilarByText(ctx, query, r.k, r.filter)
}

// CognitiveData is the payload `create_with_cognitive(data)` accepts:
// an object plus its cognitive bio/relationships, so notes, tab
// groups, and other caller-originated objects can be created with
// their full TSTP and cognitive state in one call instead of through
// the ingestion queue.
type CognitiveData struct {
	ObjectType        string
	SourceURI         string
	Title             string
	Summary           string
	Tags              []string
	Propositions      []aigw.Proposition
	ChildObjectIDs    []string
	ObjectBio         *store.ObjectBio
	ObjectRelationships *store.ObjectRelationships
}

// CreateWithCognitive implements spec.md §6's `create_with_cognitive(data)`:
// an object-lifecycle entry point for objects that arrive fully-formed
// (notes, tab groups) rather than through the ingestion queue, so their
// cognitive bio/relationships can be set atomically with creation.
func (e *Engine) CreateWithCognitive(ctx context.Context, data CognitiveData) (*store.Object, error) {
	tagsJSON, _ := json.Marshal(data.Tags)
	propositionsJSON, _ := json.Marshal(data.Propositions)
	childIDsJSON, _ := json.Marshal(data.ChildObjectIDs)

	obj := &store.Object{
		ID:               uuid.NewString(),
		ObjectType:       data.ObjectType,
		Title:            data.Title,
		Status:           store.StatusParsed,
		Summary:          data.Summary,
		TagsJSON:         string(tagsJSON),
		PropositionsJSON: string(propositionsJSON),
		ChildObjectIDsJSON: string(childIDsJSON),
		Layer:            "lom",
	}
	if data.SourceURI != "" {
		obj.SourceURI.String = data.SourceURI
		obj.SourceURI.Valid = true
	}
	if data.ObjectBio != nil {
		b, _ := json.Marshal(data.ObjectBio)
		obj.ObjectBioJSON = string(b)
	}
	if data.ObjectRelationships != nil {
		b, _ := json.Marshal(data.ObjectRelationships)
		obj.RelationshipsJSON = string(b)
	}

	created, _, err := e.Objects.Create(ctx, obj)
	if err != nil {
		return nil, err
	}

	if created.ObjectType == "tab_group" && len(data.ChildObjectIDs) >= 3 {
		e.composite.Schedule(ctx, created.ID)
	}
	return created, nil
}

// AddChildToTabGroup appends childID to parent's child_object_ids and
// (re)schedules Composite Enrichment — the trigger spec.md §4.10
// names ("debounced call schedule(object_id)") without specifying its
// caller; this is that caller for the one composite-bearing object
// type the spec defines.
func (e *Engine) AddChildToTabGroup(ctx context.Context, parentID, childID string) error {
	childIDs, err := e.Objects.GetChildIDs(ctx, parentID)
	if err != nil {
		return err
	}
	for _, id := range childIDs {
		if id == childID {
			return nil
		}
	}
	childIDs = append(childIDs, childID)
	if err := e.Objects.UpdateChildIDs(ctx, parentID, childIDs); err != nil {
		return err
	}
	e.composite.Schedule(ctx, parentID)
	return nil
}

// DeleteObjects implements spec.md §6's `delete_objects(ids)`.
func (e *Engine) DeleteObjects(ctx context.Context, ids []string) DeletionResult {
	r := e.deletion.DeleteObjects(ctx, ids)
	return DeletionResult(r)
}

// DeletionResult mirrors internal/deletion.Result at the facade
// boundary so callers of internal/engine never need to import
// internal/deletion directly.
type DeletionResult struct {
	Successful        []string
	Failed            []string
	NotFound          []string
	OrphanedVectorIDs []string
	SQLiteError       string
	VectorError       string
}

// DeleteBySourceURI implements spec.md §6's `delete_by_source_uri(uri)`:
// resolve the object by its unique source_uri, then defer to the same
// Deletion Orchestrator path as DeleteObjects.
func (e *Engine) DeleteBySourceURI(ctx context.Context, uri string) (DeletionResult, error) {
	obj, err := e.Objects.GetBySourceURI(ctx, uri)
	if err != nil {
		return DeletionResult{}, err
	}
	if obj == nil {
		return DeletionResult{NotFound: []string{}}, nil
	}
	return e.DeleteObjects(ctx, []string{obj.ID}), nil
}

// GetSourceDetailsByIDs implements spec.md §6's `get_source_details_by_ids(ids)`.
func (e *Engine) GetSourceDetailsByIDs(ctx context.Context, ids []string) (map[string]store.SourceDetails, error) {
	return e.Objects.GetSourceDetailsByIDs(ctx, ids)
}

// EmbedAllUnembeddedChunks drains internal/store's ListUnembedded
// cursor through the AI Gateway and Vector Store, for the reembed
// utility spec.md §6 names (`embed_all_unembedded_chunks()`).
func (e *Engine) EmbedAllUnembeddedChunks(ctx context.Context) (int, error) {
	const batchSize = 100
	total := 0
	for {
		chunks, err := e.Chunks.ListUnembedded(ctx, batchSize)
		if err != nil {
			return total, err
		}
		if len(chunks) == 0 {
			return total, nil
		}

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vectors, err := e.gateway.Embed(ctx, texts)
		if err != nil {
			return total, err
		}

		records := make([]vectorstore.Record, 0, len(chunks))
		links := make([]*store.EmbeddingLink, 0, len(chunks))
		for i, c := range chunks {
			vectorID := uuid.NewString()
			var tags, propositions []string
			_ = json.Unmarshal([]byte(c.TagsJSON), &tags)
			_ = json.Unmarshal([]byte(c.PropositionsJSON), &propositions)
			records = append(records, vectorstore.Record{
				ID:              vectorID,
				RecordType:      vectorstore.RecordTypeChunk,
				Layer:           "lom",
				ProcessingDepth: vectorstore.DepthChunk,
				Vector:          vectors[i],
				Content:         c.Content,
				ObjectID:        c.ObjectID,
				SQLChunkID:      c.ID,
				ChunkIdx:        c.ChunkIdx,
				Summary:         c.Summary,
				Tags:            tags,
				Propositions:    propositions,
			})
			links = append(links, &store.EmbeddingLink{ChunkID: c.ID, VectorID: vectorID})
		}

		if _, err := e.vs.AddDocuments(ctx, records); err != nil {
			return total, err
		}
		if err := e.Links.AddBulk(ctx, links); err != nil {
			return total, err
		}
		total += len(chunks)
		if len(chunks) < batchSize {
			return total, nil
		}
	}
}
