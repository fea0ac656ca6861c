// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package deletion

import (
	"context"
	"log"

	"github.com/northbound/knowledge-core/internal/store"
	"github.com/northbound/knowledge-core/internal/vectorstore"
)

const batchSize = 500

// Result is delete_objects's return shape (spec.md §4.11).
type Result struct {
	Successful        []string
	Failed            []string
	NotFound          []string
	OrphanedVectorIDs []string
	SQLiteError       string
	VectorError       string
}

// Orchestrator implements the two-phase Deletion Orchestrator of
// spec.md §4.11: an RS-transaction-first delete, then a best-effort VS
// cleanup with orphan tracking.
type Orchestrator struct {
	db      *store.DB
	objects *store.ObjectRepository
	chunks  *store.ChunkRepository
	links   *store.EmbeddingLinkRepository
	vs      *vectorstore.Store
}

func New(db *store.DB, objects *store.ObjectRepository, chunks *store.ChunkRepository, links *store.EmbeddingLinkRepository, vs *vectorstore.Store) *Orchestrator {
	return &Orchestrator{db: db, objects: objects, chunks: chunks, links: links, vs: vs}
}

// DeleteObjects implements spec.md §4.11's algorithm: dedupe, batch at
// 500, best-effort relationship cleanup, one RS transaction per batch,
// then best-effort VS cleanup with orphan tracking.
func (o *Orchestrator) DeleteObjects(ctx context.Context, ids []string) Result {
	unique := dedupe(ids)

	result := Result{}
	for start := 0; start < len(unique); start += batchSize {
		end := start + batchSize
		if end > len(unique) {
			end = len(unique)
		}
		o.processBatch(ctx, unique[start:end], &result)
	}
	return result
}

func (o *Orchestrator) processBatch(ctx context.Context, batch []string, result *Result) {
	chunkIDs, err := o.chunks.GetChunkIDsByObjectIDs(ctx, batch)
	if err != nil {
		log.Printf("deletion: read chunk_ids for batch failed, continuing: %v", err)
	}
	vectorIDs, err := o.links.ListVectorIDsByObjectIDs(ctx, batch)
	if err != nil {
		log.Printf("deletion: read vector_ids for batch failed, continuing: %v", err)
	}

	o.cleanupReverseRelationships(ctx, batch)

	var deletedIDs []string
	txErr := o.db.Transaction(ctx, func(ctx context.Context) error {
		if err := o.links.DeleteByObjectIDs(ctx, batch); err != nil {
			return err
		}
		if err := o.chunks.DeleteByObjectIDs(ctx, batch); err != nil {
			return err
		}
		deleted, err := o.objects.DeleteByIDs(ctx, batch)
		if err != nil {
			return err
		}
		deletedIDs = deleted
		return nil
	})

	if txErr != nil {
		log.Printf("deletion: RS transaction failed for batch, marking all as failed: %v", txErr)
		result.SQLiteError = txErr.Error()
		result.Failed = append(result.Failed, batch...)
		return
	}

	existing := make(map[string]bool, len(deletedIDs))
	for _, id := range deletedIDs {
		existing[id] = true
	}
	for _, id := range batch {
		if existing[id] {
			result.Successful = append(result.Successful, id)
		} else {
			result.NotFound = append(result.NotFound, id)
		}
	}

	if len(chunkIDs) == 0 || len(vectorIDs) == 0 {
		return
	}
	if err := o.vs.DeleteByIDs(ctx, vectorIDs); err != nil {
		log.Printf("deletion: VS delete_by_ids failed for batch, tracking orphans: %v", err)
		result.VectorError = err.Error()
		result.OrphanedVectorIDs = append(result.OrphanedVectorIDs, vectorIDs...)
	}
}

// cleanupReverseRelationships implements spec.md §4.11 step b:
// best-effort removal of every `related` entry pointing at an object
// about to be deleted.
func (o *Orchestrator) cleanupReverseRelationships(ctx context.Context, batch []string) {
	for _, objectID := range batch {
		obj, err := o.objects.GetByID(ctx, objectID)
		if err != nil {
			continue
		}
		rel, err := store.ParseObjectRelationships(obj.RelationshipsJSON)
		if err != nil || rel == nil {
			continue
		}
		for _, r := range rel.Related {
			patched, removed, err := store.RemoveRelationship(getRelationshipsJSON(ctx, o.objects, r.To), objectID)
			if err != nil || !removed {
				continue
			}
			patch := store.ObjectPatch{RelationshipsJSON: &patched}
			if err := o.objects.Update(ctx, r.To, patch); err != nil {
				log.Printf("deletion: best-effort relationship cleanup on %s failed: %v", r.To, err)
			}
		}
	}
}

func getRelationshipsJSON(ctx context.Context, objects *store.ObjectRepository, id string) string {
	obj, err := objects.GetByID(ctx, id)
	if err != nil {
		return ""
	}
	return obj.RelationshipsJSON
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
