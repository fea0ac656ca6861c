// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package store

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/northbound/knowledge-core/internal/apperr"
)

// EmbeddingLink mirrors the `embedding_links` table (spec.md §3): the
// bidirectional bridge between an RS chunk and a VS vector record.
type EmbeddingLink struct {
	ID       int64
	ChunkID  int64
	Model    string
	VectorID string
	CreatedAt time.Time
}

// EmbeddingLinkRepository implements spec.md §4.4's link operations.
type EmbeddingLinkRepository struct {
	db *DB
}

func NewEmbeddingLinkRepository(db *DB) *EmbeddingLinkRepository {
	return &EmbeddingLinkRepository{db: db}
}

// Add inserts a link. On a unique violation on vector_id it returns the
// existing link instead of erroring (idempotent, spec.md §4.4).
func (r *EmbeddingLinkRepository) Add(ctx context.Context, link *EmbeddingLink) (*EmbeddingLink, error) {
	now := isoNow()
	res, err := r.db.Exec(ctx, `
		INSERT INTO embedding_links (chunk_id, model, vector_id, created_at) VALUES (?,?,?,?)`,
		link.ChunkID, link.Model, link.VectorID, now,
	)
	if err == nil {
		id, _ := res.LastInsertId()
		link.ID = id
		link.CreatedAt, _ = time.Parse(time.RFC3339Nano, now)
		return link, nil
	}

	if IsUniqueViolation(err, "vector_id") {
		log.Printf("EmbeddingLinkRepository.Add: vector_id collision on %s, returning existing link", link.VectorID)
		existing, getErr := r.getByVectorID(ctx, link.VectorID)
		if getErr != nil {
			return nil, getErr
		}
		return existing, nil
	}
	return nil, apperr.Storage("add embedding link", err)
}

func (r *EmbeddingLinkRepository) getByVectorID(ctx context.Context, vectorID string) (*EmbeddingLink, error) {
	row := r.db.QueryRow(ctx, "SELECT id, chunk_id, model, vector_id, created_at FROM embedding_links WHERE vector_id = ?", vectorID)
	var l EmbeddingLink
	var createdAt string
	if err := row.Scan(&l.ID, &l.ChunkID, &l.Model, &l.VectorID, &createdAt); err != nil {
		return nil, apperr.Storage("get embedding link by vector_id", err)
	}
	l.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &l, nil
}

// AddBulk inserts every link in a single transaction; per-row unique
// violations on vector_id are logged and skipped, any other error
// aborts the whole batch (spec.md §4.4).
func (r *EmbeddingLinkRepository) AddBulk(ctx context.Context, links []*EmbeddingLink) error {
	if len(links) == 0 {
		return nil
	}
	return r.db.Transaction(ctx, func(ctx context.Context) error {
		for _, link := range links {
			now := isoNow()
			res, err := r.db.Exec(ctx, `
				INSERT INTO embedding_links (chunk_id, model, vector_id, created_at) VALUES (?,?,?,?)`,
				link.ChunkID, link.Model, link.VectorID, now,
			)
			if err != nil {
				if IsUniqueViolation(err, "vector_id") {
					log.Printf("EmbeddingLinkRepository.AddBulk: skipping duplicate vector_id %s", link.VectorID)
					continue
				}
				return apperr.Storage("add bulk embedding link", err)
			}
			id, _ := res.LastInsertId()
			link.ID = id
			link.CreatedAt, _ = time.Parse(time.RFC3339Nano, now)
		}
		return nil
	})
}

// ListVectorIDsByObjectIDs resolves the vector_ids belonging to any
// chunk of the given objects, for the Deletion Orchestrator's
// best-effort VS cleanup (spec.md §4.11 step d) — it must run before
// the links are deleted in the same batch.
func (r *EmbeddingLinkRepository) ListVectorIDsByObjectIDs(ctx context.Context, objectIDs []string) ([]string, error) {
	if len(objectIDs) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(objectIDs)
	query := `SELECT el.vector_id FROM embedding_links el
		JOIN chunks c ON c.id = el.chunk_id
		WHERE c.object_id IN (` + placeholders + `)`
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage("list vector ids by object ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Storage("scan vector id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteByChunkIDs removes links for the given chunk ids.
func (r *EmbeddingLinkRepository) DeleteByChunkIDs(ctx context.Context, chunkIDs []int64) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	strIDs := make([]string, len(chunkIDs))
	for i, id := range chunkIDs {
		strIDs[i] = strconv.FormatInt(id, 10)
	}
	placeholders, args := inClause(strIDs)
	if _, err := r.db.Exec(ctx, "DELETE FROM embedding_links WHERE chunk_id IN ("+placeholders+")", args...); err != nil {
		return apperr.Storage("delete embedding links by chunk ids", err)
	}
	return nil
}

// DeleteByObjectIDs removes links whose chunk belongs to any of the
// given objects, via a subselect on chunks, batched at 500 per
// statement (spec.md §4.4).
func (r *EmbeddingLinkRepository) DeleteByObjectIDs(ctx context.Context, objectIDs []string) error {
	const batchSize = 500
	for start := 0; start < len(objectIDs); start += batchSize {
		end := start + batchSize
		if end > len(objectIDs) {
			end = len(objectIDs)
		}
		placeholders, args := inClause(objectIDs[start:end])
		query := `DELETE FROM embedding_links WHERE chunk_id IN (
			SELECT id FROM chunks WHERE object_id IN (` + placeholders + `)
		)`
		if _, err := r.db.Exec(ctx, query, args...); err != nil {
			return apperr.Storage("delete embedding links by object ids", err)
		}
	}
	return nil
}

