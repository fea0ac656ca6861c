// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package store

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/northbound/knowledge-core/internal/apperr"
)

// Chunk mirrors the `chunks` table (spec.md §3).
type Chunk struct {
	ID               int64
	ObjectID         string
	ChunkIdx         int
	Content          string
	Summary          string
	TagsJSON         string
	PropositionsJSON string
	TokenCount       int
	CreatedAt        time.Time
}

// ChunkRepository implements spec.md §4.4's chunk operations.
type ChunkRepository struct {
	db *DB
}

func NewChunkRepository(db *DB) *ChunkRepository { return &ChunkRepository{db: db} }

const chunkColumns = `id, object_id, chunk_idx, content, summary, tags_json, propositions_json, token_count, created_at`

func scanChunk(row interface{ Scan(dest ...any) error }) (*Chunk, error) {
	var c Chunk
	var createdAt string
	if err := row.Scan(&c.ID, &c.ObjectID, &c.ChunkIdx, &c.Content, &c.Summary, &c.TagsJSON, &c.PropositionsJSON, &c.TokenCount, &createdAt); err != nil {
		return nil, err
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &c, nil
}

// AddBulk inserts all chunks inside a single transaction (spec.md §4.4)
// and populates each chunk's ID with the row it was assigned.
func (r *ChunkRepository) AddBulk(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.Transaction(ctx, func(ctx context.Context) error {
		for _, c := range chunks {
			now := isoNow()
			res, err := r.db.Exec(ctx, `
				INSERT INTO chunks (object_id, chunk_idx, content, summary, tags_json, propositions_json, token_count, created_at)
				VALUES (?,?,?,?,?,?,?,?)`,
				c.ObjectID, c.ChunkIdx, c.Content, c.Summary, c.TagsJSON, c.PropositionsJSON, c.TokenCount, now,
			)
			if err != nil {
				return apperr.Storage("add bulk chunk", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return apperr.Storage("add bulk chunk last insert id", err)
			}
			c.ID = id
			c.CreatedAt, _ = time.Parse(time.RFC3339Nano, now)
		}
		return nil
	})
}

// ListByObject returns an object's chunks ordered by chunk_idx
// (spec.md §3, §4.4).
func (r *ChunkRepository) ListByObject(ctx context.Context, objectID string) ([]*Chunk, error) {
	rows, err := r.db.Query(ctx, "SELECT "+chunkColumns+" FROM chunks WHERE object_id = ? ORDER BY chunk_idx ASC", objectID)
	if err != nil {
		return nil, apperr.Storage("list chunks by object", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

func scanChunks(rows *sql.Rows) ([]*Chunk, error) {
	var out []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, apperr.Storage("scan chunk row", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListUnembedded returns chunks with no embedding-link row, oldest
// first, via LEFT JOIN ... IS NULL (spec.md §4.4) — feeds the reembed
// utility (spec.md §6).
func (r *ChunkRepository) ListUnembedded(ctx context.Context, limit int) ([]*Chunk, error) {
	rows, err := r.db.Query(ctx, `
		SELECT c.id, c.object_id, c.chunk_idx, c.content, c.summary, c.tags_json, c.propositions_json, c.token_count, c.created_at
		FROM chunks c
		LEFT JOIN embedding_links el ON el.chunk_id = c.id
		WHERE el.id IS NULL
		ORDER BY c.created_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, apperr.Storage("list unembedded chunks", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// GetChunkIDsByObjectIDs returns every chunk id belonging to any of the
// given objects (spec.md §4.11 needs this to drive VS cleanup).
func (r *ChunkRepository) GetChunkIDsByObjectIDs(ctx context.Context, objectIDs []string) ([]int64, error) {
	if len(objectIDs) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(objectIDs)
	rows, err := r.db.Query(ctx, "SELECT id FROM chunks WHERE object_id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, apperr.Storage("get chunk ids by object ids", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Storage("scan chunk id", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeleteByIDs removes chunk rows by id.
func (r *ChunkRepository) DeleteByIDs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = strconv.FormatInt(id, 10)
	}
	placeholders, args := inClause(strIDs)
	if _, err := r.db.Exec(ctx, "DELETE FROM chunks WHERE id IN ("+placeholders+")", args...); err != nil {
		return apperr.Storage("delete chunks by ids", err)
	}
	return nil
}

// DeleteByObjectIDs removes every chunk belonging to any of the given
// objects, batched at 500 like the rest of the deletion path.
func (r *ChunkRepository) DeleteByObjectIDs(ctx context.Context, objectIDs []string) error {
	const batchSize = 500
	for start := 0; start < len(objectIDs); start += batchSize {
		end := start + batchSize
		if end > len(objectIDs) {
			end = len(objectIDs)
		}
		placeholders, args := inClause(objectIDs[start:end])
		if _, err := r.db.Exec(ctx, "DELETE FROM chunks WHERE object_id IN ("+placeholders+")", args...); err != nil {
			return apperr.Storage("delete chunks by object ids", err)
		}
	}
	return nil
}

