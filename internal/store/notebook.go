// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package store

import (
	"context"
	"time"

	"github.com/northbound/knowledge-core/internal/apperr"
)

// NotebookObject mirrors a row of `notebook_objects` (spec.md §3):
// a unique (notebook_id, object_id) pairing.
type NotebookObject struct {
	NotebookID string
	ObjectID   string
	AddedAt    time.Time
}

// NotebookRepository implements the notebook↔object association
// operations spec.md §3 requires: cascade-on-delete is handled by the
// `ON DELETE CASCADE` foreign key on object_id; notebook-side cascade
// is this repository's responsibility since notebooks live outside
// this core's scope (spec.md §1).
type NotebookRepository struct {
	db *DB
}

func NewNotebookRepository(db *DB) *NotebookRepository { return &NotebookRepository{db: db} }

// Add associates an object with a notebook. Idempotent: re-adding an
// existing pair is a silent no-op (INSERT OR IGNORE).
func (r *NotebookRepository) Add(ctx context.Context, notebookID, objectID string) error {
	_, err := r.db.Exec(ctx, `
		INSERT OR IGNORE INTO notebook_objects (notebook_id, object_id, added_at) VALUES (?,?,?)`,
		notebookID, objectID, isoNow(),
	)
	if err != nil {
		return apperr.Storage("add notebook object", err)
	}
	return nil
}

// Remove detaches an object from a notebook.
func (r *NotebookRepository) Remove(ctx context.Context, notebookID, objectID string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM notebook_objects WHERE notebook_id = ? AND object_id = ?", notebookID, objectID)
	if err != nil {
		return apperr.Storage("remove notebook object", err)
	}
	return nil
}

// ListObjectIDs returns every object id attached to a notebook.
func (r *NotebookRepository) ListObjectIDs(ctx context.Context, notebookID string) ([]string, error) {
	rows, err := r.db.Query(ctx, "SELECT object_id FROM notebook_objects WHERE notebook_id = ? ORDER BY added_at ASC", notebookID)
	if err != nil {
		return nil, apperr.Storage("list notebook object ids", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Storage("scan notebook object id", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RemoveByObjectID detaches an object from every notebook it belongs
// to. The `ON DELETE CASCADE` foreign key already does this when an
// object row is deleted; this method is the explicit form of the same
// cleanup, and nothing in this module calls it.
func (r *NotebookRepository) RemoveByObjectID(ctx context.Context, objectID string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM notebook_objects WHERE object_id = ?", objectID)
	if err != nil {
		return apperr.Storage("remove notebook objects by object id", err)
	}
	return nil
}
