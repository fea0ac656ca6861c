// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/northbound/knowledge-core/internal/apperr"
)

// Object status values (spec.md §3). Transitions are constrained to
// the DAG documented there; ObjectRepository does not itself enforce
// the DAG (the chunking pipeline's compare-and-swap claim does) but
// UpdateStatus enforces the error_info / parsed_at side-conditions.
const (
	StatusNew             = "new"
	StatusFetched         = "fetched"
	StatusParsed          = "parsed"
	StatusEmbedding       = "embedding"
	StatusEmbedded        = "embedded"
	StatusEmbeddingFailed = "embedding_failed"
	StatusError           = "error"
)

// Object mirrors the `objects` table (spec.md §3).
type Object struct {
	ID                 string
	ObjectType         string
	SourceURI          sql.NullString
	Title              string
	Status             string
	CleanedText        string
	ParsedContentJSON  string
	RawContentRef      string
	ErrorInfo          string
	Summary            string
	TagsJSON           string
	PropositionsJSON   string
	FileHash           string
	OriginalFileName   string
	FileSizeBytes      int64
	FileMimeType       string
	InternalFilePath   string
	ObjectBioJSON      string
	RelationshipsJSON  string
	ChildObjectIDsJSON string
	Layer              string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ParsedAt           sql.NullTime
	SummaryGeneratedAt sql.NullTime
	LastAccessedAt     sql.NullTime
}

// ObjectPatch is a sparse update; nil fields are left untouched.
// SourceURI is deliberately absent: source_uri is immutable (spec.md §4.3).
type ObjectPatch struct {
	Title              *string
	Status             *string
	CleanedText        *string
	ParsedContentJSON  *string
	RawContentRef      *string
	ErrorInfo          *string
	Summary            *string
	TagsJSON           *string
	PropositionsJSON   *string
	ChildObjectIDs     *[]string
	ObjectBioJSON      *string
	RelationshipsJSON  *string
	ParsedAt           *time.Time
	SummaryGeneratedAt *time.Time
}

// ObjectRepository implements the CRUD + lifecycle operations of
// spec.md §4.3.
type ObjectRepository struct {
	db *DB
}

func NewObjectRepository(db *DB) *ObjectRepository { return &ObjectRepository{db: db} }

func isoNow() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// Create inserts a new object. If source_uri collides with an existing
// row, the existing row is re-read and returned instead of erroring
// (idempotent create-or-fetch, spec.md §4.3); the second return value
// reports whether the returned row was that pre-existing one, so a
// caller that only intended to insert can tell a fresh row from a
// collision instead of inferring it from the row's own fields.
func (r *ObjectRepository) Create(ctx context.Context, obj *Object) (*Object, bool, error) {
	return r.CreateSync(ctx, obj)
}

// CreateSync is the non-suspending variant meant to be composed into a
// larger caller transaction (spec.md §4.3); Create is its public alias
// since this store has no async/sync split at the Go level.
func (r *ObjectRepository) CreateSync(ctx context.Context, obj *Object) (*Object, bool, error) {
	if obj.ID == "" {
		obj.ID = uuid.NewString()
	}
	now := isoNow()
	if obj.Layer == "" {
		obj.Layer = "lom"
	}
	if obj.Status == "" {
		obj.Status = StatusNew
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO objects (
			id, object_type, source_uri, title, status, cleaned_text,
			parsed_content_json, raw_content_ref, error_info, summary,
			tags_json, propositions_json, file_hash, original_file_name,
			file_size_bytes, file_mime_type, internal_file_path,
			object_bio_json, object_relationships_json, child_object_ids_json,
			layer, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		obj.ID, obj.ObjectType, nullableString(obj.SourceURI), obj.Title, obj.Status, obj.CleanedText,
		obj.ParsedContentJSON, obj.RawContentRef, obj.ErrorInfo, obj.Summary,
		obj.TagsJSON, obj.PropositionsJSON, obj.FileHash, obj.OriginalFileName,
		obj.FileSizeBytes, obj.FileMimeType, obj.InternalFilePath,
		obj.ObjectBioJSON, obj.RelationshipsJSON, obj.ChildObjectIDsJSON,
		obj.Layer, now, now,
	)
	if err == nil {
		obj.CreatedAt, _ = time.Parse(time.RFC3339Nano, now)
		obj.UpdatedAt = obj.CreatedAt
		return obj, false, nil
	}

	if IsUniqueViolation(err, "source_uri") && obj.SourceURI.Valid {
		log.Printf("ObjectRepository.Create: source_uri collision on %s, returning existing row", obj.SourceURI.String)
		existing, getErr := r.GetBySourceURI(ctx, obj.SourceURI.String)
		if getErr != nil {
			return nil, false, getErr
		}
		if existing == nil {
			return nil, false, apperr.Storage("create object", err)
		}
		return existing, true, nil
	}

	return nil, false, apperr.Storage("create object", err)
}

const objectColumns = `id, object_type, source_uri, title, status, cleaned_text,
	parsed_content_json, raw_content_ref, error_info, summary,
	tags_json, propositions_json, file_hash, original_file_name,
	file_size_bytes, file_mime_type, internal_file_path,
	object_bio_json, object_relationships_json, child_object_ids_json,
	layer, created_at, updated_at, parsed_at, summary_generated_at, last_accessed_at`

func scanObject(row interface{ Scan(dest ...any) error }) (*Object, error) {
	var o Object
	var sourceURI sql.NullString
	var createdAt, updatedAt string
	var parsedAt, summaryAt, lastAccessed sql.NullString

	err := row.Scan(
		&o.ID, &o.ObjectType, &sourceURI, &o.Title, &o.Status, &o.CleanedText,
		&o.ParsedContentJSON, &o.RawContentRef, &o.ErrorInfo, &o.Summary,
		&o.TagsJSON, &o.PropositionsJSON, &o.FileHash, &o.OriginalFileName,
		&o.FileSizeBytes, &o.FileMimeType, &o.InternalFilePath,
		&o.ObjectBioJSON, &o.RelationshipsJSON, &o.ChildObjectIDsJSON,
		&o.Layer, &createdAt, &updatedAt, &parsedAt, &summaryAt, &lastAccessed,
	)
	if err != nil {
		return nil, err
	}
	o.SourceURI = sourceURI
	o.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	o.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if parsedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, parsedAt.String)
		o.ParsedAt = sql.NullTime{Time: t, Valid: true}
	}
	if summaryAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, summaryAt.String)
		o.SummaryGeneratedAt = sql.NullTime{Time: t, Valid: true}
	}
	if lastAccessed.Valid {
		t, _ := time.Parse(time.RFC3339Nano, lastAccessed.String)
		o.LastAccessedAt = sql.NullTime{Time: t, Valid: true}
	}
	return &o, nil
}

func (r *ObjectRepository) GetByID(ctx context.Context, id string) (*Object, error) {
	row := r.db.QueryRow(ctx, "SELECT "+objectColumns+" FROM objects WHERE id = ?", id)
	obj, err := scanObject(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("object "+id, err)
	}
	if err != nil {
		return nil, apperr.Storage("get object by id", err)
	}
	return obj, nil
}

func (r *ObjectRepository) GetBySourceURI(ctx context.Context, uri string) (*Object, error) {
	row := r.db.QueryRow(ctx, "SELECT "+objectColumns+" FROM objects WHERE source_uri = ?", uri)
	obj, err := scanObject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("get object by source_uri", err)
	}
	return obj, nil
}

// ExistsBySourceURI is scoped to layer = 'lom' to distinguish durable
// bookmarks from transient working-memory history (spec.md §4.3).
func (r *ObjectRepository) ExistsBySourceURI(ctx context.Context, uri string) (bool, error) {
	var count int
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(1) FROM objects WHERE source_uri = ? AND layer = 'lom'", uri,
	).Scan(&count)
	if err != nil {
		return false, apperr.Storage("exists by source_uri", err)
	}
	return count > 0, nil
}

func (r *ObjectRepository) FindByFileHash(ctx context.Context, hash string) (*Object, error) {
	row := r.db.QueryRow(ctx, "SELECT "+objectColumns+" FROM objects WHERE file_hash = ? LIMIT 1", hash)
	obj, err := scanObject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("find by file hash", err)
	}
	return obj, nil
}

// Update applies a sparse patch. source_uri is never touched
// (ObjectPatch has no field for it); child object ids
// are serialized to JSON; any timestamp field is normalized to ISO-8601.
func (r *ObjectRepository) Update(ctx context.Context, id string, patch ObjectPatch) error {
	sets := []string{"updated_at = ?"}
	args := []any{isoNow()}

	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	if patch.CleanedText != nil {
		sets = append(sets, "cleaned_text = ?")
		args = append(args, *patch.CleanedText)
	}
	if patch.ParsedContentJSON != nil {
		sets = append(sets, "parsed_content_json = ?")
		args = append(args, *patch.ParsedContentJSON)
	}
	if patch.RawContentRef != nil {
		sets = append(sets, "raw_content_ref = ?")
		args = append(args, *patch.RawContentRef)
	}
	if patch.ErrorInfo != nil {
		sets = append(sets, "error_info = ?")
		args = append(args, apperr.Truncate(*patch.ErrorInfo))
	}
	if patch.Summary != nil {
		sets = append(sets, "summary = ?")
		args = append(args, *patch.Summary)
	}
	if patch.TagsJSON != nil {
		sets = append(sets, "tags_json = ?")
		args = append(args, *patch.TagsJSON)
	}
	if patch.PropositionsJSON != nil {
		sets = append(sets, "propositions_json = ?")
		args = append(args, *patch.PropositionsJSON)
	}
	if patch.ObjectBioJSON != nil {
		sets = append(sets, "object_bio_json = ?")
		args = append(args, *patch.ObjectBioJSON)
	}
	if patch.RelationshipsJSON != nil {
		sets = append(sets, "object_relationships_json = ?")
		args = append(args, *patch.RelationshipsJSON)
	}
	if patch.ChildObjectIDs != nil {
		b, err := json.Marshal(*patch.ChildObjectIDs)
		if err != nil {
			return fmt.Errorf("marshal child_object_ids: %w", err)
		}
		sets = append(sets, "child_object_ids_json = ?")
		args = append(args, string(b))
	}
	if patch.ParsedAt != nil {
		sets = append(sets, "parsed_at = ?")
		args = append(args, patch.ParsedAt.UTC().Format(time.RFC3339Nano))
	}
	if patch.SummaryGeneratedAt != nil {
		sets = append(sets, "summary_generated_at = ?")
		args = append(args, patch.SummaryGeneratedAt.UTC().Format(time.RFC3339Nano))
	}

	args = append(args, id)
	query := "UPDATE objects SET " + joinSets(sets) + " WHERE id = ?"
	res, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return apperr.Storage("update object", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound("object "+id, nil)
	}
	return nil
}

// UpdateStatus enforces: error_info is cleared when the new status is
// not a failure state; parsed_at is only set when explicitly provided
// (spec.md §4.3).
func (r *ObjectRepository) UpdateStatus(ctx context.Context, id, status string, parsedAt *time.Time, errorInfo *string) error {
	isFailure := status == StatusError || status == StatusEmbeddingFailed

	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{status, isoNow()}

	if !isFailure {
		sets = append(sets, "error_info = NULL")
	} else if errorInfo != nil {
		sets = append(sets, "error_info = ?")
		args = append(args, apperr.Truncate(*errorInfo))
	}

	if parsedAt != nil {
		sets = append(sets, "parsed_at = ?")
		args = append(args, parsedAt.UTC().Format(time.RFC3339Nano))
	}

	args = append(args, id)
	res, err := r.db.Exec(ctx, "UPDATE objects SET "+joinSets(sets)+" WHERE id = ?", args...)
	if err != nil {
		return apperr.Storage("update object status", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound("object "+id, nil)
	}
	return nil
}

func (r *ObjectRepository) FindByStatus(ctx context.Context, statuses []string) ([]*Object, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(statuses)
	rows, err := r.db.Query(ctx, "SELECT "+objectColumns+" FROM objects WHERE status IN ("+placeholders+") ORDER BY created_at ASC", args...)
	if err != nil {
		return nil, apperr.Storage("find by status", err)
	}
	defer rows.Close()
	return scanObjects(rows)
}

// GetProcessable returns up to limit objects with status = parsed,
// oldest first (spec.md §4.3).
func (r *ObjectRepository) GetProcessable(ctx context.Context, limit int) ([]*Object, error) {
	rows, err := r.db.Query(ctx, "SELECT "+objectColumns+" FROM objects WHERE status = ? ORDER BY created_at ASC LIMIT ?", StatusParsed, limit)
	if err != nil {
		return nil, apperr.Storage("get processable objects", err)
	}
	defer rows.Close()
	return scanObjects(rows)
}

func scanObjects(rows *sql.Rows) ([]*Object, error) {
	var out []*Object
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, apperr.Storage("scan object row", err)
		}
		out = append(out, obj)
	}
	return out, rows.Err()
}

func (r *ObjectRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Query(ctx, "SELECT status, COUNT(1) FROM objects GROUP BY status")
	if err != nil {
		return nil, apperr.Storage("count by status", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperr.Storage("scan count row", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *ObjectRepository) DeleteByID(ctx context.Context, id string) error {
	res, err := r.db.Exec(ctx, "DELETE FROM objects WHERE id = ?", id)
	if err != nil {
		return apperr.Storage("delete object", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound("object "+id, nil)
	}
	return nil
}

// DeleteByIDs deletes in batches of 500 (spec.md §4.3) and returns the
// ids that actually existed.
func (r *ObjectRepository) DeleteByIDs(ctx context.Context, ids []string) ([]string, error) {
	const batchSize = 500
	var deleted []string

	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		existing, err := r.filterExisting(ctx, batch)
		if err != nil {
			return deleted, err
		}

		placeholders, args := inClause(batch)
		if _, err := r.db.Exec(ctx, "DELETE FROM objects WHERE id IN ("+placeholders+")", args...); err != nil {
			return deleted, apperr.Storage("delete objects batch", err)
		}
		deleted = append(deleted, existing...)
	}
	return deleted, nil
}

func (r *ObjectRepository) filterExisting(ctx context.Context, ids []string) ([]string, error) {
	placeholders, args := inClause(ids)
	rows, err := r.db.Query(ctx, "SELECT id FROM objects WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, apperr.Storage("filter existing objects", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Storage("scan existing id", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *ObjectRepository) UpdateLastAccessed(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, "UPDATE objects SET last_accessed_at = ? WHERE id = ?", isoNow(), id)
	if err != nil {
		return apperr.Storage("update last accessed", err)
	}
	return nil
}

func (r *ObjectRepository) GetChildIDs(ctx context.Context, id string) ([]string, error) {
	var raw sql.NullString
	err := r.db.QueryRow(ctx, "SELECT child_object_ids_json FROM objects WHERE id = ?", id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("object "+id, nil)
	}
	if err != nil {
		return nil, apperr.Storage("get child ids", err)
	}
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw.String), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal child_object_ids: %w", err)
	}
	return ids, nil
}

func (r *ObjectRepository) UpdateChildIDs(ctx context.Context, id string, childIDs []string) error {
	b, err := json.Marshal(childIDs)
	if err != nil {
		return fmt.Errorf("marshal child_object_ids: %w", err)
	}
	_, err = r.db.Exec(ctx, "UPDATE objects SET child_object_ids_json = ?, updated_at = ? WHERE id = ?", string(b), isoNow(), id)
	if err != nil {
		return apperr.Storage("update child ids", err)
	}
	return nil
}

// SourceDetails is the projection returned by GetSourceDetailsByIDs.
type SourceDetails struct {
	Title      string
	SourceURI  string
	ObjectType string
}

func (r *ObjectRepository) GetSourceDetailsByIDs(ctx context.Context, ids []string) (map[string]SourceDetails, error) {
	if len(ids) == 0 {
		return map[string]SourceDetails{}, nil
	}
	placeholders, args := inClause(ids)
	rows, err := r.db.Query(ctx, "SELECT id, title, source_uri, object_type FROM objects WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, apperr.Storage("get source details", err)
	}
	defer rows.Close()

	out := map[string]SourceDetails{}
	for rows.Next() {
		var id, title, objType string
		var uri sql.NullString
		if err := rows.Scan(&id, &title, &uri, &objType); err != nil {
			return nil, apperr.Storage("scan source details", err)
		}
		out[id] = SourceDetails{Title: title, SourceURI: uri.String, ObjectType: objType}
	}
	return out, rows.Err()
}

// CreateOrUpdate inserts a new object, or if source_uri already exists,
// applies patch to the existing row and returns it.
func (r *ObjectRepository) CreateOrUpdate(ctx context.Context, obj *Object, patch ObjectPatch) (*Object, error) {
	existing, err := r.GetBySourceURI(ctx, obj.SourceURI.String)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		created, _, err := r.Create(ctx, obj)
		return created, err
	}
	if err := r.Update(ctx, existing.ID, patch); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, existing.ID)
}

func nullableString(s sql.NullString) any {
	if !s.Valid {
		return nil
	}
	return s.String
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}

func inClause(values []string) (string, []any) {
	placeholders := ""
	args := make([]any, len(values))
	for i, v := range values {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = v
	}
	return placeholders, args
}
