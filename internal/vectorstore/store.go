// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	lancedb "github.com/aqua777/go-lancedb"

	"github.com/northbound/knowledge-core/internal/apperr"
)

// Embedder is the opaque embedding provider (spec.md §6's Embedder
// interface) that AddDocumentsWithText and QuerySimilarByText delegate
// to via the AI Gateway.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Store wraps github.com/aqua777/go-lancedb as the columnar vector
// store of spec.md §4.2, one table per Store instance (table name
// `<prefix>_embeddings`). Schema is pinned on first use via the
// sentinel-row trick (spec.md §4.2): insert one fully-populated row
// and delete it in the same call, which fixes every column's Arrow
// type before any real data lands.
type Store struct {
	conn  *lancedb.Connection
	table *lancedb.Table

	tableName string
	embedder  Embedder

	// updateMu serializes UpdateMetadata per object id, since the
	// underlying store is append-mostly and a metadata patch is
	// implemented as read-all/delete/re-insert (spec.md §4.2).
	updateMu sync.Mutex
}

var arrowSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.BinaryTypes.String},
	{Name: "record_type", Type: arrow.BinaryTypes.String},
	{Name: "media_type", Type: arrow.BinaryTypes.String},
	{Name: "layer", Type: arrow.BinaryTypes.String},
	{Name: "processing_depth", Type: arrow.BinaryTypes.String},
	{Name: "vector", Type: arrow.FixedSizeListOf(Dim, arrow.PrimitiveTypes.Float32)},
	{Name: "content", Type: arrow.BinaryTypes.String},
	{Name: "object_id", Type: arrow.BinaryTypes.String},
	{Name: "sql_chunk_id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "chunk_idx", Type: arrow.PrimitiveTypes.Int64},
	{Name: "notebook_id", Type: arrow.BinaryTypes.String},
	{Name: "tab_group_id", Type: arrow.BinaryTypes.String},
	{Name: "title", Type: arrow.BinaryTypes.String},
	{Name: "summary", Type: arrow.BinaryTypes.String},
	{Name: "source_uri", Type: arrow.BinaryTypes.String},
	{Name: "tags_json", Type: arrow.BinaryTypes.String},
	{Name: "propositions_json", Type: arrow.BinaryTypes.String},
	{Name: "created_at", Type: arrow.BinaryTypes.String},
	{Name: "last_accessed_at", Type: arrow.BinaryTypes.String},
}, nil)

// Open connects to the LanceDB directory at uri and opens (or, on
// first use, schematizes) the `<prefix>_embeddings` table (spec.md
// §6: "<user_data_path>/data/lancedb/").
func Open(ctx context.Context, uri, prefix string, embedder Embedder) (*Store, error) {
	conn, err := lancedb.Connect(uri)
	if err != nil {
		return nil, apperr.VectorStore("connect lancedb", err)
	}

	tableName := prefix + "_embeddings"
	s := &Store{conn: conn, tableName: tableName, embedder: embedder}

	names, err := conn.TableNames()
	if err != nil {
		conn.Close()
		return nil, apperr.VectorStore("list lancedb tables", err)
	}
	for _, name := range names {
		if name == tableName {
			table, err := conn.OpenTable(tableName)
			if err != nil {
				conn.Close()
				return nil, apperr.VectorStore("open lancedb table", err)
			}
			s.table = table
			return s, nil
		}
	}

	if err := s.establishSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// establishSchema runs the sentinel-row trick documented in spec.md
// §4.2 and §9: a fully-populated dummy row is inserted to pin every
// column's Arrow type, then deleted in the same operation.
func (s *Store) establishSchema(ctx context.Context) error {
	sentinel := Record{
		ID:              "00000000-sentinel-schema-row",
		RecordType:      RecordTypeObject,
		MediaType:       "sentinel",
		Layer:           LayerLOM,
		ProcessingDepth: DepthObject,
		Vector:          make([]float32, Dim),
		Content:         "sentinel",
		Tags:            []string{"sentinel"},
		Propositions:    []string{"sentinel"},
		CreatedAt:       time.Now().UTC(),
		LastAccessedAt:  time.Now().UTC(),
	}

	record, err := s.buildRecord([]Record{sentinel})
	if err != nil {
		return err
	}
	defer record.Release()

	table, err := s.conn.CreateTable(s.tableName)
	if err != nil {
		return apperr.VectorStore("create lancedb table", err)
	}
	if err := table.Add(record, lancedb.AddModeOverwrite); err != nil {
		return apperr.VectorStore("add sentinel row", err)
	}
	s.table = table

	if err := s.deleteByIDsLocked(ctx, []string{sentinel.ID}); err != nil {
		log.Printf("Store.establishSchema: failed to remove sentinel row: %v", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.table != nil {
		s.table.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Store) buildRecord(records []Record) (arrow.Record, error) {
	pool := memory.NewGoAllocator()
	builder := array.NewRecordBuilder(pool, arrowSchema)
	defer builder.Release()

	idB := builder.Field(0).(*array.StringBuilder)
	recordTypeB := builder.Field(1).(*array.StringBuilder)
	mediaTypeB := builder.Field(2).(*array.StringBuilder)
	layerB := builder.Field(3).(*array.StringBuilder)
	depthB := builder.Field(4).(*array.StringBuilder)
	vectorB := builder.Field(5).(*array.FixedSizeListBuilder)
	vectorValueB := vectorB.ValueBuilder().(*array.Float32Builder)
	contentB := builder.Field(6).(*array.StringBuilder)
	objectIDB := builder.Field(7).(*array.StringBuilder)
	sqlChunkIDB := builder.Field(8).(*array.Int64Builder)
	chunkIdxB := builder.Field(9).(*array.Int64Builder)
	notebookIDB := builder.Field(10).(*array.StringBuilder)
	tabGroupIDB := builder.Field(11).(*array.StringBuilder)
	titleB := builder.Field(12).(*array.StringBuilder)
	summaryB := builder.Field(13).(*array.StringBuilder)
	sourceURIB := builder.Field(14).(*array.StringBuilder)
	tagsB := builder.Field(15).(*array.StringBuilder)
	propositionsB := builder.Field(16).(*array.StringBuilder)
	createdAtB := builder.Field(17).(*array.StringBuilder)
	lastAccessedB := builder.Field(18).(*array.StringBuilder)

	for _, r := range records {
		if len(r.Vector) != Dim {
			return nil, apperr.VectorStore(fmt.Sprintf("record %s has vector dim %d, expected %d", r.ID, len(r.Vector), Dim), nil)
		}
		idB.Append(r.ID)
		recordTypeB.Append(r.RecordType)
		mediaTypeB.Append(r.MediaType)
		layerB.Append(r.Layer)
		depthB.Append(r.ProcessingDepth)

		vectorB.Append(true)
		for _, v := range r.Vector {
			vectorValueB.Append(v)
		}

		contentB.Append(r.Content)
		objectIDB.Append(r.ObjectID)
		sqlChunkIDB.Append(r.SQLChunkID)
		chunkIdxB.Append(int64(r.ChunkIdx))
		notebookIDB.Append(r.NotebookID)
		tabGroupIDB.Append(r.TabGroupID)
		titleB.Append(r.Title)
		summaryB.Append(r.Summary)
		sourceURIB.Append(r.SourceURI)

		tagsJSON, _ := json.Marshal(nonEmpty(r.Tags))
		tagsB.Append(string(tagsJSON))
		propsJSON, _ := json.Marshal(nonEmpty(r.Propositions))
		propositionsB.Append(string(propsJSON))

		createdAtB.Append(isoTimestamp(r.CreatedAt))
		lastAccessedB.Append(isoTimestamp(r.LastAccessedAt))
	}

	return builder.NewRecord(), nil
}

func isoTimestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// AddDocuments appends records as-is; the caller supplies every schema
// field (spec.md §4.2). Returns the ids in input order.
func (s *Store) AddDocuments(ctx context.Context, records []Record) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	arrowRec, err := s.buildRecord(records)
	if err != nil {
		return nil, err
	}
	defer arrowRec.Release()

	if err := s.table.Add(arrowRec, lancedb.AddModeAppend); err != nil {
		return nil, apperr.VectorStore("add documents", err)
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids, nil
}

// AddDocumentsWithText embeds texts via the configured Embedder and
// then calls AddDocuments; fails if len(texts) != len(metas) (spec.md
// §4.2).
func (s *Store) AddDocumentsWithText(ctx context.Context, texts []string, metas []Record) ([]string, error) {
	if len(texts) != len(metas) {
		return nil, apperr.VectorStore(fmt.Sprintf("text/meta length mismatch: %d texts, %d metas", len(texts), len(metas)), nil)
	}
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, apperr.AITransport("embed documents", err)
	}
	if len(vectors) != len(texts) {
		return nil, apperr.VectorStore(fmt.Sprintf("embedder returned %d vectors for %d texts", len(vectors), len(texts)), nil)
	}

	records := make([]Record, len(metas))
	for i, m := range metas {
		m.Vector = vectors[i]
		m.Content = texts[i]
		records[i] = m
	}
	return s.AddDocuments(ctx, records)
}

// QuerySimilarByVector returns up to k nearest results by ascending
// distance, with a lexicographic-on-id tie-break for determinism
// (spec.md §4.2).
func (s *Store) QuerySimilarByVector(ctx context.Context, v []float32, k int, filter Filter) ([]Result, error) {
	q := s.table.Query().NearestTo(v).Limit(k)
	where := filter.BuildWhere()
	if where != "" {
		q = q.Where(where)
	}

	arrowResults, err := q.Execute()
	if err != nil {
		return nil, apperr.VectorStore("query similar by vector", err)
	}

	results, err := parseResults(arrowResults)
	if err != nil {
		return nil, err
	}
	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// QuerySimilarByText embeds q via the AI Gateway's Embedder, then
// delegates to QuerySimilarByVector (spec.md §4.2).
func (s *Store) QuerySimilarByText(ctx context.Context, q string, k int, filter Filter) ([]Result, error) {
	vectors, err := s.embedder.Embed(ctx, []string{q})
	if err != nil {
		return nil, apperr.AITransport("embed query text", err)
	}
	if len(vectors) == 0 {
		return nil, apperr.VectorStore("embedder returned no vector for query", nil)
	}
	return s.QuerySimilarByVector(ctx, vectors[0], k, filter)
}

// DeleteByIDs removes vectors whose id is in ids; idempotent, silently
// ignores missing ids (spec.md §4.2).
func (s *Store) DeleteByIDs(ctx context.Context, ids []string) error {
	return s.deleteByIDsLocked(ctx, ids)
}

func (s *Store) deleteByIDsLocked(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = "'" + escapeLiteral(id) + "'"
	}
	where := fmt.Sprintf(`"id" IN (%s)`, strings.Join(quoted, ", "))
	if err := s.table.Delete(where); err != nil {
		return apperr.VectorStore("delete by ids", err)
	}
	return nil
}

// UpdateMetadata implements the read-all/delete/re-insert patch
// described in spec.md §4.2 for this append-mostly store. Must be
// externally serialized per object_id — this method does that itself
// via an internal mutex, but callers sharing one object_id across
// multiple Store instances must add their own locking.
func (s *Store) UpdateMetadata(ctx context.Context, objectID string, patch func(Record) Record) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	existing, err := s.filterLocked(ctx, Filter{ObjectID: []string{objectID}})
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return nil
	}

	ids := make([]string, len(existing))
	patched := make([]Record, len(existing))
	for i, r := range existing {
		ids[i] = r.ID
		patched[i] = patch(r)
	}

	if err := s.deleteByIDsLocked(ctx, ids); err != nil {
		return err
	}
	_, err = s.AddDocuments(ctx, patched)
	return err
}

// Filter scans the table with a structured WHERE built from predicate
// (spec.md §4.2).
func (s *Store) Filter(ctx context.Context, predicate Filter) ([]Record, error) {
	return s.filterLocked(ctx, predicate)
}

func (s *Store) filterLocked(ctx context.Context, predicate Filter) ([]Record, error) {
	q := s.table.Query()
	where := predicate.BuildWhere()
	if where != "" {
		q = q.Where(where)
	}
	arrowResults, err := q.Execute()
	if err != nil {
		return nil, apperr.VectorStore("filter scan", err)
	}
	results, err := parseResults(arrowResults)
	if err != nil {
		return nil, err
	}
	records := make([]Record, len(results))
	for i, r := range results {
		records[i] = r.Record
	}
	return records, nil
}
