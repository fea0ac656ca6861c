// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package vectorstore

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

// parseResults converts the Arrow records returned by a LanceDB query
// into Result values, reading the "_distance" column when present
// (grounded on aqua777-ai-nexus/vectordb/v1/lancedb.go's handling of
// the same column).
func parseResults(arrowResults []arrow.Record) ([]Result, error) {
	var out []Result
	for _, rec := range arrowResults {
		func() {
			defer rec.Release()

			cols := map[string]arrow.Array{}
			distIdx := -1
			for i, f := range rec.Schema().Fields() {
				cols[f.Name] = rec.Column(i)
				if f.Name == "_distance" {
					distIdx = i
				}
			}

			idCol := cols["id"].(*array.String)
			recordTypeCol := cols["record_type"].(*array.String)
			mediaTypeCol := cols["media_type"].(*array.String)
			layerCol := cols["layer"].(*array.String)
			depthCol := cols["processing_depth"].(*array.String)
			contentCol := cols["content"].(*array.String)
			objectIDCol := cols["object_id"].(*array.String)
			sqlChunkIDCol := cols["sql_chunk_id"].(*array.Int64)
			chunkIdxCol := cols["chunk_idx"].(*array.Int64)
			notebookIDCol := cols["notebook_id"].(*array.String)
			tabGroupIDCol := cols["tab_group_id"].(*array.String)
			titleCol := cols["title"].(*array.String)
			summaryCol := cols["summary"].(*array.String)
			sourceURICol := cols["source_uri"].(*array.String)
			tagsCol := cols["tags_json"].(*array.String)
			propositionsCol := cols["propositions_json"].(*array.String)
			createdAtCol := cols["created_at"].(*array.String)
			lastAccessedCol := cols["last_accessed_at"].(*array.String)
			vectorCol := cols["vector"].(*array.FixedSizeList)
			vectorValues := vectorCol.ListValues().(*array.Float32)

			var distCol *array.Float32
			if distIdx != -1 {
				distCol, _ = cols["_distance"].(*array.Float32)
			}

			for i := 0; i < int(rec.NumRows()); i++ {
				var tags, props []string
				_ = json.Unmarshal([]byte(tagsCol.Value(i)), &tags)
				_ = json.Unmarshal([]byte(propositionsCol.Value(i)), &props)

				r := Record{
					ID:              idCol.Value(i),
					RecordType:      recordTypeCol.Value(i),
					MediaType:       mediaTypeCol.Value(i),
					Layer:           layerCol.Value(i),
					ProcessingDepth: depthCol.Value(i),
					Content:         contentCol.Value(i),
					ObjectID:        objectIDCol.Value(i),
					SQLChunkID:      sqlChunkIDCol.Value(i),
					ChunkIdx:        int(chunkIdxCol.Value(i)),
					NotebookID:      notebookIDCol.Value(i),
					TabGroupID:      tabGroupIDCol.Value(i),
					Title:           titleCol.Value(i),
					Summary:         summaryCol.Value(i),
					SourceURI:       sourceURICol.Value(i),
					Tags:            tags,
					Propositions:    props,
				}
				if t, err := time.Parse(time.RFC3339Nano, createdAtCol.Value(i)); err == nil {
					r.CreatedAt = t
				}
				if t, err := time.Parse(time.RFC3339Nano, lastAccessedCol.Value(i)); err == nil {
					r.LastAccessedAt = t
				}

				start := vectorCol.Offset() + i*Dim
				vec := make([]float32, Dim)
				for j := 0; j < Dim; j++ {
					vec[j] = vectorValues.Value(start + j)
				}
				r.Vector = vec

				var distance, score float32
				if distCol != nil {
					distance = distCol.Value(i)
					score = 1 - distance
				}

				out = append(out, Result{Record: r, Distance: distance, Score: score})
			}
		}()
	}
	return out, nil
}

// sortResults applies the deterministic tie-break of spec.md §4.2:
// ascending distance, then lexicographic on id.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Record.ID < results[j].Record.ID
	})
}
