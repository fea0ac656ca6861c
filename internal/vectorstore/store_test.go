// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = vectorOf(0.1)
	}
	return out, nil
}

func vectorOf(fill float32) []float32 {
	v := make([]float32, Dim)
	for i := range v {
		v[i] = fill
	}
	return v
}

// StoreTestSuite exercises Store against a real LanceDB directory,
// using the same SetupTest/TearDownTest suite shape as
// aqua777-ai-nexus's lancedb_test.go.
type StoreTestSuite struct {
	suite.Suite
	dir   string
	store *Store
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
	store, err := Open(context.Background(), s.dir, "test", fakeEmbedder{})
	s.Require().NoError(err)
	s.store = store
}

func (s *StoreTestSuite) TearDownTest() {
	if s.store != nil {
		s.store.Close()
	}
}

func (s *StoreTestSuite) TestAddDocumentsAndQuerySimilarByVector() {
	ctx := context.Background()
	now := time.Now().UTC()

	records := []Record{
		{
			ID: "rec-1", RecordType: RecordTypeChunk, MediaType: "webpage",
			Layer: LayerLOM, ProcessingDepth: DepthChunk,
			Vector: vectorOf(1.0), Content: "alpha", ObjectID: "obj-1",
			CreatedAt: now, LastAccessedAt: now,
		},
		{
			ID: "rec-2", RecordType: RecordTypeChunk, MediaType: "webpage",
			Layer: LayerLOM, ProcessingDepth: DepthChunk,
			Vector: vectorOf(0.0), Content: "beta", ObjectID: "obj-2",
			CreatedAt: now, LastAccessedAt: now,
		},
	}

	ids, err := s.store.AddDocuments(ctx, records)
	s.Require().NoError(err)
	s.Len(ids, 2)

	results, err := s.store.QuerySimilarByVector(ctx, vectorOf(1.0), 1, Filter{})
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Equal("rec-1", results[0].Record.ID)
}

func (s *StoreTestSuite) TestQuerySimilarByVector_FiltersByObjectID() {
	ctx := context.Background()
	now := time.Now().UTC()

	records := []Record{
		{ID: "rec-a", RecordType: RecordTypeChunk, Layer: LayerLOM, ProcessingDepth: DepthChunk,
			Vector: vectorOf(1.0), Content: "a", ObjectID: "target", CreatedAt: now, LastAccessedAt: now},
		{ID: "rec-b", RecordType: RecordTypeChunk, Layer: LayerLOM, ProcessingDepth: DepthChunk,
			Vector: vectorOf(1.0), Content: "b", ObjectID: "other", CreatedAt: now, LastAccessedAt: now},
	}
	_, err := s.store.AddDocuments(ctx, records)
	s.Require().NoError(err)

	results, err := s.store.QuerySimilarByVector(ctx, vectorOf(1.0), 10, Filter{ObjectID: []string{"target"}})
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Equal("rec-a", results[0].Record.ID)
}

func (s *StoreTestSuite) TestDeleteByIDs() {
	ctx := context.Background()
	now := time.Now().UTC()

	records := []Record{
		{ID: "del-1", RecordType: RecordTypeChunk, Layer: LayerLOM, ProcessingDepth: DepthChunk,
			Vector: vectorOf(1.0), Content: "x", ObjectID: "obj", CreatedAt: now, LastAccessedAt: now},
	}
	_, err := s.store.AddDocuments(ctx, records)
	s.Require().NoError(err)

	s.Require().NoError(s.store.DeleteByIDs(ctx, []string{"del-1"}))

	results, err := s.store.Filter(ctx, Filter{ObjectID: []string{"obj"}})
	s.Require().NoError(err)
	s.Len(results, 0)
}
