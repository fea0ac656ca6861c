// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package aigw

import (
	"context"

	"github.com/northbound/knowledge-core/internal/embeddings"
)

// EmbeddingAdapter satisfies both aigw.Embedder and
// vectorstore.Embedder over the teacher's generic
// internal/embeddings.Embedder, batching through EmbedBatch (spec.md
// §4.8: "a single batched call").
type EmbeddingAdapter struct {
	embedder embeddings.Embedder
}

func NewEmbeddingAdapter(embedder embeddings.Embedder) *EmbeddingAdapter {
	return &EmbeddingAdapter{embedder: embedder}
}

func (a *EmbeddingAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return a.embedder.EmbedBatch(ctx, texts)
}
