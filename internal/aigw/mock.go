// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package aigw

import (
	"context"
	"encoding/json"
	"strings"
)

// MockLlmClient returns deterministic, schema-valid responses without
// calling any network service, for tests and no-API-key local mode
// (grounded on the teacher's embeddings/mock.go pattern).
type MockLlmClient struct{}

func NewMockLlmClient() *MockLlmClient { return &MockLlmClient{} }

func (m *MockLlmClient) Complete(ctx context.Context, messages []Message, opts CompleteOptions) (string, error) {
	if len(messages) == 0 {
		return "{}", nil
	}
	last := messages[len(messages)-1].Content

	if strings.Contains(messages[0].Content, "chunks") || strings.Contains(messages[0].Content, "chunk_idx") {
		resp := chunkTextResponse{Chunks: []Chunk{{
			ChunkIdx:     0,
			Content:      truncateOrPad(last, 200),
			Summary:      "mock summary",
			Tags:         []string{"mock-tag-1", "mock-tag-2", "mock-tag-3"},
			Propositions: []string{"mock proposition"},
		}}}
		b, _ := json.Marshal(resp)
		return string(b), nil
	}

	resp := TSTP{
		Title:   "Mock Title",
		Summary: "Mock summary of the provided content.",
		Tags:    []string{"mock"},
		Propositions: []Proposition{
			{Type: PropMain, Content: "mock main proposition"},
			{Type: PropSupporting, Content: "mock supporting proposition"},
		},
	}
	b, _ := json.Marshal(resp)
	return string(b), nil
}

func truncateOrPad(s string, n int) string {
	if len(s) >= 20 {
		if len(s) > n {
			return s[:n]
		}
		return s
	}
	return s + strings.Repeat(" padding", 3)
}
