// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package aigw

import "context"

// Proposition type enum (spec.md §3).
const (
	PropMain       = "main"
	PropSupporting = "supporting"
	PropFact       = "fact"
	PropAction     = "action"
)

// Proposition is one atomic statement attached to an object or chunk
// summary (spec.md §3 GLOSSARY: TSTP).
type Proposition struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// TSTP is the four-field semantic summary spec.md §3 and the
// GLOSSARY define: Title, Summary, Tags, Propositions.
type TSTP struct {
	Title        string        `json:"title"`
	Summary      string        `json:"summary"`
	Tags         []string      `json:"tags"`
	Propositions []Proposition `json:"propositions"`
}

// Chunk is one element of AI.chunk_text's response (spec.md §4.8).
type Chunk struct {
	ChunkIdx     int      `json:"chunk_idx"`
	Content      string   `json:"content"`
	Summary      string   `json:"summary"`
	Tags         []string `json:"tags"`
	Propositions []string `json:"propositions"`
	TokenCount   int      `json:"-"`
}

// Message is one turn of a chat-style LLM prompt (spec.md §6's
// LlmClient.complete contract).
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompleteOptions mirrors spec.md §6's `{temperature, response_format:
// json, max_tokens}`.
type CompleteOptions struct {
	Temperature float64
	MaxTokens   int
}

// LlmClient is the opaque provider interface spec.md §6 names. Core
// code depends only on this; internal/aigw/openai.go and ollama.go are
// concrete adapters.
type LlmClient interface {
	// Complete sends messages and returns the raw JSON-object response
	// body as a string (the caller unmarshals it against its own
	// schema).
	Complete(ctx context.Context, messages []Message, opts CompleteOptions) (string, error)
}

// Embedder is the opaque embedding provider spec.md §6 names.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
