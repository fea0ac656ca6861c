// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package aigw

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/northbound/knowledge-core/internal/apperr"
)

// maxChunkTokens is the per-chunk ceiling spec.md §4.8 filters on;
// oversize chunks are dropped and the rest densely re-indexed.
const maxChunkTokens = 8000

// maxSummaryInputChars is the truncation length for
// GenerateObjectSummary's input text (spec.md §4.8).
const maxSummaryInputChars = 50000

// Gateway is the typed wrapper over the external LLM/embedding
// providers spec.md §4.8 describes: schema-validated calls with a
// "one attempt + one JSON-repair retry" policy.
type Gateway struct {
	llm      LlmClient
	embedder Embedder
}

func New(llm LlmClient, embedder Embedder) *Gateway {
	return &Gateway{llm: llm, embedder: embedder}
}

// Embed implements spec.md §4.8's batched embedding operation.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := g.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, apperr.AITransport("embed", err)
	}
	return vectors, nil
}

const chunkTextSystemPrompt = `You split the user's document into semantically coherent chunks.
Return ONLY a JSON object of the shape:
{"chunks":[{"chunk_idx":0,"content":"...","summary":"...","tags":["..."],"propositions":["..."]}]}
Rules: content is at least 20 characters; summary is at most 25 words;
tags are 3 to 7 kebab-case strings; propositions are 1 to 4 atomic
statements. chunk_idx starts at 0 and is dense.`

const jsonRepairSystemPrompt = `Your previous response was not valid JSON matching the requested schema.
Return ONLY the corrected JSON object, with no surrounding prose or code fences.`

type chunkTextResponse struct {
	Chunks []Chunk `json:"chunks"`
}

// ChunkText implements spec.md §4.8: prompts for a JSON chunk array,
// validates the schema, filters oversize chunks (re-indexing the
// survivors densely per spec.md §5's ordering guarantee), and retries
// once with a JSON-repair system prompt on validation failure.
func (g *Gateway) ChunkText(ctx context.Context, text, correlationID string) ([]Chunk, error) {
	messages := []Message{
		{Role: "system", Content: chunkTextSystemPrompt},
		{Role: "user", Content: text},
	}

	chunks, err := completeAndValidate(g, ctx, messages, correlationID, func(raw string) ([]Chunk, error) {
		var resp chunkTextResponse
		if err := json.Unmarshal([]byte(raw), &resp); err != nil {
			return nil, fmt.Errorf("parse chunk_text response: %w", err)
		}
		if err := validateChunks(resp.Chunks); err != nil {
			return nil, err
		}
		return resp.Chunks, nil
	})
	if err != nil {
		return nil, err
	}

	return filterOversizeChunks(chunks), nil
}

func validateChunks(chunks []Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("chunks array is empty")
	}
	for i, c := range chunks {
		if len(c.Content) < 20 {
			return fmt.Errorf("chunk %d content shorter than 20 characters", i)
		}
		if len(c.Tags) < 3 || len(c.Tags) > 7 {
			return fmt.Errorf("chunk %d has %d tags, want 3-7", i, len(c.Tags))
		}
		if len(c.Propositions) < 1 || len(c.Propositions) > 4 {
			return fmt.Errorf("chunk %d has %d propositions, want 1-4", i, len(c.Propositions))
		}
	}
	return nil
}

// filterOversizeChunks drops any chunk whose token count exceeds
// maxChunkTokens and re-indexes the survivors densely (spec.md §4.8,
// scenario D).
func filterOversizeChunks(chunks []Chunk) []Chunk {
	var kept []Chunk
	for _, c := range chunks {
		c.TokenCount = estimateTokens(c.Content)
		if c.TokenCount > maxChunkTokens {
			log.Printf("Gateway.ChunkText: dropping oversize chunk (tokens=%d > %d)", c.TokenCount, maxChunkTokens)
			continue
		}
		kept = append(kept, c)
	}
	for i := range kept {
		kept[i].ChunkIdx = i
	}
	return kept
}

// estimateTokens approximates token count the way the rest of this
// codebase budgets text (≈4 characters per token); the providers
// this core talks to do not return usage for chunking calls.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// GenerateObjectSummary implements spec.md §4.8: truncates input to
// 50,000 characters, prompts for a TSTP JSON object, validates the
// schema, and retries once on failure with the JSON-repair prompt.
func (g *Gateway) GenerateObjectSummary(ctx context.Context, text, title, correlationID string) (TSTP, error) {
	if len(text) > maxSummaryInputChars {
		text = text[:maxSummaryInputChars]
	}

	systemPrompt := fmt.Sprintf(`Summarize the user's document titled %q.
Return ONLY a JSON object of the shape:
{"title":"...","summary":"...","tags":["..."],"propositions":[{"type":"main|supporting|fact|action","content":"..."}]}
Rules: title and summary are non-empty; tags has at least 1 entry;
propositions has at least 2 entries.`, title)

	messages := []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: text},
	}

	tstp, err := completeAndValidate(g, ctx, messages, correlationID, func(raw string) (TSTP, error) {
		var t TSTP
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return TSTP{}, fmt.Errorf("parse object summary response: %w", err)
		}
		if err := validateTSTP(t); err != nil {
			return TSTP{}, err
		}
		return t, nil
	})
	if err != nil {
		return TSTP{}, err
	}
	return tstp, nil
}

func validateTSTP(t TSTP) error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("title is empty")
	}
	if strings.TrimSpace(t.Summary) == "" {
		return fmt.Errorf("summary is empty")
	}
	if len(t.Tags) < 1 {
		return fmt.Errorf("tags has no entries")
	}
	if len(t.Propositions) < 2 {
		return fmt.Errorf("propositions has fewer than 2 entries")
	}
	for i, p := range t.Propositions {
		switch p.Type {
		case PropMain, PropSupporting, PropFact, PropAction:
		default:
			return fmt.Errorf("proposition %d has invalid type %q", i, p.Type)
		}
	}
	return nil
}

// ChildSummary is one tab-group child's current TSTP, as fed into
// GenerateCompositeSummary (spec.md §4.10 step 2). Missing fields are
// tolerated: the prompt accepts empty arrays/strings.
type ChildSummary struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

// GenerateCompositeSummary implements the Composite Enrichment's
// "composite TSTP" prompt (spec.md §4.10 step 3): a strict JSON schema
// identical to GenerateObjectSummary's, but fed the children's current
// TSTP fields instead of raw text.
func (g *Gateway) GenerateCompositeSummary(ctx context.Context, children []ChildSummary, correlationID string) (TSTP, error) {
	childrenJSON, err := json.Marshal(children)
	if err != nil {
		return TSTP{}, fmt.Errorf("marshal children for composite summary: %w", err)
	}

	systemPrompt := `Summarize this group of related browser tabs from their children's titles/summaries/tags.
Return ONLY a JSON object of the shape:
{"title":"...","summary":"...","tags":["..."],"propositions":[{"type":"main|supporting|fact|action","content":"..."}]}
Rules: title and summary are non-empty; tags has at least 1 entry;
propositions has at least 2 entries. Tolerate children with missing
fields.`

	messages := []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: string(childrenJSON)},
	}

	return completeAndValidate(g, ctx, messages, correlationID, func(raw string) (TSTP, error) {
		var t TSTP
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return TSTP{}, fmt.Errorf("parse composite summary response: %w", err)
		}
		if err := validateTSTP(t); err != nil {
			return TSTP{}, err
		}
		return t, nil
	})
}

// completeAndValidate is the shared "one attempt + one JSON-repair
// retry" policy of spec.md §4.8. parse is called on the raw response;
// a non-nil error is treated as either a parse error or a schema
// violation (both are AIValidation) and triggers exactly one retry
// with a system prompt stating the previous response was invalid.
func completeAndValidate[T any](g *Gateway, ctx context.Context, messages []Message, correlationID string, parse func(string) (T, error)) (T, error) {
	var zero T

	raw, err := g.llm.Complete(ctx, messages, CompleteOptions{Temperature: 0.2, MaxTokens: 4096})
	if err != nil {
		return zero, apperr.AITransport(fmt.Sprintf("llm complete (correlation=%s)", correlationID), err)
	}

	value, parseErr := parse(raw)
	if parseErr == nil {
		return value, nil
	}
	log.Printf("Gateway: validation failed on first attempt (correlation=%s): %v", correlationID, parseErr)

	repairMessages := append(append([]Message{}, messages...), Message{Role: "assistant", Content: raw}, Message{Role: "system", Content: jsonRepairSystemPrompt})
	raw, err = g.llm.Complete(ctx, repairMessages, CompleteOptions{Temperature: 0.1, MaxTokens: 4096})
	if err != nil {
		return zero, apperr.AITransport(fmt.Sprintf("llm complete retry (correlation=%s)", correlationID), err)
	}

	value, parseErr = parse(raw)
	if parseErr != nil {
		return zero, apperr.AIValidation(fmt.Sprintf("schema validation failed after retry (correlation=%s)", correlationID), parseErr)
	}
	return value, nil
}

// NewCorrelationID mints a correlation id for tagging a call through
// the failure taxonomy (spec.md §4.8).
func NewCorrelationID() string { return uuid.NewString() }
