// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// reembed is the thin orchestrator spec.md §6 describes: construct the
// core, call embed_all_unembedded_chunks(), exit 0 on success or 1 on
// any error. It does not start the ingestion queue or chunking
// pipeline loops — it runs one pass and exits.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/northbound/knowledge-core/internal/aigw"
	"github.com/northbound/knowledge-core/internal/config"
	"github.com/northbound/knowledge-core/internal/embeddings"
	"github.com/northbound/knowledge-core/internal/engine"
	"github.com/northbound/knowledge-core/internal/extract"
)

var configPath = flag.String("config", "", "path to engine config YAML (optional)")

func main() {
	flag.Parse()
	_ = godotenv.Load()

	cfg, err := config.LoadEngineConfig(*configPath)
	if err != nil {
		log.Printf("reembed: failed to load engine config: %v", err)
		os.Exit(1)
	}

	var llm aigw.LlmClient
	var embedder embeddings.Embedder
	if os.Getenv("OPENAI_API_KEY") != "" {
		llm, err = aigw.NewOpenAIClient()
		if err != nil {
			log.Printf("reembed: OpenAI client init failed: %v", err)
			os.Exit(1)
		}
		embedder, err = embeddings.NewOpenAIEmbedder(os.Getenv("OPENAI_API_KEY"), os.Getenv("EMBEDDER_MODEL"))
		if err != nil {
			log.Printf("reembed: OpenAI embedder init failed: %v", err)
			os.Exit(1)
		}
	} else {
		llm = aigw.NewMockLlmClient()
		embedder = embeddings.NewMockEmbedder(1536)
	}

	deps := engine.Deps{
		LlmClient:    llm,
		Embedder:     aigw.NewEmbeddingAdapter(embedder),
		Fetcher:      extract.NewHTTPFetcher(),
		HtmlParser:   extract.NewGoqueryParser(),
		PdfExtractor: extract.NewFitzExtractor(),
	}

	ctx := context.Background()
	e, err := engine.New(ctx, cfg, deps)
	if err != nil {
		log.Printf("reembed: failed to construct engine: %v", err)
		os.Exit(1)
	}
	defer e.Stop()

	count, err := e.EmbedAllUnembeddedChunks(ctx)
	if err != nil {
		log.Printf("reembed: embed_all_unembedded_chunks failed after %d chunks: %v", count, err)
		os.Exit(1)
	}
	log.Printf("reembed: embedded %d previously-unembedded chunks", count)
}
