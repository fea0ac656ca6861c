// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/northbound/knowledge-core/internal/aigw"
	"github.com/northbound/knowledge-core/internal/config"
	"github.com/northbound/knowledge-core/internal/embeddings"
	"github.com/northbound/knowledge-core/internal/engine"
	"github.com/northbound/knowledge-core/internal/events"
	"github.com/northbound/knowledge-core/internal/extract"
	"github.com/northbound/knowledge-core/internal/logger"
	"github.com/northbound/knowledge-core/internal/notify"
	"github.com/northbound/knowledge-core/internal/watch"
)

var (
	configPath = flag.String("config", "", "path to engine config YAML (optional)")
	watchDir   = flag.String("watch-dir", "", "local folder to watch for new documents (optional)")
	httpAddr   = flag.String("http-addr", ":8081", "address for the notification websocket endpoint")
)

func main() {
	flag.Parse()

	if _, err := logger.Init("knowledge-core.log"); err != nil {
		log.Printf("failed to initialize logger: %v, using stdout only", err)
	}
	if err := godotenv.Load(); err != nil {
		logger.Printf("no .env file found, using environment variables: %v", err)
	}

	cfg, err := config.LoadEngineConfig(*configPath)
	if err != nil {
		logger.Fatalf("failed to load engine config: %v", err)
	}

	llm, embedder := buildAIProviders()

	deps := engine.Deps{
		LlmClient:    llm,
		Embedder:     aigw.NewEmbeddingAdapter(embedder),
		Fetcher:      extract.NewHTTPFetcher(),
		HtmlParser:   extract.NewGoqueryParser(),
		PdfExtractor: extract.NewFitzExtractor(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := engine.New(ctx, cfg, deps)
	if err != nil {
		logger.Fatalf("failed to construct engine: %v", err)
	}
	e.Start(ctx)

	notifier := notify.New("knowledge-core")
	go notifier.Watch(e.Bus())

	if *watchDir != "" {
		startFolderWatcher(ctx, e, *watchDir)
	}

	hub := events.NewHub(e.Bus())
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/events", hub.ServeHTTP)
	httpServer := &http.Server{Addr: *httpAddr, Handler: mux}
	go func() {
		logger.Printf("event websocket listening on %s", *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("event websocket server error: %v", err)
		}
	}()

	waitForShutdown(e, httpServer)
}

// buildAIProviders picks OpenAI, Ollama, or mock clients the way the
// teacher's cmd/hive-server initEmbedder did: auto-detect from
// OPENAI_API_KEY, falling back to a local mock for development.
func buildAIProviders() (aigw.LlmClient, embeddings.Embedder) {
	if os.Getenv("OPENAI_API_KEY") != "" {
		llm, err := aigw.NewOpenAIClient()
		if err != nil {
			logger.Warnf("OpenAI client init failed, falling back to mock: %v", err)
			return aigw.NewMockLlmClient(), embeddings.NewMockEmbedder(1536)
		}
		embedder, err := embeddings.NewOpenAIEmbedder(os.Getenv("OPENAI_API_KEY"), os.Getenv("EMBEDDER_MODEL"))
		if err != nil {
			logger.Warnf("OpenAI embedder init failed, falling back to mock: %v", err)
			return llm, embeddings.NewMockEmbedder(1536)
		}
		logger.Printf("using OpenAI LLM + embedding providers")
		return llm, embedder
	}
	if os.Getenv("OLLAMA_BASE_URL") != "" {
		embedder, err := embeddings.NewOllamaEmbedder(os.Getenv("OLLAMA_BASE_URL"), os.Getenv("EMBEDDER_MODEL"))
		if err != nil {
			logger.Warnf("Ollama embedder init failed, falling back to mock: %v", err)
			return aigw.NewOllamaClient(), embeddings.NewMockEmbedder(1536)
		}
		logger.Printf("using Ollama LLM + embedding providers")
		return aigw.NewOllamaClient(), embedder
	}
	logger.Printf("no OPENAI_API_KEY or OLLAMA_BASE_URL set, using mock AI providers")
	return aigw.NewMockLlmClient(), embeddings.NewMockEmbedder(1536)
}

func startFolderWatcher(ctx context.Context, e *engine.Engine, dir string) {
	fw, err := watch.New(func(ctx context.Context, jobType, sourceIdentifier string, priority int) error {
		_, err := e.AddJob(ctx, jobType, sourceIdentifier, engine.AddJobOpts{Priority: priority})
		return err
	})
	if err != nil {
		logger.Errorf("failed to start folder watcher: %v", err)
		return
	}
	if err := fw.AddDir(dir); err != nil {
		logger.Errorf("failed to watch %s: %v", dir, err)
		return
	}
	go fw.Run(ctx)
	logger.Printf("watching %s for new documents", dir)
}

func waitForShutdown(e *engine.Engine, httpServer *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Println("shutting down...")

	shutdownCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("http shutdown error: %v", err)
	}
	if err := e.Stop(); err != nil {
		logger.Errorf("engine shutdown error: %v", err)
	}
	if err := logger.GetDefault().Close(); err != nil {
		log.Printf("failed to close logger: %v", err)
	}
}
