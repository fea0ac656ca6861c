// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package config

import (
	"testing"
)

func TestDefaultEngine_MatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultEngine()

	if cfg.RateLimitRPMBudget != 4900 {
		t.Fatalf("expected rpm budget 4900, got %d", cfg.RateLimitRPMBudget)
	}
	if cfg.BreakerFailThreshold != 5 || cfg.BreakerResetSeconds != 60 {
		t.Fatalf("expected breaker 5/60s, got %d/%ds", cfg.BreakerFailThreshold, cfg.BreakerResetSeconds)
	}
	if cfg.DebounceSeconds != 5 {
		t.Fatalf("expected debounce 5s, got %d", cfg.DebounceSeconds)
	}
	if cfg.ShutdownTimeoutSecond != 30 {
		t.Fatalf("expected shutdown grace 30s, got %d", cfg.ShutdownTimeoutSecond)
	}
	if cfg.EmbedMaxConcurrent != 10 {
		t.Fatalf("expected embed_max_concurrent 10, got %d", cfg.EmbedMaxConcurrent)
	}
}

func TestLoadEngineConfig_NoFileUsesDefaultsPlusEnvOverride(t *testing.T) {
	t.Setenv("KNOWLEDGE_CORE_RATE_LIMIT_RPM_BUDGET", "1200")
	t.Setenv("KNOWLEDGE_CORE_USER_DATA_PATH", t.TempDir())
	cfg, err := LoadEngineConfig("")
	if err != nil {
		t.Fatalf("load engine config: %v", err)
	}
	if cfg.RateLimitRPMBudget != 1200 {
		t.Fatalf("expected env override to win, got %d", cfg.RateLimitRPMBudget)
	}
	if cfg.QueueConcurrency != 5 {
		t.Fatalf("expected default queue_concurrency 5 to survive, got %d", cfg.QueueConcurrency)
	}
}

func TestLoadEngineConfig_MissingExplicitFileFallsBackToDefaults(t *testing.T) {
	t.Setenv("KNOWLEDGE_CORE_USER_DATA_PATH", t.TempDir())
	cfg, err := LoadEngineConfig("/nonexistent/engine.yaml")
	if err != nil {
		t.Fatalf("expected missing config file to fall back, got error: %v", err)
	}
	if cfg.VectorTablePrefix != "hive" {
		t.Fatalf("expected default vector_table_prefix, got %q", cfg.VectorTablePrefix)
	}
}

func TestLanceDBURI_JoinsUserDataPath(t *testing.T) {
	cfg := DefaultEngine()
	cfg.UserDataPath = "/tmp/knowledge-core"

	got := cfg.LanceDBURI()
	want := "/tmp/knowledge-core/data/lancedb"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
