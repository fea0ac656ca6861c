// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Engine holds the bootstrap configuration for the ingestion/retrieval
// core: where it keeps its data, how aggressively it runs workers, and
// the budgets that bound its external calls.
type Engine struct {
	UserDataPath string `mapstructure:"user_data_path"`

	QueueConcurrency      int `mapstructure:"queue_concurrency"`
	PipelineConcurrency   int `mapstructure:"pipeline_concurrency"`
	EmbedMaxConcurrent    int `mapstructure:"embed_max_concurrent"`
	RateLimitRPMBudget    int `mapstructure:"rate_limit_rpm_budget"`
	BreakerFailThreshold  int `mapstructure:"breaker_fail_threshold"`
	BreakerResetSeconds   int `mapstructure:"breaker_reset_seconds"`
	DebounceSeconds       int `mapstructure:"debounce_seconds"`
	ShutdownTimeoutSecond int `mapstructure:"shutdown_timeout_seconds"`

	VectorTablePrefix string `mapstructure:"vector_table_prefix"`
}

// DefaultEngine returns the spec's documented defaults (spec.md §4.9,
// §5): rpm budget 4900, breaker threshold 5 failures / 60s, debounce
// 5s, shutdown grace 30s, embed_max_concurrent 10.
func DefaultEngine() Engine {
	return Engine{
		UserDataPath:          "./data",
		QueueConcurrency:      5,
		PipelineConcurrency:   5,
		EmbedMaxConcurrent:    10,
		RateLimitRPMBudget:    4900,
		BreakerFailThreshold:  5,
		BreakerResetSeconds:   60,
		DebounceSeconds:       5,
		ShutdownTimeoutSecond: 30,
		VectorTablePrefix:     "hive",
	}
}

// LoadEngineConfig loads engine configuration from an optional YAML
// file plus KNOWLEDGE_CORE_-prefixed environment overrides, following
// the viper-with-smart-defaults pattern the rest of this codebase uses
// for process configuration.
func LoadEngineConfig(configPath string) (Engine, error) {
	cfg := DefaultEngine()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("user_data_path", cfg.UserDataPath)
	v.SetDefault("queue_concurrency", cfg.QueueConcurrency)
	v.SetDefault("pipeline_concurrency", cfg.PipelineConcurrency)
	v.SetDefault("embed_max_concurrent", cfg.EmbedMaxConcurrent)
	v.SetDefault("rate_limit_rpm_budget", cfg.RateLimitRPMBudget)
	v.SetDefault("breaker_fail_threshold", cfg.BreakerFailThreshold)
	v.SetDefault("breaker_reset_seconds", cfg.BreakerResetSeconds)
	v.SetDefault("debounce_seconds", cfg.DebounceSeconds)
	v.SetDefault("shutdown_timeout_seconds", cfg.ShutdownTimeoutSecond)
	v.SetDefault("vector_table_prefix", cfg.VectorTablePrefix)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return cfg, fmt.Errorf("failed to read engine config: %w", err)
			}
			log.Printf("LoadEngineConfig: config file %s not found, using defaults+env", configPath)
		}
	}

	v.SetEnvPrefix("KNOWLEDGE_CORE")
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal engine config: %w", err)
	}

	if cfg.UserDataPath == "" {
		cfg.UserDataPath = "./data"
	}
	if err := os.MkdirAll(filepath.Join(cfg.UserDataPath, "data", "lancedb"), 0755); err != nil {
		log.Printf("LoadEngineConfig: failed to create lancedb dir: %v", err)
	}

	return cfg, nil
}

// LanceDBURI returns the on-disk location for the vector store, per
// spec.md §6: "<user_data_path>/data/lancedb/".
func (e Engine) LanceDBURI() string {
	return filepath.Join(e.UserDataPath, "data", "lancedb")
}
