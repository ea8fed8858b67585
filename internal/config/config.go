// Package config resolves the on-disk layout and runtime settings for the
// engine. Everything is overridable through environment variables; the
// defaults put all mutable state under a single data directory.
package config

import (
	"os"
	"path/filepath"
	"strconv"
)

// Layout describes where the engine keeps its state.
type Layout struct {
	DataDir        string
	DBPath         string
	ArtifactsDir   string
	BootstrapDir   string
	GeneratedDir   string
	CacheDir       string
	LogsDir        string
	CheckpointsDir string
}

// DefaultLayout builds the layout rooted at dataDir (or $FINEVO_DATA_DIR,
// or ./data when empty).
func DefaultLayout(dataDir string) Layout {
	if dataDir == "" {
		dataDir = os.Getenv("FINEVO_DATA_DIR")
	}
	if dataDir == "" {
		dataDir = "data"
	}
	artifacts := filepath.Join(dataDir, "artifacts")
	return Layout{
		DataDir:        dataDir,
		DBPath:         filepath.Join(dataDir, "db", "evolution.db"),
		ArtifactsDir:   artifacts,
		BootstrapDir:   filepath.Join(artifacts, "bootstrap"),
		GeneratedDir:   filepath.Join(artifacts, "generated"),
		CacheDir:       filepath.Join(dataDir, "cache"),
		LogsDir:        filepath.Join(dataDir, "logs"),
		CheckpointsDir: filepath.Join(dataDir, "checkpoints"),
	}
}

// EnsureDirs creates every directory the layout references.
func (l Layout) EnsureDirs() error {
	for _, dir := range []string{
		filepath.Dir(l.DBPath), l.BootstrapDir, l.GeneratedDir,
		l.CacheDir, l.LogsDir, l.CheckpointsDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// LLMConfig selects and tunes the model backend.
type LLMConfig struct {
	Provider       string // "openai", "gemini", or "mock"
	APIKey         string
	BaseURL        string
	Model          string
	Temperature    float32
	EnableThinking bool
}

// LLMFromEnv reads the model configuration from the environment. An empty
// API key selects the deterministic mock backend.
func LLMFromEnv() LLMConfig {
	cfg := LLMConfig{
		Provider:       envOr("FINEVO_LLM_PROVIDER", "openai"),
		APIKey:         os.Getenv("FINEVO_API_KEY"),
		BaseURL:        envOr("FINEVO_LLM_BASE_URL", "https://dashscope.aliyuncs.com/compatible-mode/v1"),
		Model:          envOr("FINEVO_LLM_MODEL", "qwen3-max"),
		Temperature:    0.1,
		EnableThinking: envOr("FINEVO_LLM_ENABLE_THINKING", "true") == "true",
	}
	if t, err := strconv.ParseFloat(os.Getenv("FINEVO_LLM_TEMPERATURE"), 32); err == nil {
		cfg.Temperature = float32(t)
	}
	if cfg.APIKey == "" && os.Getenv("GEMINI_API_KEY") == "" {
		cfg.Provider = "mock"
	}
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
