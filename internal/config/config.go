package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	CheckpointPath  string           `json:"checkpoint_path"`
	ContinueOnError bool             `json:"continue_on_error"`
	Window          WindowConfig     `json:"window"`
	Retrieval       RetrievalConfig  `json:"retrieval"`
	Cache           BackendConfig    `json:"cache"`
	VectorIndex     BackendConfig    `json:"vector_index"`
	AI              AIConfig         `json:"ai"`
	Source          BackendConfig    `json:"source"`
	Sink            BackendConfig    `json:"sink"`
	StatusAPI       StatusAPIConfig  `json:"status_api"`
	LogConfig       logger.LogConfig `json:"log_config"`
}

// BackendConfig selects a pluggable backend; Data is decoded by the
// backend factory itself.
type BackendConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type WindowConfig struct {
	Policy            string  `json:"policy"`
	Size              int     `json:"size"`
	DurationMinutes   int     `json:"duration_minutes"`
	MaxBytes          int     `json:"max_bytes"`
	OverlapRatio      float64 `json:"overlap_ratio"`
	MaxWindowTokens   int     `json:"max_window_tokens"`
	MinWindowMessages int     `json:"min_window_messages"`
}

type RetrievalConfig struct {
	ChunkMaxTokens     int     `json:"chunk_max_tokens"`
	ChunkOverlapTokens int     `json:"chunk_overlap_tokens"`
	PerChunkTopK       int     `json:"per_chunk_top_k"`
	TopN               int     `json:"top_n"`
	MinSimilarity      float64 `json:"min_similarity"`
	QueryConcurrency   int     `json:"query_concurrency"`
}

type AIConfig struct {
	Provider            string      `json:"provider"`
	Data                interface{} `json:"data"`
	GenerateModel       string      `json:"generate_model"`
	EmbedModel          string      `json:"embed_model"`
	Instructions        string      `json:"instructions"`
	RatePerSecond       float64     `json:"rate_per_second"`
	Burst               int         `json:"burst"`
	MaxConcurrency      int         `json:"max_concurrency"`
	MaxRetries          int         `json:"max_retries"`
	TimeoutSeconds      int         `json:"timeout_seconds"`
	EmbedCacheSize      int         `json:"embed_cache_size"`
	EmbedCacheTTLMinute int         `json:"embed_cache_ttl_minutes"`
}

type StatusAPIConfig struct {
	Enable bool `json:"enable"`
	Port   int  `json:"port"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.CheckpointPath == "" {
		return nil, fmt.Errorf("checkpoint_path is required")
	}
	if cfg.Source.Type == "" {
		return nil, fmt.Errorf("source.type is required")
	}
	if cfg.Sink.Type == "" {
		return nil, fmt.Errorf("sink.type is required")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	applyWindowDefaults(&cfg.Window)
	applyRetrievalDefaults(&cfg.Retrieval)
	applyAIDefaults(&cfg.AI)
	if cfg.Cache.Type == "" {
		cfg.Cache.Type = "memory"
	}
	if cfg.VectorIndex.Type == "" {
		cfg.VectorIndex.Type = "memory"
	}
	if cfg.StatusAPI.Enable && cfg.StatusAPI.Port == 0 {
		return nil, fmt.Errorf("status_api.port is required when status_api.enable is set")
	}
	return &cfg, nil
}

func applyWindowDefaults(w *WindowConfig) {
	if w.Policy == "" {
		w.Policy = "messages"
	}
	if w.Size == 0 {
		w.Size = 100
	}
	if w.DurationMinutes == 0 {
		w.DurationMinutes = 24 * 60
	}
	if w.MaxBytes == 0 {
		w.MaxBytes = 320_000
	}
	if w.MaxWindowTokens == 0 {
		w.MaxWindowTokens = 100_000
	}
	if w.MinWindowMessages == 0 {
		w.MinWindowMessages = 1
	}
}

func applyRetrievalDefaults(r *RetrievalConfig) {
	if r.ChunkMaxTokens == 0 {
		r.ChunkMaxTokens = 1800
	}
	if r.ChunkOverlapTokens == 0 {
		r.ChunkOverlapTokens = 150
	}
	if r.PerChunkTopK == 0 {
		r.PerChunkTopK = 5
	}
	if r.TopN == 0 {
		r.TopN = 5
	}
	if r.MinSimilarity == 0 {
		r.MinSimilarity = 0.7
	}
	if r.QueryConcurrency == 0 {
		r.QueryConcurrency = 4
	}
}

func applyAIDefaults(a *AIConfig) {
	if a.RatePerSecond == 0 {
		a.RatePerSecond = 1.0
	}
	if a.Burst == 0 {
		a.Burst = 2
	}
	if a.MaxConcurrency == 0 {
		a.MaxConcurrency = 4
	}
	if a.MaxRetries == 0 {
		a.MaxRetries = 3
	}
	if a.TimeoutSeconds == 0 {
		a.TimeoutSeconds = 120
	}
	if a.EmbedCacheSize == 0 {
		a.EmbedCacheSize = 4096
	}
	if a.EmbedCacheTTLMinute == 0 {
		a.EmbedCacheTTLMinute = 120
	}
}
