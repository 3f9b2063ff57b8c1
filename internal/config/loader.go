package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by Defaults in main.
type Config struct {
	// HTTP
	Addr           string   `json:"addr" yaml:"addr" toml:"addr"`
	MaxBody        string   `json:"max_body" yaml:"max_body" toml:"max_body"`
	InferTimeoutMS int      `json:"infer_timeout_ms" yaml:"infer_timeout_ms" toml:"infer_timeout_ms"`
	CORSOrigins    []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	RateLimitRPS   float64  `json:"rate_limit_rps" yaml:"rate_limit_rps" toml:"rate_limit_rps"`
	RateLimitBurst int      `json:"rate_limit_burst" yaml:"rate_limit_burst" toml:"rate_limit_burst"`

	// Logging
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogJSON  bool   `json:"log_json" yaml:"log_json" toml:"log_json"`

	// Model
	ModelDir      string   `json:"model_dir" yaml:"model_dir" toml:"model_dir"`
	ModelPath     string   `json:"model_path" yaml:"model_path" toml:"model_path"`
	TokenizerPath string   `json:"tokenizer_path" yaml:"tokenizer_path" toml:"tokenizer_path"`
	Tokenizer     string   `json:"tokenizer" yaml:"tokenizer" toml:"tokenizer"`
	Backend       string   `json:"backend" yaml:"backend" toml:"backend"`
	Pooling       string   `json:"pooling" yaml:"pooling" toml:"pooling"`
	Dim           int      `json:"dim" yaml:"dim" toml:"dim"`
	Labels        []string `json:"labels" yaml:"labels" toml:"labels"`

	// Batching and validation
	MaxBatchRequests    int    `json:"max_batch_requests" yaml:"max_batch_requests" toml:"max_batch_requests"`
	MaxBatchTokens      int    `json:"max_batch_tokens" yaml:"max_batch_tokens" toml:"max_batch_tokens"`
	MaxQueueSize        int    `json:"max_queue_size" yaml:"max_queue_size" toml:"max_queue_size"`
	MaxInputLength      int    `json:"max_input_length" yaml:"max_input_length" toml:"max_input_length"`
	MaxClientBatchSize  int    `json:"max_client_batch_size" yaml:"max_client_batch_size" toml:"max_client_batch_size"`
	DefaultTruncate     bool   `json:"default_truncate" yaml:"default_truncate" toml:"default_truncate"`
	OversizePolicy      string `json:"oversize_policy" yaml:"oversize_policy" toml:"oversize_policy"`
	TokenizationWorkers int    `json:"tokenization_workers" yaml:"tokenization_workers" toml:"tokenization_workers"`

	// Search
	SearchDir string `json:"search_dir" yaml:"search_dir" toml:"search_dir"`

	// llama.cpp (in-process and llama-server)
	LlamaBin       string `json:"llama_bin" yaml:"llama_bin" toml:"llama_bin"`
	LlamaCtx       int    `json:"llama_ctx" yaml:"llama_ctx" toml:"llama_ctx"`
	LlamaThreads   int    `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads"`
	LlamaNGL       int    `json:"llama_ngl" yaml:"llama_ngl" toml:"llama_ngl"`
	LlamaPortStart int    `json:"llama_port_start" yaml:"llama_port_start" toml:"llama_port_start"`
	LlamaPortEnd   int    `json:"llama_port_end" yaml:"llama_port_end" toml:"llama_port_end"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
