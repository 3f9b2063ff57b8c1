package main

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"embedd/internal/config"
)

// loadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// applyEnv overlays EMBEDD_* variables onto cfg.
func applyEnv(cfg *config.Config) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil {
			*dst = n
		}
	}
	str("EMBEDD_ADDR", &cfg.Addr)
	str("EMBEDD_LOG_LEVEL", &cfg.LogLevel)
	str("EMBEDD_MODEL_DIR", &cfg.ModelDir)
	str("EMBEDD_MODEL_PATH", &cfg.ModelPath)
	str("EMBEDD_TOKENIZER_PATH", &cfg.TokenizerPath)
	str("EMBEDD_BACKEND", &cfg.Backend)
	str("EMBEDD_SEARCH_DIR", &cfg.SearchDir)
	str("LLAMA_BIN", &cfg.LlamaBin)
	num("EMBEDD_MAX_BATCH_REQUESTS", &cfg.MaxBatchRequests)
	num("EMBEDD_MAX_BATCH_TOKENS", &cfg.MaxBatchTokens)
	num("EMBEDD_MAX_QUEUE_SIZE", &cfg.MaxQueueSize)
	num("EMBEDD_MAX_INPUT_LENGTH", &cfg.MaxInputLength)
	if v := os.Getenv("EMBEDD_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
	if v := os.Getenv("EMBEDD_LOG_JSON"); v != "" {
		cfg.LogJSON, _ = strconv.ParseBool(v)
	}
}

// splitCSV splits a comma-separated list, dropping empty items.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
