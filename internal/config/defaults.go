package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Defaults is the baseline every unset field falls back to.
func Defaults() Config {
	return Config{
		Addr:               ":8080",
		MaxBody:            "2MB",
		InferTimeoutMS:     30000,
		LogLevel:           "info",
		Backend:            "fallback",
		Pooling:            "cls",
		MaxBatchRequests:   32,
		MaxBatchTokens:     16384,
		MaxQueueSize:       1024,
		MaxInputLength:     512,
		MaxClientBatchSize: 32,
		OversizePolicy:     "schedule",
		LlamaCtx:           512,
	}
}

// WithDefaults returns c with every zero field replaced from Defaults.
// Booleans keep their value: false is indistinguishable from unset.
func (c Config) WithDefaults() Config {
	d := Defaults()
	str := func(v *string, def string) {
		if strings.TrimSpace(*v) == "" {
			*v = def
		}
	}
	num := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	str(&c.Addr, d.Addr)
	str(&c.MaxBody, d.MaxBody)
	num(&c.InferTimeoutMS, d.InferTimeoutMS)
	str(&c.LogLevel, d.LogLevel)
	str(&c.Backend, d.Backend)
	str(&c.Pooling, d.Pooling)
	num(&c.MaxBatchRequests, d.MaxBatchRequests)
	num(&c.MaxBatchTokens, d.MaxBatchTokens)
	num(&c.MaxQueueSize, d.MaxQueueSize)
	num(&c.MaxInputLength, d.MaxInputLength)
	num(&c.MaxClientBatchSize, d.MaxClientBatchSize)
	str(&c.OversizePolicy, d.OversizePolicy)
	num(&c.LlamaCtx, d.LlamaCtx)
	if c.RateLimitRPS > 0 && c.RateLimitBurst <= 0 {
		c.RateLimitBurst = int(2*c.RateLimitRPS) + 1
	}
	return c
}

// MaxBodyBytes parses MaxBody ("2MB", "512KiB", "1048576").
func (c Config) MaxBodyBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.MaxBody)
	if err != nil {
		return 0, fmt.Errorf("max_body %q: %w", c.MaxBody, err)
	}
	return int64(n), nil
}

// Validate reports every invalid field of a defaulted config.
func (c Config) Validate() error {
	var errs []error
	for _, f := range []struct {
		name string
		v    int
	}{
		{"max_batch_requests", c.MaxBatchRequests},
		{"max_batch_tokens", c.MaxBatchTokens},
		{"max_queue_size", c.MaxQueueSize},
		{"max_input_length", c.MaxInputLength},
		{"max_client_batch_size", c.MaxClientBatchSize},
	} {
		if f.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", f.name))
		}
	}
	if _, err := c.MaxBodyBytes(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Backend) {
	case "fallback", "llama", "subprocess":
	default:
		errs = append(errs, fmt.Errorf("backend %q: want fallback|llama|subprocess", c.Backend))
	}
	switch strings.ToLower(c.Tokenizer) {
	case "", "simple", "hf":
	default:
		errs = append(errs, fmt.Errorf("tokenizer %q: want simple|hf", c.Tokenizer))
	}
	switch strings.ToLower(c.OversizePolicy) {
	case "schedule", "reject":
	default:
		errs = append(errs, fmt.Errorf("oversize_policy %q: want schedule|reject", c.OversizePolicy))
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, errors.New("rate_limit_rps must be >= 0"))
	}
	if c.LlamaPortStart > 0 && c.LlamaPortEnd < c.LlamaPortStart {
		errs = append(errs, errors.New("llama_port_end must be >= llama_port_start"))
	}
	return errors.Join(errs...)
}
