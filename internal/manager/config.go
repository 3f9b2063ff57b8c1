package manager

import (
	"runtime"
	"time"

	"embedd/internal/queue"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxInputLength     = 512
	defaultMaxClientBatchSize = 32
	defaultWarmupTimeout      = 2 * time.Minute
)

// Config encapsulates all tunables for Manager construction.
type Config struct {
	ModelID   string
	ModelDir  string
	Backend   string
	Tokenizer string
	Pooling   string
	// Labels name Predict outputs; missing names become LABEL_<i>.
	Labels []string

	Queue queue.Config

	MaxInputLength      int
	MaxClientBatchSize  int
	DefaultTruncate     bool
	TokenizationWorkers int
	WarmupTimeout       time.Duration

	Version string
}

func (c *Config) applyDefaults() {
	if c.MaxInputLength <= 0 {
		c.MaxInputLength = defaultMaxInputLength
	}
	if c.MaxClientBatchSize <= 0 {
		c.MaxClientBatchSize = defaultMaxClientBatchSize
	}
	if c.TokenizationWorkers <= 0 {
		c.TokenizationWorkers = runtime.NumCPU()
	}
	if c.WarmupTimeout <= 0 {
		c.WarmupTimeout = defaultWarmupTimeout
	}
}
