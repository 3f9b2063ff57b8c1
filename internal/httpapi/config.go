package httpapi

import "time"

const defaultMaxBodyBytes int64 = 2 << 20

// maxBodyBytes caps request bodies for JSON endpoints.
var maxBodyBytes = defaultMaxBodyBytes

// SetMaxBodyBytes sets the maximum request body size; non-positive restores
// the 2 MiB default.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
		return
	}
	maxBodyBytes = n
}

// inferTimeout bounds a whole inference request, queueing included.
// Zero means no bound beyond the per-request timeout_ms.
var inferTimeout time.Duration

// SetInferTimeout sets the request timeout (0 disables).
func SetInferTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	inferTimeout = d
}

// CORS configuration (opt-in). With no origins no CORS middleware is added.
var (
	corsAllowedOrigins []string
	corsAllowedMethods = []string{"GET", "POST", "OPTIONS"}
	corsAllowedHeaders = []string{"Content-Type", "X-Log-Level", "X-Request-Id"}
)

// SetCORSOrigins enables CORS for the given origins; empty disables it.
func SetCORSOrigins(origins []string) {
	corsAllowedOrigins = append([]string(nil), origins...)
}

// Per-client rate limiting (opt-in).
var (
	rateLimitRPS   float64
	rateLimitBurst int
)

// SetRateLimit enables per-client rate limiting at rps requests per second
// with the given burst; rps <= 0 disables it.
func SetRateLimit(rps float64, burst int) {
	if rps <= 0 {
		rateLimitRPS, rateLimitBurst = 0, 0
		return
	}
	if burst <= 0 {
		burst = int(rps) + 1
	}
	rateLimitRPS, rateLimitBurst = rps, burst
}
