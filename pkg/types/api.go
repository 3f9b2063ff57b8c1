package types

// EmbedRequest is the payload for POST /embed.
type EmbedRequest struct {
	// One text or a list of texts.
	// example: ["What is Deep Learning?"]
	Inputs Inputs `json:"inputs" swaggertype:"array,string"`
	// Truncate inputs longer than the model's maximum instead of rejecting them.
	// Omitted means the server default.
	Truncate *bool `json:"truncate,omitempty" example:"false"`
	// L2-normalize each embedding (default true).
	Normalize *bool `json:"normalize,omitempty" example:"true"`
	// Maximum time an input may wait in the queue, in milliseconds.
	// example: 500
	TimeoutMS int `json:"timeout_ms,omitempty" example:"500"`
}

// RerankRequest is the payload for POST /rerank.
type RerankRequest struct {
	// example: What is Deep Learning?
	Query string `json:"query" example:"What is Deep Learning?"`
	// example: ["Deep Learning is a branch of machine learning.","Cheese is made from milk."]
	Texts    []string `json:"texts"`
	Truncate *bool    `json:"truncate,omitempty" example:"false"`
	// Echo each text in the response.
	ReturnText bool `json:"return_text,omitempty" example:"false"`
	TimeoutMS  int  `json:"timeout_ms,omitempty" example:"500"`
}

// Rank is one scored text in a rerank response.
type Rank struct {
	// Position of the text in the request.
	// example: 0
	Index int `json:"index" example:"0"`
	// Relevance score in [0,1].
	// example: 0.93
	Score float32 `json:"score" example:"0.93"`
	Text  string  `json:"text,omitempty"`
}

// PredictRequest is the payload for POST /predict.
type PredictRequest struct {
	Inputs   Inputs `json:"inputs" swaggertype:"array,string"`
	Truncate *bool  `json:"truncate,omitempty" example:"false"`
	// Return logits instead of softmax probabilities.
	RawScores bool `json:"raw_scores,omitempty" example:"false"`
	TimeoutMS int  `json:"timeout_ms,omitempty" example:"500"`
}

// Prediction is one label score for one input.
type Prediction struct {
	// example: positive
	Label string `json:"label" example:"positive"`
	// example: 0.87
	Score float32 `json:"score" example:"0.87"`
}

// SearchRequest is the payload for POST /search.
type SearchRequest struct {
	// example: how to reset a password
	Question string `json:"question" example:"how to reset a password"`
	// Table to search.
	// example: faq
	Table string `json:"table" example:"faq"`
	// example: 5
	TopK int `json:"top_k" example:"5"`
}

// SearchHit is one nearest document.
type SearchHit struct {
	// example: 42
	ID string `json:"id" example:"42"`
	// example: faq
	Source string `json:"source" example:"faq"`
	// Cosine similarity to the question.
	// example: 0.82
	Similarity float32 `json:"similarity" example:"0.82"`
	// Cosine distance (1 - similarity).
	// example: 0.18
	Distance float32 `json:"distance" example:"0.18"`
	// example: RESET_PW
	Code string `json:"code" example:"RESET_PW"`
}

// IndexRequest is the payload for POST /tables/{table}/documents.
type IndexRequest struct {
	Documents []Document `json:"documents"`
}

// IndexResponse reports stored documents.
type IndexResponse struct {
	// example: 2
	Indexed int      `json:"indexed" example:"2"`
	IDs     []string `json:"ids"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: queue full: 1024 entries pending
	Error string `json:"error" example:"queue full: 1024 entries pending"`
	// HTTP status code.
	// example: 429
	Code int `json:"code" example:"429"`
	// Error class.
	// example: overloaded
	Type string `json:"type" example:"overloaded"`
}

// InfoResponse describes the served model and limits for GET /info.
type InfoResponse struct {
	// example: bge-small-en
	ModelID string `json:"model_id" example:"bge-small-en"`
	// example: /models/bge-small-en
	ModelDir string `json:"model_dir,omitempty"`
	// example: fallback
	Backend string `json:"backend" example:"fallback"`
	// example: simple
	Tokenizer string `json:"tokenizer" example:"simple"`
	// example: cls
	Pooling            string   `json:"pooling" example:"cls"`
	Kinds              []string `json:"kinds"`
	Labels             []string `json:"labels,omitempty"`
	MaxBatchRequests   int      `json:"max_batch_requests" example:"32"`
	MaxBatchTokens     int      `json:"max_batch_tokens" example:"16384"`
	MaxQueueSize       int      `json:"max_queue_size" example:"1024"`
	MaxInputLength     int      `json:"max_input_length" example:"512"`
	MaxClientBatchSize int      `json:"max_client_batch_size" example:"32"`
	DefaultTruncate    bool     `json:"default_truncate" example:"false"`
	OversizePolicy     string   `json:"oversize_policy" example:"schedule"`
	// example: 0.1.0
	Version string `json:"version,omitempty" example:"0.1.0"`
}

// QueueStatus mirrors the scheduler counters.
type QueueStatus struct {
	// Entries waiting to be batched.
	// example: 3
	Pending int `json:"pending" example:"3"`
	// Whether a batch is in flight.
	Busy bool `json:"busy" example:"true"`
	// Executed batches since start.
	// example: 120
	Batches uint64 `json:"batches" example:"120"`
	// Executed entries since start.
	// example: 900
	Entries uint64 `json:"entries" example:"900"`
	// Entries refused for backpressure or size.
	// example: 2
	Rejected     uint64 `json:"rejected" example:"2"`
	MaxQueueSize int    `json:"max_queue_size" example:"1024"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Overall state (loading, ready, error, closed).
	// example: ready
	State string      `json:"state" example:"ready"`
	Queue QueueStatus `json:"queue"`
	// Last batch error observed, if any.
	LastError string `json:"last_error,omitempty"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Requests served, by outcome.
	RequestsOK     uint64 `json:"requests_ok" example:"1000"`
	RequestsFailed uint64 `json:"requests_failed" example:"3"`
}
