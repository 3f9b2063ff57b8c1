package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"embedd/internal/manager"
	"embedd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Embed(ctx context.Context, texts []string, opts manager.Options) ([][]float32, manager.Timing, error)
	Rerank(ctx context.Context, query string, texts []string, opts manager.Options) ([]types.Rank, manager.Timing, error)
	Predict(ctx context.Context, texts []string, opts manager.Options) ([][]types.Prediction, manager.Timing, error)
	Index(ctx context.Context, table string, docs []types.Document) ([]string, error)
	Search(ctx context.Context, table, question string, topK int) ([]types.SearchHit, error)
	Document(table, id string) (types.Document, error)
	DeleteDocument(table, id string) error
	Info() types.InfoResponse
	Status() types.StatusResponse
	Ready() bool
}

var _ Service = (*manager.Manager)(nil)

// Timing headers, in milliseconds.
const (
	headerQueueTime     = "X-Queue-Time"
	headerInferenceTime = "X-Inference-Time"
	headerTotalTime     = "X-Total-Time"
)

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if len(corsAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			ExposedHeaders: []string{headerQueueTime, headerInferenceTime, headerTotalTime, middleware.RequestIDHeader},
			MaxAge:         300,
		}))
	}

	h := &handlers{svc: svc}
	r.Group(func(r chi.Router) {
		if rateLimitRPS > 0 {
			r.Use(rateLimit(newLimiterPool(rateLimitRPS, rateLimitBurst)))
		}
		r.Post("/embed", h.embed)
		r.Post("/rerank", h.rerank)
		r.Post("/predict", h.predict)
		r.Post("/search", h.search)
		r.Post("/tables/{table}/documents", h.index)
	})
	r.Get("/tables/{table}/documents/{id}", h.getDocument)
	r.Delete("/tables/{table}/documents/{id}", h.deleteDocument)

	r.Get("/info", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Info())
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

type handlers struct {
	svc Service
}

// @Summary     Embed texts
// @Description Returns one embedding per input, in input order.
// @Tags        inference
// @Accept      json
// @Produce     json
// @Param       request body     types.EmbedRequest true "Inputs"
// @Success     200     {array}  []float32
// @Failure     400     {object} types.ErrorResponse
// @Failure     413     {object} types.ErrorResponse
// @Failure     429     {object} types.ErrorResponse
// @Router      /embed [post]
func (h *handlers) embed(w http.ResponseWriter, r *http.Request) {
	var req types.EmbedRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start, lvl := time.Now(), requestLogLevel(r)
	logStart(r, lvl, len(req.Inputs))
	ctx, cancel := requestContext(r.Context())
	defer cancel()
	vecs, timing, err := h.svc.Embed(ctx, req.Inputs, manager.Options{
		Truncate:     req.Truncate,
		Normalize:    req.Normalize,
		QueueTimeout: millis(req.TimeoutMS),
	})
	respond(w, r, lvl, start, timing, vecs, err)
}

// @Summary     Rerank texts against a query
// @Description Scores each (query, text) pair and returns them by descending score.
// @Tags        inference
// @Accept      json
// @Produce     json
// @Param       request body     types.RerankRequest true "Query and texts"
// @Success     200     {array}  types.Rank
// @Failure     400     {object} types.ErrorResponse
// @Failure     429     {object} types.ErrorResponse
// @Router      /rerank [post]
func (h *handlers) rerank(w http.ResponseWriter, r *http.Request) {
	var req types.RerankRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start, lvl := time.Now(), requestLogLevel(r)
	logStart(r, lvl, len(req.Texts))
	ctx, cancel := requestContext(r.Context())
	defer cancel()
	ranks, timing, err := h.svc.Rerank(ctx, req.Query, req.Texts, manager.Options{
		Truncate:     req.Truncate,
		ReturnText:   req.ReturnText,
		QueueTimeout: millis(req.TimeoutMS),
	})
	respond(w, r, lvl, start, timing, ranks, err)
}

// @Summary     Classify texts
// @Tags        inference
// @Accept      json
// @Produce     json
// @Param       request body     types.PredictRequest true "Inputs"
// @Success     200     {array}  []types.Prediction
// @Failure     400     {object} types.ErrorResponse
// @Failure     429     {object} types.ErrorResponse
// @Router      /predict [post]
func (h *handlers) predict(w http.ResponseWriter, r *http.Request) {
	var req types.PredictRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start, lvl := time.Now(), requestLogLevel(r)
	logStart(r, lvl, len(req.Inputs))
	ctx, cancel := requestContext(r.Context())
	defer cancel()
	preds, timing, err := h.svc.Predict(ctx, req.Inputs, manager.Options{
		Truncate:     req.Truncate,
		RawScores:    req.RawScores,
		QueueTimeout: millis(req.TimeoutMS),
	})
	respond(w, r, lvl, start, timing, preds, err)
}

// @Summary     Semantic search
// @Tags        search
// @Accept      json
// @Produce     json
// @Param       request body     types.SearchRequest true "Question"
// @Success     200     {array}  types.SearchHit
// @Failure     404     {object} types.ErrorResponse
// @Router      /search [post]
func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	var req types.SearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start, lvl := time.Now(), requestLogLevel(r)
	logStart(r, lvl, 1)
	ctx, cancel := requestContext(r.Context())
	defer cancel()
	hits, err := h.svc.Search(ctx, req.Table, req.Question, req.TopK)
	respond(w, r, lvl, start, manager.Timing{}, hits, err)
}

// @Summary     Index documents into a table
// @Tags        search
// @Accept      json
// @Produce     json
// @Param       table   path     string             true "Table name"
// @Param       request body     types.IndexRequest true "Documents"
// @Success     200     {object} types.IndexResponse
// @Failure     400     {object} types.ErrorResponse
// @Router      /tables/{table}/documents [post]
func (h *handlers) index(w http.ResponseWriter, r *http.Request) {
	var req types.IndexRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start, lvl := time.Now(), requestLogLevel(r)
	logStart(r, lvl, len(req.Documents))
	ctx, cancel := requestContext(r.Context())
	defer cancel()
	ids, err := h.svc.Index(ctx, chi.URLParam(r, "table"), req.Documents)
	var body any
	if err == nil {
		body = types.IndexResponse{Indexed: len(ids), IDs: ids}
	}
	respond(w, r, lvl, start, manager.Timing{}, body, err)
}

// @Summary     Fetch one indexed document
// @Tags        search
// @Produce     json
// @Param       table path     string true "Table name"
// @Param       id    path     string true "Document id"
// @Success     200   {object} types.Document
// @Failure     404   {object} types.ErrorResponse
// @Router      /tables/{table}/documents/{id} [get]
func (h *handlers) getDocument(w http.ResponseWriter, r *http.Request) {
	start, lvl := time.Now(), requestLogLevel(r)
	doc, err := h.svc.Document(chi.URLParam(r, "table"), chi.URLParam(r, "id"))
	respond(w, r, lvl, start, manager.Timing{}, doc, err)
}

// @Summary     Delete one indexed document
// @Tags        search
// @Param       table path string true "Table name"
// @Param       id    path string true "Document id"
// @Success     204
// @Failure     400   {object} types.ErrorResponse
// @Router      /tables/{table}/documents/{id} [delete]
func (h *handlers) deleteDocument(w http.ResponseWriter, r *http.Request) {
	start, lvl := time.Now(), requestLogLevel(r)
	if err := h.svc.DeleteDocument(chi.URLParam(r, "table"), chi.URLParam(r, "id")); err != nil {
		logEnd(r, lvl, writeError(w, err), start, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	logEnd(r, lvl, http.StatusNoContent, start, nil)
}

// decodeJSON checks the content type, bounds the body and decodes it into v.
// It writes the error response and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// respond writes body or the mapped error. Nothing is written when the
// client has already gone away.
func respond(w http.ResponseWriter, r *http.Request, lvl LogLevel, start time.Time, timing manager.Timing, body any, err error) {
	if err != nil {
		if r.Context().Err() != nil {
			logEnd(r, lvl, statusClientClosed, start, err)
			return
		}
		logEnd(r, lvl, writeError(w, err), start, err)
		return
	}
	setTimingHeaders(w, timing, time.Since(start))
	writeJSON(w, http.StatusOK, body)
	logEnd(r, lvl, http.StatusOK, start, nil)
}

func setTimingHeaders(w http.ResponseWriter, t manager.Timing, total time.Duration) {
	if t.Total > 0 {
		total = t.Total
	}
	w.Header().Set(headerQueueTime, strconv.FormatInt(t.Queue.Milliseconds(), 10))
	w.Header().Set(headerInferenceTime, strconv.FormatInt(t.Inference.Milliseconds(), 10))
	w.Header().Set(headerTotalTime, strconv.FormatInt(total.Milliseconds(), 10))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Debug().Err(err).Msg("encode response")
	}
}

func millis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
