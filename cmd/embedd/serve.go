package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"embedd/internal/backend"
	"embedd/internal/config"
	"embedd/internal/events"
	"embedd/internal/httpapi"
)

const shutdownTimeout = 10 * time.Second

// configureHTTP pushes the HTTP knobs of cfg into the httpapi package.
func configureHTTP(cfg config.Config, log zerolog.Logger) error {
	maxBody, err := cfg.MaxBodyBytes()
	if err != nil {
		return err
	}
	httpapi.SetLogger(log)
	httpapi.SetDefaultLogLevel(requestLogLevel(cfg.LogLevel))
	httpapi.SetMaxBodyBytes(maxBody)
	httpapi.SetInferTimeout(time.Duration(cfg.InferTimeoutMS) * time.Millisecond)
	httpapi.SetCORSOrigins(cfg.CORSOrigins)
	httpapi.SetRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)
	return nil
}

// requestLogLevel maps the process log level to the per-request default.
func requestLogLevel(level string) string {
	switch level {
	case "debug", "trace":
		return "debug"
	case "warn", "error", "fatal", "panic":
		return "error"
	case "disabled":
		return "off"
	default:
		return "info"
	}
}

func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := configureHTTP(cfg, log); err != nil {
		return err
	}
	pub := events.NewLog(log)
	mgr, err := buildManager(cfg, log, pub)
	if err != nil {
		return err
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			log.Error().Err(err).Msg("close")
		}
	}()

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	maxBody, _ := cfg.MaxBodyBytes()
	info := mgr.Info()
	log.Info().
		Str("addr", cfg.Addr).
		Str("model", info.ModelID).
		Str("backend", info.Backend).
		Str("tokenizer", info.Tokenizer).
		Str("max_body", humanize.IBytes(uint64(maxBody))).
		Str("max_queue_size", humanize.Comma(int64(info.MaxQueueSize))).
		Str("max_batch_tokens", humanize.Comma(int64(info.MaxBatchTokens))).
		Int("max_batch_requests", info.MaxBatchRequests).
		Msg("embedd listening")

	// Warm up in the background; /readyz reports loading until it succeeds.
	go func() {
		if err := mgr.Warmup(ctx); err != nil {
			log.Error().Err(err).Msg("warmup failed")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Stop accepting, then release handlers still waiting on the queue.
	go func() {
		<-shutdownCtx.Done()
		cancelBase()
	}()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return nil
}

// check runs the sanity probe for kinds and prints the report as JSON.
func check(ctx context.Context, cfg config.Config, log zerolog.Logger, w io.Writer, kinds []backend.Kind) error {
	mgr, err := buildManager(cfg, log, events.NewLog(log))
	if err != nil {
		return err
	}
	defer mgr.Close()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	report := mgr.SanityCheck(ctx, kinds...)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if !report.OK() {
		return errors.New("sanity check failed")
	}
	return nil
}
