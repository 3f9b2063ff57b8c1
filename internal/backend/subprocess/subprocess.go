// Package subprocess delegates inference to a llama-server child process
// started with --embedding. The child is spawned lazily on first use, probed
// until healthy, and restarted when a health check fails.
package subprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"embedd/internal/backend"
	"embedd/internal/events"
)

const source = "subprocess"

// Config describes how to spawn llama-server.
type Config struct {
	Bin          string
	ModelPath    string
	Host         string
	PortStart    int
	PortEnd      int
	CtxSize      int
	NGL          int
	Threads      int
	ExtraArgs    []string
	ReadyTimeout time.Duration
}

// Engine implements backend.Backend on top of a spawned llama-server.
type Engine struct {
	cfg        Config
	mu         sync.Mutex
	proc       *procInfo
	httpClient *http.Client
	publisher  events.Publisher
	log        zerolog.Logger
}

type procInfo struct {
	cmd     *exec.Cmd
	baseURL string
	ready   bool
	pid     int
	exited  chan struct{}
}

var _ backend.Backend = (*Engine)(nil)

// New constructs an engine. No process is started until the first call.
func New(cfg Config, log zerolog.Logger, pub events.Publisher) *Engine {
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 30 * time.Second
	}
	// Timeout=0: all calls carry context deadlines.
	return &Engine{cfg: cfg, httpClient: &http.Client{Timeout: 0}, publisher: events.OrNoop(pub), log: log.With().Str("backend", source).Logger()}
}

func (e *Engine) Supports(k backend.Kind) bool { return k == backend.Embed }

func (e *Engine) Health(ctx context.Context) error {
	_, err := e.ensureProcess(ctx)
	return err
}

type embeddingsRequest struct {
	Input [][]uint32 `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *Engine) Infer(ctx context.Context, b *backend.Batch) ([]backend.Output, error) {
	if b.Kind != backend.Embed {
		return nil, backend.ErrInvalidInput("subprocess engine does not support %s", b.Kind)
	}
	baseURL, err := e.ensureProcess(ctx)
	if err != nil {
		return nil, backend.ErrInternal("llama-server unavailable: %v", err)
	}
	payload := embeddingsRequest{Input: make([][]uint32, b.Size())}
	for i := range payload.Input {
		payload.Input[i] = b.Tokens(i)
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, backend.ErrInternal("%v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, backend.ErrInternal("llama-server request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyHTTP(resp.StatusCode, string(msg))
	}
	var decoded embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, backend.ErrInternal("decode llama-server response: %v", err)
	}
	out := make([]backend.Output, b.Size())
	for _, d := range decoded.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, backend.ErrInternal("llama-server returned index %d for batch of %d", d.Index, len(out))
		}
		out[d.Index].Values = d.Embedding
	}
	for i := range out {
		if out[i].Values == nil {
			return nil, backend.ErrInternal("llama-server returned no embedding for member %d", i)
		}
	}
	return out, nil
}

// classifyHTTP maps a llama-server failure response to a backend error kind.
func classifyHTTP(status int, msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "out of memory") || strings.Contains(lower, "kv cache") || status == http.StatusServiceUnavailable:
		return backend.ErrOutOfMemory("llama-server %d: %s", status, msg)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return backend.ErrInvalidInput("llama-server %d: %s", status, msg)
	default:
		return backend.ErrInternal("llama-server %d: %s", status, msg)
	}
}

// isHealthy checks if the llama-server at baseURL responds OK to /health.
func (e *Engine) isHealthy(ctx context.Context, baseURL string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// ensureProcess starts (or returns the existing) llama-server and waits for readiness.
func (e *Engine) ensureProcess(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p := e.proc; p != nil {
		if e.isHealthy(ctx, p.baseURL, time.Second) {
			p.ready = true
			return p.baseURL, nil
		}
		e.stopLocked()
	}
	if strings.TrimSpace(e.cfg.Bin) == "" {
		return "", backend.ErrDependencyUnavailable("llama-server binary not configured")
	}

	var port int
	var err error
	if e.cfg.PortStart > 0 && e.cfg.PortEnd >= e.cfg.PortStart {
		port, err = pickPortInRange(e.cfg.Host, e.cfg.PortStart, e.cfg.PortEnd)
	} else {
		port, err = pickFreePort(e.cfg.Host)
	}
	if err != nil {
		return "", err
	}
	baseURL := fmt.Sprintf("http://%s:%d", e.cfg.Host, port)

	cmd := exec.Command(e.cfg.Bin, e.args(port)...)
	// Captured in-memory; the tail is included on failure.
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start llama-server: %w", err)
	}
	pid := cmd.Process.Pid
	e.log.Info().Str("model", e.cfg.ModelPath).Int("pid", pid).Int("port", port).Msg("spawn start")
	e.publisher.Publish(events.Event{Name: "spawn_start", Source: source, Fields: map[string]any{"pid": pid, "port": port}})
	exited := make(chan struct{})
	e.proc = &procInfo{cmd: cmd, baseURL: baseURL, pid: pid, exited: exited}

	waitErrCh := make(chan error, 1)
	go func() {
		waitErrCh <- cmd.Wait()
		close(exited)
	}()

	deadline := time.Now().Add(e.cfg.ReadyTimeout)
	for {
		if time.Now().After(deadline) {
			e.killLocked()
			e.publisher.Publish(events.Event{Name: "spawn_timeout", Source: source, Fields: map[string]any{"pid": pid}})
			return "", fmt.Errorf("llama-server not ready in time: %s", baseURL)
		}
		select {
		case werr := <-waitErrCh:
			e.proc = nil
			tail := stderr.String()
			if len(tail) > 4096 {
				tail = tail[len(tail)-4096:]
			}
			e.log.Error().Int("pid", pid).AnErr("exit", werr).Msg("spawn exited before ready")
			e.publisher.Publish(events.Event{Name: "spawn_exit", Source: source, Fields: map[string]any{"pid": pid, "before_ready": true}})
			return "", fmt.Errorf("llama-server exited before ready: %v; stderr tail: %s", werr, tail)
		case <-ctx.Done():
			e.killLocked()
			return "", ctx.Err()
		default:
		}
		if e.isHealthy(ctx, baseURL, time.Second) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	e.proc.ready = true
	e.log.Info().Int("pid", pid).Str("url", baseURL).Msg("spawn ready")
	e.publisher.Publish(events.Event{Name: "spawn_ready", Source: source, Fields: map[string]any{"pid": pid, "url": baseURL}})
	return baseURL, nil
}

func (e *Engine) args(port int) []string {
	args := []string{
		"-m", e.cfg.ModelPath,
		"--host", e.cfg.Host,
		"--port", strconv.Itoa(port),
		"--embedding",
	}
	if e.cfg.CtxSize > 0 {
		args = append(args, "-c", strconv.Itoa(e.cfg.CtxSize))
	}
	if e.cfg.NGL > 0 {
		args = append(args, "-ngl", strconv.Itoa(e.cfg.NGL))
	}
	if e.cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(e.cfg.Threads))
	}
	return append(args, e.cfg.ExtraArgs...)
}

// PID returns the child process id, or 0 when none is running.
func (e *Engine) PID() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.proc == nil {
		return 0
	}
	return e.proc.pid
}

// Close terminates the child process, if any.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	return nil
}

// stopLocked sends SIGTERM, falling back to kill after two seconds.
func (e *Engine) stopLocked() {
	p := e.proc
	e.proc = nil
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.exited:
	case <-time.After(2 * time.Second):
		_ = p.cmd.Process.Kill()
	}
	e.publisher.Publish(events.Event{Name: "spawn_stop", Source: source, Fields: map[string]any{"pid": p.pid}})
}

func (e *Engine) killLocked() {
	if e.proc != nil && e.proc.cmd != nil && e.proc.cmd.Process != nil {
		_ = e.proc.cmd.Process.Kill()
	}
	e.proc = nil
}

func pickPortInRange(host string, start, end int) (int, error) {
	for p := start; p <= end; p++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, errors.New("unexpected listener address")
	}
	return addr.Port, nil
}

// DiscoverBin looks for llama-server in common build locations, then PATH.
func DiscoverBin() string {
	home, _ := os.UserHomeDir()
	candidates := []string{
		filepath.Join(home, "apps", "llama.cpp", "build", "bin", "llama-server"),
		filepath.Join(home, "llama.cpp", "build", "bin", "llama-server"),
		"/usr/local/bin/llama-server",
		"/opt/homebrew/bin/llama-server",
	}
	for _, p := range candidates {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p
		}
	}
	if lp, err := exec.LookPath("llama-server"); err == nil {
		return lp
	}
	return ""
}
