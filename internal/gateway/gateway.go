// Package gateway exposes the chat-completion adapter over HTTP.
//
// DESIGN: One POST endpoint accepting an OpenAI-shaped body whose
// messages are forwarded to the adapter as raw wire mappings, plus
// health and stats probes. The gateway is the "caller" side of the
// adapter contract: it owns the metrics sink's persistence and maps
// the adapter's error taxonomy onto HTTP statuses. No streaming, no
// multi-choice fan-out - the adapter doesn't support them and the
// gateway doesn't pretend to.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/llm-adapter/internal/config"
	"github.com/compresr/llm-adapter/internal/llm"
	"github.com/compresr/llm-adapter/internal/metrics"
	"github.com/compresr/llm-adapter/internal/retry"
	"github.com/compresr/llm-adapter/internal/store"
)

// HeaderRequestID carries the request ID assigned by the gateway.
const HeaderRequestID = "X-Request-ID"

// maxRequestBody bounds inbound request bodies (10MB).
const maxRequestBody = 10 * 1024 * 1024

// Gateway wires the adapter, latency store and HTTP server together.
type Gateway struct {
	cfg     *config.Config
	adapter *llm.Adapter
	store   store.Store
	server  *http.Server
}

// New builds the gateway from configuration: latency store, retry
// policy, adapter, and the HTTP server with its middleware chain.
func New(cfg *config.Config) (*Gateway, error) {
	st, err := newStore(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	policy := &retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Listener: func(attempt, maxAttempts int) {
			log.Warn().Int("attempt", attempt).Int("max_attempts", maxAttempts).Msg("retrying upstream request")
		},
	}

	adapter, err := llm.New(cfg.LLM, llm.WithRetryPolicy(policy))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to construct adapter: %w", err)
	}

	g := &Gateway{
		cfg:     cfg,
		adapter: adapter,
		store:   st,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", g.handleCompletion)
	mux.HandleFunc("GET /healthz", g.handleHealth)
	mux.HandleFunc("GET /stats", g.handleStats)

	g.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      g.panicRecovery(g.requestID(g.logging(mux))),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return g, nil
}

func newStore(cfg config.MetricsConfig) (store.Store, error) {
	if cfg.Store == "sqlite" {
		return store.NewSQLiteStore(cfg.Path)
	}
	return store.NewMemoryStore(), nil
}

// Adapter exposes the underlying adapter (for tests and embedding).
func (g *Gateway) Adapter() *llm.Adapter {
	return g.adapter
}

// Handler returns the full middleware-wrapped handler.
func (g *Gateway) Handler() http.Handler {
	return g.server.Handler
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (g *Gateway) ListenAndServe() error {
	log.Info().Str("addr", g.server.Addr).Msg("gateway listening")
	return g.server.ListenAndServe()
}

// Shutdown drains the server and closes the latency store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	err := g.server.Shutdown(ctx)
	if cerr := g.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// completionRequest is the inbound body. Messages are forwarded to
// the adapter as raw wire mappings; the configured model always wins
// over an inbound one.
type completionRequest struct {
	Model    string           `json:"model"`
	Messages []map[string]any `json:"messages"`
}

func (g *Gateway) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		g.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		g.writeError(w, "messages is required", http.StatusBadRequest)
		return
	}

	inputs := make([]llm.Input, 0, len(req.Messages))
	for _, m := range req.Messages {
		inputs = append(inputs, llm.RawMessage(m))
	}

	start := time.Now()
	result, err := g.adapter.Completion(r.Context(), inputs, nil)
	if err != nil {
		g.writeCompletionError(w, err)
		return
	}

	// Persist what we served; the in-memory sink holds the same record.
	if serr := g.store.SaveLatency(metrics.ResponseLatency{
		ResponseID: result.ID,
		Model:      result.Model,
		Latency:    time.Since(start),
		RecordedAt: time.Now(),
	}); serr != nil {
		log.Warn().Err(serr).Msg("failed to persist latency record")
	}

	g.writeJSON(w, http.StatusOK, result)
}

// writeCompletionError maps the adapter's error taxonomy to HTTP.
func (g *Gateway) writeCompletionError(w http.ResponseWriter, err error) {
	var ue *llm.UpstreamError
	if errors.As(err, &ue) {
		switch {
		case ue.StatusCode == 0:
			g.writeError(w, "upstream unreachable", http.StatusBadGateway)
		case ue.StatusCode == http.StatusTooManyRequests:
			g.writeError(w, "upstream rate limited", http.StatusTooManyRequests)
		default:
			g.writeError(w, fmt.Sprintf("upstream returned status %d", ue.StatusCode), http.StatusBadGateway)
		}
		return
	}

	var me *llm.MalformedResponseError
	if errors.As(err, &me) {
		g.writeError(w, "upstream returned a malformed response", http.StatusBadGateway)
		return
	}

	g.writeError(w, "completion failed", http.StatusInternalServerError)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statsResponse summarizes the sink and the persisted records.
type statsResponse struct {
	Model          string                    `json:"model"`
	Completions    int                       `json:"completions"`
	AverageLatency string                    `json:"average_latency"`
	Recent         []metrics.ResponseLatency `json:"recent"`
}

func (g *Gateway) handleStats(w http.ResponseWriter, _ *http.Request) {
	sink := g.adapter.Metrics()
	recent, err := g.store.RecentLatencies(20)
	if err != nil {
		log.Error().Err(err).Msg("failed to read latency records")
		g.writeError(w, "failed to read stats", http.StatusInternalServerError)
		return
	}

	g.writeJSON(w, http.StatusOK, statsResponse{
		Model:          sink.ModelName(),
		Completions:    len(sink.ResponseLatencies()),
		AverageLatency: sink.AverageLatency().String(),
		Recent:         recent,
	})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, msg string, status int) {
	g.writeJSON(w, status, map[string]any{
		"error": map[string]any{"message": msg, "code": status},
	})
}
