// Package llm implements the chat-completion adapter for the
// upstream provider API.
//
// DESIGN: The adapter is a thin, stateless shim: it owns a snapshot
// of its configuration, builds the wire request, makes one blocking
// POST per call, and normalizes the response. Retry behavior is a
// composed capability (internal/retry) wrapped around the call, not
// logic of the adapter's own - with a single-attempt policy the
// adapter behaves identically. Latency lands in a shared metrics
// sink after every successful exchange.
//
// The credential is held in a config.Secret and extracted exactly
// once, at header construction. It never reaches a log field or an
// error message.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/llm-adapter/internal/config"
	"github.com/compresr/llm-adapter/internal/metrics"
	"github.com/compresr/llm-adapter/internal/retry"
)

const (
	// DefaultBaseURL is the provider endpoint used when the
	// configuration leaves base_url unset.
	DefaultBaseURL = "https://api.stackspot.com"

	// DefaultTimeout bounds a completion call when the configuration
	// leaves timeout unset.
	DefaultTimeout = 60 * time.Second

	// completionsPath is appended to the base URL for every call.
	completionsPath = "/v1/chat/completions"

	// maxResponseSize prevents OOM on unexpectedly large API responses (10MB).
	maxResponseSize = 10 * 1024 * 1024

	// maxErrorBodyLen limits error body in error messages to avoid log bloat.
	maxErrorBodyLen = 500
)

// unknownResponseID is recorded when the provider omits the id field.
// Metrics still get the latency; result construction fails separately.
const unknownResponseID = "unknown"

// CompletionResult is the normalized outcome of one completion call.
type CompletionResult struct {
	ID           string          `json:"id"`
	Model        string          `json:"model"`
	Message      Message         `json:"message"`
	FinishReason string          `json:"finish_reason"`
	Usage        json.RawMessage `json:"usage"`
	Created      int64           `json:"created"` // epoch seconds at adapter receive time
}

// Adapter forwards chat-completion requests to the provider and
// translates responses into CompletionResults.
type Adapter struct {
	cfg     config.LLMConfig
	baseURL string
	metrics *metrics.Metrics
	policy  *retry.Policy
	client  *http.Client
	logger  zerolog.Logger
}

// Option customizes adapter construction.
type Option func(*Adapter)

// WithMetrics shares an externally owned metrics sink. Without it the
// adapter creates a fresh sink seeded with the configured model name.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// WithRetryPolicy replaces the default retry policy. A policy with
// MaxAttempts 1 disables retries entirely.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(a *Adapter) { a.policy = p }
}

// WithRetryListener registers a callback fired before each retry with
// (attempt, maxAttempts).
func WithRetryListener(l retry.Listener) Option {
	return func(a *Adapter) { a.policy.Listener = l }
}

// WithHTTPClient replaces the transport (useful for tests and
// connection pooling). Timeouts still come from the configuration.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// WithLogger replaces the default logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// New constructs an adapter from a snapshot of cfg. The credential is
// a hard precondition: a missing or empty api key fails construction
// with InvalidConfigError.
func New(cfg config.LLMConfig, opts ...Option) (*Adapter, error) {
	if cfg.APIKey.IsZero() {
		return nil, &InvalidConfigError{Reason: "api key is required"}
	}

	a := &Adapter{
		cfg:     cfg.Clone(),
		baseURL: cfg.BaseURL,
		policy:  &retry.Policy{},
		client:  &http.Client{}, // timeout via context, not client
		logger:  log.Logger,
	}
	if a.baseURL == "" {
		a.baseURL = DefaultBaseURL
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.metrics == nil {
		a.metrics = metrics.New(cfg.Model)
	}

	return a, nil
}

// Metrics returns the sink this adapter appends to.
func (a *Adapter) Metrics() *metrics.Metrics {
	return a.metrics
}

// Completion sends the conversation upstream and returns the
// normalized result. Overrides are opaque JSON paths (sjson syntax)
// applied onto the outgoing body after it is built. The call blocks
// until response, timeout, or retry exhaustion; only the first
// upstream choice is consulted.
func (a *Adapter) Completion(ctx context.Context, msgs []Input, overrides map[string]any) (*CompletionResult, error) {
	payload, err := a.buildPayload(msgs, overrides)
	if err != nil {
		return nil, err
	}

	var result *CompletionResult
	err = a.policy.Do(ctx, func(ctx context.Context) error {
		var callErr error
		result, callErr = a.doCompletion(ctx, payload)
		return callErr
	}, func(err error) bool {
		var ue *UpstreamError
		return errors.As(err, &ue) && ue.Transient()
	})
	if err != nil {
		// Redacted: the error carries status and body, never headers.
		a.logger.Error().Err(err).Str("model", a.cfg.Model).Msg("completion request failed")
		return nil, err
	}
	return result, nil
}

// buildPayload marshals the wire body. TopP is a pointer with
// omitempty so an unset nucleus-sampling parameter never appears in
// the outgoing JSON.
func (a *Adapter) buildPayload(msgs []Input, overrides map[string]any) ([]byte, error) {
	body := struct {
		Messages    []map[string]any `json:"messages"`
		Model       string           `json:"model"`
		Temperature float64          `json:"temperature"`
		MaxTokens   int              `json:"max_tokens"`
		TopP        *float64         `json:"top_p,omitempty"`
	}{
		Messages:    formatMessages(msgs),
		Model:       a.cfg.Model,
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxOutputTokens,
		TopP:        a.cfg.TopP,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	for path, value := range overrides {
		payload, err = sjson.SetBytes(payload, path, value)
		if err != nil {
			return nil, fmt.Errorf("failed to apply override %q: %w", path, err)
		}
	}
	return payload, nil
}

// doCompletion performs one POST and normalizes the response. Exactly
// one metrics append happens per 2xx response, before the body is
// validated, so even a malformed success is accounted for.
func (a *Adapter) doCompletion(ctx context.Context, payload []byte) (*CompletionResult, error) {
	timeout := a.cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+completionsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// The one place the credential leaves its holder.
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey.Reveal())

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &UpstreamError{Err: fmt.Errorf("failed to read response body: %w", err)}
	}
	latency := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody := string(respBody)
		if len(errBody) > maxErrorBodyLen {
			errBody = errBody[:maxErrorBodyLen] + "... (truncated)"
		}
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: errBody}
	}

	responseID := gjson.GetBytes(respBody, "id").String()
	if responseID == "" {
		responseID = unknownResponseID
	}
	a.metrics.AddResponseLatency(latency, responseID)

	return a.parseResponse(respBody)
}

// parseResponse translates the provider body into a CompletionResult.
// id and choices.0.message.content are required; finish_reason
// defaults to "stop"; usage passes through opaquely; the creation
// timestamp is receive time, not the provider's.
func (a *Adapter) parseResponse(body []byte) (*CompletionResult, error) {
	id := gjson.GetBytes(body, "id")
	if !id.Exists() || id.String() == "" {
		return nil, &MalformedResponseError{Field: "id"}
	}

	content := gjson.GetBytes(body, "choices.0.message.content")
	if !content.Exists() {
		return nil, &MalformedResponseError{Field: "choices.0.message.content"}
	}

	finishReason := "stop"
	if fr := gjson.GetBytes(body, "choices.0.finish_reason"); fr.Exists() && fr.String() != "" {
		finishReason = fr.String()
	}

	usage := json.RawMessage(`{}`)
	if u := gjson.GetBytes(body, "usage"); u.Exists() && u.IsObject() {
		usage = json.RawMessage(u.Raw)
	}

	return &CompletionResult{
		ID:    id.String(),
		Model: a.cfg.Model,
		Message: Message{
			// Role is forced regardless of what upstream sent.
			Role:    RoleAssistant,
			Content: content.String(),
		},
		FinishReason: finishReason,
		Usage:        usage,
		Created:      time.Now().Unix(),
	}, nil
}

// FormatMessages normalizes inputs into the wire shape {role,
// content}, preserving order. Raw mappings pass through unchanged.
func (a *Adapter) FormatMessages(msgs ...Input) []map[string]any {
	return formatMessages(msgs)
}

// TokenCount estimates the token count of the conversation using the
// character-count heuristic. Total over all messages, never negative.
func (a *Adapter) TokenCount(msgs ...Input) int {
	return estimateTokens(msgs)
}

// Reset clears per-conversation state. The adapter is stateless
// beyond configuration and metrics, so this is a no-op kept for the
// shared lifecycle contract with sibling adapters.
func (a *Adapter) Reset() {}

// String identifies the adapter by model name only. The credential
// never appears here.
func (a *Adapter) String() string {
	return fmt.Sprintf("ChatCompletionAdapter(model=%s)", a.cfg.Model)
}
