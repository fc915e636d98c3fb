package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/compresr/llm-adapter/internal/config"
	"github.com/compresr/llm-adapter/internal/metrics"
	"github.com/compresr/llm-adapter/internal/retry"
)

const validResponse = `{
	"id": "chatcmpl-X",
	"choices": [{"message": {"role": "weird-role", "content": "Hello!"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12}
}`

// newTestAdapter points an adapter at the given upstream with retries
// disabled, so failure tests exercise a single attempt.
func newTestAdapter(t *testing.T, baseURL string, opts ...Option) *Adapter {
	t.Helper()
	cfg := config.LLMConfig{
		Model:           "test-model",
		APIKey:          config.NewSecret("sk-secret-value"),
		BaseURL:         baseURL,
		Temperature:     0.7,
		MaxOutputTokens: 256,
	}
	opts = append([]Option{WithRetryPolicy(&retry.Policy{MaxAttempts: 1})}, opts...)
	a, err := New(cfg, opts...)
	require.NoError(t, err)
	return a
}

func TestNew_RequiresAPIKey(t *testing.T) {
	for _, cfg := range []config.LLMConfig{
		{},
		{Model: "gpt-x", BaseURL: "https://example.com", Temperature: 1.0, MaxOutputTokens: 100},
		{Model: "gpt-x", APIKey: config.NewSecret("")},
	} {
		a, err := New(cfg)
		assert.Nil(t, a)

		var ice *InvalidConfigError
		require.ErrorAs(t, err, &ice)
	}
}

func TestNew_SnapshotsConfig(t *testing.T) {
	topP := 0.5
	cfg := config.LLMConfig{
		Model:  "test-model",
		APIKey: config.NewSecret("sk-test"),
		TopP:   &topP,
	}
	a, err := New(cfg)
	require.NoError(t, err)

	// Mutating the caller's config after construction must not leak
	// into the adapter's snapshot.
	topP = 0.99
	cfg.Model = "other-model"

	assert.Equal(t, "ChatCompletionAdapter(model=test-model)", a.String())
	assert.Equal(t, 0.5, *a.cfg.TopP)
}

func TestCompletion_Success(t *testing.T) {
	var gotBody []byte
	var gotAuth, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotBody = readAll(t, r)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		fmt.Fprint(w, validResponse)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	result, err := a.Completion(context.Background(), []Input{User("hi")}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-secret-value", gotAuth)
	assert.Equal(t, "application/json", gotContentType)

	assert.Equal(t, "test-model", gjson.GetBytes(gotBody, "model").String())
	assert.Equal(t, 0.7, gjson.GetBytes(gotBody, "temperature").Float())
	assert.Equal(t, int64(256), gjson.GetBytes(gotBody, "max_tokens").Int())
	assert.Equal(t, "hi", gjson.GetBytes(gotBody, "messages.0.content").String())

	assert.Equal(t, "chatcmpl-X", result.ID)
	assert.Equal(t, "test-model", result.Model)
	// Upstream role is ignored; assistant is forced.
	assert.Equal(t, RoleAssistant, result.Message.Role)
	assert.Equal(t, "Hello!", result.Message.Content)
	assert.Equal(t, "stop", result.FinishReason)
	assert.Equal(t, int64(10), gjson.GetBytes(result.Usage, "prompt_tokens").Int())
	assert.NotZero(t, result.Created)
}

func TestCompletion_TopPOmittedWhenUnset(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody = readAll(t, r)
		fmt.Fprint(w, validResponse)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	_, err := a.Completion(context.Background(), []Input{User("hi")}, nil)
	require.NoError(t, err)

	assert.False(t, gjson.GetBytes(gotBody, "top_p").Exists(), "unset top_p must not appear in the body")
}

func TestCompletion_TopPSentWhenSet(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody = readAll(t, r)
		fmt.Fprint(w, validResponse)
	}))
	defer srv.Close()

	topP := 0.95
	cfg := config.LLMConfig{
		Model:   "test-model",
		APIKey:  config.NewSecret("sk-test"),
		BaseURL: srv.URL,
		TopP:    &topP,
	}
	a, err := New(cfg, WithRetryPolicy(&retry.Policy{MaxAttempts: 1}))
	require.NoError(t, err)

	_, err = a.Completion(context.Background(), []Input{User("hi")}, nil)
	require.NoError(t, err)

	require.True(t, gjson.GetBytes(gotBody, "top_p").Exists())
	assert.Equal(t, 0.95, gjson.GetBytes(gotBody, "top_p").Float())
}

func TestCompletion_Overrides(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody = readAll(t, r)
		fmt.Fprint(w, validResponse)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	_, err := a.Completion(context.Background(), []Input{User("hi")}, map[string]any{
		"temperature": 1.5,
		"stop":        []string{"\n"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1.5, gjson.GetBytes(gotBody, "temperature").Float())
	assert.Equal(t, "\n", gjson.GetBytes(gotBody, "stop.0").String())
}

func TestCompletion_DefaultFinishReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": "Y", "choices": [{"message": {"content": "ok"}}]}`)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	result, err := a.Completion(context.Background(), []Input{User("hi")}, nil)
	require.NoError(t, err)

	assert.Equal(t, "stop", result.FinishReason)
	// Absent usage passes through as an empty object.
	assert.JSONEq(t, `{}`, string(result.Usage))
}

func TestCompletion_OnlyFirstChoiceConsulted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": "Z", "choices": [
			{"message": {"content": "first"}, "finish_reason": "length"},
			{"message": {"content": "second"}, "finish_reason": "stop"}
		]}`)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	result, err := a.Completion(context.Background(), []Input{User("hi")}, nil)
	require.NoError(t, err)

	assert.Equal(t, "first", result.Message.Content)
	assert.Equal(t, "length", result.FinishReason)
}

func TestCompletion_RecordsLatency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, validResponse)
	}))
	defer srv.Close()

	sink := metrics.New("test-model")
	a := newTestAdapter(t, srv.URL, WithMetrics(sink))

	_, err := a.Completion(context.Background(), []Input{User("hi")}, nil)
	require.NoError(t, err)

	recs := sink.ResponseLatencies()
	require.Len(t, recs, 1)
	assert.Equal(t, "chatcmpl-X", recs[0].ResponseID)
	assert.Equal(t, "test-model", recs[0].Model)
	assert.Greater(t, recs[0].Latency.Nanoseconds(), int64(0))
}

func TestCompletion_RecordsUnknownIDBeforeFailingLoudly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": [{"message": {"content": "ok"}}]}`)
	}))
	defer srv.Close()

	sink := metrics.New("test-model")
	a := newTestAdapter(t, srv.URL, WithMetrics(sink))

	_, err := a.Completion(context.Background(), []Input{User("hi")}, nil)

	var me *MalformedResponseError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "id", me.Field)

	// The 2xx exchange is still accounted for, under the unknown id.
	recs := sink.ResponseLatencies()
	require.Len(t, recs, 1)
	assert.Equal(t, "unknown", recs[0].ResponseID)
}

func TestCompletion_MissingContentFailsLoudly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": "X", "choices": []}`)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	_, err := a.Completion(context.Background(), []Input{User("hi")}, nil)

	var me *MalformedResponseError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "choices.0.message.content", me.Field)
}

func TestCompletion_UpstreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	sink := metrics.New("test-model")
	a := newTestAdapter(t, srv.URL, WithMetrics(sink))

	_, err := a.Completion(context.Background(), []Input{User("hi")}, nil)

	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusUnauthorized, ue.StatusCode)
	assert.Contains(t, ue.Body, "bad key")
	assert.False(t, ue.Transient())

	// Failed calls never touch the sink.
	assert.Empty(t, sink.ResponseLatencies())
}

func TestCompletion_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	sink := metrics.New("test-model")
	a := newTestAdapter(t, srv.URL, WithMetrics(sink))

	_, err := a.Completion(context.Background(), []Input{User("hi")}, nil)

	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 0, ue.StatusCode)
	assert.True(t, ue.Transient())
	assert.Empty(t, sink.ResponseLatencies())
}

func TestCompletion_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, validResponse)
	}))
	defer srv.Close()

	var notified [][2]int
	policy := &retry.Policy{
		MaxAttempts: 3,
		Listener: func(attempt, maxAttempts int) {
			notified = append(notified, [2]int{attempt, maxAttempts})
		},
	}
	policy.SetSleepFunc(func(ctx context.Context, d time.Duration) error { return nil })

	cfg := config.LLMConfig{
		Model:   "test-model",
		APIKey:  config.NewSecret("sk-test"),
		BaseURL: srv.URL,
	}
	a, err := New(cfg, WithRetryPolicy(policy))
	require.NoError(t, err)

	result, err := a.Completion(context.Background(), []Input{User("hi")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-X", result.ID)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, [][2]int{{2, 3}, {3, 3}}, notified)
}

func TestReset_NoOpAndNeverFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, validResponse)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	assert.NotPanics(t, a.Reset)

	// Subsequent completions behave the same after a reset.
	_, err := a.Completion(context.Background(), []Input{User("hi")}, nil)
	require.NoError(t, err)
	a.Reset()
	_, err = a.Completion(context.Background(), []Input{User("hi")}, nil)
	require.NoError(t, err)
}

func TestString_NeverContainsCredential(t *testing.T) {
	a := newTestAdapter(t, "https://example.invalid")

	s := a.String()
	assert.Contains(t, s, "test-model")
	assert.NotContains(t, s, "sk-secret-value")

	// Error paths must not leak it either.
	var ue *UpstreamError
	_, err := a.Completion(context.Background(), []Input{User("hi")}, nil)
	require.ErrorAs(t, err, &ue)
	assert.NotContains(t, err.Error(), "sk-secret-value")
}

func readAll(t *testing.T, r *http.Request) []byte {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	return body
}
