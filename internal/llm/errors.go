// Error taxonomy for the adapter.
//
// Three failure kinds, all typed so callers can branch with
// errors.As: unusable configuration (construction only), a failed
// upstream exchange (transport or non-2xx), and a 2xx response
// missing required fields. Nothing is swallowed; Completion either
// returns a full result or one of these.
package llm

import "fmt"

// InvalidConfigError reports an adapter configuration that fails the
// construction preconditions. It is never retryable.
type InvalidConfigError struct {
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return "invalid llm configuration: " + e.Reason
}

// UpstreamError reports a failed exchange with the provider: either
// the transport failed (StatusCode 0, Err set) or the provider
// answered with a non-success status (StatusCode and Body set).
type UpstreamError struct {
	StatusCode int    // 0 when the transport itself failed
	Body       string // truncated response body for non-2xx statuses
	Err        error  // underlying transport error, if any
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream request failed: %v", e.Err)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth retrying: transport
// errors (including timeouts), request timeouts, rate limits and
// server-side errors.
func (e *UpstreamError) Transient() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == 408 || e.StatusCode == 429 || e.StatusCode >= 500
}

// MalformedResponseError reports a 2xx upstream response missing a
// field the contract requires. This is a provider contract violation
// and fails loudly rather than defaulting.
type MalformedResponseError struct {
	Field string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed upstream response: missing %q", e.Field)
}
