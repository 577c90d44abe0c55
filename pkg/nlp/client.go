// Package nlp provides the language model capability used for extraction
// prompts and answer synthesis, with retry and circuit-breaking wrappers.
package nlp

import (
	"context"
	"errors"
	"strings"
)

// Client is the language model boundary. Complete returns the full response
// text; CompleteStream delivers chunks over a channel that is closed when
// the response ends.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteStream(ctx context.Context, prompt string) (<-chan string, error)
	Close() error
}

// ErrRateLimit marks rate-limit responses so the retry wrapper backs off.
var ErrRateLimit = errors.New("rate limited")

// IsRetryable reports whether an error is worth retrying: rate limits,
// server errors, and transient network failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimit) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := strings.ToLower(err.Error())
	patterns := []string{
		"500", "internal server error",
		"502", "bad gateway",
		"503", "service unavailable",
		"504", "gateway timeout",
		"429", "too many requests", "rate limit",
		"timeout",
		"connection reset",
		"connection refused",
		"temporary failure",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
