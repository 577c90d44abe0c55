package nlp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClient struct {
	responses []string
	errs      []error
	calls     int
}

func (m *mockClient) Complete(ctx context.Context, prompt string) (string, error) {
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return "", errors.New("no scripted response")
}

func (m *mockClient) CompleteStream(ctx context.Context, prompt string) (<-chan string, error) {
	text, err := m.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	out := make(chan string, 1)
	out <- text
	close(out)
	return out, nil
}

func (m *mockClient) Close() error { return nil }

func fastRetryConfig(maxRetries int) *RetryConfig {
	return &RetryConfig{
		MaxRetries:        maxRetries,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetryClientSucceedsAfterTransientFailure(t *testing.T) {
	mock := &mockClient{
		errs:      []error{errors.New("503 service unavailable"), nil},
		responses: []string{"", "ok"},
	}
	r := NewRetryClient(mock, fastRetryConfig(3))

	resp, err := r.Complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, 2, mock.calls)
}

func TestRetryClientStopsOnNonRetryable(t *testing.T) {
	mock := &mockClient{errs: []error{errors.New("invalid request")}}
	r := NewRetryClient(mock, fastRetryConfig(3))

	_, err := r.Complete(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, 1, mock.calls)
}

func TestRetryClientExhaustsRetries(t *testing.T) {
	mock := &mockClient{
		errs: []error{
			ErrRateLimit,
			ErrRateLimit,
			ErrRateLimit,
		},
	}
	r := NewRetryClient(mock, fastRetryConfig(2))

	_, err := r.Complete(context.Background(), "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimit)
	assert.Equal(t, 3, mock.calls)
}

func TestRetryClientRespectsContextDuringBackoff(t *testing.T) {
	mock := &mockClient{
		errs: []error{errors.New("timeout"), errors.New("timeout")},
	}
	r := NewRetryClient(mock, &RetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Hour,
		MaxDelay:          time.Hour,
		BackoffMultiplier: 2.0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := r.Complete(ctx, "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, mock.calls)
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrRateLimit, true},
		{errors.New("429 too many requests"), true},
		{errors.New("502 bad gateway"), true},
		{errors.New("connection refused"), true},
		{errors.New("invalid api key"), false},
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsRetryable(tc.err), "err=%v", tc.err)
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	mock := &mockClient{
		errs: []error{
			errors.New("boom"), errors.New("boom"), errors.New("boom"),
			errors.New("boom"), errors.New("boom"),
		},
	}
	cb := NewCircuitBreakerClient(mock, BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		ReadyToTripRatio: 0.5,
	}, "test", nil)

	for i := 0; i < 3; i++ {
		_, err := cb.Complete(context.Background(), "hi")
		require.Error(t, err)
	}

	calls := mock.calls
	_, err := cb.Complete(context.Background(), "hi")
	require.Error(t, err)
	// Breaker is open; the underlying client is not called again.
	assert.Equal(t, calls, mock.calls)
}
