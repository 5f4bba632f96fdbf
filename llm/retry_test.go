package llm

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryConfig_Backoff(t *testing.T) {
	cfg := RetryConfig{BackoffBase: time.Second, BackoffMultiplier: 2, MaxBackoff: 5 * time.Second}

	assert.Equal(t, time.Second, cfg.Backoff(1))
	assert.Equal(t, 2*time.Second, cfg.Backoff(2))
	assert.Equal(t, 4*time.Second, cfg.Backoff(3))
	assert.Equal(t, 5*time.Second, cfg.Backoff(4), "capped")
}

func TestRetryConfig_BackoffJitter(t *testing.T) {
	cfg := DefaultRetryConfig()
	for range 20 {
		d := cfg.Backoff(1)
		assert.GreaterOrEqual(t, d, 1500*time.Millisecond)
		assert.LessOrEqual(t, d, 2500*time.Millisecond)
	}
}

func TestRetryConfig_WithMaxAttempts(t *testing.T) {
	assert.Equal(t, 1, DefaultRetryConfig().WithMaxAttempts(0).MaxAttempts)
	assert.Equal(t, 5, DefaultRetryConfig().WithMaxAttempts(5).MaxAttempts)
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		code int
		want ErrorKind
	}{
		{http.StatusTooManyRequests, KindTransient},
		{http.StatusRequestTimeout, KindTransient},
		{http.StatusBadGateway, KindTransient},
		{http.StatusUnauthorized, KindFatal},
		{http.StatusBadRequest, KindFatal},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			err := statusError(tt.code, []byte("nope"))

			var ce *CallError
			assert.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.want, ce.Kind)
			assert.Equal(t, tt.code, ce.Status)
		})
	}
}

func TestErrorKind_Wrapped(t *testing.T) {
	err := fmt.Errorf("search failed: %w", NewTransientError(errors.New("reset")))
	assert.True(t, IsTransient(err))
	assert.False(t, IsFatal(err))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.Equal(t, "transient", KindTransient.String())
}
