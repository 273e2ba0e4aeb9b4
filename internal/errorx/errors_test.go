package errorx

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable_FollowsWrapChain(t *testing.T) {
	base := Retriable(503, "erp unavailable", errors.New("connection reset"))
	wrapped := fmt.Errorf("ensure sales order: %w", base)

	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsRetryable(fmt.Errorf("x: %w", NonRetriable(400, "bad", nil))))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil))

	plain := errors.New("boom")
	w := Wrap(plain)
	require.NotNil(t, w)
	assert.False(t, w.Retryable)
	assert.ErrorIs(t, w, plain)

	r := Retriable(429, "throttled", nil)
	assert.Same(t, r, Wrap(fmt.Errorf("ctx: %w", r)))
	assert.Equal(t, "throttled", r.Error())
}
