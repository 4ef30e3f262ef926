package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterWait(t *testing.T) {
	rl := NewRateLimiter(5)
	require.NoError(t, rl.Wait(context.Background()))
}

func TestRateLimiterDefaultOnInvalidQPS(t *testing.T) {
	rl := NewRateLimiter(0)
	require.NoError(t, rl.Wait(context.Background()))
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	rl := NewRateLimiter(1)
	require.NoError(t, rl.Wait(context.Background())) // drain the burst

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, rl.Wait(ctx))
}
