package simple

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitZeroDelay(t *testing.T) {
	t.Parallel()

	p := New(0)
	start := time.Now()
	require.NoError(t, p.Wait(context.Background(), "https://example.com/"))
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestWaitDelays(t *testing.T) {
	t.Parallel()

	p := New(30 * time.Millisecond)
	start := time.Now()
	require.NoError(t, p.Wait(context.Background(), "https://example.com/"))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWaitCanceled(t *testing.T) {
	t.Parallel()

	p := New(time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, p.Wait(ctx, "https://example.com/"))
}
