package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("r%02d", i)
	}
	return out
}

func TestRun_CollectsFailuresWithoutStopping(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32

	out := Run(context.Background(), ids(10), 3, func(_ context.Context, id string) error {
		calls.Add(1)
		if id == "r03" || id == "r07" {
			return boom
		}
		return nil
	})

	assert.Equal(t, int32(10), calls.Load())
	assert.Equal(t, 8, out.Succeeded)
	assert.Equal(t, 2, out.Failed)
	require.Len(t, out.Failures, 2)
	assert.Equal(t, "r03", out.Failures[0].ID)
	assert.ErrorIs(t, out.Failures[1].Err, boom)
	assert.Equal(t, []string{"r03: boom", "r07: boom"}, out.Messages())
}

func TestRun_RespectsLimit(t *testing.T) {
	var running, peak atomic.Int32

	Run(context.Background(), ids(20), 4, func(context.Context, string) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		return nil
	})

	assert.LessOrEqual(t, peak.Load(), int32(4))
}

func TestRun_CancelledContextFailsItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := Run(ctx, ids(3), 1, func(context.Context, string) error {
		t.Fatal("fn should not run after cancellation")
		return nil
	})

	assert.Equal(t, 0, out.Succeeded)
	assert.Equal(t, 3, out.Failed)
	assert.ErrorIs(t, out.Failures[0].Err, context.Canceled)
}

func TestRun_Empty(t *testing.T) {
	out := Run(context.Background(), nil, 0, func(context.Context, string) error { return nil })
	assert.Zero(t, out.Succeeded)
	assert.NotNil(t, out.Failures)
}
