package api

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_NeverExceedsBudget(t *testing.T) {
	const (
		limit  = 45
		window = 60 * time.Second
	)
	start := time.Unix(1_700_000_000, 0)
	l := NewRateLimiter(limit, window, testclock.NewClock(start))

	// Offer a call every 250ms for five minutes.
	var admitted []time.Time
	for now := start; now.Before(start.Add(5 * time.Minute)); now = now.Add(250 * time.Millisecond) {
		if l.reserve(now) == 0 {
			admitted = append(admitted, now)
		}
	}
	require.NotEmpty(t, admitted)

	for i, from := range admitted {
		n := 0
		for _, at := range admitted[i:] {
			if at.Sub(from) < window {
				n++
			}
		}
		assert.LessOrEqual(t, n, limit, "window starting at %s", from)
	}
	// Five full windows worth of capacity must actually be used.
	assert.GreaterOrEqual(t, len(admitted), 5*limit)
}

func TestRateLimiter_WaitBlocksUntilWindowMoves(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	l := NewRateLimiter(2, time.Minute, clk)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))
	assert.Equal(t, time.Minute, l.WaitTime())

	done := make(chan error, 1)
	go func() { done <- l.Wait(ctx) }()

	select {
	case <-done:
		t.Fatal("third call admitted inside the window")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, clk.WaitAdvance(time.Minute, time.Second, 1))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("call not admitted after the window moved")
	}
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	l := NewRateLimiter(1, time.Minute, clk)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.Canceled)
}

func TestCache_TTL(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	c := NewCache(time.Minute, clk)

	c.Set("k", []byte("v"))
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", string(got))

	clk.Advance(time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)

	disabled := NewCache(0, clk)
	disabled.Set("k", []byte("v"))
	_, ok = disabled.Get("k")
	assert.False(t, ok)
}

func TestPaginate_StopsOnShortPage(t *testing.T) {
	var offsets []int
	items, err := Paginate(context.Background(), 3, func(_ context.Context, offset, limit int) ([]Item, error) {
		offsets = append(offsets, offset)
		if offset >= 6 {
			return []Item{{"name": "last"}}, nil
		}
		return []Item{{}, {}, {}}, nil
	})

	require.NoError(t, err)
	assert.Len(t, items, 7)
	assert.Equal(t, []int{0, 3, 6}, offsets)
}
