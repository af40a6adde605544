package memorylimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowNamedSlidingWindow(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	l := New(map[string]Limit{"payment_return": {Limit: 2, Window: 10 * time.Second}},
		WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.AllowNamed(ctx, "payment_return", "u1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.AllowNamed(ctx, "payment_return", "u1")
	assert.False(t, ok)

	ok, _ = l.AllowNamed(ctx, "payment_return", "u2")
	assert.True(t, ok, "keys are independent")

	now = now.Add(11 * time.Second)
	ok, _ = l.AllowNamed(ctx, "payment_return", "u1")
	assert.True(t, ok)
}

func TestDefaultsAndValidation(t *testing.T) {
	l := New(map[string]Limit{"default": {Limit: 1, Window: time.Minute}})
	ctx := context.Background()
	ok, err := l.AllowNamed(ctx, "profile_refresh", "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = l.AllowNamed(ctx, "profile_refresh", "u1")
	assert.False(t, ok)

	_, err = l.AllowNamed(ctx, "", "u1")
	assert.Error(t, err)

	var nilLimiter *Limiter
	ok, err = nilLimiter.AllowNamed(ctx, "x", "y")
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestReset(t *testing.T) {
	l := New(map[string]Limit{"default": {Limit: 1, Window: time.Hour}})
	ctx := context.Background()
	_, _ = l.AllowNamed(ctx, "a", "u1")
	_, _ = l.AllowNamed(ctx, "a", "u10")
	l.Reset("u1")
	ok, _ := l.AllowNamed(ctx, "a", "u1")
	assert.True(t, ok)
	ok, _ = l.AllowNamed(ctx, "a", "u10")
	assert.False(t, ok)
}
