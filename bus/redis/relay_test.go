package redisbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/PaulFidika/accesskit/bus"
	"github.com/PaulFidika/accesskit/entitlements"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []entitlements.Event
}

func (r *recorder) add(ev entitlements.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []entitlements.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entitlements.Event(nil), r.events...)
}

func TestRelayCrossesContexts(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	newClient := func() *redis.Client {
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = c.Close() })
		return c
	}

	busA, busB := bus.New(nil), bus.New(nil)
	relayA := New(newClient(), busA, "", nil)
	relayB := New(newClient(), busB, "", nil)
	ctx := context.Background()
	require.NoError(t, relayA.Start(ctx))
	require.NoError(t, relayB.Start(ctx))
	defer relayA.Close()
	defer relayB.Close()

	var gotA, gotB recorder
	busA.SubscribeAll(gotA.add)
	busB.SubscribeAll(gotB.add)

	intent := entitlements.NewIntent("go-101", 8, time.Now())
	intent.Attempts = 2
	busA.Publish(entitlements.Event{Kind: entitlements.EventUpdated, CourseID: "go-101", Intent: intent})

	require.Eventually(t, func() bool { return len(gotB.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	remote := gotB.snapshot()[0]
	assert.Equal(t, entitlements.EventUpdated, remote.Kind)
	assert.Equal(t, "go-101", remote.CourseID)
	assert.Equal(t, 2, remote.Intent.Attempts)
	assert.Equal(t, relayA.Origin(), remote.Origin)

	// Neither side echoes: A saw only its own local event, B only the relayed one.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, gotA.snapshot(), 1)
	assert.Len(t, gotB.snapshot(), 1)
}

func TestRelayStartTwiceFails(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer c.Close()

	r := New(c, bus.New(nil), "chan", nil)
	require.NoError(t, r.Start(context.Background()))
	assert.Error(t, r.Start(context.Background()))
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}
