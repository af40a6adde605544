package memorystore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestKVPutGetDel(t *testing.T) {
	ctx := context.Background()
	kv := NewKV(0)
	defer kv.Close()

	require.NoError(t, kv.Put(ctx, "entitlement-intent:a", []byte(`{"x":1}`)))
	v, ok, err := kv.Get(ctx, "entitlement-intent:a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"x":1}`, string(v))

	// Returned slices are copies.
	v[0] = 'X'
	again, _, _ := kv.Get(ctx, "entitlement-intent:a")
	assert.Equal(t, `{"x":1}`, string(again))

	require.NoError(t, kv.Del(ctx, "entitlement-intent:a"))
	require.NoError(t, kv.Del(ctx, "entitlement-intent:a"))
	_, ok, err = kv.Get(ctx, "entitlement-intent:a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKVKeysFiltersByPrefix(t *testing.T) {
	ctx := context.Background()
	kv := NewKV(0)
	_ = kv.Put(ctx, "entitlement-intent:b", []byte("1"))
	_ = kv.Put(ctx, "entitlement-intent:a", []byte("1"))
	_ = kv.Put(ctx, "other:c", []byte("1"))

	keys, err := kv.Keys(ctx, "entitlement-intent:")
	require.NoError(t, err)
	assert.Equal(t, []string{"entitlement-intent:a", "entitlement-intent:b"}, keys)
}

func TestKVExpiry(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	kv := NewKV(20 * time.Millisecond)
	require.NoError(t, kv.Put(ctx, "k", []byte("v")))
	time.Sleep(40 * time.Millisecond)
	_, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, kv.Close())
	require.NoError(t, kv.Close())
}
