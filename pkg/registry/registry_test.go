package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wxgate/wxgate/pkg/crypto"
)

type fakeKV struct {
	values map[string]fakeEntry
}

type fakeEntry struct {
	value     string
	encrypted bool
}

func newFakeKV() *fakeKV {
	return &fakeKV{values: make(map[string]fakeEntry)}
}

func (f *fakeKV) Get(_ context.Context, key string) (string, bool, error) {
	e, ok := f.values[key]
	if !ok {
		return "", false, ErrKeyNotFound
	}
	return e.value, e.encrypted, nil
}

func (f *fakeKV) Set(_ context.Context, key, value string, encrypted bool) error {
	f.values[key] = fakeEntry{value: value, encrypted: encrypted}
	return nil
}

func (f *fakeKV) Delete(_ context.Context, key string) error {
	delete(f.values, key)
	return nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	codec, err := crypto.NewCodec(key)
	require.NoError(t, err)

	bus := NewBus()
	t.Cleanup(bus.Close)
	return New(newFakeKV(), codec, bus)
}

func TestRegistryPlainRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Set(ctx, "poll.interval", "5s"))

	got, err := reg.Get(ctx, "poll.interval")
	require.NoError(t, err)
	assert.Equal(t, "5s", got)
}

func TestRegistrySecretSealedAtRest(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	codec, err := crypto.NewCodec(key)
	require.NoError(t, err)

	bus := NewBus()
	t.Cleanup(bus.Close)
	kv := newFakeKV()
	reg := New(kv, codec, bus)
	ctx := context.Background()

	require.NoError(t, reg.SetSecret(ctx, "agent.api_key", "sk-topsecret"))

	// The stored value is the ciphertext, never the plaintext.
	stored := kv.values["agent.api_key"]
	assert.True(t, stored.encrypted)
	assert.NotEqual(t, "sk-topsecret", stored.value)
	assert.NotContains(t, stored.value, "topsecret")

	got, err := reg.Get(ctx, "agent.api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk-topsecret", got)
}

func TestRegistrySecretUnreadableWithWrongKey(t *testing.T) {
	key1, err := crypto.GenerateKey()
	require.NoError(t, err)
	codec1, err := crypto.NewCodec(key1)
	require.NoError(t, err)
	key2, err := crypto.GenerateKey()
	require.NoError(t, err)
	codec2, err := crypto.NewCodec(key2)
	require.NoError(t, err)

	bus := NewBus()
	t.Cleanup(bus.Close)
	kv := newFakeKV()
	ctx := context.Background()

	require.NoError(t, New(kv, codec1, bus).SetSecret(ctx, "k", "v"))

	_, err = New(kv, codec2, bus).Get(ctx, "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decrypt")
}

func TestRegistryGetOrDefault(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	got, err := reg.GetOrDefault(ctx, "absent", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", got)

	require.NoError(t, reg.Set(ctx, "present", "real"))
	got, err = reg.GetOrDefault(ctx, "present", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "real", got)
}

func TestRegistryDeleteAndMissing(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Set(ctx, "k", "v"))
	require.NoError(t, reg.Delete(ctx, "k"))

	_, err := reg.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// Deleting an absent key is not an error.
	require.NoError(t, reg.Delete(ctx, "k"))
}

func TestRegistryMutationsPublishChange(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	codec, err := crypto.NewCodec(key)
	require.NoError(t, err)

	bus := NewBus()
	t.Cleanup(bus.Close)
	reg := New(newFakeKV(), codec, bus)
	ch := bus.Subscribe("cfg")
	ctx := context.Background()

	require.NoError(t, reg.Set(ctx, "a", "1"))
	require.NoError(t, reg.SetSecret(ctx, "b", "2"))
	require.NoError(t, reg.Delete(ctx, "a"))

	for i := 0; i < 3; i++ {
		select {
		case got := <-ch:
			assert.Equal(t, ChangeKindConfig, got.Kind)
		case <-time.After(time.Second):
			t.Fatalf("change signal %d not received", i)
		}
	}
}
