package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/wxgate/wxgate/pkg/crypto"
)

// ErrKeyNotFound is returned when a config key has no value.
var ErrKeyNotFound = errors.New("config key not found")

// KV is the persistence contract the registry sits on. Implemented by
// store.ConfigStore.
type KV interface {
	Get(ctx context.Context, key string) (value string, encrypted bool, err error)
	Set(ctx context.Context, key, value string, encrypted bool) error
	Delete(ctx context.Context, key string) error
}

// Registry is the typed config store. Values flagged encrypted are sealed
// with the master key on write and opened on read, so callers only ever see
// plaintext. Every mutation publishes a config change signal.
type Registry struct {
	kv    KV
	codec *crypto.Codec
	bus   *Bus
}

// New creates a Registry over the given KV store.
func New(kv KV, codec *crypto.Codec, bus *Bus) *Registry {
	return &Registry{kv: kv, codec: codec, bus: bus}
}

// Get returns the plaintext value for key.
func (r *Registry) Get(ctx context.Context, key string) (string, error) {
	value, encrypted, err := r.kv.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !encrypted {
		return value, nil
	}
	plain, err := r.codec.Decrypt(value)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt config key %q: %w", key, err)
	}
	return plain, nil
}

// GetOrDefault returns the value for key, or def when the key is absent.
func (r *Registry) GetOrDefault(ctx context.Context, key, def string) (string, error) {
	value, err := r.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Set stores a plaintext value.
func (r *Registry) Set(ctx context.Context, key, value string) error {
	if err := r.kv.Set(ctx, key, value, false); err != nil {
		return err
	}
	r.bus.Publish(Change{Kind: ChangeKindConfig, ID: key})
	return nil
}

// SetSecret stores a value encrypted at rest.
func (r *Registry) SetSecret(ctx context.Context, key, value string) error {
	sealed, err := r.codec.Encrypt(value)
	if err != nil {
		return fmt.Errorf("failed to encrypt config key %q: %w", key, err)
	}
	if err := r.kv.Set(ctx, key, sealed, true); err != nil {
		return err
	}
	r.bus.Publish(Change{Kind: ChangeKindConfig, ID: key})
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (r *Registry) Delete(ctx context.Context, key string) error {
	if err := r.kv.Delete(ctx, key); err != nil {
		return err
	}
	r.bus.Publish(Change{Kind: ChangeKindConfig, ID: key})
	return nil
}

// Bus returns the change-signal bus shared by all components.
func (r *Registry) Bus() *Bus {
	return r.bus
}
