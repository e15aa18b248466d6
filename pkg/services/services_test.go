package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wxgate/wxgate/pkg/crypto"
	"github.com/wxgate/wxgate/pkg/database"
	"github.com/wxgate/wxgate/pkg/registry"
	"github.com/wxgate/wxgate/pkg/store"
)

// testEnv bundles the shared fixtures for service tests.
type testEnv struct {
	stores *store.Stores
	bus    *registry.Bus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	codec, err := crypto.NewCodec(key)
	require.NoError(t, err)

	client, err := database.NewClient(ctx, database.Config{Driver: database.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	bus := registry.NewBus()
	t.Cleanup(bus.Close)

	return &testEnv{stores: store.New(client, codec), bus: bus}
}

// drainChanges collects everything currently buffered on a change channel.
func drainChanges(ch <-chan registry.Change) []registry.Change {
	var out []registry.Change
	for {
		select {
		case c := <-ch:
			out = append(out, c)
		default:
			return out
		}
	}
}

func TestWarningsReplaceByCategoryAndEntity(t *testing.T) {
	svc := NewWarningsService(nil)

	first := svc.AddWarning(WarningCategoryRuleConflict, "rules collide", "", "rule-1")
	second := svc.AddWarning(WarningCategoryRuleConflict, "rules still collide", "", "rule-1")
	svc.AddWarning(WarningCategoryAgentAuth, "key rejected", "", "inst-1")

	warnings := svc.GetWarnings()
	require.Len(t, warnings, 2, "same category+entity replaces")
	assert.NotEqual(t, first, second)

	assert.True(t, svc.ClearByEntity(WarningCategoryAgentAuth, "inst-1"))
	assert.False(t, svc.ClearByEntity(WarningCategoryAgentAuth, "inst-1"))
	assert.Len(t, svc.GetWarnings(), 1)
}

func TestSystemServiceResourcesAndHealth(t *testing.T) {
	ctx := context.Background()
	warnings := NewWarningsService(nil)
	warnings.Warn(WarningCategoryPlatform, "platform slow")
	svc := NewSystemService(nil, nil, "", warnings)

	res, err := svc.Resources(ctx)
	require.NoError(t, err)
	assert.Positive(t, res.Goroutines)

	health, err := svc.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Warnings)
	assert.NotEmpty(t, health.Version)
}
