package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wxgate/wxgate/pkg/models"
)

func TestRuleStoreCRUD(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	rules := []*models.Rule{
		{RuleID: "rule-b", Name: "catch-all", InstanceID: models.WildcardScope,
			ChatPattern: models.WildcardScope, PlatformID: "plat-1", Priority: 0, Enabled: true},
		{RuleID: "rule-a", Name: "support", InstanceID: "inst-1",
			ChatPattern: "support chat", PlatformID: "plat-2", Priority: 10, Enabled: true},
		{RuleID: "rule-c", Name: "disabled", InstanceID: "inst-1",
			ChatPattern: "regex:^ops-.*$", PlatformID: "plat-2", Priority: 20, Enabled: false},
	}
	for _, r := range rules {
		require.NoError(t, stores.Rules.Create(ctx, r))
	}

	t.Run("list orders by priority then id", func(t *testing.T) {
		got, err := stores.Rules.List(ctx)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "rule-c", got[0].RuleID)
		assert.Equal(t, "rule-a", got[1].RuleID)
		assert.Equal(t, "rule-b", got[2].RuleID)
	})

	t.Run("list enabled skips disabled rules", func(t *testing.T) {
		got, err := stores.Rules.ListEnabled(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "rule-a", got[0].RuleID)
	})

	t.Run("update changes routing fields", func(t *testing.T) {
		r, err := stores.Rules.Get(ctx, "rule-a")
		require.NoError(t, err)
		r.Priority = 30
		r.OnlyAtMessages = true
		require.NoError(t, stores.Rules.Update(ctx, r))

		got, err := stores.Rules.Get(ctx, "rule-a")
		require.NoError(t, err)
		assert.Equal(t, 30, got.Priority)
		assert.True(t, got.OnlyAtMessages)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, stores.Rules.Delete(ctx, "rule-c"))
		_, err := stores.Rules.Get(ctx, "rule-c")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
