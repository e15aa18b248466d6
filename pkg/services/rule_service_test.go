package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wxgate/wxgate/pkg/models"
	"github.com/wxgate/wxgate/pkg/registry"
)

func newRuleService(t *testing.T) (*RuleService, *WarningsService, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	warnings := NewWarningsService(nil)
	svc := NewRuleService(env.stores.Rules, env.stores.Platforms, env.bus, warnings)

	// A platform for rules to point at.
	require.NoError(t, env.stores.Platforms.Create(context.Background(), &models.Platform{
		PlatformID: "plat-1", Name: "echo", Kind: models.PlatformKindKeyword,
		Config:  map[string]any{"rules": []any{map[string]any{"keywords": []any{"ping"}, "reply": "pong"}}},
		Enabled: true,
	}))
	require.NoError(t, env.stores.Platforms.Create(context.Background(), &models.Platform{
		PlatformID: "plat-2", Name: "other", Kind: models.PlatformKindKeyword,
		Config:  map[string]any{"rules": []any{map[string]any{"keywords": []any{"hi"}, "reply": "hello"}}},
		Enabled: true,
	}))
	return svc, warnings, env
}

func TestRuleCreate(t *testing.T) {
	ctx := context.Background()
	svc, _, env := newRuleService(t)
	ch := env.bus.Subscribe("test")

	rule, conflicts, err := svc.Create(ctx, RuleInput{
		RuleID: "rule-1", Name: "catch all", PlatformID: "plat-1",
	})
	require.NoError(t, err)
	assert.Empty(t, conflicts)
	assert.Equal(t, models.WildcardScope, rule.InstanceID, "scope defaults to wildcard")
	assert.Equal(t, models.WildcardScope, rule.ChatPattern)
	assert.True(t, rule.Enabled)

	changes := drainChanges(ch)
	require.Len(t, changes, 1)
	assert.Equal(t, registry.ChangeKindRule, changes[0].Kind)
}

func TestRuleCreateInvalidRegex(t *testing.T) {
	svc, _, _ := newRuleService(t)
	_, _, err := svc.Create(context.Background(), RuleInput{
		RuleID: "rule-1", PlatformID: "plat-1", ChatPattern: "regex:ops-[",
	})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "chat_pattern", ve.Field)
}

func TestRuleCreateUnknownPlatform(t *testing.T) {
	svc, _, _ := newRuleService(t)
	_, _, err := svc.Create(context.Background(), RuleInput{
		RuleID: "rule-1", PlatformID: "ghost",
	})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "platform_id", ve.Field)
}

func TestRuleConflictWarning(t *testing.T) {
	ctx := context.Background()
	svc, warnings, _ := newRuleService(t)

	_, conflicts, err := svc.Create(ctx, RuleInput{RuleID: "rule-1", PlatformID: "plat-1"})
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	// Same wildcard scope and priority, different platform: conflict.
	_, conflicts, err = svc.Create(ctx, RuleInput{RuleID: "rule-2", PlatformID: "plat-2"})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	active := warnings.GetWarnings()
	require.Len(t, active, 1)
	assert.Equal(t, WarningCategoryRuleConflict, active[0].Category)

	// Raising rule-2's priority breaks the tie and clears the warning.
	prio := 10
	_, conflicts, err = svc.Update(ctx, "rule-2", RuleInput{Priority: &prio})
	require.NoError(t, err)
	assert.Empty(t, conflicts)
	assert.Empty(t, warnings.GetWarnings())
}

func TestRuleDeleteClearsWarnings(t *testing.T) {
	ctx := context.Background()
	svc, warnings, _ := newRuleService(t)

	_, _, err := svc.Create(ctx, RuleInput{RuleID: "rule-1", PlatformID: "plat-1"})
	require.NoError(t, err)
	_, _, err = svc.Create(ctx, RuleInput{RuleID: "rule-2", PlatformID: "plat-2"})
	require.NoError(t, err)
	require.NotEmpty(t, warnings.GetWarnings())

	require.NoError(t, svc.Delete(ctx, "rule-2"))
	assert.Empty(t, warnings.GetWarnings())
	_, err = svc.Get(ctx, "rule-2")
	assert.ErrorIs(t, err, ErrNotFound)
}
