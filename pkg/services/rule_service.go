package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/wxgate/wxgate/pkg/models"
	"github.com/wxgate/wxgate/pkg/registry"
	"github.com/wxgate/wxgate/pkg/rules"
	"github.com/wxgate/wxgate/pkg/store"
)

// RuleInput is the domain-level data for creating or updating a rule.
type RuleInput struct {
	RuleID         string
	Name           string
	InstanceID     string
	ChatPattern    string
	PlatformID     string
	Priority       *int
	Enabled        *bool
	OnlyAtMessages *bool
}

// RuleService manages routing rules. Mutations publish a change signal so
// the rule engine reloads its cache, and conflicting rules are surfaced as
// system warnings (never blocking).
type RuleService struct {
	rules     *store.RuleStore
	platforms *store.PlatformStore
	bus       *registry.Bus
	warnings  *WarningsService
}

// NewRuleService creates a RuleService. warnings may be nil.
func NewRuleService(ruleStore *store.RuleStore, platforms *store.PlatformStore, bus *registry.Bus, warnings *WarningsService) *RuleService {
	if ruleStore == nil {
		panic("NewRuleService: ruleStore must not be nil")
	}
	if bus == nil {
		panic("NewRuleService: bus must not be nil")
	}
	return &RuleService{rules: ruleStore, platforms: platforms, bus: bus, warnings: warnings}
}

// Create registers a new rule and reports any conflicts it introduces.
func (s *RuleService) Create(ctx context.Context, input RuleInput) (*models.Rule, []rules.Conflict, error) {
	if input.RuleID == "" {
		return nil, nil, NewValidationError("rule_id", "rule_id is required")
	}
	if input.PlatformID == "" {
		return nil, nil, NewValidationError("platform_id", "platform_id is required")
	}
	if err := s.validateRuleInput(ctx, &input); err != nil {
		return nil, nil, err
	}

	if _, err := s.rules.Get(ctx, input.RuleID); err == nil {
		return nil, nil, ErrAlreadyExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, nil, err
	}

	rule := &models.Rule{
		RuleID:      input.RuleID,
		Name:        input.Name,
		InstanceID:  input.InstanceID,
		ChatPattern: input.ChatPattern,
		PlatformID:  input.PlatformID,
		Enabled:     input.Enabled == nil || *input.Enabled,
	}
	if rule.InstanceID == "" {
		rule.InstanceID = models.WildcardScope
	}
	if rule.ChatPattern == "" {
		rule.ChatPattern = models.WildcardScope
	}
	if input.Priority != nil {
		rule.Priority = *input.Priority
	}
	if input.OnlyAtMessages != nil {
		rule.OnlyAtMessages = *input.OnlyAtMessages
	}

	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, nil, err
	}
	s.publish(rule.RuleID)

	conflicts, err := s.conflictsFor(ctx, rule.RuleID)
	if err != nil {
		return nil, nil, err
	}
	return rule, conflicts, nil
}

// Get returns one rule.
func (s *RuleService) Get(ctx context.Context, ruleID string) (*models.Rule, error) {
	r, err := s.rules.Get(ctx, ruleID)
	return r, mapStoreErr(err)
}

// List returns all rules in evaluation order.
func (s *RuleService) List(ctx context.Context) ([]*models.Rule, error) {
	return s.rules.List(ctx)
}

// Update replaces a rule's mutable fields and reports resulting conflicts.
func (s *RuleService) Update(ctx context.Context, ruleID string, input RuleInput) (*models.Rule, []rules.Conflict, error) {
	rule, err := s.rules.Get(ctx, ruleID)
	if err != nil {
		return nil, nil, mapStoreErr(err)
	}

	if err := s.validateRuleInput(ctx, &input); err != nil {
		return nil, nil, err
	}

	if input.Name != "" {
		rule.Name = input.Name
	}
	if input.InstanceID != "" {
		rule.InstanceID = input.InstanceID
	}
	if input.ChatPattern != "" {
		rule.ChatPattern = input.ChatPattern
	}
	if input.PlatformID != "" {
		rule.PlatformID = input.PlatformID
	}
	if input.Priority != nil {
		rule.Priority = *input.Priority
	}
	if input.Enabled != nil {
		rule.Enabled = *input.Enabled
	}
	if input.OnlyAtMessages != nil {
		rule.OnlyAtMessages = *input.OnlyAtMessages
	}

	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, nil, mapStoreErr(err)
	}
	s.publish(ruleID)

	conflicts, err := s.conflictsFor(ctx, ruleID)
	if err != nil {
		return nil, nil, err
	}
	return rule, conflicts, nil
}

// Delete removes a rule.
func (s *RuleService) Delete(ctx context.Context, ruleID string) error {
	if err := s.rules.Delete(ctx, ruleID); err != nil {
		return mapStoreErr(err)
	}
	if s.warnings != nil {
		s.warnings.ClearByEntity(WarningCategoryRuleConflict, ruleID)
	}
	s.publish(ruleID)
	return nil
}

func (s *RuleService) publish(ruleID string) {
	s.bus.Publish(registry.Change{Kind: registry.ChangeKindRule, ID: ruleID})
}

func (s *RuleService) validateRuleInput(ctx context.Context, input *RuleInput) error {
	if strings.HasPrefix(input.ChatPattern, models.RegexPatternPrefix) {
		expr := strings.TrimPrefix(input.ChatPattern, models.RegexPatternPrefix)
		if _, err := regexp.Compile(expr); err != nil {
			return NewValidationError("chat_pattern", fmt.Sprintf("invalid regex: %v", err))
		}
	}
	if input.PlatformID != "" && s.platforms != nil {
		if _, err := s.platforms.Get(ctx, input.PlatformID); errors.Is(err, store.ErrNotFound) {
			return NewValidationError("platform_id", fmt.Sprintf("platform '%s' does not exist", input.PlatformID))
		} else if err != nil {
			return err
		}
	}
	return nil
}

// conflictsFor recomputes the conflict set and raises a warning for every
// conflict involving the changed rule.
func (s *RuleService) conflictsFor(ctx context.Context, ruleID string) ([]rules.Conflict, error) {
	all, err := s.rules.List(ctx)
	if err != nil {
		return nil, err
	}

	var involved []rules.Conflict
	for _, c := range rules.FindConflicts(all) {
		if c.RuleA != ruleID && c.RuleB != ruleID {
			continue
		}
		involved = append(involved, c)
		if s.warnings != nil {
			s.warnings.AddWarning(WarningCategoryRuleConflict,
				fmt.Sprintf("rules '%s' and '%s' can match the same chats with different platforms",
					c.RuleA, c.RuleB),
				c.Detail, ruleID)
		}
	}
	if len(involved) == 0 && s.warnings != nil {
		s.warnings.ClearByEntity(WarningCategoryRuleConflict, ruleID)
	}
	return involved, nil
}
