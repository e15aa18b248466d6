// Package rules resolves which service platform handles a message, based on
// the configured (instance scope, chat pattern, priority) rules.
package rules

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"sync"

	"github.com/wxgate/wxgate/pkg/models"
	"github.com/wxgate/wxgate/pkg/registry"
)

// RuleSource is the slice of the rule store the engine needs.
type RuleSource interface {
	ListEnabled(ctx context.Context) ([]*models.Rule, error)
}

// WarningSink receives operator-facing warnings, e.g. rules skipped for an
// invalid regex. May be nil.
type WarningSink interface {
	Warn(category, message string)
}

// compiledRule pairs a rule with its compiled regex (regex patterns only).
type compiledRule struct {
	rule *models.Rule
	re   *regexp.Regexp
}

// Engine caches the enabled rule set and matches messages against it.
// Resolution is deterministic for an unchanged rule set: priority DESC,
// then pattern specificity (literal > regex > wildcard), then rule_id ASC.
type Engine struct {
	source   RuleSource
	bus      *registry.Bus
	warnings WarningSink
	logger   *slog.Logger

	mu    sync.RWMutex
	rules []compiledRule

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a rule engine. warnings may be nil.
func NewEngine(source RuleSource, bus *registry.Bus, warnings WarningSink) *Engine {
	return &Engine{
		source:   source,
		bus:      bus,
		warnings: warnings,
		logger:   slog.Default(),
	}
}

// Start loads the rule cache and subscribes to rule change signals.
func (e *Engine) Start(ctx context.Context) error {
	if e.cancel != nil {
		return nil
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	if err := e.Reload(ctx); err != nil {
		e.cancel()
		close(e.done)
		e.cancel = nil
		return err
	}

	ch := e.bus.Subscribe("rule-engine")
	go e.watchChanges(ctx, ch)
	return nil
}

// Stop unsubscribes and joins the change watcher.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	e.bus.Unsubscribe("rule-engine")
	<-e.done
}

// Reload replaces the cache from the store. Rules with an invalid regex are
// skipped and surfaced as a warning.
func (e *Engine) Reload(ctx context.Context) error {
	enabled, err := e.source.ListEnabled(ctx)
	if err != nil {
		return err
	}

	compiled := make([]compiledRule, 0, len(enabled))
	for _, r := range enabled {
		cr := compiledRule{rule: r}
		if r.Kind() == models.PatternRegex {
			re, err := regexp.Compile("^(?:" + r.RegexExpr() + ")$")
			if err != nil {
				e.logger.Warn("Skipping rule with invalid regex",
					"rule_id", r.RuleID, "pattern", r.ChatPattern, "error", err)
				if e.warnings != nil {
					e.warnings.Warn("rules", "rule "+r.RuleID+" skipped: invalid regex pattern")
				}
				continue
			}
			cr.re = re
		}
		compiled = append(compiled, cr)
	}

	// Pre-rank so Match only has to take the first hit.
	sort.SliceStable(compiled, func(i, j int) bool {
		a, b := compiled[i].rule, compiled[j].rule
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Kind() != b.Kind() {
			return a.Kind() > b.Kind()
		}
		return a.RuleID < b.RuleID
	})

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()

	e.logger.Debug("Rule cache reloaded", "rules", len(compiled))
	return nil
}

// Match returns the winning rule for a message, or nil when none applies.
func (e *Engine) Match(instanceID, chatName string, isAtMessage bool) *models.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, cr := range e.rules {
		r := cr.rule
		if r.InstanceID != models.WildcardScope && r.InstanceID != instanceID {
			continue
		}
		if r.OnlyAtMessages && !isAtMessage {
			continue
		}
		if cr.matches(chatName) {
			return r
		}
	}
	return nil
}

func (cr *compiledRule) matches(chatName string) bool {
	switch cr.rule.Kind() {
	case models.PatternWildcard:
		return true
	case models.PatternRegex:
		return cr.re.MatchString(chatName)
	default:
		return cr.rule.ChatPattern == chatName
	}
}

func (e *Engine) watchChanges(ctx context.Context, ch <-chan registry.Change) {
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-ch:
			if !ok {
				return
			}
			if change.Kind != registry.ChangeKindRule {
				continue
			}
			if err := e.Reload(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error("Failed to reload rule cache", "error", err)
			}
		}
	}
}
