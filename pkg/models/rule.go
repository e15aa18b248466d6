package models

import (
	"strings"
	"time"
)

// WildcardScope matches any instance or any chat, depending on the field.
const WildcardScope = "*"

// RegexPatternPrefix marks a chat_pattern as a regular expression.
const RegexPatternPrefix = "regex:"

// Rule binds (instance scope, chat pattern, priority) to a platform.
type Rule struct {
	RuleID         string    `json:"rule_id"`
	Name           string    `json:"name"`
	InstanceID     string    `json:"instance_id"`
	ChatPattern    string    `json:"chat_pattern"`
	PlatformID     string    `json:"platform_id"`
	Priority       int       `json:"priority"`
	Enabled        bool      `json:"enabled"`
	OnlyAtMessages bool      `json:"only_at_messages"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PatternKind classifies a chat pattern for specificity ranking.
type PatternKind int

const (
	PatternWildcard PatternKind = iota
	PatternRegex
	PatternLiteral
)

// Kind returns the pattern kind of the rule's chat_pattern.
// Ordering of the constants encodes specificity: literal > regex > wildcard.
func (r *Rule) Kind() PatternKind {
	switch {
	case r.ChatPattern == WildcardScope:
		return PatternWildcard
	case strings.HasPrefix(r.ChatPattern, RegexPatternPrefix):
		return PatternRegex
	default:
		return PatternLiteral
	}
}

// RegexExpr returns the expression portion of a regex pattern.
func (r *Rule) RegexExpr() string {
	return strings.TrimPrefix(r.ChatPattern, RegexPatternPrefix)
}
