package rules

import (
	"fmt"

	"github.com/wxgate/wxgate/pkg/models"
)

// Conflict describes two enabled rules that could tie on the same message
// yet route to different platforms. Detection is deliberately conservative:
// a regex is assumed to overlap anything within its instance scope.
type Conflict struct {
	RuleA  string `json:"rule_a"`
	RuleB  string `json:"rule_b"`
	Detail string `json:"detail"`
}

// FindConflicts reports warning-only conflicts in a rule set. It never
// blocks a create or update.
func FindConflicts(rules []*models.Rule) []Conflict {
	var out []Conflict
	for i := 0; i < len(rules); i++ {
		for j := i + 1; j < len(rules); j++ {
			a, b := rules[i], rules[j]
			if !a.Enabled || !b.Enabled {
				continue
			}
			if a.PlatformID == b.PlatformID {
				continue
			}
			if a.Priority != b.Priority || a.Kind() != b.Kind() {
				// Priority or specificity breaks the tie deterministically.
				continue
			}
			if !scopesOverlap(a.InstanceID, b.InstanceID) {
				continue
			}
			if !patternsMayOverlap(a, b) {
				continue
			}
			out = append(out, Conflict{
				RuleA: a.RuleID,
				RuleB: b.RuleID,
				Detail: fmt.Sprintf("rules %s and %s tie at priority %d but route to different platforms",
					a.RuleID, b.RuleID, a.Priority),
			})
		}
	}
	return out
}

func scopesOverlap(a, b string) bool {
	return a == models.WildcardScope || b == models.WildcardScope || a == b
}

func patternsMayOverlap(a, b *models.Rule) bool {
	// Kinds are equal here. Literals only collide on equality; wildcards and
	// regexes are assumed to collide.
	if a.Kind() == models.PatternLiteral {
		return a.ChatPattern == b.ChatPattern
	}
	return true
}
