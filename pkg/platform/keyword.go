package platform

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/wxgate/wxgate/pkg/agent"
	"github.com/wxgate/wxgate/pkg/models"
)

// Keyword answers from a local rule table without calling any service.
type Keyword struct {
	rules []keywordRule
}

type keywordRule struct {
	keywords []string
	reply    string
	match    string
	res      []*regexp.Regexp
}

// NewKeyword creates an uninitialized Keyword platform.
func NewKeyword() *Keyword {
	return &Keyword{}
}

func (k *Keyword) Kind() models.PlatformKind {
	return models.PlatformKindKeyword
}

// Initialize parses the rule table. Config shape:
//
//	rules:
//	  - keywords: ["hi", "hello"]
//	    reply: "hey there"
//	    match: contains   # contains | exact | regex
func (k *Keyword) Initialize(_ context.Context, config map[string]any) error {
	raw, ok := config["rules"].([]any)
	if !ok || len(raw) == 0 {
		return agent.NewError(agent.KindConfigError, "keyword platform requires a non-empty rules list", nil)
	}

	k.rules = k.rules[:0]
	for i, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			return agent.NewError(agent.KindConfigError,
				fmt.Sprintf("keyword rule %d is not a map", i), nil)
		}

		rule := keywordRule{
			reply: stringValue(entry["reply"]),
			match: stringValue(entry["match"]),
		}
		if rule.match == "" {
			rule.match = "contains"
		}
		switch rule.match {
		case "contains", "exact", "regex":
		default:
			return agent.NewError(agent.KindConfigError,
				fmt.Sprintf("keyword rule %d has unknown match mode %q", i, rule.match), nil)
		}

		kws, ok := entry["keywords"].([]any)
		if !ok || len(kws) == 0 {
			return agent.NewError(agent.KindConfigError,
				fmt.Sprintf("keyword rule %d has no keywords", i), nil)
		}
		for _, kw := range kws {
			s := stringValue(kw)
			if s == "" {
				continue
			}
			rule.keywords = append(rule.keywords, s)
			if rule.match == "regex" {
				re, err := regexp.Compile(s)
				if err != nil {
					return agent.NewError(agent.KindConfigError,
						fmt.Sprintf("keyword rule %d has invalid regex %q", i, s), err)
				}
				rule.res = append(rule.res, re)
			}
		}
		if rule.reply == "" {
			return agent.NewError(agent.KindConfigError,
				fmt.Sprintf("keyword rule %d has no reply", i), nil)
		}
		k.rules = append(k.rules, rule)
	}
	return nil
}

// ProcessMessage returns the first matching rule's reply, or no reply.
func (k *Keyword) ProcessMessage(_ context.Context, env *Envelope) (*Reply, error) {
	for _, rule := range k.rules {
		if rule.matches(env.Content) {
			return &Reply{Content: rule.reply}, nil
		}
	}
	return &Reply{NoReply: true}, nil
}

// TestConnection is a no-op: there is nothing remote to reach.
func (k *Keyword) TestConnection(context.Context) error {
	return nil
}

func (r *keywordRule) matches(content string) bool {
	switch r.match {
	case "exact":
		for _, kw := range r.keywords {
			if content == kw {
				return true
			}
		}
	case "regex":
		for _, re := range r.res {
			if re.MatchString(content) {
				return true
			}
		}
	default:
		for _, kw := range r.keywords {
			if strings.Contains(content, kw) {
				return true
			}
		}
	}
	return false
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
