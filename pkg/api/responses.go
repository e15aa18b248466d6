package api

import (
	"strings"

	"github.com/wxgate/wxgate/pkg/models"
	"github.com/wxgate/wxgate/pkg/rules"
)

// redactedSecret replaces every secret value in API responses.
const redactedSecret = "***"

// StatusResponse is the generic acknowledgement body.
type StatusResponse struct {
	Status string `json:"status"`
}

// RuleResponse is returned by rule create and update. Conflicts are
// warning-only and never block the mutation.
type RuleResponse struct {
	Rule      *models.Rule     `json:"rule"`
	Conflicts []rules.Conflict `json:"conflicts,omitempty"`
}

// redactInstance returns a copy safe to serialize.
func redactInstance(inst *models.Instance) *models.Instance {
	out := *inst
	if out.APIKey != "" {
		out.APIKey = redactedSecret
	}
	return &out
}

func redactInstances(list []*models.Instance) []*models.Instance {
	out := make([]*models.Instance, len(list))
	for i, inst := range list {
		out[i] = redactInstance(inst)
	}
	return out
}

// secretConfigKey reports whether a platform config key carries a secret.
func secretConfigKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "key") ||
		strings.Contains(k, "token") ||
		strings.Contains(k, "secret") ||
		strings.Contains(k, "password")
}

// redactPlatform returns a copy with secret config values masked.
func redactPlatform(p *models.Platform) *models.Platform {
	out := *p
	out.Config = make(map[string]any, len(p.Config))
	for k, v := range p.Config {
		if secretConfigKey(k) {
			out.Config[k] = redactedSecret
			continue
		}
		out.Config[k] = v
	}
	return &out
}

func redactPlatforms(list []*models.Platform) []*models.Platform {
	out := make([]*models.Platform, len(list))
	for i, p := range list {
		out[i] = redactPlatform(p)
	}
	return out
}
