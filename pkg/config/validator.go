package config

import (
	"fmt"
	"strings"

	"github.com/wxgate/wxgate/pkg/crypto"
	"github.com/wxgate/wxgate/pkg/models"
)

// validate checks the fully resolved configuration and collects every
// problem before failing, so operators fix one restart's worth of issues.
func validate(cfg *Config) error {
	var errs []string

	collect := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	collect(validateServer(cfg.Server))
	collect(validateDatabase(cfg.Database))
	collect(validateSecurity(cfg.Security))
	collect(validateLog(cfg.Log))
	collect(validateDelivery(cfg.Delivery))
	for _, err := range validateSeed(cfg.Seed) {
		collect(err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d error(s): %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	if s.Port < 1 || s.Port > 65535 {
		return NewValidationError("server", "", "port", fmt.Errorf("%w: %d", ErrInvalidValue, s.Port))
	}
	if (s.TLSCert == "") != (s.TLSKey == "") {
		return NewValidationError("server", "", "tls_cert/tls_key", fmt.Errorf("%w: both or neither must be set", ErrInvalidValue))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	switch d.Driver {
	case "sqlite":
		if d.DataDir == "" {
			return NewValidationError("database", "", "data_dir", ErrMissingRequiredField)
		}
	case "postgres":
		if d.DSN == "" {
			return NewValidationError("database", "", "dsn", ErrMissingRequiredField)
		}
	default:
		return NewValidationError("database", "", "driver", fmt.Errorf("%w: %q (want sqlite or postgres)", ErrInvalidValue, d.Driver))
	}
	return nil
}

func validateSecurity(s SecurityConfig) error {
	if s.MasterKey == "" {
		return NewValidationError("security", "", "master_key", ErrMissingRequiredField)
	}
	if _, err := crypto.NewCodec(s.MasterKey); err != nil {
		return NewValidationError("security", "", "master_key", err)
	}
	return nil
}

func validateLog(l LogConfig) error {
	switch l.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return NewValidationError("log", "", "level", fmt.Errorf("%w: %q", ErrInvalidValue, l.Level))
	}
}

func validateDelivery(d DeliveryConfig) error {
	if d.Workers < 1 {
		return NewValidationError("delivery", "", "workers", fmt.Errorf("%w: %d", ErrInvalidValue, d.Workers))
	}
	if d.MaxAttempts < 1 {
		return NewValidationError("delivery", "", "max_attempts", fmt.Errorf("%w: %d", ErrInvalidValue, d.MaxAttempts))
	}
	if d.LeaseS < 1 || d.BackoffBaseS < 1 || d.BackoffCapS < d.BackoffBaseS {
		return NewValidationError("delivery", "", "lease_s/backoff", ErrInvalidValue)
	}
	return nil
}

func validateSeed(s SeedConfig) []error {
	var errs []error

	for _, inst := range s.Instances {
		if inst.InstanceID == "" {
			errs = append(errs, NewValidationError("seed.instance", inst.Name, "instance_id", ErrMissingRequiredField))
			continue
		}
		if inst.BaseURL == "" {
			errs = append(errs, NewValidationError("seed.instance", inst.InstanceID, "base_url", ErrMissingRequiredField))
		}
	}

	for _, p := range s.Platforms {
		if p.PlatformID == "" {
			errs = append(errs, NewValidationError("seed.platform", p.Name, "platform_id", ErrMissingRequiredField))
			continue
		}
		if !models.PlatformKind(p.Kind).IsValid() {
			errs = append(errs, NewValidationError("seed.platform", p.PlatformID, "kind", fmt.Errorf("%w: %q", ErrInvalidValue, p.Kind)))
		}
	}

	// Rule→platform references are not cross-checked here: a seeded rule may
	// point at a platform that already exists in the store.
	for _, r := range s.Rules {
		if r.RuleID == "" {
			errs = append(errs, NewValidationError("seed.rule", r.Name, "rule_id", ErrMissingRequiredField))
			continue
		}
		if r.ChatPattern == "" {
			errs = append(errs, NewValidationError("seed.rule", r.RuleID, "chat_pattern", ErrMissingRequiredField))
		}
		if r.PlatformID == "" {
			errs = append(errs, NewValidationError("seed.rule", r.RuleID, "platform_id", ErrMissingRequiredField))
		}
	}

	return errs
}
