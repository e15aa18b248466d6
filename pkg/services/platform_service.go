package services

import (
	"context"
	"errors"

	"github.com/wxgate/wxgate/pkg/models"
	"github.com/wxgate/wxgate/pkg/platform"
	"github.com/wxgate/wxgate/pkg/registry"
	"github.com/wxgate/wxgate/pkg/store"
)

// PlatformInput is the domain-level data for creating or updating a
// platform.
type PlatformInput struct {
	PlatformID string
	Name       string
	Kind       models.PlatformKind
	Config     map[string]any
	Enabled    *bool
}

// PlatformService manages service platform records. Config changes publish a
// change signal so the platform registry rebuilds the affected entry.
type PlatformService struct {
	platforms *store.PlatformStore
	bus       *registry.Bus
}

// NewPlatformService creates a PlatformService.
func NewPlatformService(platforms *store.PlatformStore, bus *registry.Bus) *PlatformService {
	if platforms == nil {
		panic("NewPlatformService: platforms must not be nil")
	}
	if bus == nil {
		panic("NewPlatformService: bus must not be nil")
	}
	return &PlatformService{platforms: platforms, bus: bus}
}

// Create registers a new platform. The config is validated by building and
// initializing a throwaway platform of the declared kind.
func (s *PlatformService) Create(ctx context.Context, input PlatformInput) (*models.Platform, error) {
	if input.PlatformID == "" {
		return nil, NewValidationError("platform_id", "platform_id is required")
	}
	if input.Name == "" {
		return nil, NewValidationError("name", "name is required")
	}
	if !input.Kind.IsValid() {
		return nil, NewValidationError("kind", "kind must be one of dify, openai, keyword")
	}
	if err := validatePlatformConfig(ctx, input.Kind, input.Config); err != nil {
		return nil, err
	}

	if _, err := s.platforms.Get(ctx, input.PlatformID); err == nil {
		return nil, ErrAlreadyExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	p := &models.Platform{
		PlatformID: input.PlatformID,
		Name:       input.Name,
		Kind:       input.Kind,
		Config:     input.Config,
		Enabled:    input.Enabled == nil || *input.Enabled,
	}
	if err := s.platforms.Create(ctx, p); err != nil {
		return nil, err
	}
	s.publish(p.PlatformID)
	return p, nil
}

// Get returns one platform.
func (s *PlatformService) Get(ctx context.Context, platformID string) (*models.Platform, error) {
	p, err := s.platforms.Get(ctx, platformID)
	return p, mapStoreErr(err)
}

// List returns all platforms.
func (s *PlatformService) List(ctx context.Context) ([]*models.Platform, error) {
	return s.platforms.List(ctx)
}

// Update replaces a platform's mutable fields. A non-nil Config replaces
// the whole config map.
func (s *PlatformService) Update(ctx context.Context, platformID string, input PlatformInput) (*models.Platform, error) {
	p, err := s.platforms.Get(ctx, platformID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	if input.Name != "" {
		p.Name = input.Name
	}
	if input.Kind != "" {
		if !input.Kind.IsValid() {
			return nil, NewValidationError("kind", "kind must be one of dify, openai, keyword")
		}
		p.Kind = input.Kind
	}
	if input.Config != nil {
		p.Config = input.Config
	}
	if input.Enabled != nil {
		p.Enabled = *input.Enabled
	}
	if err := validatePlatformConfig(ctx, p.Kind, p.Config); err != nil {
		return nil, err
	}

	if err := s.platforms.Update(ctx, p); err != nil {
		return nil, mapStoreErr(err)
	}
	s.publish(platformID)
	return p, nil
}

// SetEnabled enables or disables a platform.
func (s *PlatformService) SetEnabled(ctx context.Context, platformID string, enabled bool) error {
	if err := s.platforms.SetEnabled(ctx, platformID, enabled); err != nil {
		return mapStoreErr(err)
	}
	s.publish(platformID)
	return nil
}

// Delete removes a platform. Rules pointing at it keep their platform_id;
// deliveries through them fail with a config error until rebound.
func (s *PlatformService) Delete(ctx context.Context, platformID string) error {
	if err := s.platforms.Delete(ctx, platformID); err != nil {
		return mapStoreErr(err)
	}
	s.publish(platformID)
	return nil
}

// TestConnection builds the stored platform and probes it.
func (s *PlatformService) TestConnection(ctx context.Context, platformID string) error {
	p, err := s.platforms.Get(ctx, platformID)
	if err != nil {
		return mapStoreErr(err)
	}
	built, err := platform.Build(p.Kind)
	if err != nil {
		return err
	}
	if err := built.Initialize(ctx, p.Config); err != nil {
		return err
	}
	return built.TestConnection(ctx)
}

func (s *PlatformService) publish(platformID string) {
	s.bus.Publish(registry.Change{Kind: registry.ChangeKindPlatform, ID: platformID})
}

// validatePlatformConfig rejects configs the platform itself would refuse
// at resolve time.
func validatePlatformConfig(ctx context.Context, kind models.PlatformKind, config map[string]any) error {
	built, err := platform.Build(kind)
	if err != nil {
		return NewValidationError("kind", err.Error())
	}
	if err := built.Initialize(ctx, config); err != nil {
		return NewValidationError("config", err.Error())
	}
	return nil
}
