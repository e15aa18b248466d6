package services

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/wxgate/wxgate/pkg/models"
	"github.com/wxgate/wxgate/pkg/registry"
	"github.com/wxgate/wxgate/pkg/store"
)

// InstanceInput is the domain-level data for creating or updating an
// instance. Transformed from the HTTP request by the handler.
type InstanceInput struct {
	InstanceID string
	Name       string
	BaseURL    string
	APIKey     string
	Enabled    *bool
	Config     *models.InstanceConfig
}

// InstanceService manages agent instance records. Every mutation publishes a
// change signal so the agent pool reconciles its client set.
type InstanceService struct {
	instances *store.InstanceStore
	listeners *store.ListenerStore
	bus       *registry.Bus
}

// NewInstanceService creates an InstanceService.
func NewInstanceService(instances *store.InstanceStore, listeners *store.ListenerStore, bus *registry.Bus) *InstanceService {
	if instances == nil {
		panic("NewInstanceService: instances must not be nil")
	}
	if bus == nil {
		panic("NewInstanceService: bus must not be nil")
	}
	return &InstanceService{instances: instances, listeners: listeners, bus: bus}
}

// Create registers a new instance.
func (s *InstanceService) Create(ctx context.Context, input InstanceInput) (*models.Instance, error) {
	if err := validateInstanceInput(&input, true); err != nil {
		return nil, err
	}

	if _, err := s.instances.Get(ctx, input.InstanceID); err == nil {
		return nil, ErrAlreadyExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	inst := &models.Instance{
		InstanceID: input.InstanceID,
		Name:       input.Name,
		BaseURL:    strings.TrimRight(input.BaseURL, "/"),
		APIKey:     input.APIKey,
		Enabled:    input.Enabled == nil || *input.Enabled,
		Status:     models.InstanceStatusInitializing,
	}
	if input.Config != nil {
		inst.Config = input.Config.Normalize()
	} else {
		inst.Config = models.DefaultInstanceConfig()
	}

	if err := s.instances.Create(ctx, inst); err != nil {
		return nil, err
	}
	s.publish(inst.InstanceID)
	return inst, nil
}

// Get returns one instance.
func (s *InstanceService) Get(ctx context.Context, instanceID string) (*models.Instance, error) {
	inst, err := s.instances.Get(ctx, instanceID)
	return inst, mapStoreErr(err)
}

// List returns all instances.
func (s *InstanceService) List(ctx context.Context) ([]*models.Instance, error) {
	return s.instances.List(ctx)
}

// Update replaces an instance's mutable fields. An empty APIKey keeps the
// stored key.
func (s *InstanceService) Update(ctx context.Context, instanceID string, input InstanceInput) (*models.Instance, error) {
	inst, err := s.instances.Get(ctx, instanceID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	input.InstanceID = instanceID
	if err := validateInstanceInput(&input, false); err != nil {
		return nil, err
	}

	if input.Name != "" {
		inst.Name = input.Name
	}
	if input.BaseURL != "" {
		inst.BaseURL = strings.TrimRight(input.BaseURL, "/")
	}
	if input.APIKey != "" {
		inst.APIKey = input.APIKey
	}
	if input.Enabled != nil {
		inst.Enabled = *input.Enabled
	}
	if input.Config != nil {
		inst.Config = input.Config.Normalize()
	}

	if err := s.instances.Update(ctx, inst); err != nil {
		return nil, mapStoreErr(err)
	}
	s.publish(instanceID)
	return inst, nil
}

// SetEnabled enables or disables an instance. Disabling keeps the listener
// rows: the engine simply stops polling until re-enable.
func (s *InstanceService) SetEnabled(ctx context.Context, instanceID string, enabled bool) error {
	if err := s.instances.SetEnabled(ctx, instanceID, enabled); err != nil {
		return mapStoreErr(err)
	}
	s.publish(instanceID)
	return nil
}

// Delete removes an instance and its listener rows.
func (s *InstanceService) Delete(ctx context.Context, instanceID string) error {
	if s.listeners != nil {
		ls, err := s.listeners.ListByInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		for _, l := range ls {
			if err := s.listeners.Delete(ctx, instanceID, l.ChatName); err != nil {
				return err
			}
		}
	}
	if err := s.instances.Delete(ctx, instanceID); err != nil {
		return mapStoreErr(err)
	}
	s.publish(instanceID)
	return nil
}

func (s *InstanceService) publish(instanceID string) {
	s.bus.Publish(registry.Change{Kind: registry.ChangeKindInstance, ID: instanceID})
}

func validateInstanceInput(input *InstanceInput, creating bool) error {
	if creating {
		if input.InstanceID == "" {
			return NewValidationError("instance_id", "instance_id is required")
		}
		if input.Name == "" {
			return NewValidationError("name", "name is required")
		}
		if input.BaseURL == "" {
			return NewValidationError("base_url", "base_url is required")
		}
		if input.APIKey == "" {
			return NewValidationError("api_key", "api_key is required")
		}
	}
	if input.BaseURL != "" {
		u, err := url.Parse(input.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return NewValidationError("base_url", "base_url must be an absolute URL")
		}
	}
	return nil
}
