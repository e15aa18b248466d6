package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Warning category constants.
const (
	WarningCategoryRuleConflict = "rule_conflict"  // two rules race for the same chats
	WarningCategoryInvalidRegex = "invalid_regex"  // rule skipped by the matcher
	WarningCategoryAgentAuth    = "agent_auth"     // agent rejected our API key
	WarningCategoryAgentHealth  = "agent_health"   // instance unreachable at runtime
	WarningCategoryPlatform     = "platform_error" // platform misbehaving
)

// SystemWarning represents a non-fatal system issue.
type SystemWarning struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	EntityID  string    `json:"entity_id,omitempty"` // instance, rule, or platform id
	CreatedAt time.Time `json:"created_at"`
}

// WarningPublisher pushes warnings to WebSocket status subscribers.
type WarningPublisher interface {
	PublishWarning(category, message string)
}

// WarningsService manages in-memory system warnings.
// Thread-safe. Not persisted — warnings are transient and reset on restart.
type WarningsService struct {
	mu        sync.RWMutex
	warnings  map[string]*SystemWarning // warningID → warning
	publisher WarningPublisher
}

// NewWarningsService creates a WarningsService. publisher may be nil.
func NewWarningsService(publisher WarningPublisher) *WarningsService {
	return &WarningsService{
		warnings:  make(map[string]*SystemWarning),
		publisher: publisher,
	}
}

// AddWarning adds a warning and returns its ID.
// A warning with the same category+entityID replaces the previous one.
func (s *WarningsService) AddWarning(category, message, details, entityID string) string {
	s.mu.Lock()
	for id, w := range s.warnings {
		if w.Category == category && w.EntityID == entityID {
			delete(s.warnings, id)
			break
		}
	}

	id := uuid.New().String()
	s.warnings[id] = &SystemWarning{
		ID:        id,
		Category:  category,
		Message:   message,
		Details:   details,
		EntityID:  entityID,
		CreatedAt: time.Now(),
	}
	s.mu.Unlock()

	if s.publisher != nil {
		s.publisher.PublishWarning(category, message)
	}
	return id
}

// Warn records an uncorrelated warning. Satisfies the rule engine's
// warning sink.
func (s *WarningsService) Warn(category, message string) {
	s.AddWarning(category, message, "", "")
}

// GetWarnings returns all active warnings as value copies.
func (s *WarningsService) GetWarnings() []*SystemWarning {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*SystemWarning, 0, len(s.warnings))
	for _, w := range s.warnings {
		cp := *w
		result = append(result, &cp)
	}
	return result
}

// ClearByEntity removes a warning matching category + entityID.
// Returns true if a warning was removed.
func (s *WarningsService) ClearByEntity(category, entityID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, w := range s.warnings {
		if w.Category == category && w.EntityID == entityID {
			delete(s.warnings, id)
			return true
		}
	}
	return false
}
