package models

import "time"

// AttemptOutcome is the result of one delivery attempt.
type AttemptOutcome string

const (
	AttemptOutcomeDelivered AttemptOutcome = "delivered"
	AttemptOutcomeSkipped   AttemptOutcome = "skipped"
	AttemptOutcomeRetry     AttemptOutcome = "retry"
	AttemptOutcomeFailed    AttemptOutcome = "failed"
)

// DeliveryAttempt is one ledger row written per dispatch attempt.
// Error text is redacted before it reaches this struct.
type DeliveryAttempt struct {
	AttemptID  string         `json:"attempt_id"`
	MessageID  string         `json:"message_id"`
	AttemptNo  int            `json:"attempt_no"`
	RuleID     string         `json:"rule_id,omitempty"`
	PlatformID string         `json:"platform_id,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Outcome    AttemptOutcome `json:"outcome"`
	Error      string         `json:"error,omitempty"`
	Retryable  bool           `json:"retryable"`
}
