// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types.
const (
	// Submission events
	EventSubmissionSubmitted    EventType = "submission.submitted"
	EventSubmissionApproved     EventType = "submission.approved"
	EventSubmissionRejected     EventType = "submission.rejected"
	EventAutoVerificationFailed EventType = "submission.auto_verification_failed"

	// Ledger events
	EventXPAwarded               EventType = "ledger.xp_awarded"
	EventLedgerInvariantViolated EventType = "ledger.invariant_violated"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Submission Events
// ═══════════════════════════════════════════════════════════════════════════

// SubmissionSubmittedEvent is emitted after a learner creates or re-submits a submission.
type SubmissionSubmittedEvent struct {
	BaseEvent
	TaskID   string `json:"task_id"`
	UserID   string `json:"user_id"`
	Resubmit bool   `json:"resubmit"`
}

// Payload implements Event interface.
func (e SubmissionSubmittedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"task_id":  e.TaskID,
		"user_id":  e.UserID,
		"resubmit": e.Resubmit,
	}
}

// NewSubmissionSubmittedEvent creates a new SubmissionSubmittedEvent.
func NewSubmissionSubmittedEvent(submissionID, taskID, userID string, resubmit bool) SubmissionSubmittedEvent {
	return SubmissionSubmittedEvent{
		BaseEvent: NewBaseEvent(EventSubmissionSubmitted, submissionID),
		TaskID:    taskID,
		UserID:    userID,
		Resubmit:  resubmit,
	}
}

// SubmissionReviewedEvent is emitted when a submission reaches approved or rejected,
// either through auto-verification or a manual review.
type SubmissionReviewedEvent struct {
	BaseEvent
	TaskID       string `json:"task_id"`
	UserID       string `json:"user_id"`
	ReviewerID   string `json:"reviewer_id,omitempty"`
	XPAwarded    int    `json:"xp_awarded"`
	AutoVerified bool   `json:"auto_verified"`
}

// Payload implements Event interface.
func (e SubmissionReviewedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"task_id":       e.TaskID,
		"user_id":       e.UserID,
		"reviewer_id":   e.ReviewerID,
		"xp_awarded":    e.XPAwarded,
		"auto_verified": e.AutoVerified,
	}
}

// NewSubmissionApprovedEvent creates an approval event.
func NewSubmissionApprovedEvent(submissionID, taskID, userID, reviewerID string, xp int, auto bool) SubmissionReviewedEvent {
	return SubmissionReviewedEvent{
		BaseEvent:    NewBaseEvent(EventSubmissionApproved, submissionID),
		TaskID:       taskID,
		UserID:       userID,
		ReviewerID:   reviewerID,
		XPAwarded:    xp,
		AutoVerified: auto,
	}
}

// NewSubmissionRejectedEvent creates a rejection event.
func NewSubmissionRejectedEvent(submissionID, taskID, userID, reviewerID string) SubmissionReviewedEvent {
	return SubmissionReviewedEvent{
		BaseEvent:  NewBaseEvent(EventSubmissionRejected, submissionID),
		TaskID:     taskID,
		UserID:     userID,
		ReviewerID: reviewerID,
	}
}

// AutoVerificationFailedEvent is emitted when rule evaluation does not pass.
// The submission stays pending.
type AutoVerificationFailedEvent struct {
	BaseEvent
	TaskID      string `json:"task_id"`
	UserID      string `json:"user_id"`
	Reason      string `json:"reason"`
	EngineError bool   `json:"engine_error"`
}

// Payload implements Event interface.
func (e AutoVerificationFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"task_id":      e.TaskID,
		"user_id":      e.UserID,
		"reason":       e.Reason,
		"engine_error": e.EngineError,
	}
}

// NewAutoVerificationFailedEvent creates a new AutoVerificationFailedEvent.
func NewAutoVerificationFailedEvent(submissionID, taskID, userID, reason string, engineError bool) AutoVerificationFailedEvent {
	return AutoVerificationFailedEvent{
		BaseEvent:   NewBaseEvent(EventAutoVerificationFailed, submissionID),
		TaskID:      taskID,
		UserID:      userID,
		Reason:      reason,
		EngineError: engineError,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Ledger Events
// ═══════════════════════════════════════════════════════════════════════════

// XPAwardedEvent is emitted after a ledger entry has been committed.
type XPAwardedEvent struct {
	BaseEvent
	UserID       string `json:"user_id"`
	EntryID      int64  `json:"entry_id"`
	Amount       int    `json:"amount"`
	BalanceAfter int    `json:"balance_after"`
	SourceType   string `json:"source_type"`
	SourceID     string `json:"source_id,omitempty"`
}

// Payload implements Event interface.
func (e XPAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       e.UserID,
		"entry_id":      e.EntryID,
		"amount":        e.Amount,
		"balance_after": e.BalanceAfter,
		"source_type":   e.SourceType,
		"source_id":     e.SourceID,
	}
}

// NewXPAwardedEvent creates a new XPAwardedEvent.
func NewXPAwardedEvent(userID string, entryID int64, amount, balanceAfter int, sourceType, sourceID string) XPAwardedEvent {
	return XPAwardedEvent{
		BaseEvent:    NewBaseEvent(EventXPAwarded, userID),
		UserID:       userID,
		EntryID:      entryID,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		SourceType:   sourceType,
		SourceID:     sourceID,
	}
}

// LedgerInvariantViolatedEvent reports a user whose cached total disagrees
// with the ledger history.
type LedgerInvariantViolatedEvent struct {
	BaseEvent
	UserID    string `json:"user_id"`
	XPTotal   int    `json:"xp_total"`
	LedgerSum int    `json:"ledger_sum"`
	Detector  string `json:"detector"`
}

// Payload implements Event interface.
func (e LedgerInvariantViolatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"xp_total":   e.XPTotal,
		"ledger_sum": e.LedgerSum,
		"detector":   e.Detector,
	}
}

// NewLedgerInvariantViolatedEvent creates a new LedgerInvariantViolatedEvent.
func NewLedgerInvariantViolatedEvent(userID string, xpTotal, ledgerSum int, detector string) LedgerInvariantViolatedEvent {
	return LedgerInvariantViolatedEvent{
		BaseEvent: NewBaseEvent(EventLedgerInvariantViolated, userID),
		UserID:    userID,
		XPTotal:   xpTotal,
		LedgerSum: ledgerSum,
		Detector:  detector,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Bus Contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to all subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for a specific event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}
