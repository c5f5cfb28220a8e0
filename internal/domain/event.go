package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates all domain event types.
type EventType string

const (
	EventCommissionCreated   EventType = "affiliate.commission.created"
	EventCommissionApproved  EventType = "affiliate.commission.approved"
	EventCommissionCancelled EventType = "affiliate.commission.cancelled"
	EventPayoutCompleted     EventType = "affiliate.payout.completed"
	EventPayoutFailed        EventType = "affiliate.payout.failed"
	EventPayoutExhausted     EventType = "affiliate.payout.exhausted"
)

// AggregateType enumerates the aggregate root types for outbox events.
type AggregateType string

const (
	AggregateCommission AggregateType = "commission"
	AggregatePayout     AggregateType = "payout"
)

// OutboxDraft is the payload written to the event_outbox table.
type OutboxDraft struct {
	ID            int64           `json:"-"`
	EventID       uuid.UUID       `json:"eventId"`
	AggregateType AggregateType   `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventType     EventType       `json:"eventType"`
	PartitionKey  string          `json:"partitionKey"`
	Headers       json.RawMessage `json:"headers"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// Notification is a message addressed to an affiliate (or operators) about a lifecycle change.
type Notification struct {
	AffiliateID uuid.UUID
	Kind        EventType
	Aggregate   AggregateType
	AggregateID uuid.UUID
	Payload     map[string]interface{}
	OccurredAt  time.Time
}
