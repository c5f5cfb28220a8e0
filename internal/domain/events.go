package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NewNotificationEvent turns a notification into an outbox row keyed by affiliate.
func NewNotificationEvent(n Notification) OutboxDraft {
	body := map[string]interface{}{
		"affiliate_id": n.AffiliateID.String(),
		"kind":         string(n.Kind),
	}
	for k, v := range n.Payload {
		body[k] = v
	}
	payload, _ := json.Marshal(body)

	occurred := n.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: n.Aggregate,
		AggregateID:   n.AggregateID.String(),
		EventType:     n.Kind,
		PartitionKey:  n.AffiliateID.String(),
		Headers:       json.RawMessage(`{}`),
		Payload:       payload,
		OccurredAt:    occurred,
	}
}

// NewPayoutNotification builds the affiliate-facing notification for a payout outcome.
func NewPayoutNotification(kind EventType, p *Payout, reason string, at time.Time) Notification {
	payload := map[string]interface{}{
		"payout_id":      p.ID.String(),
		"amount":         p.Amount,
		"currency":       p.Currency,
		"attempts":       p.Attempts,
		"commission_ids": p.CommissionIDs,
	}
	if p.Method != nil {
		payload["method"] = string(*p.Method)
	}
	if p.TransactionRef != nil {
		payload["transaction_ref"] = *p.TransactionRef
	}
	if reason != "" {
		payload["failure_reason"] = reason
	}
	return Notification{
		AffiliateID: p.AffiliateID,
		Kind:        kind,
		Aggregate:   AggregatePayout,
		AggregateID: p.ID,
		Payload:     payload,
		OccurredAt:  at,
	}
}

// NewCommissionNotification builds a commission lifecycle notification.
func NewCommissionNotification(kind EventType, c *Commission, at time.Time) Notification {
	return Notification{
		AffiliateID: c.AffiliateID,
		Kind:        kind,
		Aggregate:   AggregateCommission,
		AggregateID: c.ID,
		Payload: map[string]interface{}{
			"commission_id":     c.ID.String(),
			"order_id":          c.OrderID,
			"order_value":       c.OrderValue,
			"commission_amount": c.CommissionAmount,
			"status":            string(c.Status),
		},
		OccurredAt: at,
	}
}
