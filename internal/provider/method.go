package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/reflink/platform/internal/domain"
)

// PayoutRequest is one attempt to send a payout through a method.
type PayoutRequest struct {
	PayoutID    uuid.UUID
	AffiliateID uuid.UUID
	Amount      int64 // minor units
	Currency    string
	Destination string
	// IdempotencyKey is stable per payout and method so a retried call cannot pay twice.
	IdempotencyKey string
}

// PayoutReceipt is the provider's acknowledgement of a sent payout.
type PayoutReceipt struct {
	TransactionRef string
}

// PayoutMethod is one way of sending money to an affiliate.
type PayoutMethod interface {
	Name() domain.PayoutMethod

	// Destination returns the affiliate's account for this method, if it has one.
	Destination(a *domain.Affiliate) (string, bool)

	Send(ctx context.Context, req PayoutRequest) (*PayoutReceipt, error)
}

// IdempotencyKey builds the provider idempotency key for a payout and method.
func IdempotencyKey(payoutID uuid.UUID, method domain.PayoutMethod) string {
	return fmt.Sprintf("payout-%s-%s", payoutID, method)
}

// MethodError is a failed payout call. It is recovered by falling through to the next method.
type MethodError struct {
	Method     domain.PayoutMethod
	StatusCode int
	Err        error
}

func (e *MethodError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Method, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Method, e.Err)
}

func (e *MethodError) Unwrap() error { return e.Err }

// IsTimeout reports whether the method failed because its deadline passed.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
