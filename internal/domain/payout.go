package domain

import (
	"time"

	"github.com/google/uuid"
)

// PayoutMethod identifies how a payout is sent.
type PayoutMethod string

const (
	MethodBankTransfer  PayoutMethod = "bank_transfer"
	MethodCardProcessor PayoutMethod = "card_processor"
)

// PayoutStatus tracks the payout lifecycle.
type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
)

// Payout settles a batch of approved commissions for one affiliate.
type Payout struct {
	ID             uuid.UUID     `json:"id"`
	AffiliateID    uuid.UUID     `json:"affiliate_id"`
	Amount         int64         `json:"amount"`
	Currency       string        `json:"currency"`
	Method         *PayoutMethod `json:"method,omitempty"`
	Status         PayoutStatus  `json:"status"`
	Attempts       int           `json:"attempts"`
	Exhausted      bool          `json:"exhausted"`
	ScheduledAt    time.Time     `json:"scheduled_at"`
	LastAttemptAt  *time.Time    `json:"last_attempt_at,omitempty"`
	ProcessedAt    *time.Time    `json:"processed_at,omitempty"`
	TransactionRef *string       `json:"transaction_ref,omitempty"`
	FailureReason  *string       `json:"failure_reason,omitempty"`
	CommissionIDs  []uuid.UUID   `json:"commission_ids"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// PayoutLease is the conditional pending|processing|failed → processing transition.
type PayoutLease struct {
	PayoutID uuid.UUID
	From     []PayoutStatus
	// StaleBefore, when non-zero, only leases payouts whose last activity is older.
	StaleBefore time.Time
	At          time.Time
}

// PayoutCompletion records a successful payout.
type PayoutCompletion struct {
	PayoutID       uuid.UUID
	Method         PayoutMethod
	TransactionRef string
	At             time.Time
}

// PayoutFailure records a failed attempt.
type PayoutFailure struct {
	PayoutID  uuid.UUID
	Reason    string
	Exhausted bool
	At        time.Time
}

// PayoutEvent is an audit row for one method attempt or status change.
type PayoutEvent struct {
	ID        int64         `json:"id"`
	PayoutID  uuid.UUID     `json:"payout_id"`
	Method    *PayoutMethod `json:"method,omitempty"`
	Status    PayoutStatus  `json:"status"`
	Message   string        `json:"message"`
	CreatedAt time.Time     `json:"created_at"`
}

// PayoutFilter narrows payout listings.
type PayoutFilter struct {
	AffiliateID *uuid.UUID
	Status      *PayoutStatus
	Page        int
	Limit       int
}

// Normalize applies paging defaults.
func (f PayoutFilter) Normalize() PayoutFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	return f
}

// Offset returns the row offset for the current page.
func (f PayoutFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// PayoutStatusTotal aggregates payouts of one status.
type PayoutStatusTotal struct {
	Status PayoutStatus `json:"status"`
	Count  int64        `json:"count"`
	Amount int64        `json:"amount"`
}

// PayoutStats is the operator summary of payout outcomes.
type PayoutStats struct {
	TotalPaid      int64               `json:"total_paid"`
	TotalPending   int64               `json:"total_pending"`
	TotalFailed    int64               `json:"total_failed"`
	ExhaustedCount int64               `json:"exhausted_count"`
	ByStatus       []PayoutStatusTotal `json:"by_status"`
}

// Add folds one status row into the summary.
func (s *PayoutStats) Add(t PayoutStatusTotal, exhausted int64) {
	s.ByStatus = append(s.ByStatus, t)
	s.ExhaustedCount += exhausted
	switch t.Status {
	case PayoutCompleted:
		s.TotalPaid += t.Amount
	case PayoutPending, PayoutProcessing:
		s.TotalPending += t.Amount
	case PayoutFailed:
		s.TotalFailed += t.Amount
	}
}
