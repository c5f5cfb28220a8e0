package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AffiliateStatus enumerates affiliate account states.
type AffiliateStatus string

const (
	AffiliateActive    AffiliateStatus = "active"
	AffiliateSuspended AffiliateStatus = "suspended"
)

func (s AffiliateStatus) Valid() bool {
	return s == AffiliateActive || s == AffiliateSuspended
}

// Affiliate represents a referral partner who owns links and earns commissions.
type Affiliate struct {
	ID             uuid.UUID       `json:"id"`
	Email          string          `json:"email"`
	PasswordHash   string          `json:"-"`
	Name           string          `json:"name"`
	Status         AffiliateStatus `json:"status"`
	CommissionRate decimal.Decimal `json:"commission_rate"` // percent, e.g. 10 = 10%
	BankIBAN       *string         `json:"bank_iban,omitempty"`
	CardAccountRef *string         `json:"card_account_ref,omitempty"`
	TotalClicks    int64           `json:"total_clicks"`
	TotalSales     int64           `json:"total_sales"`
	TotalEarnings  int64           `json:"total_earnings"`
	TotalPaid      int64           `json:"total_paid"`
	LastActivityAt *time.Time      `json:"last_activity_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// HasBankDestination reports whether a bank transfer can be attempted.
func (a *Affiliate) HasBankDestination() bool {
	return a.BankIBAN != nil && *a.BankIBAN != ""
}

// HasCardDestination reports whether a card processor payout can be attempted.
func (a *Affiliate) HasCardDestination() bool {
	return a.CardAccountRef != nil && *a.CardAccountRef != ""
}

// MaxMinorAmount is the largest amount a numeric(15,0) money column holds.
const MaxMinorAmount int64 = 999_999_999_999_999

// ErrAmountOutOfRange is returned for amounts outside [-MaxMinorAmount, MaxMinorAmount].
var ErrAmountOutOfRange = errors.New("amount out of range")

var maxMinor = decimal.NewFromInt(MaxMinorAmount)

// CalculateCommission returns round(orderValue * ratePercent / 100) in minor units.
func CalculateCommission(orderValue int64, ratePercent decimal.Decimal) (int64, error) {
	amount := decimal.NewFromInt(orderValue).
		Mul(ratePercent).
		Div(decimal.NewFromInt(100)).
		Round(0)
	if amount.Abs().GreaterThan(maxMinor) {
		return 0, ErrAmountOutOfRange
	}
	return amount.IntPart(), nil
}

// MajorToMinor converts a major-unit amount (e.g. 500.25) to minor units (50025).
func MajorToMinor(amount decimal.Decimal) (int64, error) {
	minor := amount.Shift(2).Round(0)
	if minor.Abs().GreaterThan(maxMinor) {
		return 0, ErrAmountOutOfRange
	}
	return minor.IntPart(), nil
}
