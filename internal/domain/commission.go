package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommissionStatus tracks the commission lifecycle.
type CommissionStatus string

const (
	CommissionPending   CommissionStatus = "pending"
	CommissionApproved  CommissionStatus = "approved"
	CommissionPaid      CommissionStatus = "paid"
	CommissionCancelled CommissionStatus = "cancelled"
)

// Commission is the amount owed to an affiliate for one order.
type Commission struct {
	ID               uuid.UUID        `json:"id"`
	OrderID          string           `json:"order_id"`
	AffiliateID      uuid.UUID        `json:"affiliate_id"`
	LinkID           uuid.UUID        `json:"link_id"`
	ClickID          *uuid.UUID       `json:"click_id,omitempty"`
	OrderValue       int64            `json:"order_value"`
	CommissionRate   decimal.Decimal  `json:"commission_rate"`
	CommissionAmount int64            `json:"commission_amount"`
	Status           CommissionStatus `json:"status"`
	PayoutID         *uuid.UUID       `json:"payout_id,omitempty"`
	CustomerEmail    *string          `json:"customer_email,omitempty"`
	CustomerName     *string          `json:"customer_name,omitempty"`
	Products         json.RawMessage  `json:"products,omitempty"`
	ShippingCity     *string          `json:"shipping_city,omitempty"`
	ShippingCountry  *string          `json:"shipping_country,omitempty"`
	PaidAt           *time.Time       `json:"paid_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Claimed reports whether the commission is reserved by a payout batch.
func (c *Commission) Claimed() bool {
	return c.PayoutID != nil
}

// AffiliateBalance is the unclaimed approved total for one affiliate.
type AffiliateBalance struct {
	AffiliateID uuid.UUID `json:"affiliate_id"`
	Total       int64     `json:"total"`
	Count       int       `json:"count"`
}

// ClaimedCommission is a commission reserved by a payout batch.
type ClaimedCommission struct {
	ID     uuid.UUID
	Amount int64
}
