package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// LinkStatus enumerates short link states.
type LinkStatus string

const (
	LinkActive   LinkStatus = "active"
	LinkInactive LinkStatus = "inactive"
	LinkExpired  LinkStatus = "expired"
)

// Link is a short code owned by an affiliate.
type Link struct {
	ID              uuid.UUID  `json:"id"`
	ShortCode       string     `json:"short_code"`
	DestinationURL  string     `json:"destination_url"`
	OwnerID         uuid.UUID  `json:"owner_id"`
	Status          LinkStatus `json:"status"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	ClickCount      int64      `json:"click_count"`
	ConversionCount int64      `json:"conversion_count"`
	TotalRevenue    int64      `json:"total_revenue"`
	LastClickedAt   *time.Time `json:"last_clicked_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Resolvable reports whether the link may redirect visitors at the given time.
func (l *Link) Resolvable(now time.Time) bool {
	if l.Status != LinkActive {
		return false
	}
	return l.ExpiresAt == nil || now.Before(*l.ExpiresAt)
}

// ResolvedLink is what the redirect path needs to send a visitor on.
type ResolvedLink struct {
	LinkID         uuid.UUID  `json:"link_id"`
	AffiliateID    uuid.UUID  `json:"affiliate_id"`
	DestinationURL string     `json:"destination_url"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// ClickMeta is the opaque client information captured with a click.
type ClickMeta struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
}

// Click is one redirect through a link.
type Click struct {
	ID                     uuid.UUID       `json:"id"`
	LinkID                 uuid.UUID       `json:"link_id"`
	AffiliateID            uuid.UUID       `json:"affiliate_id"`
	Timestamp              time.Time       `json:"timestamp"`
	ClientMeta             json.RawMessage `json:"client_meta"`
	Converted              bool            `json:"converted"`
	OrderID                *string         `json:"order_id,omitempty"`
	OrderValue             *int64          `json:"order_value,omitempty"`
	CommissionAtConversion *int64          `json:"commission_at_conversion,omitempty"`
}

// ClickConversion is the one-time mutation applied when a click is attributed an order.
type ClickConversion struct {
	ClickID    uuid.UUID
	OrderID    string
	OrderValue int64
	Commission int64
}
