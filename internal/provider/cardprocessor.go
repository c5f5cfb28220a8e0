package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/reflink/platform/internal/domain"
)

const stripeAPIBase = "https://api.stripe.com"

// StripeTransfer pays affiliates through Stripe Connect transfers to their connected account.
type StripeTransfer struct {
	secretKey string
	baseURL   string
	client    *http.Client
}

// NewStripeTransfer creates a card processor method backed by Stripe.
func NewStripeTransfer(secretKey string, client *http.Client) *StripeTransfer {
	if client == nil {
		client = http.DefaultClient
	}
	return &StripeTransfer{secretKey: secretKey, baseURL: stripeAPIBase, client: client}
}

// WithBaseURL points the client at another API host (used against test servers).
func (s *StripeTransfer) WithBaseURL(baseURL string) *StripeTransfer {
	s.baseURL = strings.TrimRight(baseURL, "/")
	return s
}

func (s *StripeTransfer) Name() domain.PayoutMethod { return domain.MethodCardProcessor }

func (s *StripeTransfer) Destination(a *domain.Affiliate) (string, bool) {
	if !a.HasCardDestination() {
		return "", false
	}
	return *a.CardAccountRef, true
}

type stripeTransfer struct {
	ID string `json:"id"`
}

type stripeError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Send creates a transfer. Stripe deduplicates on the Idempotency-Key header.
func (s *StripeTransfer) Send(ctx context.Context, req PayoutRequest) (*PayoutReceipt, error) {
	if s.secretKey == "" {
		return nil, &MethodError{Method: s.Name(), Err: fmt.Errorf("stripe secret key not configured")}
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("destination", req.Destination)
	form.Set("transfer_group", req.PayoutID.String())
	form.Set("metadata[affiliate_id]", req.AffiliateID.String())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/transfers", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &MethodError{Method: s.Name(), Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.secretKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, &MethodError{Method: s.Name(), Err: fmt.Errorf("stripe api call: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var se stripeError
		msg := string(raw)
		if json.Unmarshal(raw, &se) == nil && se.Error.Message != "" {
			msg = se.Error.Message
		}
		return nil, &MethodError{Method: s.Name(), StatusCode: resp.StatusCode, Err: fmt.Errorf("stripe error: %s", msg)}
	}

	var t stripeTransfer
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, &MethodError{Method: s.Name(), Err: fmt.Errorf("decode stripe response: %w", err)}
	}
	return &PayoutReceipt{TransactionRef: t.ID}, nil
}
