package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/reflink/platform/internal/domain"
)

// BankTransfer sends payouts to an affiliate IBAN through a bank transfer API.
type BankTransfer struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewBankTransfer creates a bank transfer method.
func NewBankTransfer(baseURL, apiKey string, client *http.Client) *BankTransfer {
	if client == nil {
		client = http.DefaultClient
	}
	return &BankTransfer{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

func (b *BankTransfer) Name() domain.PayoutMethod { return domain.MethodBankTransfer }

func (b *BankTransfer) Destination(a *domain.Affiliate) (string, bool) {
	if !a.HasBankDestination() {
		return "", false
	}
	return *a.BankIBAN, true
}

type bankTransferRequest struct {
	Reference   string `json:"reference"`
	IBAN        string `json:"iban"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

type bankTransferResponse struct {
	TransferID string `json:"transfer_id"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
}

// Send posts a transfer order. Anything but an accepted or completed transfer is a failure.
func (b *BankTransfer) Send(ctx context.Context, req PayoutRequest) (*PayoutReceipt, error) {
	if b.baseURL == "" {
		return nil, &MethodError{Method: b.Name(), Err: fmt.Errorf("bank api url not configured")}
	}

	body, _ := json.Marshal(bankTransferRequest{
		Reference:   req.PayoutID.String(),
		IBAN:        req.Destination,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: "Affiliate commission payout",
	})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, &MethodError{Method: b.Name(), Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, &MethodError{Method: b.Name(), Err: fmt.Errorf("bank api call: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &MethodError{Method: b.Name(), StatusCode: resp.StatusCode, Err: fmt.Errorf("bank error: %s", string(raw))}
	}

	var out bankTransferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &MethodError{Method: b.Name(), Err: fmt.Errorf("decode bank response: %w", err)}
	}
	switch out.Status {
	case "accepted", "completed":
	default:
		return nil, &MethodError{Method: b.Name(), Err: fmt.Errorf("transfer %s: %s", out.Status, out.Message)}
	}
	if out.TransferID == "" {
		return nil, &MethodError{Method: b.Name(), Err: fmt.Errorf("bank response missing transfer id")}
	}
	return &PayoutReceipt{TransactionRef: out.TransferID}, nil
}
