package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/reflink/platform/internal/domain"
)

// Simulated is an in-process payout method for local runs (PAYOUT_SIMULATE=true) and tests.
// It succeeds unless failures were queued with FailNext.
type Simulated struct {
	method domain.PayoutMethod

	mu       sync.Mutex
	failures []error
	calls    []PayoutRequest
}

// NewSimulated creates a simulated method standing in for method.
func NewSimulated(method domain.PayoutMethod) *Simulated {
	return &Simulated{method: method}
}

func (s *Simulated) Name() domain.PayoutMethod { return s.method }

func (s *Simulated) Destination(a *domain.Affiliate) (string, bool) {
	switch s.method {
	case domain.MethodBankTransfer:
		if a.HasBankDestination() {
			return *a.BankIBAN, true
		}
	case domain.MethodCardProcessor:
		if a.HasCardDestination() {
			return *a.CardAccountRef, true
		}
	}
	return "", false
}

// FailNext queues errors returned by the next calls, in order.
func (s *Simulated) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// Calls returns every request seen so far.
func (s *Simulated) Calls() []PayoutRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PayoutRequest(nil), s.calls...)
}

func (s *Simulated) Send(ctx context.Context, req PayoutRequest) (*PayoutReceipt, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	var failure error
	if len(s.failures) > 0 {
		failure = s.failures[0]
		s.failures = s.failures[1:]
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &MethodError{Method: s.method, Err: err}
	}
	if failure != nil {
		return nil, &MethodError{Method: s.method, Err: failure}
	}
	return &PayoutReceipt{TransactionRef: fmt.Sprintf("sim-%s-%s", s.method, req.PayoutID.String()[:8])}, nil
}
