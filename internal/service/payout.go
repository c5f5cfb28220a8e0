package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/reflink/platform/internal/clock"
	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/guard"
	"github.com/reflink/platform/internal/metrics"
	"github.com/reflink/platform/internal/notify"
	"github.com/reflink/platform/internal/provider"
	"github.com/reflink/platform/internal/repository"
)

// Manual run actions.
const (
	ActionMonthly = "monthly"
	ActionPending = "pending"
	ActionRetry   = "retry"
)

const reconcileBatchSize = 200

// errBelowMinimum rolls back a batch whose claim lost a race with another run.
var errBelowMinimum = errors.New("claimed total below minimum")

// PayoutConfig holds the payout policy knobs.
type PayoutConfig struct {
	MinAmount     int64
	Currency      string
	MaxRetries    int // daily retries after the first attempt
	RetryCooldown time.Duration
	MethodTimeout time.Duration
}

// PayoutService batches approved commissions into payouts and sends them.
type PayoutService struct {
	repos    *repository.Repositories
	methods  []provider.PayoutMethod
	breaker  *guard.CircuitBreaker
	notifier notify.Notifier
	clock    clock.Clock
	metrics  *metrics.Metrics
	cfg      PayoutConfig
	logger   *slog.Logger
}

// NewPayoutService creates a PayoutService. Methods are tried in the given order.
func NewPayoutService(
	repos *repository.Repositories,
	methods []provider.PayoutMethod,
	breaker *guard.CircuitBreaker,
	notifier notify.Notifier,
	clk clock.Clock,
	m *metrics.Metrics,
	cfg PayoutConfig,
	logger *slog.Logger,
) *PayoutService {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.MethodTimeout <= 0 {
		cfg.MethodTimeout = 30 * time.Second
	}
	return &PayoutService{
		repos:    repos,
		methods:  methods,
		breaker:  breaker,
		notifier: notifier,
		clock:    clk,
		metrics:  m,
		cfg:      cfg,
		logger:   logger,
	}
}

// PayoutOutcome is the result of one pass through the attempt pipeline. Skipped means the
// payout was not leased: another worker holds it or it is no longer eligible.
type PayoutOutcome struct {
	PayoutID       uuid.UUID            `json:"payout_id"`
	AffiliateID    uuid.UUID            `json:"affiliate_id"`
	Amount         int64                `json:"amount"`
	Status         domain.PayoutStatus  `json:"status,omitempty"`
	Method         *domain.PayoutMethod `json:"method,omitempty"`
	TransactionRef string               `json:"transaction_ref,omitempty"`
	Attempts       int                  `json:"attempts"`
	Exhausted      bool                 `json:"exhausted"`
	Skipped        bool                 `json:"skipped"`
	Reason         string               `json:"reason,omitempty"`
}

// RunSummary reports what a monthly or reconciliation run did.
type RunSummary struct {
	Action    string          `json:"action"`
	Created   int             `json:"created"`
	Processed int             `json:"processed"`
	Completed int             `json:"completed"`
	Failed    int             `json:"failed"`
	Exhausted int             `json:"exhausted"`
	Skipped   int             `json:"skipped"`
	TotalPaid int64           `json:"total_paid"`
	Payouts   []PayoutOutcome `json:"payouts"`
}

func (s *RunSummary) add(o *PayoutOutcome) {
	s.Payouts = append(s.Payouts, *o)
	if o.Skipped {
		s.Skipped++
		return
	}
	s.Processed++
	switch o.Status {
	case domain.PayoutCompleted:
		s.Completed++
		s.TotalPaid += o.Amount
	case domain.PayoutFailed:
		s.Failed++
		if o.Exhausted {
			s.Exhausted++
		}
	}
}

// Run executes a manual or scheduled action.
func (s *PayoutService) Run(ctx context.Context, action string) (*RunSummary, error) {
	start := time.Now()
	var (
		summary *RunSummary
		err     error
	)
	switch action {
	case ActionMonthly:
		summary, err = s.RunMonthly(ctx)
	case ActionPending:
		summary, err = s.Reconcile(ctx, ReconcileOptions{IncludeFailed: true})
	case ActionRetry:
		summary, err = s.Reconcile(ctx, ReconcileOptions{IncludeFailed: true, IgnoreCooldown: true})
	default:
		return nil, domain.ErrValidation(fmt.Sprintf("unknown action %q: want monthly, pending or retry", action))
	}
	s.metrics.JobRun(action, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	summary.Action = action
	return summary, nil
}

// RunMonthly creates one payout per affiliate whose unclaimed approved total reaches the
// minimum, then sends each of them.
func (s *PayoutService) RunMonthly(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{Action: ActionMonthly, Payouts: []PayoutOutcome{}}

	balances, err := s.repos.Commissions.UnclaimedApprovedBalances(ctx, s.repos.Tx.DB())
	if err != nil {
		return nil, domain.ErrInternal("sum approved commissions", err)
	}

	var created []uuid.UUID
	for _, b := range balances {
		if b.Total < s.cfg.MinAmount {
			s.logger.Debug("balance below payout minimum",
				"affiliate_id", b.AffiliateID, "total", b.Total, "min", s.cfg.MinAmount)
			continue
		}
		p, err := s.createBatch(ctx, b.AffiliateID)
		if err != nil {
			return nil, domain.ErrInternal("create payout batch", err)
		}
		if p == nil {
			continue
		}
		created = append(created, p.ID)
		summary.Created++
		s.logger.Info("payout batch created",
			"payout_id", p.ID,
			"affiliate_id", p.AffiliateID,
			"amount", p.Amount,
			"commissions", len(p.CommissionIDs),
		)
	}

	for _, id := range created {
		out, err := s.attempt(ctx, domain.PayoutLease{
			PayoutID: id,
			From:     []domain.PayoutStatus{domain.PayoutPending},
		})
		if err != nil {
			return summary, err
		}
		summary.add(out)
	}
	return summary, nil
}

// createBatch opens a pending payout and claims the affiliate's approved commissions for
// it. Returns nil when a concurrent run claimed them first.
func (s *PayoutService) createBatch(ctx context.Context, affiliateID uuid.UUID) (*domain.Payout, error) {
	now := s.clock.Now()
	p := &domain.Payout{
		ID:          uuid.New(),
		AffiliateID: affiliateID,
		Currency:    s.cfg.Currency,
		Status:      domain.PayoutPending,
		ScheduledAt: now,
	}

	err := s.repos.Tx.InTx(ctx, func(tx repository.DBTX) error {
		if err := s.repos.Payouts.Create(ctx, tx, p); err != nil {
			return err
		}
		claimed, err := s.repos.Commissions.ClaimApproved(ctx, tx, affiliateID, p.ID, now)
		if err != nil {
			return err
		}
		var total int64
		ids := make([]uuid.UUID, 0, len(claimed))
		for _, c := range claimed {
			total += c.Amount
			ids = append(ids, c.ID)
		}
		if len(claimed) == 0 || total < s.cfg.MinAmount {
			return errBelowMinimum
		}
		if err := s.repos.Payouts.SetBatch(ctx, tx, p.ID, total, ids); err != nil {
			return err
		}
		p.Amount, p.CommissionIDs = total, ids
		return s.repos.Payouts.InsertEvent(ctx, tx, &domain.PayoutEvent{
			PayoutID:  p.ID,
			Status:    domain.PayoutPending,
			Message:   fmt.Sprintf("batch of %d commissions scheduled", len(ids)),
			CreatedAt: now,
		})
	})
	if errors.Is(err, errBelowMinimum) {
		s.logger.Info("payout batch skipped, commissions claimed elsewhere", "affiliate_id", affiliateID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ProcessPayout sends a pending or failed payout now. Payouts in processing are left to
// their current worker.
func (s *PayoutService) ProcessPayout(ctx context.Context, payoutID uuid.UUID) (*PayoutOutcome, error) {
	p, err := s.repos.Payouts.FindByID(ctx, s.repos.Tx.DB(), payoutID)
	if err != nil {
		return nil, domain.ErrInternal("find payout", err)
	}
	if p == nil {
		return nil, domain.ErrNotFound("payout", payoutID.String())
	}
	if p.Status == domain.PayoutCompleted {
		return nil, domain.ErrIllegalTransition("payout", string(p.Status), string(domain.PayoutProcessing))
	}
	if p.Exhausted {
		return nil, domain.ErrIllegalTransition("payout", "exhausted", string(domain.PayoutProcessing))
	}
	return s.attempt(ctx, domain.PayoutLease{
		PayoutID: payoutID,
		From:     []domain.PayoutStatus{domain.PayoutPending, domain.PayoutFailed},
	})
}

// ReconcileOptions selects which open payouts a reconciliation run picks up.
type ReconcileOptions struct {
	// IncludeFailed also retries failed payouts that have attempts left.
	IncludeFailed bool
	// IgnoreCooldown retries pending and failed payouts regardless of their last activity.
	// Payouts in processing always need to be older than the cooldown.
	IgnoreCooldown bool
}

// Reconcile re-runs the attempt pipeline for payouts that were left open.
func (s *PayoutService) Reconcile(ctx context.Context, opts ReconcileOptions) (*RunSummary, error) {
	summary := &RunSummary{Action: ActionPending, Payouts: []PayoutOutcome{}}
	staleBefore := s.clock.Now().Add(-s.cfg.RetryCooldown)

	idle := []domain.PayoutStatus{domain.PayoutPending}
	if opts.IncludeFailed {
		idle = append(idle, domain.PayoutFailed)
	}
	idleBefore := staleBefore
	if opts.IgnoreCooldown {
		idleBefore = time.Time{}
	}

	passes := []struct {
		statuses    []domain.PayoutStatus
		staleBefore time.Time
	}{
		{idle, idleBefore},
		{[]domain.PayoutStatus{domain.PayoutProcessing}, staleBefore},
	}

	db := s.repos.Tx.DB()
	for _, pass := range passes {
		payouts, err := s.repos.Payouts.ListReconcilable(ctx, db, pass.statuses, pass.staleBefore, reconcileBatchSize)
		if err != nil {
			return nil, domain.ErrInternal("list open payouts", err)
		}
		for _, p := range payouts {
			out, err := s.attempt(ctx, domain.PayoutLease{
				PayoutID:    p.ID,
				From:        []domain.PayoutStatus{p.Status},
				StaleBefore: pass.staleBefore,
			})
			if err != nil {
				return summary, err
			}
			summary.add(out)
		}
	}

	if summary.Processed > 0 {
		s.logger.Info("payout reconciliation finished",
			"processed", summary.Processed,
			"completed", summary.Completed,
			"failed", summary.Failed,
			"exhausted", summary.Exhausted,
		)
	}
	return summary, nil
}

// attempt leases the payout and tries each method in order until one succeeds.
func (s *PayoutService) attempt(ctx context.Context, lease domain.PayoutLease) (*PayoutOutcome, error) {
	lease.At = s.clock.Now()
	p, err := s.repos.Payouts.Lease(ctx, s.repos.Tx.DB(), lease)
	if err != nil {
		return nil, domain.ErrInternal("lease payout", err)
	}
	if p == nil {
		return &PayoutOutcome{PayoutID: lease.PayoutID, Skipped: true, Reason: "not eligible or held by another worker"}, nil
	}
	log := s.logger.With("payout_id", p.ID, "affiliate_id", p.AffiliateID, "attempt", p.Attempts)

	aff, err := s.repos.Affiliates.FindByID(ctx, s.repos.Tx.DB(), p.AffiliateID)
	if err != nil {
		return nil, domain.ErrInternal("find affiliate", err)
	}

	var failures []string
	if aff == nil {
		failures = append(failures, "affiliate not found")
	} else {
		for _, method := range s.methods {
			receipt, reason := s.tryMethod(ctx, p, aff, method)
			if receipt != nil {
				return s.complete(ctx, p, method.Name(), receipt.TransactionRef, log)
			}
			if reason != "" {
				failures = append(failures, reason)
			}
		}
	}

	if ctx.Err() != nil {
		// Leave the payout in processing; reconciliation picks it up once stale.
		return nil, ctx.Err()
	}
	reason := "no payout method available"
	if len(failures) > 0 {
		reason = strings.Join(failures, "; ")
	}
	return s.fail(ctx, p, reason, log)
}

// tryMethod sends the payout through one method. It returns a receipt on success, or the
// reason the method did not pay. An empty reason means the method does not apply.
func (s *PayoutService) tryMethod(ctx context.Context, p *domain.Payout, aff *domain.Affiliate, method provider.PayoutMethod) (*provider.PayoutReceipt, string) {
	name := method.Name()
	dest, ok := method.Destination(aff)
	if !ok {
		return nil, ""
	}

	if s.breaker != nil {
		if res := s.breaker.Check(ctx, string(name)); !res.Allowed {
			s.metrics.PayoutAttempt(string(name), metrics.AttemptSkipped, 0)
			reason := fmt.Sprintf("%s: skipped, %s", name, res.Reason)
			s.audit(ctx, p.ID, &name, domain.PayoutProcessing, reason)
			return nil, reason
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.MethodTimeout)
	defer cancel()

	start := time.Now()
	receipt, err := method.Send(callCtx, provider.PayoutRequest{
		PayoutID:       p.ID,
		AffiliateID:    p.AffiliateID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Destination:    dest,
		IdempotencyKey: provider.IdempotencyKey(p.ID, name),
	})
	took := time.Since(start)

	if err == nil && receipt == nil {
		err = fmt.Errorf("empty receipt")
	}
	if err != nil {
		s.recordBreaker(name, false)
		s.metrics.PayoutAttempt(string(name), metrics.AttemptFailure, took)
		reason := fmt.Sprintf("%s: %v", name, err)
		if provider.IsTimeout(err) {
			reason = fmt.Sprintf("%s: timed out after %s", name, s.cfg.MethodTimeout)
		}
		s.logger.Warn("payout method failed", "payout_id", p.ID, "method", name, "error", err)
		s.audit(ctx, p.ID, &name, domain.PayoutProcessing, reason)
		return nil, reason
	}

	s.recordBreaker(name, true)
	s.metrics.PayoutAttempt(string(name), metrics.AttemptSuccess, took)
	return receipt, ""
}

func (s *PayoutService) recordBreaker(name domain.PayoutMethod, ok bool) {
	if s.breaker == nil {
		return
	}
	if ok {
		s.breaker.RecordSuccess(string(name))
	} else {
		s.breaker.RecordFailure(string(name))
	}
	s.metrics.CircuitOpen(string(name), s.breaker.State(string(name)) == guard.CircuitOpen)
}

// complete settles the payout, its commissions and the affiliate total in one transaction.
func (s *PayoutService) complete(ctx context.Context, p *domain.Payout, method domain.PayoutMethod, ref string, log *slog.Logger) (*PayoutOutcome, error) {
	now := s.clock.Now()
	var done *domain.Payout
	err := s.repos.Tx.InTx(ctx, func(tx repository.DBTX) error {
		var err error
		done, err = s.repos.Payouts.Complete(ctx, tx, domain.PayoutCompletion{
			PayoutID:       p.ID,
			Method:         method,
			TransactionRef: ref,
			At:             now,
		})
		if err != nil {
			return err
		}
		if done == nil {
			return fmt.Errorf("payout %s left processing during the attempt", p.ID)
		}
		if _, err := s.repos.Commissions.MarkPaid(ctx, tx, p.ID, now); err != nil {
			return err
		}
		if err := s.repos.Affiliates.AddPaid(ctx, tx, p.AffiliateID, p.Amount, now); err != nil {
			return err
		}
		if err := s.repos.Payouts.InsertEvent(ctx, tx, &domain.PayoutEvent{
			PayoutID:  p.ID,
			Method:    &method,
			Status:    domain.PayoutCompleted,
			Message:   "paid, ref " + ref,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		return s.notifier.Notify(ctx, tx, domain.NewPayoutNotification(domain.EventPayoutCompleted, done, "", now))
	})
	if err != nil {
		// The provider has paid; the idempotency key makes the next attempt a replay.
		log.Error("payout paid but completion not recorded", "method", method, "transaction_ref", ref, "error", err)
		return nil, domain.ErrInternal("complete payout", err)
	}

	s.metrics.PayoutOutcome(string(domain.PayoutCompleted))
	log.Info("payout completed", "method", method, "transaction_ref", ref, "amount", done.Amount)
	return &PayoutOutcome{
		PayoutID:       done.ID,
		AffiliateID:    done.AffiliateID,
		Amount:         done.Amount,
		Status:         done.Status,
		Method:         done.Method,
		TransactionRef: ref,
		Attempts:       done.Attempts,
	}, nil
}

// fail records a failed attempt. Once the first attempt and MaxRetries reconciliation
// retries have all failed, the payout is exhausted and its commissions are released for a
// future batch.
func (s *PayoutService) fail(ctx context.Context, p *domain.Payout, reason string, log *slog.Logger) (*PayoutOutcome, error) {
	now := s.clock.Now()
	exhausted := p.Attempts > s.cfg.MaxRetries

	var failed *domain.Payout
	err := s.repos.Tx.InTx(ctx, func(tx repository.DBTX) error {
		var err error
		failed, err = s.repos.Payouts.Fail(ctx, tx, domain.PayoutFailure{
			PayoutID:  p.ID,
			Reason:    reason,
			Exhausted: exhausted,
			At:        now,
		})
		if err != nil {
			return err
		}
		if failed == nil {
			return fmt.Errorf("payout %s left processing during the attempt", p.ID)
		}
		msg := "attempt failed: " + reason
		if exhausted {
			if _, err := s.repos.Commissions.ReleaseClaim(ctx, tx, p.ID, now); err != nil {
				return err
			}
			msg = fmt.Sprintf("exhausted after %d attempts: %s", failed.Attempts, reason)
		}
		if err := s.repos.Payouts.InsertEvent(ctx, tx, &domain.PayoutEvent{
			PayoutID:  p.ID,
			Status:    domain.PayoutFailed,
			Message:   msg,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		if err := s.notifier.Notify(ctx, tx, domain.NewPayoutNotification(domain.EventPayoutFailed, failed, reason, now)); err != nil {
			return err
		}
		if exhausted {
			return s.notifier.Notify(ctx, tx, domain.NewPayoutNotification(domain.EventPayoutExhausted, failed, reason, now))
		}
		return nil
	})
	if err != nil {
		return nil, domain.ErrInternal("record payout failure", err)
	}

	if exhausted {
		s.metrics.PayoutOutcome("exhausted")
		log.Error("payout exhausted", "reason", reason, "attempts", failed.Attempts)
	} else {
		s.metrics.PayoutOutcome(string(domain.PayoutFailed))
		log.Warn("payout attempt failed", "reason", reason)
	}
	return &PayoutOutcome{
		PayoutID:    failed.ID,
		AffiliateID: failed.AffiliateID,
		Amount:      failed.Amount,
		Status:      failed.Status,
		Attempts:    failed.Attempts,
		Exhausted:   failed.Exhausted,
		Reason:      reason,
	}, nil
}

// audit appends a payout event outside any transaction. Failures are logged only.
func (s *PayoutService) audit(ctx context.Context, payoutID uuid.UUID, method *domain.PayoutMethod, status domain.PayoutStatus, msg string) {
	err := s.repos.Payouts.InsertEvent(ctx, s.repos.Tx.DB(), &domain.PayoutEvent{
		PayoutID:  payoutID,
		Method:    method,
		Status:    status,
		Message:   msg,
		CreatedAt: s.clock.Now(),
	})
	if err != nil {
		s.logger.Warn("payout audit write failed", "payout_id", payoutID, "error", err)
	}
}

// PayoutDetail is a payout with its audit trail.
type PayoutDetail struct {
	domain.Payout
	Events []domain.PayoutEvent `json:"events"`
}

// GetPayout returns a payout and its audit trail.
func (s *PayoutService) GetPayout(ctx context.Context, id uuid.UUID) (*PayoutDetail, error) {
	db := s.repos.Tx.DB()
	p, err := s.repos.Payouts.FindByID(ctx, db, id)
	if err != nil {
		return nil, domain.ErrInternal("find payout", err)
	}
	if p == nil {
		return nil, domain.ErrNotFound("payout", id.String())
	}
	events, err := s.repos.Payouts.ListEvents(ctx, db, id)
	if err != nil {
		return nil, domain.ErrInternal("list payout events", err)
	}
	if events == nil {
		events = []domain.PayoutEvent{}
	}
	return &PayoutDetail{Payout: *p, Events: events}, nil
}

// PayoutPage is one page of a payout listing.
type PayoutPage struct {
	Payouts []domain.Payout `json:"payouts"`
	Total   int64           `json:"total"`
	Page    int             `json:"page"`
	Limit   int             `json:"limit"`
}

// ListPayouts returns payouts newest first.
func (s *PayoutService) ListPayouts(ctx context.Context, filter domain.PayoutFilter) (*PayoutPage, error) {
	filter = filter.Normalize()
	list, total, err := s.repos.Payouts.List(ctx, s.repos.Tx.DB(), filter)
	if err != nil {
		return nil, domain.ErrInternal("list payouts", err)
	}
	if list == nil {
		list = []domain.Payout{}
	}
	return &PayoutPage{Payouts: list, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

// Stats returns payout totals by status.
func (s *PayoutService) Stats(ctx context.Context) (*domain.PayoutStats, error) {
	stats, err := s.repos.Payouts.Stats(ctx, s.repos.Tx.DB())
	if err != nil {
		return nil, domain.ErrInternal("payout stats", err)
	}
	return stats, nil
}
