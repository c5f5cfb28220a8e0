package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/reflink/platform/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrDuplicate is returned when an insert violates a unique index.
var ErrDuplicate = errors.New("duplicate key")

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// TxRunner hands out database handles to services.
type TxRunner interface {
	// DB returns a handle for single statements outside a transaction.
	DB() DBTX

	// InTx runs fn inside a transaction, committing only when fn returns nil.
	InTx(ctx context.Context, fn func(tx DBTX) error) error
}

// AffiliateRepository provides access to affiliates.
type AffiliateRepository interface {
	// FindByID returns an affiliate by ID, or nil when absent.
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Affiliate, error)

	// FindByEmail returns an affiliate by email (case-insensitive), or nil when absent.
	FindByEmail(ctx context.Context, db DBTX, email string) (*domain.Affiliate, error)

	// Create inserts a new affiliate. Returns ErrDuplicate when the email is taken.
	Create(ctx context.Context, db DBTX, a *domain.Affiliate) error

	// SetCommissionRate changes the rate applied to future commissions.
	SetCommissionRate(ctx context.Context, db DBTX, id uuid.UUID, rate decimal.Decimal, at time.Time) error

	// SetStatus changes the account status. Returns false when the affiliate is absent.
	SetStatus(ctx context.Context, db DBTX, id uuid.UUID, status domain.AffiliateStatus, at time.Time) (bool, error)

	// IncrementClicks bumps total_clicks and last_activity_at.
	IncrementClicks(ctx context.Context, db DBTX, id uuid.UUID, at time.Time) error

	// AddSale bumps total_sales by one and total_earnings by commission.
	AddSale(ctx context.Context, db DBTX, id uuid.UUID, commission int64, at time.Time) error

	// ReverseSale undoes AddSale for a cancelled commission.
	ReverseSale(ctx context.Context, db DBTX, id uuid.UUID, commission int64, at time.Time) error

	// AddPaid adds a completed payout amount to total_paid.
	AddPaid(ctx context.Context, db DBTX, id uuid.UUID, amount int64, at time.Time) error
}

// AdminRepository provides access to admin_users.
type AdminRepository interface {
	FindByEmail(ctx context.Context, db DBTX, email string) (*domain.AdminUser, error)
	// Create inserts an admin. Returns ErrDuplicate when the email is taken.
	Create(ctx context.Context, db DBTX, admin *domain.AdminUser) error
}

// LinkRepository provides access to links.
type LinkRepository interface {
	// Create inserts a link. Returns ErrDuplicate when the short code is taken.
	Create(ctx context.Context, db DBTX, link *domain.Link) error

	// FindByShortCode returns a link by its short code, or nil when absent.
	FindByShortCode(ctx context.Context, db DBTX, shortCode string) (*domain.Link, error)

	// FindByID returns a link by ID, or nil when absent.
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Link, error)

	// SetStatus changes a link's status.
	SetStatus(ctx context.Context, db DBTX, id uuid.UUID, status domain.LinkStatus, at time.Time) error

	// IncrementClicks atomically bumps click_count and sets last_clicked_at.
	IncrementClicks(ctx context.Context, db DBTX, id uuid.UUID, at time.Time) error

	// AddConversion atomically bumps conversion_count and total_revenue.
	AddConversion(ctx context.Context, db DBTX, id uuid.UUID, revenue int64) error
}

// ClickRepository provides access to clicks.
type ClickRepository interface {
	// Insert appends a click event.
	Insert(ctx context.Context, db DBTX, click *domain.Click) error

	// FindByID returns a click by ID, or nil when absent.
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Click, error)

	// MarkConverted applies the conversion only if the click is not converted yet.
	// Returns false when another order already converted it.
	MarkConverted(ctx context.Context, db DBTX, conv domain.ClickConversion) (bool, error)
}

// CommissionTransition is a conditional status change keyed by order.
type CommissionTransition struct {
	OrderID string
	From    []domain.CommissionStatus
	To      domain.CommissionStatus
	// Unclaimed restricts the change to commissions not reserved by a payout.
	Unclaimed bool
	At        time.Time
}

// CommissionRepository provides access to commissions.
type CommissionRepository interface {
	// InsertIfAbsent inserts the commission unless one exists for its order.
	// Returns false when the order already has a commission.
	InsertIfAbsent(ctx context.Context, db DBTX, c *domain.Commission) (bool, error)

	// FindByOrderID returns the commission for an order, or nil when absent.
	FindByOrderID(ctx context.Context, db DBTX, orderID string) (*domain.Commission, error)

	// Transition applies a conditional status change and returns the updated row,
	// or nil when the current state did not match.
	Transition(ctx context.Context, db DBTX, t CommissionTransition) (*domain.Commission, error)

	// UnclaimedApprovedBalances sums approved, unclaimed commissions per affiliate.
	UnclaimedApprovedBalances(ctx context.Context, db DBTX) ([]domain.AffiliateBalance, error)

	// ClaimApproved reserves every approved, unclaimed commission of the affiliate for a payout.
	ClaimApproved(ctx context.Context, db DBTX, affiliateID, payoutID uuid.UUID, at time.Time) ([]domain.ClaimedCommission, error)

	// MarkPaid moves the payout's approved commissions to paid and returns how many changed.
	MarkPaid(ctx context.Context, db DBTX, payoutID uuid.UUID, at time.Time) (int64, error)

	// ReleaseClaim clears payout_id on the payout's approved commissions.
	ReleaseClaim(ctx context.Context, db DBTX, payoutID uuid.UUID, at time.Time) (int64, error)

	// ListByAffiliate returns an affiliate's commissions, newest first.
	ListByAffiliate(ctx context.Context, db DBTX, affiliateID uuid.UUID, limit, offset int) ([]domain.Commission, error)
}

// PayoutRepository provides access to payouts and payout_events.
type PayoutRepository interface {
	// Create inserts a pending payout.
	Create(ctx context.Context, db DBTX, p *domain.Payout) error

	// SetBatch records the claimed amount and commission IDs on a pending payout.
	SetBatch(ctx context.Context, db DBTX, payoutID uuid.UUID, amount int64, commissionIDs []uuid.UUID) error

	// FindByID returns a payout, or nil when absent.
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Payout, error)

	// Lease moves a payout into processing and bumps attempts if its state matches.
	// Returns nil when another worker holds it or it is no longer eligible.
	Lease(ctx context.Context, db DBTX, lease domain.PayoutLease) (*domain.Payout, error)

	// Complete marks a processing payout completed. Returns nil if it was not processing.
	Complete(ctx context.Context, db DBTX, c domain.PayoutCompletion) (*domain.Payout, error)

	// Fail marks a processing payout failed. Returns nil if it was not processing.
	Fail(ctx context.Context, db DBTX, f domain.PayoutFailure) (*domain.Payout, error)

	// ListReconcilable returns open, non-exhausted payouts in the given states whose last
	// activity is before staleBefore. A zero staleBefore disables the age filter.
	ListReconcilable(ctx context.Context, db DBTX, statuses []domain.PayoutStatus, staleBefore time.Time, limit int) ([]domain.Payout, error)

	// List returns payouts matching the filter, newest first, plus the total match count.
	List(ctx context.Context, db DBTX, filter domain.PayoutFilter) ([]domain.Payout, int64, error)

	// Stats aggregates payout counts and amounts by status.
	Stats(ctx context.Context, db DBTX) (*domain.PayoutStats, error)

	// InsertEvent appends an audit row.
	InsertEvent(ctx context.Context, db DBTX, event *domain.PayoutEvent) error

	// ListEvents returns a payout's audit trail, oldest first.
	ListEvents(ctx context.Context, db DBTX, payoutID uuid.UUID) ([]domain.PayoutEvent, error)
}

// OutboxRepository provides access to the event_outbox table.
type OutboxRepository interface {
	// Insert writes an outbox event (within the same transaction as the state change).
	Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error

	// FetchUnpublished returns unpublished events for the outbox poller.
	FetchUnpublished(ctx context.Context, db DBTX, limit int) ([]domain.OutboxDraft, error)

	// MarkPublished stamps publishedAt on the given events.
	MarkPublished(ctx context.Context, db DBTX, ids []int64) error
}

// Repositories bundles one implementation of every repository.
type Repositories struct {
	Tx          TxRunner
	Admins      AdminRepository
	Affiliates  AffiliateRepository
	Links       LinkRepository
	Clicks      ClickRepository
	Commissions CommissionRepository
	Payouts     PayoutRepository
	Outbox      OutboxRepository
}
