package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/reflink/platform/internal/clock"
	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/metrics"
	"github.com/reflink/platform/internal/notify"
	"github.com/reflink/platform/internal/repository"
)

// Webhook outcome labels.
const (
	OutcomeCreated   = "created"
	OutcomeDuplicate = "duplicate"
	OutcomeApplied   = "applied"
	OutcomeNoop      = "noop"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
)

// transitionRetries bounds re-reads when a conditional update loses a race.
const transitionRetries = 3

// AttributionService turns order lifecycle events into commission state changes.
type AttributionService struct {
	repos    *repository.Repositories
	notifier notify.Notifier
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewAttributionService creates an AttributionService.
func NewAttributionService(repos *repository.Repositories, notifier notify.Notifier, clk clock.Clock, m *metrics.Metrics, logger *slog.Logger) *AttributionService {
	return &AttributionService{repos: repos, notifier: notifier, clock: clk, metrics: m, logger: logger}
}

// OrderCompletedInput is a normalized order.completed event.
type OrderCompletedInput struct {
	OrderID    string
	OrderValue int64 // minor units
	// ClickID is the explicit attribution key; ShortCode is the fallback.
	ClickID         *uuid.UUID
	ShortCode       string
	CustomerEmail   string
	CustomerName    string
	Products        json.RawMessage
	ShippingCity    string
	ShippingCountry string
}

// AttributionResult reports what an order event did. Unchanged is set when the event
// matched the commission's current state.
type AttributionResult struct {
	CommissionID *uuid.UUID             `json:"commission_id,omitempty"`
	Status       domain.CommissionStatus `json:"status,omitempty"`
	Duplicate    bool                    `json:"duplicate"`
	Unchanged    bool                    `json:"unchanged,omitempty"`
	Message      string                  `json:"message"`
}

// attribution is the resolved owner of an order.
type attribution struct {
	linkID      uuid.UUID
	affiliateID uuid.UUID
	clickID     *uuid.UUID
}

// OrderCompleted creates the pending commission for an order. Re-delivery of the same
// order returns the existing commission with Duplicate set and changes nothing.
func (s *AttributionService) OrderCompleted(ctx context.Context, in OrderCompletedInput) (*AttributionResult, error) {
	res, err := s.orderCompleted(ctx, in)
	s.observe("completed", res, err)
	return res, err
}

func (s *AttributionService) orderCompleted(ctx context.Context, in OrderCompletedInput) (*AttributionResult, error) {
	if err := domain.ValidateOrderID(in.OrderID); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if in.OrderValue < 0 {
		return nil, domain.ErrValidation("totalAmount must not be negative")
	}
	if in.OrderValue > domain.MaxMinorAmount {
		return nil, domain.ErrValidation("totalAmount out of range")
	}
	if in.ClickID == nil && strings.TrimSpace(in.ShortCode) == "" {
		return nil, domain.ErrValidation("clickId or shortCode is required")
	}

	db := s.repos.Tx.DB()
	attr, err := s.resolveAttribution(ctx, db, in)
	if err != nil {
		return nil, err
	}
	aff, err := s.repos.Affiliates.FindByID(ctx, db, attr.affiliateID)
	if err != nil {
		return nil, domain.ErrInternal("find affiliate", err)
	}
	if aff == nil {
		return nil, domain.ErrNotFound("affiliate", attr.affiliateID.String())
	}

	amount, err := domain.CalculateCommission(in.OrderValue, aff.CommissionRate)
	if err != nil {
		return nil, domain.ErrValidation("commission amount out of range")
	}

	now := s.clock.Now()
	c := &domain.Commission{
		ID:               uuid.New(),
		OrderID:          in.OrderID,
		AffiliateID:      aff.ID,
		LinkID:           attr.linkID,
		ClickID:          attr.clickID,
		OrderValue:       in.OrderValue,
		CommissionRate:   aff.CommissionRate,
		CommissionAmount: amount,
		Status:           domain.CommissionPending,
		CustomerEmail:    optional(in.CustomerEmail),
		CustomerName:     optional(in.CustomerName),
		Products:         in.Products,
		ShippingCity:     optional(in.ShippingCity),
		ShippingCountry:  optional(in.ShippingCountry),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	var existing *domain.Commission
	err = s.repos.Tx.InTx(ctx, func(tx repository.DBTX) error {
		inserted, err := s.repos.Commissions.InsertIfAbsent(ctx, tx, c)
		if err != nil {
			return err
		}
		if !inserted {
			existing, err = s.repos.Commissions.FindByOrderID(ctx, tx, in.OrderID)
			return err
		}

		if c.ClickID != nil {
			converted, err := s.repos.Clicks.MarkConverted(ctx, tx, domain.ClickConversion{
				ClickID:    *c.ClickID,
				OrderID:    c.OrderID,
				OrderValue: c.OrderValue,
				Commission: c.CommissionAmount,
			})
			if err != nil {
				return err
			}
			if !converted {
				s.logger.Warn("click already converted by another order",
					"click_id", *c.ClickID, "order_id", c.OrderID)
			}
		}
		if err := s.repos.Links.AddConversion(ctx, tx, c.LinkID, c.OrderValue); err != nil {
			return err
		}
		if err := s.repos.Affiliates.AddSale(ctx, tx, c.AffiliateID, c.CommissionAmount, now); err != nil {
			return err
		}
		return s.notifier.Notify(ctx, tx, domain.NewCommissionNotification(domain.EventCommissionCreated, c, now))
	})
	if err != nil {
		return nil, domain.ErrInternal("record commission", err)
	}

	if existing != nil {
		return &AttributionResult{
			CommissionID: &existing.ID,
			Status:       existing.Status,
			Duplicate:    true,
			Message:      "order already processed",
		}, nil
	}

	s.logger.Info("commission created",
		"commission_id", c.ID,
		"order_id", c.OrderID,
		"affiliate_id", c.AffiliateID,
		"amount", c.CommissionAmount,
	)
	return &AttributionResult{CommissionID: &c.ID, Status: c.Status, Message: "commission created"}, nil
}

// resolveAttribution maps the attribution key to a link and affiliate. A known click wins
// over the short code; an unknown click with a short code falls back to the code.
func (s *AttributionService) resolveAttribution(ctx context.Context, db repository.DBTX, in OrderCompletedInput) (*attribution, error) {
	if in.ClickID != nil {
		click, err := s.repos.Clicks.FindByID(ctx, db, *in.ClickID)
		if err != nil {
			return nil, domain.ErrInternal("find click", err)
		}
		if click != nil {
			id := click.ID
			return &attribution{linkID: click.LinkID, affiliateID: click.AffiliateID, clickID: &id}, nil
		}
		// Clicks are recorded in the background and may never land.
		if strings.TrimSpace(in.ShortCode) == "" {
			return nil, domain.ErrNotFound("click", in.ClickID.String())
		}
		s.logger.Warn("click not recorded, attributing by short code",
			"click_id", *in.ClickID, "short_code", in.ShortCode, "order_id", in.OrderID)
	}

	link, err := s.repos.Links.FindByShortCode(ctx, db, in.ShortCode)
	if err != nil {
		return nil, domain.ErrInternal("find link", err)
	}
	if link == nil {
		return nil, domain.ErrNotFound("link", in.ShortCode)
	}
	return &attribution{linkID: link.ID, affiliateID: link.OwnerID}, nil
}

// OrderPaid approves the pending commission for an order.
func (s *AttributionService) OrderPaid(ctx context.Context, orderID string) (*AttributionResult, error) {
	res, err := s.orderPaid(ctx, orderID)
	s.observe("paid", res, err)
	return res, err
}

func (s *AttributionService) orderPaid(ctx context.Context, orderID string) (*AttributionResult, error) {
	if err := domain.ValidateOrderID(orderID); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	for attempt := 0; attempt < transitionRetries; attempt++ {
		now := s.clock.Now()
		var updated *domain.Commission
		err := s.repos.Tx.InTx(ctx, func(tx repository.DBTX) error {
			var err error
			updated, err = s.repos.Commissions.Transition(ctx, tx, repository.CommissionTransition{
				OrderID: orderID,
				From:    []domain.CommissionStatus{domain.CommissionPending},
				To:      domain.CommissionApproved,
				At:      now,
			})
			if err != nil || updated == nil {
				return err
			}
			return s.notifier.Notify(ctx, tx, domain.NewCommissionNotification(domain.EventCommissionApproved, updated, now))
		})
		if err != nil {
			return nil, domain.ErrInternal("approve commission", err)
		}
		if updated != nil {
			s.logger.Info("commission approved", "commission_id", updated.ID, "order_id", orderID)
			return appliedResult(updated, "commission approved"), nil
		}

		current, err := s.repos.Commissions.FindByOrderID(ctx, s.repos.Tx.DB(), orderID)
		if err != nil {
			return nil, domain.ErrInternal("find commission", err)
		}
		if current == nil {
			return nil, domain.ErrNotFound("commission for order", orderID)
		}
		switch current.Status {
		case domain.CommissionApproved, domain.CommissionPaid:
			return noopResult(current, "commission already approved"), nil
		case domain.CommissionCancelled:
			return nil, domain.ErrIllegalTransition("commission", string(current.Status), string(domain.CommissionApproved))
		}
		// Still pending: the row changed between the update and the read.
	}
	return nil, domain.ErrInternal("approve commission", fmt.Errorf("order %s kept changing", orderID))
}

// OrderCancelled cancels an order's commission unless it is paid or reserved by a payout.
func (s *AttributionService) OrderCancelled(ctx context.Context, orderID string) (*AttributionResult, error) {
	res, err := s.orderCancelled(ctx, orderID)
	s.observe("cancelled", res, err)
	return res, err
}

func (s *AttributionService) orderCancelled(ctx context.Context, orderID string) (*AttributionResult, error) {
	if err := domain.ValidateOrderID(orderID); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	for attempt := 0; attempt < transitionRetries; attempt++ {
		now := s.clock.Now()
		var updated *domain.Commission
		err := s.repos.Tx.InTx(ctx, func(tx repository.DBTX) error {
			var err error
			updated, err = s.repos.Commissions.Transition(ctx, tx, repository.CommissionTransition{
				OrderID:   orderID,
				From:      []domain.CommissionStatus{domain.CommissionPending, domain.CommissionApproved},
				To:        domain.CommissionCancelled,
				Unclaimed: true,
				At:        now,
			})
			if err != nil || updated == nil {
				return err
			}
			if err := s.repos.Affiliates.ReverseSale(ctx, tx, updated.AffiliateID, updated.CommissionAmount, now); err != nil {
				return err
			}
			return s.notifier.Notify(ctx, tx, domain.NewCommissionNotification(domain.EventCommissionCancelled, updated, now))
		})
		if err != nil {
			return nil, domain.ErrInternal("cancel commission", err)
		}
		if updated != nil {
			s.logger.Info("commission cancelled", "commission_id", updated.ID, "order_id", orderID)
			return appliedResult(updated, "commission cancelled"), nil
		}

		current, err := s.repos.Commissions.FindByOrderID(ctx, s.repos.Tx.DB(), orderID)
		if err != nil {
			return nil, domain.ErrInternal("find commission", err)
		}
		if current == nil {
			return nil, domain.ErrNotFound("commission for order", orderID)
		}
		switch {
		case current.Status == domain.CommissionCancelled:
			return noopResult(current, "commission already cancelled"), nil
		case current.Status == domain.CommissionPaid:
			return nil, domain.ErrReconciliationRequired(orderID)
		case current.Status == domain.CommissionApproved && current.Claimed():
			return nil, domain.ErrIllegalTransition("commission",
				fmt.Sprintf("approved (claimed by payout %s)", current.PayoutID), string(domain.CommissionCancelled))
		}
	}
	return nil, domain.ErrInternal("cancel commission", fmt.Errorf("order %s kept changing", orderID))
}

// ListCommissions returns an affiliate's commissions, newest first.
func (s *AttributionService) ListCommissions(ctx context.Context, affiliateID uuid.UUID, limit, offset int) ([]domain.Commission, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	list, err := s.repos.Commissions.ListByAffiliate(ctx, s.repos.Tx.DB(), affiliateID, limit, offset)
	if err != nil {
		return nil, domain.ErrInternal("list commissions", err)
	}
	if list == nil {
		list = []domain.Commission{}
	}
	return list, nil
}

func (s *AttributionService) observe(event string, res *AttributionResult, err error) {
	outcome := OutcomeApplied
	switch {
	case err != nil && domain.IsBusinessRejection(err):
		outcome = OutcomeRejected
	case err != nil:
		outcome = OutcomeError
		s.logger.Error("order event failed", "event", event, "error", err)
	case res.Duplicate:
		outcome = OutcomeDuplicate
	case event == "completed":
		outcome = OutcomeCreated
	case res.Unchanged:
		outcome = OutcomeNoop
	}
	s.metrics.Webhook(event, outcome)
}

func appliedResult(c *domain.Commission, msg string) *AttributionResult {
	id := c.ID
	return &AttributionResult{CommissionID: &id, Status: c.Status, Message: msg}
}

func noopResult(c *domain.Commission, msg string) *AttributionResult {
	id := c.ID
	return &AttributionResult{CommissionID: &id, Status: c.Status, Unchanged: true, Message: msg}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
