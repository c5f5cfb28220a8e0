package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reflink/platform/internal/clock"
	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/metrics"
	"github.com/reflink/platform/internal/repository"
)

const (
	shortCodeLength   = 8
	shortCodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	shortCodeRetries  = 5

	clickRecordTimeout  = 5 * time.Second
	clickCounterRetries = 3
)

// LinkCache is a read-through cache in front of link lookups.
type LinkCache interface {
	Get(ctx context.Context, shortCode string) (*domain.ResolvedLink, error)
	Set(ctx context.Context, shortCode string, link domain.ResolvedLink) error
	Invalidate(ctx context.Context, shortCode string) error
}

// TrackingService resolves short links and records clicks.
type TrackingService struct {
	repos   *repository.Repositories
	cache   LinkCache
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger

	inflight sync.WaitGroup
}

// NewTrackingService creates a TrackingService. cache may be nil.
func NewTrackingService(repos *repository.Repositories, cache LinkCache, clk clock.Clock, m *metrics.Metrics, logger *slog.Logger) *TrackingService {
	return &TrackingService{repos: repos, cache: cache, clock: clk, metrics: m, logger: logger}
}

// Resolve returns the destination for a short code. Inactive, expired and unknown
// links are all NotFound.
func (s *TrackingService) Resolve(ctx context.Context, shortCode string) (*domain.ResolvedLink, error) {
	if domain.ValidateShortCode(shortCode) != nil {
		return nil, domain.ErrNotFound("link", shortCode)
	}
	now := s.clock.Now()

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, shortCode)
		switch {
		case err != nil:
			s.metrics.LinkCache(metrics.ResultError)
			s.logger.Warn("link cache get failed", "short_code", shortCode, "error", err)
		case cached != nil:
			if cached.ExpiresAt == nil || now.Before(*cached.ExpiresAt) {
				s.metrics.LinkCache(metrics.CacheHit)
				return cached, nil
			}
		default:
			s.metrics.LinkCache(metrics.CacheMiss)
		}
	}

	link, err := s.repos.Links.FindByShortCode(ctx, s.repos.Tx.DB(), shortCode)
	if err != nil {
		return nil, domain.ErrInternal("find link", err)
	}
	if link == nil || !link.Resolvable(now) {
		return nil, domain.ErrNotFound("link", shortCode)
	}

	resolved := &domain.ResolvedLink{
		LinkID:         link.ID,
		AffiliateID:    link.OwnerID,
		DestinationURL: link.DestinationURL,
		ExpiresAt:      link.ExpiresAt,
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, shortCode, *resolved); err != nil {
			s.logger.Warn("link cache set failed", "short_code", shortCode, "error", err)
		}
	}
	return resolved, nil
}

// ClickInput is one click to record. ID is assigned before the redirect so it can be
// carried to the store as the attribution key.
type ClickInput struct {
	ID          uuid.UUID
	LinkID      uuid.UUID
	AffiliateID uuid.UUID
	Meta        domain.ClickMeta
}

// RecordClick commits the click, then bumps the link and affiliate click counters. Each
// counter is applied and retried on its own; a counter that keeps failing is logged and
// counted without losing the click.
func (s *TrackingService) RecordClick(ctx context.Context, in ClickInput) (uuid.UUID, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	meta, err := json.Marshal(in.Meta)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode click meta: %w", err)
	}
	now := s.clock.Now()
	click := &domain.Click{
		ID:          in.ID,
		LinkID:      in.LinkID,
		AffiliateID: in.AffiliateID,
		Timestamp:   now,
		ClientMeta:  meta,
	}

	if err := s.repos.Clicks.Insert(ctx, s.repos.Tx.DB(), click); err != nil {
		return uuid.Nil, fmt.Errorf("record click: %w", err)
	}

	s.bumpCounter(ctx, metrics.CounterLink, in.LinkID, func(db repository.DBTX) error {
		return s.repos.Links.IncrementClicks(ctx, db, in.LinkID, now)
	})
	s.bumpCounter(ctx, metrics.CounterAffiliate, in.AffiliateID, func(db repository.DBTX) error {
		return s.repos.Affiliates.IncrementClicks(ctx, db, in.AffiliateID, now)
	})
	return click.ID, nil
}

func (s *TrackingService) bumpCounter(ctx context.Context, counter string, id uuid.UUID, inc func(repository.DBTX) error) {
	var err error
	for attempt := 0; attempt < clickCounterRetries; attempt++ {
		if err = inc(s.repos.Tx.DB()); err == nil {
			return
		}
		if ctx.Err() != nil {
			break
		}
	}
	s.metrics.ClickCounterFailed(counter)
	s.logger.Warn("click counter update failed", "counter", counter, "id", id, "error", err)
}

// RecordClickAsync records the click in the background and returns its ID immediately.
// Failures are logged and counted, never returned to the visitor.
func (s *TrackingService) RecordClickAsync(link domain.ResolvedLink, meta domain.ClickMeta) uuid.UUID {
	in := ClickInput{ID: uuid.New(), LinkID: link.LinkID, AffiliateID: link.AffiliateID, Meta: meta}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), clickRecordTimeout)
		defer cancel()

		_, err := s.RecordClick(ctx, in)
		s.metrics.ClickRecorded(err)
		if err != nil {
			s.logger.Error("click recording failed", "click_id", in.ID, "link_id", in.LinkID, "error", err)
		}
	}()
	return in.ID
}

// Wait blocks until background click recordings finish or ctx ends.
func (s *TrackingService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrackedDestination appends the click ID to the destination under param.
func TrackedDestination(destination, param string, clickID uuid.UUID) string {
	u, err := url.Parse(destination)
	if err != nil || param == "" {
		return destination
	}
	q := u.Query()
	q.Set(param, clickID.String())
	u.RawQuery = q.Encode()
	return u.String()
}

// CreateLinkInput holds link creation fields.
type CreateLinkInput struct {
	AffiliateID    uuid.UUID  `json:"affiliate_id"`
	DestinationURL string     `json:"destination_url"`
	ShortCode      string     `json:"short_code,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// CreateLink registers a link for an affiliate. Without a custom code a random one is
// generated, retrying on collision.
func (s *TrackingService) CreateLink(ctx context.Context, in CreateLinkInput) (*domain.Link, error) {
	if err := domain.ValidateDestinationURL(in.DestinationURL); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if in.ShortCode != "" {
		if err := domain.ValidateShortCode(in.ShortCode); err != nil {
			return nil, domain.ErrValidation(err.Error())
		}
	}

	db := s.repos.Tx.DB()
	aff, err := s.repos.Affiliates.FindByID(ctx, db, in.AffiliateID)
	if err != nil {
		return nil, domain.ErrInternal("find affiliate", err)
	}
	if aff == nil {
		return nil, domain.ErrNotFound("affiliate", in.AffiliateID.String())
	}

	now := s.clock.Now()
	link := &domain.Link{
		ID:             uuid.New(),
		DestinationURL: in.DestinationURL,
		OwnerID:        aff.ID,
		Status:         domain.LinkActive,
		ExpiresAt:      in.ExpiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for attempt := 0; attempt < shortCodeRetries; attempt++ {
		link.ShortCode = in.ShortCode
		if link.ShortCode == "" {
			if link.ShortCode, err = generateShortCode(shortCodeLength); err != nil {
				return nil, domain.ErrInternal("generate short code", err)
			}
		}

		err = s.repos.Links.Create(ctx, db, link)
		if err == nil {
			s.logger.Info("link created", "link_id", link.ID, "short_code", link.ShortCode, "affiliate_id", aff.ID)
			return link, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, domain.ErrInternal("create link", err)
		}
		if in.ShortCode != "" {
			return nil, domain.ErrConflict(fmt.Sprintf("short code %q is taken", in.ShortCode))
		}
	}
	return nil, domain.ErrInternal("create link", fmt.Errorf("no free short code after %d attempts", shortCodeRetries))
}

// GetLink returns a link with its counters.
func (s *TrackingService) GetLink(ctx context.Context, shortCode string) (*domain.Link, error) {
	link, err := s.repos.Links.FindByShortCode(ctx, s.repos.Tx.DB(), shortCode)
	if err != nil {
		return nil, domain.ErrInternal("find link", err)
	}
	if link == nil {
		return nil, domain.ErrNotFound("link", shortCode)
	}
	return link, nil
}

// SetLinkStatus activates or deactivates a link and drops it from the cache.
func (s *TrackingService) SetLinkStatus(ctx context.Context, shortCode string, status domain.LinkStatus) (*domain.Link, error) {
	switch status {
	case domain.LinkActive, domain.LinkInactive, domain.LinkExpired:
	default:
		return nil, domain.ErrValidation(fmt.Sprintf("invalid link status %q", status))
	}
	link, err := s.GetLink(ctx, shortCode)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if err := s.repos.Links.SetStatus(ctx, s.repos.Tx.DB(), link.ID, status, now); err != nil {
		return nil, domain.ErrInternal("set link status", err)
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, shortCode); err != nil {
			s.logger.Warn("link cache invalidate failed", "short_code", shortCode, "error", err)
		}
	}
	link.Status = status
	link.UpdatedAt = now
	s.logger.Info("link status changed", "link_id", link.ID, "status", status)
	return link, nil
}

func generateShortCode(n int) (string, error) {
	max := big.NewInt(int64(len(shortCodeAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = shortCodeAlphabet[idx.Int64()]
	}
	return string(b), nil
}
