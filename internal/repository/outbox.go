package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/infra"
)

type outboxRepo struct{}

// NewOutboxRepository returns a pgx-backed OutboxRepository.
func NewOutboxRepository() OutboxRepository {
	return &outboxRepo{}
}

// Insert writes a notification event. The event ID is unique, so a replayed insert is a no-op.
func (r *outboxRepo) Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error {
	headers := draft.Headers
	if len(headers) == 0 {
		headers = []byte(`{}`)
	}
	_, err := db.Exec(ctx, `
		INSERT INTO event_outbox
		  ("eventId", "aggregateType", "aggregateId", "eventType", "partitionKey", "headers", "payload", "occurredAt")
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT ("eventId") DO NOTHING`,
		draft.EventID, string(draft.AggregateType), draft.AggregateID, string(draft.EventType),
		draft.PartitionKey, headers, draft.Payload, draft.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox event %s: %w", draft.EventType, err)
	}
	return nil
}

// FetchUnpublished returns the oldest unpublished events in insertion order.
func (r *outboxRepo) FetchUnpublished(ctx context.Context, db DBTX, limit int) ([]domain.OutboxDraft, error) {
	rows, err := db.Query(ctx, `
		SELECT "id", "eventId", "aggregateType", "aggregateId", "eventType",
		       "partitionKey", "headers", "payload", "occurredAt"
		FROM event_outbox
		WHERE "publishedAt" IS NULL
		ORDER BY "id"
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unpublished events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OutboxDraft, error) {
		var d domain.OutboxDraft
		err := row.Scan(&d.ID, &d.EventID, &d.AggregateType, &d.AggregateID,
			&d.EventType, &d.PartitionKey, &d.Headers, &d.Payload, &d.OccurredAt)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan outbox rows: %w", err)
	}
	return events, nil
}

// MarkPublished stamps publishedAt on rows that are still unpublished.
func (r *outboxRepo) MarkPublished(ctx context.Context, db DBTX, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := db.Exec(ctx,
		`UPDATE event_outbox SET "publishedAt" = now() WHERE "id" = ANY($1) AND "publishedAt" IS NULL`, ids); err != nil {
		return fmt.Errorf("mark %d events published: %w", len(ids), err)
	}
	return nil
}

// outboxSource adapts an OutboxRepository to the relay's infra.OutboxSource.
type outboxSource struct {
	repo OutboxRepository
	db   DBTX
}

// NewOutboxSource binds repo to db for the notification relay. It works over both the
// postgres and the memory store.
func NewOutboxSource(repo OutboxRepository, db DBTX) infra.OutboxSource {
	return &outboxSource{repo: repo, db: db}
}

func (s *outboxSource) FetchUnpublished(ctx context.Context, limit int) ([]domain.OutboxDraft, error) {
	return s.repo.FetchUnpublished(ctx, s.db, limit)
}

func (s *outboxSource) MarkPublished(ctx context.Context, ids []int64) error {
	return s.repo.MarkPublished(ctx, s.db, ids)
}
