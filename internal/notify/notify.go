// Package notify queues affiliate notifications in the transactional outbox.
package notify

import (
	"context"
	"fmt"

	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/repository"
)

// Notifier is the "send notification" capability. Notify must be called with the same
// handle as the state change it reports, so the notification commits or rolls back with it.
type Notifier interface {
	Notify(ctx context.Context, db repository.DBTX, n domain.Notification) error
}

// OutboxNotifier writes notifications to event_outbox; cmd/notification-relay ships them.
type OutboxNotifier struct {
	outbox repository.OutboxRepository
}

// NewOutboxNotifier creates an OutboxNotifier.
func NewOutboxNotifier(outbox repository.OutboxRepository) *OutboxNotifier {
	return &OutboxNotifier{outbox: outbox}
}

func (n *OutboxNotifier) Notify(ctx context.Context, db repository.DBTX, notification domain.Notification) error {
	if err := n.outbox.Insert(ctx, db, domain.NewNotificationEvent(notification)); err != nil {
		return fmt.Errorf("queue %s notification: %w", notification.Kind, err)
	}
	return nil
}
