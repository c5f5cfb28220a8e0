package memory

import (
	"context"

	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/repository"
)

type outboxRepo struct {
	s *Store
}

func (r *outboxRepo) Insert(_ context.Context, db repository.DBTX, draft domain.OutboxDraft) error {
	defer r.s.lock(db)()
	for _, d := range r.s.st.outbox {
		if d.EventID == draft.EventID {
			return nil
		}
	}
	r.s.st.nextOutboxID++
	draft.ID = r.s.st.nextOutboxID
	r.s.st.outbox = append(r.s.st.outbox, draft)
	return nil
}

func (r *outboxRepo) FetchUnpublished(_ context.Context, db repository.DBTX, limit int) ([]domain.OutboxDraft, error) {
	defer r.s.lock(db)()
	var out []domain.OutboxDraft
	for _, d := range r.s.st.outbox {
		if len(out) >= limit {
			break
		}
		if !r.s.st.published[d.ID] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *outboxRepo) MarkPublished(_ context.Context, db repository.DBTX, ids []int64) error {
	defer r.s.lock(db)()
	for _, id := range ids {
		r.s.st.published[id] = true
	}
	return nil
}
