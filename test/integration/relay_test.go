//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/reflink/platform/internal/infra"
	"github.com/reflink/platform/internal/repository"
	"github.com/reflink/platform/test/integration/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	failNext int
	messages []map[string]interface{}
	keys     []string
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext > 0 {
		p.failNext--
		return errors.New("broker unavailable")
	}
	var msg map[string]interface{}
	if err := json.Unmarshal(value, &msg); err != nil {
		return err
	}
	p.messages = append(p.messages, msg)
	p.keys = append(p.keys, string(key))
	return nil
}

func TestRelay_PublishesOutboxRows(t *testing.T) {
	env := testutil.NewTestEnv(t)
	aff := env.SeedAffiliate("relay@test.com", "10")
	env.SeedLink(aff, "relay-link")
	env.ApprovedOrder("relay-link", "ORD-RL1", "600")

	pending := testutil.CountRows(t, env, `SELECT COUNT(*) FROM event_outbox WHERE "publishedAt" IS NULL`)
	require.Greater(t, pending, 0)

	pub := &recordingPublisher{failNext: 1}
	poller := infra.NewOutboxPoller(
		repository.NewOutboxSource(env.Repos.Outbox, env.Pool),
		pub,
		"affiliate.notifications",
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	n, err := poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "one affiliate's events wait behind its failed head")
	assert.Equal(t, pending, testutil.CountRows(t, env, `SELECT COUNT(*) FROM event_outbox WHERE "publishedAt" IS NULL`))

	n, err = poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pending, n)
	assert.Equal(t, 0, testutil.CountRows(t, env, `SELECT COUNT(*) FROM event_outbox WHERE "publishedAt" IS NULL`))

	n, err = poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	require.Len(t, pub.messages, pending)
	var types []string
	for i, msg := range pub.messages {
		types = append(types, msg["event_type"].(string))
		assert.Equal(t, aff.ID.String(), pub.keys[i], "partitioned by affiliate")
	}
	assert.Equal(t, []string{"affiliate.commission.created", "affiliate.commission.approved"}, types)
}
