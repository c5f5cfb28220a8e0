//go:build integration

package testutil

import (
	"context"
	"strings"
	"time"
)

// Child tables first so a failed CASCADE never leaves orphans behind.
var truncateOrder = []string{
	"payout_events",
	"commissions",
	"payouts",
	"clicks",
	"links",
	"affiliates",
	"admin_users",
	"event_outbox",
}

// CleanAll empties every table in one statement.
func (env *TestEnv) CleanAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := env.Pool.Exec(ctx, "TRUNCATE TABLE "+strings.Join(truncateOrder, ", ")+" RESTART IDENTITY CASCADE"); err != nil {
		env.t.Logf("clean tables: %v", err)
	}
}
