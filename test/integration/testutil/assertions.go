//go:build integration

package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const queryTimeout = 5 * time.Second

// DecodeJSON decodes the response body into dst and closes it.
func DecodeJSON(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func AssertStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	assert.Equal(t, want, resp.StatusCode, "%s %s", resp.Request.Method, resp.Request.URL.Path)
}

// AssertErrorCode consumes the body and checks the AppError code in it.
func AssertErrorCode(t *testing.T, resp *http.Response, want string) {
	t.Helper()
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	DecodeJSON(t, resp, &body)
	assert.Equal(t, want, body.Code, body.Message)
}

func (env *TestEnv) queryRow(t *testing.T, query string, args []interface{}, dst ...interface{}) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	require.NoError(t, env.Pool.QueryRow(ctx, query, args...).Scan(dst...), query)
}

// AssertCommission checks the stored status and minor-unit amount of an order's commission.
func AssertCommission(t *testing.T, env *TestEnv, orderID, status string, amount int64) {
	t.Helper()
	var gotStatus string
	var gotAmount int64
	env.queryRow(t, "SELECT status, commission_amount::bigint FROM commissions WHERE order_id = $1",
		[]interface{}{orderID}, &gotStatus, &gotAmount)
	assert.Equal(t, status, gotStatus, "commission %s status", orderID)
	assert.Equal(t, amount, gotAmount, "commission %s amount", orderID)
}

// AssertAffiliateTotals checks the running earnings and paid totals of an affiliate.
func AssertAffiliateTotals(t *testing.T, env *TestEnv, affiliateID uuid.UUID, earnings, paid int64) {
	t.Helper()
	var gotEarnings, gotPaid int64
	env.queryRow(t, "SELECT total_earnings::bigint, total_paid::bigint FROM affiliates WHERE id = $1",
		[]interface{}{affiliateID}, &gotEarnings, &gotPaid)
	assert.Equal(t, earnings, gotEarnings, "total_earnings")
	assert.Equal(t, paid, gotPaid, "total_paid")
}

func CountRows(t *testing.T, env *TestEnv, query string, args ...interface{}) int {
	t.Helper()
	var n int
	env.queryRow(t, query, args, &n)
	return n
}

func CountOutboxEvents(t *testing.T, env *TestEnv, eventType string) int {
	t.Helper()
	return CountRows(t, env, `SELECT COUNT(*) FROM event_outbox WHERE "eventType" = $1`, eventType)
}
