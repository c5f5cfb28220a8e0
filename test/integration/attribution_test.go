//go:build integration

package integration

import (
	"net/http"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/reflink/platform/test/integration/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type webhookResult struct {
	Success      bool       `json:"success"`
	Message      string     `json:"message"`
	CommissionID *uuid.UUID `json:"commissionId"`
	Duplicate    bool       `json:"duplicate"`
}

func TestAttribution_ClickToCommission(t *testing.T) {
	env := testutil.NewTestEnv(t)
	aff := env.SeedAffiliate("attr@test.com", "10")
	link := env.SeedLink(aff, "attr-link")

	clickID := env.Click("attr-link")

	resp := env.PostWebhook("completed", map[string]interface{}{
		"orderId":         "ORD-A1",
		"totalAmount":     500.25,
		"customerEmail":   "buyer@example.com",
		"customerName":    "Buyer",
		"products":        []map[string]interface{}{{"sku": "SKU-1", "qty": 2}},
		"shippingAddress": map[string]string{"city": "Ankara", "country": "TR"},
		"clickId":         clickID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res webhookResult
	testutil.DecodeJSON(t, resp, &res)
	assert.True(t, res.Success)
	assert.False(t, res.Duplicate)
	require.NotNil(t, res.CommissionID)

	testutil.AssertCommission(t, env, "ORD-A1", "pending", 5003)
	testutil.AssertAffiliateTotals(t, env, aff.ID, 5003, 0)

	assert.Equal(t, 1, testutil.CountRows(t, env,
		"SELECT COUNT(*) FROM clicks WHERE id = $1 AND converted AND order_id = 'ORD-A1'", clickID))
	assert.Equal(t, 1, testutil.CountRows(t, env,
		"SELECT COUNT(*) FROM links WHERE id = $1 AND click_count = 1 AND conversion_count = 1 AND total_revenue = 50025", link.ID))
	assert.Equal(t, 1, testutil.CountRows(t, env,
		"SELECT COUNT(*) FROM commissions WHERE order_id = 'ORD-A1' AND shipping_city = 'Ankara' AND products @> '[{\"sku\":\"SKU-1\"}]'"))
	assert.Equal(t, 1, testutil.CountOutboxEvents(t, env, "affiliate.commission.created"))
}

func TestAttribution_DuplicateDelivery(t *testing.T) {
	env := testutil.NewTestEnv(t)
	aff := env.SeedAffiliate("dupe@test.com", "10")
	env.SeedLink(aff, "dupe-link")
	clickID := env.Click("dupe-link")

	payload := map[string]interface{}{"orderId": "ORD-D1", "totalAmount": 100, "clickId": clickID}

	var first webhookResult
	testutil.DecodeJSON(t, env.PostWebhook("completed", payload), &first)
	var second webhookResult
	testutil.DecodeJSON(t, env.PostWebhook("completed", payload), &second)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, *first.CommissionID, *second.CommissionID)
	assert.Equal(t, 1, testutil.CountRows(t, env, "SELECT COUNT(*) FROM commissions WHERE order_id = 'ORD-D1'"))
	assert.Equal(t, 1, testutil.CountOutboxEvents(t, env, "affiliate.commission.created"))
	testutil.AssertAffiliateTotals(t, env, aff.ID, 1000, 0)
}

func TestAttribution_ConcurrentDeliveriesCreateOneCommission(t *testing.T) {
	env := testutil.NewTestEnv(t)
	aff := env.SeedAffiliate("race@test.com", "10")
	env.SeedLink(aff, "race-link")
	clickID := env.Click("race-link")

	const deliveries = 10
	statuses := make(chan int, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := env.PostWebhook("completed", map[string]interface{}{
				"orderId": "ORD-R1", "totalAmount": 200, "clickId": clickID,
			})
			resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(statuses)

	for code := range statuses {
		assert.Equal(t, http.StatusOK, code)
	}
	assert.Equal(t, 1, testutil.CountRows(t, env, "SELECT COUNT(*) FROM commissions WHERE order_id = 'ORD-R1'"))
	testutil.AssertAffiliateTotals(t, env, aff.ID, 2000, 0)
}

func TestAttribution_ShortCodeWithoutClick(t *testing.T) {
	env := testutil.NewTestEnv(t)
	aff := env.SeedAffiliate("code@test.com", "7.5")
	env.SeedLink(aff, "code-only")

	resp := env.PostWebhook("completed", map[string]interface{}{
		"orderId": "ORD-S1", "totalAmount": 80, "shortCode": "code-only",
	})
	testutil.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	testutil.AssertCommission(t, env, "ORD-S1", "pending", 600)
	assert.Equal(t, 1, testutil.CountRows(t, env, "SELECT COUNT(*) FROM commissions WHERE order_id = 'ORD-S1' AND click_id IS NULL"))
}

func TestAttribution_CancelReversesEarnings(t *testing.T) {
	env := testutil.NewTestEnv(t)
	aff := env.SeedAffiliate("cancel@test.com", "10")
	env.SeedLink(aff, "cancel-link")
	env.ApprovedOrder("cancel-link", "ORD-C1", "300")
	testutil.AssertAffiliateTotals(t, env, aff.ID, 3000, 0)

	resp := env.PostWebhook("cancelled", map[string]string{"orderId": "ORD-C1"})
	testutil.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	testutil.AssertCommission(t, env, "ORD-C1", "cancelled", 3000)
	testutil.AssertAffiliateTotals(t, env, aff.ID, 0, 0)

	// Redelivered cancel is a no-op and never reverses twice.
	resp = env.PostWebhook("cancelled", map[string]string{"orderId": "ORD-C1"})
	testutil.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	testutil.AssertAffiliateTotals(t, env, aff.ID, 0, 0)

	resp = env.PostWebhook("paid", map[string]string{"orderId": "ORD-C1"})
	testutil.AssertStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestAttribution_CancelAfterPayoutNeedsReconciliation(t *testing.T) {
	env := testutil.NewTestEnv(t)
	aff := env.SeedAffiliate("reconcile@test.com", "10")
	env.SeedLink(aff, "recon-link")
	env.ApprovedOrder("recon-link", "ORD-P1", "600")

	resp := env.POST("/auto-payments/process", map[string]string{"action": "monthly"}, env.AdminToken("admin"))
	testutil.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	testutil.AssertCommission(t, env, "ORD-P1", "paid", 6000)

	resp = env.PostWebhook("cancelled", map[string]string{"orderId": "ORD-P1"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var res webhookResult
	testutil.DecodeJSON(t, resp, &res)
	assert.Contains(t, res.Message, "manual reconciliation")

	testutil.AssertCommission(t, env, "ORD-P1", "paid", 6000)
	testutil.AssertAffiliateTotals(t, env, aff.ID, 6000, 6000)
}

func TestAttribution_Rejections(t *testing.T) {
	env := testutil.NewTestEnv(t)
	aff := env.SeedAffiliate("reject@test.com", "10")
	env.SeedLink(aff, "reject-link")

	t.Run("unsigned webhook", func(t *testing.T) {
		resp := env.POST("/webhooks/orders/completed", map[string]interface{}{
			"orderId": "ORD-X", "totalAmount": 10, "shortCode": "reject-link",
		}, "")
		testutil.AssertStatus(t, resp, http.StatusUnauthorized)
		resp.Body.Close()
	})

	t.Run("unknown click", func(t *testing.T) {
		resp := env.PostWebhook("completed", map[string]interface{}{
			"orderId": "ORD-X", "totalAmount": 10, "clickId": uuid.New(),
		})
		testutil.AssertStatus(t, resp, http.StatusBadRequest)
		resp.Body.Close()
	})

	t.Run("paid before completed", func(t *testing.T) {
		resp := env.PostWebhook("paid", map[string]string{"orderId": "ORD-NONE"})
		testutil.AssertStatus(t, resp, http.StatusBadRequest)
		resp.Body.Close()
	})

	assert.Equal(t, 0, testutil.CountRows(t, env, "SELECT COUNT(*) FROM commissions"))
}
