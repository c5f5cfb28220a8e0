package service

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/reflink/platform/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderCompleted_CreatesPendingCommission(t *testing.T) {
	f := newFixture(t)
	aff := f.newAffiliate(t, affiliateOpts{rate: "10"})
	link := f.newLink(t, aff)
	clickID := f.newClick(t, link)

	res, err := f.attribution.OrderCompleted(f.ctx, OrderCompletedInput{
		OrderID:       "order-500",
		OrderValue:    50000,
		ClickID:       &clickID,
		CustomerEmail: "buyer@example.com",
		ShippingCity:  "Istanbul",
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	require.NotNil(t, res.CommissionID)

	c := f.commission(t, "order-500")
	assert.Equal(t, *res.CommissionID, c.ID)
	assert.Equal(t, domain.CommissionPending, c.Status)
	assert.Equal(t, int64(50000), c.OrderValue)
	assert.Equal(t, int64(5000), c.CommissionAmount, "10 percent of 500.00 is 50.00")
	assert.True(t, c.CommissionRate.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, link.ID, c.LinkID)
	require.NotNil(t, c.ClickID)
	assert.Equal(t, clickID, *c.ClickID)
	require.NotNil(t, c.ShippingCity)
	assert.Equal(t, "Istanbul", *c.ShippingCity)

	click, err := f.repos.Clicks.FindByID(f.ctx, f.repos.Tx.DB(), clickID)
	require.NoError(t, err)
	assert.True(t, click.Converted)
	require.NotNil(t, click.OrderID)
	assert.Equal(t, "order-500", *click.OrderID)
	require.NotNil(t, click.CommissionAtConversion)
	assert.Equal(t, int64(5000), *click.CommissionAtConversion)

	l, err := f.tracking.GetLink(f.ctx, link.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, int64(1), l.ConversionCount)
	assert.Equal(t, int64(50000), l.TotalRevenue)

	a := f.affiliate(t, aff.ID)
	assert.Equal(t, int64(1), a.TotalSales)
	assert.Equal(t, int64(5000), a.TotalEarnings)

	assert.Equal(t, []domain.EventType{domain.EventCommissionCreated}, f.notifications(t))
}

func TestOrderCompleted_DuplicateDeliveryIsNoop(t *testing.T) {
	f := newFixture(t)
	aff := f.newAffiliate(t, affiliateOpts{})
	link := f.newLink(t, aff)

	first := f.completeOrder(t, link, "order-1", 10000)
	second := f.completeOrder(t, link, "order-1", 99999)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, *first.CommissionID, *second.CommissionID)

	c := f.commission(t, "order-1")
	assert.Equal(t, int64(10000), c.OrderValue, "second delivery must not overwrite")

	l, err := f.tracking.GetLink(f.ctx, link.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, int64(1), l.ConversionCount)
	assert.Equal(t, int64(1), f.affiliate(t, aff.ID).TotalSales)
	assert.Len(t, f.notifications(t), 1)
}

func TestOrderCompleted_ConcurrentDuplicatesCreateOneCommission(t *testing.T) {
	f := newFixture(t)
	aff := f.newAffiliate(t, affiliateOpts{})
	link := f.newLink(t, aff)
	clickID := f.newClick(t, link)

	const deliveries = 25
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[uuid.UUID]bool{}
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.attribution.OrderCompleted(f.ctx, OrderCompletedInput{
				OrderID:    "order-race",
				OrderValue: 20000,
				ClickID:    &clickID,
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[*res.CommissionID] = true
			if !res.Duplicate {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)

	list, err := f.attribution.ListCommissions(f.ctx, aff.ID, 100, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, int64(1), f.affiliate(t, aff.ID).TotalSales)
	assert.Equal(t, int64(2000), f.affiliate(t, aff.ID).TotalEarnings)
}

func TestOrderCompleted_RateIsSnapshotted(t *testing.T) {
	f := newFixture(t)
	aff := f.newAffiliate(t, affiliateOpts{rate: "10"})
	link := f.newLink(t, aff)

	f.completeOrder(t, link, "order-before", 10000)

	_, err := f.affiliates.UpdateCommissionRate(f.ctx, aff.ID, decimal.NewFromInt(25))
	require.NoError(t, err)
	f.completeOrder(t, link, "order-after", 10000)

	before := f.commission(t, "order-before")
	after := f.commission(t, "order-after")
	assert.Equal(t, int64(1000), before.CommissionAmount)
	assert.True(t, before.CommissionRate.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, int64(2500), after.CommissionAmount)
}

func TestOrderCompleted_AttributionKey(t *testing.T) {
	f := newFixture(t)
	owner := f.newAffiliate(t, affiliateOpts{})
	other := f.newAffiliate(t, affiliateOpts{})
	ownerLink := f.newLink(t, owner)
	otherLink := f.newLink(t, other)
	clickID := f.newClick(t, ownerLink)

	t.Run("click wins over short code", func(t *testing.T) {
		_, err := f.attribution.OrderCompleted(f.ctx, OrderCompletedInput{
			OrderID:    "order-both",
			OrderValue: 1000,
			ClickID:    &clickID,
			ShortCode:  otherLink.ShortCode,
		})
		require.NoError(t, err)
		assert.Equal(t, owner.ID, f.commission(t, "order-both").AffiliateID)
	})

	t.Run("short code fallback", func(t *testing.T) {
		_, err := f.attribution.OrderCompleted(f.ctx, OrderCompletedInput{
			OrderID:    "order-code",
			OrderValue: 1000,
			ShortCode:  otherLink.ShortCode,
		})
		require.NoError(t, err)
		c := f.commission(t, "order-code")
		assert.Equal(t, other.ID, c.AffiliateID)
		assert.Nil(t, c.ClickID)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := f.attribution.OrderCompleted(f.ctx, OrderCompletedInput{OrderID: "order-none", OrderValue: 1000})
		requireCode(t, err, domain.CodeValidation)
	})

	t.Run("unknown click", func(t *testing.T) {
		unknown := uuid.New()
		_, err := f.attribution.OrderCompleted(f.ctx, OrderCompletedInput{OrderID: "order-x", OrderValue: 1000, ClickID: &unknown})
		requireCode(t, err, domain.CodeNotFound)
	})

	t.Run("unknown click falls back to short code", func(t *testing.T) {
		unknown := uuid.New()
		res, err := f.attribution.OrderCompleted(f.ctx, OrderCompletedInput{
			OrderID:    "order-lost-click",
			OrderValue: 1000,
			ClickID:    &unknown,
			ShortCode:  otherLink.ShortCode,
		})
		require.NoError(t, err)
		assert.False(t, res.Duplicate)
		c := f.commission(t, "order-lost-click")
		assert.Equal(t, other.ID, c.AffiliateID)
		assert.Equal(t, otherLink.ID, c.LinkID)
		assert.Nil(t, c.ClickID, "the unrecorded click is not referenced")
	})

	t.Run("unknown short code", func(t *testing.T) {
		_, err := f.attribution.OrderCompleted(f.ctx, OrderCompletedInput{OrderID: "order-y", OrderValue: 1000, ShortCode: "nope-nope"})
		requireCode(t, err, domain.CodeNotFound)
	})
}

func TestOrderCompleted_Validation(t *testing.T) {
	f := newFixture(t)
	link := f.newLink(t, f.newAffiliate(t, affiliateOpts{}))

	tests := []struct {
		name string
		in   OrderCompletedInput
	}{
		{"empty order id", OrderCompletedInput{OrderValue: 100, ShortCode: link.ShortCode}},
		{"negative amount", OrderCompletedInput{OrderID: "o-1", OrderValue: -1, ShortCode: link.ShortCode}},
		{"amount past column limit", OrderCompletedInput{OrderID: "o-2", OrderValue: domain.MaxMinorAmount + 1, ShortCode: link.ShortCode}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.attribution.OrderCompleted(f.ctx, tt.in)
			requireCode(t, err, domain.CodeValidation)
			assert.True(t, domain.IsBusinessRejection(err))
		})
	}
}

func TestOrderPaid(t *testing.T) {
	f := newFixture(t)
	link := f.newLink(t, f.newAffiliate(t, affiliateOpts{}))

	t.Run("unknown order is not found and creates nothing", func(t *testing.T) {
		_, err := f.attribution.OrderPaid(f.ctx, "ghost-order")
		requireCode(t, err, domain.CodeNotFound)

		c, err := f.repos.Commissions.FindByOrderID(f.ctx, f.repos.Tx.DB(), "ghost-order")
		require.NoError(t, err)
		assert.Nil(t, c)
	})

	t.Run("pending becomes approved", func(t *testing.T) {
		f.completeOrder(t, link, "order-paid", 50000)
		res, err := f.attribution.OrderPaid(f.ctx, "order-paid")
		require.NoError(t, err)
		assert.Equal(t, domain.CommissionApproved, res.Status)
		assert.False(t, res.Unchanged)
		assert.Equal(t, domain.CommissionApproved, f.commission(t, "order-paid").Status)
	})

	t.Run("approved again is a no-op", func(t *testing.T) {
		res, err := f.attribution.OrderPaid(f.ctx, "order-paid")
		require.NoError(t, err)
		assert.True(t, res.Unchanged)
		assert.Equal(t, domain.CommissionApproved, res.Status)
	})

	t.Run("cancelled is not resurrected", func(t *testing.T) {
		f.completeOrder(t, link, "order-cancelled", 50000)
		_, err := f.attribution.OrderCancelled(f.ctx, "order-cancelled")
		require.NoError(t, err)

		_, err = f.attribution.OrderPaid(f.ctx, "order-cancelled")
		requireCode(t, err, domain.CodeIllegalTransition)
		assert.Equal(t, domain.CommissionCancelled, f.commission(t, "order-cancelled").Status)
	})
}

func TestOrderCancelled(t *testing.T) {
	f := newFixture(t)
	aff := f.newAffiliate(t, affiliateOpts{iban: true})
	link := f.newLink(t, aff)

	t.Run("unknown order", func(t *testing.T) {
		_, err := f.attribution.OrderCancelled(f.ctx, "ghost-order")
		requireCode(t, err, domain.CodeNotFound)
	})

	t.Run("pending is cancelled and earnings reversed", func(t *testing.T) {
		f.completeOrder(t, link, "order-c1", 30000)
		require.Equal(t, int64(3000), f.affiliate(t, aff.ID).TotalEarnings)

		res, err := f.attribution.OrderCancelled(f.ctx, "order-c1")
		require.NoError(t, err)
		assert.Equal(t, domain.CommissionCancelled, res.Status)
		assert.Equal(t, int64(0), f.affiliate(t, aff.ID).TotalEarnings)
		assert.Equal(t, int64(0), f.affiliate(t, aff.ID).TotalSales)
	})

	t.Run("cancel twice is a no-op", func(t *testing.T) {
		res, err := f.attribution.OrderCancelled(f.ctx, "order-c1")
		require.NoError(t, err)
		assert.True(t, res.Unchanged)
	})

	t.Run("approved and unclaimed is cancelled", func(t *testing.T) {
		f.approveOrder(t, link, "order-c2", 30000)
		_, err := f.attribution.OrderCancelled(f.ctx, "order-c2")
		require.NoError(t, err)
		assert.Equal(t, domain.CommissionCancelled, f.commission(t, "order-c2").Status)
	})
}

func TestOrderCancelled_PaidRequiresReconciliation(t *testing.T) {
	f := newFixture(t)
	aff := f.newAffiliate(t, affiliateOpts{rate: "10", iban: true})
	link := f.newLink(t, aff)

	f.completeOrder(t, link, "order-500", 50000)
	res, err := f.attribution.OrderPaid(f.ctx, "order-500")
	require.NoError(t, err)
	assert.Equal(t, domain.CommissionApproved, res.Status)

	summary, err := f.payouts.Run(f.ctx, ActionMonthly)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Completed)
	require.Equal(t, domain.CommissionPaid, f.commission(t, "order-500").Status)

	_, err = f.attribution.OrderCancelled(f.ctx, "order-500")
	requireCode(t, err, domain.CodeReconciliationRequired)
	assert.True(t, domain.IsBusinessRejection(err))
	assert.Equal(t, domain.CommissionPaid, f.commission(t, "order-500").Status)
}

func TestOrderCancelled_ClaimedCommissionIsRejected(t *testing.T) {
	f := newFixture(t)
	aff := f.newAffiliate(t, affiliateOpts{iban: true})
	link := f.newLink(t, aff)
	f.approveOrder(t, link, "order-claimed", 60000)

	f.bank.FailNext(errors.New("bank offline"))
	summary, err := f.payouts.Run(f.ctx, ActionMonthly)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)

	c := f.commission(t, "order-claimed")
	require.Equal(t, domain.CommissionApproved, c.Status)
	require.True(t, c.Claimed())

	_, err = f.attribution.OrderCancelled(f.ctx, "order-claimed")
	requireCode(t, err, domain.CodeIllegalTransition)
	assert.Equal(t, domain.CommissionApproved, f.commission(t, "order-claimed").Status)
}

func TestOrderEvents_ConcurrentDifferentOrders(t *testing.T) {
	f := newFixture(t)
	aff := f.newAffiliate(t, affiliateOpts{})
	link := f.newLink(t, aff)

	const orders = 30
	var wg sync.WaitGroup
	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			orderID := uuid.NewString()
			_, err := f.attribution.OrderCompleted(f.ctx, OrderCompletedInput{OrderID: orderID, OrderValue: 1000, ShortCode: link.ShortCode})
			if !assert.NoError(t, err) {
				return
			}
			_, err = f.attribution.OrderPaid(f.ctx, orderID)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	a := f.affiliate(t, aff.ID)
	assert.Equal(t, int64(orders), a.TotalSales)
	assert.Equal(t, int64(orders*100), a.TotalEarnings)

	balances, err := f.repos.Commissions.UnclaimedApprovedBalances(f.ctx, f.repos.Tx.DB())
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, orders, balances[0].Count)
}
