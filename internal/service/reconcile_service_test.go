package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

type recordingNotifier struct{ events []string }

func (n *recordingNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.events = append(n.events, event)
	return nil
}

func TestCheckOrderStatusIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	p := l.portfolio(t, "main", "BITVAVO", 1000)
	notifier := &recordingNotifier{}
	l.reconciler.WithNotifier(notifier)

	broken, err := l.orders.Create(ctx, limitBuy(p.ID, "1", "10"), true, true)
	require.NoError(t, err)
	healthy, err := l.orders.Create(ctx, limitBuy(p.ID, "1", "20"), true, true)
	require.NoError(t, err)
	untouched, err := l.orders.Create(ctx, limitBuy(p.ID, "1", "30"), true, true)
	require.NoError(t, err)
	pending, err := l.orders.Create(ctx, limitBuy(p.ID, "1", "40"), false, true)
	require.NoError(t, err)

	l.venue.failing[broken.ExternalID] = true
	l.venue.set(healthy.ExternalID, domain.VenueOrderStatus{
		Status: domain.OrderStatusClosed, FilledAmount: dec("1"), FillPrice: dec("20"),
	})

	orders, err := l.orders.List(ctx, domain.OrderQuery{PortfolioID: p.ID})
	require.NoError(t, err)
	res, err := l.reconciler.CheckOrderStatus(ctx, p, orders)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Checked: 3, Updated: 1, Failed: 1}, res)
	assert.Equal(t, []string{"order_filled"}, notifier.events)

	for id, want := range map[string]domain.OrderStatus{
		broken.ID:    domain.OrderStatusOpen,
		healthy.ID:   domain.OrderStatusClosed,
		untouched.ID: domain.OrderStatusOpen,
		pending.ID:   domain.OrderStatusPending,
	} {
		got, err := l.orders.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, id)
	}

	// The failed lookup is retried on the next pass.
	delete(l.venue.failing, broken.ExternalID)
	l.venue.set(broken.ExternalID, domain.VenueOrderStatus{Status: domain.OrderStatusExpired})
	res, err = l.reconciler.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Checked: 2, Updated: 1}, res)

	got, err := l.orders.Get(ctx, broken.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExpired, got.Status)

	stats := l.reconciler.Stats()
	assert.EqualValues(t, 2, stats.Passes)
	assert.EqualValues(t, 1, stats.Failed)
}

func TestReconcileRunStopsWithContext(t *testing.T) {
	l := newLedger()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.reconciler.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
