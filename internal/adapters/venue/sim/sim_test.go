package sim

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/traderd/internal/domain"
	"github.com/alejandrodnm/traderd/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapter_SubmitProducesAckThenFill(t *testing.T) {
	a := New(nil)
	ctx := context.Background()
	events, err := a.UserEvents(ctx)
	require.NoError(t, err)

	order := domain.Order{ClientOrderID: "c1", MarketID: "m1", Side: domain.SideYes, Price: 0.4, Qty: 10}
	require.NoError(t, a.Submit(ctx, order))

	ack := <-events
	assert.Equal(t, ports.UserEventAck, ack.Kind)
	assert.Equal(t, "c1", ack.ClientOrderID)

	fill := <-events
	assert.Equal(t, ports.UserEventFill, fill.Kind)
	assert.Equal(t, 10.0, fill.Fill.Qty)
}

func TestAdapter_ForceRejectSkipsFill(t *testing.T) {
	a := New(nil)
	ctx := context.Background()
	events, _ := a.UserEvents(ctx)

	a.ForceReject("c1", "insufficient balance")
	err := a.Submit(ctx, domain.Order{ClientOrderID: "c1", Price: 0.4, Qty: 10})
	require.Error(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, ports.UserEventReject, ev.Kind)
		assert.Equal(t, "insufficient balance", ev.Reason)
	case <-time.After(time.Second):
		t.Fatal("expected a reject event")
	}
}

func TestAdapter_HealthyTogglesFromSetHealthy(t *testing.T) {
	a := New(nil)
	assert.True(t, a.Healthy())
	a.SetHealthy(false)
	assert.False(t, a.Healthy())
}

func TestAdapter_PushBookUpdateIsObservableOnMarketEvents(t *testing.T) {
	a := New(nil)
	ctx := context.Background()
	events, err := a.MarketEvents(ctx)
	require.NoError(t, err)

	book := domain.OrderBook{Asks: []domain.BookEntry{{Price: 0.5, Size: 100}}}
	a.PushBookUpdate("m1", domain.SideYes, book)

	ev := <-events
	assert.Equal(t, ports.MarketEventBookUpdate, ev.Kind)
	assert.Equal(t, domain.MarketID("m1"), ev.MarketID)
}
