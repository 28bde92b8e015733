package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/traderd/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	mu        sync.Mutex
	rawEvents int
	orders    int
}

func (c *countingStore) Migrate(ctx context.Context) error { return nil }
func (c *countingStore) InsertRun(ctx context.Context, run domain.Run) error { return nil }
func (c *countingStore) CloseRun(ctx context.Context, runID string, closedAt int64) error { return nil }
func (c *countingStore) InsertRawEvent(ctx context.Context, runID, source, topic, payloadJSON string) error {
	c.mu.Lock()
	c.rawEvents++
	c.mu.Unlock()
	return nil
}
func (c *countingStore) InsertSnapshot(ctx context.Context, snap domain.Snapshot) error { return nil }
func (c *countingStore) InsertIntent(ctx context.Context, intent domain.Intent) error   { return nil }
func (c *countingStore) InsertApproval(ctx context.Context, approval domain.Approval) error {
	return nil
}
func (c *countingStore) InsertOrder(ctx context.Context, order domain.Order) error {
	c.mu.Lock()
	c.orders++
	c.mu.Unlock()
	return nil
}
func (c *countingStore) UpdateOrderStatus(ctx context.Context, order domain.Order) error { return nil }
func (c *countingStore) InsertFill(ctx context.Context, fill domain.Fill) error          { return nil }
func (c *countingStore) InsertLedgerEntry(ctx context.Context, entry domain.PnLLedgerEntry) error {
	return nil
}
func (c *countingStore) InsertIncident(ctx context.Context, incident domain.Incident) error {
	return nil
}
func (c *countingStore) InsertPortfolioSnapshot(ctx context.Context, runID string, ts int64, totalEquityUSD, openExposureUSD float64) error {
	return nil
}
func (c *countingStore) InsertPluginSignal(ctx context.Context, runID, strategy, kind, payloadJSON string, ts int64) error {
	return nil
}
func (c *countingStore) InsertFeatureSchema(ctx context.Context, version int, description string) error {
	return nil
}
func (c *countingStore) Close() error { return nil }

func TestWriter_LogOrder_IsPersisted(t *testing.T) {
	store := &countingStore{}
	w := NewWriter(store, "run-1")

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	w.LogOrder(domain.Order{ClientOrderID: "c1"})

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.orders == 1
	}, time.Second, time.Millisecond)

	cancel()
	w.Wait(time.Second)
}

func TestWriter_LogRawEvent_DropsUnderBackpressureWithoutBlocking(t *testing.T) {
	store := &countingStore{}
	w := NewWriter(store, "run-1")
	// No se arranca Run: la cola de raw_events se llena y debe descartar en
	// vez de bloquear el caller.
	for i := 0; i < rawEventQueueSize+10; i++ {
		w.LogRawEvent("venue", "book_update", "{}")
	}
	assert.Greater(t, w.Dropped(), int64(0))
}
