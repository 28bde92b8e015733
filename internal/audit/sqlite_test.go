package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/traderd/internal/audit"
	"github.com/alejandrodnm/traderd/internal/domain"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *audit.Store {
	t.Helper()
	store, err := audit.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_InsertRunAndClose(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	run := domain.NewRun("abc123", "cfg-hash", "host-1")
	require.NoError(t, store.InsertRun(ctx, run))
	require.NoError(t, store.CloseRun(ctx, run.RunID, time.Now().UnixMilli()))
}

func TestStore_InsertOrderThenUpdateStatus(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	order := domain.Order{
		ClientOrderID: "cid-1",
		Strategy:      "s",
		MarketID:      "m1",
		Side:          domain.SideYes,
		Price:         0.4,
		Qty:           10,
		Status:        domain.StatusSubmitted,
		SubmittedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.InsertOrder(ctx, order))

	require.NoError(t, order.Transition(domain.StatusAcked, time.Now().UTC()))
	require.NoError(t, store.UpdateOrderStatus(ctx, order))
}

func TestStore_InsertFillAndLedgerEntry(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	fill := domain.Fill{
		FillID:        "f1",
		ClientOrderID: "cid-1",
		MarketID:      "m1",
		Side:          domain.SideYes,
		Price:         0.4,
		Qty:           10,
		Timestamp:     time.Now().UTC(),
	}
	require.NoError(t, store.InsertFill(ctx, fill))

	entry := domain.PnLLedgerEntry{
		EntryID:   "e1",
		Kind:      domain.LedgerRealized,
		Reference: "f1",
		AmountUSD: 1.5,
		MarketID:  "m1",
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, store.InsertLedgerEntry(ctx, entry))
}

func TestStore_InsertIncident(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertIncident(ctx, domain.Incident{
		RunID:     "run-1",
		Severity:  domain.SeverityWarning,
		Kind:      "test",
		Message:   "hello",
		Timestamp: time.Now().UTC(),
	}))
}

func TestStore_InsertRawEvent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertRawEvent(ctx, "run-1", "venue", "book_update", `{"a":1}`))
}

func TestStore_InsertFeatureSchema(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertFeatureSchema(ctx, domain.FeatureSchemaVersion, "initial feature layout"))
}
