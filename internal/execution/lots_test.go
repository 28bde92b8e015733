package execution

import (
	"testing"
	"time"

	"github.com/alejandrodnm/traderd/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLotBook_OpenThenCloseRealizesPnL(t *testing.T) {
	lb := NewLotBook()
	now := time.Now()
	lb.Open("m1", domain.SideYes, 0.40, 100, now)

	entries := lb.Close("m1", domain.SideYes, "strat", 0.55, 100, "fill-1", now)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.LedgerRealized, entries[0].Kind)
	assert.InDelta(t, 15.0, entries[0].AmountUSD, 1e-9)
}

func TestLotBook_CloseConsumesMultipleLotsFIFO(t *testing.T) {
	lb := NewLotBook()
	now := time.Now()
	lb.Open("m1", domain.SideYes, 0.40, 50, now)
	lb.Open("m1", domain.SideYes, 0.45, 50, now.Add(time.Second))

	entries := lb.Close("m1", domain.SideYes, "strat", 0.50, 70, "fill-2", now)
	require.Len(t, entries, 2)
	assert.InDelta(t, 5.0, entries[0].AmountUSD, 1e-9) // 50 units @ (0.50-0.40)
	assert.InDelta(t, 1.0, entries[1].AmountUSD, 1e-9) // 20 units @ (0.50-0.45)
	assert.Equal(t, 30.0, lb.OpenQty("m1", domain.SideYes))
}

func TestLotBook_CloseWithNoLotsProducesAdjustment(t *testing.T) {
	lb := NewLotBook()
	entries := lb.Close("m1", domain.SideYes, "strat", 0.5, 10, "fill-3", time.Now())
	require.Len(t, entries, 1)
	assert.Equal(t, domain.LedgerAdjustment, entries[0].Kind)
}

func TestLotBook_Settle_ClosesAllOpenLotsAsRealized(t *testing.T) {
	lb := NewLotBook()
	now := time.Now()
	lb.Open("m1", domain.SideYes, 0.3, 10, now)
	lb.Open("m1", domain.SideYes, 0.4, 10, now)

	entries := lb.Settle("m1", domain.SideYes, "strat", 1.0, now)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, domain.LedgerRealized, e.Kind)
	}
	assert.Equal(t, 0.0, lb.OpenQty("m1", domain.SideYes))
}

func TestLotBook_Settle_NoOpenLotsReturnsNil(t *testing.T) {
	lb := NewLotBook()
	entries := lb.Settle("m1", domain.SideYes, "strat", 1.0, time.Now())
	assert.Nil(t, entries)
}
