package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alejandrodnm/traderd/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapter_SubmitPermanentErrorOnVenueReject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"error": "insufficient balance"})
	}))
	defer srv.Close()

	a := New(Config{RESTBaseURL: srv.URL})
	err := a.Submit(context.Background(), domain.Order{ClientOrderID: "c1", Price: 0.4, Qty: 10})
	require.Error(t, err)
	var permErr *domain.PermanentVenueError
	assert.ErrorAs(t, err, &permErr)
}

func TestAdapter_SubmitRetriesOn500ThenSucceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	a := New(Config{RESTBaseURL: srv.URL})
	err := a.Submit(context.Background(), domain.Order{ClientOrderID: "c1", Price: 0.4, Qty: 10})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, calls, 2)
}

func TestAdapter_MarketsDecodesList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]domain.Market{{ID: "m1", Question: "will it rain"}})
	}))
	defer srv.Close()

	a := New(Config{RESTBaseURL: srv.URL})
	markets, err := a.Markets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, domain.MarketID("m1"), markets[0].ID)
}

func TestAdapter_HealthyDefaultsTrue(t *testing.T) {
	a := New(Config{})
	assert.True(t, a.Healthy())
}

func TestAdapter_HandleMarketFrameParsesBookLevels(t *testing.T) {
	a := New(Config{})
	raw := []byte(`{"market_id":"m1","side":"YES","bids":[["0.4","10"]],"asks":[["0.5","20"]]}`)
	a.handleMarketFrame(raw)

	select {
	case ev := <-a.marketEvents:
		assert.Equal(t, domain.MarketID("m1"), ev.MarketID)
		require.Len(t, ev.Book.Bids, 1)
		assert.Equal(t, 0.4, ev.Book.Bids[0].Price)
	case <-time.After(time.Second):
		t.Fatal("expected a market event")
	}
}
