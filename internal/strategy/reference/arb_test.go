package reference

import (
	"testing"
	"time"

	"github.com/alejandrodnm/traderd/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func book(asks ...domain.BookEntry) domain.OrderBook {
	return domain.OrderBook{Asks: asks}
}

func TestDetect_GapBelowOneGradesAsArbitrage(t *testing.T) {
	yes := book(domain.BookEntry{Price: 0.45, Size: 200})
	no := book(domain.BookEntry{Price: 0.50, Size: 200})

	opp := Detect("m1", yes, no, 0)

	assert.InDelta(t, 0.95, opp.SumBestAsk, 1e-9)
	assert.Greater(t, opp.Gap, 0.0)
	assert.NotEqual(t, "avoid", opp.Grade)
}

func TestDetect_SumAboveOneIsAvoid(t *testing.T) {
	yes := book(domain.BookEntry{Price: 0.60, Size: 200})
	no := book(domain.BookEntry{Price: 0.55, Size: 200})

	opp := Detect("m1", yes, no, 0)

	assert.Equal(t, "avoid", opp.Grade)
	assert.Less(t, opp.Gap, 0.0)
}

func TestDetect_EmptyAskSideIsAvoid(t *testing.T) {
	opp := Detect("m1", book(), book(domain.BookEntry{Price: 0.5, Size: 100}), 0)
	assert.Equal(t, "avoid", opp.Grade)
}

func TestDetect_FeeRateErodesTheGap(t *testing.T) {
	yes := book(domain.BookEntry{Price: 0.48, Size: 200})
	no := book(domain.BookEntry{Price: 0.48, Size: 200})

	withoutFee := Detect("m1", yes, no, 0)
	withFee := Detect("m1", yes, no, 0.05)

	assert.Less(t, withFee.Gap, withoutFee.Gap)
}

func TestPropose_ActionableOpportunityYieldsTwoLegsSameLegGroup(t *testing.T) {
	opp := Opportunity{MarketID: "m1", Grade: "gold", Gap: 0.06, BestAskYes: 0.45, BestAskNo: 0.49}

	intents := Propose("snap-1", "arb-ref", opp, 100, time.Now().UTC())

	require.Len(t, intents, 2)
	assert.Equal(t, intents[0].LegGroupID, intents[1].LegGroupID)
	assert.NotEqual(t, intents[0].IntentID, intents[1].IntentID)

	sides := map[domain.Side]bool{intents[0].Side: true, intents[1].Side: true}
	assert.True(t, sides[domain.SideYes])
	assert.True(t, sides[domain.SideNo])

	for _, intent := range intents {
		assert.Equal(t, domain.IntentPlaceOrder, intent.Kind)
		assert.Equal(t, domain.TierArb, intent.Tier)
	}
}

func TestPropose_AvoidGradeYieldsNoIntents(t *testing.T) {
	opp := Opportunity{MarketID: "m1", Grade: "avoid", Gap: -0.01}
	assert.Nil(t, Propose("snap-1", "arb-ref", opp, 100, time.Now().UTC()))
}
