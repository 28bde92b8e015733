package domain

import "time"

// IntentKind es la acción propuesta por una estrategia.
type IntentKind string

const (
	IntentPlaceOrder IntentKind = "PlaceOrder"
	IntentCancel     IntentKind = "Cancel"
	IntentCancelAll  IntentKind = "CancelAll"
	IntentFlatten    IntentKind = "Flatten"
	IntentNoOp       IntentKind = "NoOp"
)

// Urgency expresa qué tan agresiva debe ser la ejecución del intent.
type Urgency string

const (
	UrgencyMaker   Urgency = "Maker"
	UrgencyNeutral Urgency = "Neutral"
	UrgencyTaker   Urgency = "Taker"
)

// Tier es la prioridad de una estrategia dentro del arbiter. Arb es la más
// alta, Directional la más baja.
type Tier int

const (
	TierArb Tier = iota
	TierEventArb
	TierMM
	TierDirectional
)

func (t Tier) String() string {
	switch t {
	case TierArb:
		return "Arb"
	case TierEventArb:
		return "EventArb"
	case TierMM:
		return "MM"
	case TierDirectional:
		return "Directional"
	default:
		return "Unknown"
	}
}

// Intent es la propuesta de una estrategia: no es una orden hasta que el
// arbiter la aprueba.
type Intent struct {
	IntentID     string
	SnapshotID   string
	Strategy     string
	Tier         Tier
	MarketID     MarketID
	Kind         IntentKind
	Side         Side // vacío si no aplica (CancelAll, NoOp)
	Price        float64
	Size         float64
	Urgency      Urgency
	TTL          time.Duration
	ExpectedValue float64
	Confidence   float64
	RiskCost     float64
	Tags         []string
	Rationale    string
	CreatedAt    time.Time

	// LegGroupID agrupa dos o más Place intents de la misma estrategia que
	// deben ejecutarse como una unidad atómica (§4.4 two-leg discipline).
	// Vacío si el intent no forma parte de un leg group.
	LegGroupID string
}

// Score es el criterio de tie-break dentro de un tier:
// expected_value * confidence - risk_cost.
func (i Intent) Score() float64 {
	return i.ExpectedValue*i.Confidence - i.RiskCost
}

// Expired devuelve true si el TTL del intent ya transcurrió desde su creación.
func (i Intent) Expired(now time.Time) bool {
	if i.TTL <= 0 {
		return false
	}
	return now.After(i.CreatedAt.Add(i.TTL))
}
