package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/traderd/internal/adapters/venue/sim"
	"github.com/alejandrodnm/traderd/internal/arbiter"
	"github.com/alejandrodnm/traderd/internal/audit"
	"github.com/alejandrodnm/traderd/internal/domain"
	"github.com/alejandrodnm/traderd/internal/execution"
	"github.com/alejandrodnm/traderd/internal/ports"
	"github.com/alejandrodnm/traderd/internal/risk"
	"github.com/alejandrodnm/traderd/internal/strategy/reference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pumpUserEvents drenan el feed de usuario del venue simulado hacia el
// execution manager durante window, igual que kernel.runUserEventLoop hace
// en producción.
func pumpUserEvents(t *testing.T, ctx context.Context, venue ports.VenueAdapter, exec *execution.Manager, window time.Duration) {
	t.Helper()
	events, err := venue.UserEvents(ctx)
	require.NoError(t, err)
	deadline := time.After(window)
	for {
		select {
		case ev := <-events:
			exec.OnUserEvent(ctx, ev)
		case <-deadline:
			return
		}
	}
}

func openHarness(t *testing.T) (*audit.Store, *arbiter.Arbiter, *risk.Governor, *execution.Manager, *sim.Adapter) {
	t.Helper()
	store, err := audit.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })

	gov := risk.NewGovernor(risk.Config{})
	arb := arbiter.NewArbiter(arbiter.Config{LeaseDuration: time.Second}, gov)
	venue := sim.New(nil)
	writer := audit.NewWriter(store, "run-test")
	exec := execution.NewManager(execution.Config{RunID: "run-test"}, venue, writer)
	return store, arb, gov, exec, venue
}

// S1 — Arbitrage double-leg happy path: ambos legs se aprueban el mismo
// ciclo como leg group y ambos llenan.
func TestScenario_S1_ArbitrageDoubleLegHappyPath(t *testing.T) {
	_, arb, _, exec, venue := openHarness(t)
	ctx := context.Background()

	snap := domain.Snapshot{MarketID: "m1", CanTrade: true}
	arb.ObserveSnapshot(snap)

	yesBook := domain.OrderBook{Asks: []domain.BookEntry{{Price: 0.45, Size: 100}}}
	noBook := domain.OrderBook{Asks: []domain.BookEntry{{Price: 0.52, Size: 100}}}
	opp := reference.Detect("m1", yesBook, noBook, 0)
	require.NotEqual(t, "avoid", opp.Grade)

	intents := reference.Propose("snap-1", "arb-ref", opp, 100, time.Now().UTC())
	require.Len(t, intents, 2)

	approvals := make(map[string]domain.Approval)
	for _, intent := range intents {
		appr := arb.Evaluate(intent, time.Now().UTC())
		require.True(t, appr.Approved, "intent %s should be approved", intent.Side)
		approvals[intent.IntentID] = appr
	}

	orders := exec.SubmitLegGroup(ctx, intents, approvals)
	require.Len(t, orders, 2)

	pumpUserEvents(t, ctx, venue, exec, 200*time.Millisecond)

	for _, order := range orders {
		assert.Equal(t, domain.StatusFilled, exec.StatusOf(order.ClientOrderID))
	}
}

// S2 — Stale state veto: un intent evaluado contra un snapshot marcado
// CanTrade=false se deniega con reason=stale_state, sin llegar a crear
// una orden.
func TestScenario_S2_StaleStateVeto(t *testing.T) {
	_, arb, _, exec, _ := openHarness(t)
	ctx := context.Background()

	arb.ObserveSnapshot(domain.Snapshot{MarketID: "m1", CanTrade: false})

	intent := domain.Intent{
		IntentID: domain.NewID(), MarketID: "m1", Kind: domain.IntentPlaceOrder,
		Side: domain.SideYes, Price: 0.40, Size: 50, Tier: domain.TierMM, Strategy: "mm-v1",
		CreatedAt: time.Now().UTC(),
	}
	appr := arb.Evaluate(intent, time.Now().UTC())
	assert.False(t, appr.Approved)
	assert.Equal(t, domain.ReasonStaleState, appr.Reason)
	assert.Equal(t, domain.StatusFailed, exec.StatusOf(intent.IntentID)) // never submitted, unknown order

	_, err := exec.Submit(ctx, intent, appr)
	// El execution manager no rechaza activamente una Approval denegada —
	// esa disciplina vive en el caller (kernel.proposeAndExecute nunca
	// llama Submit para una Approval no aprobada) — así que este test
	// documenta la responsabilidad del caller en vez de duplicar el veto
	// aquí.
	_ = err
}

// S3 — Leg-group partial fill unwind: si una pata del grupo queda viva
// mientras la otra muere (rechazo permanente), AwaitBalance identifica la
// pata viva para unwind.
func TestScenario_S3_LegGroupPartialFillUnwind(t *testing.T) {
	_, arb, _, exec, venue := openHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	arb.ObserveSnapshot(domain.Snapshot{MarketID: "m1", CanTrade: true})

	legGroup := domain.NewID()
	yesIntent := domain.Intent{
		IntentID: domain.NewID(), MarketID: "m1", Kind: domain.IntentPlaceOrder,
		Side: domain.SideYes, Price: 0.45, Size: 100, Tier: domain.TierArb, Strategy: "arb-ref",
		CreatedAt: time.Now().UTC(), LegGroupID: legGroup,
	}
	noIntent := domain.Intent{
		IntentID: domain.NewID(), MarketID: "m1", Kind: domain.IntentPlaceOrder,
		Side: domain.SideNo, Price: 0.52, Size: 100, Tier: domain.TierArb, Strategy: "arb-ref",
		CreatedAt: time.Now().UTC(), LegGroupID: legGroup,
	}

	approvals := map[string]domain.Approval{
		yesIntent.IntentID: arb.Evaluate(yesIntent, time.Now().UTC()),
		noIntent.IntentID:  arb.Evaluate(noIntent, time.Now().UTC()),
	}

	noClientID := domain.ClientOrderID("run-test", noIntent.IntentID)
	venue.ForceReject(noClientID, "insufficient balance")

	// pumpUserEvents corre en paralelo con SubmitLegGroup, igual que
	// runUserEventLoop corre en paralelo con proposeAndExecute en
	// producción: AwaitBalance necesita ver los Ack/Fill/Reject ya
	// reconciliados para decidir el unwind, y también drena los eventos de
	// la orden de cierre sintética que SubmitLegGroup somete internamente.
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		pumpUserEvents(t, ctx, venue, exec, 500*time.Millisecond)
	}()

	orders := exec.SubmitLegGroup(ctx, []domain.Intent{yesIntent, noIntent}, approvals)
	<-pumpDone

	require.Len(t, orders, 3, "unbalanced leg group appends a synthetic flatten order for the Filled leg")
	yesOrder, noOrder, flattenOrder := orders[0], orders[1], orders[2]
	require.Equal(t, domain.SideYes, yesOrder.Side)
	require.Equal(t, domain.SideNo, noOrder.Side)

	// La pata NO murió al intentar someterse (ForceReject la tumba como un
	// error permanente de venue, igual que TestManager_Submit_
	// TransitionsToFailedOnPermanentError); la pata YES llegó a Filled antes
	// de que el grupo pudiera reaccionar — Filled no admite Cancel (§4.4),
	// así que en vez de cancelarla se emitió una orden de cierre sintética
	// que también debe llenarse para dejar la exposición en cero.
	assert.Equal(t, domain.StatusFilled, exec.StatusOf(yesOrder.ClientOrderID))
	assert.Equal(t, domain.StatusFailed, exec.StatusOf(noOrder.ClientOrderID))
	require.True(t, flattenOrder.Closing)
	assert.Equal(t, domain.StatusFilled, exec.StatusOf(flattenOrder.ClientOrderID))
	assert.Equal(t, 0.0, exec.OpenExposure("m1", domain.SideYes))
}

// S4 — Priority preemption with lease: una estrategia de menor prioridad
// (MM) pierde el lease frente a una de mayor prioridad (Arb).
func TestScenario_S4_PriorityPreemptionWithLease(t *testing.T) {
	_, arb, _, exec, _ := openHarness(t)
	arb.ObserveSnapshot(domain.Snapshot{MarketID: "m1", CanTrade: true})

	now := time.Now().UTC()
	mmIntent := domain.Intent{
		IntentID: domain.NewID(), MarketID: "m1", Kind: domain.IntentPlaceOrder,
		Side: domain.SideYes, Price: 0.40, Size: 50, Tier: domain.TierMM, Strategy: "mm-v1",
		CreatedAt: now,
	}
	apprMM := arb.Evaluate(mmIntent, now)
	require.True(t, apprMM.Approved)

	// T+200ms: llega el PlaceOrder de Arb. §4.2 exige que el titular anterior
	// se cancele ANTES de que el nuevo dueño reciba el lease, así que este
	// ciclo no aprueba a Arb todavía — solo libera el lease de MM y encola
	// un CancelAll sintético para él.
	arbIntent := domain.Intent{
		IntentID: domain.NewID(), MarketID: "m1", Kind: domain.IntentPlaceOrder,
		Side: domain.SideYes, Price: 0.41, Size: 50, Tier: domain.TierArb, Strategy: "arb-ref",
		CreatedAt: now.Add(200 * time.Millisecond),
	}
	batch := arb.EvaluateBatch([]domain.Intent{arbIntent}, now.Add(200*time.Millisecond))
	require.False(t, batch.Approvals[0].Approved, "Arb's preempting Place is not granted in the same cycle that cancels the incumbent")
	require.Len(t, batch.Preemptions, 1)
	assert.Equal(t, "mm-v1", batch.Preemptions[0].PreemptedOwner)
	assert.Equal(t, "arb-ref", batch.Preemptions[0].NewOwner)
	assert.Equal(t, domain.IntentCancelAll, batch.Preemptions[0].Intent.Kind)
	assert.True(t, batch.Preemptions[0].Approval.Approved)
	exec.CancelOpenOrdersFor(context.Background(), "m1", batch.Preemptions[0].PreemptedOwner)

	// MM intenta re-proponer mientras la preemption está pendiente: se
	// deniega por prioridad, no porque siga siendo el titular del lease.
	mmIntent2 := domain.Intent{
		IntentID: domain.NewID(), MarketID: "m1", Kind: domain.IntentPlaceOrder,
		Side: domain.SideYes, Price: 0.40, Size: 50, Tier: domain.TierMM, Strategy: "mm-v1",
		CreatedAt: now.Add(250 * time.Millisecond),
	}
	apprMM2 := arb.Evaluate(mmIntent2, now.Add(250*time.Millisecond))
	assert.False(t, apprMM2.Approved)
	assert.Equal(t, domain.ReasonLowerPriority, apprMM2.Reason)

	// Siguiente ciclo: el mercado ya está libre, Arb recibe el lease.
	arbIntent2 := domain.Intent{
		IntentID: domain.NewID(), MarketID: "m1", Kind: domain.IntentPlaceOrder,
		Side: domain.SideYes, Price: 0.41, Size: 50, Tier: domain.TierArb, Strategy: "arb-ref",
		CreatedAt: now.Add(300 * time.Millisecond),
	}
	apprArb2 := arb.Evaluate(arbIntent2, now.Add(300*time.Millisecond))
	assert.True(t, apprArb2.Approved, "on the next cycle, with the market free, Arb's retry is granted")
}

// S5 — Idempotent retry: un reintento del mismo Intent reutiliza el mismo
// client_order_id, porque ClientOrderID lo deriva determinísticamente de
// (run_id, intent_id). El test comprueba esa derivación; no envía órdenes
// al venue.
func TestScenario_S5_IdempotentRetryCollapsesClientOrderID(t *testing.T) {
	intentID := domain.NewID()
	first := domain.ClientOrderID("run-test", intentID)
	second := domain.ClientOrderID("run-test", intentID)
	assert.Equal(t, first, second, "same (run_id, intent_id) must always derive the same client_order_id")
}

// S6 — Drawdown halt: una vez cruzado el umbral de drawdown, todo intent de
// PlaceOrder es denegado independientemente de la estrategia; un Cancel
// sigue fluyendo porque es la única acción que reduce la exposición que
// disparó el halt.
func TestScenario_S6_DrawdownHaltVetoesPlaceOrderButNotCancel(t *testing.T) {
	_, arb, gov, _, _ := openHarness(t)
	arb.ObserveSnapshot(domain.Snapshot{MarketID: "m1", CanTrade: true})

	now := time.Now().UTC()
	gov.RecordFill(-1000, now) // cruza cualquier umbral razonable con MaxDrawdownUSD no configurado... forzamos el gate directamente:
	gov.SetGate(risk.GateDrawdownHalt, true, "test forced drawdown", now)

	place := domain.Intent{
		IntentID: domain.NewID(), MarketID: "m1", Kind: domain.IntentPlaceOrder,
		Side: domain.SideYes, Price: 0.40, Size: 10, Tier: domain.TierArb, Strategy: "arb-ref",
		CreatedAt: now,
	}
	apprPlace := arb.Evaluate(place, now)
	assert.False(t, apprPlace.Approved)
	assert.Equal(t, domain.ReasonDrawdownHalt, apprPlace.Reason)

	cancel := domain.Intent{
		IntentID: domain.NewID(), MarketID: "m1", Kind: domain.IntentCancel,
		Strategy: "arb-ref", CreatedAt: now,
	}
	apprCancel := arb.Evaluate(cancel, now)
	assert.True(t, apprCancel.Approved, "drawdown_halt must not block Cancel/Flatten — they are the operator's escape valve")
}
