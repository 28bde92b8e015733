// Package arbiter implementa el árbitro (§4.2): decide, para cada Intent
// propuesto por una estrategia, si se convierte en una Approval que el
// execution manager puede ejecutar.
//
// La ladera de prioridad por tier y el patrón de gates secuenciales están
// grounded en internal/application/engine/live/placement.go's gateCheck
// (teacher): una cadena de comprobaciones que la primera en fallar decide
// el motivo de rechazo, generalizada de un único activeConditions set
// global a un lease table por mercado con prioridad de tier explícita.
package arbiter

import (
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/traderd/internal/domain"
	"github.com/alejandrodnm/traderd/internal/risk"
)

// Config fija los parámetros de comportamiento del arbiter.
type Config struct {
	// LeaseDuration es cuánto tiempo un Approval otorgado mantiene el
	// ownership exclusivo de un mercado para esa estrategia.
	LeaseDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 3 * time.Second
	}
	return c
}

// Arbiter decide qué Intent se convierte en Approval. Seguro para uso
// concurrente: una instancia es compartida por todas las goroutines que
// evalúan intents de distintos mercados.
type Arbiter struct {
	cfg    Config
	leases *leaseTable
	dedup  *dedupCache
	gov    *risk.Governor

	snapMu     sync.RWMutex
	latestSnap map[domain.MarketID]domain.Snapshot
}

// NewArbiter construye un Arbiter que consulta gov para el veto final de
// riesgo antes de conceder cualquier Approval.
func NewArbiter(cfg Config, gov *risk.Governor) *Arbiter {
	return &Arbiter{
		cfg:        cfg.withDefaults(),
		leases:     newLeaseTable(),
		dedup:      newDedupCache(),
		gov:        gov,
		latestSnap: make(map[domain.MarketID]domain.Snapshot),
	}
}

// ObserveSnapshot registra el snapshot más reciente de un mercado; el
// arbiter lo usa para el veto de staleness/drawdown sin depender de que el
// caller lo pase en cada Evaluate.
func (a *Arbiter) ObserveSnapshot(snap domain.Snapshot) {
	a.snapMu.Lock()
	a.latestSnap[snap.MarketID] = snap
	a.snapMu.Unlock()
}

// Preemption es un efecto secundario de EvaluateBatch: un intent de tier
// superior desplazó al titular del lease de un mercado, así que el arbiter
// sintetiza (y aprueba de inmediato) el CancelAll que debe vaciar las
// órdenes abiertas del titular antes de que el nuevo dueño reciba el lease
// (§4.2 "Lease transitions").
type Preemption struct {
	MarketID       domain.MarketID
	PreemptedOwner string
	NewOwner       string
	Intent         domain.Intent
	Approval       domain.Approval
}

// BatchResult es el resultado de un ciclo de arbitraje: una Approval por
// cada Intent de entrada, en el mismo orden, más los CancelAll sintéticos
// que la ronda haya disparado.
type BatchResult struct {
	Approvals   []domain.Approval
	Preemptions []Preemption
}

// Evaluate es un atajo para evaluar un único Intent fuera de un ciclo
// batched (p. ej. un flatten manual del canal de administración). Para
// competencia real entre estrategias sobre un mismo mercado, usar
// EvaluateBatch: Evaluate por sí solo no aplica el tie-break de §4.2.
func (a *Arbiter) Evaluate(intent domain.Intent, now time.Time) domain.Approval {
	result := a.EvaluateBatch([]domain.Intent{intent}, now)
	return result.Approvals[0]
}

// EvaluateBatch implementa el procedimiento de selección por ciclo de §4.2:
// recolecta los intents vigentes, los aplica contra los gates que no
// dependen de competencia entre estrategias (expiración, validez, riesgo,
// staleness, dedup), agrupa los PlaceOrder supervivientes por mercado y
// dentro de cada mercado resuelve el lease ladder con tie-break por
// Score() y luego por snapshot_id más antiguo. El orden de evaluación
// dentro de cada gate es significativo: el primero que rechaza determina
// la razón registrada. Devuelve una Approval por intent, en el orden de
// entrada, más los CancelAll sintéticos que una preemption haya generado
// en este ciclo.
func (a *Arbiter) EvaluateBatch(intents []domain.Intent, now time.Time) BatchResult {
	result := BatchResult{Approvals: make([]domain.Approval, len(intents))}

	type candidate struct {
		idx    int
		intent domain.Intent
	}
	byMarket := make(map[domain.MarketID][]candidate)

	for i, intent := range intents {
		if appr, decided := a.evaluatePreLease(intent, now); decided {
			result.Approvals[i] = appr
			continue
		}
		byMarket[intent.MarketID] = append(byMarket[intent.MarketID], candidate{idx: i, intent: intent})
	}

	for marketID, cands := range byMarket {
		// Tie-break: tier (numéricamente menor = más prioridad), luego
		// Score() descendente, luego snapshot_id más antiguo primero.
		sort.SliceStable(cands, func(i, j int) bool {
			ci, cj := cands[i].intent, cands[j].intent
			if ci.Tier != cj.Tier {
				return ci.Tier < cj.Tier
			}
			if si, sj := ci.Score(), cj.Score(); si != sj {
				return si > sj
			}
			return ci.SnapshotID < cj.SnapshotID
		})

		winner := ""
		for _, c := range cands {
			intent := c.intent

			preempt, hasPreempt := a.leases.preemptionFor(marketID)
			if hasPreempt && intent.Strategy != preempt.claimant && intent.Tier >= preempt.tier {
				// Una preemption está en curso sobre este mercado y este
				// intent no es de prioridad estrictamente mayor que ella:
				// pierde mientras el titular anterior termina de vaciarse.
				result.Approvals[c.idx] = domain.NewDenied(intent.IntentID, domain.ReasonLowerPriority, preempt.claimant)
				continue
			}

			if winner != "" {
				result.Approvals[c.idx] = domain.NewDenied(intent.IntentID, domain.ReasonLeaseHeld, winner)
				continue
			}

			cur, curOK := a.leases.current(marketID, now)
			if curOK && cur.owner != intent.Strategy {
				if cur.tier <= intent.Tier {
					result.Approvals[c.idx] = domain.NewDenied(intent.IntentID, domain.ReasonLeaseHeld, cur.owner)
					continue
				}

				// intent.Tier preempta a cur.tier: el titular debe vaciarse
				// antes de que el nuevo dueño reciba el lease. Se aprueba
				// el CancelAll del titular ya mismo; el Place de intent
				// queda denegado este ciclo y se resuelve en el próximo,
				// cuando el mercado ya esté libre.
				if a.leases.startPreemption(marketID, intent.Tier, intent.Strategy, now) {
					cancelIntent := domain.Intent{
						IntentID:   domain.NewID(),
						SnapshotID: intent.SnapshotID,
						Strategy:   cur.owner,
						Tier:       cur.tier,
						MarketID:   marketID,
						Kind:       domain.IntentCancelAll,
						Urgency:    domain.UrgencyTaker,
						Rationale:  "preempted by higher-priority tier " + intent.Tier.String(),
						CreatedAt:  now,
					}
					result.Preemptions = append(result.Preemptions, Preemption{
						MarketID:       marketID,
						PreemptedOwner: cur.owner,
						NewOwner:       intent.Strategy,
						Intent:         cancelIntent,
						Approval:       domain.NewApproved(cancelIntent.IntentID, cur.owner),
					})
				}
				result.Approvals[c.idx] = domain.NewDenied(intent.IntentID, domain.ReasonLeaseHeld, cur.owner)
				continue
			}

			a.leases.grant(marketID, intent.Strategy, intent.Tier, a.cfg.LeaseDuration, now)
			result.Approvals[c.idx] = domain.NewApproved(intent.IntentID, intent.Strategy)
			winner = intent.Strategy
		}
	}

	return result
}

// evaluatePreLease aplica los gates de §4.2 que no dependen de competencia
// con otras estrategias sobre el mismo mercado. Devuelve decided=true junto
// con la Approval final si el intent ya quedó resuelto; decided=false si es
// un PlaceOrder que debe competir por el lease de su mercado.
func (a *Arbiter) evaluatePreLease(intent domain.Intent, now time.Time) (domain.Approval, bool) {
	if intent.Kind == domain.IntentNoOp {
		return domain.NewDenied(intent.IntentID, domain.ReasonNoOp, ""), true
	}

	if intent.Expired(now) {
		return domain.NewDenied(intent.IntentID, domain.ReasonInvalid, ""), true
	}

	if intent.Kind == domain.IntentPlaceOrder && (intent.Size <= 0 || intent.Price <= 0 || intent.Price >= 1) {
		return domain.NewDenied(intent.IntentID, domain.ReasonInvalid, ""), true
	}

	// Cancel/CancelAll/Flatten son la válvula de escape del sistema: deben
	// seguir fluyendo incluso bajo un veto de riesgo o un snapshot stale,
	// porque son precisamente la acción que reduce el riesgo que disparó el
	// veto (§8 S6 — "Cancel/Flatten continue to flow" durante drawdown_halt).
	isUnwind := intent.Kind == domain.IntentCancel || intent.Kind == domain.IntentCancelAll || intent.Kind == domain.IntentFlatten

	if !isUnwind {
		if gate, _, vetoed := a.gov.Evaluate(now); vetoed {
			return domain.NewDenied(intent.IntentID, risk.ReasonFor(gate), ""), true
		}

		a.snapMu.RLock()
		snap, snapOK := a.latestSnap[intent.MarketID]
		a.snapMu.RUnlock()
		if snapOK && !snap.CanTrade {
			return domain.NewDenied(intent.IntentID, domain.ReasonStaleState, ""), true
		}
	}

	// Con una preemption en curso sobre el mercado, los PlaceOrder no pasan
	// por dedup: el claimant vuelve a proponer el mismo Place para recibir el
	// lease liberado, y cualquier otro Place recibe lower_priority en la fase
	// de lease.
	_, preemptPending := a.leases.preemptionFor(intent.MarketID)
	if !(preemptPending && !isUnwind) && a.dedup.Seen(intent, now) {
		return domain.NewDenied(intent.IntentID, domain.ReasonDuplicate, ""), true
	}

	if isUnwind {
		// No compiten por el lease: el execution manager las resuelve
		// contra el estado real de las órdenes abiertas.
		return domain.NewApproved(intent.IntentID, intent.Strategy), true
	}

	return domain.Approval{}, false
}

// Release libera anticipadamente el lease de un mercado si owner es su
// titular actual; con otro titular no hace nada.
func (a *Arbiter) Release(marketID domain.MarketID, owner string) {
	a.leases.release(marketID, owner)
}

// ForceRelease libera el lease de un mercado sin importar el propietario
// actual, usado por el canal de administración al atender un flatten
// manual del operador.
func (a *Arbiter) ForceRelease(marketID domain.MarketID) {
	a.leases.forceRelease(marketID)
}
