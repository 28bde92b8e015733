package arbiter

import (
	"sync"
	"time"

	"github.com/alejandrodnm/traderd/internal/domain"
)

// lease registra qué estrategia posee el derecho exclusivo de actuar sobre
// un mercado y hasta cuándo, grounded en el gateCheck ladder de
// internal/application/engine/live/placement.go (teacher) generalizado de
// "un solo conjunto activeConditions global" a un lease por mercado con
// expiración y prioridad de tier explícita.
type lease struct {
	owner   string
	tier    domain.Tier
	expires time.Time
}

// preemption registra que claimant (de tier) está desplazando al titular
// anterior de un mercado: el lease del titular ya fue liberado, pero
// claimant todavía no lo recibe — primero debe cancelarse lo que el
// titular tuviera abierto (§4.2 "Lease transitions"). Se resuelve en un
// ciclo posterior, cuando claimant vuelve a proponer sobre el mercado ya
// libre.
type preemption struct {
	tier     domain.Tier
	claimant string
}

// leaseTable es el estado mutable compartido por todas las evaluaciones del
// arbiter; protegido por mu porque varias goroutines de mercado pueden
// evaluar intents concurrentemente.
type leaseTable struct {
	mu          sync.Mutex
	leases      map[domain.MarketID]lease
	preemptions map[domain.MarketID]preemption
}

func newLeaseTable() *leaseTable {
	return &leaseTable{
		leases:      make(map[domain.MarketID]lease),
		preemptions: make(map[domain.MarketID]preemption),
	}
}

// current devuelve el lease vigente de marketID, o ok=false si no hay uno o
// ya expiró.
func (lt *leaseTable) current(marketID domain.MarketID, now time.Time) (cur lease, ok bool) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	cur, ok = lt.leases[marketID]
	if !ok || !now.Before(cur.expires) {
		return lease{}, false
	}
	return cur, true
}

// grant otorga el lease de marketID a owner/tier y limpia cualquier
// preemption pendiente sobre ese mercado: claimant ya tomó posesión.
func (lt *leaseTable) grant(marketID domain.MarketID, owner string, tier domain.Tier, duration time.Duration, now time.Time) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.leases[marketID] = lease{owner: owner, tier: tier, expires: now.Add(duration)}
	delete(lt.preemptions, marketID)
}

// startPreemption libera de inmediato el lease del titular de marketID y
// deja constancia de que claimant (tier estrictamente superior) lo está
// desplazando. Devuelve false si ya había una preemption en curso para el
// mismo claimant, para no re-emitir el CancelAll del titular en cada ciclo
// de espera.
func (lt *leaseTable) startPreemption(marketID domain.MarketID, tier domain.Tier, claimant string, now time.Time) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if p, ok := lt.preemptions[marketID]; ok && p.claimant == claimant {
		return false
	}
	delete(lt.leases, marketID)
	lt.preemptions[marketID] = preemption{tier: tier, claimant: claimant}
	return true
}

// preemptionFor devuelve la preemption pendiente sobre marketID, si hay una.
func (lt *leaseTable) preemptionFor(marketID domain.MarketID) (preemption, bool) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	p, ok := lt.preemptions[marketID]
	return p, ok
}

// release libera el lease de marketID si owner es el propietario actual.
func (lt *leaseTable) release(marketID domain.MarketID, owner string) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if cur, ok := lt.leases[marketID]; ok && cur.owner == owner {
		delete(lt.leases, marketID)
	}
}

// forceRelease libera el lease de marketID sin importar el propietario,
// usado por el canal de administración al atender un flatten.
func (lt *leaseTable) forceRelease(marketID domain.MarketID) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	delete(lt.leases, marketID)
	delete(lt.preemptions, marketID)
}

// ownerOf devuelve el propietario actual del lease de marketID, o "" si no
// hay uno vigente.
func (lt *leaseTable) ownerOf(marketID domain.MarketID, now time.Time) string {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	cur, ok := lt.leases[marketID]
	if !ok || !now.Before(cur.expires) {
		return ""
	}
	return cur.owner
}
