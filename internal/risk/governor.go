// Package risk implementa el governor de riesgo: la última puerta antes de
// que un Intent aprobado por el arbiter se convierta en una orden venue-facing.
//
// Grounded en original_source/crates/risk's RiskGate (Active/Paused binario)
// generalizado a cinco latches independientes, y en la matemática de drawdown
// y rachas perdedoras de internal/domain/live.go's CircuitBreaker (teacher).
package risk

import (
	"sync"
	"time"

	"github.com/alejandrodnm/traderd/internal/domain"
)

// Gate identifica una de las cinco vetos independientes del governor.
type Gate string

const (
	GateStaleState     Gate = "stale_state"
	GateDrawdownHalt   Gate = "drawdown_halt"
	GateKillSwitch     Gate = "kill_switch"
	GateCapsBreach     Gate = "caps_breach"
	GateVenueUnhealthy Gate = "venue_unhealthy"
)

// allGates enumera los cinco latches en el orden en que Status() los reporta.
var allGates = [...]Gate{GateStaleState, GateDrawdownHalt, GateKillSwitch, GateCapsBreach, GateVenueUnhealthy}

// Config fija los umbrales de drawdown y racha perdedora que disparan
// GateDrawdownHalt automáticamente. Grounded en domain/live.go's
// CircuitBreaker{MaxLosses, CooldownDuration}.
type Config struct {
	MaxConsecutiveLosses int
	MaxDrawdownUSD        float64
	CooldownDuration       time.Duration
	// PerMarketCapUSD y PerStrategyCapUSD alimentan GateCapsBreach; el
	// governor no calcula exposición, solo aplica los topes que le reporta
	// el caller vía CheckCaps.
	PerMarketCapUSD   float64
	PerStrategyCapUSD float64
}

// latch es el estado interno de un único gate: si está activo, y — para
// drawdown_halt y venue_unhealthy — si requiere reinstatement manual del
// operador o se limpia solo al expirar el cooldown.
type latch struct {
	active      bool
	reason      string
	setAt       time.Time
	cooldownEnd time.Time
	manualOnly  bool
}

// Governor mantiene los cinco latches y las rachas de PnL consecutivas que
// alimentan el drawdown automático. Seguro para uso concurrente: un Governor
// es compartido por todas las goroutines de evaluación del arbiter.
type Governor struct {
	mu     sync.Mutex
	cfg    Config
	gates  map[Gate]*latch

	consecutiveLosses int
	runningPnL        float64
	peakPnL           float64
}

// NewGovernor construye un Governor con todos los gates abiertos.
func NewGovernor(cfg Config) *Governor {
	g := &Governor{
		cfg:   cfg,
		gates: make(map[Gate]*latch, len(allGates)),
	}
	for _, gate := range allGates {
		g.gates[gate] = &latch{}
	}
	return g
}

// Evaluate devuelve el primer gate activo que vetaría un intent, o "" si
// ninguno está activo. El orden de evaluación sigue allGates: stale_state,
// drawdown_halt, kill_switch, caps_breach, venue_unhealthy; el gate activo
// que aparece antes en ese orden es el que se reporta.
func (g *Governor) Evaluate(now time.Time) (Gate, string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, gate := range allGates {
		l := g.gates[gate]
		if !l.active {
			continue
		}
		if !l.cooldownEnd.IsZero() && !l.manualOnly && now.After(l.cooldownEnd) {
			l.active = false
			continue
		}
		return gate, l.reason, true
	}
	return "", "", false
}

// SetGate activa o desactiva un gate manualmente. Usado por Kill, MarkStale
// y CheckCaps.
func (g *Governor) SetGate(gate Gate, active bool, reason string, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l := g.gates[gate]
	l.active = active
	l.reason = reason
	l.setAt = now
	if !active {
		l.cooldownEnd = time.Time{}
		l.manualOnly = false
	}
}

// Reinstate limpia un gate que requiere intervención del operador
// (drawdown_halt, venue_unhealthy, kill_switch). Devuelve false si el gate
// pedido no está en la lista de gates operator-only.
func (g *Governor) Reinstate(gate Gate, actor string, now time.Time) bool {
	switch gate {
	case GateDrawdownHalt, GateVenueUnhealthy, GateKillSwitch:
	default:
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	l := g.gates[gate]
	l.active = false
	l.manualOnly = false
	l.cooldownEnd = time.Time{}
	l.reason = "reinstated by " + actor
	l.setAt = now
	g.consecutiveLosses = 0
	return true
}

// RecordFill actualiza la racha de pérdidas consecutivas y el drawdown desde
// el pico de PnL acumulado, disparando GateDrawdownHalt automáticamente si se
// cruza cualquiera de los dos umbrales de Config.
//
// Grounded en domain/live.go's CircuitBreaker.RecordLoss/RecordWin, con la
// generalización de que el cooldown expira solo (no requiere reinstatement)
// salvo que el umbral de drawdown absoluto (no de racha) se haya cruzado —
// en cuyo caso el latch queda manualOnly, reflejando que una racha es ruido
// recuperable pero un drawdown absoluto exige revisión humana.
func (g *Governor) RecordFill(pnl float64, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.runningPnL += pnl
	if g.runningPnL > g.peakPnL {
		g.peakPnL = g.runningPnL
	}
	drawdown := g.peakPnL - g.runningPnL

	if pnl < 0 {
		g.consecutiveLosses++
	} else {
		g.consecutiveLosses = 0
	}

	l := g.gates[GateDrawdownHalt]
	switch {
	case g.cfg.MaxDrawdownUSD > 0 && drawdown >= g.cfg.MaxDrawdownUSD:
		l.active = true
		l.manualOnly = true
		l.reason = "max drawdown exceeded"
		l.setAt = now
	case g.cfg.MaxConsecutiveLosses > 0 && g.consecutiveLosses >= g.cfg.MaxConsecutiveLosses:
		l.active = true
		l.manualOnly = false
		l.reason = "consecutive loss streak"
		l.setAt = now
		l.cooldownEnd = now.Add(g.cfg.CooldownDuration)
	}
}

// MarkStale activa/desactiva GateStaleState para la vigilancia global del
// governor. El caller (kernel) decide la granularidad; el spec permite que
// el veto sea por mercado, aplicado aguas arriba en el arbiter usando el
// flag CanTrade del Snapshot en vez de este gate global.
func (g *Governor) MarkStale(stale bool, now time.Time) {
	g.SetGate(GateStaleState, stale, "state snapshot stale", now)
}

// MarkVenueUnhealthy activa GateVenueUnhealthy cuando unhealthy es true;
// con unhealthy=false no hace nada: una vez activo, el gate solo se limpia
// vía Reinstate, porque un venue degradado no se autocura de forma
// observable por el propio daemon.
func (g *Governor) MarkVenueUnhealthy(unhealthy bool, reason string, now time.Time) {
	if !unhealthy {
		return
	}
	g.mu.Lock()
	l := g.gates[GateVenueUnhealthy]
	l.active = unhealthy
	l.reason = reason
	l.setAt = now
	l.manualOnly = unhealthy
	g.mu.Unlock()
}

// CheckCaps compara exposición contra los topes configurados y activa o
// limpia GateCapsBreach. No persiste estado de exposición: el caller
// (execution manager) es la fuente de verdad de cuánto está comprometido.
func (g *Governor) CheckCaps(marketExposure, strategyExposure float64, now time.Time) {
	breach := (g.cfg.PerMarketCapUSD > 0 && marketExposure > g.cfg.PerMarketCapUSD) ||
		(g.cfg.PerStrategyCapUSD > 0 && strategyExposure > g.cfg.PerStrategyCapUSD)
	g.SetGate(GateCapsBreach, breach, "exposure cap exceeded", now)
}

// Kill activa el kill switch global: todo intent de PlaceOrder se deniega
// hasta reinstatement explícito del operador.
func (g *Governor) Kill(actor string, now time.Time) {
	g.SetGate(GateKillSwitch, true, "kill switch engaged by "+actor, now)
}

// Status resume el estado de los cinco gates para el canal de administración
// (comando `status`).
type Status struct {
	Gates map[Gate]bool
}

func (g *Governor) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := Status{Gates: make(map[Gate]bool, len(allGates))}
	for _, gate := range allGates {
		s.Gates[gate] = g.gates[gate].active
	}
	return s
}

// ReasonFor traduce un Gate al ApprovalReason correspondiente del dominio,
// usado por el arbiter al construir una Approval denegada.
func ReasonFor(gate Gate) domain.ApprovalReason {
	switch gate {
	case GateStaleState:
		return domain.ReasonStaleState
	case GateDrawdownHalt:
		return domain.ReasonDrawdownHalt
	case GateKillSwitch:
		return domain.ReasonKillSwitch
	case GateCapsBreach:
		return domain.ReasonCapsBreach
	case GateVenueUnhealthy:
		return domain.ReasonVenueUnhealthy
	default:
		return domain.ReasonInvalid
	}
}
