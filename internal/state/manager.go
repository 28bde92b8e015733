// Package state implementa el state manager (§4.1): un proceso lógico por
// mercado que consume eventos del venue adapter, mantiene el book top y la
// posición, y emite snapshots a intervalos fijos; un book update no dispara
// un snapshot por sí mismo.
//
// El layout — un goroutine propietario por mercado, comunicado por
// channels, con un worker pool separado para el trabajo de cómputo de
// features — está grounded en internal/application/scanner/concurrent.go
// (teacher): el mismo patrón de fan-out/fan-in que ahí distribuye el
// análisis de oportunidades entre workers, aquí distribuye el cómputo de
// FeatureVector entre snapshots de distintos mercados.
package state

import (
	"context"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/alejandrodnm/traderd/internal/domain"
	"github.com/alejandrodnm/traderd/internal/ports"
)

const midHistoryWindow = 32

// Config fija los parámetros operacionales del state manager.
type Config struct {
	// StaleAfter es la antigüedad máxima de un book update antes de marcar
	// CanTrade=false. Grounded en la decisión de la open question §9(a):
	// configurable, default 2s.
	StaleAfter time.Duration
	// SnapshotInterval es la cadencia de emisión de snapshots por mercado;
	// es el único disparador de emisión.
	SnapshotInterval time.Duration
	// Workers es el tamaño del pool de cómputo de features; 0 usa
	// runtime.NumCPU()*2 como hace analyzeMarketsConcurrent (teacher).
	Workers int
}

func (c Config) withDefaults() Config {
	if c.StaleAfter <= 0 {
		c.StaleAfter = 2 * time.Second
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = 500 * time.Millisecond
	}
	return c
}

// marketState es el estado mutable propiedad exclusiva de una única
// goroutine; nunca se comparte directamente entre mercados.
type marketState struct {
	market domain.Market

	// bookMu protege yesBook/noBook/position: runMarket las muta desde su
	// propia goroutine, pero ApplyFill y OrderBooks las leen/mutan desde el
	// caller externo (execution manager, estrategias), así que dejan de ser
	// propiedad exclusiva de una sola goroutine.
	bookMu sync.Mutex

	yesBook domain.OrderBook
	noBook  domain.OrderBook
	yesSeen time.Time
	noSeen  time.Time

	position domain.Position

	midHistory []float64

	events chan ports.MarketEvent
}

// Manager orquesta una marketState por mercado conocido y publica snapshots
// en SnapshotCh para que el arbiter los consuma.
type Manager struct {
	cfg Config
	run domain.Run

	mu      sync.RWMutex
	markets map[domain.MarketID]*marketState

	SnapshotCh chan domain.Snapshot

	snapSeq   uint64
	snapSeqMu sync.Mutex

	drawdownHalt bool
	drawdownMu   sync.RWMutex

	computeSem chan struct{} // limita el paralelismo del cómputo de features
}

// NewManager construye un Manager vacío; las goroutines por mercado se
// arrancan con AddMarket conforme el venue adapter las va reportando.
func NewManager(run domain.Run, cfg Config) *Manager {
	cfg = cfg.withDefaults()
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}
	return &Manager{
		cfg:        cfg,
		run:        run,
		markets:    make(map[domain.MarketID]*marketState),
		SnapshotCh: make(chan domain.Snapshot, 1024),
		computeSem: make(chan struct{}, workers),
	}
}

// SetDrawdownHalt propaga el estado del risk governor a todos los snapshots
// futuros; el state manager no decide el halt, solo lo refleja.
func (m *Manager) SetDrawdownHalt(halt bool) {
	m.drawdownMu.Lock()
	m.drawdownHalt = halt
	m.drawdownMu.Unlock()
}

func (m *Manager) isDrawdownHalt() bool {
	m.drawdownMu.RLock()
	defer m.drawdownMu.RUnlock()
	return m.drawdownHalt
}

// AddMarket registra un mercado nuevo y arranca su goroutine propietaria.
// Es idempotente: un market_id ya conocido no reinicia su estado.
func (m *Manager) AddMarket(ctx context.Context, market domain.Market) {
	m.mu.Lock()
	if _, ok := m.markets[market.ID]; ok {
		m.mu.Unlock()
		return
	}
	ms := &marketState{
		market: market,
		events: make(chan ports.MarketEvent, 256),
	}
	m.markets[market.ID] = ms
	m.mu.Unlock()

	go m.runMarket(ctx, ms)
}

// Dispatch enruta un MarketEvent del venue adapter hacia la goroutine
// propietaria del mercado correspondiente. No bloquea indefinidamente: si el
// canal del mercado está lleno se descarta con un log de warning, porque un
// book update obsoleto será reemplazado por el siguiente de todos modos.
func (m *Manager) Dispatch(ev ports.MarketEvent) {
	m.mu.RLock()
	ms, ok := m.markets[ev.MarketID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case ms.events <- ev:
	default:
		slog.Warn("state: market event channel full, dropping", "market_id", ev.MarketID, "kind", ev.Kind)
	}
}

// runMarket es el cuerpo de la goroutine propietaria de un mercado: procesa
// eventos entrantes y emite un snapshot cada SnapshotInterval.
func (m *Manager) runMarket(ctx context.Context, ms *marketState) {
	ticker := time.NewTicker(m.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ms.events:
			m.applyEvent(ms, ev)
		case now := <-ticker.C:
			m.emitSnapshot(ms, now)
		}
	}
}

func (m *Manager) applyEvent(ms *marketState, ev ports.MarketEvent) {
	now := time.Now().UTC()
	switch ev.Kind {
	case ports.MarketEventBookUpdate:
		ms.bookMu.Lock()
		switch ev.Side {
		case domain.SideYes:
			ms.yesBook = ev.Book
			ms.yesSeen = now
		case domain.SideNo:
			ms.noBook = ev.Book
			ms.noSeen = now
		}
		mid := ms.yesBook.Midpoint()
		if mid > 0 {
			ms.midHistory = append(ms.midHistory, mid)
			if len(ms.midHistory) > midHistoryWindow {
				ms.midHistory = ms.midHistory[len(ms.midHistory)-midHistoryWindow:]
			}
		}
		ms.bookMu.Unlock()
	case ports.MarketEventStatus:
		ms.market = ev.Market
	}
}

// ApplyFill actualiza la posición neta de un mercado tras un fill
// confirmado por el execution manager. Es la única mutación de Position que
// no pasa por el canal de eventos del venue, porque los fills llegan del
// pipeline de ejecución, no del feed público.
func (m *Manager) ApplyFill(marketID domain.MarketID, side domain.Side, qty float64) {
	m.mu.RLock()
	ms, ok := m.markets[marketID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	ms.bookMu.Lock()
	switch side {
	case domain.SideYes:
		ms.position.YesQty += qty
	case domain.SideNo:
		ms.position.NoQty += qty
	}
	ms.position.NetExposure = ms.position.YesQty - ms.position.NoQty
	ms.bookMu.Unlock()
}

// emitSnapshot computa el FeatureVector (delegado al pool acotado por
// computeSem, igual que analyzeMarketsConcurrent acota con un worker pool
// el análisis de oportunidades) y lo envía por SnapshotCh.
func (m *Manager) emitSnapshot(ms *marketState, now time.Time) {
	m.computeSem <- struct{}{}
	defer func() { <-m.computeSem }()

	ms.bookMu.Lock()
	yesBook, noBook := ms.yesBook, ms.noBook
	yesSeen, noSeen := ms.yesSeen, ms.noSeen
	midHistory := append([]float64(nil), ms.midHistory...)
	position := ms.position
	ms.bookMu.Unlock()

	yesTop := domain.TopFrom(yesBook, yesSeen)
	noTop := domain.TopFrom(noBook, noSeen)

	stale := now.Sub(yesSeen) > m.cfg.StaleAfter || now.Sub(noSeen) > m.cfg.StaleAfter
	yesTop.Stale = stale
	noTop.Stale = stale

	fv := computeFeatures(yesTop, noTop, midHistory)

	snap := domain.Snapshot{
		SnapshotID:        m.nextSnapshotID(),
		RunID:             m.run.RunID,
		Timestamp:         now,
		MarketID:          ms.market.ID,
		YesBook:           yesTop,
		NoBook:            noTop,
		Position:          position,
		CanTrade:          !stale && !m.isDrawdownHalt(),
		DrawdownHalt:      m.isDrawdownHalt(),
		Features:          fv,
		Crowding:          fv.Crowding(),
		Toxicity:          fv.Toxicity(),
		SpreadCompression: fv.SpreadCompression(),
	}

	select {
	case m.SnapshotCh <- snap:
	default:
		slog.Warn("state: snapshot channel full, dropping snapshot", "market_id", ms.market.ID)
	}
}

func (m *Manager) nextSnapshotID() string {
	m.snapSeqMu.Lock()
	m.snapSeq++
	seq := m.snapSeq
	m.snapSeqMu.Unlock()
	return m.run.RunID + "-" + time.Now().UTC().Format("20060102T150405") + "-" + strconv.FormatUint(seq, 10)
}

// OrderBooks devuelve una copia superficial de los libros YES/NO completos
// de un mercado conocido. Los snapshots solo exponen el BookTop resumido;
// las estrategias que necesitan profundidad completa (p. ej. el detector de
// arbitraje box para su precio ponderado por volumen) la consultan aquí.
func (m *Manager) OrderBooks(id domain.MarketID) (yes, no domain.OrderBook, ok bool) {
	m.mu.RLock()
	ms, found := m.markets[id]
	m.mu.RUnlock()
	if !found {
		return domain.OrderBook{}, domain.OrderBook{}, false
	}
	ms.bookMu.Lock()
	defer ms.bookMu.Unlock()
	return ms.yesBook, ms.noBook, true
}

// MarketByID devuelve una copia superficial del Market conocido, o false si
// no se conoce.
func (m *Manager) MarketByID(id domain.MarketID) (domain.Market, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.markets[id]
	if !ok {
		return domain.Market{}, false
	}
	return ms.market, true
}
