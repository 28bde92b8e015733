package execution

import (
	"time"

	"github.com/alejandrodnm/traderd/internal/domain"
)

// lot es una posición abierta parcial pendiente de cierre, con su costo
// unitario y el momento en que se abrió.
type lot struct {
	price float64
	qty   float64
	at    time.Time
}

// LotBook mantiene colas FIFO independientes por (mercado, lado) para
// realizar PnL exacto al cerrar posiciones, generalizando la matemática de
// mergeCompletePairs (teacher): ahí se emparejaban tokens YES/NO a un tope
// común de mergeable = min(yesSets, noSets) para liquidar al mismo tiempo;
// aquí cada lado se lleva su propia cola y el cierre se dispara lado por
// lado conforme llegan fills de signo contrario.
type LotBook struct {
	queues map[domain.MarketID]map[domain.Side][]lot
}

// NewLotBook construye un LotBook vacío.
func NewLotBook() *LotBook {
	return &LotBook{queues: make(map[domain.MarketID]map[domain.Side][]lot)}
}

func (lb *LotBook) queueFor(marketID domain.MarketID, side domain.Side) []lot {
	bySide, ok := lb.queues[marketID]
	if !ok {
		return nil
	}
	return bySide[side]
}

func (lb *LotBook) setQueue(marketID domain.MarketID, side domain.Side, q []lot) {
	bySide, ok := lb.queues[marketID]
	if !ok {
		bySide = make(map[domain.Side][]lot)
		lb.queues[marketID] = bySide
	}
	bySide[side] = q
}

// Open encola qty unidades a price como un lote abierto nuevo para
// marketID/side — usado cuando un fill incrementa la exposición neta.
func (lb *LotBook) Open(marketID domain.MarketID, side domain.Side, price, qty float64, at time.Time) {
	q := lb.queueFor(marketID, side)
	q = append(q, lot{price: price, qty: qty, at: at})
	lb.setQueue(marketID, side, q)
}

// Close consume qty unidades de la cola FIFO de marketID/side a closePrice,
// devolviendo las entradas de PnL realizado correspondientes a cada lote
// parcial o totalmente consumido. Si qty excede lo disponible en cola, el
// exceso se trata como un lote nuevo de costo 0 (posición abierta
// previamente fuera de contabilidad, p. ej. al reiniciar el daemon sin
// estado persistido) y se registra vía strategy/market para trazabilidad.
func (lb *LotBook) Close(marketID domain.MarketID, side domain.Side, strategy string, closePrice, qty float64, fillID string, at time.Time) []domain.PnLLedgerEntry {
	q := lb.queueFor(marketID, side)
	var entries []domain.PnLLedgerEntry
	remaining := qty

	for remaining > 0 && len(q) > 0 {
		head := &q[0]
		matched := head.qty
		if matched > remaining {
			matched = remaining
		}

		entries = append(entries, domain.PnLLedgerEntry{
			EntryID:   domain.NewID(),
			Kind:      domain.LedgerRealized,
			Reference: fillID,
			AmountUSD: (closePrice - head.price) * matched,
			Strategy:  strategy,
			MarketID:  marketID,
			Timestamp: at,
		})

		head.qty -= matched
		remaining -= matched
		if head.qty <= 0 {
			q = q[1:]
		}
	}

	if remaining > 0 {
		entries = append(entries, domain.PnLLedgerEntry{
			EntryID:   domain.NewID(),
			Kind:      domain.LedgerAdjustment,
			Reference: fillID,
			AmountUSD: closePrice * remaining,
			Strategy:  strategy,
			MarketID:  marketID,
			Timestamp: at,
		})
	}

	lb.setQueue(marketID, side, q)
	return entries
}

// Settle cierra TODOS los lotes abiertos de marketID/side a settlePrice
// (1.0 si el token resolvió a verdadero, 0.0 en caso contrario; o el precio
// efectivo de un merge box/complementario), devolviendo una entrada de PnL
// realizado por cada lote consumido — el Open Question §9(c) decidió tratar
// settlement como fills/ledger entries ordinarios, y esto es ese
// tratamiento. El execution manager no lo invoca: ningún evento de
// resolución de mercado llega hasta aquí.
func (lb *LotBook) Settle(marketID domain.MarketID, side domain.Side, strategy string, settlePrice float64, at time.Time) []domain.PnLLedgerEntry {
	openQty := lb.OpenQty(marketID, side)
	if openQty <= 0 {
		return nil
	}
	entries := lb.Close(marketID, side, strategy, settlePrice, openQty, "settlement:"+string(marketID), at)
	for i := range entries {
		entries[i].Kind = domain.LedgerRealized
	}
	return entries
}

// OpenQty devuelve la cantidad total pendiente de cierre para marketID/side.
func (lb *LotBook) OpenQty(marketID domain.MarketID, side domain.Side) float64 {
	var total float64
	for _, l := range lb.queueFor(marketID, side) {
		total += l.qty
	}
	return total
}
