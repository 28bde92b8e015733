package execution

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/traderd/internal/domain"
	"github.com/alejandrodnm/traderd/internal/ports"
)

// Config fija los parámetros del execution manager.
type Config struct {
	RunID string
}

// Manager convierte Approvals en órdenes venue-facing, vigila su ciclo de
// vida vía los UserEvent del venue adapter, y mantiene el FIFO lot book de
// PnL realizado. Grounded en placeOrderPair/syncOrderState (teacher) para
// el flujo de envío+persistencia write-ahead y la reconciliación por
// polling de estado, generalizado aquí a un feed de eventos en lugar de
// polling directo al CLOB.
type Manager struct {
	cfg    Config
	venue  ports.VenueAdapter
	audit  ports.AuditSink
	lots   *LotBook

	mu     sync.Mutex
	orders map[string]*domain.Order // por ClientOrderID

	FillCh chan domain.Fill
}

// NewManager construye un Manager listo para Submit. audit es el audit
// writer (no el store crudo): §5 exige que el store solo lo mute la
// goroutine del writer, así que el execution manager encola sus escrituras
// a través de él igual que cualquier otro subsistema.
func NewManager(cfg Config, venue ports.VenueAdapter, audit ports.AuditSink) *Manager {
	return &Manager{
		cfg:    cfg,
		venue:  venue,
		audit:  audit,
		lots:   NewLotBook(),
		orders: make(map[string]*domain.Order),
		FillCh: make(chan domain.Fill, 256),
	}
}

// OpenOrderCount devuelve cuántas órdenes conocidas no están en un estado
// terminal; usado por el canal de administración para el payload de Status.
func (m *Manager) OpenOrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.orders {
		if !o.Status.Terminal() {
			n++
		}
	}
	return n
}

// OpenExposure devuelve la cantidad de marketID/side todavía pendiente de
// cierre en el FIFO lot book; usado por los tests para verificar que un
// unwind dejó la posición en cero.
func (m *Manager) OpenExposure(marketID domain.MarketID, side domain.Side) float64 {
	return m.lots.OpenQty(marketID, side)
}

// StatusOf devuelve el estado actual de una orden conocida por su
// ClientOrderID; implementa la firma que AwaitBalance espera.
func (m *Manager) StatusOf(clientOrderID string) domain.OrderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[clientOrderID]
	if !ok {
		return domain.StatusFailed
	}
	return o.Status
}

// Submit construye la orden desde un Intent aprobado, la persiste primero
// (write-ahead, igual que placeOrderPair guarda el LiveOrder antes de
// confiar en la respuesta del venue para el estado final) y solo entonces
// la envía al venue con reintentos acotados.
func (m *Manager) Submit(ctx context.Context, intent domain.Intent, approval domain.Approval) (*domain.Order, error) {
	clientOrderID := domain.ClientOrderID(m.cfg.RunID, intent.IntentID)
	now := time.Now().UTC()

	order := &domain.Order{
		ClientOrderID: clientOrderID,
		Strategy:      intent.Strategy,
		MarketID:      intent.MarketID,
		Side:          intent.Side,
		Price:         intent.Price,
		Qty:           intent.Size,
		Status:        domain.StatusSubmitted,
		IntentID:      intent.IntentID,
		ApprovedID:    approval.ApprovedID,
		SubmittedAt:   now,
		LegGroupID:    intent.LegGroupID,
		Closing:       intent.Kind == domain.IntentFlatten,
	}

	m.mu.Lock()
	m.orders[clientOrderID] = order
	m.mu.Unlock()

	m.audit.LogOrder(*order)

	submitErr := WithRetry(ctx, func() error {
		return m.venue.Submit(ctx, *order)
	})

	m.mu.Lock()
	if submitErr != nil {
		_ = order.Transition(domain.StatusFailed, time.Now().UTC())
	} else {
		_ = order.Transition(domain.StatusAcked, time.Now().UTC())
		order.SubmitLatencyMs = order.AckedAt.Sub(order.SubmittedAt).Milliseconds()
	}
	snapshot := *order
	m.mu.Unlock()

	m.audit.LogOrderStatus(snapshot)

	return order, submitErr
}

// SubmitLegGroup envía todas las patas de un leg group en paralelo y espera
// a que balanceen. Las patas desequilibradas que nunca llegaron a Filled se
// cancelan vía el venue adapter; las que sí llegaron a Filled no admiten
// Cancel (§4.4: Filled no tiene transiciones salientes), así que su
// exposición residual se deshace con una orden de cierre sintética
// (Flatten). Generaliza el "cancelar YES si NO falla" de placeOrderPair
// (teacher) a un número arbitrario de patas y a fallos post-fill.
func (m *Manager) SubmitLegGroup(ctx context.Context, intents []domain.Intent, approvals map[string]domain.Approval) []*domain.Order {
	orders := make([]*domain.Order, len(intents))
	var wg sync.WaitGroup
	for i, intent := range intents {
		wg.Add(1)
		go func(i int, intent domain.Intent) {
			defer wg.Done()
			order, err := m.Submit(ctx, intent, approvals[intent.IntentID])
			if err != nil {
				slog.Warn("execution: leg submit failed", "intent_id", intent.IntentID, "err", err)
			}
			orders[i] = order
		}(i, intent)
	}
	wg.Wait()
	ids := make([]string, 0, len(intents))
	byID := make(map[string]*domain.Order, len(intents))
	for _, order := range orders {
		ids = append(ids, order.ClientOrderID)
		byID[order.ClientOrderID] = order
	}

	toCancel, toFlatten := AwaitBalance(ctx, ids, m.StatusOf)
	for _, id := range toCancel {
		slog.Warn("execution: canceling unfilled leg", "client_order_id", id, "leg_group", intents[0].LegGroupID)
		if err := m.venue.Cancel(ctx, id); err != nil {
			slog.Error("execution: failed to cancel unbalanced leg", "client_order_id", id, "err", err)
		}
	}
	for _, id := range toFlatten {
		leg, ok := byID[id]
		if !ok {
			continue
		}
		slog.Warn("execution: flattening filled leg", "client_order_id", id, "leg_group", intents[0].LegGroupID)
		flattenOrder, err := m.flatten(ctx, leg)
		if err != nil {
			slog.Error("execution: failed to submit flatten for filled leg", "client_order_id", id, "err", err)
		}
		orders = append(orders, flattenOrder)
	}
	return orders
}

// flatten envía una orden de cierre sintética para deshacer la exposición
// residual de leg, un leg group ya Filled que quedó huérfano. Reutiliza
// Submit para que el closing order tenga el mismo camino de persistencia y
// de reconciliación por UserEvent que cualquier otra orden.
func (m *Manager) flatten(ctx context.Context, leg *domain.Order) (*domain.Order, error) {
	intent := domain.Intent{
		IntentID:   domain.NewID(),
		Strategy:   leg.Strategy,
		MarketID:   leg.MarketID,
		Kind:       domain.IntentFlatten,
		Side:       leg.Side,
		Price:      leg.Price,
		Size:       leg.FilledQty,
		Urgency:    domain.UrgencyTaker,
		Rationale:  "unwind residual exposure from unbalanced leg group " + leg.LegGroupID,
		CreatedAt:  time.Now().UTC(),
		LegGroupID: leg.LegGroupID,
	}
	return m.Submit(ctx, intent, domain.NewApproved(intent.IntentID, leg.Strategy))
}

// CancelOpenOrdersFor cancela todas las órdenes vivas de strategy en
// marketID vía el venue adapter. Usado por el kernel cuando el arbiter
// preempta el lease de un mercado: el titular anterior debe vaciarse antes de que el nuevo
// dueño lo reciba (§4.2 "Lease transitions").
func (m *Manager) CancelOpenOrdersFor(ctx context.Context, marketID domain.MarketID, strategy string) {
	m.mu.Lock()
	var ids []string
	for id, o := range m.orders {
		if o.MarketID == marketID && o.Strategy == strategy && !o.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.venue.Cancel(ctx, id); err != nil {
			slog.Error("execution: failed to cancel preempted order", "client_order_id", id, "err", err)
		}
	}
}

// OnUserEvent reconcilia el estado en memoria con un evento del feed
// privado del venue, generalizando syncOrderState (teacher) de polling
// periódico a reacción por evento. La orden se busca primero por el
// VenueOrderID del evento y, si no aparece, por su ClientOrderID.
func (m *Manager) OnUserEvent(ctx context.Context, ev ports.UserEvent) {
	m.mu.Lock()
	var order *domain.Order
	ok := false
	if ev.VenueOrderID != "" {
		for _, o := range m.orders {
			if o.VenueOrderID == ev.VenueOrderID {
				order, ok = o, true
				break
			}
		}
	}
	if !ok {
		order, ok = m.orders[ev.ClientOrderID]
	}
	m.mu.Unlock()
	if !ok {
		slog.Error("execution: user event for unknown order", "client_order_id", ev.ClientOrderID, "kind", ev.Kind)
		m.audit.LogIncident(domain.Incident{
			RunID:     m.cfg.RunID,
			Severity:  domain.SeverityCritical,
			Kind:      "unknown_order_event",
			Message:   "received " + string(ev.Kind) + " for unrecognized client_order_id " + ev.ClientOrderID,
			Timestamp: time.Now().UTC(),
		})
		return
	}

	now := time.Now().UTC()
	m.mu.Lock()
	switch ev.Kind {
	case ports.UserEventAck:
		order.VenueOrderID = ev.VenueOrderID
		_ = order.Transition(domain.StatusOpen, now)
	case ports.UserEventFill:
		order.FilledQty += ev.Fill.Qty
		if order.FilledQty >= order.Qty {
			_ = order.Transition(domain.StatusFilled, now)
		} else {
			_ = order.Transition(domain.StatusPartiallyFilled, now)
		}
	case ports.UserEventCancel:
		_ = order.Transition(domain.StatusCanceled, now)
	case ports.UserEventReject:
		_ = order.Transition(domain.StatusRejected, now)
	}
	snapshot := *order
	m.mu.Unlock()

	m.audit.LogOrderStatus(snapshot)

	if ev.Kind == ports.UserEventFill {
		m.recordFill(snapshot, ev.Fill)
	}
}

// recordFill persiste el fill, genera las entradas de PnL realizado vía
// LotBook, y las publica en FillCh para que el risk governor y el state
// manager las consuman. Un fill de PlaceOrder abre un lote nuevo; un fill
// de una orden Closing (el cierre sintético emitido por SubmitLegGroup para
// deshacer una pata ya Filled) cierra lotes FIFO existentes y produce las
// entradas LedgerRealized correspondientes.
func (m *Manager) recordFill(order domain.Order, fill domain.Fill) {
	m.audit.LogFill(fill)

	if order.Closing {
		for _, entry := range m.lots.Close(order.MarketID, order.Side, order.Strategy, fill.Price, fill.Qty, fill.FillID, fill.Timestamp) {
			m.audit.LogLedgerEntry(entry)
		}
	} else {
		m.lots.Open(order.MarketID, order.Side, fill.Price, fill.Qty, fill.Timestamp)
	}

	m.audit.LogLedgerEntry(domain.PnLLedgerEntry{
		EntryID:   domain.NewID(),
		Kind:      domain.LedgerFee,
		Reference: fill.FillID,
		AmountUSD: -fill.Fee,
		Strategy:  order.Strategy,
		MarketID:  order.MarketID,
		Timestamp: fill.Timestamp,
	})

	select {
	case m.FillCh <- fill:
	default:
		slog.Warn("execution: fill channel full, dropping downstream notification", "fill_id", fill.FillID)
	}
}
