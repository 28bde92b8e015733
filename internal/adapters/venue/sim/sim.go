// Package sim implementa un ports.VenueAdapter en memoria, sin red, usado
// por los tests de escenario del kernel (§8) y por cualquier modo de
// replay/paper-trading. Grounded en el teacher's mergeCompletePairs/
// syncOrderState matching logic (internal/scanner/live.go), trasladado de
// "consultar la API de Polymarket" a "resolver contra un libro en memoria
// controlado por el test".
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alejandrodnm/traderd/internal/domain"
	"github.com/alejandrodnm/traderd/internal/ports"
	"github.com/google/uuid"
)

// Adapter es un venue simulado: Submit resuelve inmediatamente contra una
// política de fill configurable, sin pasar por red. Seguro para uso
// concurrente.
type Adapter struct {
	mu       sync.Mutex
	markets  []domain.Market
	healthy  bool
	fillPx   map[string]float64 // clientOrderID -> precio de fill forzado, si se fijó
	rejectID map[string]string  // clientOrderID -> razón de rechazo forzada

	marketEvents chan ports.MarketEvent
	userEvents   chan ports.UserEvent
}

// New construye un Adapter simulado saludable por defecto, con los mercados
// dados precargados para Markets().
func New(markets []domain.Market) *Adapter {
	return &Adapter{
		markets:      markets,
		healthy:      true,
		fillPx:       make(map[string]float64),
		rejectID:     make(map[string]string),
		marketEvents: make(chan ports.MarketEvent, 256),
		userEvents:   make(chan ports.UserEvent, 256),
	}
}

// SetHealthy permite a un test forzar un estado degradado del venue.
func (a *Adapter) SetHealthy(h bool) {
	a.mu.Lock()
	a.healthy = h
	a.mu.Unlock()
}

// ForceReject hace que el próximo Submit con este clientOrderID sea
// rechazado con reason, simulando un error permanente del venue.
func (a *Adapter) ForceReject(clientOrderID, reason string) {
	a.mu.Lock()
	a.rejectID[clientOrderID] = reason
	a.mu.Unlock()
}

// PushBookUpdate inyecta una actualización de libro como si viniera del feed
// de mercado, para que los tests de escenario dirijan al state manager.
func (a *Adapter) PushBookUpdate(marketID domain.MarketID, side domain.Side, book domain.OrderBook) {
	a.marketEvents <- ports.MarketEvent{
		Kind:     ports.MarketEventBookUpdate,
		MarketID: marketID,
		Side:     side,
		Book:     book,
	}
}

func (a *Adapter) MarketEvents(ctx context.Context) (<-chan ports.MarketEvent, error) {
	return a.marketEvents, nil
}

func (a *Adapter) UserEvents(ctx context.Context) (<-chan ports.UserEvent, error) {
	return a.userEvents, nil
}

// Submit simula el ciclo ack -> fill de una orden: siempre acepta salvo que
// el test haya llamado ForceReject, y siempre rellena de inmediato al
// precio pedido, publicando los eventos correspondientes en UserEvents.
func (a *Adapter) Submit(ctx context.Context, order domain.Order) error {
	a.mu.Lock()
	reason, rejected := a.rejectID[order.ClientOrderID]
	delete(a.rejectID, order.ClientOrderID)
	a.mu.Unlock()

	if rejected {
		a.userEvents <- ports.UserEvent{
			Kind:          ports.UserEventReject,
			ClientOrderID: order.ClientOrderID,
			Reason:        reason,
		}
		return &domain.PermanentVenueError{Op: "submit", Reason: reason}
	}

	venueOrderID := uuid.NewString()
	a.userEvents <- ports.UserEvent{
		Kind:          ports.UserEventAck,
		ClientOrderID: order.ClientOrderID,
		VenueOrderID:  venueOrderID,
	}
	a.userEvents <- ports.UserEvent{
		Kind:          ports.UserEventFill,
		ClientOrderID: order.ClientOrderID,
		VenueOrderID:  venueOrderID,
		Fill: domain.Fill{
			FillID:        uuid.NewString(),
			ClientOrderID: order.ClientOrderID,
			VenueOrderID:  venueOrderID,
			MarketID:      order.MarketID,
			Side:          order.Side,
			Price:         order.Price,
			Qty:           order.Qty,
			Liquidity:     domain.LiquidityTaker,
			Timestamp:     time.Now().UTC(),
		},
	}
	return nil
}

// Cancel simula una cancelación exitosa, publicando el UserEvent
// correspondiente.
func (a *Adapter) Cancel(ctx context.Context, clientOrderID string) error {
	a.userEvents <- ports.UserEvent{
		Kind:          ports.UserEventCancel,
		ClientOrderID: clientOrderID,
	}
	return nil
}

// CancelAll no está implementado de forma granular en el simulador: un test
// que lo necesite debe llamar Cancel por cada orden conocida.
func (a *Adapter) CancelAll(ctx context.Context, marketID domain.MarketID) error {
	return fmt.Errorf("sim: CancelAll not supported, cancel individual orders")
}

func (a *Adapter) Markets(ctx context.Context) ([]domain.Market, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.markets, nil
}

func (a *Adapter) Healthy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.healthy
}
