// Package ports declara los límites externos del kernel: el venue adapter
// y el almacén de auditoría. Las implementaciones concretas viven bajo
// internal/adapters y internal/audit.
package ports

import (
	"context"

	"github.com/alejandrodnm/traderd/internal/domain"
)

// MarketEventKind distingue los tipos de evento que un venue puede emitir
// sobre el canal de mercado.
type MarketEventKind string

const (
	MarketEventBookUpdate MarketEventKind = "book_update"
	MarketEventTrade      MarketEventKind = "trade"
	MarketEventStatus     MarketEventKind = "status" // activación/cierre de mercado
)

// MarketEvent es un evento inmutable del feed público del venue.
type MarketEvent struct {
	Kind     MarketEventKind
	MarketID domain.MarketID
	Side     domain.Side
	Book     domain.OrderBook
	Market   domain.Market // poblado en MarketEventStatus
}

// UserEventKind distingue los eventos privados sobre las órdenes propias.
type UserEventKind string

const (
	UserEventAck    UserEventKind = "ack"
	UserEventFill   UserEventKind = "fill"
	UserEventCancel UserEventKind = "cancel"
	UserEventReject UserEventKind = "reject"
)

// UserEvent es un evento inmutable del feed privado del venue sobre una
// orden enviada por este daemon.
type UserEvent struct {
	Kind          UserEventKind
	ClientOrderID string
	VenueOrderID  string
	Fill          domain.Fill // poblado en UserEventFill
	Reason        string      // poblado en UserEventReject
}

// VenueAdapter es el único punto de contacto entre el kernel y un venue
// CLOB externo. Las implementaciones concretas (websocket+REST real, o el
// simulador de internal/adapters/venue/sim) satisfacen esta interfaz.
type VenueAdapter interface {
	// MarketEvents expone el feed público como canal de solo lectura. El
	// canal se cierra cuando ctx se cancela o la conexión se agota
	// irrecuperablemente.
	MarketEvents(ctx context.Context) (<-chan MarketEvent, error)

	// UserEvents expone el feed privado de la cuenta autenticada.
	UserEvents(ctx context.Context) (<-chan UserEvent, error)

	// Submit envía una orden límite al venue. El ClientOrderID del Order ya
	// fue derivado deterministamente antes de esta llamada; el adapter no
	// genera IDs.
	Submit(ctx context.Context, order domain.Order) error

	// Cancel cancela una orden abierta por su ClientOrderID.
	Cancel(ctx context.Context, clientOrderID string) error

	// CancelAll cancela todas las órdenes abiertas de este daemon en un mercado.
	CancelAll(ctx context.Context, marketID domain.MarketID) error

	// Markets devuelve el universo de mercados activos conocido por el venue.
	Markets(ctx context.Context) ([]domain.Market, error)

	// Healthy reporta si la conexión al venue está operativa; alimenta
	// GateVenueUnhealthy en el risk governor.
	Healthy() bool
}
