package domain

import (
	"fmt"
	"time"
)

// OrderStatus es el estado del ciclo de vida de una orden venue-facing.
type OrderStatus string

const (
	StatusSubmitted       OrderStatus = "Submitted"
	StatusAcked           OrderStatus = "Acked"
	StatusOpen            OrderStatus = "Open"
	StatusPartiallyFilled OrderStatus = "PartiallyFilled"
	StatusFilled          OrderStatus = "Filled"
	StatusCanceled        OrderStatus = "Canceled"
	StatusRejected        OrderStatus = "Rejected"
	StatusFailed          OrderStatus = "Failed"
)

// validTransitions codifica la máquina de estados de §4.4:
//
//	Submitted ─► Acked ─► Open ─┬─► PartiallyFilled ─► Filled
//	                            ├─► Canceled
//	                            └─► Rejected
//	Submitted ─► Failed        (terminal, solo desde Submitted)
//
// Además, Open admite ir directo a Filled, y PartiallyFilled admite otro
// PartiallyFilled, Canceled o Rejected.
var validTransitions = map[OrderStatus][]OrderStatus{
	StatusSubmitted:       {StatusAcked, StatusFailed},
	StatusAcked:           {StatusOpen},
	StatusOpen:            {StatusPartiallyFilled, StatusCanceled, StatusRejected, StatusFilled},
	StatusPartiallyFilled: {StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusRejected},
}

// CanTransition valida una transición de estado contra la máquina de §4.4.
func CanTransition(from, to OrderStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal devuelve true si el estado no admite más transiciones.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusFailed:
		return true
	default:
		return false
	}
}

// Order es una submission venue-facing.
type Order struct {
	ClientOrderID string // idempotency key, único globalmente
	VenueOrderID  string // asignado al ack
	Strategy      string
	MarketID      MarketID
	Side          Side
	Price         float64
	Qty           float64
	FilledQty     float64
	Status        OrderStatus

	IntentID   string
	ApprovedID string

	SubmittedAt      time.Time
	AckedAt          time.Time
	FinalAt          time.Time
	SubmitLatencyMs  int64

	LegGroupID string

	// Closing marca una orden sintética emitida para deshacer exposición
	// residual de una pata ya Filled (§4.4 unwind): sus fills cierran lotes
	// del LotBook en lugar de abrir nuevos.
	Closing bool
}

// Transition muta el estado de la orden validando contra la máquina de
// estados, registrando el timestamp de la transición. Nunca es retroactivo.
func (o *Order) Transition(to OrderStatus, at time.Time) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("domain: invalid order transition %s -> %s for %s", o.Status, to, o.ClientOrderID)
	}
	o.Status = to
	switch to {
	case StatusAcked:
		o.AckedAt = at
	case StatusFilled, StatusCanceled, StatusRejected, StatusFailed:
		o.FinalAt = at
	}
	return nil
}

// LiquidityFlag indica si un fill fue maker o taker.
type LiquidityFlag string

const (
	LiquidityMaker LiquidityFlag = "maker"
	LiquidityTaker LiquidityFlag = "taker"
)

// Fill es un evento de ejecución.
type Fill struct {
	FillID        string
	ClientOrderID string
	VenueOrderID  string
	MarketID      MarketID
	Side          Side
	Price         float64
	Qty           float64
	Fee           float64
	Liquidity     LiquidityFlag
	Timestamp     time.Time
	PartialLeg    bool // true si el leg group quedó parcialmente ejecutado
}

// LedgerKind clasifica una entrada del libro de PnL.
type LedgerKind string

const (
	LedgerRealized   LedgerKind = "realized"
	LedgerMTM        LedgerKind = "mtm"
	LedgerFee        LedgerKind = "fee"
	LedgerAdjustment LedgerKind = "adjustment"
)

// PnLLedgerEntry es un registro append-only del libro de PnL.
type PnLLedgerEntry struct {
	EntryID    string
	Kind       LedgerKind
	Reference  string // fill_id / snapshot_id / settlement id
	AmountUSD  float64
	Strategy   string
	MarketID   MarketID
	Timestamp  time.Time
}
