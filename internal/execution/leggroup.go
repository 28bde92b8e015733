package execution

import (
	"context"
	"time"

	"github.com/alejandrodnm/traderd/internal/domain"
)

// legGroupWindow es cuánto se espera a que todas las patas de un leg group
// salgan de Submitted/Acked antes de declarar el grupo desbalanceado y
// disparar el unwind de las patas que sí prendieron.
//
// Grounded en placeOrderPair (teacher): ahí, si la pata NO falla al
// enviarse, se cancela inmediatamente la pata YES ya colocada. Aquí se
// generaliza a N patas (el spec solo exige 2, pero LegGroupID no limita el
// tamaño del grupo) y a fallos que ocurren después del ack, no solo al
// envío.
const legGroupWindow = 5 * time.Second

// live devuelve true si st es un estado que representa exposición real en
// el venue (no solo "enviado, esperando ack").
func live(st domain.OrderStatus) bool {
	switch st {
	case domain.StatusOpen, domain.StatusPartiallyFilled, domain.StatusFilled:
		return true
	default:
		return false
	}
}

// pending devuelve true si st todavía puede resolverse a live o a terminal
// (el grupo debe seguir esperando).
func pending(st domain.OrderStatus) bool {
	return st == domain.StatusSubmitted || st == domain.StatusAcked
}

// AwaitBalance espera hasta legGroupWindow a que todas las órdenes de un
// leg group abandonen Submitted/Acked. statusOf es invocado por el caller
// para obtener el estado actual de cada orden (consultando el estado en
// memoria del execution manager); no bloquea en I/O de venue.
//
// Si al cabo de la ventana alguna pata quedó en un estado terminal sin fill
// (Rejected/Failed/Canceled) mientras otra quedó live (Open/PartiallyFilled/
// Filled), el grupo está desbalanceado. Las patas live se separan en dos
// tratamientos (§4.4 two-leg discipline, "issue an unwinding Cancel on the
// unfilled leg and, if residual exposure remains on the filled side, emit a
// synthetic Flatten intent for that leg"): toCancel son Open/PartiallyFilled
// (nunca llegaron a Filled, un Cancel simple las deshace) y toFlatten son
// Filled (la transición Filled→Canceled es ilegal en la máquina de estados
// de §4.4; su exposición solo se cierra con una orden de cierre nueva).
// Ambos devuelven nil si el grupo cerró balanceado.
func AwaitBalance(ctx context.Context, clientOrderIDs []string, statusOf func(string) domain.OrderStatus) (toCancel, toFlatten []string) {
	deadline := time.Now().Add(legGroupWindow)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

waitLoop:
	for {
		anyPending := false
		for _, id := range clientOrderIDs {
			if pending(statusOf(id)) {
				anyPending = true
				break
			}
		}
		if !anyPending || time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			break waitLoop
		case <-ticker.C:
		}
	}

	var anyLive, anyDeadTerminal bool
	for _, id := range clientOrderIDs {
		st := statusOf(id)
		if live(st) {
			anyLive = true
		} else if !pending(st) {
			anyDeadTerminal = true
		}
	}
	if !anyLive || !anyDeadTerminal {
		return nil, nil
	}
	for _, id := range clientOrderIDs {
		switch statusOf(id) {
		case domain.StatusFilled:
			toFlatten = append(toFlatten, id)
		case domain.StatusOpen, domain.StatusPartiallyFilled:
			toCancel = append(toCancel, id)
		}
	}
	return toCancel, toFlatten
}
