// Package execution implementa el execution manager (§4.4): convierte
// Approvals en órdenes venue-facing, vigila su ciclo de vida, aplica la
// disciplina de dos patas atómica, y mantiene el libro de PnL por FIFO.
package execution

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/alejandrodnm/traderd/internal/domain"
)

// maxRetries y baseRetryWait heredan el esquema de backoff exponencial de
// internal/adapters/polymarket/client.go's doWithRetry (teacher); a
// diferencia de ese código, aquí SÍ se añade jitter real, porque el venue
// de este dominio puede tener muchos clientes reintentando en sincronía
// tras un error masivo (thundering herd) y el teacher lo pasa por alto.
const (
	maxRetries    = 3
	baseRetryWait = 250 * time.Millisecond
)

// Classify determina si un error del venue adapter es reintentable o
// terminal. Un TransientVenueError se reintenta; un PermanentVenueError
// deja la orden en Rejected/Failed sin más intentos.
func Classify(err error) bool {
	var transient *domain.TransientVenueError
	if errors.As(err, &transient) {
		return true
	}
	var permanent *domain.PermanentVenueError
	if errors.As(err, &permanent) {
		return false
	}
	// Errores no tipados (p. ej. de contexto) se tratan como terminales:
	// mejor fallar explícito que reintentar algo desconocido indefinidamente.
	return false
}

// WithRetry ejecuta fn reintentando con backoff exponencial + jitter hasta
// maxRetries veces mientras Classify(err) devuelva true.
func WithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !Classify(err) || attempt == maxRetries {
			return lastErr
		}
		sleepWithJitter(ctx, attempt)
	}
	return lastErr
}

func sleepWithJitter(ctx context.Context, attempt int) {
	base := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	jitter := time.Duration(rand.Int63n(int64(baseRetryWait)))
	wait := base + jitter
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
