package arbiter

import (
	"sync"
	"time"

	"github.com/alejandrodnm/traderd/internal/domain"
)

// dedupWindow es cuánto tiempo se recuerda la huella de un intent ya
// visto para detectar reenvíos idénticos de una estrategia que no se dio
// cuenta de que su propuesta anterior sigue vigente.
const dedupWindow = 2 * time.Second

// dedupKey es la huella de un intent: misma estrategia, mercado, acción,
// lado, precio y tamaño dentro de la ventana se consideran el mismo intent.
type dedupKey struct {
	strategy string
	market   domain.MarketID
	kind     domain.IntentKind
	side     domain.Side
	price    float64
	size     float64
}

func keyOf(i domain.Intent) dedupKey {
	return dedupKey{
		strategy: i.Strategy,
		market:   i.MarketID,
		kind:     i.Kind,
		side:     i.Side,
		price:    i.Price,
		size:     i.Size,
	}
}

// dedupCache recuerda la última vez que se vio una huella de intent,
// grounded en el estilo de cache de sqlite.go (teacher)'s cachedState idea:
// un mapa protegido por mutex con poda perezosa en cada Seen.
type dedupCache struct {
	mu   sync.Mutex
	seen map[dedupKey]time.Time
}

func newDedupCache() *dedupCache {
	return &dedupCache{seen: make(map[dedupKey]time.Time)}
}

// Seen devuelve true si esta huella ya fue vista dentro de dedupWindow, y
// en cualquier caso actualiza el timestamp de la huella.
func (d *dedupCache) Seen(i domain.Intent, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := keyOf(i)
	last, ok := d.seen[k]
	d.seen[k] = now

	if len(d.seen) > 4096 {
		for key, ts := range d.seen {
			if now.Sub(ts) > dedupWindow {
				delete(d.seen, key)
			}
		}
	}

	return ok && now.Sub(last) < dedupWindow
}
