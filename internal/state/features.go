package state

import (
	"math"

	"github.com/alejandrodnm/traderd/internal/domain"
)

// computeFeatures deriva el FeatureVector de un snapshot a partir del book
// top de ambos lados y una ventana corta de historia de midpoints.
//
// Las fórmulas de spread/micro-price/imbalance son estándar de microstructure;
// crowding/toxicity/spread-compression son heurísticas deterministas
// grounded en el estilo de internal/domain/scoring.go (teacher): funciones
// puras sobre book + historia, sin estado oculto, explícitamente pensadas
// para ser sustituidas por una estrategia más sofisticada (§9 open question
// (b) — swappable by design).
func computeFeatures(yes, no domain.BookTop, midHistory []float64) domain.FeatureVector {
	fv := domain.FeatureVector{SchemaVersion: domain.FeatureSchemaVersion}

	yesSpread := yes.AskPrice - yes.BidPrice
	noSpread := no.AskPrice - no.BidPrice
	fv.Values[domain.FeatureSpread] = yesSpread + noSpread

	fv.Values[domain.FeatureMicroPrice] = microPrice(yes)

	fv.Values[domain.FeatureImbalance] = imbalance(yes)

	fv.Values[domain.FeatureVolatility] = realizedVol(midHistory)

	fv.Values[domain.FeatureCrowding] = crowding(yes, no)

	fv.Values[domain.FeatureToxicity] = toxicity(midHistory)

	fv.Values[domain.FeatureSpreadCompression] = spreadCompression(yesSpread+noSpread, midHistory)

	return fv
}

// microPrice pondera bid/ask por el tamaño del lado contrario: un book con
// más tamaño en ask que en bid empuja el micro-price hacia el bid.
func microPrice(top domain.BookTop) float64 {
	totalQty := top.BidQty + top.AskQty
	if totalQty == 0 {
		return (top.BidPrice + top.AskPrice) / 2
	}
	return (top.BidPrice*top.AskQty + top.AskPrice*top.BidQty) / totalQty
}

// imbalance devuelve (bidQty-askQty)/(bidQty+askQty) en [-1, 1].
func imbalance(top domain.BookTop) float64 {
	total := top.BidQty + top.AskQty
	if total == 0 {
		return 0
	}
	return (top.BidQty - top.AskQty) / total
}

// realizedVol es la desviación estándar de los log-returns de midHistory.
func realizedVol(midHistory []float64) float64 {
	if len(midHistory) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(midHistory)-1)
	for i := 1; i < len(midHistory); i++ {
		prev, cur := midHistory[i-1], midHistory[i]
		if prev <= 0 || cur <= 0 {
			continue
		}
		returns = append(returns, math.Log(cur/prev))
	}
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance)
}

// crowding aproxima cuánta liquidez compite cerca del top of book en ambos
// lados; valores altos sugieren un mercado donde el edge de maker se erosiona
// rápido por competencia.
func crowding(yes, no domain.BookTop) float64 {
	return (yes.BidQty + yes.AskQty + no.BidQty + no.AskQty) / 4
}

// toxicity aproxima qué tan direccional ha sido el movimiento reciente del
// midpoint: una racha sostenida en una dirección penaliza estrategias de
// market making pasivo frente a flujo informado.
func toxicity(midHistory []float64) float64 {
	if len(midHistory) < 2 {
		return 0
	}
	first, last := midHistory[0], midHistory[len(midHistory)-1]
	if first == 0 {
		return 0
	}
	return math.Abs(last-first) / first
}

// spreadCompression divide el spread actual por el rango (máximo menos
// mínimo) de los midpoints de la ventana: valores < 1 indican un spread
// menor que la oscilación reciente del precio. Devuelve 1 con historia
// vacía o rango cero.
func spreadCompression(currentSpread float64, midHistory []float64) float64 {
	if len(midHistory) == 0 {
		return 1
	}
	// Sin una serie histórica de spreads dedicada, se usa el rango de la
	// ventana de midpoints como proxy de la volatilidad contra la que se
	// compara el spread actual.
	lo, hi := midHistory[0], midHistory[0]
	for _, m := range midHistory {
		if m < lo {
			lo = m
		}
		if m > hi {
			hi = m
		}
	}
	rng := hi - lo
	if rng == 0 {
		return 1
	}
	return currentSpread / rng
}
