// Package reference contiene una estrategia de ejemplo que ejercita el
// contrato completo de propuesta de intents (§9 de la especificación): un
// detector de arbitraje box/complementario entre los tokens YES/NO de un
// mismo mercado.
//
// La matemática está grounded en internal/domain/arbitrage.go y scoring.go
// del repo teacher (CalculateArbitrage, VolumeWeightedPrice, Categorize,
// SpreadTotal), migrada aquí porque la especificación trata la lógica de
// estrategias como un plugin externo al kernel, no como parte del dominio.
package reference

import (
	"time"

	"github.com/alejandrodnm/traderd/internal/domain"
)

// goldThreshold y silverThreshold clasifican qué tan por debajo de 1.0 está
// la suma de los mejores asks YES+NO; valores heredados tal cual del
// teacher (goldArbThreshold/silverArbThreshold).
const (
	goldThreshold   = -0.02
	silverThreshold = -0.05
)

// Opportunity resume la oportunidad de arbitraje detectada en un snapshot.
type Opportunity struct {
	MarketID      domain.MarketID
	BestAskYes    float64
	BestAskNo     float64
	SumBestAsk    float64
	Gap           float64 // 1.0 - SumBestAsk - 2*feeRate; positivo significa arbitraje
	Grade         string  // "gold" | "silver" | "bronze" | "avoid"
	VWAskYesAt100 float64
	VWAskNoAt100  float64
}

// volumeWeightedAsk camina el lado ask acumulando tamaño hasta maxUSDC de
// presupuesto y devuelve el precio promedio ponderado por volumen.
// Grounded en domain/arbitrage.go's VolumeWeightedPrice (teacher).
func volumeWeightedAsk(asks []domain.BookEntry, maxUSDC float64) float64 {
	var spentUSDC, qty float64
	for _, lvl := range asks {
		levelUSDC := lvl.Price * lvl.Size
		if spentUSDC+levelUSDC >= maxUSDC {
			remaining := maxUSDC - spentUSDC
			qty += remaining / lvl.Price
			spentUSDC = maxUSDC
			break
		}
		spentUSDC += levelUSDC
		qty += lvl.Size
	}
	if qty == 0 {
		return 0
	}
	return spentUSDC / qty
}

// Detect evalúa un OrderBook YES/NO completo en busca de arbitraje
// box/complementario. feeRate es la comisión del venue expresada como
// fracción del notional de cada leg.
func Detect(marketID domain.MarketID, yesBook, noBook domain.OrderBook, feeRate float64) Opportunity {
	o := Opportunity{MarketID: marketID, Grade: "avoid"}

	yesAsk := yesBook.BestAsk()
	noAsk := noBook.BestAsk()
	if yesAsk == 0 || noAsk == 0 {
		return o
	}

	o.BestAskYes = yesAsk
	o.BestAskNo = noAsk
	o.SumBestAsk = o.BestAskYes + o.BestAskNo
	o.Gap = 1.0 - o.SumBestAsk - 2*feeRate

	o.VWAskYesAt100 = volumeWeightedAsk(yesBook.Asks, 100)
	o.VWAskNoAt100 = volumeWeightedAsk(noBook.Asks, 100)

	negGap := -o.Gap
	switch {
	case negGap <= goldThreshold:
		o.Grade = "gold"
	case negGap <= silverThreshold:
		o.Grade = "silver"
	case o.Gap > 0:
		o.Grade = "bronze"
	default:
		o.Grade = "avoid"
	}
	return o
}

// Propose convierte una Opportunity en un par de Intent (leg YES + leg NO)
// cuando el gap es suficientemente favorable, grounded en
// original_source/crates/strategies's trait Strategy { fn propose(&self) }.
// Devuelve nil si no hay oportunidad accionable.
func Propose(snapshotID, strategyName string, o Opportunity, size float64, now time.Time) []domain.Intent {
	if o.Grade == "avoid" || o.Gap <= 0 {
		return nil
	}

	legGroup := domain.NewID()
	ev := o.Gap * size

	mk := func(side domain.Side, price float64) domain.Intent {
		return domain.Intent{
			IntentID:      domain.NewID(),
			SnapshotID:    snapshotID,
			Strategy:      strategyName,
			Tier:          domain.TierArb,
			MarketID:      o.MarketID,
			Kind:          domain.IntentPlaceOrder,
			Side:          side,
			Price:         price,
			Size:          size,
			Urgency:       domain.UrgencyTaker,
			TTL:           3 * time.Second,
			ExpectedValue: ev / 2,
			Confidence:    gradeConfidence(o.Grade),
			RiskCost:      0,
			Tags:          []string{"box_arb", o.Grade},
			Rationale:     "complementary sum below 1.0 minus fees",
			CreatedAt:     now,
			LegGroupID:    legGroup,
		}
	}

	return []domain.Intent{
		mk(domain.SideYes, o.BestAskYes),
		mk(domain.SideNo, o.BestAskNo),
	}
}

func gradeConfidence(grade string) float64 {
	switch grade {
	case "gold":
		return 0.95
	case "silver":
		return 0.8
	case "bronze":
		return 0.6
	default:
		return 0
	}
}
