package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/radieske/exchange-bet-platform/pkg/money"
)

// Hybrid reserva uma fração do stake de entrada para alocação FIFO nas
// primeiras TopN ordens e distribui o restante pro-rata sobre toda a
// capacidade remanescente (incluindo a sobra das TopN). Protege provedores
// de liquidez antigos sem deixar de recompensar profundidade.
//
// Estratégia default da plataforma (TopN=1, TopFraction=0.40).
type Hybrid struct {
	TopN        int
	TopFraction decimal.Decimal // fração do stake reservada ao bloco FIFO (0..1)
}

// NewHybrid valida os parâmetros de configuração da estratégia híbrida
func NewHybrid(topN int, topFraction decimal.Decimal) (Hybrid, error) {
	if topN < 1 {
		return Hybrid{}, fmt.Errorf("strategy: hybrid topN must be >= 1, got %d", topN)
	}
	if topFraction.IsNegative() || topFraction.GreaterThan(decimal.NewFromInt(1)) {
		return Hybrid{}, fmt.Errorf("strategy: hybrid topFraction must be in [0,1], got %s", topFraction)
	}
	return Hybrid{TopN: topN, TopFraction: topFraction}, nil
}

func (Hybrid) Name() string { return "hybrid" }

func (h Hybrid) Allocate(incoming money.Money, candidates []Candidate) []Allocation {
	if len(candidates) == 0 || !incoming.IsPositive() {
		return nil
	}

	currency := incoming.Currency()

	// Bloco FIFO: fração reservada, limitada às TopN primeiras ordens
	reserved := incoming.Mul(h.TopFraction).Truncate()
	top := candidates
	if len(top) > h.TopN {
		top = candidates[:h.TopN]
	}
	fifoAllocs := FIFO{}.Allocate(money.Min(reserved, incoming), top)

	allocated := make(map[int]money.Money, len(candidates))
	fifoTotal := money.Zero(currency)
	for _, a := range fifoAllocs {
		for i, c := range candidates {
			if c.OrderID == a.OrderID {
				allocated[i] = a.Amount
				break
			}
		}
		fifoTotal = fifoTotal.Add(a.Amount)
	}

	// O que o bloco FIFO não consumiu (inclusive fração reservada não usada)
	// entra no rateio pro-rata sobre a capacidade que sobrou de todos.
	pot := incoming.Sub(fifoTotal)
	rest := make([]Candidate, len(candidates))
	for i, c := range candidates {
		left := c.Unmatched
		if got, ok := allocated[i]; ok {
			left = left.Sub(got)
		}
		rest[i] = Candidate{OrderID: c.OrderID, Unmatched: left, CreatedAt: c.CreatedAt}
	}
	proAllocs := ProRata{}.Allocate(pot, rest)

	// Funde os dois blocos preservando a ordem dos candidatos
	merged := make(map[int]money.Money, len(candidates))
	for i, amt := range allocated {
		merged[i] = amt
	}
	for _, a := range proAllocs {
		for i, c := range candidates {
			if c.OrderID == a.OrderID {
				if cur, ok := merged[i]; ok {
					merged[i] = cur.Add(a.Amount)
				} else {
					merged[i] = a.Amount
				}
				break
			}
		}
	}

	var out []Allocation
	for i, c := range candidates {
		if amt, ok := merged[i]; ok && amt.IsPositive() {
			out = append(out, Allocation{OrderID: c.OrderID, Amount: amt})
		}
	}
	return out
}
