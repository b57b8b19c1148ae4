package strategy

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/radieske/exchange-bet-platform/pkg/money"
)

// Candidate é uma ordem oposta elegível, já ordenada pelo chamador
// (melhor preço primeiro, depois criação mais antiga).
type Candidate struct {
	OrderID   uuid.UUID
	Unmatched money.Money
	CreatedAt time.Time
}

// Allocation indica quanto do stake de entrada vai para cada candidato
type Allocation struct {
	OrderID uuid.UUID
	Amount  money.Money
}

// Allocator é a estratégia de alocação plugável do matching engine.
// Contrato: Σ Amount <= incoming e cada Amount <= candidato.Unmatched.
// Implementações são puras e livres de efeitos colaterais.
type Allocator interface {
	Allocate(incoming money.Money, candidates []Candidate) []Allocation
	Name() string
}

// FromConfig resolve a estratégia configurada no start do processo.
// name: "fifo" | "prorata" | "hybrid" (default hybrid)
func FromConfig(name string, topN int, topFraction decimal.Decimal) (Allocator, error) {
	switch name {
	case "fifo":
		return FIFO{}, nil
	case "prorata":
		return ProRata{}, nil
	case "hybrid", "":
		return NewHybrid(topN, topFraction)
	default:
		return nil, fmt.Errorf("strategy: unknown strategy %q", name)
	}
}

// sumUnmatched soma a capacidade disponível dos candidatos
func sumUnmatched(currency string, cands []Candidate) money.Money {
	total := money.Zero(currency)
	for _, c := range cands {
		total = total.Add(c.Unmatched)
	}
	return total
}
