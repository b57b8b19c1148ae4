package strategy

import (
	"github.com/radieske/exchange-bet-platform/pkg/money"
)

// FIFO percorre os candidatos na ordem recebida, preenchendo cada um
// integralmente até esgotar o stake de entrada. Determinística; favorece
// as ordens mais antigas.
type FIFO struct{}

func (FIFO) Name() string { return "fifo" }

func (FIFO) Allocate(incoming money.Money, candidates []Candidate) []Allocation {
	remaining := incoming
	var out []Allocation
	for _, c := range candidates {
		if !remaining.IsPositive() {
			break
		}
		if !c.Unmatched.IsPositive() {
			continue
		}
		fill := money.Min(remaining, c.Unmatched)
		out = append(out, Allocation{OrderID: c.OrderID, Amount: fill})
		remaining = remaining.Sub(fill)
	}
	return out
}
