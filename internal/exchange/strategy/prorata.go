package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/radieske/exchange-bet-platform/pkg/money"
)

// ProRata divide o stake de entrada entre todos os candidatos elegíveis,
// proporcionalmente à capacidade de cada um, com teto no unmatched do
// candidato. Sobras de teto são redistribuídas pro-rata entre os demais
// até ponto fixo. Recompensa tamanho, não ordem de chegada.
type ProRata struct{}

func (ProRata) Name() string { return "prorata" }

func (ProRata) Allocate(incoming money.Money, candidates []Candidate) []Allocation {
	shares := prorataShares(incoming, candidates)
	target := money.Min(incoming, sumUnmatched(incoming.Currency(), candidates))
	return roundShares(target, candidates, shares)
}

// prorataShares calcula as frações brutas (sem arredondar) de cada candidato.
// Índices sem alocação ficam com decimal zero.
func prorataShares(incoming money.Money, candidates []Candidate) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(candidates))
	for i := range shares {
		shares[i] = decimal.Zero
	}

	currency := incoming.Currency()
	total := sumUnmatched(currency, candidates)
	if !total.IsPositive() || !incoming.IsPositive() {
		return shares
	}

	remaining := money.Min(incoming, total).Amount()
	active := make([]int, 0, len(candidates))
	for i, c := range candidates {
		if c.Unmatched.IsPositive() {
			active = append(active, i)
		}
	}

	// Itera até ponto fixo: candidatos cujo quinhão ideal excede o teto
	// recebem o teto e saem do rateio; o restante é redistribuído.
	for len(active) > 0 && remaining.IsPositive() {
		pool := decimal.Zero
		for _, i := range active {
			pool = pool.Add(candidates[i].Unmatched.Amount())
		}

		if pool.LessThanOrEqual(remaining) {
			// Todos atingem o teto
			for _, i := range active {
				shares[i] = candidates[i].Unmatched.Amount()
			}
			break
		}

		capped := false
		next := active[:0]
		for _, i := range active {
			limit := candidates[i].Unmatched.Amount()
			ideal := remaining.Mul(limit).Div(pool)
			if ideal.GreaterThanOrEqual(limit) {
				shares[i] = limit
				remaining = remaining.Sub(limit)
				capped = true
			} else {
				next = append(next, i)
			}
		}
		active = next

		if !capped {
			// Ninguém no teto: distribui exato e encerra
			for _, i := range active {
				shares[i] = remaining.Mul(candidates[i].Unmatched.Amount()).Div(pool)
			}
			break
		}
	}

	return shares
}

// roundShares trunca cada fração à menor unidade da moeda e entrega a sobra
// ao candidato listado mais cedo com capacidade, mantendo o total exato
// igual ao alvo. Nenhum valor é criado ou destruído pelo arredondamento.
func roundShares(target money.Money, candidates []Candidate, shares []decimal.Decimal) []Allocation {
	currency := target.Currency()
	roundedTotal := decimal.Zero
	rounded := make([]decimal.Decimal, len(shares))
	for i, s := range shares {
		rounded[i] = s.Truncate(money.Exponent)
		roundedTotal = roundedTotal.Add(rounded[i])
	}

	leftover := target.Amount().Sub(roundedTotal)
	for i := range rounded {
		if !leftover.IsPositive() {
			break
		}
		headroom := candidates[i].Unmatched.Amount().Sub(rounded[i])
		if headroom.IsPositive() {
			give := decimal.Min(leftover, headroom)
			rounded[i] = rounded[i].Add(give)
			leftover = leftover.Sub(give)
		}
	}

	var out []Allocation
	for i, r := range rounded {
		if r.IsPositive() {
			out = append(out, Allocation{
				OrderID: candidates[i].OrderID,
				Amount:  money.MustNew(r, currency),
			})
		}
	}
	return out
}
