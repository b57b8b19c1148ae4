package odds

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/radieske/exchange-bet-platform/pkg/money"
)

var one = decimal.NewFromInt(1)
var hundred = decimal.NewFromInt(100)

// Odds representa uma odd decimal imutável (retorno total por unidade apostada).
// Sempre >= 1.0.
type Odds struct {
	value decimal.Decimal
}

// New cria uma odd a partir de um decimal; valores < 1.0 são rejeitados
func New(v decimal.Decimal) (Odds, error) {
	if v.LessThan(one) {
		return Odds{}, fmt.Errorf("odds: value %s below 1.0", v)
	}
	return Odds{value: v}, nil
}

// FromString cria uma odd a partir de uma string decimal ("2.50")
func FromString(s string) (Odds, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Odds{}, fmt.Errorf("odds: parse %q: %w", s, err)
	}
	return New(d)
}

// MustNew é como New, mas entra em panic em caso de erro
func MustNew(v decimal.Decimal) Odds {
	o, err := New(v)
	if err != nil {
		panic(err)
	}
	return o
}

// FromAmerican converte odd americana (+150 / -200) para decimal
func FromAmerican(a int64) (Odds, error) {
	switch {
	case a >= 100:
		return New(one.Add(decimal.NewFromInt(a).Div(hundred)))
	case a <= -100:
		return New(one.Add(hundred.Div(decimal.NewFromInt(-a))))
	default:
		return Odds{}, fmt.Errorf("odds: invalid american odd %d", a)
	}
}

// American converte a odd decimal para o formato americano (arredondado)
func (o Odds) American() int64 {
	profit := o.value.Sub(one)
	if profit.IsZero() {
		// odd 1.0: sem lucro possível, trata como -infinito prático
		return -100000
	}
	if o.value.GreaterThanOrEqual(decimal.NewFromInt(2)) {
		return profit.Mul(hundred).Round(0).IntPart()
	}
	return hundred.Div(profit).Round(0).Neg().IntPart()
}

func (o Odds) Decimal() decimal.Decimal { return o.value }

// Payout calcula o retorno total (stake × odd), arredondado à menor unidade
func (o Odds) Payout(stake money.Money) money.Money {
	return stake.Mul(o.value).Round()
}

// Profit calcula o lucro líquido do backer (payout − stake)
func (o Odds) Profit(stake money.Money) money.Money {
	return o.Payout(stake).Sub(stake)
}

// LayLiability calcula a responsabilidade do layer: stake × (odd − 1)
func (o Odds) LayLiability(stake money.Money) money.Money {
	return stake.Mul(o.value.Sub(one)).Round()
}

func (o Odds) Cmp(other Odds) int    { return o.value.Cmp(other.value) }
func (o Odds) Equal(other Odds) bool { return o.value.Equal(other.value) }

func (o Odds) String() string { return o.value.StringFixed(2) }
