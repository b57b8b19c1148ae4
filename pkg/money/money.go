package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Exponent padrão das moedas suportadas (2 casas = centavos)
const Exponent = 2

// Money representa um valor monetário imutável: quantia decimal + código da moeda.
// Operações exigem a mesma moeda; divergência é erro de programação (panic).
type Money struct {
	amount   decimal.Decimal
	currency string
}

// New cria um Money a partir de um decimal e código de moeda.
// Valores negativos não são permitidos.
func New(amount decimal.Decimal, currency string) (Money, error) {
	if amount.IsNegative() {
		return Money{}, fmt.Errorf("money: negative amount %s", amount)
	}
	if currency == "" {
		return Money{}, fmt.Errorf("money: empty currency")
	}
	return Money{amount: amount, currency: currency}, nil
}

// MustNew é como New, mas entra em panic em caso de erro (uso em constantes/testes)
func MustNew(amount decimal.Decimal, currency string) Money {
	m, err := New(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// FromString cria um Money a partir de uma string decimal ("10.50")
func FromString(s, currency string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return New(d, currency)
}

// Zero retorna o valor zero na moeda informada
func Zero(currency string) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

func (m Money) Amount() decimal.Decimal { return m.amount }
func (m Money) Currency() string        { return m.currency }

func (m Money) IsZero() bool     { return m.amount.IsZero() }
func (m Money) IsPositive() bool { return m.amount.IsPositive() }

// assertSameCurrency aborta se as moedas divergirem (violação de contrato)
func (m Money) assertSameCurrency(o Money) {
	if m.currency != o.currency {
		panic(fmt.Sprintf("money: currency mismatch %s vs %s", m.currency, o.currency))
	}
}

// Add soma dois valores da mesma moeda
func (m Money) Add(o Money) Money {
	m.assertSameCurrency(o)
	return Money{amount: m.amount.Add(o.amount), currency: m.currency}
}

// Sub subtrai; resultado negativo é violação de contrato (panic)
func (m Money) Sub(o Money) Money {
	m.assertSameCurrency(o)
	r := m.amount.Sub(o.amount)
	if r.IsNegative() {
		panic(fmt.Sprintf("money: negative result %s - %s", m.amount, o.amount))
	}
	return Money{amount: r, currency: m.currency}
}

// Mul multiplica por um escalar decimal (ex.: odd, taxa de comissão)
func (m Money) Mul(scalar decimal.Decimal) Money {
	return Money{amount: m.amount.Mul(scalar), currency: m.currency}
}

// Cmp retorna -1, 0 ou 1 comparando com outro valor da mesma moeda
func (m Money) Cmp(o Money) int {
	m.assertSameCurrency(o)
	return m.amount.Cmp(o.amount)
}

func (m Money) Equal(o Money) bool       { return m.Cmp(o) == 0 }
func (m Money) LessThan(o Money) bool    { return m.Cmp(o) < 0 }
func (m Money) GreaterThan(o Money) bool { return m.Cmp(o) > 0 }

// Min retorna o menor entre dois valores
func Min(a, b Money) Money {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Round arredonda para a menor unidade da moeda (meio para cima)
func (m Money) Round() Money {
	return Money{amount: m.amount.Round(Exponent), currency: m.currency}
}

// Truncate descarta casas além da menor unidade (nunca cria valor)
func (m Money) Truncate() Money {
	return Money{amount: m.amount.Truncate(Exponent), currency: m.currency}
}

// String formata como "10.50 BRL"
func (m Money) String() string {
	return m.amount.StringFixed(Exponent) + " " + m.currency
}
