package commission

import (
	"github.com/shopspring/decimal"

	"github.com/radieske/exchange-bet-platform/pkg/money"
)

// Tier é a faixa de comissão por volume de negociação dos últimos 30 dias.
// Enumeração fechada, ordenada do menor para o maior volume.
type Tier int

const (
	TierStandard Tier = iota
	TierBronze
	TierSilver
	TierGold
	TierPlatinum
)

func (t Tier) String() string {
	switch t {
	case TierBronze:
		return "BRONZE"
	case TierSilver:
		return "SILVER"
	case TierGold:
		return "GOLD"
	case TierPlatinum:
		return "PLATINUM"
	default:
		return "STANDARD"
	}
}

// Role indica o papel de liquidez do participante no match
type Role int

const (
	RoleTaker Role = iota // consumiu liquidez: paga a taxa cheia da faixa
	RoleMaker             // proveu liquidez: recebe desconto sobre a taxa
)

func (r Role) String() string {
	if r == RoleMaker {
		return "MAKER"
	}
	return "TAKER"
}

// Tabelas puras de consulta (sem polimorfismo: o espaço de estados é fixo)

// tierBaseRate é a taxa base de comissão por faixa
var tierBaseRate = map[Tier]decimal.Decimal{
	TierStandard: decimal.RequireFromString("0.050"),
	TierBronze:   decimal.RequireFromString("0.045"),
	TierSilver:   decimal.RequireFromString("0.040"),
	TierGold:     decimal.RequireFromString("0.035"),
	TierPlatinum: decimal.RequireFromString("0.030"),
}

// tierThreshold é o volume mínimo de 30 dias para atingir cada faixa,
// em ordem crescente; a maior faixa atingida vence
var tierThreshold = []struct {
	Tier   Tier
	Volume decimal.Decimal
}{
	{TierBronze, decimal.NewFromInt(10_000)},
	{TierSilver, decimal.NewFromInt(50_000)},
	{TierGold, decimal.NewFromInt(200_000)},
	{TierPlatinum, decimal.NewFromInt(1_000_000)},
}

// TierForVolume recalcula a faixa a partir do volume corrente de 30 dias
func TierForVolume(volume money.Money) Tier {
	tier := TierStandard
	for _, th := range tierThreshold {
		if volume.Amount().GreaterThanOrEqual(th.Volume) {
			tier = th.Tier
		}
	}
	return tier
}

// Engine calcula a comissão devida sobre os ganhos líquidos de um match
// liquidado, sensível à faixa e ao papel de cada lado.
type Engine struct {
	makerDiscount decimal.Decimal // fração de desconto sobre a taxa base (ex.: 0.20)
	minCommission money.Money     // piso cobrado quando há ganho líquido positivo
}

func New(makerDiscount decimal.Decimal, minCommission money.Money) *Engine {
	return &Engine{makerDiscount: makerDiscount, minCommission: minCommission}
}

// EffectiveRate aplica o desconto de maker sobre a taxa base da faixa
func (e *Engine) EffectiveRate(tier Tier, role Role) decimal.Decimal {
	rate := tierBaseRate[tier]
	if role == RoleMaker {
		rate = rate.Mul(decimal.NewFromInt(1).Sub(e.makerDiscount))
	}
	return rate
}

// OnNetWinnings calcula a comissão sobre ganhos líquidos (payout − stake).
// Ganho zero ou negativo não gera comissão; ganho positivo respeita o piso
// configurado. Perdedores nunca pagam comissão no match que perderam.
func (e *Engine) OnNetWinnings(net money.Money, tier Tier, role Role) money.Money {
	if !net.IsPositive() {
		return money.Zero(net.Currency())
	}
	c := net.Mul(e.EffectiveRate(tier, role)).Round()
	if c.LessThan(e.minCommission) {
		return e.minCommission
	}
	return c
}
