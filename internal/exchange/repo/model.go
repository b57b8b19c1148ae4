package repo

import (
	"time"

	"github.com/google/uuid"

	"github.com/radieske/exchange-bet-platform/pkg/money"
	"github.com/radieske/exchange-bet-platform/pkg/odds"
)

// Side indica se a ordem aposta a favor (BACK) ou contra (LAY) um resultado
type Side string

const (
	SideBack Side = "BACK"
	SideLay  Side = "LAY"
)

// Opposite retorna o lado contrário
func (s Side) Opposite() Side {
	if s == SideBack {
		return SideLay
	}
	return SideBack
}

// Status do ciclo de vida de uma ordem de exchange
type Status string

const (
	StatusUnmatched        Status = "UNMATCHED"
	StatusPartiallyMatched Status = "PARTIALLY_MATCHED"
	StatusMatched          Status = "MATCHED"
	StatusCancelled        Status = "CANCELLED"
)

// Order é uma ordem de exchange persistida no Postgres.
// Invariante: MatchedStake + UnmatchedStake = TotalStake.
// Mutada apenas pelo matching engine (match/cancel), nunca pela liquidação.
type Order struct {
	ID             uuid.UUID
	BetID          uuid.UUID // aposta dona da ordem (única por ordem)
	UserID         string
	OutcomeID      string
	Side           Side
	Odds           odds.Odds
	TotalStake     money.Money
	MatchedStake   money.Money
	UnmatchedStake money.Money
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FullyMatched indica se a ordem não tem mais stake disponível
func (o *Order) FullyMatched() bool { return !o.UnmatchedStake.IsPositive() }

// Match é o casamento entre uma ordem BACK e uma LAY. Imutável após criado,
// exceto pelos campos de liquidação, gravados exatamente uma vez.
type Match struct {
	ID           uuid.UUID
	OutcomeID    string
	BackOrderID  uuid.UUID
	LayOrderID   uuid.UUID
	BackUserID   string
	LayUserID    string
	MakerOrderID uuid.UUID // ordem que já estava no book (proveu liquidez)
	Stake        money.Money
	Odds         odds.Odds // preço de execução (odds do taker)
	MatchedAt    time.Time

	Settled        bool
	SettledAt      *time.Time
	WinnerSide     *Side // nil após liquidação = push (resultado anulado)
	BackCommission *money.Money
	LayCommission  *money.Money
}

// MakerSide retorna o lado da ordem maker deste match
func (m *Match) MakerSide() Side {
	if m.MakerOrderID == m.BackOrderID {
		return SideBack
	}
	return SideLay
}

// BookEntry é uma linha do order book exposta em consultas (preço/tempo)
type BookEntry struct {
	OrderID        uuid.UUID
	Side           Side
	Odds           odds.Odds
	UnmatchedStake money.Money
	CreatedAt      time.Time
}
