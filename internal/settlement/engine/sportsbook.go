package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/exchange-bet-platform/internal/settlement/revenue"
	walletrepo "github.com/radieske/exchange-bet-platform/internal/wallet/repo"
	"github.com/radieske/exchange-bet-platform/pkg/money"
	"github.com/radieske/exchange-bet-platform/pkg/odds"
)

// Liquidação do sportsbook: apostas confirmadas contra a casa. Sem comissão
// aqui; a margem da casa está embutida no preço.

// bet é a projeção de uma aposta confirmada para fins de liquidação
type bet struct {
	ID        string
	UserID    string
	EventID   string
	Market    string
	Selection string
	Stake     money.Money
	Odds      odds.Odds
}

// settleBets liquida as apostas confirmadas do evento numa transação,
// com retry limitado em conflito de versão de carteira
func (e *Engine) settleBets(ctx context.Context, eventID string, voided bool, winning string) (n int, err error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		n, err = e.trySettleBets(ctx, eventID, voided, winning)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, walletrepo.ErrVersionConflict) {
			return 0, err
		}
		e.log.Warn("wallet version conflict during bet settlement, retrying",
			zap.String("event_id", eventID), zap.Int("attempt", attempt+1))
	}
	return 0, err
}

func (e *Engine) trySettleBets(ctx context.Context, eventID string, voided bool, winning string) (int, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	bets, err := confirmedBetsTx(ctx, tx, eventID)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	settled := 0
	for i := range bets {
		if err := e.settleBetTx(ctx, tx, &bets[i], voided, winning, now); err != nil {
			return 0, err
		}
		settled++
		e.OnBetSettled()
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return settled, nil
}

func confirmedBetsTx(ctx context.Context, tx *sql.Tx, eventID string) ([]bet, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, user_id, event_id, market, selection, stake, currency, odds
		FROM bets
		WHERE event_id=$1 AND status='CONFIRMED'
		ORDER BY created_at ASC
		FOR UPDATE`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bet
	for rows.Next() {
		var (
			b                      bet
			stakeStr, ccy, oddsStr string
		)
		if err := rows.Scan(&b.ID, &b.UserID, &b.EventID, &b.Market, &b.Selection,
			&stakeStr, &ccy, &oddsStr); err != nil {
			return nil, err
		}
		if b.Stake, err = money.FromString(stakeStr, ccy); err != nil {
			return nil, err
		}
		if b.Odds, err = odds.FromString(oddsStr); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// settleBetTx grava o status final da aposta e movimenta carteira e receita.
// O guard status='CONFIRMED' garante liquidação única por aposta.
func (e *Engine) settleBetTx(ctx context.Context, tx *sql.Tx, b *bet,
	voided bool, winning string, now time.Time) error {

	status := "LOST"
	switch {
	case voided:
		status = "VOID"
	case b.Selection == winning:
		status = "WON"
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE bets SET status=$1, settled_at=$2
		WHERE id=$3 AND status='CONFIRMED'`, status, now, b.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		// corrida com outra liquidação do mesmo evento
		return nil
	}

	switch status {
	case "VOID":
		return walletrepo.RefundStakeTx(ctx, tx, b.UserID, b.Stake, "settlement:bet:"+b.ID)
	case "WON":
		payout := b.Odds.Payout(b.Stake)
		if err := walletrepo.CreditPayoutTx(ctx, tx, b.UserID, payout, "settlement:bet:"+b.ID); err != nil {
			return err
		}
		// a casa paga o lucro do apostador
		loss := payout.Sub(b.Stake)
		return revenue.RecordSportsbookTx(ctx, tx, now,
			decimal.Zero, loss.Amount().Neg(), b.Stake.Currency())
	default:
		// stake fica com a casa
		return revenue.RecordSportsbookTx(ctx, tx, now,
			b.Stake.Amount(), b.Stake.Amount(), b.Stake.Currency())
	}
}
