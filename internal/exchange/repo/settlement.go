package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/radieske/exchange-bet-platform/pkg/money"
	"github.com/radieske/exchange-bet-platform/pkg/odds"
)

// Helpers de liquidação: operam dentro da transação do settlement engine,
// que é dono do ciclo de vida do tx.

var ErrAlreadySettled = errors.New("match already settled")

const matchColumns = `id, outcome_id, back_order_id, lay_order_id, back_user_id,
	lay_user_id, maker_order_id, stake, odds, currency, matched_at, settled, settled_at`

// UnsettledMatchesTx carrega (e trava) os matches não liquidados de um
// outcome, na ordem de criação
func UnsettledMatchesTx(ctx context.Context, tx *sql.Tx, outcomeID string) ([]Match, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+matchColumns+`
		FROM exchange_matches
		WHERE outcome_id=$1 AND settled=FALSE
		ORDER BY matched_at ASC
		FOR UPDATE`, outcomeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var (
			m                 Match
			oddsStr, stakeStr string
			ccy               string
			settledAt         sql.NullTime
		)
		if err := rows.Scan(&m.ID, &m.OutcomeID, &m.BackOrderID, &m.LayOrderID,
			&m.BackUserID, &m.LayUserID, &m.MakerOrderID, &stakeStr, &oddsStr,
			&ccy, &m.MatchedAt, &m.Settled, &settledAt); err != nil {
			return nil, err
		}
		if m.Odds, err = odds.FromString(oddsStr); err != nil {
			return nil, err
		}
		if m.Stake, err = money.FromString(stakeStr, ccy); err != nil {
			return nil, err
		}
		if settledAt.Valid {
			t := settledAt.Time
			m.SettledAt = &t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SettleMatchTx grava os campos de liquidação de um match exatamente uma
// vez. winner nil indica push (resultado anulado). O guard settled=FALSE
// garante liquidação at-most-once mesmo sob corrida.
func SettleMatchTx(ctx context.Context, tx *sql.Tx, matchID uuid.UUID, winner *Side,
	backCommission, layCommission money.Money, settledAt time.Time) error {

	var winnerVal any
	if winner != nil {
		winnerVal = string(*winner)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE exchange_matches
		SET settled=TRUE, settled_at=$1, winner_side=$2,
		    back_commission=$3, lay_commission=$4
		WHERE id=$5 AND settled=FALSE`,
		settledAt, winnerVal, backCommission.Amount(), layCommission.Amount(), matchID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadySettled
	}
	return nil
}
