package stats

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/radieske/exchange-bet-platform/pkg/money"
)

// Estatísticas por usuário: janela móvel de 30 dias (base do tier de
// comissão) e contadores de vida inteira. Alimentado exclusivamente pela
// transação de liquidação.

// janela móvel do tier de comissão
const rollingWindow = 30 * 24 * time.Hour

// Stats são os contadores de vida inteira de um usuário
type Stats struct {
	UserID            string
	AllTimeVolume     decimal.Decimal
	AllTimeCommission decimal.Decimal
	AllTimeTradeCount int64
	UpdatedAt         time.Time
}

// Rolling30dVolumeTx soma o volume casado dos últimos 30 dias dentro da
// transação corrente. É o insumo do cálculo de tier no momento da liquidação.
func Rolling30dVolumeTx(ctx context.Context, tx *sql.Tx, userID string, currency string, now time.Time) (money.Money, error) {
	var volStr string
	err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(volume), 0)
		FROM user_trades
		WHERE user_id = $1 AND traded_at > $2`,
		userID, now.Add(-rollingWindow)).Scan(&volStr)
	if err != nil {
		return money.Money{}, err
	}
	vol, err := decimal.NewFromString(volStr)
	if err != nil {
		return money.Money{}, err
	}
	return money.New(vol, currency)
}

// RecordTradeTx registra um lado liquidado de um match: uma linha em
// user_trades para a janela móvel e o upsert dos contadores de vida inteira
func RecordTradeTx(ctx context.Context, tx *sql.Tx, userID string, matchID uuid.UUID,
	volume money.Money, commission money.Money, tradedAt time.Time) error {

	_, err := tx.ExecContext(ctx, `
		INSERT INTO user_trades (id, user_id, match_id, volume, commission, currency, traded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), userID, matchID, volume.Amount(), commission.Amount(),
		volume.Currency(), tradedAt)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_stats (user_id, all_time_volume, all_time_commission, all_time_trades, updated_at)
		VALUES ($1, $2, $3, 1, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
		  all_time_volume     = user_stats.all_time_volume + EXCLUDED.all_time_volume,
		  all_time_commission = user_stats.all_time_commission + EXCLUDED.all_time_commission,
		  all_time_trades     = user_stats.all_time_trades + 1,
		  updated_at          = NOW()`,
		userID, volume.Amount(), commission.Amount())
	return err
}

// Postgres expõe leituras de estatística fora do caminho de liquidação
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// Get retorna os contadores de vida inteira; usuário sem trades recebe zeros
func (p *Postgres) Get(ctx context.Context, userID string) (*Stats, error) {
	s := &Stats{UserID: userID}
	var volStr, commStr string
	err := p.db.QueryRowContext(ctx, `
		SELECT all_time_volume, all_time_commission, all_time_trades, updated_at
		FROM user_stats WHERE user_id = $1`, userID).
		Scan(&volStr, &commStr, &s.AllTimeTradeCount, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		s.AllTimeVolume = decimal.Zero
		s.AllTimeCommission = decimal.Zero
		s.UpdatedAt = time.Now().UTC()
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if s.AllTimeVolume, err = decimal.NewFromString(volStr); err != nil {
		return nil, err
	}
	if s.AllTimeCommission, err = decimal.NewFromString(commStr); err != nil {
		return nil, err
	}
	return s, nil
}

// Rolling30dVolume é a variante fora de transação, usada por consultas de API
func (p *Postgres) Rolling30dVolume(ctx context.Context, userID string, currency string) (money.Money, error) {
	var volStr string
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(volume), 0)
		FROM user_trades
		WHERE user_id = $1 AND traded_at > $2`,
		userID, time.Now().UTC().Add(-rollingWindow)).Scan(&volStr)
	if err != nil {
		return money.Money{}, err
	}
	vol, err := decimal.NewFromString(volStr)
	if err != nil {
		return money.Money{}, err
	}
	return money.New(vol, currency)
}
