package revenue

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/exchange-bet-platform/pkg/money"
)

// Ledger de receita da casa: uma linha por janela de reporte
// (horária/diária/mensal), acumulando margem de sportsbook e comissão de
// exchange. Só o settlement engine escreve aqui.

// PeriodType identifica a granularidade da janela de reporte
type PeriodType string

const (
	PeriodHourly  PeriodType = "HOURLY"
	PeriodDaily   PeriodType = "DAILY"
	PeriodMonthly PeriodType = "MONTHLY"
)

// allPeriods são as janelas alimentadas em cada liquidação
var allPeriods = []PeriodType{PeriodHourly, PeriodDaily, PeriodMonthly}

// BucketFor devolve os limites da janela que contém o timestamp
func BucketFor(ts time.Time, p PeriodType) (start, end time.Time) {
	ts = ts.UTC()
	switch p {
	case PeriodHourly:
		start = ts.Truncate(time.Hour)
		end = start.Add(time.Hour)
	case PeriodDaily:
		start = time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 0, 1)
	case PeriodMonthly:
		start = time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, 0)
	}
	return start, end
}

// Revenue é a linha persistida de uma janela de reporte.
// Valores líquidos podem ser negativos (a casa pode perder no sportsbook),
// por isso decimal cru em vez do tipo Money.
type Revenue struct {
	PeriodStart        time.Time
	PeriodEnd          time.Time
	PeriodType         PeriodType
	SportsbookGross    decimal.Decimal
	SportsbookNet      decimal.Decimal
	ExchangeCommission decimal.Decimal
	ExchangeVolume     decimal.Decimal
	Currency           string
}

// RecordSportsbookTx acumula receita de sportsbook nas três janelas que
// contêm o instante da liquidação. O upsert por (period_start, period_end,
// period_type) faz criações concorrentes convergirem para uma única linha.
func RecordSportsbookTx(ctx context.Context, tx *sql.Tx, at time.Time,
	gross, net decimal.Decimal, currency string) error {
	return record(ctx, tx, at, gross, net, decimal.Zero, decimal.Zero, currency)
}

// RecordExchangeTx acumula comissão e volume casado de exchange
func RecordExchangeTx(ctx context.Context, tx *sql.Tx, at time.Time,
	commission money.Money, volume money.Money) error {
	return record(ctx, tx, at, decimal.Zero, decimal.Zero,
		commission.Amount(), volume.Amount(), commission.Currency())
}

func record(ctx context.Context, tx *sql.Tx, at time.Time,
	gross, net, commission, volume decimal.Decimal, currency string) error {

	for _, p := range allPeriods {
		start, end := BucketFor(at, p)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO house_revenue
			  (period_start, period_end, period_type, sportsbook_gross, sportsbook_net,
			   exchange_commission, exchange_volume, currency, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),NOW())
			ON CONFLICT (period_start, period_end, period_type) DO UPDATE SET
			  sportsbook_gross    = house_revenue.sportsbook_gross + EXCLUDED.sportsbook_gross,
			  sportsbook_net      = house_revenue.sportsbook_net + EXCLUDED.sportsbook_net,
			  exchange_commission = house_revenue.exchange_commission + EXCLUDED.exchange_commission,
			  exchange_volume     = house_revenue.exchange_volume + EXCLUDED.exchange_volume,
			  updated_at          = NOW()`,
			start, end, p, gross, net, commission, volume, currency)
		if err != nil {
			return err
		}
	}
	return nil
}

// Postgres expõe a leitura do ledger de receita para reporting
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// GetOrCreate retorna a linha da janela que contém periodStart, criando-a
// zerada se ausente
func (p *Postgres) GetOrCreate(ctx context.Context, periodStart time.Time, periodType PeriodType, currency string) (*Revenue, error) {
	start, end := BucketFor(periodStart, periodType)

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO house_revenue
		  (period_start, period_end, period_type, sportsbook_gross, sportsbook_net,
		   exchange_commission, exchange_volume, currency, created_at, updated_at)
		VALUES ($1,$2,$3,0,0,0,0,$4,NOW(),NOW())
		ON CONFLICT (period_start, period_end, period_type) DO NOTHING`,
		start, end, periodType, currency)
	if err != nil {
		return nil, err
	}

	r := &Revenue{PeriodStart: start, PeriodEnd: end, PeriodType: periodType}
	var grossStr, netStr, commStr, volStr string
	err = p.db.QueryRowContext(ctx, `
		SELECT sportsbook_gross, sportsbook_net, exchange_commission, exchange_volume, currency
		FROM house_revenue
		WHERE period_start=$1 AND period_end=$2 AND period_type=$3`,
		start, end, periodType).
		Scan(&grossStr, &netStr, &commStr, &volStr, &r.Currency)
	if err != nil {
		return nil, err
	}
	if r.SportsbookGross, err = decimal.NewFromString(grossStr); err != nil {
		return nil, err
	}
	if r.SportsbookNet, err = decimal.NewFromString(netStr); err != nil {
		return nil, err
	}
	if r.ExchangeCommission, err = decimal.NewFromString(commStr); err != nil {
		return nil, err
	}
	if r.ExchangeVolume, err = decimal.NewFromString(volStr); err != nil {
		return nil, err
	}
	return r, nil
}
