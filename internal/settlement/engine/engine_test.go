package engine

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	exrepo "github.com/radieske/exchange-bet-platform/internal/exchange/repo"
	"github.com/radieske/exchange-bet-platform/internal/settlement/commission"
	"github.com/radieske/exchange-bet-platform/pkg/money"
	"github.com/radieske/exchange-bet-platform/pkg/odds"
)

func TestWinningSelection(t *testing.T) {
	cases := []struct {
		home, away int
		want       string
	}{
		{3, 1, "home"},
		{0, 2, "away"},
		{1, 1, "draw"},
		{0, 0, "draw"},
	}
	for _, c := range cases {
		s := FinalScore{HomeScore: c.home, AwayScore: c.away}
		assert.Equal(t, c.want, s.WinningSelection())
	}
}

func TestPayoutFor(t *testing.T) {
	backUser, layUser := "backer", "layer"
	m := &exrepo.Match{
		BackUserID: backUser,
		LayUserID:  layUser,
		Stake:      money.MustNew(dec("100"), "BRL"),
		Odds:       odds.MustNew(dec("2.50")),
	}

	// BACK vence: recupera 100 de stake e leva 150 de liability do layer
	user, net, gross := payoutFor(m, exrepo.SideBack)
	assert.Equal(t, backUser, user)
	assert.Equal(t, "150.00 BRL", net.String())
	assert.Equal(t, "250.00 BRL", gross.String())

	// LAY vence: recupera 150 de liability e leva a stake de 100 do backer
	user, net, gross = payoutFor(m, exrepo.SideLay)
	assert.Equal(t, layUser, user)
	assert.Equal(t, "100.00 BRL", net.String())
	assert.Equal(t, "250.00 BRL", gross.String())
}

func TestSettleBetAlreadySettledIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	e := newTestEngine(db)

	mock.ExpectBegin()
	// guard status='CONFIRMED' não casa: zero linhas, nenhuma movimentação
	mock.ExpectExec(`UPDATE bets SET status=\$1`).
		WithArgs("WON", sqlmock.AnyArg(), "bet-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := db.Begin()
	require.NoError(t, err)
	b := &bet{ID: "bet-1", UserID: "user-1", Selection: "home",
		Stake: money.MustNew(dec("100"), "BRL"), Odds: odds.MustNew(dec("2.50"))}
	err = e.settleBetTx(context.Background(), tx, b, false, "home", time.Now().UTC())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettleBetWonCreditsStakeTimesOdds(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	e := newTestEngine(db)
	walletID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE bets SET status=\$1`).
		WithArgs("WON", sqlmock.AnyArg(), "bet-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, version FROM wallets WHERE user_id=\$1`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version"}).AddRow(walletID, int64(3)))
	mock.ExpectExec(`UPDATE wallets SET balance=balance\+\$1, total_won=total_won\+\$1`).
		WithArgs("250", walletID, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO wallet_ledger`).
		WithArgs(walletID, "PAYOUT", "250", "BRL", "payout:settlement:bet:bet-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	// acumula a perda da casa nas três janelas de reporte
	for i := 0; i < 3; i++ {
		mock.ExpectExec(`INSERT INTO house_revenue`).
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
				"0", "-150", "0", "0", "BRL").
			WillReturnResult(sqlmock.NewResult(1, 1))
	}

	tx, err := db.Begin()
	require.NoError(t, err)
	b := &bet{ID: "bet-1", UserID: "user-1", EventID: "ev-1", Selection: "home",
		Stake: money.MustNew(dec("100"), "BRL"), Odds: odds.MustNew(dec("2.50"))}
	err = e.settleBetTx(context.Background(), tx, b, false, "home", time.Now().UTC())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettleBetLostKeepsStakeAsRevenue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	e := newTestEngine(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE bets SET status=\$1`).
		WithArgs("LOST", sqlmock.AnyArg(), "bet-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	for i := 0; i < 3; i++ {
		mock.ExpectExec(`INSERT INTO house_revenue`).
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
				"100", "100", "0", "0", "BRL").
			WillReturnResult(sqlmock.NewResult(1, 1))
	}

	tx, err := db.Begin()
	require.NoError(t, err)
	b := &bet{ID: "bet-2", UserID: "user-2", Selection: "away",
		Stake: money.MustNew(dec("100"), "BRL"), Odds: odds.MustNew(dec("1.80"))}
	err = e.settleBetTx(context.Background(), tx, b, false, "home", time.Now().UTC())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// match de teste: 100 BRL @ 2.50, back de alice como maker, lay de bob
func testMatch() *exrepo.Match {
	backOrder := uuid.New()
	return &exrepo.Match{
		ID:           uuid.New(),
		OutcomeID:    "oc-1",
		BackOrderID:  backOrder,
		LayOrderID:   uuid.New(),
		BackUserID:   "alice",
		LayUserID:    "bob",
		MakerOrderID: backOrder,
		Stake:        money.MustNew(dec("100"), "BRL"),
		Odds:         odds.MustNew(dec("2.50")),
		MatchedAt:    time.Now().UTC(),
	}
}

func TestSettleMatchBackWinsPaysTieredCommission(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	e := newTestEngine(db)
	m := testMatch()
	aliceWallet := uuid.New()

	mock.ExpectBegin()
	// tier no momento da liquidação: volume 30d zero => STANDARD (5%);
	// alice é maker, desconto de 20% => taxa efetiva 4% sobre net 150 = 6
	mock.ExpectQuery(`SELECT COALESCE`).
		WithArgs("alice", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("0"))
	mock.ExpectExec(`UPDATE exchange_matches`).
		WithArgs(sqlmock.AnyArg(), "BACK", "6", "0", m.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// crédito = bruto 250 menos comissão 6
	mock.ExpectQuery(`SELECT id, version FROM wallets WHERE user_id=\$1`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version"}).AddRow(aliceWallet, int64(7)))
	mock.ExpectExec(`UPDATE wallets SET balance=balance\+\$1, total_won=total_won\+\$1`).
		WithArgs("244", aliceWallet, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO wallet_ledger`).
		WithArgs(aliceWallet, "PAYOUT", "244", "BRL", "payout:settlement:match:"+m.ID.String()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	// os dois lados entram nas estatísticas; só a vencedora paga comissão
	mock.ExpectExec(`INSERT INTO user_trades`).
		WithArgs(sqlmock.AnyArg(), "alice", m.ID, "100", "6", "BRL", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO user_stats`).
		WithArgs("alice", "100", "6").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO user_trades`).
		WithArgs(sqlmock.AnyArg(), "bob", m.ID, "100", "0", "BRL", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO user_stats`).
		WithArgs("bob", "100", "0").
		WillReturnResult(sqlmock.NewResult(1, 1))
	for i := 0; i < 3; i++ {
		mock.ExpectExec(`INSERT INTO house_revenue`).
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
				"0", "0", "6", "100", "BRL").
			WillReturnResult(sqlmock.NewResult(1, 1))
	}

	tx, err := db.Begin()
	require.NoError(t, err)
	push, err := e.settleMatchTx(context.Background(), tx, m, OutcomeWinner, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, push)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettleMatchVoidRefundsBothSides(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	e := newTestEngine(db)
	m := testMatch()
	aliceWallet, bobWallet := uuid.New(), uuid.New()
	ref := "refund:settlement:push:" + m.ID.String()

	mock.ExpectBegin()
	// push: winner_side nulo, comissão zero dos dois lados
	mock.ExpectExec(`UPDATE exchange_matches`).
		WithArgs(sqlmock.AnyArg(), nil, "0", "0", m.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// o backer recupera a stake
	mock.ExpectQuery(`SELECT id, version FROM wallets WHERE user_id=\$1`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version"}).AddRow(aliceWallet, int64(1)))
	mock.ExpectExec(`UPDATE wallets SET balance=balance\+\$1, version=version\+1`).
		WithArgs("100", aliceWallet, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO wallet_ledger`).
		WithArgs(aliceWallet, "REFUND", "100", "BRL", ref).
		WillReturnResult(sqlmock.NewResult(1, 1))
	// o layer recupera a liability (100 × 1.50)
	mock.ExpectQuery(`SELECT id, version FROM wallets WHERE user_id=\$1`).
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version"}).AddRow(bobWallet, int64(2)))
	mock.ExpectExec(`UPDATE wallets SET balance=balance\+\$1, version=version\+1`).
		WithArgs("150", bobWallet, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO wallet_ledger`).
		WithArgs(bobWallet, "REFUND", "150", "BRL", ref).
		WillReturnResult(sqlmock.NewResult(1, 1))

	tx, err := db.Begin()
	require.NoError(t, err)
	push, err := e.settleMatchTx(context.Background(), tx, m, OutcomeVoid, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, push)
	// sem stats nem receita num push
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettleMatchAlreadySettledSkips(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	e := newTestEngine(db)
	m := testMatch()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE`).
		WithArgs("alice", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("0"))
	// guard settled=FALSE não casa: liquidação concorrente já passou aqui
	mock.ExpectExec(`UPDATE exchange_matches`).
		WithArgs(sqlmock.AnyArg(), "BACK", "6", "0", m.ID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := db.Begin()
	require.NoError(t, err)
	_, err = e.settleMatchTx(context.Background(), tx, m, OutcomeWinner, time.Now().UTC())
	require.ErrorIs(t, err, exrepo.ErrAlreadySettled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestEngine(db *sql.DB) *Engine {
	comm := commission.New(dec("0.20"), money.MustNew(dec("0.01"), "BRL"))
	return New(zap.NewNop(), db, comm, "BRL")
}
