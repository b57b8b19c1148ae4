package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/radieske/exchange-bet-platform/internal/exchange/strategy"
	"github.com/radieske/exchange-bet-platform/pkg/money"
	"github.com/radieske/exchange-bet-platform/pkg/odds"
)

// Postgres implementa a persistência de ordens e matches da exchange.
// Cada operação de escrita é uma unidade transacional: ou tudo commita,
// ou nada fica visível.
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

var (
	ErrNotFound              = errors.New("order not found")
	ErrNotOwner              = errors.New("order owned by another user")
	ErrSelfMatch             = errors.New("cannot match own order")
	ErrNotOpen               = errors.New("order not open for matching")
	ErrNotCancellable        = errors.New("order not cancellable")
	ErrStakeExceedsUnmatched = errors.New("stake exceeds unmatched amount")
)

// PlaceResult é o resultado de um place: a ordem de entrada com contadores
// finais, os matches criados e as ordens do book afetadas
type PlaceResult struct {
	Order   *Order
	Matches []Match
	Resting []*Order
}

// TakeResult é o resultado de um take: sempre exatamente um match
type TakeResult struct {
	Match   Match
	Resting *Order
	Taker   *Order
}

const orderColumns = `id, bet_id, user_id, outcome_id, side, odds, total_stake,
	matched_stake, unmatched_stake, currency, status, created_at, updated_at`

// MatchOrder insere a ordem de entrada, seleciona candidatos opostos
// compatíveis em preço, aloca via estratégia e materializa os matches.
// Tudo em uma única transação, serializada por outcome via advisory lock.
func (p *Postgres) MatchOrder(ctx context.Context, incoming *Order, alloc strategy.Allocator) (*PlaceResult, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Serializa o matching por outcome: dois takers concorrentes não podem
	// receber a mesma liquidez
	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, incoming.OutcomeID); err != nil {
		return nil, fmt.Errorf("outcome lock: %w", err)
	}

	if err = insertOrderTx(ctx, tx, incoming); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	candidates, err := p.lockCandidates(ctx, tx, incoming)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}

	cands := make([]strategy.Candidate, len(candidates))
	for i, c := range candidates {
		cands[i] = strategy.Candidate{OrderID: c.ID, Unmatched: c.UnmatchedStake, CreatedAt: c.CreatedAt}
	}
	allocations := alloc.Allocate(incoming.TotalStake, cands)

	byID := make(map[uuid.UUID]*Order, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}

	res := &PlaceResult{Order: incoming}
	now := time.Now().UTC()
	for _, a := range allocations {
		resting := byID[a.OrderID]

		m := buildMatch(incoming, resting, a.Amount, incoming.Odds, now)
		if err = insertMatchTx(ctx, tx, &m); err != nil {
			return nil, fmt.Errorf("insert match: %w", err)
		}

		applyFill(resting, a.Amount)
		if err = updateOrderCountersTx(ctx, tx, resting); err != nil {
			return nil, fmt.Errorf("update resting order: %w", err)
		}

		applyFill(incoming, a.Amount)
		res.Matches = append(res.Matches, m)
		res.Resting = append(res.Resting, resting)
	}

	if err = updateOrderCountersTx(ctx, tx, incoming); err != nil {
		return nil, fmt.Errorf("update incoming order: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

// TakeOrder casa explicitamente contra uma ordem específica do book,
// sintetizando uma ordem oposta pelo valor pedido ao preço da ordem
// descansada. Sempre produz exatamente um match, com a resting como maker.
func (p *Postgres) TakeOrder(ctx context.Context, orderID, takerBetID uuid.UUID, takerUserID string, amount money.Money) (*TakeResult, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Descobre o outcome antes de travar, para manter a mesma ordem de
	// aquisição de locks do MatchOrder
	var outcomeID string
	err = tx.QueryRowContext(ctx, `SELECT outcome_id FROM exchange_orders WHERE id=$1`, orderID).Scan(&outcomeID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, outcomeID); err != nil {
		return nil, fmt.Errorf("outcome lock: %w", err)
	}

	resting, err := getOrderTx(ctx, tx, orderID, true)
	if err != nil {
		return nil, err
	}

	if resting.UserID == takerUserID {
		return nil, ErrSelfMatch
	}
	if resting.Status != StatusUnmatched && resting.Status != StatusPartiallyMatched {
		return nil, ErrNotOpen
	}
	if amount.GreaterThan(resting.UnmatchedStake) {
		return nil, ErrStakeExceedsUnmatched
	}

	now := time.Now().UTC()
	taker := &Order{
		ID:             uuid.New(),
		BetID:          takerBetID,
		UserID:         takerUserID,
		OutcomeID:      resting.OutcomeID,
		Side:           resting.Side.Opposite(),
		Odds:           resting.Odds, // take executa ao preço da ordem do book
		TotalStake:     amount,
		MatchedStake:   amount,
		UnmatchedStake: money.Zero(amount.Currency()),
		Status:         StatusMatched,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err = insertOrderTx(ctx, tx, taker); err != nil {
		return nil, fmt.Errorf("insert taker order: %w", err)
	}

	m := buildMatch(taker, resting, amount, resting.Odds, now)
	if err = insertMatchTx(ctx, tx, &m); err != nil {
		return nil, fmt.Errorf("insert match: %w", err)
	}

	applyFill(resting, amount)
	if err = updateOrderCountersTx(ctx, tx, resting); err != nil {
		return nil, fmt.Errorf("update resting order: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return &TakeResult{Match: m, Resting: resting, Taker: taker}, nil
}

// CancelOrder transiciona a ordem para CANCELLED, liberando o stake não
// casado. Permitido apenas em UNMATCHED/PARTIALLY_MATCHED e pelo dono.
func (p *Postgres) CancelOrder(ctx context.Context, orderID uuid.UUID, userID string) (*Order, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	o, err := getOrderTx(ctx, tx, orderID, true)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotOwner
	}
	if o.Status != StatusUnmatched && o.Status != StatusPartiallyMatched {
		return nil, ErrNotCancellable
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE exchange_orders SET status=$1, updated_at=NOW() WHERE id=$2`,
		StatusCancelled, o.ID); err != nil {
		return nil, err
	}
	o.Status = StatusCancelled

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return o, nil
}

// GetOrder carrega uma ordem pelo id (sem lock)
func (p *Postgres) GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM exchange_orders WHERE id=$1`, orderID)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return o, err
}

// OrderBook lista as ordens abertas de um outcome em prioridade
// preço-então-tempo. side nil retorna os dois lados.
func (p *Postgres) OrderBook(ctx context.Context, outcomeID string, side *Side, limit int) ([]BookEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []BookEntry
	sides := []Side{SideBack, SideLay}
	if side != nil {
		sides = []Side{*side}
	}
	for _, s := range sides {
		priceOrder := "DESC" // melhor back = odd mais alta
		if s == SideLay {
			priceOrder = "ASC" // melhor lay = odd mais baixa
		}
		q := `SELECT id, side, odds, unmatched_stake, currency, created_at
			FROM exchange_orders
			WHERE outcome_id=$1 AND side=$2 AND status IN ('UNMATCHED','PARTIALLY_MATCHED')
			ORDER BY odds ` + priceOrder + `, created_at ASC
			LIMIT $3`
		rows, err := p.db.QueryContext(ctx, q, outcomeID, s, limit)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var (
				e                      BookEntry
				oddsStr, stakeStr, ccy string
			)
			if err := rows.Scan(&e.OrderID, &e.Side, &oddsStr, &stakeStr, &ccy, &e.CreatedAt); err != nil {
				rows.Close()
				return nil, err
			}
			if e.Odds, err = odds.FromString(oddsStr); err != nil {
				rows.Close()
				return nil, err
			}
			if e.UnmatchedStake, err = money.FromString(stakeStr, ccy); err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, e)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// lockCandidates seleciona as ordens opostas compatíveis em preço, na ordem
// de prioridade do book, travando as linhas para a transação corrente.
// Ordens do próprio usuário ficam de fora (self-match proibido).
func (p *Postgres) lockCandidates(ctx context.Context, tx *sql.Tx, incoming *Order) ([]*Order, error) {
	// BACK só casa LAY com odd <= a sua; LAY só casa BACK com odd >= a sua
	priceFilter := "odds <= $4"
	priceOrder := "odds ASC"
	if incoming.Side == SideLay {
		priceFilter = "odds >= $4"
		priceOrder = "odds DESC"
	}

	q := `SELECT ` + orderColumns + `
		FROM exchange_orders
		WHERE outcome_id=$1 AND side=$2 AND status IN ('UNMATCHED','PARTIALLY_MATCHED')
		  AND user_id <> $3 AND ` + priceFilter + `
		ORDER BY ` + priceOrder + `, created_at ASC
		FOR UPDATE`

	rows, err := tx.QueryContext(ctx, q,
		incoming.OutcomeID, incoming.Side.Opposite(), incoming.UserID, incoming.Odds.Decimal())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// buildMatch monta o registro de match a partir do taker e da resting.
// A resting já existia no book, portanto é sempre a maker.
func buildMatch(taker, resting *Order, stake money.Money, execOdds odds.Odds, now time.Time) Match {
	m := Match{
		ID:           uuid.New(),
		OutcomeID:    taker.OutcomeID,
		MakerOrderID: resting.ID,
		Stake:        stake,
		Odds:         execOdds,
		MatchedAt:    now,
	}
	if taker.Side == SideBack {
		m.BackOrderID, m.BackUserID = taker.ID, taker.UserID
		m.LayOrderID, m.LayUserID = resting.ID, resting.UserID
	} else {
		m.BackOrderID, m.BackUserID = resting.ID, resting.UserID
		m.LayOrderID, m.LayUserID = taker.ID, taker.UserID
	}
	return m
}

// applyFill aplica uma alocação aos contadores da ordem e ajusta o estado:
// unmatched zerado vira MATCHED; casado parcial vira PARTIALLY_MATCHED
func applyFill(o *Order, amount money.Money) {
	o.MatchedStake = o.MatchedStake.Add(amount)
	o.UnmatchedStake = o.UnmatchedStake.Sub(amount)
	if o.FullyMatched() {
		o.Status = StatusMatched
	} else if o.MatchedStake.IsPositive() {
		o.Status = StatusPartiallyMatched
	}
}

func insertOrderTx(ctx context.Context, tx *sql.Tx, o *Order) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO exchange_orders
		  (id, bet_id, user_id, outcome_id, side, odds, total_stake,
		   matched_stake, unmatched_stake, currency, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)`,
		o.ID, o.BetID, o.UserID, o.OutcomeID, o.Side, o.Odds.Decimal(),
		o.TotalStake.Amount(), o.MatchedStake.Amount(), o.UnmatchedStake.Amount(),
		o.TotalStake.Currency(), o.Status, o.CreatedAt)
	return err
}

func updateOrderCountersTx(ctx context.Context, tx *sql.Tx, o *Order) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE exchange_orders
		SET matched_stake=$1, unmatched_stake=$2, status=$3, updated_at=NOW()
		WHERE id=$4`,
		o.MatchedStake.Amount(), o.UnmatchedStake.Amount(), o.Status, o.ID)
	return err
}

func insertMatchTx(ctx context.Context, tx *sql.Tx, m *Match) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO exchange_matches
		  (id, outcome_id, back_order_id, lay_order_id, back_user_id, lay_user_id,
		   maker_order_id, stake, odds, currency, matched_at, settled)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,FALSE)`,
		m.ID, m.OutcomeID, m.BackOrderID, m.LayOrderID, m.BackUserID, m.LayUserID,
		m.MakerOrderID, m.Stake.Amount(), m.Odds.Decimal(), m.Stake.Currency(), m.MatchedAt)
	return err
}

func getOrderTx(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, forUpdate bool) (*Order, error) {
	q := `SELECT ` + orderColumns + ` FROM exchange_orders WHERE id=$1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	o, err := scanOrder(tx.QueryRowContext(ctx, q, orderID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return o, err
}

type rowScanner interface{ Scan(dest ...any) error }

func scanOrder(row rowScanner) (*Order, error) {
	var (
		o                                     Order
		oddsStr, totalStr, matchedStr, unmStr string
		ccy                                   string
	)
	err := row.Scan(&o.ID, &o.BetID, &o.UserID, &o.OutcomeID, &o.Side, &oddsStr,
		&totalStr, &matchedStr, &unmStr, &ccy, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if o.Odds, err = odds.FromString(oddsStr); err != nil {
		return nil, err
	}
	if o.TotalStake, err = money.FromString(totalStr, ccy); err != nil {
		return nil, err
	}
	if o.MatchedStake, err = money.FromString(matchedStr, ccy); err != nil {
		return nil, err
	}
	if o.UnmatchedStake, err = money.FromString(unmStr, ccy); err != nil {
		return nil, err
	}
	return &o, nil
}
