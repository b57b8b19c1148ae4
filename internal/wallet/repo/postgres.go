package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/radieske/exchange-bet-platform/pkg/money"
)

// Postgres implementa o ledger de carteiras com concorrência otimista:
// toda mutação de saldo lê a versão da linha e escreve condicionada a ela;
// conflito dispara retry com releitura, até o limite, e então é exposto
// como falha transitória (nunca last-writer-wins).
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

var (
	ErrNotFound          = errors.New("wallet not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrVersionConflict indica escrita concorrente persistente; transitório,
	// o chamador pode repetir a operação
	ErrVersionConflict = errors.New("wallet version conflict")
)

// maxRetries limita as tentativas de escrita otimista antes de desistir
const maxRetries = 3

// Wallet é o estado persistido de uma carteira, em uma única moeda
type Wallet struct {
	ID             uuid.UUID
	UserID         string
	Balance        money.Money
	TotalDeposited money.Money
	TotalWithdrawn money.Money
	TotalBet       money.Money
	TotalWon       money.Money
	Version        int64
	UpdatedAt      time.Time
}

const walletColumns = `id, user_id, balance, total_deposited, total_withdrawn,
	total_bet, total_won, currency, version, updated_at`

// GetOrCreate retorna a carteira do usuário, criando-a zerada se não existir
func (p *Postgres) GetOrCreate(ctx context.Context, userID, currency string) (*Wallet, error) {
	w, err := p.get(ctx, userID)
	if err == nil {
		return w, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	id := uuid.New()
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, balance, total_deposited, total_withdrawn,
		  total_bet, total_won, currency, version, created_at, updated_at)
		VALUES ($1,$2,0,0,0,0,0,$3,1,NOW(),NOW())
		ON CONFLICT (user_id) DO NOTHING`, id, userID, currency)
	if err != nil {
		return nil, err
	}
	return p.get(ctx, userID)
}

// Deposit credita um valor na carteira e registra a operação no ledger
func (p *Postgres) Deposit(ctx context.Context, userID string, amount money.Money, externalRef string) (*Wallet, error) {
	return p.mutate(ctx, userID, func(w *Wallet) error {
		w.Balance = w.Balance.Add(amount)
		w.TotalDeposited = w.TotalDeposited.Add(amount)
		return nil
	}, "CREDIT", amount, "deposit:"+externalRef)
}

// Withdraw debita um valor da carteira; saldo insuficiente é rejeitado
func (p *Postgres) Withdraw(ctx context.Context, userID string, amount money.Money, externalRef string) (*Wallet, error) {
	return p.mutate(ctx, userID, func(w *Wallet) error {
		if w.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}
		w.Balance = w.Balance.Sub(amount)
		w.TotalWithdrawn = w.TotalWithdrawn.Add(amount)
		return nil
	}, "DEBIT", amount, "withdraw:"+externalRef)
}

// DebitStake debita o stake de uma aposta/ordem; saldo nunca fica negativo
func (p *Postgres) DebitStake(ctx context.Context, userID string, amount money.Money, externalRef string) (*Wallet, error) {
	return p.mutate(ctx, userID, func(w *Wallet) error {
		if w.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}
		w.Balance = w.Balance.Sub(amount)
		w.TotalBet = w.TotalBet.Add(amount)
		return nil
	}, "STAKE", amount, "stake:"+externalRef)
}

// CreditPayout credita o pagamento de uma aposta/match vencedor
func (p *Postgres) CreditPayout(ctx context.Context, userID string, amount money.Money, externalRef string) (*Wallet, error) {
	return p.mutate(ctx, userID, func(w *Wallet) error {
		w.Balance = w.Balance.Add(amount)
		w.TotalWon = w.TotalWon.Add(amount)
		return nil
	}, "PAYOUT", amount, "payout:"+externalRef)
}

// Get retorna a carteira do usuário
func (p *Postgres) Get(ctx context.Context, userID string) (*Wallet, error) {
	return p.get(ctx, userID)
}

func (p *Postgres) get(ctx context.Context, userID string) (*Wallet, error) {
	w, err := scanWallet(p.db.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id=$1`, userID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return w, err
}

// mutate aplica a mutação com escrita condicionada à versão lida; em
// conflito, relê e tenta de novo até maxRetries
func (p *Postgres) mutate(ctx context.Context, userID string, apply func(*Wallet) error,
	opType string, amount money.Money, description string) (*Wallet, error) {

	for attempt := 0; attempt < maxRetries; attempt++ {
		w, err := p.get(ctx, userID)
		if err != nil {
			return nil, err
		}
		readVersion := w.Version
		if err := apply(w); err != nil {
			return nil, err
		}

		ok, err := p.writeConditional(ctx, w, readVersion, opType, amount, description)
		if err != nil {
			return nil, err
		}
		if ok {
			w.Version = readVersion + 1
			return w, nil
		}
		// outra escrita venceu; relê e repete
	}
	return nil, ErrVersionConflict
}

// writeConditional grava o novo estado se (e somente se) a versão não mudou
// desde a leitura, registrando a operação no ledger na mesma transação
func (p *Postgres) writeConditional(ctx context.Context, w *Wallet, readVersion int64,
	opType string, amount money.Money, description string) (bool, error) {

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance=$1, total_deposited=$2, total_withdrawn=$3, total_bet=$4,
		    total_won=$5, version=version+1, updated_at=NOW()
		WHERE id=$6 AND version=$7`,
		w.Balance.Amount(), w.TotalDeposited.Amount(), w.TotalWithdrawn.Amount(),
		w.TotalBet.Amount(), w.TotalWon.Amount(), w.ID, readVersion)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil // versão mudou; chamador decide reler
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_ledger (wallet_id, operation_type, amount, currency, description, created_at)
		VALUES ($1,$2,$3,$4,$5,NOW())`,
		w.ID, opType, amount.Amount(), amount.Currency(), description); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

func scanWallet(row interface{ Scan(dest ...any) error }) (*Wallet, error) {
	var (
		w                                     Wallet
		balStr, depStr, wdStr, betStr, wonStr string
		ccy                                   string
	)
	err := row.Scan(&w.ID, &w.UserID, &balStr, &depStr, &wdStr, &betStr, &wonStr,
		&ccy, &w.Version, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if w.Balance, err = money.FromString(balStr, ccy); err != nil {
		return nil, err
	}
	if w.TotalDeposited, err = money.FromString(depStr, ccy); err != nil {
		return nil, err
	}
	if w.TotalWithdrawn, err = money.FromString(wdStr, ccy); err != nil {
		return nil, err
	}
	if w.TotalBet, err = money.FromString(betStr, ccy); err != nil {
		return nil, err
	}
	if w.TotalWon, err = money.FromString(wonStr, ccy); err != nil {
		return nil, err
	}
	return &w, nil
}

// CreditPayoutTx credita um pagamento dentro da transação do chamador
// (settlement engine), mantendo a escrita condicionada à versão. Conflito
// retorna ErrVersionConflict: o chamador desfaz a transação e tenta de novo.
func CreditPayoutTx(ctx context.Context, tx *sql.Tx, userID string, amount money.Money, externalRef string) error {
	return mutateTx(ctx, tx, userID, amount, "PAYOUT", "payout:"+externalRef,
		`balance=balance+$1, total_won=total_won+$1`)
}

// RefundStakeTx devolve um stake (push/anulação) dentro da transação do chamador
func RefundStakeTx(ctx context.Context, tx *sql.Tx, userID string, amount money.Money, externalRef string) error {
	return mutateTx(ctx, tx, userID, amount, "REFUND", "refund:"+externalRef,
		`balance=balance+$1`)
}

func mutateTx(ctx context.Context, tx *sql.Tx, userID string, amount money.Money,
	opType, description, setClause string) error {

	var (
		id      uuid.UUID
		version int64
	)
	err := tx.QueryRowContext(ctx, `SELECT id, version FROM wallets WHERE user_id=$1`, userID).
		Scan(&id, &version)
	if err == sql.ErrNoRows {
		return ErrNotFound
	} else if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE wallets SET `+setClause+`, version=version+1, updated_at=NOW()
		WHERE id=$2 AND version=$3`,
		amount.Amount(), id, version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: wallet %s", ErrVersionConflict, id)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_ledger (wallet_id, operation_type, amount, currency, description, created_at)
		VALUES ($1,$2,$3,$4,$5,NOW())`,
		id, opType, amount.Amount(), amount.Currency(), description)
	return err
}
