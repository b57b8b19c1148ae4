package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	exrepo "github.com/radieske/exchange-bet-platform/internal/exchange/repo"
	"github.com/radieske/exchange-bet-platform/internal/settlement/commission"
	"github.com/radieske/exchange-bet-platform/internal/settlement/revenue"
	"github.com/radieske/exchange-bet-platform/internal/settlement/stats"
	walletrepo "github.com/radieske/exchange-bet-platform/internal/wallet/repo"
	"github.com/radieske/exchange-bet-platform/pkg/money"
)

// Engine liquida um evento encerrado: resolve os outcomes a partir do placar
// final, liquida cada match de exchange (pagamento ao vencedor menos
// comissão) e cada aposta de sportsbook, e acumula a receita da casa.
// Toda liquidação é idempotente: reexecutar um evento já liquidado não
// movimenta dinheiro de novo.

// FinalScore é o placar final recebido no evento de encerramento
type FinalScore struct {
	HomeScore int  `json:"homeScore"`
	AwayScore int  `json:"awayScore"`
	Voided    bool `json:"voided"`
}

// WinningSelection mapeia o placar para a seleção vencedora do mercado 1X2
func (s FinalScore) WinningSelection() string {
	switch {
	case s.HomeScore > s.AwayScore:
		return "home"
	case s.AwayScore > s.HomeScore:
		return "away"
	default:
		return "draw"
	}
}

// OutcomeStatus é o resultado resolvido de um outcome
type OutcomeStatus string

const (
	OutcomePending OutcomeStatus = "PENDING"
	OutcomeWinner  OutcomeStatus = "WINNER"
	OutcomeLoser   OutcomeStatus = "LOSER"
	OutcomeVoid    OutcomeStatus = "VOID"
)

// Outcome é um resultado apostável de um evento
type Outcome struct {
	ID        string
	EventID   string
	Selection string
	Status    OutcomeStatus
}

// conflitos de versão de carteira abortam a transação inteira; o retry
// relê tudo do zero
const maxRetries = 3

type Engine struct {
	log      *zap.Logger
	db       *sql.DB
	comm     *commission.Engine
	currency string

	// callbacks de métricas injetados pelo worker
	OnMatchSettled func()
	OnBetSettled   func()
	OnError        func(stage string)
}

func New(log *zap.Logger, db *sql.DB, comm *commission.Engine, currency string) *Engine {
	return &Engine{
		log:            log,
		db:             db,
		comm:           comm,
		currency:       currency,
		OnMatchSettled: func() {},
		OnBetSettled:   func() {},
		OnError:        func(string) {},
	}
}

// Summary agrega o que uma chamada de SettleEvent efetivamente liquidou
type Summary struct {
	EventID        string
	MatchesSettled int
	Pushes         int
	BetsSettled    int
}

// SettleEvent resolve os outcomes do evento e liquida matches e apostas.
// Pode ser chamado mais de uma vez para o mesmo evento: itens já liquidados
// são pulados pelos guards de idempotência.
func (e *Engine) SettleEvent(ctx context.Context, eventID string, score FinalScore) (*Summary, error) {
	outcomes, err := e.resolveOutcomes(ctx, eventID, score)
	if err != nil {
		e.OnError("resolve_outcomes")
		return nil, fmt.Errorf("resolve outcomes: %w", err)
	}

	sum := &Summary{EventID: eventID}
	for _, oc := range outcomes {
		if oc.Status == OutcomePending {
			// outcome ainda não decidido: liquidar agora seria chute
			e.log.Debug("skipping pending outcome", zap.String("outcome_id", oc.ID))
			continue
		}
		settled, pushes, err := e.settleOutcomeMatches(ctx, oc)
		if err != nil {
			e.OnError("settle_matches")
			return nil, fmt.Errorf("settle matches for outcome %s: %w", oc.ID, err)
		}
		sum.MatchesSettled += settled
		sum.Pushes += pushes
	}

	bets, err := e.settleBets(ctx, eventID, score.Voided, score.WinningSelection())
	if err != nil {
		e.OnError("settle_bets")
		return nil, fmt.Errorf("settle bets: %w", err)
	}
	sum.BetsSettled = bets

	e.log.Info("event settled",
		zap.String("event_id", eventID),
		zap.Int("matches_settled", sum.MatchesSettled),
		zap.Int("pushes", sum.Pushes),
		zap.Int("bets_settled", sum.BetsSettled))
	return sum, nil
}

// resolveOutcomes grava o status final dos outcomes do evento. O filtro
// status='PENDING' torna a resolução idempotente: outcomes já resolvidos
// não mudam nunca.
func (e *Engine) resolveOutcomes(ctx context.Context, eventID string, score FinalScore) ([]Outcome, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if score.Voided {
		_, err = tx.ExecContext(ctx, `
			UPDATE event_outcomes SET status='VOID', updated_at=NOW()
			WHERE event_id=$1 AND status='PENDING'`, eventID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE event_outcomes
			SET status = CASE WHEN selection=$2 THEN 'WINNER' ELSE 'LOSER' END,
			    updated_at = NOW()
			WHERE event_id=$1 AND status='PENDING'`, eventID, score.WinningSelection())
	}
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, event_id, selection, status
		FROM event_outcomes WHERE event_id=$1`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var oc Outcome
		if err := rows.Scan(&oc.ID, &oc.EventID, &oc.Selection, &oc.Status); err != nil {
			return nil, err
		}
		out = append(out, oc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, tx.Commit()
}

// settleOutcomeMatches liquida todos os matches abertos de um outcome numa
// única transação. Conflito de versão de carteira desfaz a transação inteira
// e tenta de novo, até maxRetries.
func (e *Engine) settleOutcomeMatches(ctx context.Context, oc Outcome) (settled, pushes int, err error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		settled, pushes, err = e.trySettleOutcomeMatches(ctx, oc)
		if err == nil {
			return settled, pushes, nil
		}
		if !errors.Is(err, walletrepo.ErrVersionConflict) {
			return 0, 0, err
		}
		e.log.Warn("wallet version conflict during settlement, retrying",
			zap.String("outcome_id", oc.ID), zap.Int("attempt", attempt+1))
	}
	return 0, 0, err
}

func (e *Engine) trySettleOutcomeMatches(ctx context.Context, oc Outcome) (int, int, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	matches, err := exrepo.UnsettledMatchesTx(ctx, tx, oc.ID)
	if err != nil {
		return 0, 0, err
	}

	now := time.Now().UTC()
	settled, pushes := 0, 0
	for i := range matches {
		push, err := e.settleMatchTx(ctx, tx, &matches[i], oc.Status, now)
		if errors.Is(err, exrepo.ErrAlreadySettled) {
			continue
		}
		if err != nil {
			return 0, 0, err
		}
		if push {
			pushes++
		} else {
			settled++
		}
		e.OnMatchSettled()
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return settled, pushes, nil
}

// settleMatchTx liquida um match dentro da transação corrente.
//
// Resultado anulado é push: ambos os lados recebem de volta o que
// reservaram (o backer a stake, o layer a liability) e ninguém paga
// comissão. Caso contrário o BACK vence se o outcome venceu e o LAY vence
// se perdeu; só o vencedor paga comissão, sobre o ganho líquido, na taxa
// efetiva do seu tier corrente e do seu papel (maker/taker) no match.
func (e *Engine) settleMatchTx(ctx context.Context, tx *sql.Tx, m *exrepo.Match,
	status OutcomeStatus, now time.Time) (push bool, err error) {

	stake := m.Stake
	liability := m.Odds.LayLiability(stake)
	zero := money.Zero(stake.Currency())

	if status == OutcomeVoid {
		if err := exrepo.SettleMatchTx(ctx, tx, m.ID, nil, zero, zero, now); err != nil {
			return false, err
		}
		ref := "settlement:push:" + m.ID.String()
		if err := walletrepo.RefundStakeTx(ctx, tx, m.BackUserID, stake, ref); err != nil {
			return false, err
		}
		if liability.IsPositive() {
			if err := walletrepo.RefundStakeTx(ctx, tx, m.LayUserID, liability, ref); err != nil {
				return false, err
			}
		}
		return true, nil
	}

	winner := exrepo.SideBack
	if status == OutcomeLoser {
		winner = exrepo.SideLay
	}

	winnerUser, net, gross := payoutFor(m, winner)

	role := commission.RoleTaker
	if m.MakerSide() == winner {
		role = commission.RoleMaker
	}
	vol, err := stats.Rolling30dVolumeTx(ctx, tx, winnerUser, stake.Currency(), now)
	if err != nil {
		return false, err
	}
	fee := e.comm.OnNetWinnings(net, commission.TierForVolume(vol), role)

	backFee, layFee := zero, zero
	if winner == exrepo.SideBack {
		backFee = fee
	} else {
		layFee = fee
	}
	if err := exrepo.SettleMatchTx(ctx, tx, m.ID, &winner, backFee, layFee, now); err != nil {
		return false, err
	}

	credit := gross.Sub(fee)
	ref := "settlement:match:" + m.ID.String()
	if credit.IsPositive() {
		if err := walletrepo.CreditPayoutTx(ctx, tx, winnerUser, credit, ref); err != nil {
			return false, err
		}
	}

	loserUser, loserFee := m.LayUserID, layFee
	if winner == exrepo.SideLay {
		loserUser, loserFee = m.BackUserID, backFee
	}
	if err := stats.RecordTradeTx(ctx, tx, winnerUser, m.ID, stake, fee, now); err != nil {
		return false, err
	}
	if err := stats.RecordTradeTx(ctx, tx, loserUser, m.ID, stake, loserFee, now); err != nil {
		return false, err
	}

	return false, revenue.RecordExchangeTx(ctx, tx, now, fee, stake)
}

// payoutFor calcula quem recebe e quanto num match decidido. O ganho
// líquido do backer é a liability do layer; o do layer é a stake do backer.
// O bruto inclui a devolução do que o próprio vencedor tinha reservado.
func payoutFor(m *exrepo.Match, winner exrepo.Side) (user string, net, gross money.Money) {
	liability := m.Odds.LayLiability(m.Stake)
	if winner == exrepo.SideBack {
		return m.BackUserID, liability, m.Stake.Add(liability)
	}
	return m.LayUserID, m.Stake, liability.Add(m.Stake)
}
