package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Varredura periódica: rede de segurança do fluxo dirigido a eventos. Se o
// worker cair no meio de uma liquidação, os guards de idempotência deixam
// itens órfãos para trás (matches abertos de outcomes já resolvidos, apostas
// ainda confirmadas de eventos já resolvidos); a varredura os recolhe.

// SweepUnsettled localiza e liquida itens órfãos de liquidações
// interrompidas. Seguro rodar concorrente com SettleEvent: os mesmos guards
// valem aqui.
func (e *Engine) SweepUnsettled(ctx context.Context) (*Summary, error) {
	sum := &Summary{}

	outcomes, err := e.orphanOutcomes(ctx)
	if err != nil {
		e.OnError("sweep_outcomes")
		return nil, fmt.Errorf("sweep outcomes: %w", err)
	}
	for _, oc := range outcomes {
		settled, pushes, err := e.settleOutcomeMatches(ctx, oc)
		if err != nil {
			e.OnError("settle_matches")
			return nil, fmt.Errorf("sweep matches for outcome %s: %w", oc.ID, err)
		}
		sum.MatchesSettled += settled
		sum.Pushes += pushes
	}

	events, err := e.orphanBetEvents(ctx)
	if err != nil {
		e.OnError("sweep_bets")
		return nil, fmt.Errorf("sweep bet events: %w", err)
	}
	for _, eventID := range events {
		voided, winning, err := e.resolvedTerms(ctx, eventID)
		if err != nil {
			e.OnError("sweep_bets")
			return nil, fmt.Errorf("resolved terms for event %s: %w", eventID, err)
		}
		n, err := e.settleBets(ctx, eventID, voided, winning)
		if err != nil {
			e.OnError("settle_bets")
			return nil, fmt.Errorf("sweep bets for event %s: %w", eventID, err)
		}
		sum.BetsSettled += n
	}

	if sum.MatchesSettled+sum.Pushes+sum.BetsSettled > 0 {
		e.log.Info("sweep settled orphans",
			zap.Int("matches_settled", sum.MatchesSettled),
			zap.Int("pushes", sum.Pushes),
			zap.Int("bets_settled", sum.BetsSettled))
	}
	return sum, nil
}

// orphanOutcomes lista outcomes resolvidos que ainda têm matches abertos
func (e *Engine) orphanOutcomes(ctx context.Context) ([]Outcome, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT DISTINCT o.id, o.event_id, o.selection, o.status
		FROM event_outcomes o
		JOIN exchange_matches m ON m.outcome_id = o.id
		WHERE o.status <> 'PENDING' AND m.settled = FALSE`)
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
	return out, rows.Err()
}

// orphanBetEvents lista eventos resolvidos que ainda têm apostas confirmadas
func (e *Engine) orphanBetEvents(ctx context.Context) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT DISTINCT b.event_id
		FROM bets b
		JOIN event_outcomes o ON o.event_id = b.event_id
		WHERE b.status = 'CONFIRMED' AND o.status <> 'PENDING'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// resolvedTerms reconstrói o desfecho do evento a partir dos outcomes já
// gravados: a seleção do outcome WINNER, ou anulação quando só há VOID
func (e *Engine) resolvedTerms(ctx context.Context, eventID string) (voided bool, winning string, err error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT selection, status
		FROM event_outcomes
		WHERE event_id=$1 AND status <> 'PENDING'`, eventID)
	if err != nil {
		return false, "", err
	}
	defer rows.Close()

	resolved, sawVoid := 0, false
	for rows.Next() {
		var selection string
		var status OutcomeStatus
		if err := rows.Scan(&selection, &status); err != nil {
			return false, "", err
		}
		resolved++
		switch status {
		case OutcomeWinner:
			winning = selection
		case OutcomeVoid:
			sawVoid = true
		}
	}
	if err := rows.Err(); err != nil {
		return false, "", err
	}
	if resolved == 0 {
		return false, "", fmt.Errorf("event %s has no resolved outcomes", eventID)
	}
	// anulado só quando houve outcome VOID e nenhum vencedor; todos LOSER
	// (seleção vencedora fora do mercado) liquida as apostas como perdidas
	return sawVoid && winning == "", winning, nil
}
