package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/exchange-bet-platform/internal/exchange/notify"
	"github.com/radieske/exchange-bet-platform/internal/exchange/repo"
	"github.com/radieske/exchange-bet-platform/internal/exchange/strategy"
	"github.com/radieske/exchange-bet-platform/pkg/contracts/events"
	"github.com/radieske/exchange-bet-platform/pkg/money"
	"github.com/radieske/exchange-bet-platform/pkg/odds"
)

// Engine orquestra o exchange: valida a entrada, delega a mutação
// transacional ao repositório e, depois do commit, dispara notificações e
// publica o evento de match. Falha de notificação nunca desfaz um match.

var (
	ErrInvalidSide    = errors.New("side must be BACK or LAY")
	ErrInvalidStake   = errors.New("stake must be positive")
	ErrMissingOutcome = errors.New("outcome id is required")
)

// Repo é a superfície de persistência que o engine consome
type Repo interface {
	MatchOrder(ctx context.Context, incoming *repo.Order, alloc strategy.Allocator) (*repo.PlaceResult, error)
	TakeOrder(ctx context.Context, orderID, takerBetID uuid.UUID, takerUserID string, amount money.Money) (*repo.TakeResult, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID, userID string) (*repo.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*repo.Order, error)
	OrderBook(ctx context.Context, outcomeID string, side *repo.Side, limit int) ([]repo.BookEntry, error)
}

// Broadcaster publica atualizações para o stream-service via Redis
type Broadcaster interface {
	PublishBook(ctx context.Context, s notify.BookSnapshot) error
	PublishMatched(ctx context.Context, userID string, n notify.MatchNotice) error
	PublishCancelled(ctx context.Context, n notify.CancelNotice) error
}

// BookCache guarda o último snapshot do book por outcome
type BookCache interface {
	SetBook(ctx context.Context, s notify.BookSnapshot) error
	GetBook(ctx context.Context, outcomeID string) (*notify.BookSnapshot, error)
}

// EventWriter publica eventos de domínio no broker
type EventWriter interface {
	WriteJSON(ctx context.Context, key string, payload []byte) error
}

type Engine struct {
	log      *zap.Logger
	repo     Repo
	alloc    strategy.Allocator
	notifier Broadcaster
	books    BookCache
	matches  EventWriter
	currency string

	// callbacks de métricas injetados pelo serviço
	OnOrderPlaced func()
	OnMatch       func()
	OnError       func(stage string)
}

func New(log *zap.Logger, r Repo, alloc strategy.Allocator, notifier Broadcaster,
	books BookCache, matches EventWriter, currency string) *Engine {
	return &Engine{
		log:      log,
		repo:     r,
		alloc:    alloc,
		notifier: notifier,
		books:    books,
		matches:  matches,
		currency: currency,

		OnOrderPlaced: func() {},
		OnMatch:       func() {},
		OnError:       func(string) {},
	}
}

// PlaceParams é o pedido de colocação de uma ordem no book
type PlaceParams struct {
	BetID     uuid.UUID
	UserID    string
	OutcomeID string
	Side      repo.Side
	Odds      odds.Odds
	Stake     money.Money
}

func (p PlaceParams) validate() error {
	if p.OutcomeID == "" {
		return ErrMissingOutcome
	}
	if p.Side != repo.SideBack && p.Side != repo.SideLay {
		return fmt.Errorf("%w: %q", ErrInvalidSide, p.Side)
	}
	if !p.Stake.IsPositive() {
		return ErrInvalidStake
	}
	return nil
}

// PlaceOrder coloca uma ordem: casa imediatamente o que a estratégia
// alocar e deixa o restante descansando no book
func (e *Engine) PlaceOrder(ctx context.Context, p PlaceParams) (*repo.PlaceResult, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	incoming := &repo.Order{
		ID:             uuid.New(),
		BetID:          p.BetID,
		UserID:         p.UserID,
		OutcomeID:      p.OutcomeID,
		Side:           p.Side,
		Odds:           p.Odds,
		TotalStake:     p.Stake,
		MatchedStake:   money.Zero(p.Stake.Currency()),
		UnmatchedStake: p.Stake,
		Status:         repo.StatusUnmatched,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	res, err := e.repo.MatchOrder(ctx, incoming, e.alloc)
	if err != nil {
		e.OnError("place")
		return nil, err
	}
	e.OnOrderPlaced()
	for range res.Matches {
		e.OnMatch()
	}

	e.log.Info("order placed",
		zap.String("order_id", res.Order.ID.String()),
		zap.String("outcome_id", p.OutcomeID),
		zap.String("side", string(p.Side)),
		zap.String("status", string(res.Order.Status)),
		zap.Int("matches", len(res.Matches)))

	e.afterMatches(p.OutcomeID, res.Order, res.Matches, res.Resting)
	return res, nil
}

// TakeParams é o pedido de consumo direto de uma ordem específica do book
type TakeParams struct {
	OrderID uuid.UUID
	BetID   uuid.UUID
	UserID  string
	Amount  money.Money
}

// TakeOrder consome liquidez de uma ordem escolhida, na odd dela
func (e *Engine) TakeOrder(ctx context.Context, p TakeParams) (*repo.TakeResult, error) {
	if !p.Amount.IsPositive() {
		return nil, ErrInvalidStake
	}

	res, err := e.repo.TakeOrder(ctx, p.OrderID, p.BetID, p.UserID, p.Amount)
	if err != nil {
		e.OnError("take")
		return nil, err
	}
	e.OnMatch()

	e.log.Info("order taken",
		zap.String("order_id", p.OrderID.String()),
		zap.String("match_id", res.Match.ID.String()),
		zap.String("amount", p.Amount.String()))

	e.afterMatches(res.Resting.OutcomeID, res.Taker, []repo.Match{res.Match}, []*repo.Order{res.Resting})
	return res, nil
}

// CancelOrder retira do book o stake ainda não casado de uma ordem
func (e *Engine) CancelOrder(ctx context.Context, orderID uuid.UUID, userID string) (*repo.Order, error) {
	o, err := e.repo.CancelOrder(ctx, orderID, userID)
	if err != nil {
		e.OnError("cancel")
		return nil, err
	}

	e.log.Info("order cancelled",
		zap.String("order_id", orderID.String()),
		zap.String("cancelled_stake", o.UnmatchedStake.String()))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if e.notifier != nil {
			err := e.notifier.PublishCancelled(ctx, notify.CancelNotice{
				OutcomeID:      o.OutcomeID,
				OrderID:        o.ID.String(),
				Side:           string(o.Side),
				CancelledStake: o.UnmatchedStake.Amount().StringFixed(money.Exponent),
			})
			if err != nil {
				e.log.Warn("publish cancel notice failed", zap.Error(err))
			}
		}
		e.refreshBook(ctx, o.OutcomeID)
	}()
	return o, nil
}

// Order carrega o estado corrente de uma ordem
func (e *Engine) Order(ctx context.Context, orderID uuid.UUID) (*repo.Order, error) {
	return e.repo.GetOrder(ctx, orderID)
}

// Book retorna o snapshot agregado do book, preferindo o cache. limit > 0
// restringe a profundidade lida por lado e pula o cache, que guarda só o
// snapshot de profundidade padrão.
func (e *Engine) Book(ctx context.Context, outcomeID string, limit int) (*notify.BookSnapshot, error) {
	if outcomeID == "" {
		return nil, ErrMissingOutcome
	}
	useCache := e.books != nil && limit <= 0
	if useCache {
		if s, err := e.books.GetBook(ctx, outcomeID); err != nil {
			e.log.Warn("book cache read failed", zap.Error(err))
		} else if s != nil {
			return s, nil
		}
	}

	entries, err := e.repo.OrderBook(ctx, outcomeID, nil, limit)
	if err != nil {
		e.OnError("book")
		return nil, err
	}
	s := buildSnapshot(outcomeID, entries)
	if useCache {
		if err := e.books.SetBook(ctx, *s); err != nil {
			e.log.Warn("book cache write failed", zap.Error(err))
		}
	}
	return s, nil
}

// afterMatches roda fora da transação: notifica os envolvidos, atualiza o
// snapshot do book e publica match_created. Melhor esforço. makers é
// paralelo a matches: a ordem do book consumida por cada match, já com os
// contadores pós-fill.
func (e *Engine) afterMatches(outcomeID string, taker *repo.Order, matches []repo.Match, makers []*repo.Order) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		for i := range matches {
			var maker *repo.Order
			if i < len(makers) {
				maker = makers[i]
			}
			e.notifyMatch(ctx, taker, maker, &matches[i])
			e.publishMatchCreated(ctx, &matches[i])
		}
		e.refreshBook(ctx, outcomeID)
	}()
}

func (e *Engine) notifyMatch(ctx context.Context, taker, maker *repo.Order, m *repo.Match) {
	if e.notifier == nil {
		return
	}
	for _, side := range []struct {
		userID  string
		orderID uuid.UUID
	}{
		{m.BackUserID, m.BackOrderID},
		{m.LayUserID, m.LayOrderID},
	} {
		n := notify.MatchNotice{
			OrderID:       side.orderID.String(),
			MatchID:       m.ID.String(),
			MatchedAmount: m.Stake.Amount().StringFixed(money.Exponent),
			MatchedOdds:   m.Odds.String(),
		}
		// contadores pós-match das duas pontas vêm das ordens atualizadas
		// na própria transação de matching
		if o := orderInvolved(side.orderID, taker, maker); o != nil {
			n.RemainingAmount = o.UnmatchedStake.Amount().StringFixed(money.Exponent)
			n.FullyMatched = o.FullyMatched()
		}
		if err := e.notifier.PublishMatched(ctx, side.userID, n); err != nil {
			e.log.Warn("publish match notice failed",
				zap.String("match_id", m.ID.String()), zap.Error(err))
		}
	}
}

func orderInvolved(orderID uuid.UUID, taker, maker *repo.Order) *repo.Order {
	if taker != nil && orderID == taker.ID {
		return taker
	}
	if maker != nil && orderID == maker.ID {
		return maker
	}
	return nil
}

func (e *Engine) publishMatchCreated(ctx context.Context, m *repo.Match) {
	if e.matches == nil {
		return
	}
	evt := events.MatchCreated{
		MatchID:      m.ID.String(),
		OutcomeID:    m.OutcomeID,
		BackOrderID:  m.BackOrderID.String(),
		LayOrderID:   m.LayOrderID.String(),
		BackUserID:   m.BackUserID,
		LayUserID:    m.LayUserID,
		MakerOrderID: m.MakerOrderID.String(),
		Stake:        m.Stake.Amount().StringFixed(money.Exponent),
		Odds:         m.Odds.String(),
		Currency:     m.Stake.Currency(),
		MatchedAt:    m.MatchedAt,
	}
	b, err := json.Marshal(evt)
	if err != nil {
		e.log.Error("marshal match event", zap.Error(err))
		return
	}
	if err := e.matches.WriteJSON(ctx, evt.MatchID, b); err != nil {
		e.OnError("publish_match")
		e.log.Warn("publish match event failed",
			zap.String("match_id", evt.MatchID), zap.Error(err))
	}
}

func (e *Engine) refreshBook(ctx context.Context, outcomeID string) {
	entries, err := e.repo.OrderBook(ctx, outcomeID, nil, 0)
	if err != nil {
		e.log.Warn("rebuild book snapshot failed",
			zap.String("outcome_id", outcomeID), zap.Error(err))
		return
	}
	s := buildSnapshot(outcomeID, entries)
	if e.books != nil {
		if err := e.books.SetBook(ctx, *s); err != nil {
			e.log.Warn("book cache write failed", zap.Error(err))
		}
	}
	if e.notifier != nil {
		if err := e.notifier.PublishBook(ctx, *s); err != nil {
			e.log.Warn("publish book snapshot failed", zap.Error(err))
		}
	}
}

// buildSnapshot agrega as ordens abertas em níveis de preço por lado,
// preservando a ordem melhor-primeiro vinda do repositório
func buildSnapshot(outcomeID string, entries []repo.BookEntry) *notify.BookSnapshot {
	s := &notify.BookSnapshot{OutcomeID: outcomeID}
	for _, e := range entries {
		levels := &s.BackOrders
		if e.Side == repo.SideLay {
			levels = &s.LayOrders
		}
		n := len(*levels)
		if n > 0 && (*levels)[n-1].Odds == e.Odds.String() {
			prev, _ := money.FromString((*levels)[n-1].UnmatchedStake, e.UnmatchedStake.Currency())
			(*levels)[n-1].UnmatchedStake = prev.Add(e.UnmatchedStake).Amount().StringFixed(money.Exponent)
			continue
		}
		*levels = append(*levels, notify.BookLevel{
			Odds:            e.Odds.String(),
			UnmatchedStake:  e.UnmatchedStake.Amount().StringFixed(money.Exponent),
			OldestCreatedAt: e.CreatedAt,
		})
	}
	if len(s.BackOrders) > 0 {
		s.BestBackOdds = &s.BackOrders[0].Odds
	}
	if len(s.LayOrders) > 0 {
		s.BestLayOdds = &s.LayOrders[0].Odds
	}
	return s
}
