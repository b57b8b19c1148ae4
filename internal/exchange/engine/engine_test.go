package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/exchange-bet-platform/internal/exchange/notify"
	"github.com/radieske/exchange-bet-platform/internal/exchange/repo"
	"github.com/radieske/exchange-bet-platform/internal/exchange/strategy"
	"github.com/radieske/exchange-bet-platform/pkg/money"
	"github.com/radieske/exchange-bet-platform/pkg/odds"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func brl(s string) money.Money { return money.MustNew(dec(s), "BRL") }

type fakeRepo struct {
	placeResult *repo.PlaceResult
	takeResult  *repo.TakeResult
	book        []repo.BookEntry

	mu        sync.Mutex
	bookCalls int
}

func (f *fakeRepo) MatchOrder(ctx context.Context, incoming *repo.Order, alloc strategy.Allocator) (*repo.PlaceResult, error) {
	return f.placeResult, nil
}

func (f *fakeRepo) TakeOrder(ctx context.Context, orderID, takerBetID uuid.UUID, takerUserID string, amount money.Money) (*repo.TakeResult, error) {
	return f.takeResult, nil
}

func (f *fakeRepo) CancelOrder(ctx context.Context, orderID uuid.UUID, userID string) (*repo.Order, error) {
	return nil, repo.ErrNotFound
}

func (f *fakeRepo) GetOrder(ctx context.Context, orderID uuid.UUID) (*repo.Order, error) {
	return nil, repo.ErrNotFound
}

func (f *fakeRepo) OrderBook(ctx context.Context, outcomeID string, side *repo.Side, limit int) ([]repo.BookEntry, error) {
	f.mu.Lock()
	f.bookCalls++
	f.mu.Unlock()
	return f.book, nil
}

type fakeBroadcaster struct {
	mu        sync.Mutex
	matched   []notify.MatchNotice
	users     []string
	books     []notify.BookSnapshot
	cancelled []notify.CancelNotice
}

func (f *fakeBroadcaster) PublishBook(ctx context.Context, s notify.BookSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books = append(f.books, s)
	return nil
}

func (f *fakeBroadcaster) PublishMatched(ctx context.Context, userID string, n notify.MatchNotice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
	f.matched = append(f.matched, n)
	return nil
}

func (f *fakeBroadcaster) PublishCancelled(ctx context.Context, n notify.CancelNotice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, n)
	return nil
}

type fakeCache struct {
	mu       sync.Mutex
	snapshot *notify.BookSnapshot
	sets     int
}

func (f *fakeCache) SetBook(ctx context.Context, s notify.BookSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = &s
	f.sets++
	return nil
}

func (f *fakeCache) GetBook(ctx context.Context, outcomeID string) (*notify.BookSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot, nil
}

type fakeWriter struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeWriter) WriteJSON(ctx context.Context, key string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return nil
}

func newTestEngine(r Repo, b Broadcaster, c BookCache, w EventWriter) *Engine {
	return New(zap.NewNop(), r, strategy.FIFO{}, b, c, w, "BRL")
}

func TestPlaceOrderValidation(t *testing.T) {
	e := newTestEngine(&fakeRepo{}, nil, nil, nil)

	_, err := e.PlaceOrder(context.Background(), PlaceParams{
		UserID: "u1", Side: repo.SideBack, Odds: odds.MustNew(dec("2.0")), Stake: brl("10")})
	assert.ErrorIs(t, err, ErrMissingOutcome)

	_, err = e.PlaceOrder(context.Background(), PlaceParams{
		UserID: "u1", OutcomeID: "oc-1", Side: repo.Side("MIDDLE"),
		Odds: odds.MustNew(dec("2.0")), Stake: brl("10")})
	assert.ErrorIs(t, err, ErrInvalidSide)

	_, err = e.PlaceOrder(context.Background(), PlaceParams{
		UserID: "u1", OutcomeID: "oc-1", Side: repo.SideBack,
		Odds: odds.MustNew(dec("2.0")), Stake: money.Zero("BRL")})
	assert.ErrorIs(t, err, ErrInvalidStake)
}

func TestPlaceOrderNotifiesBothSidesAndPublishes(t *testing.T) {
	takerOrder := uuid.New()
	makerOrder := uuid.New()
	matchID := uuid.New()

	placed := &repo.Order{
		ID: takerOrder, UserID: "taker", OutcomeID: "oc-1", Side: repo.SideBack,
		Odds: odds.MustNew(dec("2.0")), TotalStake: brl("100"),
		MatchedStake: brl("100"), UnmatchedStake: brl("0"),
		Status: repo.StatusMatched,
	}
	// a maker tinha 150 no book; 100 casaram, 50 seguem descansando
	resting := &repo.Order{
		ID: makerOrder, UserID: "maker", OutcomeID: "oc-1", Side: repo.SideLay,
		Odds: odds.MustNew(dec("2.0")), TotalStake: brl("150"),
		MatchedStake: brl("100"), UnmatchedStake: brl("50"),
		Status: repo.StatusPartiallyMatched,
	}
	r := &fakeRepo{placeResult: &repo.PlaceResult{
		Order: placed,
		Matches: []repo.Match{{
			ID: matchID, OutcomeID: "oc-1",
			BackOrderID: takerOrder, LayOrderID: makerOrder,
			BackUserID: "taker", LayUserID: "maker",
			MakerOrderID: makerOrder,
			Stake:        brl("100"), Odds: odds.MustNew(dec("2.0")),
			MatchedAt: time.Now().UTC(),
		}},
		Resting: []*repo.Order{resting},
	}}
	b := &fakeBroadcaster{}
	c := &fakeCache{}
	w := &fakeWriter{}
	e := newTestEngine(r, b, c, w)

	res, err := e.PlaceOrder(context.Background(), PlaceParams{
		BetID: uuid.New(), UserID: "taker", OutcomeID: "oc-1", Side: repo.SideBack,
		Odds: odds.MustNew(dec("2.0")), Stake: brl("100")})
	require.NoError(t, err)
	assert.Equal(t, repo.StatusMatched, res.Order.Status)

	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.matched) == 2 && len(b.books) == 1
	}, time.Second, 10*time.Millisecond)

	b.mu.Lock()
	assert.ElementsMatch(t, []string{"taker", "maker"}, b.users)
	for _, n := range b.matched {
		assert.Equal(t, matchID.String(), n.MatchID)
		assert.Equal(t, "100.00", n.MatchedAmount)
		// os dois lados recebem os próprios contadores pós-match
		if n.OrderID == takerOrder.String() {
			assert.True(t, n.FullyMatched)
			assert.Equal(t, "0.00", n.RemainingAmount)
		} else {
			assert.Equal(t, makerOrder.String(), n.OrderID)
			assert.False(t, n.FullyMatched)
			assert.Equal(t, "50.00", n.RemainingAmount)
		}
	}
	b.mu.Unlock()

	w.mu.Lock()
	assert.Equal(t, []string{matchID.String()}, w.keys)
	w.mu.Unlock()
}

func TestBookPrefersCache(t *testing.T) {
	cached := &notify.BookSnapshot{OutcomeID: "oc-1"}
	r := &fakeRepo{}
	c := &fakeCache{snapshot: cached}
	e := newTestEngine(r, nil, c, nil)

	s, err := e.Book(context.Background(), "oc-1", 0)
	require.NoError(t, err)
	assert.Same(t, cached, s)

	r.mu.Lock()
	assert.Zero(t, r.bookCalls)
	r.mu.Unlock()
}

func TestBookWithLimitBypassesCache(t *testing.T) {
	cached := &notify.BookSnapshot{OutcomeID: "oc-1"}
	r := &fakeRepo{book: []repo.BookEntry{
		{OrderID: uuid.New(), Side: repo.SideBack, Odds: odds.MustNew(dec("2.5")), UnmatchedStake: brl("50")},
	}}
	c := &fakeCache{snapshot: cached}
	e := newTestEngine(r, nil, c, nil)

	s, err := e.Book(context.Background(), "oc-1", 5)
	require.NoError(t, err)
	assert.NotSame(t, cached, s)
	require.Len(t, s.BackOrders, 1)

	// profundidade limitada não entra no cache nem sai dele
	r.mu.Lock()
	assert.Equal(t, 1, r.bookCalls)
	r.mu.Unlock()
	c.mu.Lock()
	assert.Equal(t, 0, c.sets)
	c.mu.Unlock()
}

func TestBookFallsBackToRepoAndFillsCache(t *testing.T) {
	r := &fakeRepo{book: []repo.BookEntry{
		{OrderID: uuid.New(), Side: repo.SideBack, Odds: odds.MustNew(dec("2.5")), UnmatchedStake: brl("50")},
	}}
	c := &fakeCache{}
	e := newTestEngine(r, nil, c, nil)

	s, err := e.Book(context.Background(), "oc-1", 0)
	require.NoError(t, err)
	require.Len(t, s.BackOrders, 1)
	assert.Equal(t, "2.50", *s.BestBackOdds)

	c.mu.Lock()
	assert.Equal(t, 1, c.sets)
	c.mu.Unlock()
}

func TestBuildSnapshotAggregatesPriceLevels(t *testing.T) {
	oldest := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	entries := []repo.BookEntry{
		{Side: repo.SideBack, Odds: odds.MustNew(dec("2.5")), UnmatchedStake: brl("50"), CreatedAt: oldest},
		{Side: repo.SideBack, Odds: odds.MustNew(dec("2.5")), UnmatchedStake: brl("30"), CreatedAt: oldest.Add(time.Minute)},
		{Side: repo.SideBack, Odds: odds.MustNew(dec("2.4")), UnmatchedStake: brl("10"), CreatedAt: oldest.Add(2 * time.Minute)},
		{Side: repo.SideLay, Odds: odds.MustNew(dec("2.6")), UnmatchedStake: brl("20"), CreatedAt: oldest.Add(3 * time.Minute)},
	}
	s := buildSnapshot("oc-1", entries)

	require.Len(t, s.BackOrders, 2)
	assert.Equal(t, "2.50", s.BackOrders[0].Odds)
	assert.Equal(t, "80.00", s.BackOrders[0].UnmatchedStake)
	// o nível agregado carrega a colocação da cabeça da fila
	assert.Equal(t, oldest, s.BackOrders[0].OldestCreatedAt)
	assert.Equal(t, "10.00", s.BackOrders[1].UnmatchedStake)
	require.NotNil(t, s.BestBackOdds)
	assert.Equal(t, "2.50", *s.BestBackOdds)
	require.NotNil(t, s.BestLayOdds)
	assert.Equal(t, "2.60", *s.BestLayOdds)
}
