package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/exchange-bet-platform/internal/wallet/repo"
	"github.com/radieske/exchange-bet-platform/pkg/money"
)

type stubRepo struct {
	wallet *repo.Wallet
	err    error
}

func (s *stubRepo) GetOrCreate(ctx context.Context, userID, currency string) (*repo.Wallet, error) {
	return s.wallet, s.err
}

func (s *stubRepo) Get(ctx context.Context, userID string) (*repo.Wallet, error) {
	return s.wallet, s.err
}

func (s *stubRepo) Deposit(ctx context.Context, userID string, amount money.Money, externalRef string) (*repo.Wallet, error) {
	return s.wallet, s.err
}

func (s *stubRepo) Withdraw(ctx context.Context, userID string, amount money.Money, externalRef string) (*repo.Wallet, error) {
	return s.wallet, s.err
}

func (s *stubRepo) DebitStake(ctx context.Context, userID string, amount money.Money, externalRef string) (*repo.Wallet, error) {
	return s.wallet, s.err
}

func testWallet(balance string) *repo.Wallet {
	d, _ := decimal.NewFromString(balance)
	return &repo.Wallet{
		ID:      uuid.New(),
		UserID:  "user-1",
		Balance: money.MustNew(d, "BRL"),
		Version: 4,
	}
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, &buf))
	return rec
}

func TestDepositReturnsWallet(t *testing.T) {
	h := NewServer(zap.NewNop(), &stubRepo{wallet: testWallet("150.50")}, "BRL").Router()

	rec := post(t, h, "/wallet/deposit", amountRequest{UserID: "user-1", Amount: "50.50", ExternalRef: "ref-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp walletResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "150.50", resp.Balance)
	assert.Equal(t, "BRL", resp.Currency)
	assert.EqualValues(t, 4, resp.Version)
}

func TestMutationErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{repo.ErrNotFound, http.StatusNotFound},
		{repo.ErrInsufficientFunds, http.StatusConflict},
		{repo.ErrVersionConflict, http.StatusServiceUnavailable},
	}
	for _, c := range cases {
		h := NewServer(zap.NewNop(), &stubRepo{err: c.err}, "BRL").Router()
		rec := post(t, h, "/wallet/withdraw", amountRequest{UserID: "user-1", Amount: "10.00"})
		assert.Equal(t, c.code, rec.Code, c.err.Error())
	}
}

func TestMutationRejectsBadAmount(t *testing.T) {
	h := NewServer(zap.NewNop(), &stubRepo{wallet: testWallet("0")}, "BRL").Router()

	rec := post(t, h, "/wallet/debit", amountRequest{UserID: "user-1", Amount: "-10"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, h, "/wallet/debit", amountRequest{UserID: "user-1", Amount: "abc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
