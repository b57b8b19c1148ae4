package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/radieske/exchange-bet-platform/internal/wallet/repo"
	"github.com/radieske/exchange-bet-platform/pkg/money"
)

// Repo define as operações de carteira usadas pelos handlers
type Repo interface {
	GetOrCreate(ctx context.Context, userID, currency string) (*repo.Wallet, error)
	Get(ctx context.Context, userID string) (*repo.Wallet, error)
	Deposit(ctx context.Context, userID string, amount money.Money, externalRef string) (*repo.Wallet, error)
	Withdraw(ctx context.Context, userID string, amount money.Money, externalRef string) (*repo.Wallet, error)
	DebitStake(ctx context.Context, userID string, amount money.Money, externalRef string) (*repo.Wallet, error)
}

// Server expõe endpoints HTTP para operações de carteira
type Server struct {
	log      *zap.Logger
	repo     Repo
	currency string
}

func NewServer(log *zap.Logger, r Repo, currency string) *Server {
	return &Server{log: log, repo: r, currency: currency}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/wallet", s.getWallet)           // GET ?userId=...
	mux.HandleFunc("/wallet/deposit", s.deposit)     // POST
	mux.HandleFunc("/wallet/withdraw", s.withdraw)   // POST
	mux.HandleFunc("/wallet/debit", s.debitStake)    // POST (reserva de stake)
	return mux
}

type amountRequest struct {
	UserID      string `json:"userId"`
	Amount      string `json:"amount"` // decimal, ex: "100.00"
	ExternalRef string `json:"externalRef"`
}

type walletResponse struct {
	UserID   string `json:"userId"`
	WalletID string `json:"walletId"`
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
	Version  int64  `json:"version"`
}

func toResponse(w *repo.Wallet) walletResponse {
	return walletResponse{
		UserID:   w.UserID,
		WalletID: w.ID.String(),
		Balance:  w.Balance.Amount().StringFixed(money.Exponent),
		Currency: w.Balance.Currency(),
		Version:  w.Version,
	}
}

func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId required", http.StatusBadRequest)
		return
	}
	wal, err := s.repo.GetOrCreate(r.Context(), userID, s.currency)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, toResponse(wal))
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	s.mutation(w, r, s.repo.Deposit)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	s.mutation(w, r, s.repo.Withdraw)
}

func (s *Server) debitStake(w http.ResponseWriter, r *http.Request) {
	s.mutation(w, r, s.repo.DebitStake)
}

// mutation trata o ciclo comum de deposit/withdraw/debit: parse, validação,
// execução e mapeamento de erros de domínio
func (s *Server) mutation(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, userID string, amount money.Money, externalRef string) (*repo.Wallet, error)) {

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "userId required", http.StatusBadRequest)
		return
	}
	amount, err := money.FromString(req.Amount, s.currency)
	if err != nil || !amount.IsPositive() {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return
	}

	wal, err := op(r.Context(), req.UserID, amount, req.ExternalRef)
	switch {
	case err == nil:
		writeJSON(w, toResponse(wal))
	case errors.Is(err, repo.ErrNotFound):
		http.Error(w, "wallet not found", http.StatusNotFound)
	case errors.Is(err, repo.ErrInsufficientFunds):
		http.Error(w, "insufficient funds", http.StatusConflict)
	case errors.Is(err, repo.ErrVersionConflict):
		// conflito transiente: o cliente pode tentar de novo
		http.Error(w, "concurrent update, retry", http.StatusServiceUnavailable)
	default:
		s.log.Error("wallet mutation failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
