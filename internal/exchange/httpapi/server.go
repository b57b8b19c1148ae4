package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/exchange-bet-platform/internal/exchange/engine"
	"github.com/radieske/exchange-bet-platform/internal/exchange/repo"
	walletrepo "github.com/radieske/exchange-bet-platform/internal/wallet/repo"
	"github.com/radieske/exchange-bet-platform/pkg/money"
	"github.com/radieske/exchange-bet-platform/pkg/odds"
)

// API expõe os endpoints REST do exchange
type API struct {
	Log      *zap.Logger
	Engine   *engine.Engine
	Currency string
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/orders", a.placeOrder)
	r.Get("/v1/orders/{id}", a.getOrder)
	r.Post("/v1/orders/{id}/take", a.takeOrder)
	r.Post("/v1/orders/{id}/cancel", a.cancelOrder)
	r.Get("/v1/outcomes/{id}/book", a.getBook)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError traduz erros de domínio para status HTTP
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidSide),
		errors.Is(err, engine.ErrInvalidStake),
		errors.Is(err, engine.ErrMissingOutcome),
		errors.Is(err, repo.ErrStakeExceedsUnmatched):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, repo.ErrNotOwner):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, repo.ErrSelfMatch),
		errors.Is(err, repo.ErrNotOpen),
		errors.Is(err, repo.ErrNotCancellable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, walletrepo.ErrVersionConflict):
		writeError(w, http.StatusServiceUnavailable, "transient conflict, retry")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (a *API) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}
	betID, err := uuid.Parse(req.BetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid betId")
		return
	}
	od, err := odds.FromString(req.Odds)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid odds: "+err.Error())
		return
	}
	stake, err := money.FromString(req.Stake, a.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid stake: "+err.Error())
		return
	}

	res, err := a.Engine.PlaceOrder(r.Context(), engine.PlaceParams{
		BetID:     betID,
		UserID:    req.UserID,
		OutcomeID: req.OutcomeID,
		Side:      repo.Side(req.Side),
		Odds:      od,
		Stake:     stake,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderResponse(res.Order, res.Matches))
}

func (a *API) takeOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	var req TakeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}
	betID, err := uuid.Parse(req.BetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid betId")
		return
	}
	amount, err := money.FromString(req.Amount, a.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount: "+err.Error())
		return
	}

	res, err := a.Engine.TakeOrder(r.Context(), engine.TakeParams{
		OrderID: orderID,
		BetID:   betID,
		UserID:  req.UserID,
		Amount:  amount,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderResponse(res.Taker, []repo.Match{res.Match}))
}

func (a *API) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}

	o, err := a.Engine.CancelOrder(r.Context(), orderID, req.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CancelOrderResponse{
		OrderID:        o.ID.String(),
		Status:         string(o.Status),
		CancelledStake: o.UnmatchedStake.Amount().StringFixed(money.Exponent),
	})
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := a.Engine.Order(r.Context(), orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse(o, nil))
}

func (a *API) getBook(w http.ResponseWriter, r *http.Request) {
	outcomeID := chi.URLParam(r, "id")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	s, err := a.Engine.Book(r.Context(), outcomeID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// filtro opcional por lado em cima do snapshot completo
	switch r.URL.Query().Get("side") {
	case "":
	case string(repo.SideBack):
		s.LayOrders = nil
		s.BestLayOdds = nil
	case string(repo.SideLay):
		s.BackOrders = nil
		s.BestBackOdds = nil
	default:
		writeError(w, http.StatusBadRequest, "side must be BACK or LAY")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func orderResponse(o *repo.Order, matches []repo.Match) OrderResponse {
	resp := OrderResponse{
		OrderID:        o.ID.String(),
		BetID:          o.BetID.String(),
		OutcomeID:      o.OutcomeID,
		Side:           string(o.Side),
		Odds:           o.Odds.String(),
		Status:         string(o.Status),
		TotalStake:     o.TotalStake.Amount().StringFixed(money.Exponent),
		MatchedStake:   o.MatchedStake.Amount().StringFixed(money.Exponent),
		UnmatchedStake: o.UnmatchedStake.Amount().StringFixed(money.Exponent),
	}
	for i := range matches {
		m := &matches[i]
		resp.Matches = append(resp.Matches, MatchDTO{
			MatchID:      m.ID.String(),
			Stake:        m.Stake.Amount().StringFixed(money.Exponent),
			Odds:         m.Odds.String(),
			MakerOrderID: m.MakerOrderID.String(),
		})
	}
	return resp
}
