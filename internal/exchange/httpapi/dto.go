package httpapi

// DTOs da API REST do exchange. Valores monetários e odds viajam como
// string decimal.

type PlaceOrderRequest struct {
	UserID    string `json:"userId"`
	BetID     string `json:"betId"`
	OutcomeID string `json:"outcomeId"`
	Side      string `json:"side"`  // BACK | LAY
	Odds      string `json:"odds"`  // decimal, ex: "2.50"
	Stake     string `json:"stake"` // decimal, ex: "100.00"
}

type TakeOrderRequest struct {
	UserID string `json:"userId"`
	BetID  string `json:"betId"`
	Amount string `json:"amount"`
}

type CancelOrderRequest struct {
	UserID string `json:"userId"`
}

type MatchDTO struct {
	MatchID      string `json:"matchId"`
	Stake        string `json:"stake"`
	Odds         string `json:"odds"`
	MakerOrderID string `json:"makerOrderId"`
}

type OrderResponse struct {
	OrderID        string     `json:"orderId"`
	BetID          string     `json:"betId"`
	OutcomeID      string     `json:"outcomeId"`
	Side           string     `json:"side"`
	Odds           string     `json:"odds"`
	Status         string     `json:"status"`
	TotalStake     string     `json:"totalStake"`
	MatchedStake   string     `json:"matchedStake"`
	UnmatchedStake string     `json:"unmatchedStake"`
	Matches        []MatchDTO `json:"matches,omitempty"`
}

type CancelOrderResponse struct {
	OrderID        string `json:"orderId"`
	Status         string `json:"status"`
	CancelledStake string `json:"cancelledStake"`
}
