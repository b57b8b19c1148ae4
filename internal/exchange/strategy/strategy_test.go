package strategy

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/exchange-bet-platform/pkg/money"
)

func brl(s string) money.Money {
	m, err := money.FromString(s, "BRL")
	if err != nil {
		panic(err)
	}
	return m
}

func cand(unmatched string, age time.Duration) Candidate {
	return Candidate{
		OrderID:   uuid.New(),
		Unmatched: brl(unmatched),
		CreatedAt: time.Now().Add(-age),
	}
}

func total(allocs []Allocation) money.Money {
	t := money.Zero("BRL")
	for _, a := range allocs {
		t = t.Add(a.Amount)
	}
	return t
}

func amountFor(t *testing.T, allocs []Allocation, id uuid.UUID) money.Money {
	t.Helper()
	for _, a := range allocs {
		if a.OrderID == id {
			return a.Amount
		}
	}
	return money.Zero("BRL")
}

func TestFIFOFavorsEarliest(t *testing.T) {
	c1 := cand("100.00", 2*time.Minute)
	c2 := cand("100.00", time.Minute)

	allocs := FIFO{}.Allocate(brl("50.00"), []Candidate{c1, c2})

	require.Len(t, allocs, 1)
	assert.Equal(t, c1.OrderID, allocs[0].OrderID)
	assert.Equal(t, "50.00 BRL", allocs[0].Amount.String())
}

func TestFIFOSpillsToNext(t *testing.T) {
	c1 := cand("30.00", 2*time.Minute)
	c2 := cand("100.00", time.Minute)

	allocs := FIFO{}.Allocate(brl("50.00"), []Candidate{c1, c2})

	require.Len(t, allocs, 2)
	assert.Equal(t, "30.00 BRL", amountFor(t, allocs, c1.OrderID).String())
	assert.Equal(t, "20.00 BRL", amountFor(t, allocs, c2.OrderID).String())
}

func TestProRataProportionalExact(t *testing.T) {
	c1 := cand("100.00", 2*time.Minute)
	c2 := cand("300.00", time.Minute)

	allocs := ProRata{}.Allocate(brl("40.00"), []Candidate{c1, c2})

	assert.Equal(t, "10.00 BRL", amountFor(t, allocs, c1.OrderID).String())
	assert.Equal(t, "30.00 BRL", amountFor(t, allocs, c2.OrderID).String())
	assert.Equal(t, "40.00 BRL", total(allocs).String())
}

func TestProRataSkewedBook(t *testing.T) {
	c1 := cand("10.00", 2*time.Minute)
	c2 := cand("300.00", time.Minute)

	allocs := ProRata{}.Allocate(brl("100.00"), []Candidate{c1, c2})

	// 100*10/310 = 3.2258... -> 3.22 + sobra de arredondamento
	assert.Equal(t, "3.23 BRL", amountFor(t, allocs, c1.OrderID).String())
	assert.Equal(t, "96.77 BRL", amountFor(t, allocs, c2.OrderID).String())
	assert.Equal(t, "100.00 BRL", total(allocs).String())
}

func TestProRataIncomingExceedsCapacity(t *testing.T) {
	c1 := cand("10.00", 2*time.Minute)
	c2 := cand("30.00", time.Minute)

	allocs := ProRata{}.Allocate(brl("100.00"), []Candidate{c1, c2})

	// Todos saturam; nada além da capacidade do book é alocado
	assert.Equal(t, "10.00 BRL", amountFor(t, allocs, c1.OrderID).String())
	assert.Equal(t, "30.00 BRL", amountFor(t, allocs, c2.OrderID).String())
	assert.Equal(t, "40.00 BRL", total(allocs).String())
}

func TestProRataRoundingRemainderGoesToEarliest(t *testing.T) {
	// 100/3 não fecha em centavos; a sobra fica com o primeiro listado
	c1 := cand("100.00", 3*time.Minute)
	c2 := cand("100.00", 2*time.Minute)
	c3 := cand("100.00", time.Minute)

	allocs := ProRata{}.Allocate(brl("100.00"), []Candidate{c1, c2, c3})

	assert.Equal(t, "100.00 BRL", total(allocs).String())
	assert.Equal(t, "33.34 BRL", amountFor(t, allocs, c1.OrderID).String())
	assert.Equal(t, "33.33 BRL", amountFor(t, allocs, c2.OrderID).String())
	assert.Equal(t, "33.33 BRL", amountFor(t, allocs, c3.OrderID).String())
}

func TestHybridDefaultSplit(t *testing.T) {
	// N=1, f=0.40, candidatos [100, 100], entrada 100:
	// primeiro recebe 40 + 60*60/160 = 62.50; segundo 60*100/160 = 37.50
	h, err := NewHybrid(1, decimal.RequireFromString("0.40"))
	require.NoError(t, err)

	c1 := cand("100.00", 2*time.Minute)
	c2 := cand("100.00", time.Minute)

	allocs := h.Allocate(brl("100.00"), []Candidate{c1, c2})

	assert.Equal(t, "62.50 BRL", amountFor(t, allocs, c1.OrderID).String())
	assert.Equal(t, "37.50 BRL", amountFor(t, allocs, c2.OrderID).String())
	assert.Equal(t, "100.00 BRL", total(allocs).String())
}

func TestHybridTopSmallerThanReserved(t *testing.T) {
	// Top 1 só comporta 10; o restante da fração reservada volta ao rateio
	h, err := NewHybrid(1, decimal.RequireFromString("0.40"))
	require.NoError(t, err)

	c1 := cand("10.00", 2*time.Minute)
	c2 := cand("200.00", time.Minute)

	allocs := h.Allocate(brl("100.00"), []Candidate{c1, c2})

	assert.Equal(t, "100.00 BRL", total(allocs).String())
	assert.Equal(t, "10.00 BRL", amountFor(t, allocs, c1.OrderID).String())
	assert.Equal(t, "90.00 BRL", amountFor(t, allocs, c2.OrderID).String())
}

func TestEmptyCandidates(t *testing.T) {
	assert.Empty(t, FIFO{}.Allocate(brl("50.00"), nil))
	assert.Empty(t, ProRata{}.Allocate(brl("50.00"), nil))

	h, _ := NewHybrid(1, decimal.RequireFromString("0.40"))
	assert.Empty(t, h.Allocate(brl("50.00"), nil))
}

func TestNewHybridValidation(t *testing.T) {
	_, err := NewHybrid(0, decimal.RequireFromString("0.40"))
	assert.Error(t, err)

	_, err = NewHybrid(1, decimal.RequireFromString("1.01"))
	assert.Error(t, err)

	_, err = NewHybrid(1, decimal.RequireFromString("-0.1"))
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	f := decimal.RequireFromString("0.40")

	s, err := FromConfig("fifo", 1, f)
	require.NoError(t, err)
	assert.Equal(t, "fifo", s.Name())

	s, err = FromConfig("prorata", 1, f)
	require.NoError(t, err)
	assert.Equal(t, "prorata", s.Name())

	s, err = FromConfig("", 1, f)
	require.NoError(t, err)
	assert.Equal(t, "hybrid", s.Name())

	_, err = FromConfig("lifo", 1, f)
	assert.Error(t, err)
}
