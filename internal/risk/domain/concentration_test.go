package domain

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func equalPositions(n int) []Position {
	out := make([]Position, n)
	for i := range out {
		out[i] = Position{
			Symbol:       fmt.Sprintf("S%02d", n-i),
			Side:         SideBuy,
			Quantity:     decimal.NewFromInt(10),
			CurrentPrice: decimal.NewFromInt(100),
		}
	}
	return out
}

func TestAnalyzeConcentration_EqualWeights(t *testing.T) {
	for _, n := range []int{1, 2, 4, 7, 10} {
		c, err := AnalyzeConcentration(equalPositions(n))
		require.NoError(t, err)
		assert.InDelta(t, 1/float64(n), c.HerfindahlIndex, 1e-12, "n=%d", n)
		assert.InDelta(t, 1/float64(n), c.TopPositionWeight, 1e-12)
		assert.InDelta(t, float64(min(5, n))/float64(n), c.Top5Weight, 1e-12)
	}
}

func TestAnalyzeConcentration_OrderingAndBounds(t *testing.T) {
	positions := []Position{
		{Symbol: "MSFT", Side: SideBuy, Quantity: decimal.NewFromInt(10), CurrentPrice: decimal.NewFromInt(100)},
		{Symbol: "AAPL", Side: SideBuy, Quantity: decimal.NewFromInt(10), CurrentPrice: decimal.NewFromInt(100)},
		{Symbol: "TSLA", Side: SideSell, Quantity: decimal.NewFromInt(30), CurrentPrice: decimal.NewFromInt(100)},
		{Symbol: "AAPL", Side: SideBuy, Quantity: decimal.NewFromInt(0), CurrentPrice: decimal.NewFromInt(100)},
	}
	c, err := AnalyzeConcentration(positions)
	require.NoError(t, err)

	require.Len(t, c.TopPositions, 3)
	assert.Equal(t, "TSLA", c.TopPositions[0].Symbol)
	// 同权重按标的字典序
	assert.Equal(t, "AAPL", c.TopPositions[1].Symbol)
	assert.Equal(t, "MSFT", c.TopPositions[2].Symbol)
	assert.InDelta(t, 0.6, c.TopPositionWeight, 1e-12)
	assert.InDelta(t, 1.0, c.Top5Weight, 1e-12)
	assert.InDelta(t, 0.36+0.04+0.04, c.HerfindahlIndex, 1e-12)
	assert.GreaterOrEqual(t, c.HerfindahlIndex, 1.0/3)
	assert.LessOrEqual(t, c.HerfindahlIndex, 1.0)
}

func TestAnalyzeConcentration_Empty(t *testing.T) {
	_, err := AnalyzeConcentration(nil)
	assert.ErrorIs(t, err, ErrEmptyPortfolio)

	_, err = AnalyzeConcentration([]Position{{Symbol: "X", Quantity: decimal.Zero, CurrentPrice: decimal.NewFromInt(1)}})
	assert.ErrorIs(t, err, ErrEmptyPortfolio)
	assert.Equal(t, KindEmptyPortfolio, KindOf(err))
}

func TestSymbolWeight(t *testing.T) {
	assert.InDelta(t, 0.25, SymbolWeight(equalPositions(4), "S01"), 1e-12)
	assert.Equal(t, 0.0, SymbolWeight(nil, "S01"))
}
