package domain

import (
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePositions() []Position {
	return []Position{
		{Symbol: "AAPL", Side: SideBuy, Quantity: decimal.NewFromInt(200), AveragePrice: decimal.NewFromInt(150), CurrentPrice: decimal.NewFromInt(180), Sector: "Technology", Currency: "USD"},
		{Symbol: "JPM", Side: SideBuy, Quantity: decimal.NewFromInt(100), AveragePrice: decimal.NewFromInt(140), CurrentPrice: decimal.NewFromInt(150), Sector: "Financials", Currency: "USD"},
		{Symbol: "BTC", Side: SideSell, Quantity: decimal.NewFromFloat(0.5), AveragePrice: decimal.NewFromInt(60000), CurrentPrice: decimal.NewFromInt(58000), Currency: "USDT"},
	}
}

func exampleSnapshot() PortfolioSnapshot {
	return PortfolioSnapshot{
		PortfolioID:       "pf-1",
		TotalValue:        decimal.NewFromInt(100000),
		AvailableBalance:  decimal.NewFromInt(30000),
		UsedMargin:        decimal.NewFromInt(10000),
		Positions:         samplePositions(),
		HistoricalReturns: []float64{0.01, -0.02, 0.015, -0.01, 0.005},
		BenchmarkReturns:  []float64{0.008, -0.015, 0.01, -0.008, 0.004},
	}
}

func TestCalculatePortfolioRisk_ExampleScenario(t *testing.T) {
	res, err := CalculatePortfolioRisk(exampleSnapshot(), DefaultRiskEngineConfig())
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	require.True(t, res.Volatility.Available)
	assert.InDelta(t, 0.0145774, res.Volatility.Daily, 1e-6)

	require.True(t, res.Beta.Available)
	assert.InDelta(t, 1.3439, res.Beta.Value, 1e-3)
	assert.NotEqual(t, 1.0, res.Beta.Value)

	require.True(t, res.VaR.Available)
	assert.Equal(t, VaRMethodHistorical, res.VaR.Method)
	assert.InDelta(t, 1800.0, res.VaR.VaR95.InexactFloat64(), 1e-6)
	assert.InDelta(t, 1960.0, res.VaR.VaR99.InexactFloat64(), 1e-6)
	assert.InDelta(t, 1996.0, res.VaR.VaR999.InexactFloat64(), 1e-6)
	assert.InDelta(t, 2000.0, res.ExpectedShortfall.ES95.InexactFloat64(), 1e-6)

	require.True(t, res.MaxDrawdown.Available)
	assert.InDelta(t, -0.02, res.MaxDrawdown.Value, 1e-9)
	assert.True(t, res.SharpeRatio.Available)
	assert.True(t, res.SortinoRatio.Available)

	// 36000 + 15000 + 29000 = 80000 gross
	assert.InDelta(t, 0.8, res.LeverageRatio, 1e-9)
	assert.InDelta(t, 0.25, res.MarginUtilization, 1e-9)
	assert.InDelta(t, 0.36, res.SectorExposure["Technology"], 1e-9)
	assert.InDelta(t, -0.29, res.SectorExposure[UnassignedBucket], 1e-9)
	assert.InDelta(t, -0.29, res.CurrencyExposure["USDT"], 1e-9)
}

func randomReturns(r *rand.Rand, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = r.NormFloat64()*0.02 + 0.0005
	}
	return out
}

func TestTailRiskMonotonic(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for _, method := range []VaRMethod{VaRMethodHistorical, VaRMethodParametric} {
		cfg := DefaultRiskEngineConfig()
		cfg.Metrics.VaRMethod = method
		for i := 0; i < 50; i++ {
			s := exampleSnapshot()
			s.HistoricalReturns = randomReturns(rng, 60)
			s.BenchmarkReturns = randomReturns(rng, 60)

			res, err := CalculatePortfolioRisk(s, cfg)
			require.NoError(t, err)
			v := res.VaR
			assert.True(t, v.VaR95.LessThanOrEqual(v.VaR99), "%s: var95 %s > var99 %s", method, v.VaR95, v.VaR99)
			assert.True(t, v.VaR99.LessThanOrEqual(v.VaR999), "%s: var99 %s > var99.9 %s", method, v.VaR99, v.VaR999)
			assert.True(t, res.ExpectedShortfall.ES95.GreaterThanOrEqual(v.VaR95), method)
			assert.True(t, res.ExpectedShortfall.ES99.GreaterThanOrEqual(v.VaR99), method)
		}
	}
}

func TestCalculatePortfolioRisk_Failures(t *testing.T) {
	cfg := DefaultRiskEngineConfig()

	s := exampleSnapshot()
	s.BenchmarkReturns = s.BenchmarkReturns[:4]
	_, err := CalculatePortfolioRisk(s, cfg)
	assert.ErrorIs(t, err, ErrMisalignedSeries)

	s = exampleSnapshot()
	s.TotalValue = decimal.Zero
	_, err = CalculatePortfolioRisk(s, cfg)
	assert.ErrorIs(t, err, ErrInvalidInput)

	s = exampleSnapshot()
	s.Positions = nil
	_, err = CalculatePortfolioRisk(s, cfg)
	assert.ErrorIs(t, err, ErrEmptyPortfolio)
}

func TestCalculatePortfolioRisk_InsufficientObservations(t *testing.T) {
	s := exampleSnapshot()
	s.HistoricalReturns = []float64{0.01, -0.01}
	s.BenchmarkReturns = []float64{0.01, -0.01}

	res, err := CalculatePortfolioRisk(s, DefaultRiskEngineConfig())
	require.NoError(t, err)
	assert.False(t, res.VaR.Available)
	assert.False(t, res.Beta.Available)
	assert.NotEmpty(t, res.Warnings)
	for _, w := range res.Warnings {
		assert.Equal(t, KindInsufficientData, w.Kind)
	}
	// 敞口指标不依赖收益序列
	assert.InDelta(t, 0.8, res.LeverageRatio, 1e-9)

	cfg := DefaultRiskEngineConfig()
	cfg.Metrics.StrictMetrics = true
	_, err = CalculatePortfolioRisk(s, cfg)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestCalculatePortfolioRisk_DegenerateSeries(t *testing.T) {
	s := exampleSnapshot()
	s.HistoricalReturns = []float64{0.01, 0.02, 0.015, 0.005, 0.01}
	s.BenchmarkReturns = []float64{0, 0, 0, 0, 0}

	res, err := CalculatePortfolioRisk(s, DefaultRiskEngineConfig())
	require.NoError(t, err)

	assert.False(t, res.SortinoRatio.Available)
	assert.Equal(t, ReasonUndefined, res.SortinoRatio.Reason)
	assert.False(t, res.Beta.Available)
	assert.Equal(t, string(KindInsufficientData), res.Beta.Reason)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "beta", res.Warnings[0].Metric)
	// 全部为正收益，VaR 以 0 损失报告
	assert.True(t, res.VaR.VaR95.IsZero())
	assert.Equal(t, 0.0, res.MaxDrawdown.Value)
}

func TestCalculatePortfolioRisk_ZeroVolatility(t *testing.T) {
	s := exampleSnapshot()
	s.HistoricalReturns = []float64{0, 0, 0, 0, 0}

	res, err := CalculatePortfolioRisk(s, DefaultRiskEngineConfig())
	require.NoError(t, err)
	assert.False(t, res.SharpeRatio.Available)
	assert.Contains(t, res.Warnings, MetricWarning{Metric: "sharpe_ratio", Kind: KindInsufficientData, Message: "sharpe: INSUFFICIENT_DATA: zero volatility"})
}

func TestLimitInputs(t *testing.T) {
	res, err := CalculatePortfolioRisk(exampleSnapshot(), DefaultRiskEngineConfig())
	require.NoError(t, err)

	mv := res.LimitInputs("pf-1")
	v, ok := mv[MetricKey{Scope: LimitScopePortfolio, ScopeRef: "pf-1", Type: LimitTypeVaR}]
	require.True(t, ok)
	assert.True(t, v.Equal(res.VaR.VaR95))

	dd := mv[MetricKey{Scope: LimitScopePortfolio, ScopeRef: "pf-1", Type: LimitTypeDrawdown}]
	assert.InDelta(t, 0.02, dd.InexactFloat64(), 1e-9)

	_, ok = mv[MetricKey{Scope: LimitScopeSector, ScopeRef: "Technology", Type: LimitTypeSectorExposure}]
	assert.True(t, ok)
}

func TestPositionValues(t *testing.T) {
	short := Position{Symbol: "BTC", Side: SideSell, Quantity: decimal.NewFromInt(2), AveragePrice: decimal.NewFromInt(100), CurrentPrice: decimal.NewFromInt(90)}
	assert.True(t, short.MarketValue().Equal(decimal.NewFromInt(-180)))
	assert.True(t, short.UnrealizedPnL().Equal(decimal.NewFromInt(20)))

	signed := Position{Symbol: "X", Quantity: decimal.NewFromInt(-3), AveragePrice: decimal.NewFromInt(10), CurrentPrice: decimal.NewFromInt(12)}
	assert.True(t, signed.MarketValue().Equal(decimal.NewFromInt(-36)))
	assert.True(t, signed.UnrealizedPnL().Equal(decimal.NewFromInt(-6)))
}
