package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculatePortfolioRisk_RiskScore(t *testing.T) {
	res, err := CalculatePortfolioRisk(exampleSnapshot(), DefaultRiskEngineConfig())
	require.NoError(t, err)

	require.True(t, res.BenchmarkCorrelation.Available)
	assert.InDelta(t, 0.998, res.BenchmarkCorrelation.Value, 1e-3)

	s := res.RiskScore
	assert.InDelta(t, 23.14, s.Market, 0.01)
	assert.InDelta(t, 25, s.Liquidity, 1e-9)
	// 最大持仓 45%、科技敞口 36%、HHI 0.37 均处于最高档
	assert.Equal(t, 100.0, s.Concentration)
	assert.Equal(t, 80.0, s.Correlation)
	assert.InDelta(t, 54.62, s.Overall, 0.01)
	assert.Equal(t, RiskLevelMedium, s.Level)
	assert.Equal(t, []string{
		"Reduce the largest position or sector weight",
		"Add assets with low correlation to the benchmark",
	}, s.Recommendations)
}

func TestScorePortfolio_MissingSeriesScoresNeutral(t *testing.T) {
	s := exampleSnapshot()
	s.HistoricalReturns = []float64{0.01, -0.01}
	s.BenchmarkReturns = []float64{0.01, -0.01}

	res, err := CalculatePortfolioRisk(s, DefaultRiskEngineConfig())
	require.NoError(t, err)
	assert.False(t, res.BenchmarkCorrelation.Available)
	assert.Equal(t, 50.0, res.RiskScore.Market)
	assert.Equal(t, 50.0, res.RiskScore.Correlation)
}

func TestScorePortfolio_Levels(t *testing.T) {
	th := DefaultRiskEngineConfig().Trade.LevelThresholds
	calm := &RiskMetricsResult{
		Volatility:           Volatility{Available: true, Annualized: 0.05},
		BenchmarkCorrelation: ratioOf(0.1),
		Concentration:        ConcentrationRisk{TopPositionWeight: 0.05, HerfindahlIndex: 0.04},
		SectorExposure:       map[string]float64{"Technology": 0.1},
		MarginUtilization:    0.1,
	}
	s := ScorePortfolio(calm, th)
	assert.InDelta(t, 0.375*5+0.1875*10+0.125*20, s.Overall, 1e-9)
	assert.Equal(t, RiskLevelVeryLow, s.Level)
	assert.Empty(t, s.Recommendations)

	stressed := &RiskMetricsResult{
		Volatility:           Volatility{Available: true, Annualized: 0.9},
		BenchmarkCorrelation: ratioOf(0.6),
		Concentration:        ConcentrationRisk{TopPositionWeight: 0.5, HerfindahlIndex: 0.3},
		SectorExposure:       map[string]float64{"Energy": -0.6},
		MarginUtilization:    0.9,
	}
	s = ScorePortfolio(stressed, th)
	assert.InDelta(t, 0.375*90+0.1875*90+0.3125*100+0.125*60, s.Overall, 1e-9)
	assert.Equal(t, RiskLevelVeryHigh, s.Level)
	assert.Contains(t, s.Recommendations, "Consider reducing portfolio leverage")
	assert.Contains(t, s.Recommendations, "Free up margin before adding positions")
}

func TestPortfolioRecommendations_OpenAlerts(t *testing.T) {
	assert.Empty(t, PortfolioRecommendations(PortfolioRiskScore{}, 5))
	assert.Equal(t, []string{"Multiple risk alerts active - immediate review required"},
		PortfolioRecommendations(PortfolioRiskScore{}, 6))
}
