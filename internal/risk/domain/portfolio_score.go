package domain

import (
	"math"

	"github.com/wyfcoding/riskengine/pkg/algos"
)

// 组合综合评分权重 (market / liquidity / concentration / correlation)
const (
	portfolioMarketWeight        = 0.375
	portfolioLiquidityWeight     = 0.1875
	portfolioConcentrationWeight = 0.3125
	portfolioCorrelationWeight   = 0.125

	// 分项高风险线，达到后给出对应的处置建议
	highCategoryScore = 60.0
	// 综合评分达到该值时给出降杠杆与分散化建议
	highPortfolioScore = 60.0
	// 未关闭告警超过该数量时要求立即复核
	alertReviewCount = 5
)

// PortfolioRiskScore 组合综合风险评分，各分项与综合分均在 [0,100]。
// Market 取年化波动率，Liquidity 取保证金占用，Concentration 综合单一持仓、行业与 HHI，
// Correlation 取与基准收益的相关性
type PortfolioRiskScore struct {
	Market          float64   `json:"market"`
	Liquidity       float64   `json:"liquidity"`
	Concentration   float64   `json:"concentration"`
	Correlation     float64   `json:"correlation"`
	Overall         float64   `json:"overall"`
	Level           RiskLevel `json:"level"`
	Recommendations []string  `json:"recommendations"`
}

// ScorePortfolio 汇总市场、流动性、集中度与相关性风险，thresholds 为等级阈值。
// 不可用的分项按 50 计分
func ScorePortfolio(r *RiskMetricsResult, thresholds []float64) PortfolioRiskScore {
	s := PortfolioRiskScore{
		Market:        50,
		Liquidity:     algos.Clamp(r.MarginUtilization*100, 0, 100),
		Concentration: concentrationScore(r),
		Correlation:   50,
	}
	if r.Volatility.Available {
		s.Market = algos.Clamp(r.Volatility.Annualized*100, 0, 100)
	}
	if r.BenchmarkCorrelation.Available {
		s.Correlation = correlationScore(r.BenchmarkCorrelation.Value)
	}
	s.Overall = portfolioMarketWeight*s.Market +
		portfolioLiquidityWeight*s.Liquidity +
		portfolioConcentrationWeight*s.Concentration +
		portfolioCorrelationWeight*s.Correlation
	s.Level = LevelForScore(s.Overall, thresholds)
	s.Recommendations = PortfolioRecommendations(s, 0)
	return s
}

func concentrationScore(r *RiskMetricsResult) float64 {
	var score float64
	switch top := r.Concentration.TopPositionWeight; {
	case top > 0.20:
		score += 30
	case top > 0.15:
		score += 20
	case top > 0.10:
		score += 10
	}
	var maxSector float64
	for _, w := range r.SectorExposure {
		maxSector = math.Max(maxSector, math.Abs(w))
	}
	switch {
	case maxSector > 0.35:
		score += 30
	case maxSector > 0.25:
		score += 20
	case maxSector > 0.20:
		score += 10
	}
	switch hhi := r.Concentration.HerfindahlIndex; {
	case hhi > 0.15:
		score += 40
	case hhi > 0.10:
		score += 25
	case hhi > 0.05:
		score += 15
	}
	return math.Min(score, 100)
}

func correlationScore(rho float64) float64 {
	switch {
	case rho > 0.7:
		return 80
	case rho > 0.5:
		return 60
	case rho > 0.3:
		return 40
	default:
		return 20
	}
}

// PortfolioRecommendations 按评分与未关闭告警数给出处置建议
func PortfolioRecommendations(s PortfolioRiskScore, openAlerts int) []string {
	recs := []string{}
	if s.Overall >= highPortfolioScore {
		recs = append(recs, "Consider reducing portfolio leverage", "Increase diversification across sectors")
	}
	if s.Market >= highCategoryScore {
		recs = append(recs, "Hedge market exposure or trim high-volatility positions")
	}
	if s.Liquidity >= highCategoryScore {
		recs = append(recs, "Free up margin before adding positions")
	}
	if s.Concentration >= highCategoryScore {
		recs = append(recs, "Reduce the largest position or sector weight")
	}
	if s.Correlation >= 80 {
		recs = append(recs, "Add assets with low correlation to the benchmark")
	}
	if openAlerts > alertReviewCount {
		recs = append(recs, "Multiple risk alerts active - immediate review required")
	}
	return recs
}
