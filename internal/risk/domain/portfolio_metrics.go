package domain

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/riskengine/pkg/algos"
	"gonum.org/v1/gonum/stat/distuv"
)

// ReasonUndefined Sortino 在无负收益周期时的哨兵原因
const ReasonUndefined = "UNDEFINED"

// OptionalRatio 可能不可用的比率指标
type OptionalRatio struct {
	Value     float64 `json:"value"`
	Available bool    `json:"available"`
	Reason    string  `json:"reason,omitempty"`
}

func ratioOf(v float64) OptionalRatio { return OptionalRatio{Value: v, Available: true} }

func unavailable(reason string) OptionalRatio { return OptionalRatio{Reason: reason} }

// VaRMetrics 不同置信度下的 VaR (金额，正数表示损失)
type VaRMetrics struct {
	Available bool            `json:"available"`
	Method    VaRMethod       `json:"method"`
	VaR95     decimal.Decimal `json:"var_95"`
	VaR99     decimal.Decimal `json:"var_99"`
	VaR999    decimal.Decimal `json:"var_999"`
}

// ExpectedShortfall 尾部平均损失 (CVaR)
type ExpectedShortfall struct {
	Available bool            `json:"available"`
	ES95      decimal.Decimal `json:"es_95"`
	ES99      decimal.Decimal `json:"es_99"`
}

// Volatility 日/年化波动率
type Volatility struct {
	Available  bool    `json:"available"`
	Daily      float64 `json:"daily"`
	Annualized float64 `json:"annualized"`
}

// MetricWarning 单项指标计算失败，不影响其余指标
type MetricWarning struct {
	Metric  string    `json:"metric"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// RiskMetricsResult 组合风险指标，比率均为小数 (0.05 = 5%)
type RiskMetricsResult struct {
	PortfolioID       string            `json:"portfolio_id"`
	VaR               VaRMetrics        `json:"var"`
	ExpectedShortfall ExpectedShortfall `json:"expected_shortfall"`
	Volatility        Volatility        `json:"volatility"`
	SharpeRatio       OptionalRatio     `json:"sharpe_ratio"`
	SortinoRatio      OptionalRatio     `json:"sortino_ratio"`
	MaxDrawdown       OptionalRatio     `json:"max_drawdown"`
	Beta              OptionalRatio     `json:"beta"`
	// BenchmarkCorrelation 组合与基准收益的皮尔逊相关系数
	BenchmarkCorrelation OptionalRatio      `json:"benchmark_correlation"`
	Concentration        ConcentrationRisk  `json:"concentration"`
	SectorExposure       map[string]float64 `json:"sector_exposure"`
	CurrencyExposure     map[string]float64 `json:"currency_exposure"`
	LeverageRatio        float64            `json:"leverage_ratio"`
	MarginUtilization    float64            `json:"margin_utilization"`
	RiskScore            PortfolioRiskScore `json:"risk_score"`
	Warnings             []MetricWarning    `json:"warnings,omitempty"`
}

// confidenceLevels 计算 VaR 的置信度
var confidenceLevels = [3]float64{0.95, 0.99, 0.999}

// ReturnSeriesAnalyzer 基于历史/基准收益序列与当前敞口计算组合风险指标
type ReturnSeriesAnalyzer struct {
	cfg MetricsConfig
}

// NewReturnSeriesAnalyzer 创建分析器
func NewReturnSeriesAnalyzer(cfg MetricsConfig) *ReturnSeriesAnalyzer {
	return &ReturnSeriesAnalyzer{cfg: cfg}
}

// CalculatePortfolioRisk 按配置计算组合风险指标
// 并按交易风险等级阈值给出综合评分
func CalculatePortfolioRisk(s PortfolioSnapshot, cfg RiskEngineConfig) (*RiskMetricsResult, error) {
	res, err := NewReturnSeriesAnalyzer(cfg.Metrics).Analyze(s)
	if err != nil {
		return nil, err
	}
	res.RiskScore = ScorePortfolio(res, cfg.Trade.LevelThresholds)
	return res, nil
}

// Analyze 计算全部指标。序列不对齐、组合为空或总值非正时整体失败；
// 其余单项失败记录为 Warnings (StrictMetrics 时转为整体失败)
func (a *ReturnSeriesAnalyzer) Analyze(s PortfolioSnapshot) (*RiskMetricsResult, error) {
	const op = "portfolio_risk"
	if len(s.HistoricalReturns) != len(s.BenchmarkReturns) {
		return nil, newError(KindMisalignedSeries, op, "benchmark_returns",
			"historical has %d observations, benchmark has %d", len(s.HistoricalReturns), len(s.BenchmarkReturns))
	}
	if !s.TotalValue.IsPositive() {
		return nil, newError(KindInvalidInput, op, "total_value", "must be positive, got %s", s.TotalValue)
	}
	if !finite(s.HistoricalReturns) || !finite(s.BenchmarkReturns) {
		return nil, newError(KindInvalidInput, op, "returns", "non-finite return observation")
	}

	conc, err := AnalyzeConcentration(s.Positions)
	if err != nil {
		return nil, err
	}

	res := &RiskMetricsResult{
		PortfolioID:      s.PortfolioID,
		Concentration:    conc,
		SectorExposure:   exposureBy(s, func(p Position) string { return p.Sector }),
		CurrencyExposure: exposureBy(s, func(p Position) string { return p.Currency }),
		VaR:              VaRMetrics{Method: a.cfg.VaRMethod},
	}
	res.LeverageRatio, _ = s.GrossExposure().Div(s.TotalValue).Float64()
	if den := s.UsedMargin.Add(s.AvailableBalance); den.IsPositive() {
		res.MarginUtilization, _ = s.UsedMargin.Div(den).Float64()
	}

	a.returnMetrics(s, res)

	if a.cfg.StrictMetrics && len(res.Warnings) > 0 {
		w := res.Warnings[0]
		return nil, newError(w.Kind, op, w.Metric, "%s", w.Message)
	}
	return res, nil
}

func finite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func (a *ReturnSeriesAnalyzer) warn(res *RiskMetricsResult, metric string, err error) {
	kind := KindOf(err)
	if kind == "" {
		kind = KindInsufficientData
		if !errors.Is(err, algos.ErrInsufficientData) {
			kind = KindInvalidInput
		}
	}
	res.Warnings = append(res.Warnings, MetricWarning{Metric: metric, Kind: kind, Message: err.Error()})
}

func (a *ReturnSeriesAnalyzer) returnMetrics(s PortfolioSnapshot, res *RiskMetricsResult) {
	r := s.HistoricalReturns
	if len(r) < a.cfg.MinObservations {
		err := newError(KindInsufficientData, "portfolio_risk", "historical_returns",
			"need at least %d observations, got %d", a.cfg.MinObservations, len(r))
		for _, m := range []string{"volatility", "var", "expected_shortfall", "sharpe_ratio", "sortino_ratio", "max_drawdown", "beta"} {
			a.warn(res, m, err)
		}
		res.SharpeRatio = unavailable(string(KindInsufficientData))
		res.SortinoRatio = unavailable(string(KindInsufficientData))
		res.MaxDrawdown = unavailable(string(KindInsufficientData))
		res.Beta = unavailable(string(KindInsufficientData))
		res.BenchmarkCorrelation = unavailable(string(KindInsufficientData))
		return
	}

	mean, _ := algos.Mean(r)
	daily, _ := algos.StdDev(r)
	annualFactor := math.Sqrt(a.cfg.TradingDaysPerYear)
	res.Volatility = Volatility{Available: true, Daily: daily, Annualized: daily * annualFactor}

	a.tailRisk(r, mean, daily, s.TotalValue, res)

	rf := a.cfg.RiskFreeRate / a.cfg.TradingDaysPerYear
	if v, ok := algos.SafeDiv(mean-rf, daily); ok {
		res.SharpeRatio = ratioOf(v * annualFactor)
	} else {
		res.SharpeRatio = unavailable(string(KindInsufficientData))
		a.warn(res, "sharpe_ratio", newError(KindInsufficientData, "sharpe", "", "zero volatility"))
	}

	if dd, err := algos.DownsideDeviation(r); err != nil {
		// 负收益不足两期时下行标准差无定义
		res.SortinoRatio = unavailable(ReasonUndefined)
	} else if v, ok := algos.SafeDiv(mean-rf, dd); ok {
		res.SortinoRatio = ratioOf(v * annualFactor)
	} else {
		res.SortinoRatio = unavailable(ReasonUndefined)
	}

	if mdd, err := algos.MaxDrawdown(algos.CumulativeReturns(r)); err == nil {
		res.MaxDrawdown = ratioOf(mdd)
	} else {
		res.MaxDrawdown = unavailable(string(KindInsufficientData))
		a.warn(res, "max_drawdown", err)
	}

	res.Beta = a.beta(r, s.BenchmarkReturns, res)
	if rho, err := algos.Correlation(r, s.BenchmarkReturns); err == nil {
		res.BenchmarkCorrelation = ratioOf(rho)
	} else {
		res.BenchmarkCorrelation = unavailable(string(KindInsufficientData))
	}
}

func (a *ReturnSeriesAnalyzer) beta(r, b []float64, res *RiskMetricsResult) OptionalRatio {
	cov, err := algos.Covariance(r, b)
	if err != nil {
		a.warn(res, "beta", err)
		return unavailable(string(KindInsufficientData))
	}
	vb, _ := algos.Variance(b)
	v, ok := algos.SafeDiv(cov, vb)
	if !ok {
		a.warn(res, "beta", newError(KindInsufficientData, "beta", "benchmark_returns", "zero benchmark variance"))
		return unavailable(string(KindInsufficientData))
	}
	return ratioOf(v)
}

// tailRisk 计算 VaR 与 ES。历史模拟为默认口径，参数法假设正态分布
func (a *ReturnSeriesAnalyzer) tailRisk(r []float64, mean, daily float64, value decimal.Decimal, res *RiskMetricsResult) {
	var losses [3]float64 // 收益率口径的 VaR (正数为损失)
	var shortfalls [2]float64

	switch a.cfg.VaRMethod {
	case VaRMethodParametric:
		for i, p := range confidenceLevels {
			z := distuv.UnitNormal.Quantile(p)
			losses[i] = -(mean - z*daily)
			if i < 2 {
				shortfalls[i] = distuv.UnitNormal.Prob(z)/(1-p)*daily - mean
			}
		}
	default:
		for i, p := range confidenceLevels {
			q, err := algos.Percentile(r, 1-p)
			if err != nil {
				a.warn(res, "var", err)
				return
			}
			losses[i] = -q
			if i < 2 {
				shortfalls[i] = -tailMean(r, q)
			}
		}
	}

	amount := func(loss float64) decimal.Decimal {
		if loss <= 0 || math.IsNaN(loss) || math.IsInf(loss, 0) {
			return decimal.Zero
		}
		return value.Mul(decimal.NewFromFloat(loss)).Round(8)
	}

	res.VaR = VaRMetrics{
		Available: true,
		Method:    a.cfg.VaRMethod,
		VaR95:     amount(losses[0]),
		VaR99:     amount(losses[1]),
		VaR999:    amount(losses[2]),
	}
	// ES 不小于同置信度的 VaR
	res.ExpectedShortfall = ExpectedShortfall{
		Available: true,
		ES95:      decimal.Max(amount(shortfalls[0]), res.VaR.VaR95),
		ES99:      decimal.Max(amount(shortfalls[1]), res.VaR.VaR99),
	}
}

// tailMean 不高于阈值的收益均值；线性插值分位数不小于最小值，尾部至少含一个观测
func tailMean(r []float64, threshold float64) float64 {
	var sum float64
	var n int
	for _, x := range r {
		if x <= threshold {
			sum += x
			n++
		}
	}
	if n == 0 {
		return threshold
	}
	return sum / float64(n)
}

func exposureBy(s PortfolioSnapshot, key func(Position) string) map[string]float64 {
	sums := make(map[string]decimal.Decimal)
	for _, p := range s.Positions {
		k := key(p)
		if k == "" {
			k = UnassignedBucket
		}
		sums[k] = sums[k].Add(p.MarketValue())
	}
	out := make(map[string]float64, len(sums))
	for k, v := range sums {
		out[k], _ = v.Div(s.TotalValue).Float64()
	}
	return out
}

// LimitInputs 把组合指标映射成限额评估所需的数值，ref 为组合 id；
// 不可用的指标不输出，从而不会被当作 0 参与比较
func (r *RiskMetricsResult) LimitInputs(ref string) MetricValues {
	mv := MetricValues{}
	put := func(t LimitType, v float64) {
		mv[MetricKey{Scope: LimitScopePortfolio, ScopeRef: ref, Type: t}] = decimal.NewFromFloat(v)
	}
	if r.VaR.Available {
		mv[MetricKey{Scope: LimitScopePortfolio, ScopeRef: ref, Type: LimitTypeVaR}] = r.VaR.VaR95
	}
	if r.MaxDrawdown.Available {
		put(LimitTypeDrawdown, math.Abs(r.MaxDrawdown.Value))
	}
	put(LimitTypeLeverage, r.LeverageRatio)
	put(LimitTypeConcentration, r.Concentration.TopPositionWeight)
	put(LimitTypeMarginUtilization, r.MarginUtilization)
	if r.Volatility.Available {
		put(LimitTypeVolatility, r.Volatility.Annualized)
	}
	for sector, w := range r.SectorExposure {
		mv[MetricKey{Scope: LimitScopeSector, ScopeRef: sector, Type: LimitTypeSectorExposure}] = decimal.NewFromFloat(math.Abs(w))
	}
	return mv
}
