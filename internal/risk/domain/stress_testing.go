package domain

import (
	"cmp"
	"math"
	"slices"

	"github.com/shopspring/decimal"
)

// ScenarioType 压力场景类型
type ScenarioType string

const (
	ScenarioMarketShock ScenarioType = "MARKET_SHOCK"
	ScenarioRateShock   ScenarioType = "RATE_SHOCK"
)

// 内置场景 ID
const (
	ScenarioMarketCrash = "MARKET_CRASH"
	ScenarioGFC         = "GFC"
	ScenarioFlashCrash  = "FLASH_CRASH"
	ScenarioRateHike    = "RATE_HIKE"
)

// defaultShiftKey 未单独配置的标的/行业使用的冲击
const defaultShiftKey = "DEFAULT"

// StressScenario 压力测试场景。价格冲击优先按标的，其次按行业，最后取 DEFAULT
type StressScenario struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Type        ScenarioType       `json:"type"`
	Description string             `json:"description"`
	PriceShift  map[string]float64 `json:"price_shift"`  // Symbol -> 涨跌幅 (-0.20 表示下跌 20%)
	SectorShift map[string]float64 `json:"sector_shift"` // Sector -> 涨跌幅
}

func (s *StressScenario) shiftFor(p Position) float64 {
	if v, ok := s.PriceShift[p.Symbol]; ok {
		return v
	}
	if v, ok := s.SectorShift[p.Sector]; ok {
		return v
	}
	if v, ok := s.SectorShift[defaultShiftKey]; ok {
		return v
	}
	return s.PriceShift[defaultShiftKey]
}

// PositionImpact 单个持仓在场景下的损益
type PositionImpact struct {
	Symbol           string          `json:"symbol"`
	Impact           decimal.Decimal `json:"impact"`
	ImpactPercentage float64         `json:"impact_percentage"`
}

// StressTestResult 压力测试报告
type StressTestResult struct {
	ScenarioID        string           `json:"scenario_id"`
	ScenarioName      string           `json:"scenario_name"`
	ScenarioType      ScenarioType     `json:"scenario_type"`
	PnLImpact         decimal.Decimal  `json:"pnl_impact"`
	ImpactFraction    float64          `json:"impact_fraction"` // 相对组合总值，小数
	AffectedPositions []PositionImpact `json:"affected_positions"`
	Survived          bool             `json:"survived"`
	Recommendations   []string         `json:"recommendations"`
}

// StressTester 压力测试引擎
type StressTester struct {
	scenarios map[string]*StressScenario
	survival  float64
}

// NewStressTester 创建带内置场景的压力测试引擎
func NewStressTester(cfg RiskEngineConfig) *StressTester {
	e := &StressTester{
		scenarios: make(map[string]*StressScenario),
		survival:  cfg.StressTesting.SurvivalLossFraction,
	}
	e.initDefaultScenarios()
	return e
}

func (e *StressTester) initDefaultScenarios() {
	e.Register(&StressScenario{
		ID:          ScenarioMarketCrash,
		Name:        "Market Crash -20%",
		Type:        ScenarioMarketShock,
		Description: "Broad market sell-off",
		PriceShift:  map[string]float64{defaultShiftKey: -0.20},
	})
	// 全球金融危机场景 (GFC)
	e.Register(&StressScenario{
		ID:          ScenarioGFC,
		Name:        "Global Financial Crisis",
		Type:        ScenarioMarketShock,
		Description: "Market wide crash, high volatility",
		PriceShift: map[string]float64{
			defaultShiftKey: -0.40, // 默认下跌 40%
			"GOLD":          0.10,  // 避险资产上涨 10%
			"XAUUSD":        0.10,
		},
	})
	// 闪崩场景 (Flash Crash)
	e.Register(&StressScenario{
		ID:          ScenarioFlashCrash,
		Name:        "Flash Crash",
		Type:        ScenarioMarketShock,
		Description: "Sudden drop in index within minutes",
		PriceShift:  map[string]float64{defaultShiftKey: -0.15},
	})
	e.Register(&StressScenario{
		ID:          ScenarioRateHike,
		Name:        "Interest Rate Hike",
		Type:        ScenarioRateShock,
		Description: "Rates +200bp, sector dependent repricing",
		SectorShift: map[string]float64{
			defaultShiftKey: -0.05,
			"Banking":       0.05,
			"Financials":    0.05,
			"IT":            -0.10,
			"Technology":    -0.10,
			"RealEstate":    -0.12,
		},
	})
}

// Register 注册或覆盖场景
func (e *StressTester) Register(s *StressScenario) {
	e.scenarios[s.ID] = s
}

// Scenarios 按 ID 排序的场景列表
func (e *StressTester) Scenarios() []*StressScenario {
	out := make([]*StressScenario, 0, len(e.scenarios))
	for _, s := range e.scenarios {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *StressScenario) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// RunScenario 在指定组合上运行单个场景；组合总值取 snapshot.TotalValue，缺省时取持仓总敞口
func (e *StressTester) RunScenario(scenarioID string, s PortfolioSnapshot) (*StressTestResult, error) {
	scenario, ok := e.scenarios[scenarioID]
	if !ok {
		return nil, NotFound("stress scenario", scenarioID)
	}
	if len(s.Positions) == 0 {
		return nil, newError(KindEmptyPortfolio, "stress.run", scenarioID, "no positions")
	}
	base := s.TotalValue
	if !base.IsPositive() {
		base = s.GrossExposure()
	}
	if !base.IsPositive() {
		return nil, newError(KindEmptyPortfolio, "stress.run", scenarioID, "zero portfolio value")
	}

	pnl := decimal.Zero
	affected := []PositionImpact{}
	for _, p := range s.Positions {
		shift := scenario.shiftFor(p)
		if shift == 0 {
			continue
		}
		mv := p.MarketValue()
		impact := mv.Mul(decimal.NewFromFloat(shift))
		pnl = pnl.Add(impact)
		pct := 0.0
		if !mv.IsZero() {
			pct, _ = impact.Div(mv.Abs()).Float64()
		}
		affected = append(affected, PositionImpact{Symbol: p.Symbol, Impact: impact.Round(8), ImpactPercentage: pct})
	}

	fraction, _ := pnl.Div(base).Float64()
	return &StressTestResult{
		ScenarioID:        scenario.ID,
		ScenarioName:      scenario.Name,
		ScenarioType:      scenario.Type,
		PnLImpact:         pnl.Round(8),
		ImpactFraction:    fraction,
		AffectedPositions: affected,
		Survived:          -fraction < e.survival, // 亏损达到阈值视为未通过
		Recommendations:   stressRecommendations(scenario.Type, fraction),
	}, nil
}

// RunAll 依次运行所有场景
func (e *StressTester) RunAll(s PortfolioSnapshot) ([]*StressTestResult, error) {
	out := make([]*StressTestResult, 0, len(e.scenarios))
	for _, sc := range e.Scenarios() {
		r, err := e.RunScenario(sc.ID, s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func stressRecommendations(t ScenarioType, impact float64) []string {
	recs := []string{}
	if math.Abs(impact) > 0.15 {
		recs = append(recs,
			"Consider hedging strategies to protect against extreme scenarios",
			"Review portfolio allocation and reduce concentrated positions")
	}
	switch t {
	case ScenarioMarketShock:
		recs = append(recs, "Increase allocation to defensive sectors", "Consider adding gold or other safe-haven assets")
	case ScenarioRateShock:
		recs = append(recs, "Review exposure to rate-sensitive sectors", "Consider floating rate instruments")
	}
	return recs
}
