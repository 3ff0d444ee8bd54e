package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/riskengine/pkg/algos"
)

// 交易风险因子名称
const (
	FactorPositionSize = "POSITION_SIZE"
	FactorLeverage     = "LEVERAGE"
	FactorStopLoss     = "STOP_LOSS"
	FactorMarket       = "MARKET"
)

// 市场微观结构因子内部权重：波动率 / 流动性缺失 / |beta| / |相关性|
const (
	marketVolWeight         = 0.4
	marketIlliquidityWeight = 0.2
	marketBetaWeight        = 0.2
	marketCorrWeight        = 0.2
)

// MarketConditions 标的当前市场状况
type MarketConditions struct {
	Volatility  float64 `json:"volatility"` // 年化
	Liquidity   float64 `json:"liquidity"`  // [0,1]，1 为流动性最好
	Beta        float64 `json:"beta"`
	Correlation float64 `json:"correlation"` // 与现有持仓的相关性
}

// TradeRiskRequest 交易前风险评估请求
type TradeRiskRequest struct {
	UserID           string           `json:"user_id"`
	PortfolioID      string           `json:"portfolio_id"`
	Symbol           string           `json:"symbol"`
	Side             Side             `json:"side"`
	Quantity         decimal.Decimal  `json:"quantity"`
	Price            decimal.Decimal  `json:"price"`
	StopLoss         *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit       *decimal.Decimal `json:"take_profit,omitempty"`
	Leverage         float64          `json:"leverage"` // 未填写按 1 倍
	Positions        []Position       `json:"positions"`
	Market           MarketConditions `json:"market"`
	PortfolioValue   decimal.Decimal  `json:"portfolio_value"`
	AvailableBalance decimal.Decimal  `json:"available_balance"`
}

// Notional 名义金额
func (r TradeRiskRequest) Notional() decimal.Decimal {
	return r.Quantity.Mul(r.Price)
}

// RiskFactor 单个风险因子，Contribution 之和即为总分
type RiskFactor struct {
	Name            string  `json:"name"`
	RawValue        float64 `json:"raw_value"`
	NormalizedValue float64 `json:"normalized_value"`
	Weight          float64 `json:"weight"`
	Contribution    float64 `json:"contribution"`
}

// TradeRiskResult 交易前风险评估结果
type TradeRiskResult struct {
	UserID            string          `json:"user_id"`
	PortfolioID       string          `json:"portfolio_id"`
	Symbol            string          `json:"symbol"`
	RiskLevel         RiskLevel       `json:"risk_level"`
	RiskScore         float64         `json:"risk_score"`
	Factors           []RiskFactor    `json:"factors"`
	Approved          bool            `json:"approved"`
	Reasons           []string        `json:"reasons"`
	Notional          decimal.Decimal `json:"notional"`
	MaxPositionSize   decimal.Decimal `json:"max_position_size"`
	SuggestedStopLoss decimal.Decimal `json:"suggested_stop_loss"`
}

// TradeRiskAssessor 交易前风险评估器，无状态
type TradeRiskAssessor struct {
	cfg  TradeRiskConfig
	days float64
}

// NewTradeRiskAssessor 创建评估器
func NewTradeRiskAssessor(cfg RiskEngineConfig) *TradeRiskAssessor {
	return &TradeRiskAssessor{cfg: cfg.Trade, days: cfg.Metrics.TradingDaysPerYear}
}

func (a *TradeRiskAssessor) validate(req TradeRiskRequest) error {
	const op = "trade.assess"
	switch {
	case req.Symbol == "":
		return newError(KindInvalidInput, op, "symbol", "required")
	case !req.Side.Valid():
		return newError(KindInvalidInput, op, "side", "unknown side %q", req.Side)
	case !req.Quantity.IsPositive():
		return newError(KindInvalidInput, op, "quantity", "must be positive")
	case !req.Price.IsPositive():
		return newError(KindInvalidInput, op, "price", "must be positive")
	case !req.PortfolioValue.IsPositive():
		return newError(KindInvalidInput, op, "portfolio_value", "must be positive")
	case req.Leverage != 0 && req.Leverage < 1:
		return newError(KindInvalidInput, op, "leverage", "must be at least 1")
	case req.StopLoss != nil && !req.StopLoss.IsPositive():
		return newError(KindInvalidInput, op, "stop_loss", "must be positive")
	case !finite([]float64{req.Leverage, req.Market.Volatility, req.Market.Liquidity, req.Market.Beta, req.Market.Correlation}):
		return newError(KindInvalidInput, op, "market", "non-finite value")
	}
	return nil
}

// Assess 计算风险分数、等级、审批结论、最大仓位与建议止损
func (a *TradeRiskAssessor) Assess(req TradeRiskRequest) (*TradeRiskResult, error) {
	if err := a.validate(req); err != nil {
		return nil, err
	}
	cfg := a.cfg
	leverage := req.Leverage
	if leverage == 0 {
		leverage = 1
	}
	notional := req.Notional()
	sizeFraction, _ := notional.Div(req.PortfolioValue).Float64()

	// 1. 仓位规模
	sizeNorm := algos.Clamp(sizeFraction/cfg.PositionSizeSaturation, 0, 1)
	// 2. 杠杆
	levNorm := algos.Clamp(leverage/cfg.MaxLeverage, 0, 1)
	// 3. 止损距离：未设置止损视为最大风险，止损越紧风险越低
	stopRaw, stopNorm := 0.0, 1.0
	if req.StopLoss != nil {
		stopRaw, _ = req.Price.Sub(*req.StopLoss).Abs().Div(req.Price).Float64()
		stopNorm = algos.Clamp(stopRaw/cfg.StopLossSaturation, 0, 1)
	}
	// 4. 市场微观结构
	m := req.Market
	marketNorm := marketVolWeight*algos.Clamp(m.Volatility/cfg.VolatilitySaturation, 0, 1) +
		marketIlliquidityWeight*(1-algos.Clamp(m.Liquidity, 0, 1)) +
		marketBetaWeight*algos.Clamp(math.Abs(m.Beta)/cfg.BetaSaturation, 0, 1) +
		marketCorrWeight*algos.Clamp(math.Abs(m.Correlation), 0, 1)

	factors := []RiskFactor{
		{Name: FactorPositionSize, RawValue: sizeFraction, NormalizedValue: sizeNorm, Weight: cfg.PositionSizeWeight},
		{Name: FactorLeverage, RawValue: leverage, NormalizedValue: levNorm, Weight: cfg.LeverageWeight},
		{Name: FactorStopLoss, RawValue: stopRaw, NormalizedValue: stopNorm, Weight: cfg.StopLossWeight},
		{Name: FactorMarket, RawValue: marketNorm, NormalizedValue: algos.Clamp(marketNorm, 0, 1), Weight: cfg.MarketWeight},
	}
	var totalWeight, score float64
	for _, f := range factors {
		totalWeight += f.Weight
	}
	for i := range factors {
		factors[i].Contribution = 100 * factors[i].Weight * factors[i].NormalizedValue / totalWeight
		score += factors[i].Contribution
	}
	score = algos.Clamp(score, 0, 100)

	maxSize := a.maxPositionSize(req, leverage)
	res := &TradeRiskResult{
		UserID:            req.UserID,
		PortfolioID:       req.PortfolioID,
		Symbol:            req.Symbol,
		RiskScore:         score,
		RiskLevel:         LevelForScore(score, cfg.LevelThresholds),
		Factors:           factors,
		Notional:          notional,
		MaxPositionSize:   maxSize,
		SuggestedStopLoss: a.suggestedStopLoss(req),
		Reasons:           []string{},
	}
	if score >= cfg.ApprovalThreshold {
		res.Reasons = append(res.Reasons, fmt.Sprintf("risk score %.2f at or above approval threshold %.2f", score, cfg.ApprovalThreshold))
	}
	if notional.GreaterThan(maxSize) {
		res.Reasons = append(res.Reasons, fmt.Sprintf("notional %s exceeds max position size %s", notional.StringFixed(2), maxSize.StringFixed(2)))
	}
	res.Approved = len(res.Reasons) == 0
	return res, nil
}

// maxPositionSize 取 可用资金×杠杆 与 单标的集中度余量 的较小值
func (a *TradeRiskAssessor) maxPositionSize(req TradeRiskRequest, leverage float64) decimal.Decimal {
	byBalance := decimal.Max(req.AvailableBalance, decimal.Zero).Mul(decimal.NewFromFloat(leverage))

	ceiling := req.PortfolioValue.Mul(decimal.NewFromFloat(a.cfg.MaxPositionFraction))
	existing := decimal.Zero
	for _, p := range req.Positions {
		if p.Symbol == req.Symbol {
			existing = existing.Add(p.MarketValue().Abs())
		}
	}
	headroom := decimal.Max(ceiling.Sub(existing), decimal.Zero)
	return decimal.Min(byBalance, headroom).Round(8)
}

// suggestedStopLoss 多头 price×(1−kσ)，空头 price×(1+kσ)，σ 为日波动率
func (a *TradeRiskAssessor) suggestedStopLoss(req TradeRiskRequest) decimal.Decimal {
	daily := math.Abs(req.Market.Volatility) / math.Sqrt(a.days)
	move := decimal.NewFromFloat(a.cfg.StopLossK * daily)
	one := decimal.NewFromInt(1)
	if req.Side == SideSell {
		return req.Price.Mul(one.Add(move)).Round(8)
	}
	return decimal.Max(req.Price.Mul(one.Sub(move)), decimal.Zero).Round(8)
}
