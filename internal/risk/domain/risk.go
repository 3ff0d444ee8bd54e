// 包 风险管理服务的领域模型：组合风险指标、交易前评估、欺诈评分、限额与告警状态机
package domain

import (
	"github.com/shopspring/decimal"
)

// RiskLevel 风险等级 (有序)
type RiskLevel string

const (
	RiskLevelVeryLow  RiskLevel = "VERY_LOW"
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelVeryHigh RiskLevel = "VERY_HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// riskLevels 按严重程度升序排列
var riskLevels = []RiskLevel{
	RiskLevelVeryLow,
	RiskLevelLow,
	RiskLevelMedium,
	RiskLevelHigh,
	RiskLevelVeryHigh,
	RiskLevelCritical,
}

// Rank 等级序号，未知等级返回 -1
func (l RiskLevel) Rank() int {
	for i, lv := range riskLevels {
		if lv == l {
			return i
		}
	}
	return -1
}

// AtLeast 是否不低于 other
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.Rank() >= other.Rank()
}

// LevelForScore 按升序阈值把 0-100 分数映射为风险等级
func LevelForScore(score float64, thresholds []float64) RiskLevel {
	for i, th := range thresholds {
		if score < th {
			return riskLevels[i]
		}
	}
	return riskLevels[len(thresholds)]
}

// Side 买卖方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid 校验方向
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// AssetType 资产类别
type AssetType string

const (
	AssetTypeEquity     AssetType = "EQUITY"
	AssetTypeCrypto     AssetType = "CRYPTO"
	AssetTypeForex      AssetType = "FOREX"
	AssetTypeCommodity  AssetType = "COMMODITY"
	AssetTypeDerivative AssetType = "DERIVATIVE"
	AssetTypeBond       AssetType = "BOND"
)

// UnassignedBucket 缺失行业/币种时使用的分组
const UnassignedBucket = "UNASSIGNED"

// Position 组合中的单项持仓
type Position struct {
	Symbol       string          `json:"symbol"`
	AssetType    AssetType       `json:"asset_type"`
	Side         Side            `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"` // 方向由 Side 表示，Side 为空时取数量符号
	AveragePrice decimal.Decimal `json:"average_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Sector       string          `json:"sector"`
	Currency     string          `json:"currency"`
	Beta         float64         `json:"beta"`
	Volatility   float64         `json:"volatility"` // 年化波动率，小数
}

// signedQuantity 空头为负；未指定方向时沿用数量自身符号
func (p Position) signedQuantity() decimal.Decimal {
	switch p.Side {
	case SideSell:
		return p.Quantity.Abs().Neg()
	case SideBuy:
		return p.Quantity.Abs()
	default:
		return p.Quantity
	}
}

// MarketValue 市值 (空头为负)
func (p Position) MarketValue() decimal.Decimal {
	return p.signedQuantity().Mul(p.CurrentPrice)
}

// UnrealizedPnL 浮动盈亏，空头方向已调整
func (p Position) UnrealizedPnL() decimal.Decimal {
	return p.CurrentPrice.Sub(p.AveragePrice).Mul(p.signedQuantity())
}

// PortfolioSnapshot 组合快照，不可变输入
type PortfolioSnapshot struct {
	PortfolioID      string          `json:"portfolio_id"`
	UserID           string          `json:"user_id"`
	TotalValue       decimal.Decimal `json:"total_value"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	UsedMargin       decimal.Decimal `json:"used_margin"`
	Leverage         decimal.Decimal `json:"leverage"`
	Positions        []Position      `json:"positions"`
	// HistoricalReturns 与 BenchmarkReturns 必须等长且时间对齐
	HistoricalReturns []float64 `json:"historical_returns"`
	BenchmarkReturns  []float64 `json:"benchmark_returns"`
}

// GrossExposure 所有持仓市值绝对值之和
func (s PortfolioSnapshot) GrossExposure() decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.Positions {
		total = total.Add(p.MarketValue().Abs())
	}
	return total
}
