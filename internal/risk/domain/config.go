package domain

import (
	"math"
	"time"
)

// VaRMethod VaR 计算口径
type VaRMethod string

const (
	VaRMethodHistorical VaRMethod = "HISTORICAL"
	VaRMethodParametric VaRMethod = "PARAMETRIC"
)

// RiskEngineConfig 引擎的不可变配置，显式传入每个入口，不存在进程级可变状态
type RiskEngineConfig struct {
	Metrics       MetricsConfig       `mapstructure:"metrics" json:"metrics"`
	Trade         TradeRiskConfig     `mapstructure:"trade" json:"trade"`
	Fraud         FraudConfig         `mapstructure:"fraud" json:"fraud"`
	Alert         AlertConfig         `mapstructure:"alert" json:"alert"`
	Compliance    ComplianceConfig    `mapstructure:"compliance" json:"compliance"`
	StressTesting StressTestingConfig `mapstructure:"stress_testing" json:"stress_testing"`
}

// MetricsConfig 组合风险指标参数
type MetricsConfig struct {
	VaRMethod          VaRMethod `mapstructure:"var_method" json:"var_method"`
	TradingDaysPerYear float64   `mapstructure:"trading_days_per_year" json:"trading_days_per_year"`
	RiskFreeRate       float64   `mapstructure:"risk_free_rate" json:"risk_free_rate"` // 年化
	MinObservations    int       `mapstructure:"min_observations" json:"min_observations"`
	// StrictMetrics 为 true 时任一指标不可用即整体失败
	StrictMetrics bool `mapstructure:"strict_metrics" json:"strict_metrics"`
}

// TradeRiskConfig 交易前风险评估参数
type TradeRiskConfig struct {
	PositionSizeWeight float64 `mapstructure:"position_size_weight" json:"position_size_weight"`
	LeverageWeight     float64 `mapstructure:"leverage_weight" json:"leverage_weight"`
	StopLossWeight     float64 `mapstructure:"stop_loss_weight" json:"stop_loss_weight"`
	MarketWeight       float64 `mapstructure:"market_weight" json:"market_weight"`

	PositionSizeSaturation float64 `mapstructure:"position_size_saturation" json:"position_size_saturation"`
	StopLossSaturation     float64 `mapstructure:"stop_loss_saturation" json:"stop_loss_saturation"`
	VolatilitySaturation   float64 `mapstructure:"volatility_saturation" json:"volatility_saturation"`
	BetaSaturation         float64 `mapstructure:"beta_saturation" json:"beta_saturation"`

	MaxLeverage         float64 `mapstructure:"max_leverage" json:"max_leverage"`
	MaxPositionFraction float64 `mapstructure:"max_position_fraction" json:"max_position_fraction"`
	ApprovalThreshold   float64 `mapstructure:"approval_threshold" json:"approval_threshold"`
	StopLossK           float64 `mapstructure:"stop_loss_k" json:"stop_loss_k"`

	// LevelThresholds 升序分数阈值，依次划分 VERY_LOW..CRITICAL 六档
	LevelThresholds []float64 `mapstructure:"level_thresholds" json:"level_thresholds"`
}

// FraudConfig 欺诈评分参数
type FraudConfig struct {
	LocationWeight    float64 `mapstructure:"location_weight" json:"location_weight"`
	DeviceWeight      float64 `mapstructure:"device_weight" json:"device_weight"`
	BehavioralWeight  float64 `mapstructure:"behavioral_weight" json:"behavioral_weight"`
	TransactionWeight float64 `mapstructure:"transaction_weight" json:"transaction_weight"`
	TemporalWeight    float64 `mapstructure:"temporal_weight" json:"temporal_weight"`

	ChallengeThreshold float64 `mapstructure:"challenge_threshold" json:"challenge_threshold"`
	ReviewThreshold    float64 `mapstructure:"review_threshold" json:"review_threshold"`
	BlockThreshold     float64 `mapstructure:"block_threshold" json:"block_threshold"`

	LocationFrequencyFloor     float64       `mapstructure:"location_frequency_floor" json:"location_frequency_floor"`
	LocationDistanceSaturation float64       `mapstructure:"location_distance_saturation_km" json:"location_distance_saturation_km"`
	DeviceStaleAfter           time.Duration `mapstructure:"device_stale_after" json:"device_stale_after"`
	TransactionRatioSaturation float64       `mapstructure:"transaction_ratio_saturation" json:"transaction_ratio_saturation"`
	VelocityWindow             time.Duration `mapstructure:"velocity_window" json:"velocity_window"`
	VelocitySaturation         float64       `mapstructure:"velocity_saturation" json:"velocity_saturation"`
	HardSignalLevel            float64       `mapstructure:"hard_signal_level" json:"hard_signal_level"`
	HardSignalCount            int           `mapstructure:"hard_signal_count" json:"hard_signal_count"`
	HighRiskCountries          []string      `mapstructure:"high_risk_countries" json:"high_risk_countries"`
}

// AlertConfig 告警升级与过期默认值 (分钟)
type AlertConfig struct {
	EscalateCriticalAfter int           `mapstructure:"escalate_critical_after" json:"escalate_critical_after"`
	EscalateHighAfter     int           `mapstructure:"escalate_high_after" json:"escalate_high_after"`
	EscalateMediumAfter   int           `mapstructure:"escalate_medium_after" json:"escalate_medium_after"`
	EscalationTargets     []string      `mapstructure:"escalation_targets" json:"escalation_targets"`
	DefaultTTL            time.Duration `mapstructure:"default_ttl" json:"default_ttl"`
}

// ComplianceConfig 合规检查参数
type ComplianceConfig struct {
	MinDiversification  int     `mapstructure:"min_diversification" json:"min_diversification"`
	DisclosureThreshold float64 `mapstructure:"disclosure_threshold" json:"disclosure_threshold"`
	MaxSectorExposure   float64 `mapstructure:"max_sector_exposure" json:"max_sector_exposure"`
}

// StressTestingConfig 压力测试参数
type StressTestingConfig struct {
	SurvivalLossFraction float64 `mapstructure:"survival_loss_fraction" json:"survival_loss_fraction"`
}

// DefaultRiskEngineConfig 默认配置
func DefaultRiskEngineConfig() RiskEngineConfig {
	return RiskEngineConfig{
		Metrics: MetricsConfig{
			VaRMethod:          VaRMethodHistorical,
			TradingDaysPerYear: 252,
			RiskFreeRate:       0,
			MinObservations:    5,
		},
		Trade: TradeRiskConfig{
			PositionSizeWeight:     0.30,
			LeverageWeight:         0.25,
			StopLossWeight:         0.25,
			MarketWeight:           0.20,
			PositionSizeSaturation: 0.25,
			StopLossSaturation:     0.10,
			VolatilitySaturation:   1.0,
			BetaSaturation:         2.0,
			MaxLeverage:            10,
			MaxPositionFraction:    0.20,
			ApprovalThreshold:      60,
			StopLossK:              2,
			LevelThresholds:        []float64{20, 40, 60, 75, 90},
		},
		Fraud: FraudConfig{
			LocationWeight:             0.25,
			DeviceWeight:               0.20,
			BehavioralWeight:           0.15,
			TransactionWeight:          0.25,
			TemporalWeight:             0.15,
			ChallengeThreshold:         0.30,
			ReviewThreshold:            0.60,
			BlockThreshold:             0.85,
			LocationFrequencyFloor:     0.05,
			LocationDistanceSaturation: 2000,
			DeviceStaleAfter:           90 * 24 * time.Hour,
			TransactionRatioSaturation: 10,
			VelocityWindow:             10 * time.Minute,
			VelocitySaturation:         5,
			HardSignalLevel:            0.8,
			HardSignalCount:            3,
		},
		Alert: AlertConfig{
			EscalateCriticalAfter: 15,
			EscalateHighAfter:     60,
			EscalateMediumAfter:   240,
			EscalationTargets:     []string{"risk-desk"},
			DefaultTTL:            7 * 24 * time.Hour,
		},
		Compliance: ComplianceConfig{
			MinDiversification:  10,
			DisclosureThreshold: 0.05,
			MaxSectorExposure:   0.35,
		},
		StressTesting: StressTestingConfig{
			SurvivalLossFraction: 0.5,
		},
	}
}

// Validate 校验配置一致性，返回 ErrConfiguration 类错误
func (c RiskEngineConfig) Validate() error {
	const op = "config.validate"
	m := c.Metrics
	if m.VaRMethod != VaRMethodHistorical && m.VaRMethod != VaRMethodParametric {
		return newError(KindConfiguration, op, "metrics.var_method", "unknown method %q", m.VaRMethod)
	}
	if m.TradingDaysPerYear <= 0 {
		return newError(KindConfiguration, op, "metrics.trading_days_per_year", "must be positive")
	}
	if m.MinObservations < 2 {
		return newError(KindConfiguration, op, "metrics.min_observations", "must be at least 2")
	}

	t := c.Trade
	for name, w := range map[string]float64{
		"trade.position_size_weight": t.PositionSizeWeight,
		"trade.leverage_weight":      t.LeverageWeight,
		"trade.stop_loss_weight":     t.StopLossWeight,
		"trade.market_weight":        t.MarketWeight,
	} {
		if w < 0 {
			return newError(KindConfiguration, op, name, "weight must be non-negative")
		}
	}
	if t.PositionSizeWeight+t.LeverageWeight+t.StopLossWeight+t.MarketWeight <= 0 {
		return newError(KindConfiguration, op, "trade", "weights sum to zero")
	}
	if t.PositionSizeSaturation <= 0 || t.StopLossSaturation <= 0 || t.VolatilitySaturation <= 0 || t.BetaSaturation <= 0 {
		return newError(KindConfiguration, op, "trade", "saturation values must be positive")
	}
	if t.MaxLeverage < 1 {
		return newError(KindConfiguration, op, "trade.max_leverage", "must be at least 1")
	}
	if t.MaxPositionFraction <= 0 || t.MaxPositionFraction > 1 {
		return newError(KindConfiguration, op, "trade.max_position_fraction", "must be in (0,1]")
	}
	if len(t.LevelThresholds) != len(riskLevels)-1 {
		return newError(KindConfiguration, op, "trade.level_thresholds", "need %d thresholds, got %d", len(riskLevels)-1, len(t.LevelThresholds))
	}
	for i := 1; i < len(t.LevelThresholds); i++ {
		if t.LevelThresholds[i] <= t.LevelThresholds[i-1] {
			return newError(KindConfiguration, op, "trade.level_thresholds", "must be strictly ascending")
		}
	}

	f := c.Fraud
	weights := []float64{f.LocationWeight, f.DeviceWeight, f.BehavioralWeight, f.TransactionWeight, f.TemporalWeight}
	var sum float64
	for _, w := range weights {
		if w < 0 {
			return newError(KindConfiguration, op, "fraud", "category weight must be non-negative")
		}
		sum += w
	}
	if math.Abs(sum-1) > 1e-9 {
		return newError(KindConfiguration, op, "fraud", "category weights must sum to 1, got %v", sum)
	}
	if !(0 < f.ChallengeThreshold && f.ChallengeThreshold < f.ReviewThreshold && f.ReviewThreshold < f.BlockThreshold && f.BlockThreshold <= 1) {
		return newError(KindConfiguration, op, "fraud", "recommendation thresholds must be ascending within (0,1]")
	}
	if f.LocationDistanceSaturation <= 0 || f.TransactionRatioSaturation <= 1 || f.VelocitySaturation <= 1 || f.VelocityWindow <= 0 {
		return newError(KindConfiguration, op, "fraud", "saturation values out of range")
	}

	if c.Alert.DefaultTTL <= 0 {
		return newError(KindConfiguration, op, "alert.default_ttl", "must be positive")
	}
	if c.StressTesting.SurvivalLossFraction <= 0 || c.StressTesting.SurvivalLossFraction > 1 {
		return newError(KindConfiguration, op, "stress_testing.survival_loss_fraction", "must be in (0,1]")
	}
	return nil
}
