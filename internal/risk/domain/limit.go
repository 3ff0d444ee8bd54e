package domain

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/fsm"
)

// LimitScope 限额作用范围
type LimitScope string

const (
	LimitScopeUser       LimitScope = "USER"
	LimitScopeAccount    LimitScope = "ACCOUNT"
	LimitScopePortfolio  LimitScope = "PORTFOLIO"
	LimitScopeAssetClass LimitScope = "ASSET_CLASS"
	LimitScopeSector     LimitScope = "SECTOR"
	LimitScopeSymbol     LimitScope = "SYMBOL"
	LimitScopeStrategy   LimitScope = "STRATEGY"
	LimitScopeGlobal     LimitScope = "GLOBAL"
)

// Valid 校验作用范围
func (s LimitScope) Valid() bool {
	switch s {
	case LimitScopeUser, LimitScopeAccount, LimitScopePortfolio, LimitScopeAssetClass,
		LimitScopeSector, LimitScopeSymbol, LimitScopeStrategy, LimitScopeGlobal:
		return true
	}
	return false
}

// LimitType 限额类型
type LimitType string

const (
	LimitTypePositionSize      LimitType = "POSITION_SIZE"
	LimitTypeOrderSize         LimitType = "ORDER_SIZE"
	LimitTypeDailyLoss         LimitType = "DAILY_LOSS"
	LimitTypeDrawdown          LimitType = "DRAWDOWN"
	LimitTypeLeverage          LimitType = "LEVERAGE"
	LimitTypeVaR               LimitType = "VAR_LIMIT"
	LimitTypeConcentration     LimitType = "CONCENTRATION"
	LimitTypeSectorExposure    LimitType = "SECTOR_EXPOSURE"
	LimitTypeMarginUtilization LimitType = "MARGIN_UTILIZATION"
	LimitTypeVolatility        LimitType = "VOLATILITY"
)

// Valid 校验限额类型
func (t LimitType) Valid() bool {
	switch t {
	case LimitTypePositionSize, LimitTypeOrderSize, LimitTypeDailyLoss, LimitTypeDrawdown,
		LimitTypeLeverage, LimitTypeVaR, LimitTypeConcentration, LimitTypeSectorExposure,
		LimitTypeMarginUtilization, LimitTypeVolatility:
		return true
	}
	return false
}

// LimitStatus 限额状态
type LimitStatus string

const (
	LimitStatusActive    LimitStatus = "ACTIVE"
	LimitStatusWarning   LimitStatus = "WARNING"
	LimitStatusBreached  LimitStatus = "BREACHED"
	LimitStatusSuspended LimitStatus = "SUSPENDED"
	LimitStatusExpired   LimitStatus = "EXPIRED"
)

// evaluable 参与评估的状态
func (s LimitStatus) evaluable() bool {
	return s == LimitStatusActive || s == LimitStatusWarning || s == LimitStatusBreached
}

// RiskLimit 风险限额。WarningThreshold ≤ LimitValue 在创建时校验；
// WarningThreshold 为 0 表示不设预警区间，只区分 ACTIVE 与 BREACHED
type RiskLimit struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Scope              LimitScope      `json:"scope"`
	ScopeRef           string          `json:"scope_ref"` // 作用对象 ID (用户/组合/行业/标的...)，GLOBAL 为空
	Type               LimitType       `json:"type"`
	LimitValue         decimal.Decimal `json:"limit_value"`
	WarningThreshold   decimal.Decimal `json:"warning_threshold"`
	CurrentUtilization decimal.Decimal `json:"current_utilization"` // 不截断，超限部分保持可见
	Status             LimitStatus     `json:"status"`
	EffectiveFrom      time.Time       `json:"effective_from"`
	EffectiveTo        *time.Time      `json:"effective_to,omitempty"`
	BreachActions      []string        `json:"breach_actions"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// NewRiskLimit 创建限额并校验一致性，不一致时返回 ErrConfiguration
func NewRiskLimit(id, name string, scope LimitScope, scopeRef string, typ LimitType,
	limitValue, warningThreshold decimal.Decimal, from time.Time, to *time.Time, actions []string) (*RiskLimit, error) {
	const op = "limit.create"
	switch {
	case id == "":
		return nil, newError(KindConfiguration, op, "id", "required")
	case !scope.Valid():
		return nil, newError(KindConfiguration, op, "scope", "unknown scope %q", scope)
	case !typ.Valid():
		return nil, newError(KindConfiguration, op, "type", "unknown type %q", typ)
	case !limitValue.IsPositive():
		return nil, newError(KindConfiguration, op, "limit_value", "must be positive")
	case warningThreshold.IsNegative():
		return nil, newError(KindConfiguration, op, "warning_threshold", "must be non-negative")
	case warningThreshold.GreaterThan(limitValue):
		return nil, newError(KindConfiguration, op, "warning_threshold", "%s exceeds limit value %s", warningThreshold, limitValue)
	case to != nil && to.Before(from):
		return nil, newError(KindConfiguration, op, "effective_to", "precedes effective_from")
	case scope != LimitScopeGlobal && scopeRef == "":
		return nil, newError(KindConfiguration, op, "scope_ref", "required for scope %s", scope)
	}
	return &RiskLimit{
		ID:                 id,
		Name:               name,
		Scope:              scope,
		ScopeRef:           scopeRef,
		Type:               typ,
		LimitValue:         limitValue,
		WarningThreshold:   warningThreshold,
		CurrentUtilization: decimal.Zero,
		Status:             LimitStatusActive,
		EffectiveFrom:      from,
		EffectiveTo:        to,
		BreachActions:      slices.Clone(actions),
		CreatedAt:          from,
		UpdatedAt:          from,
	}, nil
}

// EffectiveAt 是否在生效窗口内 [from, to]
func (l *RiskLimit) EffectiveAt(t time.Time) bool {
	if t.Before(l.EffectiveFrom) {
		return false
	}
	return l.EffectiveTo == nil || !t.After(*l.EffectiveTo)
}

// UtilizationPercentage 使用率 = 当前值 / 限额值 (小数，不截断)
func (l *RiskLimit) UtilizationPercentage() decimal.Decimal {
	return l.CurrentUtilization.Div(l.LimitValue)
}

// classify 按使用率给出状态，预警阈值为 0 时跳过 WARNING
func (l *RiskLimit) classify(value decimal.Decimal) (decimal.Decimal, LimitStatus) {
	util := value.Div(l.LimitValue)
	switch {
	case util.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return util, LimitStatusBreached
	case util.GreaterThanOrEqual(l.WarningThreshold.Div(l.LimitValue)) && l.WarningThreshold.IsPositive():
		return util, LimitStatusWarning
	default:
		return util, LimitStatusActive
	}
}

// ApplyEvaluation 记录最新使用值并更新状态 (ACTIVE/WARNING/BREACHED 之间可互转)
func (l *RiskLimit) ApplyEvaluation(value decimal.Decimal, now time.Time) error {
	if !l.Status.evaluable() {
		return newError(KindInvalidTransition, "limit.evaluate", l.ID, "limit is %s", l.Status)
	}
	_, status := l.classify(value)
	l.CurrentUtilization = value
	l.Status = status
	l.UpdatedAt = now
	return nil
}

// 限额生命周期事件，评估引起的 ACTIVE/WARNING/BREACHED 互转不经过状态机
const (
	limitEventSuspend = "SUSPEND"
	limitEventResume  = "RESUME"
	limitEventExpire  = "EXPIRE"
)

func (l *RiskLimit) lifecycle() *fsm.Machine[string, string] {
	m := fsm.NewMachine[string, string](string(l.Status))
	for _, from := range []LimitStatus{LimitStatusActive, LimitStatusWarning, LimitStatusBreached} {
		m.AddTransition(string(from), limitEventSuspend, string(LimitStatusSuspended))
		m.AddTransition(string(from), limitEventExpire, string(LimitStatusExpired))
	}
	m.AddTransition(string(LimitStatusSuspended), limitEventResume, string(LimitStatusActive))
	m.AddTransition(string(LimitStatusSuspended), limitEventExpire, string(LimitStatusExpired))
	return m
}

func (l *RiskLimit) trigger(op, event string, to LimitStatus, now time.Time) error {
	if err := l.lifecycle().Trigger(context.Background(), event); err != nil {
		return &RiskError{Kind: KindInvalidTransition, Op: op, Field: l.ID, Message: "limit is " + string(l.Status), Err: err}
	}
	l.Status = to
	l.UpdatedAt = now
	return nil
}

// Suspend 暂停限额
func (l *RiskLimit) Suspend(now time.Time) error {
	return l.trigger("limit.suspend", limitEventSuspend, LimitStatusSuspended, now)
}

// Resume 恢复已暂停的限额，状态回到 ACTIVE，下一次评估重新分类
func (l *RiskLimit) Resume(now time.Time) error {
	return l.trigger("limit.resume", limitEventResume, LimitStatusActive, now)
}

// Expire 过期为终态
func (l *RiskLimit) Expire(now time.Time) error {
	return l.trigger("limit.expire", limitEventExpire, LimitStatusExpired, now)
}

// MetricKey 指标定位：范围 + 对象 + 类型
type MetricKey struct {
	Scope    LimitScope
	ScopeRef string
	Type     LimitType
}

// MetricValues 当前指标值
type MetricValues map[MetricKey]decimal.Decimal

// Merge 合并多组指标，后者覆盖前者
func (m MetricValues) Merge(others ...MetricValues) MetricValues {
	out := make(MetricValues, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, o := range others {
		for k, v := range o {
			out[k] = v
		}
	}
	return out
}

// LimitEvaluation 单个限额的评估结果
type LimitEvaluation struct {
	LimitID             string          `json:"limit_id"`
	Name                string          `json:"name"`
	Scope               LimitScope      `json:"scope"`
	ScopeRef            string          `json:"scope_ref"`
	Type                LimitType       `json:"type"`
	CurrentValue        decimal.Decimal `json:"current_value"`
	LimitValue          decimal.Decimal `json:"limit_value"`
	WarningThreshold    decimal.Decimal `json:"warning_threshold"`
	Utilization         decimal.Decimal `json:"utilization"`          // 原始使用率，可 > 1
	ReportedUtilization decimal.Decimal `json:"reported_utilization"` // 展示用，截断到 [0,1]
	Status              LimitStatus     `json:"status"`
}

// LimitBreachResult 限额评估汇总
type LimitBreachResult struct {
	BreachDetected     bool              `json:"breach_detected"`
	Breached           []LimitEvaluation `json:"breached"`
	Warnings           []LimitEvaluation `json:"warnings"`
	Evaluated          []LimitEvaluation `json:"evaluated"`
	RecommendedActions []string          `json:"recommended_actions"`
	EvaluatedAt        time.Time         `json:"evaluated_at"`
}

// EvaluateLimits 对匹配当前指标的有效限额逐一评估。按限额 ID 升序处理，
// 相同输入重复评估得到相同结果；不修改传入的限额
func EvaluateLimits(limits []RiskLimit, metrics MetricValues, now time.Time) *LimitBreachResult {
	ordered := slices.Clone(limits)
	slices.SortStableFunc(ordered, func(a, b RiskLimit) int { return cmp.Compare(a.ID, b.ID) })

	res := &LimitBreachResult{
		Breached:           []LimitEvaluation{},
		Warnings:           []LimitEvaluation{},
		Evaluated:          []LimitEvaluation{},
		RecommendedActions: []string{},
		EvaluatedAt:        now,
	}
	seen := make(map[string]struct{})
	for i := range ordered {
		l := &ordered[i]
		if !l.Status.evaluable() || !l.EffectiveAt(now) {
			continue
		}
		value, ok := metrics[MetricKey{Scope: l.Scope, ScopeRef: l.ScopeRef, Type: l.Type}]
		if !ok {
			continue
		}
		util, status := l.classify(value)
		ev := LimitEvaluation{
			LimitID:             l.ID,
			Name:                l.Name,
			Scope:               l.Scope,
			ScopeRef:            l.ScopeRef,
			Type:                l.Type,
			CurrentValue:        value,
			LimitValue:          l.LimitValue,
			WarningThreshold:    l.WarningThreshold,
			Utilization:         util,
			ReportedUtilization: decimal.Min(decimal.Max(util, decimal.Zero), decimal.NewFromInt(1)),
			Status:              status,
		}
		res.Evaluated = append(res.Evaluated, ev)
		switch status {
		case LimitStatusBreached:
			res.Breached = append(res.Breached, ev)
			for _, a := range l.BreachActions {
				if _, dup := seen[a]; !dup {
					seen[a] = struct{}{}
					res.RecommendedActions = append(res.RecommendedActions, a)
				}
			}
		case LimitStatusWarning:
			res.Warnings = append(res.Warnings, ev)
		}
	}
	res.BreachDetected = len(res.Breached) > 0
	return res
}
