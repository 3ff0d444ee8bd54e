package domain

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// AlertType 告警类型
type AlertType string

const (
	AlertTypeLimitBreach   AlertType = "LIMIT_BREACH"
	AlertTypeLimitWarning  AlertType = "LIMIT_WARNING"
	AlertTypeFraud         AlertType = "FRAUD_SUSPECTED"
	AlertTypeTradeRisk     AlertType = "TRADE_RISK"
	AlertTypePortfolioRisk AlertType = "PORTFOLIO_RISK"
	AlertTypeCompliance    AlertType = "COMPLIANCE"
	AlertTypeMarginCall    AlertType = "MARGIN_CALL"
)

// AlertSeverity 告警严重程度 (有序)
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "LOW"
	SeverityMedium   AlertSeverity = "MEDIUM"
	SeverityHigh     AlertSeverity = "HIGH"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// Rank 严重程度序号，未知返回 -1
func (s AlertSeverity) Rank() int {
	return slices.Index([]AlertSeverity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}, s)
}

// Priority 由严重程度导出：CRITICAL=P1 ... LOW=P4
func (s AlertSeverity) Priority() AlertPriority {
	switch s {
	case SeverityCritical:
		return PriorityP1
	case SeverityHigh:
		return PriorityP2
	case SeverityMedium:
		return PriorityP3
	default:
		return PriorityP4
	}
}

// AlertPriority 处理优先级
type AlertPriority string

const (
	PriorityP1 AlertPriority = "P1"
	PriorityP2 AlertPriority = "P2"
	PriorityP3 AlertPriority = "P3"
	PriorityP4 AlertPriority = "P4"
)

// AlertStatus 告警状态
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "ACTIVE"
	AlertStatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertStatusInProgress   AlertStatus = "IN_PROGRESS"
	AlertStatusResolved     AlertStatus = "RESOLVED"
	AlertStatusDismissed    AlertStatus = "DISMISSED"
	AlertStatusEscalated    AlertStatus = "ESCALATED"
	AlertStatusExpired      AlertStatus = "EXPIRED"
)

// IsTerminal 终态不再变化
func (s AlertStatus) IsTerminal() bool {
	return s == AlertStatusResolved || s == AlertStatusDismissed || s == AlertStatusExpired
}

// alertEdges 人工操作允许的状态迁移。ACTIVE→ESCALATED 只能由升级定时器触发
var alertEdges = map[AlertStatus][]AlertStatus{
	AlertStatusActive:       {AlertStatusAcknowledged, AlertStatusDismissed, AlertStatusExpired},
	AlertStatusAcknowledged: {AlertStatusInProgress, AlertStatusResolved, AlertStatusEscalated, AlertStatusExpired},
	AlertStatusInProgress:   {AlertStatusResolved, AlertStatusEscalated, AlertStatusExpired},
	AlertStatusEscalated:    {AlertStatusInProgress, AlertStatusExpired},
}

// CanTransition 是否允许人工迁移 from→to
func CanTransition(from, to AlertStatus) bool {
	return slices.Contains(alertEdges[from], to)
}

// EntityKind 关联实体类型
type EntityKind string

const (
	EntityTrade     EntityKind = "TRADE"
	EntityPosition  EntityKind = "POSITION"
	EntityAccount   EntityKind = "ACCOUNT"
	EntityPortfolio EntityKind = "PORTFOLIO"
	EntityUser      EntityKind = "USER"
	EntityLimit     EntityKind = "LIMIT"
	EntitySymbol    EntityKind = "SYMBOL"
	EntitySector    EntityKind = "SECTOR"
	EntityStrategy  EntityKind = "STRATEGY"
)

// EntityRef 关联实体的 ID 引用，由持久层解析
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// TriggerCondition 触发条件
type TriggerCondition struct {
	Rule        string          `json:"rule"`
	Operator    string          `json:"operator"`
	Threshold   decimal.Decimal `json:"threshold"`
	ActualValue decimal.Decimal `json:"actual_value"`
	TimeWindow  time.Duration   `json:"time_window"`
}

// ImpactAssessment 影响评估
type ImpactAssessment struct {
	FinancialExposure decimal.Decimal `json:"financial_exposure"`
	RiskScore         float64         `json:"risk_score"`
	AffectedPositions int             `json:"affected_positions"`
	Description       string          `json:"description"`
}

// EscalationRule 升级规则：创建后 AfterMinutes 分钟仍未关闭则升级给 Targets
type EscalationRule struct {
	AfterMinutes int      `json:"after_minutes"`
	Targets      []string `json:"targets"`
}

// AlertHistoryEntry 状态迁移记录
type AlertHistoryEntry struct {
	From    AlertStatus `json:"from"`
	To      AlertStatus `json:"to"`
	By      string      `json:"by"`
	Comment string      `json:"comment"`
	At      time.Time   `json:"at"`
}

// SystemActor 定时器等系统动作的操作人
const SystemActor = "system"

// RiskAlert 风险告警聚合。只通过迁移方法修改，不删除
type RiskAlert struct {
	ID                 string              `json:"id"`
	Type               AlertType           `json:"type"`
	Severity           AlertSeverity       `json:"severity"`
	Priority           AlertPriority       `json:"priority"`
	Status             AlertStatus         `json:"status"`
	Title              string              `json:"title"`
	Description        string              `json:"description"`
	UserID             string              `json:"user_id"`
	PortfolioID        string              `json:"portfolio_id"`
	Triggers           []TriggerCondition  `json:"triggers"`
	Impact             ImpactAssessment    `json:"impact"`
	Escalation         *EscalationRule     `json:"escalation,omitempty"`
	EscalationLevel    int                 `json:"escalation_level"`
	RelatedEntities    []EntityRef         `json:"related_entities"`
	RecommendedActions []string            `json:"recommended_actions"`
	AssignedTo         string              `json:"assigned_to"`
	AcknowledgedBy     string              `json:"acknowledged_by,omitempty"`
	AcknowledgedAt     *time.Time          `json:"acknowledged_at,omitempty"`
	ResolvedBy         string              `json:"resolved_by,omitempty"`
	ResolvedAt         *time.Time          `json:"resolved_at,omitempty"`
	ResolutionDetails  string              `json:"resolution_details,omitempty"`
	ResolutionActions  []string            `json:"resolution_actions,omitempty"`
	History            []AlertHistoryEntry `json:"history"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	ExpiresAt          time.Time           `json:"expires_at"`
}

// EscalationRuleFor 按严重程度取默认升级规则，LOW 不升级
func EscalationRuleFor(sev AlertSeverity, cfg AlertConfig) *EscalationRule {
	var after int
	switch sev {
	case SeverityCritical:
		after = cfg.EscalateCriticalAfter
	case SeverityHigh:
		after = cfg.EscalateHighAfter
	case SeverityMedium:
		after = cfg.EscalateMediumAfter
	}
	if after <= 0 {
		return nil
	}
	return &EscalationRule{AfterMinutes: after, Targets: slices.Clone(cfg.EscalationTargets)}
}

// NewRiskAlert 创建 ACTIVE 告警，填充优先级、默认升级规则与过期时间
func NewRiskAlert(id string, typ AlertType, sev AlertSeverity, title, description string, now time.Time, cfg AlertConfig) (*RiskAlert, error) {
	const op = "alert.create"
	if id == "" {
		return nil, newError(KindInvalidInput, op, "id", "required")
	}
	if sev.Rank() < 0 {
		return nil, newError(KindInvalidInput, op, "severity", "unknown severity %q", sev)
	}
	return &RiskAlert{
		ID:                 id,
		Type:               typ,
		Severity:           sev,
		Priority:           sev.Priority(),
		Status:             AlertStatusActive,
		Title:              title,
		Description:        description,
		Escalation:         EscalationRuleFor(sev, cfg),
		Triggers:           []TriggerCondition{},
		RelatedEntities:    []EntityRef{},
		RecommendedActions: []string{},
		History:            []AlertHistoryEntry{},
		CreatedAt:          now,
		UpdatedAt:          now,
		ExpiresAt:          now.Add(cfg.DefaultTTL),
	}, nil
}

// Clone 深拷贝，供只读快照使用
func (a *RiskAlert) Clone() *RiskAlert {
	c := *a
	c.Triggers = slices.Clone(a.Triggers)
	c.RelatedEntities = slices.Clone(a.RelatedEntities)
	c.RecommendedActions = slices.Clone(a.RecommendedActions)
	c.ResolutionActions = slices.Clone(a.ResolutionActions)
	c.History = slices.Clone(a.History)
	if a.Escalation != nil {
		e := *a.Escalation
		e.Targets = slices.Clone(a.Escalation.Targets)
		c.Escalation = &e
	}
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		c.AcknowledgedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

func (a *RiskAlert) move(op string, to AlertStatus, by, comment string, now time.Time) error {
	if !CanTransition(a.Status, to) {
		return newError(KindInvalidTransition, op, a.ID, "%s -> %s not allowed", a.Status, to)
	}
	a.record(to, by, comment, now)
	return nil
}

func (a *RiskAlert) record(to AlertStatus, by, comment string, now time.Time) {
	a.History = append(a.History, AlertHistoryEntry{From: a.Status, To: to, By: by, Comment: comment, At: now})
	a.Status = to
	a.UpdatedAt = now
}

// Acknowledge 确认告警
func (a *RiskAlert) Acknowledge(by, comments string, now time.Time) error {
	if err := a.move("alert.acknowledge", AlertStatusAcknowledged, by, comments, now); err != nil {
		return err
	}
	a.AcknowledgedBy = by
	a.AcknowledgedAt = &now
	if a.AssignedTo == "" {
		a.AssignedTo = by
	}
	return nil
}

// StartWork 开始处理
func (a *RiskAlert) StartWork(by, comment string, now time.Time) error {
	if err := a.move("alert.start", AlertStatusInProgress, by, comment, now); err != nil {
		return err
	}
	a.AssignedTo = by
	return nil
}

// Resolve 关闭告警并记录处理结果
func (a *RiskAlert) Resolve(by, details string, actions []string, now time.Time) error {
	if err := a.move("alert.resolve", AlertStatusResolved, by, details, now); err != nil {
		return err
	}
	a.ResolvedBy = by
	a.ResolvedAt = &now
	a.ResolutionDetails = details
	a.ResolutionActions = slices.Clone(actions)
	return nil
}

// Dismiss 忽略告警 (仅 ACTIVE)
func (a *RiskAlert) Dismiss(by, reason string, now time.Time) error {
	return a.move("alert.dismiss", AlertStatusDismissed, by, reason, now)
}

// Escalate 人工升级 (ACKNOWLEDGED / IN_PROGRESS)
func (a *RiskAlert) Escalate(by, reason string, now time.Time) error {
	if err := a.move("alert.escalate", AlertStatusEscalated, by, reason, now); err != nil {
		return err
	}
	a.EscalationLevel++
	return nil
}

// Reassign 已升级告警重新分派后回到 IN_PROGRESS
func (a *RiskAlert) Reassign(by, assignee, comment string, now time.Time) error {
	const op = "alert.reassign"
	if assignee == "" {
		return newError(KindInvalidInput, op, "assignee", "required")
	}
	if a.Status != AlertStatusEscalated {
		return newError(KindInvalidTransition, op, a.ID, "reassign requires %s, alert is %s", AlertStatusEscalated, a.Status)
	}
	if comment == "" {
		comment = "reassigned to " + assignee
	}
	if err := a.move(op, AlertStatusInProgress, by, comment, now); err != nil {
		return err
	}
	a.AssignedTo = assignee
	return nil
}

// EscalationDue 升级定时器是否到期：未关闭、尚未升级过、now ≥ createdAt + N 分钟
func (a *RiskAlert) EscalationDue(now time.Time) bool {
	if a.Escalation == nil || a.Status.IsTerminal() || a.Status == AlertStatusEscalated || a.EscalationLevel > 0 {
		return false
	}
	return !now.Before(a.CreatedAt.Add(time.Duration(a.Escalation.AfterMinutes) * time.Minute))
}

// Expired 是否已过有效期
func (a *RiskAlert) Expired(now time.Time) bool {
	return !a.Status.IsTerminal() && !a.ExpiresAt.IsZero() && !now.Before(a.ExpiresAt)
}

// Tick 处理定时事件：过期优先于升级。返回状态是否变化
func (a *RiskAlert) Tick(now time.Time) bool {
	switch {
	case a.Expired(now):
		a.record(AlertStatusExpired, SystemActor, "expired", now)
		return true
	case a.EscalationDue(now):
		targets := ""
		if len(a.Escalation.Targets) > 0 {
			targets = fmt.Sprintf(" to %v", a.Escalation.Targets)
		}
		a.record(AlertStatusEscalated, SystemActor, fmt.Sprintf("not closed within %d minutes, escalated%s", a.Escalation.AfterMinutes, targets), now)
		a.EscalationLevel++
		return true
	}
	return false
}

// limitActionHints 限额未配置处置动作时的默认建议
var limitActionHints = map[LimitType]string{
	LimitTypeVaR:               "Reduce portfolio leverage and consider hedging strategies",
	LimitTypePositionSize:      "Rebalance portfolio to reduce position size",
	LimitTypeConcentration:     "Rebalance portfolio to reduce position size",
	LimitTypeSectorExposure:    "Diversify across multiple sectors",
	LimitTypeLeverage:          "Reduce portfolio leverage",
	LimitTypeMarginUtilization: "Add collateral or reduce margin positions",
}

func scopeEntity(s LimitScope) EntityKind {
	switch s {
	case LimitScopeUser:
		return EntityUser
	case LimitScopeAccount:
		return EntityAccount
	case LimitScopeSector, LimitScopeAssetClass:
		return EntitySector
	case LimitScopeSymbol:
		return EntitySymbol
	case LimitScopeStrategy:
		return EntityStrategy
	default:
		return EntityPortfolio
	}
}

// AlertFromBreach 由限额评估结果生成告警
func AlertFromBreach(id string, l RiskLimit, ev LimitEvaluation, now time.Time, cfg AlertConfig) (*RiskAlert, error) {
	typ, sev := AlertTypeLimitBreach, SeverityMedium
	switch {
	case ev.Status == LimitStatusWarning:
		typ, sev = AlertTypeLimitWarning, SeverityLow
	case ev.Utilization.GreaterThanOrEqual(decimal.NewFromFloat(1.5)):
		sev = SeverityCritical
	case ev.Utilization.GreaterThanOrEqual(decimal.NewFromFloat(1.2)):
		sev = SeverityHigh
	}
	title := fmt.Sprintf("%s limit %s: %s", ev.Type, ev.Status, l.Name)
	desc := fmt.Sprintf("current %s, limit %s, utilization %s%%", ev.CurrentValue, ev.LimitValue, ev.Utilization.Mul(decimal.NewFromInt(100)).StringFixed(2))
	a, err := NewRiskAlert(id, typ, sev, title, desc, now, cfg)
	if err != nil {
		return nil, err
	}
	threshold := ev.LimitValue
	if ev.Status == LimitStatusWarning {
		threshold = ev.WarningThreshold
	}
	a.Triggers = append(a.Triggers, TriggerCondition{
		Rule: "limit:" + string(ev.Type), Operator: ">=", Threshold: threshold, ActualValue: ev.CurrentValue,
	})
	a.Impact = ImpactAssessment{
		FinancialExposure: decimal.Max(ev.CurrentValue.Sub(ev.LimitValue), decimal.Zero),
		Description:       desc,
	}
	a.RelatedEntities = append(a.RelatedEntities, EntityRef{Kind: EntityLimit, ID: l.ID})
	if l.ScopeRef != "" {
		a.RelatedEntities = append(a.RelatedEntities, EntityRef{Kind: scopeEntity(l.Scope), ID: l.ScopeRef})
	}
	switch l.Scope {
	case LimitScopePortfolio:
		a.PortfolioID = l.ScopeRef
	case LimitScopeUser:
		a.UserID = l.ScopeRef
	}
	a.RecommendedActions = slices.Clone(l.BreachActions)
	if len(a.RecommendedActions) == 0 {
		if hint, ok := limitActionHints[l.Type]; ok {
			a.RecommendedActions = []string{hint}
		} else {
			a.RecommendedActions = []string{"Review portfolio and consult risk manager"}
		}
	}
	return a, nil
}

// AlertFromFraud 由欺诈检测结果生成告警
func AlertFromFraud(id string, res *FraudDetectionResult, cfg RiskEngineConfig, now time.Time) (*RiskAlert, error) {
	sev, threshold := SeverityLow, 0.0
	switch res.Recommendation {
	case RecommendBlock:
		sev, threshold = SeverityCritical, cfg.Fraud.BlockThreshold
	case RecommendReview:
		sev, threshold = SeverityHigh, cfg.Fraud.ReviewThreshold
	case RecommendChallenge:
		sev, threshold = SeverityMedium, cfg.Fraud.ChallengeThreshold
	}
	title := fmt.Sprintf("suspected fraud for user %s: %s", res.UserID, res.Recommendation)
	desc := fmt.Sprintf("overall score %.3f, confidence %.2f", res.OverallScore, res.Confidence)
	a, err := NewRiskAlert(id, AlertTypeFraud, sev, title, desc, now, cfg.Alert)
	if err != nil {
		return nil, err
	}
	a.UserID = res.UserID
	a.Triggers = append(a.Triggers, TriggerCondition{
		Rule:        "fraud:overall_score",
		Operator:    ">=",
		Threshold:   decimal.NewFromFloat(threshold),
		ActualValue: decimal.NewFromFloat(res.OverallScore).Round(6),
		TimeWindow:  cfg.Fraud.VelocityWindow,
	})
	a.Impact = ImpactAssessment{RiskScore: res.OverallScore * 100, Description: desc}
	a.RelatedEntities = append(a.RelatedEntities, EntityRef{Kind: EntityUser, ID: res.UserID})
	switch res.Recommendation {
	case RecommendBlock:
		a.RecommendedActions = []string{"Block session and freeze outgoing transfers", "Require identity re-verification"}
	case RecommendReview:
		a.RecommendedActions = []string{"Hold transaction for manual review"}
	default:
		a.RecommendedActions = []string{"Require step-up authentication"}
	}
	a.Description = joinReasons(desc, res.Reasons)
	return a, nil
}

// AlertFromAssessment 由交易前评估结果生成告警
func AlertFromAssessment(id string, res *TradeRiskResult, now time.Time, cfg AlertConfig) (*RiskAlert, error) {
	sev := SeverityLow
	switch res.RiskLevel {
	case RiskLevelCritical:
		sev = SeverityCritical
	case RiskLevelVeryHigh:
		sev = SeverityHigh
	case RiskLevelHigh:
		sev = SeverityMedium
	}
	title := fmt.Sprintf("high risk trade on %s: %s", res.Symbol, res.RiskLevel)
	desc := fmt.Sprintf("risk score %.2f, approved=%t", res.RiskScore, res.Approved)
	a, err := NewRiskAlert(id, AlertTypeTradeRisk, sev, title, joinReasons(desc, res.Reasons), now, cfg)
	if err != nil {
		return nil, err
	}
	a.UserID = res.UserID
	a.PortfolioID = res.PortfolioID
	for _, f := range res.Factors {
		a.Triggers = append(a.Triggers, TriggerCondition{
			Rule:        "trade:" + f.Name,
			Operator:    ">",
			Threshold:   decimal.Zero,
			ActualValue: decimal.NewFromFloat(f.Contribution).Round(4),
		})
	}
	a.Impact = ImpactAssessment{FinancialExposure: res.Notional, RiskScore: res.RiskScore, AffectedPositions: 1, Description: desc}
	if res.PortfolioID != "" {
		a.RelatedEntities = append(a.RelatedEntities, EntityRef{Kind: EntityPortfolio, ID: res.PortfolioID})
	}
	a.RelatedEntities = append(a.RelatedEntities, EntityRef{Kind: EntitySymbol, ID: res.Symbol})
	a.RecommendedActions = []string{"Reduce order size or leverage", "Set a stop loss near " + res.SuggestedStopLoss.String()}
	return a, nil
}

func joinReasons(desc string, reasons []string) string {
	if len(reasons) == 0 {
		return desc
	}
	return fmt.Sprintf("%s; %v", desc, reasons)
}
