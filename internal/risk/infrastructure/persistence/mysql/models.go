package mysql

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/riskengine/internal/risk/domain"
)

// RiskLimitModel MySQL 风险限额表映射
type RiskLimitModel struct {
	ID                 string          `gorm:"primaryKey;type:varchar(64);column:id"`
	Name               string          `gorm:"column:name;type:varchar(128)"`
	Scope              string          `gorm:"column:scope;type:varchar(32);index:idx_limit_scope;not null"`
	ScopeRef           string          `gorm:"column:scope_ref;type:varchar(64);index:idx_limit_scope"`
	LimitType          string          `gorm:"column:limit_type;type:varchar(50);not null"`
	LimitValue         decimal.Decimal `gorm:"column:limit_value;type:decimal(20,8);not null"`
	WarningThreshold   decimal.Decimal `gorm:"column:warning_threshold;type:decimal(20,8);not null"`
	CurrentUtilization decimal.Decimal `gorm:"column:current_utilization;type:decimal(20,8);not null"`
	Status             string          `gorm:"column:status;type:varchar(20);index;not null"`
	EffectiveFrom      time.Time       `gorm:"column:effective_from;not null"`
	EffectiveTo        *time.Time      `gorm:"column:effective_to"`
	BreachActions      []string        `gorm:"column:breach_actions;type:text;serializer:json"`
	CreatedAt          time.Time       `gorm:"column:created_at"`
	UpdatedAt          time.Time       `gorm:"column:updated_at"`
}

func (RiskLimitModel) TableName() string { return "risk_limits" }

// RiskAlertModel MySQL 风险告警表映射，嵌套结构按 JSON 存储
type RiskAlertModel struct {
	ID                 string                     `gorm:"primaryKey;type:varchar(64);column:id"`
	AlertType          string                     `gorm:"column:alert_type;type:varchar(50);not null"`
	Severity           string                     `gorm:"column:severity;type:varchar(20);index;not null"`
	Priority           string                     `gorm:"column:priority;type:varchar(8);not null"`
	Status             string                     `gorm:"column:status;type:varchar(20);index;not null"`
	Title              string                     `gorm:"column:title;type:varchar(255)"`
	Description        string                     `gorm:"column:description;type:text"`
	UserID             string                     `gorm:"column:user_id;type:varchar(64);index"`
	PortfolioID        string                     `gorm:"column:portfolio_id;type:varchar(64);index"`
	Triggers           []domain.TriggerCondition  `gorm:"column:triggers;type:text;serializer:json"`
	Impact             domain.ImpactAssessment    `gorm:"column:impact;type:text;serializer:json"`
	Escalation         *domain.EscalationRule     `gorm:"column:escalation;type:text;serializer:json"`
	EscalationLevel    int                        `gorm:"column:escalation_level;not null"`
	RelatedEntities    []domain.EntityRef         `gorm:"column:related_entities;type:text;serializer:json"`
	RecommendedActions []string                   `gorm:"column:recommended_actions;type:text;serializer:json"`
	AssignedTo         string                     `gorm:"column:assigned_to;type:varchar(64)"`
	AcknowledgedBy     string                     `gorm:"column:acknowledged_by;type:varchar(64)"`
	AcknowledgedAt     *time.Time                 `gorm:"column:acknowledged_at"`
	ResolvedBy         string                     `gorm:"column:resolved_by;type:varchar(64)"`
	ResolvedAt         *time.Time                 `gorm:"column:resolved_at"`
	ResolutionDetails  string                     `gorm:"column:resolution_details;type:text"`
	ResolutionActions  []string                   `gorm:"column:resolution_actions;type:text;serializer:json"`
	History            []domain.AlertHistoryEntry `gorm:"column:history;type:text;serializer:json"`
	CreatedAt          time.Time                  `gorm:"column:created_at;index"`
	UpdatedAt          time.Time                  `gorm:"column:updated_at"`
	ExpiresAt          time.Time                  `gorm:"column:expires_at"`
}

func (RiskAlertModel) TableName() string { return "risk_alerts" }

// --- mapping helpers ---

func toRiskLimitModel(l *domain.RiskLimit) *RiskLimitModel {
	if l == nil {
		return nil
	}
	return &RiskLimitModel{
		ID:                 l.ID,
		Name:               l.Name,
		Scope:              string(l.Scope),
		ScopeRef:           l.ScopeRef,
		LimitType:          string(l.Type),
		LimitValue:         l.LimitValue,
		WarningThreshold:   l.WarningThreshold,
		CurrentUtilization: l.CurrentUtilization,
		Status:             string(l.Status),
		EffectiveFrom:      l.EffectiveFrom,
		EffectiveTo:        l.EffectiveTo,
		BreachActions:      slices.Clone(l.BreachActions),
		CreatedAt:          l.CreatedAt,
		UpdatedAt:          l.UpdatedAt,
	}
}

func toRiskLimit(m *RiskLimitModel) *domain.RiskLimit {
	if m == nil {
		return nil
	}
	actions := m.BreachActions
	if actions == nil {
		actions = []string{}
	}
	return &domain.RiskLimit{
		ID:                 m.ID,
		Name:               m.Name,
		Scope:              domain.LimitScope(m.Scope),
		ScopeRef:           m.ScopeRef,
		Type:               domain.LimitType(m.LimitType),
		LimitValue:         m.LimitValue,
		WarningThreshold:   m.WarningThreshold,
		CurrentUtilization: m.CurrentUtilization,
		Status:             domain.LimitStatus(m.Status),
		EffectiveFrom:      m.EffectiveFrom,
		EffectiveTo:        m.EffectiveTo,
		BreachActions:      actions,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func toRiskAlertModel(a *domain.RiskAlert) *RiskAlertModel {
	if a == nil {
		return nil
	}
	c := a.Clone()
	return &RiskAlertModel{
		ID:                 c.ID,
		AlertType:          string(c.Type),
		Severity:           string(c.Severity),
		Priority:           string(c.Priority),
		Status:             string(c.Status),
		Title:              c.Title,
		Description:        c.Description,
		UserID:             c.UserID,
		PortfolioID:        c.PortfolioID,
		Triggers:           c.Triggers,
		Impact:             c.Impact,
		Escalation:         c.Escalation,
		EscalationLevel:    c.EscalationLevel,
		RelatedEntities:    c.RelatedEntities,
		RecommendedActions: c.RecommendedActions,
		AssignedTo:         c.AssignedTo,
		AcknowledgedBy:     c.AcknowledgedBy,
		AcknowledgedAt:     c.AcknowledgedAt,
		ResolvedBy:         c.ResolvedBy,
		ResolvedAt:         c.ResolvedAt,
		ResolutionDetails:  c.ResolutionDetails,
		ResolutionActions:  c.ResolutionActions,
		History:            c.History,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
		ExpiresAt:          c.ExpiresAt,
	}
}

func toRiskAlert(m *RiskAlertModel) *domain.RiskAlert {
	if m == nil {
		return nil
	}
	a := &domain.RiskAlert{
		ID:                 m.ID,
		Type:               domain.AlertType(m.AlertType),
		Severity:           domain.AlertSeverity(m.Severity),
		Priority:           domain.AlertPriority(m.Priority),
		Status:             domain.AlertStatus(m.Status),
		Title:              m.Title,
		Description:        m.Description,
		UserID:             m.UserID,
		PortfolioID:        m.PortfolioID,
		Triggers:           m.Triggers,
		Impact:             m.Impact,
		Escalation:         m.Escalation,
		EscalationLevel:    m.EscalationLevel,
		RelatedEntities:    m.RelatedEntities,
		RecommendedActions: m.RecommendedActions,
		AssignedTo:         m.AssignedTo,
		AcknowledgedBy:     m.AcknowledgedBy,
		AcknowledgedAt:     m.AcknowledgedAt,
		ResolvedBy:         m.ResolvedBy,
		ResolvedAt:         m.ResolvedAt,
		ResolutionDetails:  m.ResolutionDetails,
		ResolutionActions:  m.ResolutionActions,
		History:            m.History,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
		ExpiresAt:          m.ExpiresAt,
	}
	if a.Triggers == nil {
		a.Triggers = []domain.TriggerCondition{}
	}
	if a.RelatedEntities == nil {
		a.RelatedEntities = []domain.EntityRef{}
	}
	if a.RecommendedActions == nil {
		a.RecommendedActions = []string{}
	}
	if a.History == nil {
		a.History = []domain.AlertHistoryEntry{}
	}
	return a
}
