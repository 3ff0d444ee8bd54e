package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/pkg/contextx"
	"github.com/wyfcoding/riskengine/internal/risk/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AutoMigrate 创建/更新风控表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&RiskLimitModel{}, &RiskAlertModel{})
}

func getDB(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// upsert 按主键插入或整行覆盖
func upsert(db *gorm.DB, model any) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(model).Error
}

// --- Limit ---

type riskLimitRepository struct {
	db *gorm.DB
}

// NewRiskLimitRepository 创建限额仓储
func NewRiskLimitRepository(db *gorm.DB) domain.RiskLimitRepository {
	return &riskLimitRepository{db: db}
}

func (r *riskLimitRepository) Save(ctx context.Context, limit *domain.RiskLimit) error {
	if limit == nil {
		return nil
	}
	if err := upsert(getDB(ctx, r.db), toRiskLimitModel(limit)); err != nil {
		return fmt.Errorf("failed to save risk limit %s: %w", limit.ID, err)
	}
	return nil
}

func (r *riskLimitRepository) Get(ctx context.Context, id string) (*domain.RiskLimit, error) {
	var model RiskLimitModel
	err := getDB(ctx, r.db).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFound("risk_limit", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get risk limit %s: %w", id, err)
	}
	return toRiskLimit(&model), nil
}

func (r *riskLimitRepository) ListByScopeRef(ctx context.Context, scopeRef string) ([]domain.RiskLimit, error) {
	var models []RiskLimitModel
	err := getDB(ctx, r.db).
		Where("scope_ref = ? OR scope = ?", scopeRef, string(domain.LimitScopeGlobal)).
		Order("id").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list risk limits for %q: %w", scopeRef, err)
	}
	out := make([]domain.RiskLimit, 0, len(models))
	for i := range models {
		out = append(out, *toRiskLimit(&models[i]))
	}
	return out, nil
}

// --- Alert ---

type riskAlertRepository struct {
	db *gorm.DB
}

// NewRiskAlertRepository 创建告警仓储
func NewRiskAlertRepository(db *gorm.DB) domain.RiskAlertRepository {
	return &riskAlertRepository{db: db}
}

func (r *riskAlertRepository) Save(ctx context.Context, alert *domain.RiskAlert) error {
	if alert == nil {
		return nil
	}
	if err := upsert(getDB(ctx, r.db), toRiskAlertModel(alert)); err != nil {
		return fmt.Errorf("failed to save risk alert %s: %w", alert.ID, err)
	}
	return nil
}

func (r *riskAlertRepository) Get(ctx context.Context, id string) (*domain.RiskAlert, error) {
	var model RiskAlertModel
	err := getDB(ctx, r.db).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFound("risk_alert", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get risk alert %s: %w", id, err)
	}
	return toRiskAlert(&model), nil
}

func (r *riskAlertRepository) List(ctx context.Context, filter domain.AlertFilter) ([]*domain.RiskAlert, error) {
	query := getDB(ctx, r.db).Model(&RiskAlertModel{})
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.PortfolioID != "" {
		query = query.Where("portfolio_id = ?", filter.PortfolioID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", string(filter.Severity))
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var models []RiskAlertModel
	if err := query.Order("created_at desc").Order("id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list risk alerts: %w", err)
	}
	return toRiskAlerts(models), nil
}

func (r *riskAlertRepository) ListOpen(ctx context.Context) ([]*domain.RiskAlert, error) {
	terminal := []string{
		string(domain.AlertStatusResolved),
		string(domain.AlertStatusDismissed),
		string(domain.AlertStatusExpired),
	}
	var models []RiskAlertModel
	err := getDB(ctx, r.db).
		Where("status NOT IN ?", terminal).
		Order("created_at").Order("id").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list open risk alerts: %w", err)
	}
	return toRiskAlerts(models), nil
}

func toRiskAlerts(models []RiskAlertModel) []*domain.RiskAlert {
	out := make([]*domain.RiskAlert, 0, len(models))
	for i := range models {
		out = append(out, toRiskAlert(&models[i]))
	}
	return out
}
