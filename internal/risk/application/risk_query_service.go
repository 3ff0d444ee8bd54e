package application

import (
	"context"

	"github.com/wyfcoding/riskengine/internal/risk/domain"
)

// RiskQueryService 处理风控相关的查询操作（Queries）。
type RiskQueryService struct {
	alertRepo domain.RiskAlertRepository
	limitRepo domain.RiskLimitRepository
	cache     domain.MetricsCache
}

// NewRiskQueryService 构造函数。cache 可为 nil
func NewRiskQueryService(alertRepo domain.RiskAlertRepository, limitRepo domain.RiskLimitRepository, cache domain.MetricsCache) *RiskQueryService {
	return &RiskQueryService{
		alertRepo: alertRepo,
		limitRepo: limitRepo,
		cache:     cache,
	}
}

// GetAlert 获取告警快照
func (s *RiskQueryService) GetAlert(ctx context.Context, id string) (*domain.RiskAlert, error) {
	a, err := s.alertRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

// ListAlerts 按条件查询告警（告警不设缓存，实时从库获取）
func (s *RiskQueryService) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.RiskAlert, error) {
	alerts, err := s.alertRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.RiskAlert, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.Clone())
	}
	return out, nil
}

// GetLimit 获取限额
func (s *RiskQueryService) GetLimit(ctx context.Context, id string) (*domain.RiskLimit, error) {
	return s.limitRepo.Get(ctx, id)
}

// GetLatestMetrics 获取组合最近一次计算的风险指标，只读缓存
func (s *RiskQueryService) GetLatestMetrics(ctx context.Context, portfolioID string) (*domain.RiskMetricsResult, error) {
	if s.cache == nil {
		return nil, domain.NotFound("portfolio_metrics", portfolioID)
	}
	res, err := s.cache.GetMetrics(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, domain.NotFound("portfolio_metrics", portfolioID)
	}
	return res, nil
}

// GetRiskReport 汇总组合最近一次指标与未关闭告警生成风险报告，未计算过指标时返回 NotFound
func (s *RiskQueryService) GetRiskReport(ctx context.Context, portfolioID string) (*PortfolioRiskReport, error) {
	metrics, err := s.GetLatestMetrics(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	alerts, err := s.alertRepo.List(ctx, domain.AlertFilter{PortfolioID: portfolioID})
	if err != nil {
		return nil, err
	}
	open := make([]*domain.RiskAlert, 0, len(alerts))
	for _, a := range alerts {
		if !a.Status.IsTerminal() {
			open = append(open, a.Clone())
		}
	}
	return &PortfolioRiskReport{
		PortfolioID:     portfolioID,
		Metrics:         metrics,
		RiskScore:       metrics.RiskScore,
		OpenAlerts:      open,
		Recommendations: domain.PortfolioRecommendations(metrics.RiskScore, len(open)),
	}, nil
}
