package domain

import (
	"context"
	"time"
)

// RiskLimitRepository 限额仓储
type RiskLimitRepository interface {
	Save(ctx context.Context, limit *RiskLimit) error
	Get(ctx context.Context, id string) (*RiskLimit, error)
	// ListByScopeRef 返回作用于指定对象以及 GLOBAL 的限额
	ListByScopeRef(ctx context.Context, scopeRef string) ([]RiskLimit, error)
}

// AlertFilter 告警查询条件，零值字段不参与过滤
type AlertFilter struct {
	UserID      string
	PortfolioID string
	Status      AlertStatus
	Severity    AlertSeverity
	Limit       int
}

// RiskAlertRepository 告警仓储。告警只更新不删除
type RiskAlertRepository interface {
	Save(ctx context.Context, alert *RiskAlert) error
	Get(ctx context.Context, id string) (*RiskAlert, error)
	List(ctx context.Context, filter AlertFilter) ([]*RiskAlert, error)
	// ListOpen 返回所有非终态告警，供定时器扫描
	ListOpen(ctx context.Context) ([]*RiskAlert, error)
}

// MetricsCache 最近一次组合风险指标缓存
type MetricsCache interface {
	SetMetrics(ctx context.Context, result *RiskMetricsResult, ttl time.Duration) error
	GetMetrics(ctx context.Context, portfolioID string) (*RiskMetricsResult, error)
}
