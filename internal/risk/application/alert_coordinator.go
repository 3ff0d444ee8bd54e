package application

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/riskengine/internal/risk/domain"
	"github.com/wyfcoding/riskengine/pkg/metrics"
)

// AlertCoordinator 告警生命周期协调器。
// 同一告警的迁移按 ID 串行执行，不同告警之间互不阻塞；对外只返回快照
type AlertCoordinator struct {
	repo      domain.RiskAlertRepository
	publisher domain.EventPublisher
	metrics   metrics.MetricsCollector
	cfg       domain.AlertConfig
	locks     *keyedMutex
	now       func() time.Time
	newID     func() string
}

// CoordinatorOption 协调器可选项
type CoordinatorOption func(*AlertCoordinator)

// WithClock 注入时钟
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *AlertCoordinator) { c.now = now }
}

// WithIDGenerator 注入告警 ID 生成器
func WithIDGenerator(gen func() string) CoordinatorOption {
	return func(c *AlertCoordinator) { c.newID = gen }
}

// WithMetrics 注入指标采集器
func WithMetrics(m metrics.MetricsCollector) CoordinatorOption {
	return func(c *AlertCoordinator) { c.metrics = m }
}

// NewAlertCoordinator 创建告警协调器，publisher 可为 nil
func NewAlertCoordinator(repo domain.RiskAlertRepository, publisher domain.EventPublisher, cfg domain.AlertConfig, opts ...CoordinatorOption) *AlertCoordinator {
	c := &AlertCoordinator{
		repo:      repo,
		publisher: publisher,
		metrics:   metrics.NopCollector{},
		cfg:       cfg,
		locks:     newKeyedMutex(),
		now:       time.Now,
		newID:     func() string { return fmt.Sprintf("ALERT-%d", idgen.GenID()) },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NextID 生成新的告警 ID
func (c *AlertCoordinator) NextID() string { return c.newID() }

// Now 协调器时钟
func (c *AlertCoordinator) Now() time.Time { return c.now() }

// Raise 持久化新告警并发布告警事件
func (c *AlertCoordinator) Raise(ctx context.Context, alert *domain.RiskAlert) (*domain.RiskAlert, error) {
	unlock := c.locks.Lock(alert.ID)
	defer unlock()

	if err := c.repo.Save(ctx, alert); err != nil {
		logging.Error(ctx, "Failed to save risk alert", "alert_id", alert.ID, "error", err)
		return nil, fmt.Errorf("failed to save risk alert: %w", err)
	}
	logging.Info(ctx, "Risk alert raised",
		"alert_id", alert.ID,
		"type", alert.Type,
		"severity", alert.Severity,
		"user_id", alert.UserID,
		"portfolio_id", alert.PortfolioID,
	)
	if c.publisher != nil {
		event := domain.RiskAlertRaisedEvent{
			AlertID:     alert.ID,
			UserID:      alert.UserID,
			PortfolioID: alert.PortfolioID,
			AlertType:   alert.Type,
			Severity:    alert.Severity,
			Priority:    alert.Priority,
			Title:       alert.Title,
			OccurredOn:  alert.CreatedAt,
		}
		if err := c.publisher.PublishAlertRaised(ctx, event); err != nil {
			logging.Error(ctx, "Failed to publish alert raised event", "alert_id", alert.ID, "error", err)
		}
	}
	return alert.Clone(), nil
}

// Create 按命令创建告警
// 用例流程：
// 1. 按严重程度生成默认优先级、升级规则与过期时间
// 2. 应用命令中的覆盖项
// 3. 持久化并发布事件
func (c *AlertCoordinator) Create(ctx context.Context, cmd CreateAlertCommand) (*domain.RiskAlert, error) {
	now := c.now()
	alert, err := domain.NewRiskAlert(c.newID(), cmd.Type, cmd.Severity, cmd.Title, cmd.Description, now, c.cfg)
	if err != nil {
		return nil, err
	}
	if cmd.Type == "" {
		alert.Type = domain.AlertTypePortfolioRisk
	}
	alert.UserID = cmd.UserID
	alert.PortfolioID = cmd.PortfolioID
	alert.AssignedTo = cmd.AssignedTo
	alert.Impact = cmd.Impact
	if cmd.Triggers != nil {
		alert.Triggers = slices.Clone(cmd.Triggers)
	}
	if cmd.RelatedEntities != nil {
		alert.RelatedEntities = slices.Clone(cmd.RelatedEntities)
	}
	if cmd.RecommendedActions != nil {
		alert.RecommendedActions = slices.Clone(cmd.RecommendedActions)
	}
	if cmd.EscalateAfterMinutes > 0 {
		alert.Escalation = &domain.EscalationRule{
			AfterMinutes: cmd.EscalateAfterMinutes,
			Targets:      slices.Clone(c.cfg.EscalationTargets),
		}
	}
	if cmd.TTL > 0 {
		alert.ExpiresAt = now.Add(cmd.TTL)
	}
	return c.Raise(ctx, alert)
}

// Acknowledge 确认告警
func (c *AlertCoordinator) Acknowledge(ctx context.Context, id, by, comments string) (*domain.RiskAlert, error) {
	return c.transition(ctx, id, func(a *domain.RiskAlert, now time.Time) error {
		return a.Acknowledge(by, comments, now)
	})
}

// StartWork 开始处理告警
func (c *AlertCoordinator) StartWork(ctx context.Context, id, by, comment string) (*domain.RiskAlert, error) {
	return c.transition(ctx, id, func(a *domain.RiskAlert, now time.Time) error {
		return a.StartWork(by, comment, now)
	})
}

// Resolve 关闭告警
func (c *AlertCoordinator) Resolve(ctx context.Context, id, by, details string, actions []string) (*domain.RiskAlert, error) {
	return c.transition(ctx, id, func(a *domain.RiskAlert, now time.Time) error {
		return a.Resolve(by, details, actions, now)
	})
}

// Dismiss 忽略告警
func (c *AlertCoordinator) Dismiss(ctx context.Context, id, by, reason string) (*domain.RiskAlert, error) {
	return c.transition(ctx, id, func(a *domain.RiskAlert, now time.Time) error {
		return a.Dismiss(by, reason, now)
	})
}

// Escalate 人工升级
func (c *AlertCoordinator) Escalate(ctx context.Context, id, by, reason string) (*domain.RiskAlert, error) {
	return c.transition(ctx, id, func(a *domain.RiskAlert, now time.Time) error {
		return a.Escalate(by, reason, now)
	})
}

// Reassign 重新分派已升级告警
func (c *AlertCoordinator) Reassign(ctx context.Context, id, by, assignee, comment string) (*domain.RiskAlert, error) {
	return c.transition(ctx, id, func(a *domain.RiskAlert, now time.Time) error {
		return a.Reassign(by, assignee, comment, now)
	})
}

// Get 读取告警快照
func (c *AlertCoordinator) Get(ctx context.Context, id string) (*domain.RiskAlert, error) {
	a, err := c.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

// NeedsLimitAlert 组合在该限额上是否还需要新告警：
// 已有未关闭的超限告警时不再告警，仅有预警告警时只有超限才告警
func (c *AlertCoordinator) NeedsLimitAlert(ctx context.Context, limitID, portfolioID string, status domain.LimitStatus) (bool, error) {
	if status != domain.LimitStatusBreached && status != domain.LimitStatusWarning {
		return false, nil
	}
	alerts, err := c.repo.List(ctx, domain.AlertFilter{PortfolioID: portfolioID})
	if err != nil {
		return false, fmt.Errorf("failed to list portfolio alerts: %w", err)
	}
	for _, a := range alerts {
		if a.Status.IsTerminal() || !slices.Contains(a.RelatedEntities, domain.EntityRef{Kind: domain.EntityLimit, ID: limitID}) {
			continue
		}
		if a.Type == domain.AlertTypeLimitBreach || status == domain.LimitStatusWarning {
			return false, nil
		}
	}
	return true, nil
}

// Sweep 扫描所有未关闭告警，处理过期与升级定时器。单个告警失败不影响其余告警
func (c *AlertCoordinator) Sweep(ctx context.Context) (*AlertSweepReport, error) {
	open, err := c.repo.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open alerts: %w", err)
	}
	report := &AlertSweepReport{Scanned: len(open), Escalated: []string{}, Expired: []string{}, Failed: []string{}}
	for _, candidate := range open {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !candidate.Expired(c.now()) && !candidate.EscalationDue(c.now()) {
			continue
		}
		var changedTo domain.AlertStatus
		_, err := c.transition(ctx, candidate.ID, func(a *domain.RiskAlert, now time.Time) error {
			if !a.Tick(now) {
				return errUnchanged
			}
			changedTo = a.Status
			return nil
		})
		switch {
		case errors.Is(err, errUnchanged):
		case err != nil:
			logging.Error(ctx, "Failed to process alert timer", "alert_id", candidate.ID, "error", err)
			report.Failed = append(report.Failed, candidate.ID)
		case changedTo == domain.AlertStatusExpired:
			report.Expired = append(report.Expired, candidate.ID)
		default:
			report.Escalated = append(report.Escalated, candidate.ID)
		}
	}
	if len(report.Escalated)+len(report.Expired)+len(report.Failed) > 0 {
		logging.Info(ctx, "Alert sweep completed",
			"scanned", report.Scanned,
			"escalated", len(report.Escalated),
			"expired", len(report.Expired),
			"failed", len(report.Failed),
		)
	}
	return report, nil
}

var errUnchanged = errors.New("alert unchanged")

// transition 在告警锁内加载、迁移、保存并发布迁移事件
func (c *AlertCoordinator) transition(ctx context.Context, id string, apply func(*domain.RiskAlert, time.Time) error) (*domain.RiskAlert, error) {
	unlock := c.locks.Lock(id)
	defer unlock()

	a, err := c.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := a.Status
	if err := apply(a, c.now()); err != nil {
		return nil, err
	}
	if err := c.repo.Save(ctx, a); err != nil {
		logging.Error(ctx, "Failed to save risk alert", "alert_id", id, "error", err)
		return nil, fmt.Errorf("failed to save risk alert: %w", err)
	}

	last := a.History[len(a.History)-1]
	c.metrics.RecordAlertTransition(string(from), string(last.To))
	logging.Info(ctx, "Risk alert transitioned", "alert_id", id, "from", from, "to", last.To, "by", last.By)
	if c.publisher != nil {
		event := domain.RiskAlertTransitionedEvent{
			AlertID:    id,
			From:       from,
			To:         last.To,
			By:         last.By,
			Comment:    last.Comment,
			OccurredOn: last.At,
		}
		if err := c.publisher.PublishAlertTransitioned(ctx, event); err != nil {
			logging.Error(ctx, "Failed to publish alert transitioned event", "alert_id", id, "error", err)
		}
	}
	return a.Clone(), nil
}
