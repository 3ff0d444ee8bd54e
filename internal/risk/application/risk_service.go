// 包 风控引擎的用例逻辑：交易前评估、组合风险计算、限额评估、欺诈检测与告警协调
package application

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/riskengine/internal/risk/domain"
	"github.com/wyfcoding/riskengine/pkg/metrics"
)

// DefaultMetricsTTL 组合指标缓存默认有效期
const DefaultMetricsTTL = 24 * time.Hour

// RiskService 风控应用服务。
// 引擎配置在构造时校验并固定，各用例只读使用
type RiskService struct {
	cfg        domain.RiskEngineConfig
	assessor   *domain.TradeRiskAssessor
	fraud      *domain.FraudScoringEngine
	stress     *domain.StressTester
	compliance *domain.ComplianceChecker

	limitRepo domain.RiskLimitRepository
	alerts    *AlertCoordinator
	cache     domain.MetricsCache
	publisher domain.EventPublisher
	metrics   metrics.MetricsCollector

	limitLocks *keyedMutex
	now        func() time.Time
	newLimitID func() string
	metricsTTL time.Duration
}

// ServiceOption 服务可选项
type ServiceOption func(*RiskService)

// WithServiceMetrics 注入指标采集器
func WithServiceMetrics(m metrics.MetricsCollector) ServiceOption {
	return func(s *RiskService) { s.metrics = m }
}

// WithServiceClock 注入时钟
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *RiskService) { s.now = now }
}

// WithLimitIDGenerator 注入限额 ID 生成器
func WithLimitIDGenerator(gen func() string) ServiceOption {
	return func(s *RiskService) { s.newLimitID = gen }
}

// WithMetricsTTL 设置组合指标缓存有效期
func WithMetricsTTL(ttl time.Duration) ServiceOption {
	return func(s *RiskService) { s.metricsTTL = ttl }
}

// NewRiskService 创建风控应用服务。alerts 必填，cache 与 publisher 可为 nil
func NewRiskService(
	cfg domain.RiskEngineConfig,
	limitRepo domain.RiskLimitRepository,
	alerts *AlertCoordinator,
	cache domain.MetricsCache,
	publisher domain.EventPublisher,
	opts ...ServiceOption,
) (*RiskService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if alerts == nil {
		return nil, &domain.RiskError{Kind: domain.KindConfiguration, Op: "service.create", Field: "alerts", Message: "alert coordinator is required"}
	}
	s := &RiskService{
		cfg:        cfg,
		assessor:   domain.NewTradeRiskAssessor(cfg),
		fraud:      domain.NewFraudScoringEngine(cfg),
		stress:     domain.NewStressTester(cfg),
		compliance: domain.NewComplianceChecker(cfg),
		limitRepo:  limitRepo,
		alerts:     alerts,
		cache:      cache,
		publisher:  publisher,
		metrics:    metrics.NopCollector{},
		limitLocks: newKeyedMutex(),
		now:        time.Now,
		newLimitID: func() string { return fmt.Sprintf("LIMIT-%d", idgen.GenID()) },
		metricsTTL: DefaultMetricsTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config 当前引擎配置
func (s *RiskService) Config() domain.RiskEngineConfig { return s.cfg }

// Alerts 告警协调器
func (s *RiskService) Alerts() *AlertCoordinator { return s.alerts }

// AssessTradeRisk 交易前风险评估
// 用例流程：
// 1. 校验请求并计算各风险因子
// 2. 汇总分数、等级与批准结论
// 3. 记录指标并发布评估事件
// 4. 风险等级达到 HIGH 时生成告警
func (s *RiskService) AssessTradeRisk(ctx context.Context, req domain.TradeRiskRequest) (*domain.TradeRiskResult, error) {
	res, err := s.assessor.Assess(req)
	if err != nil {
		logging.Warn(ctx, "Trade risk assessment rejected", "user_id", req.UserID, "symbol", req.Symbol, "error", err)
		return nil, err
	}
	s.metrics.RecordAssessment(string(res.RiskLevel), res.Approved, res.RiskScore)
	logging.Info(ctx, "Trade risk assessed",
		"user_id", res.UserID,
		"symbol", res.Symbol,
		"risk_level", res.RiskLevel,
		"risk_score", res.RiskScore,
		"approved", res.Approved,
	)

	now := s.now()
	if s.publisher != nil {
		event := domain.RiskAssessedEvent{
			UserID:      res.UserID,
			PortfolioID: res.PortfolioID,
			Symbol:      res.Symbol,
			Side:        req.Side,
			Notional:    res.Notional,
			RiskLevel:   res.RiskLevel,
			RiskScore:   res.RiskScore,
			Approved:    res.Approved,
			Reasons:     slices.Clone(res.Reasons),
			OccurredOn:  now,
		}
		if err := s.publisher.PublishRiskAssessed(ctx, event); err != nil {
			logging.Error(ctx, "Failed to publish risk assessed event", "user_id", res.UserID, "error", err)
		}
	}

	if res.RiskLevel.AtLeast(domain.RiskLevelHigh) {
		alert, err := domain.AlertFromAssessment(s.alerts.NextID(), res, now, s.cfg.Alert)
		if err == nil {
			_, err = s.alerts.Raise(ctx, alert)
		}
		if err != nil {
			logging.Error(ctx, "Failed to raise trade risk alert", "user_id", res.UserID, "symbol", res.Symbol, "error", err)
		}
	}
	return res, nil
}

// CalculatePortfolioRisk 计算组合风险指标
// 用例流程：
// 1. 基于收益序列与敞口计算 VaR/ES/波动率/比率/集中度
// 2. 写入最新指标缓存
// 3. 发布指标事件
func (s *RiskService) CalculatePortfolioRisk(ctx context.Context, snapshot domain.PortfolioSnapshot) (*domain.RiskMetricsResult, error) {
	res, err := domain.CalculatePortfolioRisk(snapshot, s.cfg)
	s.metrics.RecordPortfolioCalculation(err == nil)
	if err != nil {
		logging.Warn(ctx, "Portfolio risk calculation failed", "portfolio_id", snapshot.PortfolioID, "error", err)
		return nil, err
	}
	for _, w := range res.Warnings {
		logging.Debug(ctx, "Portfolio metric unavailable", "portfolio_id", res.PortfolioID, "metric", w.Metric, "kind", w.Kind, "message", w.Message)
	}

	if s.cache != nil && res.PortfolioID != "" {
		if err := s.cache.SetMetrics(ctx, res, s.metricsTTL); err != nil {
			logging.Error(ctx, "Failed to cache portfolio metrics", "portfolio_id", res.PortfolioID, "error", err)
		}
	}

	if s.publisher != nil {
		event := domain.RiskMetricsCalculatedEvent{
			PortfolioID:     res.PortfolioID,
			VaR95:           res.VaR.VaR95,
			VaR99:           res.VaR.VaR99,
			MaxDrawdown:     res.MaxDrawdown.Value,
			LeverageRatio:   res.LeverageRatio,
			HerfindahlIndex: res.Concentration.HerfindahlIndex,
			Warnings:        len(res.Warnings),
			OccurredOn:      s.now(),
		}
		if err := s.publisher.PublishRiskMetricsCalculated(ctx, event); err != nil {
			logging.Error(ctx, "Failed to publish risk metrics event", "portfolio_id", res.PortfolioID, "error", err)
		}
	}
	return res, nil
}

// EvaluateLimits 对给定限额做纯评估，不落库
func (s *RiskService) EvaluateLimits(_ context.Context, limits []domain.RiskLimit, values domain.MetricValues) *domain.LimitBreachResult {
	return domain.EvaluateLimits(limits, values, s.now())
}

// EvaluateStoredLimits 评估已存储的限额
// 用例流程：
// 1. 按组合及指标涉及的作用对象加载限额 (含 GLOBAL)
// 2. 评估并逐个在限额锁内更新使用率与状态
// 3. 状态升级为 WARNING / BREACHED 时生成告警，超限时发布超限事件
func (s *RiskService) EvaluateStoredLimits(ctx context.Context, portfolioID string, values domain.MetricValues) (*LimitEvaluationReport, error) {
	limits, err := s.loadLimits(ctx, portfolioID, values)
	if err != nil {
		return nil, err
	}
	now := s.now()
	result := domain.EvaluateLimits(limits, values, now)
	report := &LimitEvaluationReport{Result: result, Alerts: []*domain.RiskAlert{}}

	for _, ev := range result.Evaluated {
		s.metrics.RecordLimitEvaluation(string(ev.Type), string(ev.Status))
		prev, updated, err := s.applyEvaluation(ctx, ev, now)
		if domain.KindOf(err) == domain.KindInvalidTransition {
			// 加载后被暂停或过期
			logging.Warn(ctx, "Risk limit no longer evaluable", "limit_id", ev.LimitID, "error", err)
			continue
		}
		if err != nil {
			logging.Error(ctx, "Failed to update risk limit", "limit_id", ev.LimitID, "error", err)
			return report, err
		}
		raise := escalated(prev, ev.Status)
		if sharedLimit(ev, portfolioID) {
			// 共享限额的状态随各组合评估来回切换，按该组合的未关闭告警判断是否已告警
			raise, err = s.alerts.NeedsLimitAlert(ctx, ev.LimitID, portfolioID, ev.Status)
			if err != nil {
				logging.Error(ctx, "Failed to check open limit alerts", "limit_id", ev.LimitID, "error", err)
				continue
			}
		}
		if !raise {
			continue
		}

		if ev.Status == domain.LimitStatusBreached {
			logging.Warn(ctx, "Risk limit breached",
				"portfolio_id", portfolioID,
				"limit_id", ev.LimitID,
				"type", ev.Type,
				"scope_ref", ev.ScopeRef,
				"current", ev.CurrentValue.String(),
				"limit", ev.LimitValue.String(),
			)
			s.publishBreach(ctx, *updated, ev, now)
		}
		alert, err := domain.AlertFromBreach(s.alerts.NextID(), *updated, ev, now, s.cfg.Alert)
		if err == nil {
			if alert.PortfolioID == "" {
				alert.PortfolioID = portfolioID
			}
			alert, err = s.alerts.Raise(ctx, alert)
		}
		if err != nil {
			logging.Error(ctx, "Failed to raise limit alert", "limit_id", ev.LimitID, "error", err)
			continue
		}
		report.Alerts = append(report.Alerts, alert)
	}
	return report, nil
}

// escalated 状态是否从较低级别进入 WARNING / BREACHED，持续超限不重复告警
func escalated(prev, next domain.LimitStatus) bool {
	switch next {
	case domain.LimitStatusBreached:
		return prev != domain.LimitStatusBreached
	case domain.LimitStatusWarning:
		return prev == domain.LimitStatusActive
	}
	return false
}

// sharedLimit 限额是否不专属于该组合 (SECTOR / GLOBAL / 其它组合共用的作用对象)
func sharedLimit(ev domain.LimitEvaluation, portfolioID string) bool {
	return ev.Scope != domain.LimitScopePortfolio || ev.ScopeRef != portfolioID
}

func (s *RiskService) loadLimits(ctx context.Context, portfolioID string, values domain.MetricValues) ([]domain.RiskLimit, error) {
	refs := make([]string, 0, len(values)+1)
	refs = append(refs, portfolioID)
	for k := range values {
		refs = append(refs, k.ScopeRef)
	}
	slices.Sort(refs)
	refs = slices.Compact(refs)

	seen := make(map[string]struct{})
	var out []domain.RiskLimit
	for _, ref := range refs {
		limits, err := s.limitRepo.ListByScopeRef(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to load risk limits for %q: %w", ref, err)
		}
		for _, l := range limits {
			if _, dup := seen[l.ID]; dup {
				continue
			}
			seen[l.ID] = struct{}{}
			out = append(out, l)
		}
	}
	return out, nil
}

// applyEvaluation 重新加载限额后更新，避免并发重算互相覆盖
func (s *RiskService) applyEvaluation(ctx context.Context, ev domain.LimitEvaluation, now time.Time) (domain.LimitStatus, *domain.RiskLimit, error) {
	unlock := s.limitLocks.Lock(ev.LimitID)
	defer unlock()

	l, err := s.limitRepo.Get(ctx, ev.LimitID)
	if err != nil {
		return "", nil, err
	}
	prev := l.Status
	if err := l.ApplyEvaluation(ev.CurrentValue, now); err != nil {
		return "", nil, err
	}
	if err := s.limitRepo.Save(ctx, l); err != nil {
		return "", nil, fmt.Errorf("failed to save risk limit: %w", err)
	}
	return prev, l, nil
}

func (s *RiskService) publishBreach(ctx context.Context, l domain.RiskLimit, ev domain.LimitEvaluation, now time.Time) {
	if s.publisher == nil {
		return
	}
	event := domain.RiskLimitBreachedEvent{
		LimitID:      l.ID,
		Scope:        l.Scope,
		ScopeRef:     l.ScopeRef,
		LimitType:    l.Type,
		LimitValue:   ev.LimitValue,
		CurrentValue: ev.CurrentValue,
		ExceededBy:   ev.CurrentValue.Sub(ev.LimitValue),
		Actions:      slices.Clone(l.BreachActions),
		OccurredOn:   now,
	}
	if err := s.publisher.PublishLimitBreached(ctx, event); err != nil {
		logging.Error(ctx, "Failed to publish limit breached event", "limit_id", l.ID, "error", err)
	}
}

// DetectFraud 欺诈检测
// 用例流程：
// 1. 分类评分并加权汇总
// 2. 记录建议分布
// 3. REVIEW / BLOCK 时发布事件并生成告警
func (s *RiskService) DetectFraud(ctx context.Context, signals domain.FraudSignals) *domain.FraudDetectionResult {
	res := s.fraud.Detect(signals)
	s.metrics.RecordFraud(string(res.Recommendation))
	logging.Info(ctx, "Fraud detection completed",
		"user_id", res.UserID,
		"overall_score", res.OverallScore,
		"recommendation", res.Recommendation,
		"confidence", res.Confidence,
	)
	if res.Recommendation != domain.RecommendReview && res.Recommendation != domain.RecommendBlock {
		return res
	}

	if s.publisher != nil {
		event := domain.FraudDetectedEvent{
			UserID:         res.UserID,
			OverallScore:   res.OverallScore,
			Recommendation: res.Recommendation,
			Confidence:     res.Confidence,
			Reasons:        slices.Clone(res.Reasons),
			OccurredOn:     res.EvaluatedAt,
		}
		if err := s.publisher.PublishFraudDetected(ctx, event); err != nil {
			logging.Error(ctx, "Failed to publish fraud detected event", "user_id", res.UserID, "error", err)
		}
	}
	alert, err := domain.AlertFromFraud(s.alerts.NextID(), res, s.cfg, s.now())
	if err == nil {
		_, err = s.alerts.Raise(ctx, alert)
	}
	if err != nil {
		logging.Error(ctx, "Failed to raise fraud alert", "user_id", res.UserID, "error", err)
	}
	return res
}

// CreateLimit 创建并保存限额
func (s *RiskService) CreateLimit(ctx context.Context, cmd CreateLimitCommand) (*domain.RiskLimit, error) {
	from := s.now()
	if cmd.EffectiveFrom != nil {
		from = *cmd.EffectiveFrom
	}
	limit, err := domain.NewRiskLimit(s.newLimitID(), cmd.Name, cmd.Scope, cmd.ScopeRef, cmd.Type,
		cmd.LimitValue, cmd.WarningThreshold, from, cmd.EffectiveTo, cmd.BreachActions)
	if err != nil {
		return nil, err
	}
	if err := s.limitRepo.Save(ctx, limit); err != nil {
		logging.Error(ctx, "Failed to save risk limit", "limit_id", limit.ID, "error", err)
		return nil, fmt.Errorf("failed to save risk limit: %w", err)
	}
	logging.Info(ctx, "Risk limit created", "limit_id", limit.ID, "scope", limit.Scope, "scope_ref", limit.ScopeRef, "type", limit.Type)
	return limit, nil
}

// GetLimit 查询限额
func (s *RiskService) GetLimit(ctx context.Context, id string) (*domain.RiskLimit, error) {
	return s.limitRepo.Get(ctx, id)
}

// ListLimits 查询作用于对象 (含 GLOBAL) 的限额
func (s *RiskService) ListLimits(ctx context.Context, scopeRef string) ([]domain.RiskLimit, error) {
	return s.limitRepo.ListByScopeRef(ctx, scopeRef)
}

// SuspendLimit 暂停限额
func (s *RiskService) SuspendLimit(ctx context.Context, id string) (*domain.RiskLimit, error) {
	return s.updateLimit(ctx, id, (*domain.RiskLimit).Suspend)
}

// ResumeLimit 恢复限额
func (s *RiskService) ResumeLimit(ctx context.Context, id string) (*domain.RiskLimit, error) {
	return s.updateLimit(ctx, id, (*domain.RiskLimit).Resume)
}

func (s *RiskService) updateLimit(ctx context.Context, id string, apply func(*domain.RiskLimit, time.Time) error) (*domain.RiskLimit, error) {
	unlock := s.limitLocks.Lock(id)
	defer unlock()

	l, err := s.limitRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := apply(l, s.now()); err != nil {
		return nil, err
	}
	if err := s.limitRepo.Save(ctx, l); err != nil {
		return nil, fmt.Errorf("failed to save risk limit: %w", err)
	}
	return l, nil
}

// RunStressTests 执行压力测试，scenarioIDs 为空时执行全部场景
func (s *RiskService) RunStressTests(ctx context.Context, snapshot domain.PortfolioSnapshot, scenarioIDs []string) ([]*domain.StressTestResult, error) {
	if len(scenarioIDs) == 0 {
		return s.stress.RunAll(snapshot)
	}
	out := make([]*domain.StressTestResult, 0, len(scenarioIDs))
	for _, id := range scenarioIDs {
		res, err := s.stress.RunScenario(id, snapshot)
		if err != nil {
			return nil, err
		}
		if !res.Survived {
			logging.Warn(ctx, "Portfolio fails stress scenario", "portfolio_id", snapshot.PortfolioID, "scenario", id, "impact", res.ImpactFraction)
		}
		out = append(out, res)
	}
	return out, nil
}

// StressScenarios 已注册的压力场景
func (s *RiskService) StressScenarios() []*domain.StressScenario {
	return s.stress.Scenarios()
}

// CheckCompliance 合规检查
func (s *RiskService) CheckCompliance(ctx context.Context, snapshot domain.PortfolioSnapshot) (*domain.ComplianceReport, error) {
	report, err := s.compliance.Check(snapshot, s.now())
	if err != nil {
		return nil, err
	}
	if !report.Compliant {
		logging.Warn(ctx, "Portfolio compliance violations", "portfolio_id", snapshot.PortfolioID, "violations", len(report.Violations))
	}
	return report, nil
}

// CreateAlert 人工创建告警
func (s *RiskService) CreateAlert(ctx context.Context, cmd CreateAlertCommand) (*domain.RiskAlert, error) {
	return s.alerts.Create(ctx, cmd)
}

// AcknowledgeAlert 确认告警
func (s *RiskService) AcknowledgeAlert(ctx context.Context, id, by, comments string) (*domain.RiskAlert, error) {
	return s.alerts.Acknowledge(ctx, id, by, comments)
}

// StartAlertWork 开始处理告警
func (s *RiskService) StartAlertWork(ctx context.Context, id, by, comment string) (*domain.RiskAlert, error) {
	return s.alerts.StartWork(ctx, id, by, comment)
}

// ResolveAlert 关闭告警
func (s *RiskService) ResolveAlert(ctx context.Context, id, by, details string, actions []string) (*domain.RiskAlert, error) {
	return s.alerts.Resolve(ctx, id, by, details, actions)
}

// DismissAlert 忽略告警
func (s *RiskService) DismissAlert(ctx context.Context, id, by, reason string) (*domain.RiskAlert, error) {
	return s.alerts.Dismiss(ctx, id, by, reason)
}

// EscalateAlert 人工升级告警
func (s *RiskService) EscalateAlert(ctx context.Context, id, by, reason string) (*domain.RiskAlert, error) {
	return s.alerts.Escalate(ctx, id, by, reason)
}

// ReassignAlert 重新分派告警
func (s *RiskService) ReassignAlert(ctx context.Context, id, by, assignee, comment string) (*domain.RiskAlert, error) {
	return s.alerts.Reassign(ctx, id, by, assignee, comment)
}

// SweepAlerts 处理升级与过期定时器
func (s *RiskService) SweepAlerts(ctx context.Context) (*AlertSweepReport, error) {
	return s.alerts.Sweep(ctx)
}
