package application

import (
	"context"
	"fmt"
	"time"

	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/riskengine/internal/risk/domain"
	"github.com/wyfcoding/riskengine/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSweepConcurrency = 4
	defaultPortfolioTimeout = 30 * time.Second
)

// PortfolioSweep 批量重算组合风险指标并评估已存储限额。
// 单个组合失败或超时只记录在其结果中，不中断整批
type PortfolioSweep struct {
	svc         *RiskService
	concurrency int
	timeout     time.Duration
	metrics     metrics.MetricsCollector
}

// NewPortfolioSweep 创建批量重算器，concurrency / timeout 非正时使用默认值
func NewPortfolioSweep(svc *RiskService, concurrency int, timeout time.Duration, collector metrics.MetricsCollector) *PortfolioSweep {
	if concurrency <= 0 {
		concurrency = defaultSweepConcurrency
	}
	if timeout <= 0 {
		timeout = defaultPortfolioTimeout
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &PortfolioSweep{svc: svc, concurrency: concurrency, timeout: timeout, metrics: collector}
}

// Run 并发处理全部组合，结果顺序与输入一致
func (p *PortfolioSweep) Run(ctx context.Context, snapshots []domain.PortfolioSnapshot) *SweepSummary {
	start := time.Now()
	outcomes := make([]PortfolioOutcome, len(snapshots))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i := range snapshots {
		g.Go(func() error {
			outcomes[i] = p.process(ctx, snapshots[i])
			return nil
		})
	}
	_ = g.Wait()

	summary := &SweepSummary{Outcomes: outcomes, Duration: time.Since(start)}
	for _, o := range outcomes {
		if o.Err != nil {
			summary.Failed++
			continue
		}
		summary.Succeeded++
	}
	p.metrics.RecordSweep(summary.Succeeded, summary.Failed, summary.Duration.Seconds())
	logging.Info(ctx, "Portfolio sweep completed",
		"portfolios", len(snapshots),
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"duration", summary.Duration.String(),
	)
	return summary
}

func (p *PortfolioSweep) process(parent context.Context, snapshot domain.PortfolioSnapshot) (out PortfolioOutcome) {
	out.PortfolioID = snapshot.PortfolioID
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("panic while processing portfolio: %v", r)
		}
		if out.Err != nil {
			out.Error = out.Err.Error()
			logging.Error(parent, "Portfolio sweep item failed", "portfolio_id", snapshot.PortfolioID, "error", out.Err)
		}
	}()

	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()

	if err := ctx.Err(); err != nil {
		out.Err = err
		return out
	}
	res, err := p.svc.CalculatePortfolioRisk(ctx, snapshot)
	if err != nil {
		out.Err = err
		return out
	}
	out.Metrics = res

	if err := ctx.Err(); err != nil {
		out.Err = fmt.Errorf("portfolio metrics computed but limits skipped: %w", err)
		return out
	}
	report, err := p.svc.EvaluateStoredLimits(ctx, snapshot.PortfolioID, res.LimitInputs(snapshot.PortfolioID))
	if err != nil {
		out.Err = err
		return out
	}
	out.Limits = report.Result
	return out
}
