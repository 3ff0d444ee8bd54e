package application

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/wyfcoding/riskengine/internal/risk/domain"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sequence(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

type memLimitRepo struct {
	mu      sync.Mutex
	limits  map[string]domain.RiskLimit
	saves   int
	saveErr error
}

func newMemLimitRepo(limits ...*domain.RiskLimit) *memLimitRepo {
	r := &memLimitRepo{limits: make(map[string]domain.RiskLimit)}
	for _, l := range limits {
		r.limits[l.ID] = cloneLimit(*l)
	}
	return r
}

func cloneLimit(l domain.RiskLimit) domain.RiskLimit {
	l.BreachActions = slices.Clone(l.BreachActions)
	return l
}

func (r *memLimitRepo) Save(_ context.Context, l *domain.RiskLimit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saves++
	r.limits[l.ID] = cloneLimit(*l)
	return nil
}

func (r *memLimitRepo) Get(_ context.Context, id string) (*domain.RiskLimit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limits[id]
	if !ok {
		return nil, domain.NotFound("risk_limit", id)
	}
	c := cloneLimit(l)
	return &c, nil
}

func (r *memLimitRepo) ListByScopeRef(_ context.Context, scopeRef string) ([]domain.RiskLimit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.RiskLimit
	for _, l := range r.limits {
		if l.ScopeRef == scopeRef || l.Scope == domain.LimitScopeGlobal {
			out = append(out, cloneLimit(l))
		}
	}
	return out, nil
}

func (r *memLimitRepo) status(id string) domain.LimitStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limits[id].Status
}

type memAlertRepo struct {
	mu     sync.Mutex
	alerts map[string]*domain.RiskAlert
	order  []string
}

func newMemAlertRepo() *memAlertRepo {
	return &memAlertRepo{alerts: make(map[string]*domain.RiskAlert)}
}

func (r *memAlertRepo) Save(_ context.Context, a *domain.RiskAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[a.ID]; !ok {
		r.order = append(r.order, a.ID)
	}
	r.alerts[a.ID] = a.Clone()
	return nil
}

func (r *memAlertRepo) Get(_ context.Context, id string) (*domain.RiskAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return nil, domain.NotFound("risk_alert", id)
	}
	return a.Clone(), nil
}

func (r *memAlertRepo) List(_ context.Context, f domain.AlertFilter) ([]*domain.RiskAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.RiskAlert
	for _, id := range r.order {
		a := r.alerts[id]
		if f.UserID != "" && a.UserID != f.UserID ||
			f.PortfolioID != "" && a.PortfolioID != f.PortfolioID ||
			f.Status != "" && a.Status != f.Status ||
			f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		out = append(out, a.Clone())
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (r *memAlertRepo) ListOpen(_ context.Context) ([]*domain.RiskAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.RiskAlert
	for _, id := range r.order {
		if a := r.alerts[id]; !a.Status.IsTerminal() {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (r *memAlertRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

type memMetricsCache struct {
	mu      sync.Mutex
	entries map[string]*domain.RiskMetricsResult
	ttl     time.Duration
}

func newMemMetricsCache() *memMetricsCache {
	return &memMetricsCache{entries: make(map[string]*domain.RiskMetricsResult)}
}

func (c *memMetricsCache) SetMetrics(_ context.Context, res *domain.RiskMetricsResult, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[res.PortfolioID] = res
	c.ttl = ttl
	return nil
}

func (c *memMetricsCache) GetMetrics(_ context.Context, id string) (*domain.RiskMetricsResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[id], nil
}

// recordingPublisher 记录事件类型；failWith 非空时所有发布失败
type recordingPublisher struct {
	mu       sync.Mutex
	events   []string
	breaches []domain.RiskLimitBreachedEvent
	failWith error
}

func (p *recordingPublisher) record(kind string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.events = append(p.events, kind)
	return nil
}

func (p *recordingPublisher) PublishRiskAssessed(_ context.Context, _ domain.RiskAssessedEvent) error {
	return p.record(domain.EventTypeRiskAssessed)
}

func (p *recordingPublisher) PublishRiskMetricsCalculated(_ context.Context, _ domain.RiskMetricsCalculatedEvent) error {
	return p.record(domain.EventTypeRiskMetricsCalculated)
}

func (p *recordingPublisher) PublishLimitBreached(_ context.Context, e domain.RiskLimitBreachedEvent) error {
	if err := p.record(domain.EventTypeLimitBreached); err != nil {
		return err
	}
	p.mu.Lock()
	p.breaches = append(p.breaches, e)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) PublishFraudDetected(_ context.Context, _ domain.FraudDetectedEvent) error {
	return p.record(domain.EventTypeFraudDetected)
}

func (p *recordingPublisher) PublishAlertRaised(_ context.Context, _ domain.RiskAlertRaisedEvent) error {
	return p.record(domain.EventTypeAlertRaised)
}

func (p *recordingPublisher) PublishAlertTransitioned(_ context.Context, _ domain.RiskAlertTransitionedEvent) error {
	return p.record(domain.EventTypeAlertTransitioned)
}

func (p *recordingPublisher) count(kind string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == kind {
			n++
		}
	}
	return n
}

var errBroker = errors.New("broker unavailable")
