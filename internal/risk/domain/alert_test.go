package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allAlertStatuses = []AlertStatus{
	AlertStatusActive, AlertStatusAcknowledged, AlertStatusInProgress,
	AlertStatusResolved, AlertStatusDismissed, AlertStatusEscalated, AlertStatusExpired,
}

func newAlert(t *testing.T, sev AlertSeverity) *RiskAlert {
	t.Helper()
	a, err := NewRiskAlert("a-1", AlertTypePortfolioRisk, sev, "title", "desc", t0, DefaultRiskEngineConfig().Alert)
	require.NoError(t, err)
	return a
}

func TestCanTransition_EdgeSet(t *testing.T) {
	allowed := map[[2]AlertStatus]bool{
		{AlertStatusActive, AlertStatusAcknowledged}:     true,
		{AlertStatusActive, AlertStatusDismissed}:        true,
		{AlertStatusActive, AlertStatusExpired}:          true,
		{AlertStatusAcknowledged, AlertStatusInProgress}: true,
		{AlertStatusAcknowledged, AlertStatusResolved}:   true,
		{AlertStatusAcknowledged, AlertStatusEscalated}:  true,
		{AlertStatusAcknowledged, AlertStatusExpired}:    true,
		{AlertStatusInProgress, AlertStatusResolved}:     true,
		{AlertStatusInProgress, AlertStatusEscalated}:    true,
		{AlertStatusInProgress, AlertStatusExpired}:      true,
		{AlertStatusEscalated, AlertStatusInProgress}:    true,
		{AlertStatusEscalated, AlertStatusExpired}:       true,
	}
	for _, from := range allAlertStatuses {
		for _, to := range allAlertStatuses {
			assert.Equal(t, allowed[[2]AlertStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestRiskAlert_HappyPath(t *testing.T) {
	a := newAlert(t, SeverityHigh)
	assert.Equal(t, PriorityP2, a.Priority)
	assert.Equal(t, t0.Add(7*24*time.Hour), a.ExpiresAt)
	require.NotNil(t, a.Escalation)
	assert.Equal(t, 60, a.Escalation.AfterMinutes)

	require.NoError(t, a.Acknowledge("alice", "looking", t0.Add(time.Minute)))
	assert.Equal(t, "alice", a.AcknowledgedBy)
	require.NoError(t, a.StartWork("bob", "", t0.Add(2*time.Minute)))
	assert.Equal(t, "bob", a.AssignedTo)
	require.NoError(t, a.Resolve("bob", "hedged", []string{"bought puts"}, t0.Add(3*time.Minute)))

	assert.Equal(t, AlertStatusResolved, a.Status)
	assert.Equal(t, []string{"bought puts"}, a.ResolutionActions)
	require.Len(t, a.History, 3)
	assert.Equal(t, AlertHistoryEntry{From: AlertStatusActive, To: AlertStatusAcknowledged, By: "alice", Comment: "looking", At: t0.Add(time.Minute)}, a.History[0])
	assert.Equal(t, AlertStatusResolved, a.History[2].To)
}

func TestRiskAlert_InvalidTransitions(t *testing.T) {
	a := newAlert(t, SeverityMedium)
	assert.ErrorIs(t, a.Resolve("x", "", nil, t0), ErrInvalidTransition, "ACTIVE -> RESOLVED")
	assert.ErrorIs(t, a.Escalate("x", "", t0), ErrInvalidTransition, "manual ACTIVE -> ESCALATED")
	assert.ErrorIs(t, a.Reassign("x", "y", "", t0), ErrInvalidTransition)
	assert.Empty(t, a.History)

	require.NoError(t, a.Acknowledge("x", "", t0))
	require.NoError(t, a.Resolve("x", "done", nil, t0))
	assert.ErrorIs(t, a.Acknowledge("x", "", t0), ErrInvalidTransition, "RESOLVED is terminal")
	assert.ErrorIs(t, a.Dismiss("x", "", t0), ErrInvalidTransition)
	assert.False(t, a.Tick(t0.Add(30*24*time.Hour)), "terminal alerts do not expire")
}

func TestRiskAlert_EscalationTimer(t *testing.T) {
	a := newAlert(t, SeverityCritical)
	assert.False(t, a.Tick(t0.Add(14*time.Minute)))
	assert.True(t, a.Tick(t0.Add(15*time.Minute)))
	assert.Equal(t, AlertStatusEscalated, a.Status)
	assert.Equal(t, 1, a.EscalationLevel)
	assert.Equal(t, SystemActor, a.History[0].By)

	// 已升级的告警不会被重复升级
	assert.False(t, a.Tick(t0.Add(20*time.Minute)))

	require.NoError(t, a.Reassign("lead", "carol", "", t0.Add(21*time.Minute)))
	assert.Equal(t, AlertStatusInProgress, a.Status)
	assert.Equal(t, "carol", a.AssignedTo)
	assert.False(t, a.Tick(t0.Add(22*time.Minute)))

	assert.True(t, a.Tick(t0.Add(8*24*time.Hour)))
	assert.Equal(t, AlertStatusExpired, a.Status)
}

func TestRiskAlert_LowSeverityNeverEscalates(t *testing.T) {
	a := newAlert(t, SeverityLow)
	assert.Nil(t, a.Escalation)
	assert.Equal(t, PriorityP4, a.Priority)
	assert.False(t, a.Tick(t0.Add(6*24*time.Hour)))
	assert.True(t, a.Tick(t0.Add(7*24*time.Hour)))
	assert.Equal(t, AlertStatusExpired, a.Status)
}

func TestRiskAlert_Clone(t *testing.T) {
	a := newAlert(t, SeverityHigh)
	require.NoError(t, a.Acknowledge("alice", "", t0))
	c := a.Clone()
	c.History[0].By = "mallory"
	c.Escalation.Targets[0] = "nobody"
	*c.AcknowledgedAt = t0.Add(time.Hour)
	assert.Equal(t, "alice", a.History[0].By)
	assert.Equal(t, "risk-desk", a.Escalation.Targets[0])
	assert.Equal(t, t0, *a.AcknowledgedAt)
}

func TestAlertBuilders(t *testing.T) {
	cfg := DefaultRiskEngineConfig()
	l := mustLimit(t, "l1", LimitTypeVaR, 1000, 800)
	ev := LimitEvaluation{LimitID: "l1", Type: LimitTypeVaR, Scope: LimitScopePortfolio, ScopeRef: "pf-1",
		CurrentValue: d(1600), LimitValue: d(1000), WarningThreshold: d(800), Utilization: d(1.6), Status: LimitStatusBreached}
	a, err := AlertFromBreach("a-1", l, ev, t0, cfg.Alert)
	require.NoError(t, err)
	assert.Equal(t, SeverityCritical, a.Severity)
	assert.Equal(t, "pf-1", a.PortfolioID)
	assert.Contains(t, a.RelatedEntities, EntityRef{Kind: EntityLimit, ID: "l1"})
	assert.Contains(t, a.RelatedEntities, EntityRef{Kind: EntityPortfolio, ID: "pf-1"})
	assert.Equal(t, []string{"Reduce portfolio leverage and consider hedging strategies"}, a.RecommendedActions)
	assert.True(t, a.Impact.FinancialExposure.Equal(d(600)))

	ev.Status, ev.Utilization, ev.CurrentValue = LimitStatusWarning, d(0.9), d(900)
	a, err = AlertFromBreach("a-2", l, ev, t0, cfg.Alert)
	require.NoError(t, err)
	assert.Equal(t, AlertTypeLimitWarning, a.Type)
	assert.Equal(t, SeverityLow, a.Severity)
	assert.True(t, a.Triggers[0].Threshold.Equal(d(800)))

	fr := &FraudDetectionResult{UserID: "u-1", OverallScore: 0.9, Recommendation: RecommendBlock, Confidence: 0.8}
	a, err = AlertFromFraud("a-3", fr, cfg, t0)
	require.NoError(t, err)
	assert.Equal(t, SeverityCritical, a.Severity)
	assert.Equal(t, "u-1", a.UserID)
	assert.Equal(t, EntityRef{Kind: EntityUser, ID: "u-1"}, a.RelatedEntities[0])

	tr := &TradeRiskResult{UserID: "u-1", PortfolioID: "pf-1", Symbol: "AAPL", RiskLevel: RiskLevelVeryHigh, RiskScore: 84.4,
		Notional: decimal.NewFromInt(50000), SuggestedStopLoss: d(97.5), Factors: []RiskFactor{{Name: FactorLeverage, Contribution: 25}}}
	a, err = AlertFromAssessment("a-4", tr, t0, cfg.Alert)
	require.NoError(t, err)
	assert.Equal(t, SeverityHigh, a.Severity)
	assert.Equal(t, AlertTypeTradeRisk, a.Type)
	require.Len(t, a.Triggers, 1)
	assert.Equal(t, "trade:LEVERAGE", a.Triggers[0].Rule)
}
