package mysql

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/riskengine/internal/risk/domain"
	"github.com/wyfcoding/riskengine/pkg/config"
	"github.com/wyfcoding/riskengine/pkg/db"
	"gorm.io/gorm"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := db.Open(config.DatabaseConfig{Driver: "sqlite", DSN: dsn, MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })
	require.NoError(t, AutoMigrate(gdb))
	return gdb
}

func newLimit(t *testing.T, id string, scope domain.LimitScope, ref string) *domain.RiskLimit {
	t.Helper()
	l, err := domain.NewRiskLimit(id, "limit "+id, scope, ref, domain.LimitTypeVaR,
		decimal.NewFromInt(1000), decimal.NewFromInt(800), t0, nil, []string{"reduce exposure"})
	require.NoError(t, err)
	return l
}

func TestRiskLimitRepository_SaveGetUpdate(t *testing.T) {
	repo := NewRiskLimitRepository(openTestDB(t))
	ctx := context.Background()

	l := newLimit(t, "L-1", domain.LimitScopePortfolio, "pf-1")
	require.NoError(t, repo.Save(ctx, l))

	got, err := repo.Get(ctx, "L-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LimitScopePortfolio, got.Scope)
	assert.Equal(t, "pf-1", got.ScopeRef)
	assert.True(t, got.LimitValue.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, []string{"reduce exposure"}, got.BreachActions)
	assert.Nil(t, got.EffectiveTo)
	assert.True(t, got.EffectiveFrom.Equal(t0))

	require.NoError(t, got.ApplyEvaluation(decimal.NewFromInt(1200), t0.Add(time.Minute)))
	require.NoError(t, repo.Save(ctx, got))

	got, err = repo.Get(ctx, "L-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LimitStatusBreached, got.Status)
	assert.True(t, got.CurrentUtilization.Equal(decimal.NewFromInt(1200)))
}

func TestRiskLimitRepository_NotFound(t *testing.T) {
	repo := NewRiskLimitRepository(openTestDB(t))
	_, err := repo.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRiskLimitRepository_ListByScopeRefIncludesGlobal(t *testing.T) {
	repo := NewRiskLimitRepository(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, newLimit(t, "L-1", domain.LimitScopePortfolio, "pf-1")))
	require.NoError(t, repo.Save(ctx, newLimit(t, "L-2", domain.LimitScopePortfolio, "pf-2")))
	require.NoError(t, repo.Save(ctx, newLimit(t, "L-3", domain.LimitScopeGlobal, "")))

	limits, err := repo.ListByScopeRef(ctx, "pf-1")
	require.NoError(t, err)
	require.Len(t, limits, 2)
	assert.Equal(t, "L-1", limits[0].ID)
	assert.Equal(t, "L-3", limits[1].ID)
}

func newStoredAlert(t *testing.T, id string, sev domain.AlertSeverity, created time.Time) *domain.RiskAlert {
	t.Helper()
	a, err := domain.NewRiskAlert(id, domain.AlertTypeLimitBreach, sev, "title "+id, "desc", created, domain.DefaultRiskEngineConfig().Alert)
	require.NoError(t, err)
	a.UserID = "u-1"
	a.PortfolioID = "pf-1"
	a.Triggers = append(a.Triggers, domain.TriggerCondition{Rule: "limit:VAR", Operator: ">=", Threshold: decimal.NewFromInt(1000), ActualValue: decimal.NewFromInt(1800)})
	a.RelatedEntities = append(a.RelatedEntities, domain.EntityRef{Kind: domain.EntityLimit, ID: "L-1"})
	a.RecommendedActions = []string{"hedge"}
	return a
}

func TestRiskAlertRepository_RoundTrip(t *testing.T) {
	repo := NewRiskAlertRepository(openTestDB(t))
	ctx := context.Background()

	a := newStoredAlert(t, "A-1", domain.SeverityHigh, t0)
	require.NoError(t, repo.Save(ctx, a))
	require.NoError(t, a.Acknowledge("alice", "looking", t0.Add(time.Minute)))
	require.NoError(t, repo.Save(ctx, a))

	got, err := repo.Get(ctx, "A-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AlertStatusAcknowledged, got.Status)
	assert.Equal(t, domain.PriorityP2, got.Priority)
	require.Len(t, got.Triggers, 1)
	assert.True(t, got.Triggers[0].ActualValue.Equal(decimal.NewFromInt(1800)))
	assert.Equal(t, []domain.EntityRef{{Kind: domain.EntityLimit, ID: "L-1"}}, got.RelatedEntities)
	require.NotNil(t, got.Escalation)
	assert.Equal(t, 60, got.Escalation.AfterMinutes)
	require.Len(t, got.History, 1)
	assert.Equal(t, domain.AlertStatusAcknowledged, got.History[0].To)
	require.NotNil(t, got.AcknowledgedAt)
	assert.True(t, got.AcknowledgedAt.Equal(t0.Add(time.Minute)))

	_, err = repo.Get(ctx, "A-404")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRiskAlertRepository_ListAndListOpen(t *testing.T) {
	repo := NewRiskAlertRepository(openTestDB(t))
	ctx := context.Background()

	low := newStoredAlert(t, "A-1", domain.SeverityLow, t0)
	high := newStoredAlert(t, "A-2", domain.SeverityHigh, t0.Add(time.Minute))
	closed := newStoredAlert(t, "A-3", domain.SeverityHigh, t0.Add(2*time.Minute))
	require.NoError(t, closed.Dismiss("alice", "noise", t0.Add(3*time.Minute)))
	for _, a := range []*domain.RiskAlert{low, high, closed} {
		require.NoError(t, repo.Save(ctx, a))
	}

	all, err := repo.List(ctx, domain.AlertFilter{UserID: "u-1"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "A-3", all[0].ID)

	highs, err := repo.List(ctx, domain.AlertFilter{Severity: domain.SeverityHigh, Status: domain.AlertStatusActive})
	require.NoError(t, err)
	require.Len(t, highs, 1)
	assert.Equal(t, "A-2", highs[0].ID)

	limited, err := repo.List(ctx, domain.AlertFilter{PortfolioID: "pf-1", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	open, err := repo.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "A-1", open[0].ID)
	assert.Equal(t, "A-2", open[1].ID)
}

func TestRepositories_JoinTransaction(t *testing.T) {
	gdb := openTestDB(t)
	limits := NewRiskLimitRepository(gdb)
	alerts := NewRiskAlertRepository(gdb)
	ctx := context.Background()

	err := db.InTx(ctx, gdb, func(txCtx context.Context) error {
		if err := limits.Save(txCtx, newLimit(t, "L-1", domain.LimitScopePortfolio, "pf-1")); err != nil {
			return err
		}
		if err := alerts.Save(txCtx, newStoredAlert(t, "A-1", domain.SeverityLow, t0)); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	_, err = limits.Get(ctx, "L-1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = alerts.Get(ctx, "A-1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
