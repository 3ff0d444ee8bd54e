package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComplianceChecker(t *testing.T) {
	c := NewComplianceChecker(DefaultRiskEngineConfig())

	report, err := c.Check(stressSnapshot(), t0)
	require.NoError(t, err)
	assert.False(t, report.Compliant)

	rules := map[string]int{}
	for _, v := range report.Violations {
		rules[v.Rule]++
	}
	assert.Equal(t, 1, rules[RuleMinimumDiversification])
	assert.Equal(t, 3, rules[RuleDisclosureRequirement])
	// IT 50%, Banking 30%, Commodities 20%
	assert.Equal(t, 1, rules[RuleSectorConcentration])
	assert.Equal(t, "AAPL", report.Violations[1].Subject)

	diversified := equalPositions(20)
	report, err = c.Check(PortfolioSnapshot{PortfolioID: "pf-2", Positions: diversified}, t0)
	require.NoError(t, err)
	// 无行业信息的持仓全部计入 UNASSIGNED
	require.Len(t, report.Violations, 1)
	assert.Equal(t, UnassignedBucket, report.Violations[0].Subject)
}

func TestComplianceChecker_Empty(t *testing.T) {
	_, err := NewComplianceChecker(DefaultRiskEngineConfig()).Check(PortfolioSnapshot{}, t0)
	assert.ErrorIs(t, err, ErrEmptyPortfolio)
}
