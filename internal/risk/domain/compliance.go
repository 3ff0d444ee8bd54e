package domain

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// 合规规则
const (
	RuleMinimumDiversification = "MINIMUM_DIVERSIFICATION"
	RuleDisclosureRequirement  = "DISCLOSURE_REQUIREMENT"
	RuleSectorConcentration    = "SECTOR_CONCENTRATION"
)

// ComplianceViolation 单条违规
type ComplianceViolation struct {
	Rule     string        `json:"rule"`
	Message  string        `json:"message"`
	Severity AlertSeverity `json:"severity"`
	Subject  string        `json:"subject,omitempty"`
}

// ComplianceReport 合规检查报告
type ComplianceReport struct {
	PortfolioID string                `json:"portfolio_id"`
	Compliant   bool                  `json:"compliant"`
	Violations  []ComplianceViolation `json:"violations"`
	CheckedAt   time.Time             `json:"checked_at"`
}

// ComplianceChecker 组合合规检查
type ComplianceChecker struct {
	cfg ComplianceConfig
}

// NewComplianceChecker 创建合规检查器
func NewComplianceChecker(cfg RiskEngineConfig) *ComplianceChecker {
	return &ComplianceChecker{cfg: cfg.Compliance}
}

// Check 最小分散度、持仓披露阈值与行业集中度
func (c *ComplianceChecker) Check(s PortfolioSnapshot, now time.Time) (*ComplianceReport, error) {
	// 空组合与零敞口沿用集中度分析的错误
	if _, err := AnalyzeConcentration(s.Positions); err != nil {
		return nil, err
	}
	report := &ComplianceReport{PortfolioID: s.PortfolioID, Violations: []ComplianceViolation{}, CheckedAt: now}

	symbols := make(map[string]struct{}, len(s.Positions))
	for _, p := range s.Positions {
		symbols[p.Symbol] = struct{}{}
	}
	holdings := len(symbols)
	if c.cfg.MinDiversification > 0 && holdings < c.cfg.MinDiversification {
		report.Violations = append(report.Violations, ComplianceViolation{
			Rule:     RuleMinimumDiversification,
			Message:  fmt.Sprintf("portfolio has %d holdings, minimum required: %d", holdings, c.cfg.MinDiversification),
			Severity: SeverityHigh,
		})
	}

	if c.cfg.DisclosureThreshold > 0 {
		for _, sym := range slices.Sorted(maps.Keys(symbols)) {
			if w := SymbolWeight(s.Positions, sym); w > c.cfg.DisclosureThreshold {
				report.Violations = append(report.Violations, ComplianceViolation{
					Rule:     RuleDisclosureRequirement,
					Message:  fmt.Sprintf("%s weight %.2f%% exceeds %.2f%% disclosure threshold", sym, w*100, c.cfg.DisclosureThreshold*100),
					Severity: SeverityMedium,
					Subject:  sym,
				})
			}
		}
	}

	if c.cfg.MaxSectorExposure > 0 {
		gross := s.GrossExposure()
		sectors := make(map[string]decimal.Decimal)
		for _, p := range s.Positions {
			key := p.Sector
			if key == "" {
				key = UnassignedBucket
			}
			sectors[key] = sectors[key].Add(p.MarketValue().Abs())
		}
		keys := slices.Sorted(maps.Keys(sectors))
		for _, sec := range keys {
			w, _ := sectors[sec].Div(gross).Float64()
			if w > c.cfg.MaxSectorExposure {
				report.Violations = append(report.Violations, ComplianceViolation{
					Rule:     RuleSectorConcentration,
					Message:  fmt.Sprintf("sector %s at %.2f%% exceeds %.2f%%", sec, w*100, c.cfg.MaxSectorExposure*100),
					Severity: SeverityMedium,
					Subject:  sec,
				})
			}
		}
	}
	report.Compliant = len(report.Violations) == 0
	return report, nil
}
