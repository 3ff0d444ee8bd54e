package domain

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/geo"
	"github.com/wyfcoding/riskengine/pkg/algos"
)

// FraudRecommendation 欺诈处置建议
type FraudRecommendation string

const (
	RecommendAllow     FraudRecommendation = "ALLOW"
	RecommendChallenge FraudRecommendation = "CHALLENGE"
	RecommendReview    FraudRecommendation = "REVIEW"
	RecommendBlock     FraudRecommendation = "BLOCK"
)

// ComplianceStatus 提供给合规流程的提示
type ComplianceStatus string

const (
	ComplianceClear    ComplianceStatus = "CLEAR"
	ComplianceWatch    ComplianceStatus = "WATCH"
	ComplianceEscalate ComplianceStatus = "ESCALATE"
)

const (
	// 缺少历史画像时的评分，不按安全处理
	missingDataScore = 0.5
	// 陌生国家登录按强信号计分
	novelCountryScore = 1.0
	// 新地点/新设备时的画像覆盖度
	novelCoverage = 0.5
	// 高风险国家或可疑收款方的附加分
	recipientFlagPenalty = 0.3
	loginHourSaturation  = 6.0
)

// GeoLocation 地理位置，Latitude/Longitude 同时为 0 视为无坐标
type GeoLocation struct {
	Country   string  `json:"country"`
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (g GeoLocation) hasCoordinates() bool {
	return g.Latitude != 0 || g.Longitude != 0
}

// SessionSignal 会话信号
type SessionSignal struct {
	IPAddress         string        `json:"ip_address"`
	DeviceFingerprint string        `json:"device_fingerprint"`
	Location          GeoLocation   `json:"location"`
	SessionDuration   time.Duration `json:"session_duration"`
	LoginTime         time.Time     `json:"login_time"`
}

// TransactionSignal 资金交易信号
type TransactionSignal struct {
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Recipient        string          `json:"recipient"`
	RecipientCountry string          `json:"recipient_country"`
	RecipientFlagged bool            `json:"recipient_flagged"`
}

// TradingActivity 近期交易行为
type TradingActivity struct {
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Time     time.Time       `json:"time"`
}

// TypicalLocation 常用地点，Frequency 为访问占比
type TypicalLocation struct {
	GeoLocation
	Frequency float64 `json:"frequency"`
}

// DeviceRecord 设备历史
type DeviceRecord struct {
	Fingerprint string    `json:"fingerprint"`
	Trusted     bool      `json:"trusted"`
	LastSeen    time.Time `json:"last_seen"`
}

// UserRiskProfile 用户历史画像
type UserRiskProfile struct {
	TypicalLocations         []TypicalLocation `json:"typical_locations"`
	Devices                  []DeviceRecord    `json:"devices"`
	TypicalLoginHours        []float64         `json:"typical_login_hours"` // 0-24，UTC
	AverageSessionDuration   time.Duration     `json:"average_session_duration"`
	AverageTransactionAmount decimal.Decimal   `json:"average_transaction_amount"`
	TypicalEventsPerWindow   float64           `json:"typical_events_per_window"`
	HistoricalRiskScore      float64           `json:"historical_risk_score"`
}

// FraudSignals 一次欺诈检测的全部输入
type FraudSignals struct {
	UserID         string             `json:"user_id"`
	Session        SessionSignal      `json:"session"`
	Transaction    *TransactionSignal `json:"transaction,omitempty"`
	RecentActivity []TradingActivity  `json:"recent_activity"`
	Profile        UserRiskProfile    `json:"profile"`
	// EvaluatedAt 评估时刻，为空时取登录时间
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// CategoryScores 分类评分，各项在 [0,1]
type CategoryScores struct {
	Location    float64 `json:"location"`
	Device      float64 `json:"device"`
	Behavioral  float64 `json:"behavioral"`
	Transaction float64 `json:"transaction"`
	Temporal    float64 `json:"temporal"`
}

func (c CategoryScores) values() []float64 {
	return []float64{c.Location, c.Device, c.Behavioral, c.Transaction, c.Temporal}
}

// FraudDetectionResult 欺诈检测结果
type FraudDetectionResult struct {
	UserID           string              `json:"user_id"`
	Scores           CategoryScores      `json:"scores"`
	OverallScore     float64             `json:"overall_score"`
	Recommendation   FraudRecommendation `json:"recommendation"`
	Confidence       float64             `json:"confidence"`
	ComplianceStatus ComplianceStatus    `json:"compliance_status"`
	Reasons          []string            `json:"reasons"`
	EvaluatedAt      time.Time           `json:"evaluated_at"`
}

// FraudScoringEngine 欺诈评分引擎，无状态
type FraudScoringEngine struct {
	cfg FraudConfig
}

// NewFraudScoringEngine 创建评分引擎
func NewFraudScoringEngine(cfg RiskEngineConfig) *FraudScoringEngine {
	return &FraudScoringEngine{cfg: cfg.Fraud}
}

// Detect 计算分类评分、综合评分、处置建议与置信度
func (e *FraudScoringEngine) Detect(sig FraudSignals) *FraudDetectionResult {
	now := sig.EvaluatedAt
	if now.IsZero() {
		now = sig.Session.LoginTime
	}
	var reasons []string
	var coverage [5]float64
	var scores CategoryScores

	scores.Location, coverage[0], reasons = e.scoreLocation(sig, reasons)
	scores.Device, coverage[1], reasons = e.scoreDevice(sig, now, reasons)
	scores.Behavioral, coverage[2], reasons = e.scoreBehavioral(sig, reasons)
	scores.Transaction, coverage[3], reasons = e.scoreTransaction(sig, reasons)
	scores.Temporal, coverage[4], reasons = e.scoreTemporal(sig, now, reasons)

	var covered float64
	for _, c := range coverage {
		covered += c
	}
	if sig.Profile.HistoricalRiskScore >= e.cfg.HardSignalLevel {
		reasons = append(reasons, fmt.Sprintf("elevated historical risk score %.2f", sig.Profile.HistoricalRiskScore))
	}

	overall := e.Combine(scores)
	rec := e.Recommend(overall)
	if reasons == nil {
		reasons = []string{}
	}
	return &FraudDetectionResult{
		UserID:           sig.UserID,
		Scores:           scores,
		OverallScore:     overall,
		Recommendation:   rec,
		Confidence:       covered / float64(len(coverage)),
		ComplianceStatus: complianceFor(rec),
		Reasons:          reasons,
		EvaluatedAt:      now,
	}
}

// Combine 加权求和；多个分类同时出现强信号时至少提升到 BLOCK 阈值。
// 对任一分类评分单调不减
func (e *FraudScoringEngine) Combine(s CategoryScores) float64 {
	c := e.cfg
	weights := []float64{c.LocationWeight, c.DeviceWeight, c.BehavioralWeight, c.TransactionWeight, c.TemporalWeight}
	var overall float64
	hard := 0
	for i, v := range s.values() {
		v = algos.Clamp(v, 0, 1)
		overall += weights[i] * v
		if v >= c.HardSignalLevel {
			hard++
		}
	}
	if c.HardSignalCount > 0 && hard >= c.HardSignalCount {
		overall = math.Max(overall, c.BlockThreshold)
	}
	return algos.Clamp(overall, 0, 1)
}

// Recommend 按阈值给出处置建议
func (e *FraudScoringEngine) Recommend(score float64) FraudRecommendation {
	switch {
	case score < e.cfg.ChallengeThreshold:
		return RecommendAllow
	case score < e.cfg.ReviewThreshold:
		return RecommendChallenge
	case score < e.cfg.BlockThreshold:
		return RecommendReview
	default:
		return RecommendBlock
	}
}

func complianceFor(r FraudRecommendation) ComplianceStatus {
	switch r {
	case RecommendAllow:
		return ComplianceClear
	case RecommendChallenge:
		return ComplianceWatch
	default:
		return ComplianceEscalate
	}
}

func (e *FraudScoringEngine) scoreLocation(sig FraudSignals, reasons []string) (float64, float64, []string) {
	cur := sig.Session.Location
	typical := sig.Profile.TypicalLocations
	if len(typical) == 0 {
		return missingDataScore, 0, append(reasons, "no location history")
	}
	knownCountry := false
	for _, t := range typical {
		if strings.EqualFold(t.Country, cur.Country) {
			knownCountry = true
			if strings.EqualFold(t.City, cur.City) && t.Frequency >= e.cfg.LocationFrequencyFloor {
				return 0, 1, reasons
			}
		}
	}

	score := missingDataScore
	if cur.hasCoordinates() {
		nearest := e.nearestKm(cur, typical, true)
		if math.IsInf(nearest, 1) {
			nearest = e.nearestKm(cur, typical, false)
		}
		if !math.IsInf(nearest, 1) {
			score = algos.Clamp(nearest/e.cfg.LocationDistanceSaturation, 0, 1)
			reasons = append(reasons, fmt.Sprintf("login %.0f km from nearest typical location", nearest))
		}
	}
	if !knownCountry {
		score = novelCountryScore
		reasons = append(reasons, fmt.Sprintf("unfamiliar country %q", cur.Country))
	}
	return score, novelCoverage, reasons
}

// nearestKm 到最近常用地点的距离；frequent 为 true 时只考虑访问占比达到阈值的地点
func (e *FraudScoringEngine) nearestKm(cur GeoLocation, typical []TypicalLocation, frequent bool) float64 {
	nearest := math.Inf(1)
	for _, t := range typical {
		if !t.hasCoordinates() || (frequent && t.Frequency < e.cfg.LocationFrequencyFloor) {
			continue
		}
		nearest = math.Min(nearest, distanceKm(cur, t.GeoLocation))
	}
	return nearest
}

func (e *FraudScoringEngine) scoreDevice(sig FraudSignals, now time.Time, reasons []string) (float64, float64, []string) {
	fp := sig.Session.DeviceFingerprint
	devices := sig.Profile.Devices
	if len(devices) == 0 {
		return missingDataScore, 0, append(reasons, "no device history")
	}
	i := slices.IndexFunc(devices, func(d DeviceRecord) bool { return fp != "" && d.Fingerprint == fp })
	if i < 0 {
		return 1, novelCoverage, append(reasons, "unrecognized device")
	}
	d := devices[i]
	if d.Trusted {
		return 0, 1, reasons
	}
	staleness := 1.0
	if e.cfg.DeviceStaleAfter > 0 && !d.LastSeen.IsZero() {
		staleness = algos.Clamp(float64(now.Sub(d.LastSeen))/float64(e.cfg.DeviceStaleAfter), 0, 1)
	}
	return 0.3 + 0.7*staleness, 1, append(reasons, "known but untrusted device")
}

func (e *FraudScoringEngine) scoreBehavioral(sig FraudSignals, reasons []string) (float64, float64, []string) {
	p := sig.Profile
	hourScore, durScore := missingDataScore, missingDataScore
	var coverage float64

	if len(p.TypicalLoginHours) > 0 && !sig.Session.LoginTime.IsZero() {
		t := sig.Session.LoginTime.UTC()
		hour := float64(t.Hour()) + float64(t.Minute())/60
		nearest := 12.0
		for _, h := range p.TypicalLoginHours {
			d := math.Abs(hour - math.Mod(h, 24))
			nearest = math.Min(nearest, math.Min(d, 24-d))
		}
		hourScore = algos.Clamp(nearest/loginHourSaturation, 0, 1)
		if hourScore >= 0.5 {
			reasons = append(reasons, fmt.Sprintf("login at %02d:%02d UTC outside typical hours", t.Hour(), t.Minute()))
		}
		coverage += 0.5
	}
	if p.AverageSessionDuration > 0 {
		avg := float64(p.AverageSessionDuration)
		durScore = algos.Clamp(math.Abs(float64(sig.Session.SessionDuration)-avg)/avg, 0, 1)
		coverage += 0.5
	}
	return 0.6*hourScore + 0.4*durScore, coverage, reasons
}

func (e *FraudScoringEngine) scoreTransaction(sig FraudSignals, reasons []string) (float64, float64, []string) {
	tx := sig.Transaction
	if tx == nil {
		return 0, 1, reasons
	}
	score, coverage := missingDataScore, 0.0
	avg := sig.Profile.AverageTransactionAmount
	if avg.IsPositive() {
		ratio, _ := tx.Amount.Abs().Div(avg).Float64()
		score = 0
		if ratio > 1 {
			score = algos.Clamp(math.Log(ratio)/math.Log(e.cfg.TransactionRatioSaturation), 0, 1)
		}
		if ratio >= 2 {
			reasons = append(reasons, fmt.Sprintf("amount %.1fx historical average", ratio))
		}
		coverage = 1
	} else {
		reasons = append(reasons, "no transaction history")
	}

	if tx.RecipientFlagged {
		score += recipientFlagPenalty
		reasons = append(reasons, "flagged recipient")
	} else if e.highRiskCountry(tx.RecipientCountry) || e.highRiskCountry(sig.Session.Location.Country) {
		score += recipientFlagPenalty
		reasons = append(reasons, "high-risk country")
	}
	return algos.Clamp(score, 0, 1), coverage, reasons
}

func (e *FraudScoringEngine) scoreTemporal(sig FraudSignals, now time.Time, reasons []string) (float64, float64, []string) {
	from := now.Add(-e.cfg.VelocityWindow)
	count := 0
	for _, a := range sig.RecentActivity {
		if a.Time.After(from) && !a.Time.After(now) {
			count++
		}
	}
	typical := sig.Profile.TypicalEventsPerWindow
	if typical <= 0 {
		return missingDataScore, 0, append(reasons, "no activity cadence history")
	}
	ratio := float64(count) / typical
	score := algos.Clamp((ratio-1)/(e.cfg.VelocitySaturation-1), 0, 1)
	if ratio >= 2 {
		reasons = append(reasons, fmt.Sprintf("%d events in %s window (%.1fx typical)", count, e.cfg.VelocityWindow, ratio))
	}
	return score, 1, reasons
}

func (e *FraudScoringEngine) highRiskCountry(country string) bool {
	if country == "" {
		return false
	}
	return slices.ContainsFunc(e.cfg.HighRiskCountries, func(c string) bool { return strings.EqualFold(c, country) })
}

// distanceKm 两地大圆距离 (km)
func distanceKm(a, b GeoLocation) float64 {
	return geo.Distance(geo.Point{Lat: a.Latitude, Lon: a.Longitude}, geo.Point{Lat: b.Latitude, Lon: b.Longitude})
}
