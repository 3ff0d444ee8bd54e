package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	shanghai = GeoLocation{Country: "CN", City: "Shanghai", Latitude: 31.2304, Longitude: 121.4737}
	beijing  = GeoLocation{Country: "CN", City: "Beijing", Latitude: 39.9042, Longitude: 116.4074}
	lagos    = GeoLocation{Country: "NG", City: "Lagos", Latitude: 6.5244, Longitude: 3.3792}
)

func knownProfile(now time.Time) UserRiskProfile {
	return UserRiskProfile{
		TypicalLocations:         []TypicalLocation{{GeoLocation: shanghai, Frequency: 0.9}, {GeoLocation: beijing, Frequency: 0.02}},
		Devices:                  []DeviceRecord{{Fingerprint: "dev-1", Trusted: true, LastSeen: now.Add(-24 * time.Hour)}},
		TypicalLoginHours:        []float64{9, 10, 14, 20},
		AverageSessionDuration:   30 * time.Minute,
		AverageTransactionAmount: decimal.NewFromInt(1000),
		TypicalEventsPerWindow:   2,
	}
}

func TestFraudScoringEngine_BlockScenario(t *testing.T) {
	now := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	sig := FraudSignals{
		UserID: "u-1",
		Session: SessionSignal{
			IPAddress:         "102.89.0.1",
			DeviceFingerprint: "dev-new",
			Location:          lagos,
			SessionDuration:   5 * time.Minute,
			LoginTime:         now,
		},
		Transaction: &TransactionSignal{Amount: decimal.NewFromInt(50000), Currency: "USD", Recipient: "acct-9"},
		Profile:     knownProfile(now),
	}

	res := NewFraudScoringEngine(DefaultRiskEngineConfig()).Detect(sig)
	assert.Equal(t, 1.0, res.Scores.Location)
	assert.Equal(t, 1.0, res.Scores.Device)
	assert.Equal(t, 1.0, res.Scores.Transaction)
	assert.Greater(t, res.Scores.Behavioral, 0.9)
	assert.Equal(t, RecommendBlock, res.Recommendation)
	assert.GreaterOrEqual(t, res.OverallScore, 0.85)
	assert.Equal(t, ComplianceEscalate, res.ComplianceStatus)
	// 新设备与陌生地点降低画像覆盖度
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
	assert.NotEmpty(t, res.Reasons)
}

func TestFraudScoringEngine_BlockScenarioWithoutCoordinates(t *testing.T) {
	now := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	profile := knownProfile(now)
	profile.TypicalLocations = []TypicalLocation{{GeoLocation: GeoLocation{Country: "CN", City: "Shanghai"}, Frequency: 0.9}}
	profile.TypicalLoginHours = []float64{9, 10, 14}
	sig := FraudSignals{
		UserID: "u-1",
		Session: SessionSignal{
			DeviceFingerprint: "dev-new",
			Location:          GeoLocation{Country: "NG", City: "Lagos"},
			SessionDuration:   30 * time.Minute,
			LoginTime:         now,
		},
		Transaction: &TransactionSignal{Amount: decimal.NewFromInt(50000), Currency: "USD"},
		Profile:     profile,
	}

	res := NewFraudScoringEngine(DefaultRiskEngineConfig()).Detect(sig)
	// 只按国家和城市匹配时，陌生国家同样是强信号
	assert.Equal(t, 1.0, res.Scores.Location)
	assert.Equal(t, 1.0, res.Scores.Device)
	assert.Equal(t, 1.0, res.Scores.Transaction)
	assert.Equal(t, RecommendBlock, res.Recommendation)
	assert.GreaterOrEqual(t, res.OverallScore, 0.85)
	assert.Contains(t, res.Reasons, `unfamiliar country "NG"`)
}

func TestFraudScoringEngine_FamiliarSession(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	sig := FraudSignals{
		UserID: "u-1",
		Session: SessionSignal{
			DeviceFingerprint: "dev-1",
			Location:          shanghai,
			SessionDuration:   30 * time.Minute,
			LoginTime:         now,
		},
		Transaction: &TransactionSignal{Amount: decimal.NewFromInt(900)},
		Profile:     knownProfile(now),
	}
	res := NewFraudScoringEngine(DefaultRiskEngineConfig()).Detect(sig)
	assert.Equal(t, CategoryScores{}, res.Scores)
	assert.Equal(t, RecommendAllow, res.Recommendation)
	assert.Equal(t, ComplianceClear, res.ComplianceStatus)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Empty(t, res.Reasons)
}

func TestFraudScoringEngine_MissingProfileIsNotSafe(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	sig := FraudSignals{
		UserID:  "u-2",
		Session: SessionSignal{DeviceFingerprint: "dev-x", Location: shanghai, LoginTime: now},
	}
	res := NewFraudScoringEngine(DefaultRiskEngineConfig()).Detect(sig)
	assert.Equal(t, 0.5, res.Scores.Location)
	assert.Equal(t, 0.5, res.Scores.Device)
	assert.Equal(t, 0.5, res.Scores.Behavioral)
	assert.Equal(t, 0.5, res.Scores.Temporal)
	// 缺失画像按中性偏高计分，而非 0
	assert.InDelta(t, 0.375, res.OverallScore, 1e-9)
	assert.InDelta(t, 0.2, res.Confidence, 1e-9)
}

func TestFraudScoringEngine_NearbyCityAndUntrustedDevice(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	profile := knownProfile(now)
	profile.Devices = append(profile.Devices, DeviceRecord{Fingerprint: "dev-2", LastSeen: now.Add(-45 * 24 * time.Hour)})
	sig := FraudSignals{
		Session: SessionSignal{DeviceFingerprint: "dev-2", Location: beijing, SessionDuration: 30 * time.Minute, LoginTime: now},
		Profile: profile,
	}
	res := NewFraudScoringEngine(DefaultRiskEngineConfig()).Detect(sig)
	// 北京访问占比低于阈值，按与上海的距离 (~1067km) 计分
	assert.InDelta(t, 1067.0/2000, res.Scores.Location, 0.01)
	assert.InDelta(t, 0.65, res.Scores.Device, 1e-9)
}

func TestFraudScoringEngine_Velocity(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	var activity []TradingActivity
	for i := range 10 {
		activity = append(activity, TradingActivity{Symbol: "BTC", Side: SideBuy, Time: now.Add(-time.Duration(i) * time.Minute / 2)})
	}
	// 窗口外的成交不计入
	activity = append(activity, TradingActivity{Symbol: "BTC", Side: SideBuy, Time: now.Add(-time.Hour)})
	sig := FraudSignals{
		Session:        SessionSignal{DeviceFingerprint: "dev-1", Location: shanghai, SessionDuration: 30 * time.Minute, LoginTime: now},
		RecentActivity: activity,
		Profile:        knownProfile(now),
	}
	res := NewFraudScoringEngine(DefaultRiskEngineConfig()).Detect(sig)
	assert.Equal(t, 1.0, res.Scores.Temporal)
}

func TestFraudScoringEngine_CombineMonotonic(t *testing.T) {
	e := NewFraudScoringEngine(DefaultRiskEngineConfig())
	grid := []float64{0, 0.1, 0.3, 0.5, 0.79, 0.8, 0.9, 1}
	bases := []CategoryScores{
		{},
		{Location: 0.8, Device: 0.8, Behavioral: 0.2, Transaction: 0.5, Temporal: 0.1},
		{Location: 0.9, Device: 0.9, Behavioral: 0.9, Transaction: 0.9, Temporal: 0.9},
		{Location: 0.5, Device: 0.5, Behavioral: 0.5, Transaction: 0.5, Temporal: 0.5},
	}
	setters := []func(*CategoryScores, float64){
		func(c *CategoryScores, v float64) { c.Location = v },
		func(c *CategoryScores, v float64) { c.Device = v },
		func(c *CategoryScores, v float64) { c.Behavioral = v },
		func(c *CategoryScores, v float64) { c.Transaction = v },
		func(c *CategoryScores, v float64) { c.Temporal = v },
	}
	for _, base := range bases {
		for ci, set := range setters {
			prev := -1.0
			for _, v := range grid {
				s := base
				set(&s, v)
				got := e.Combine(s)
				assert.GreaterOrEqual(t, got, prev, "category %d value %v base %+v", ci, v, base)
				prev = got
			}
		}
	}
}

func TestFraudScoringEngine_Recommend(t *testing.T) {
	e := NewFraudScoringEngine(DefaultRiskEngineConfig())
	assert.Equal(t, RecommendAllow, e.Recommend(0.29))
	assert.Equal(t, RecommendChallenge, e.Recommend(0.3))
	assert.Equal(t, RecommendReview, e.Recommend(0.6))
	assert.Equal(t, RecommendBlock, e.Recommend(0.85))
}

func TestFraudScoringEngine_HighRiskRecipient(t *testing.T) {
	cfg := DefaultRiskEngineConfig()
	cfg.Fraud.HighRiskCountries = []string{"KP"}
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	sig := FraudSignals{
		Session:     SessionSignal{DeviceFingerprint: "dev-1", Location: shanghai, SessionDuration: 30 * time.Minute, LoginTime: now},
		Transaction: &TransactionSignal{Amount: decimal.NewFromInt(1000), RecipientCountry: "kp"},
		Profile:     knownProfile(now),
	}
	res := NewFraudScoringEngine(cfg).Detect(sig)
	assert.InDelta(t, 0.3, res.Scores.Transaction, 1e-9)
	require.Contains(t, res.Reasons, "high-risk country")
}

func TestDistanceKm(t *testing.T) {
	assert.InDelta(t, 1067, distanceKm(shanghai, beijing), 15)
	assert.Equal(t, 0.0, distanceKm(shanghai, shanghai))
}
