package http

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/riskengine/internal/risk/application"
	"github.com/wyfcoding/riskengine/internal/risk/domain"
	"github.com/wyfcoding/riskengine/internal/risk/infrastructure/persistence/mysql"
	"github.com/wyfcoding/riskengine/pkg/config"
	"github.com/wyfcoding/riskengine/pkg/db"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func sequence(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := db.Open(config.DatabaseConfig{Driver: "sqlite", DSN: dsn, MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })
	require.NoError(t, mysql.AutoMigrate(gdb))

	cfg := domain.DefaultRiskEngineConfig()
	clock := func() time.Time { return t0 }
	limits := mysql.NewRiskLimitRepository(gdb)
	alertRepo := mysql.NewRiskAlertRepository(gdb)
	alerts := application.NewAlertCoordinator(alertRepo, nil, cfg.Alert,
		application.WithClock(clock), application.WithIDGenerator(sequence("A")))
	svc, err := application.NewRiskService(cfg, limits, alerts, nil, nil,
		application.WithServiceClock(clock), application.WithLimitIDGenerator(sequence("L")))
	require.NoError(t, err)
	query := application.NewRiskQueryService(alertRepo, limits, nil)

	r := gin.New()
	NewRiskHandler(svc, query, application.NewPortfolioSweep(svc, 2, time.Second, nil)).RegisterRoutes(&r.RouterGroup)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const limitBody = `{"name":"pf-1 VaR","scope":"PORTFOLIO","scope_ref":"pf-1","type":"VAR_LIMIT","limit_value":"1000","warning_threshold":"800"}`

func TestRiskHandler_LimitLifecycle(t *testing.T) {
	r := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/v1/risk/limits", limitBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"id":"L-1"`)

	w = do(r, http.MethodGet, "/api/v1/risk/limits/L-1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ACTIVE"`)

	w = do(r, http.MethodGet, "/api/v1/risk/limits?scope_ref=pf-1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"L-1"`)

	w = do(r, http.MethodPost, "/api/v1/risk/portfolios/pf-1/limits/evaluate",
		`{"values":[{"scope":"PORTFOLIO","scope_ref":"pf-1","type":"VAR_LIMIT","value":"1200"}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"BREACHED"`)
	assert.Contains(t, w.Body.String(), `"id":"A-1"`)

	w = do(r, http.MethodPost, "/api/v1/risk/limits/L-1/suspend", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodPost, "/api/v1/risk/limits/L-1/suspend", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	w = do(r, http.MethodPost, "/api/v1/risk/limits/L-1/resume", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRiskHandler_LimitErrors(t *testing.T) {
	r := newTestRouter(t)

	w := do(r, http.MethodGet, "/api/v1/risk/limits/L-404", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/api/v1/risk/limits", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 预警阈值高于限额
	w = do(r, http.MethodPost, "/api/v1/risk/limits",
		`{"name":"bad","scope":"PORTFOLIO","scope_ref":"pf-1","type":"VAR_LIMIT","limit_value":"1000","warning_threshold":"1500"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/v1/risk/portfolios/pf-1/limits/evaluate", `{"values":[{"scope":"PORTFOLIO"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRiskHandler_AlertTransitions(t *testing.T) {
	r := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/v1/risk/alerts",
		`{"type":"COMPLIANCE","severity":"HIGH","title":"disclosure","description":"weight above 5%","user_id":"u-1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"id":"A-1"`)

	w = do(r, http.MethodPost, "/api/v1/risk/alerts/A-1/acknowledge", `{"by":"alice","comment":"on it"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ACKNOWLEDGED"`)

	w = do(r, http.MethodPost, "/api/v1/risk/alerts/A-1/resolve", `{"by":"alice","comment":"reduced","actions":["trimmed position"]}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"RESOLVED"`)

	w = do(r, http.MethodPost, "/api/v1/risk/alerts/A-1/dismiss", `{"by":"alice","comment":"false positive"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodPost, "/api/v1/risk/alerts/A-1/acknowledge", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/v1/risk/alerts/A-404/acknowledge", `{"by":"alice"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/api/v1/risk/alerts?user_id=u-1&status=RESOLVED", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"A-1"`)

	w = do(r, http.MethodGet, "/api/v1/risk/alerts?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/v1/risk/alerts/sweep", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRiskHandler_PortfolioEndpoints(t *testing.T) {
	r := newTestRouter(t)

	w := do(r, http.MethodGet, "/api/v1/risk/portfolios/pf-1/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(r, http.MethodGet, "/api/v1/risk/portfolios/pf-1/report", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/api/v1/risk/portfolios/metrics",
		`{"portfolio_id":"pf-1","total_value":"1000","historical_returns":[0.01],"benchmark_returns":[]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(r, http.MethodPost, "/api/v1/risk/portfolios/metrics", `{"portfolio_id":"pf-1","total_value":"0"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/v1/risk/portfolios/stress",
		`{"snapshot":{"portfolio_id":"pf-1","total_value":"1000"},"scenario_ids":["NO_SUCH_SCENARIO"]}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/api/v1/risk/stress/scenarios", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, "/api/v1/risk/portfolios/sweep",
		`{"snapshots":[{"portfolio_id":"pf-1","total_value":"0"}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"failed":1`)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusOf(domain.NotFound("risk_alert", "A-1")))
	assert.Equal(t, http.StatusConflict, statusOf(fmt.Errorf("wrapped: %w", domain.ErrInvalidTransition)))
	assert.Equal(t, http.StatusBadRequest, statusOf(domain.ErrConfiguration))
	assert.Equal(t, http.StatusUnprocessableEntity, statusOf(domain.ErrInsufficientData))
	assert.Equal(t, http.StatusInternalServerError, statusOf(fmt.Errorf("db down")))
}
