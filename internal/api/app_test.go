package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leshsec/lesh/internal/agent"
	"github.com/leshsec/lesh/internal/config"
	"github.com/leshsec/lesh/internal/metrics"
	"github.com/leshsec/lesh/internal/threat"
)

func testApp(t *testing.T, mutate func(*config.Config)) (*App, *agent.Orchestrator) {
	t.Helper()
	cfg := config.Default()
	cfg.Detection.EnabledModules = nil
	cfg.Response.Simulation = true
	if mutate != nil {
		mutate(cfg)
	}
	orch := agent.New(cfg, nil, metrics.New(), nil)
	return NewApp(cfg, orch, metrics.New()), orch
}

func seedThreat(t *testing.T, orch *agent.Orchestrator) threat.Threat {
	t.Helper()
	added := orch.Store().Add([]threat.Threat{{
		Type:      threat.TypeSuspiciousConnection,
		Source:    "network_monitor",
		Severity:  3,
		Timestamp: time.Now().UTC(),
		Details:   map[string]any{threat.DetailRemoteAddress: "203.0.113.5:4444"},
	}})
	require.Len(t, added, 1)
	return added[0]
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	app, orch := testApp(t, nil)
	h := app.Router()

	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "not ready before start")

	orch.Start()
	defer orch.Stop()
	rec = doJSON(t, h, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	app, _ := testApp(t, nil)
	var st agent.Status
	rec := doJSON(t, app.Router(), http.MethodGet, "/api/v1/status", "", &st)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, st.Running)
	assert.True(t, st.SimulationMode)
}

func TestThreatEndpoints(t *testing.T) {
	app, orch := testApp(t, nil)
	h := app.Router()
	seeded := seedThreat(t, orch)

	var all []threat.Threat
	rec := doJSON(t, h, http.MethodGet, "/api/v1/threats", "", &all)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, all, 1)
	assert.Equal(t, seeded.ID, all[0].ID)

	var one threat.Threat
	rec = doJSON(t, h, http.MethodGet, "/api/v1/threats/"+seeded.ID, "", &one)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, seeded.ID, one.ID)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/threats/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Resolve, then confirm the active list empties.
	var resolved threat.Threat
	rec = doJSON(t, h, http.MethodPost, "/api/v1/threats/"+seeded.ID+"/resolve",
		`{"details":"triaged as benign"}`, &resolved)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resolved.Resolved)
	assert.Equal(t, "manual", resolved.ResolutionAction)
	assert.Equal(t, "triaged as benign", resolved.ResolutionDetails)

	var active []threat.Threat
	rec = doJSON(t, h, http.MethodGet, "/api/v1/threats?active=true", "", &active)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, active)

	// Resolving again is idempotent, not an error.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/threats/"+seeded.ID+"/resolve", "", &resolved)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "triaged as benign", resolved.ResolutionDetails, "first resolution wins")

	rec = doJSON(t, h, http.MethodPost, "/api/v1/threats/missing/resolve", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScanEndpoint(t *testing.T) {
	app, _ := testApp(t, nil)
	var resp struct {
		NewThreats int             `json:"new_threats"`
		Threats    []threat.Threat `json:"threats"`
	}
	rec := doJSON(t, app.Router(), http.MethodPost, "/api/v1/scan", "", &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, resp.NewThreats)
	assert.NotNil(t, resp.Threats)
}

func TestAnalyticsSummaryDisabled(t *testing.T) {
	app, _ := testApp(t, nil)
	rec := doJSON(t, app.Router(), http.MethodGet, "/api/v1/analytics/summary", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	app, _ := testApp(t, nil)
	rec := doJSON(t, app.Router(), http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lesh_up 1")
	assert.Contains(t, rec.Body.String(), "lesh_threats_active 0")
}

func TestAPIKeyAuth(t *testing.T) {
	app, _ := testApp(t, func(c *config.Config) {
		c.Auth.Type = "api_key"
		c.Auth.APIKey.Keys = []string{"sekrit"}
	})
	h := app.Router()

	rec := doJSON(t, h, http.MethodGet, "/api/v1/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health and metrics stay reachable without a key.
	rec = doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyAuthNoKeysConfigured(t *testing.T) {
	app, _ := testApp(t, func(c *config.Config) {
		c.Auth.Type = "api_key"
	})
	rec := doJSON(t, app.Router(), http.MethodGet, "/api/v1/status", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
