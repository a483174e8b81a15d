package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/psiquecare/psiquecare/internal/domain/records"
	"github.com/psiquecare/psiquecare/internal/platform/websocket"
)

func newHandlerEnv() (*testEnv, *Handler, *echo.Echo) {
	env := newTestEnv()
	h := NewHandler(env.svc, newTestMux(env), websocket.NewHub(), zerolog.Nop())
	return env, h, echo.New()
}

func TestHandler_GetMetrics(t *testing.T) {
	_, h, e := newHandlerEnv()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("centerID")
	c.SetParamValues("center-1")

	if err := h.GetMetrics(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var m ClinicalMetrics
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if m.CenterID != "center-1" || m.TotalPatients != 2 {
		t.Errorf("unexpected snapshot: %+v", m)
	}
}

func TestHandler_GetMetrics_RefreshBypassesCache(t *testing.T) {
	env, h, e := newHandlerEnv()

	serve := func(url string) {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("centerID")
		c.SetParamValues("center-1")
		if err := h.GetMetrics(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	serve("/")
	serve("/")
	if env.patients.reads != 1 {
		t.Errorf("second call should be cached, reads = %d", env.patients.reads)
	}
	serve("/?refresh=true")
	if env.patients.reads != 2 {
		t.Errorf("refresh=true must recompute, reads = %d", env.patients.reads)
	}
}

func TestHandler_GetMetrics_AggregationError(t *testing.T) {
	env, h, e := newHandlerEnv()
	env.therapists.workloadErr = errAggregationTest

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("centerID")
	c.SetParamValues("center-1")

	err := h.GetMetrics(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %v", err)
	}
}

func TestHandler_ClearCache(t *testing.T) {
	env, h, e := newHandlerEnv()
	env.cache.Set("center-1", &ClinicalMetrics{CenterID: "center-1"})

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("centerID")
	c.SetParamValues("center-1")

	if err := h.ClearCache(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if _, ok := env.cache.Get("center-1"); ok {
		t.Error("expected cache entry evicted")
	}
}

func TestHandler_ScoreRisk(t *testing.T) {
	_, h, e := newHandlerEnv()

	body := `{"phq9_score":22,"gad7_score":12,"total_sessions":5}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ScoreRisk(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var res struct {
		RiskLevel string `json:"risk_level"`
		Score     int    `json:"score"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if res.Score != 45 || res.RiskLevel != records.RiskHigh {
		t.Errorf("unexpected scoring result: %+v", res)
	}
}

func TestHandler_ScoreRisk_BadPayload(t *testing.T) {
	_, h, e := newHandlerEnv()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.ScoreRisk(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}
