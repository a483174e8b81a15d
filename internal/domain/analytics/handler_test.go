package analytics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/psiquecare/psiquecare/internal/domain/records"
)

func newTestHandler() (*Handler, *echo.Echo) {
	pid := uuid.New()
	svc := NewService(
		&mockPatientRepo{patients: []*records.Patient{
			{ID: pid, FirstName: "Ana", LastName: "García", Status: records.PatientActive},
		}},
		&mockSessionRepo{sessions: []*records.Session{
			session(pid, records.SessionCompleted, time.Now().AddDate(0, 0, -1), records.ToneAnsioso, records.TonePositivo, 80),
		}},
		&mockAssessmentRepo{},
		zerolog.Nop(),
	)
	return NewHandler(svc), echo.New()
}

func analyticsContext(e *echo.Echo, url, therapistID string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("centerID", "therapistID")
	c.SetParamValues("center-1", therapistID)
	return c, rec
}

func TestHandler_GetAnalytics(t *testing.T) {
	h, e := newTestHandler()
	c, rec := analyticsContext(e, "/", uuid.New().String())

	if err := h.GetAnalytics(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var res Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if res.TotalSessions != 1 || res.ActivePatients != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestHandler_GetAnalytics_BadTherapistID(t *testing.T) {
	h, e := newTestHandler()
	c, _ := analyticsContext(e, "/", "not-a-uuid")

	err := h.GetAnalytics(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_GetAnalytics_BadDate(t *testing.T) {
	h, e := newTestHandler()
	c, _ := analyticsContext(e, "/?from=yesterday", uuid.New().String())

	err := h.GetAnalytics(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_ExportAnalytics_CSV(t *testing.T) {
	h, e := newTestHandler()
	c, rec := analyticsContext(e, "/?format=csv", uuid.New().String())

	if err := h.ExportAnalytics(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("expected attachment disposition, got %q", cd)
	}
	if !strings.HasPrefix(rec.Body.String(), "Métrica,Valor,Descripción") {
		t.Errorf("csv header missing: %q", rec.Body.String()[:40])
	}
}

func TestHandler_ExportAnalytics_DefaultJSON(t *testing.T) {
	h, e := newTestHandler()
	c, rec := analyticsContext(e, "/", uuid.New().String())

	if err := h.ExportAnalytics(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("default export must be json: %v", err)
	}
}

func TestParseDate(t *testing.T) {
	if _, err := parseDate("2026-03-15"); err != nil {
		t.Errorf("plain date must parse: %v", err)
	}
	if _, err := parseDate("2026-03-15T10:00:00Z"); err != nil {
		t.Errorf("rfc3339 must parse: %v", err)
	}
	if _, err := parseDate("15/03/2026"); err == nil {
		t.Error("expected error for unsupported layout")
	}
}
