package analytics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Handler provides the HTTP endpoints for therapist analytics and export.
type Handler struct {
	svc *Service
}

// NewHandler creates a new analytics handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the analytics endpoints on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/centers/:centerID/therapists/:therapistID/analytics", h.GetAnalytics)
	api.GET("/centers/:centerID/therapists/:therapistID/analytics/export", h.ExportAnalytics)
}

func parseFilter(c echo.Context) (Filter, error) {
	var filter Filter
	for _, q := range []struct {
		name string
		dst  **time.Time
	}{
		{"from", &filter.From},
		{"to", &filter.To},
	} {
		raw := c.QueryParam(q.name)
		if raw == "" {
			continue
		}
		t, err := parseDate(raw)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid %s: %w", q.name, err)
		}
		*q.dst = &t
	}
	return filter, nil
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func (h *Handler) compute(c echo.Context) (*Result, error) {
	centerID := c.Param("centerID")
	therapistID, err := uuid.Parse(c.Param("therapistID"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid therapist id")
	}
	filter, err := parseFilter(c)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.TherapistAnalytics(c.Request().Context(), centerID, therapistID, filter)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadGateway, "analytics computation failed")
	}
	return res, nil
}

// GetAnalytics serves the analytics view as JSON.
func (h *Handler) GetAnalytics(c echo.Context) error {
	res, err := h.compute(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// ExportAnalytics serves the analytics view as a downloadable JSON or CSV
// document.
func (h *Handler) ExportAnalytics(c echo.Context) error {
	res, err := h.compute(c)
	if err != nil {
		return err
	}

	format := c.QueryParam("format")
	data, contentType, err := Export(res, format)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ext := FormatJSON
	if format == FormatCSV {
		ext = FormatCSV
	}
	filename := fmt.Sprintf("analytics_%s_%s.%s",
		res.TherapistID, res.GeneratedAt.Format("2006-01-02"), ext)
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename=%q`, filename))
	return c.Blob(http.StatusOK, contentType, data)
}
