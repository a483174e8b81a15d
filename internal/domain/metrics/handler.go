package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	gorillawebsocket "github.com/gorilla/websocket"

	"github.com/psiquecare/psiquecare/internal/domain/records"
	"github.com/psiquecare/psiquecare/internal/domain/risk"
	"github.com/psiquecare/psiquecare/internal/platform/websocket"
)

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// centerStream holds the shared multiplexer subscription feeding every
// WebSocket client of one center.
type centerStream struct {
	cancel func()
	refs   int
}

// Handler exposes the metrics pull endpoint, the scoring endpoint and the
// WebSocket push stream.
type Handler struct {
	svc    *Service
	mux    *Mux
	hub    *websocket.Hub
	logger zerolog.Logger

	streamMu sync.Mutex
	streams  map[string]*centerStream
}

func NewHandler(svc *Service, mux *Mux, hub *websocket.Hub, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:     svc,
		mux:     mux,
		hub:     hub,
		logger:  logger.With().Str("component", "metrics_handler").Logger(),
		streams: make(map[string]*centerStream),
	}
}

// RegisterRoutes registers the metrics endpoints on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/centers/:centerID/metrics", h.GetMetrics)
	api.GET("/centers/:centerID/metrics/stream", h.StreamMetrics)
	api.DELETE("/centers/:centerID/metrics/cache", h.ClearCache)
	api.POST("/risk/score", h.ScoreRisk)
}

// GetMetrics serves the aggregated snapshot, cache-first unless refresh=true.
func (h *Handler) GetMetrics(c echo.Context) error {
	centerID := c.Param("centerID")
	useCache := c.QueryParam("refresh") != "true"

	m, err := h.svc.GetMetrics(c.Request().Context(), centerID, useCache)
	if err != nil {
		if errors.Is(err, ErrAggregation) {
			return echo.NewHTTPError(http.StatusBadGateway, "metrics aggregation failed")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, m)
}

// ClearCache evicts the cached snapshot for one center. Consumers call it
// after out-of-band writes.
func (h *Handler) ClearCache(c echo.Context) error {
	h.svc.Cache().Clear(c.Param("centerID"))
	return c.NoContent(http.StatusNoContent)
}

// ScoreRisk runs the pure risk scoring function over a patient payload.
func (h *Handler) ScoreRisk(c echo.Context) error {
	var p records.Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, risk.Score(&p))
}

// StreamMetrics upgrades to WebSocket and pushes a snapshot on every
// upstream change. All clients of a center share one multiplexer
// subscription; it is opened with the first client and torn down with the
// last.
func (h *Handler) StreamMetrics(c echo.Context) error {
	centerID := c.Param("centerID")
	topic := "metrics:" + centerID

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := websocket.NewClient(topic, conn)
	h.hub.Register(client)

	if err := h.retain(centerID, topic); err != nil {
		h.hub.Unregister(client)
		conn.Close()
		h.logger.Error().Err(err).Str("center_id", centerID).Msg("open metrics stream failed")
		return nil
	}

	// Late joiners get the current snapshot without waiting for the next
	// upstream change.
	if m, ok := h.svc.Cache().Get(centerID); ok {
		if data, err := json.Marshal(m); err == nil {
			h.hub.Deliver(client, data)
		}
	}

	go client.WritePump()
	client.ReadPump()

	h.hub.Unregister(client)
	h.release(centerID)
	return nil
}

func (h *Handler) retain(centerID, topic string) error {
	h.streamMu.Lock()
	defer h.streamMu.Unlock()

	if s, ok := h.streams[centerID]; ok {
		s.refs++
		return nil
	}

	// The subscription must outlive the request that opened it; it is torn
	// down when the last client for the center disconnects.
	cancel, err := h.mux.Subscribe(context.Background(), centerID, func(m *ClinicalMetrics) {
		data, err := json.Marshal(m)
		if err != nil {
			h.logger.Error().Err(err).Msg("marshal metrics snapshot")
			return
		}
		h.hub.Broadcast(topic, data)
	})
	if err != nil {
		return err
	}
	h.streams[centerID] = &centerStream{cancel: cancel, refs: 1}
	return nil
}

func (h *Handler) release(centerID string) {
	h.streamMu.Lock()
	defer h.streamMu.Unlock()

	s, ok := h.streams[centerID]
	if !ok {
		return
	}
	s.refs--
	if s.refs <= 0 {
		s.cancel()
		delete(h.streams, centerID)
	}
}
