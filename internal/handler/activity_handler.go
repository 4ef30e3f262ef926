package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"sublingo/internal/model"
	"sublingo/internal/service"
)

const (
	activityRetryMillis = 5000
	// Reconnect delay suggested to a listener turned away at the cap.
	activityRejectRetryMillis = 30000
)

type ActivityHandler struct {
	activity   *service.ActivityService
	maxConnAge time.Duration
}

type recordedResponse struct {
	Recorded bool `json:"recorded"`
}

func NewActivityHandler(activity *service.ActivityService, maxConnAge time.Duration) *ActivityHandler {
	return &ActivityHandler{activity: activity, maxConnAge: maxConnAge}
}

func (h *ActivityHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/activity", h.Record)
	g.GET("/activity/:configHash/events", h.Events)
}

// Record ingests a stream activity report.
func (h *ActivityHandler) Record(c echo.Context) error {
	var req model.ActivityRecord
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request"})
	}

	if err := h.activity.Record(c.Request().Context(), req); err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, recordedResponse{Recorded: true})
}

// Events streams activity for a configuration over SSE: a ready event,
// a replay of the latest episode when one exists, then live episode and
// ping events until the client disconnects or the connection ages out.
func (h *ActivityHandler) Events(c echo.Context) error {
	configHash := c.Param("configHash")

	sub, err := h.activity.Subscribe(configHash)
	if errors.Is(err, service.ErrSubscriberLimit) {
		// Turn the listener away over the stream itself so EventSource
		// clients back off instead of hammering the cap.
		if err := sseStart(c, activityRejectRetryMillis); err != nil {
			return err
		}
		return sseEvent(c, "error", errorResponse{Error: "too many listeners for this configuration"})
	}
	if err != nil {
		return writeServiceError(c, err)
	}
	defer sub.Cancel()

	if err := sseStart(c, activityRetryMillis); err != nil {
		return err
	}
	if err := sseEvent(c, "ready", map[string]any{"configHash": configHash}); err != nil {
		return err
	}
	if latest, ok := h.activity.Latest(configHash); ok {
		if err := sseEvent(c, "episode", latest); err != nil {
			return err
		}
	}

	ctx := c.Request().Context()
	ageOut := time.NewTimer(h.maxConnAge)
	defer ageOut.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ageOut.C:
			return nil
		case ev, ok := <-sub.Events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case service.ActivityEventEpisode:
				if err := sseEvent(c, "episode", ev.Entry); err != nil {
					return nil
				}
			case service.ActivityEventPing:
				if err := sseEvent(c, "ping", map[string]any{"ts": time.Now().UnixMilli()}); err != nil {
					return nil
				}
			}
		}
	}
}
