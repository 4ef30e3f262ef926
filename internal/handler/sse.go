package handler

import (
	"encoding/json"
	"fmt"

	"github.com/labstack/echo/v4"
)

// sseStart sets the event-stream headers and announces the client's
// reconnect delay. Proxy buffering is disabled so events leave
// immediately.
func sseStart(c echo.Context, retryMillis int) error {
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(200)

	if _, err := fmt.Fprintf(c.Response(), "retry: %d\n\n", retryMillis); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}

// sseEvent writes one named event with a JSON payload and flushes.
func sseEvent(c echo.Context, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}
