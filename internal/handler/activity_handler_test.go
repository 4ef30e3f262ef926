package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"sublingo/internal/service"
)

func newActivityTestServer(t *testing.T, maxConnAge time.Duration) (*echo.Echo, *service.ActivityService) {
	t.Helper()
	svc := service.NewActivityService(service.ActivityOptions{
		MaxEntries:          100,
		EntryTTL:            time.Hour,
		MaxListenersPerConf: 4,
	}, nil)
	t.Cleanup(svc.Close)

	e := echo.New()
	NewActivityHandler(svc, maxConnAge).RegisterRoutes(e.Group("/api"))
	return e, svc
}

func TestActivityHandlerRecord(t *testing.T) {
	e, svc := newActivityTestServer(t, time.Hour)

	rec := doJSON(e, http.MethodPost, "/api/activity", `{"configHash":"conf","videoId":"tt1:1:2","filename":"Show.mkv"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	latest, ok := svc.Latest("conf")
	require.True(t, ok)
	require.Equal(t, "tt1:1:2", latest.VideoID)
}

func TestActivityHandlerRecordValidation(t *testing.T) {
	e, _ := newActivityTestServer(t, time.Hour)

	rec := doJSON(e, http.MethodPost, "/api/activity", `{"videoId":"tt1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActivityHandlerEventsReplaysLatest(t *testing.T) {
	// A short connection age lets the stream end so the recorder can be
	// inspected.
	e, _ := newActivityTestServer(t, 50*time.Millisecond)

	rec := doJSON(e, http.MethodPost, "/api/activity", `{"configHash":"conf","videoId":"tt1","filename":"a.mkv"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	stream := doJSON(e, http.MethodGet, "/api/activity/conf/events", "")
	require.Equal(t, http.StatusOK, stream.Code)
	require.Equal(t, "text/event-stream", stream.Header().Get(echo.HeaderContentType))
	require.Equal(t, "no", stream.Header().Get("X-Accel-Buffering"))

	body := stream.Body.String()
	require.Contains(t, body, "retry: 5000")
	require.Contains(t, body, "event: ready")
	require.Contains(t, body, "event: episode")
	require.Contains(t, body, `"videoId":"tt1"`)
}

func TestActivityHandlerEventsSubscriberLimit(t *testing.T) {
	e, svc := newActivityTestServer(t, 50*time.Millisecond)

	subs := make([]*service.ActivitySubscription, 0, 4)
	for i := 0; i < 4; i++ {
		sub, err := svc.Subscribe("conf")
		require.NoError(t, err)
		subs = append(subs, sub)
	}
	defer func() {
		for _, sub := range subs {
			sub.Cancel()
		}
	}()

	stream := doJSON(e, http.MethodGet, "/api/activity/conf/events", "")
	body := stream.Body.String()
	require.Contains(t, body, "retry: 30000")
	require.Contains(t, body, "event: error")
	require.NotContains(t, body, "event: ready")
}
