package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"sublingo/internal/cache"
	"sublingo/internal/service"
	"sublingo/internal/service/ai"
	"sublingo/internal/service/ai/mock"
)

const testSubtitle = "1\n00:00:01,000 --> 00:00:02,000\nhello\n\n2\n00:00:03,000 --> 00:00:04,000\nworld\n"

func newTranslateTestServer(t *testing.T, provider ai.Provider) (*echo.Echo, string) {
	t.Helper()

	store := service.NewSessionService(filepath.Join(t.TempDir(), "sessions.json"), 10, time.Hour)
	session, err := store.Create(map[string]any{
		"targetLanguage": "French",
		"provider":       "gemini",
		"apiKey":         "test-key",
		"model":          "gemini-2.5-flash",
		"advancedSettings": map[string]any{
			"singleBatchMode": false,
		},
	})
	require.NoError(t, err)

	h := NewTranslateHandler(store, cache.New(100, true), nil, service.Options{NoInterBatchDelay: true})
	h.newProvider = func(_ context.Context, _ ai.Config) (ai.Provider, error) {
		return provider, nil
	}

	e := echo.New()
	h.RegisterRoutes(e.Group("/api"))
	return e, session.Token
}

func numberedEcho(prefix string) func(ctx context.Context, req ai.Request) (string, error) {
	return func(_ context.Context, req ai.Request) (string, error) {
		var b strings.Builder
		n := 0
		for _, line := range strings.Split(req.Text, "\n") {
			if idx := strings.Index(line, ". "); idx > 0 && idx <= 4 {
				n++
				b.WriteString(line[:idx+2] + prefix + line[idx+2:] + "\n\n")
			}
		}
		return b.String(), nil
	}
}

func TestTranslateHandlerStreamsDone(t *testing.T) {
	provider := &mock.Provider{TranslateFunc: numberedEcho("FR ")}
	e, token := newTranslateTestServer(t, provider)

	body, _ := json.Marshal(map[string]string{"subtitle": testSubtitle})
	rec := doJSON(e, http.MethodPost, "/api/translate/"+token, string(body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))

	out := rec.Body.String()
	require.Contains(t, out, "event: progress")
	require.Contains(t, out, "event: done")
	require.Contains(t, out, "FR hello")
	require.Contains(t, out, "FR world")
	require.Equal(t, 1, provider.CallCount())
}

func TestTranslateHandlerUnknownSession(t *testing.T) {
	e, _ := newTranslateTestServer(t, &mock.Provider{})

	body, _ := json.Marshal(map[string]string{"subtitle": testSubtitle})
	rec := doJSON(e, http.MethodPost, "/api/translate/ffffffffffffffffffffffffffffffff", string(body))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTranslateHandlerRequiresSubtitle(t *testing.T) {
	e, token := newTranslateTestServer(t, &mock.Provider{})

	rec := doJSON(e, http.MethodPost, "/api/translate/"+token, `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTranslateHandlerTargetLanguageOverride(t *testing.T) {
	provider := &mock.Provider{TranslateFunc: numberedEcho("")}
	e, token := newTranslateTestServer(t, provider)

	body, _ := json.Marshal(map[string]string{"subtitle": testSubtitle, "targetLanguage": "German"})
	rec := doJSON(e, http.MethodPost, "/api/translate/"+token, string(body))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, "German", provider.Calls()[0].TargetLanguage)
}
