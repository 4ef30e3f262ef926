package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"sublingo/internal/cache"
	"sublingo/internal/logger"
	"sublingo/internal/model"
	"sublingo/internal/service"
	"sublingo/internal/service/ai"
	"sublingo/internal/subtitle"
)

const translateRetryMillis = 5000

type TranslateHandler struct {
	sessions *service.SessionService
	cache    *cache.TranslationCache
	limiter  *ai.RateLimiter
	defaults service.Options

	// newProvider is swappable in tests.
	newProvider func(ctx context.Context, cfg ai.Config) (ai.Provider, error)
}

type translateRequest struct {
	Subtitle       string `json:"subtitle"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
}

type translateDone struct {
	Subtitle string `json:"subtitle"`
	Entries  int    `json:"entries"`
}

func NewTranslateHandler(sessions *service.SessionService, translationCache *cache.TranslationCache, limiter *ai.RateLimiter, defaults service.Options) *TranslateHandler {
	return &TranslateHandler{
		sessions:    sessions,
		cache:       translationCache,
		limiter:     limiter,
		defaults:    defaults,
		newProvider: ai.NewProvider,
	}
}

func (h *TranslateHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/translate/:token", h.Translate)
}

// Translate runs a translation for the session's configuration, streaming
// progress over SSE and finishing with a done or error event.
func (h *TranslateHandler) Translate(c echo.Context) error {
	token, ok := bindToken(c)
	if !ok {
		return Error(c, http.StatusBadRequest, "invalid session token")
	}

	session, err := h.sessions.Get(token)
	if err != nil {
		return writeServiceError(c, err)
	}

	var req translateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request"})
	}
	if req.Subtitle == "" {
		return Error(c, http.StatusBadRequest, "subtitle is required")
	}

	doc, err := subtitle.Parse([]byte(req.Subtitle))
	if err != nil {
		return Error(c, http.StatusBadRequest, "subtitle is not parseable")
	}
	if len(doc) == 0 {
		return Error(c, http.StatusBadRequest, "subtitle has no entries")
	}

	opts := service.OptionsFromConfig(session.Config, h.defaults)
	if req.TargetLanguage != "" {
		opts.TargetLanguage = req.TargetLanguage
	}
	if opts.TargetLanguage == "" {
		return Error(c, http.StatusBadRequest, "target language is required")
	}

	ctx := c.Request().Context()

	primaryCfg, fallbackCfg := service.ProviderConfigFromSession(session.Config)
	if primaryCfg.Model == "" {
		primaryCfg.Model = opts.Model
	}
	primary, err := h.newProvider(ctx, primaryCfg)
	if err != nil {
		return Error(c, http.StatusBadRequest, "provider configuration invalid: "+err.Error())
	}

	var fallback ai.Provider
	if fallbackCfg != nil {
		fallback, err = h.newProvider(ctx, *fallbackCfg)
		if err != nil {
			logger.Warn("fallback provider unavailable", "module", "handler", "action", "translate", "resource", "ai", "result", "failed", "error", err)
			fallback = nil
		}
	}

	engine := service.NewTranslatorService(primary, fallback, h.cache, h.limiter, opts)

	if err := sseStart(c, translateRetryMillis); err != nil {
		return err
	}

	onProgress := func(ev model.ProgressEvent) error {
		return sseEvent(c, "progress", ev)
	}

	result, err := engine.Translate(ctx, doc, onProgress)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		logger.Error("translation failed", "module", "handler", "action", "translate", "resource", "subtitle", "result", "failed", "error", err)
		return sseEvent(c, "error", errorResponse{Error: err.Error()})
	}

	return sseEvent(c, "done", translateDone{Subtitle: result, Entries: len(doc)})
}
