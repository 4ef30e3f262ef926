package handler

import (
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"sublingo/internal/model"
	"sublingo/internal/service"
)

var tokenRe = regexp.MustCompile(`^[a-f0-9]{32}$`)

type SessionHandler struct {
	sessions *service.SessionService
}

type createSessionRequest struct {
	Config map[string]any `json:"config"`
}

type sessionResponse struct {
	Token          string         `json:"token"`
	Config         map[string]any `json:"config"`
	CreatedAt      int64          `json:"createdAt"`
	LastAccessedAt int64          `json:"lastAccessedAt"`
}

type deletedResponse struct {
	Deleted bool `json:"deleted"`
}

func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/session", h.Create)
	g.GET("/session/:token", h.Get)
	g.PUT("/session/:token", h.Update)
	g.DELETE("/session/:token", h.Delete)
}

// Create allocates a new session, optionally seeded with a config blob.
func (h *SessionHandler) Create(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request"})
	}

	session, err := h.sessions.Create(req.Config)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, toSessionResponse(session))
}

// Get returns the session and refreshes its TTL.
func (h *SessionHandler) Get(c echo.Context) error {
	token, ok := bindToken(c)
	if !ok {
		return Error(c, http.StatusBadRequest, "invalid session token")
	}

	session, err := h.sessions.Get(token)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toSessionResponse(session))
}

// Update replaces the session's config blob.
func (h *SessionHandler) Update(c echo.Context) error {
	token, ok := bindToken(c)
	if !ok {
		return Error(c, http.StatusBadRequest, "invalid session token")
	}

	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request"})
	}

	session, err := h.sessions.Update(token, req.Config)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toSessionResponse(session))
}

// Delete removes the session. Unknown tokens delete cleanly.
func (h *SessionHandler) Delete(c echo.Context) error {
	token, ok := bindToken(c)
	if !ok {
		return Error(c, http.StatusBadRequest, "invalid session token")
	}

	h.sessions.Delete(token)
	return c.JSON(http.StatusOK, deletedResponse{Deleted: true})
}

func bindToken(c echo.Context) (string, bool) {
	token := c.Param("token")
	if !tokenRe.MatchString(token) {
		return "", false
	}
	return token, true
}

func toSessionResponse(s *model.Session) sessionResponse {
	return sessionResponse{
		Token:          s.Token,
		Config:         s.Config,
		CreatedAt:      s.CreatedAt,
		LastAccessedAt: s.LastAccessedAt,
	}
}
