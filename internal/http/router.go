package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"sublingo/internal/config"
	"sublingo/internal/handler"
)

type healthResponse struct {
	Status  string `json:"status"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

func NewRouter(
	sessionHandler *handler.SessionHandler,
	activityHandler *handler.ActivityHandler,
	translateHandler *handler.TranslateHandler,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	api := e.Group("/api")
	sessionHandler.RegisterRoutes(api)
	activityHandler.RegisterRoutes(api)
	translateHandler.RegisterRoutes(api)

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, healthResponse{
			Status:  "ok",
			Name:    config.AppName,
			Version: config.AppVersion,
		})
	})

	return e
}
