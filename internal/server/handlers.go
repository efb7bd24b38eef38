package server

import (
	"context"
	"net/http"
	"time"

	downloadsHttp "github.com/amankumarsingh77/media-downloader/internal/downloads/delivery/http"
	"github.com/amankumarsingh77/media-downloader/internal/middleware"
	"github.com/amankumarsingh77/media-downloader/pkg/utils"
	"github.com/labstack/echo/v4"
)

func (s *Server) MapHandlers(e *echo.Echo) error {
	downloadsHandlers := downloadsHttp.NewDownloadsHandler(s.cfg, s.components.UseCase, s.logger)
	mw := middleware.NewMiddlewareManager(s.cfg, s.logger)

	v1 := e.Group("/api/v1")
	health := v1.Group("/health")
	downloadsGroup := v1.Group("/downloads")

	downloadsHttp.MapDownloadsRoutes(downloadsGroup, downloadsHandlers, mw)
	health.GET("", func(c echo.Context) error {
		s.logger.Debugf("Health check RequestID: %s", utils.GetRequestID(c))
		status := map[string]string{"status": "OK", "store": s.cfg.Store.Driver}
		if s.db != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
			defer cancel()
			if err := s.db.PingContext(ctx); err != nil {
				s.logger.Errorf("Health check db ping: %v", err)
				status["status"] = "DEGRADED"
				return c.JSON(http.StatusServiceUnavailable, status)
			}
		}
		return c.JSON(http.StatusOK, status)
	})
	return nil
}
