package http

import (
	"github.com/amankumarsingh77/media-downloader/internal/downloads"
	"github.com/amankumarsingh77/media-downloader/internal/middleware"
	"github.com/labstack/echo/v4"
)

func MapDownloadsRoutes(downloadsGroup *echo.Group, h downloads.Handler, mw *middleware.MiddlewareManager) {
	downloadsGroup.Use(mw.AuthJWTMiddleware)
	downloadsGroup.POST("", h.CreateDownload())
	downloadsGroup.GET("", h.ListDownloads())
	downloadsGroup.GET("/feed", h.Feed())
	downloadsGroup.GET("/stream", h.Stream())
	downloadsGroup.DELETE("/:download_id", h.DeleteDownload())
}
