package downloads

import "github.com/labstack/echo/v4"

type Handler interface {
	CreateDownload() echo.HandlerFunc
	ListDownloads() echo.HandlerFunc
	DeleteDownload() echo.HandlerFunc
	Feed() echo.HandlerFunc
	Stream() echo.HandlerFunc
}
