package middleware

import (
	"strings"

	"github.com/amankumarsingh77/media-downloader/pkg/httpErrors"
	"github.com/amankumarsingh77/media-downloader/pkg/utils"
	"github.com/labstack/echo/v4"
)

// AuthJWTMiddleware resolves the bearer token to the owner every downloads
// call acts for. Browsers' EventSource cannot set headers, so ?token= is
// accepted as well.
func (mw *MiddlewareManager) AuthJWTMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tokenString := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if tokenString == "" {
			tokenString = c.QueryParam("token")
		}
		if tokenString == "" {
			mw.logger.Debugf("auth middleware: no token, RequestID: %s", utils.GetRequestID(c))
			return httpErrors.Unauthorized(c)
		}

		claims, err := utils.ValidateToken(tokenString, mw.cfg.Server.JwtSecretKey)
		if err != nil {
			mw.logger.Warnf("auth middleware: RequestID: %s, IP: %s, ERROR: %v", utils.GetRequestID(c), utils.GetIPAddress(c), err)
			return httpErrors.Unauthorized(c)
		}

		c.SetRequest(c.Request().WithContext(utils.WithOwner(c.Request().Context(), claims.UserID)))
		return next(c)
	}
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
