package httpErrors

import (
	"net/http"

	"github.com/amankumarsingh77/media-downloader/internal/models"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeNotFound        = "NOT_FOUND"
	CodeServiceError    = "SERVICE_ERROR"
)

// ParseError maps a domain error to its HTTP status, code and client message.
// Unknown errors never leak their text.
func ParseError(err error) (int, string, string) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, CodeValidationError, verr.Msg
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, CodeValidationError, "invalid request"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, CodeNotFound, "download not found"
	default:
		return http.StatusInternalServerError, CodeServiceError, "internal server error"
	}
}

func ErrorResponse(c echo.Context, err error) error {
	status, code, msg := ParseError(err)
	return c.JSON(status, map[string]string{"error": msg, "code": code})
}

func Unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized", "code": CodeUnauthorized})
}

func BadRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg, "code": CodeValidationError})
}
