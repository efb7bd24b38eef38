package utils

import (
	"context"
	"errors"

	"github.com/labstack/echo/v4"
)

type OwnerCtxKey struct{}

var ErrNoOwner = errors.New("owner not found in context")

func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, OwnerCtxKey{}, owner)
}

func GetOwnerFromCtx(ctx context.Context) (string, error) {
	owner, ok := ctx.Value(OwnerCtxKey{}).(string)
	if !ok || owner == "" {
		return "", ErrNoOwner
	}
	return owner, nil
}

func GetRequestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}

func GetIPAddress(c echo.Context) string {
	return c.Request().RemoteAddr
}
