package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"fitlink/internal/infrastructure/firebase"
)

type AuthMiddleware struct {
	authClient *firebase.FirebaseAuthClient
}

func NewAuthMiddleware(authClient *firebase.FirebaseAuthClient) *AuthMiddleware {
	return &AuthMiddleware{
		authClient: authClient,
	}
}

// Authenticate verifies the Bearer token and stores the caller's uid on the
// echo context.
func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header is required")
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization format")
		}

		uid, err := m.authClient.VerifyToken(c.Request().Context(), parts[1])
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
		}

		c.Set("uid", uid)

		return next(c)
	}
}

// GetUIDFromToken verifies a raw token outside the middleware chain. Used by
// the WebSocket handshake, where the token arrives as a query parameter.
func (m *AuthMiddleware) GetUIDFromToken(ctx context.Context, token string) (string, error) {
	return m.authClient.VerifyToken(ctx, token)
}
