// Package api exposes the HTTP surface: courier offer actions, presence
// registration, the websocket upgrade, dispatch stats and health/metrics.
package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/vinhphannn/eatnow-dispatch/core/model"
)

// AuthConfig holds token verification parameters.
type AuthConfig struct {
	// Secret signs and verifies the HMAC tokens issued by the account
	// service.
	Secret string `json:"secret"`
}

// Principal is the authenticated caller extracted from a token.
type Principal struct {
	UserID string
	Role   model.Role
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

const principalKey = "principal"

var errNoToken = errors.New("missing bearer token")

// parseToken verifies the token and extracts the principal.
func parseToken(secret, token string) (Principal, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || c.Subject == "" {
		return Principal{}, errors.New("token missing subject")
	}
	role, err := model.ParseRole(c.Role)
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: c.Subject, Role: role}, nil
}

// authMiddleware authenticates every request. Websocket clients may pass the
// token as a query parameter since browsers cannot set headers on upgrades.
func authMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c)
			if token == "" {
				return echo.NewHTTPError(401, errNoToken.Error())
			}
			p, err := parseToken(secret, token)
			if err != nil {
				return echo.NewHTTPError(401, "invalid token")
			}
			c.Set(principalKey, p)
			return next(c)
		}
	}
}

func bearerToken(c echo.Context) string {
	if auth := c.Request().Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.QueryParam("token")
}

// requireRole rejects principals whose role is not in the allowed set.
func requireRole(roles ...model.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := c.Get(principalKey).(Principal)
			if !ok {
				return echo.NewHTTPError(401, "not authenticated")
			}
			for _, r := range roles {
				if p.Role == r {
					return next(c)
				}
			}
			return echo.NewHTTPError(403, fmt.Sprintf("role %s may not call this", p.Role))
		}
	}
}

func principal(c echo.Context) Principal {
	p, _ := c.Get(principalKey).(Principal)
	return p
}
