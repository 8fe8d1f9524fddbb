package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/wardenfs/warden/pkg/engine"
)

// identityKey is the gin context key holding the authenticated identity.
const identityKey = "warden.identity"

// SessionClaims is the payload of a warden session token. Identity
// resolution stays a narrow collaborator: the token is minted by an
// external session service, this middleware only verifies and unpacks it.
type SessionClaims struct {
	jwt.RegisteredClaims

	// Organizations lists the organisation ids the subject belongs to.
	Organizations []string `json:"orgs"`
}

// Auth verifies the bearer token and stores the resulting identity in the
// request context. Requests without a valid token are rejected before any
// handler runs.
func Auth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
				Error: "authorization header is required",
				Code:  "unauthorized",
			})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
				Error: "authorization header format must be 'Bearer {token}'",
				Code:  "unauthorized",
			})
			return
		}

		claims := &SessionClaims{}
		_, err := jwt.ParseWithClaims(parts[1], claims, func(*jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || claims.Subject == "" {
			// Generic message; token failure detail stays server-side.
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
				Error: "invalid or expired session token",
				Code:  "unauthorized",
			})
			return
		}

		c.Set(identityKey, engine.Identity{
			UserID:        claims.Subject,
			Organizations: claims.Organizations,
			ClientIP:      c.ClientIP(),
		})
		c.Next()
	}
}

// identityFrom returns the identity stored by the Auth middleware.
func identityFrom(c *gin.Context) engine.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(engine.Identity); ok {
			return id
		}
	}
	return engine.Identity{}
}

// MintSessionToken signs a session token for the given user. Exposed for
// tests and local development tooling; production tokens come from the
// session service.
func MintSessionToken(secret []byte, userID string, organizations []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Organizations: organizations,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return token, nil
}

// RequestLogger emits one structured log line per request.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("Request handled")
	}
}
