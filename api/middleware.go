package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"

	"github.com/Domenick1991/skycheckout/internal/domain"
	"github.com/Domenick1991/skycheckout/pkg/logger"
)

const userIDKey = "user_id"

// JWTAuth checks HS256 bearer tokens and stores the user_id claim in the gin
// context. With required unset a request without a token passes as anonymous;
// a token that is present must still be valid.
func JWTAuth(secret string, required bool, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || secret == "" {
			if required {
				unauthorized(c, log, "Authorization header is required")
				return
			}
			c.Next()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			unauthorized(c, log, "authorization header format must be Bearer {token}")
			return
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			unauthorized(c, log, "invalid or expired token")
			return
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if id, ok := claims[userIDKey]; ok && id != nil {
				c.Set(userIDKey, fmt.Sprint(id))
			}
		}
		c.Next()
	}
}

func unauthorized(c *gin.Context, log *logger.Logger, reason string) {
	log.LogAuthFailure(c.Request.Context(), reason, c.ClientIP())
	c.AbortWithStatusJSON(http.StatusUnauthorized, domain.ErrorBody{Error: reason})
}

// RequestLogger logs every finished request, tagged with X-Request-ID when
// the caller sends one.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		reqLog := log
		if id := c.GetHeader("X-Request-ID"); id != "" {
			reqLog = log.WithRequestID(id)
		}
		reqLog.LogHTTPRequest(c, time.Since(start))
	}
}

// userID is empty for anonymous callers.
func userID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
