package router

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"julianmorley.ca/con-plar/boxcart/pkg/global"
)

const (
	ctxToken   = "token"
	ctxSubject = "subject"
)

// BearerAuthMiddleware accepts an HS256 token signed with secret and stores
// the raw token and its subject on the context.
func BearerAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, global.ErrorResponse("Authorization header required", []global.ValidationError{
				{Field: "Authorization", Message: "Bearer token is required", Code: "required"},
			}))
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" || tokenParts[1] == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, global.ErrorResponse("Invalid authorization header format", nil))
			return
		}

		claims, err := ValidateToken(tokenParts[1], secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, global.ErrorResponse("Invalid or expired token", []global.ValidationError{
				{Field: "Authorization", Message: err.Error(), Code: "invalid_token"},
			}))
			return
		}

		subject, _ := claims.GetSubject()
		c.Set(ctxToken, tokenParts[1])
		c.Set(ctxSubject, subject)
		c.Next()
	}
}

func ValidateToken(raw, secret string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	return claims, nil
}

func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"module":  "router",
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("request failed")
			return
		}
		entry.Info("request handled")
	}
}
