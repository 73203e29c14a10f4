package utils

import (
	"DriveVault/model"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	principalKey = "principal"
	// SessionCookie carries the token for browser clients that cannot set headers.
	SessionCookie = "drivevault_session"
)

// AuthMiddleware verifies the session token and stores the principal.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			Unauthorized(c)
			return
		}
		claims, err := VerifyToken(token)
		if err != nil {
			Unauthorized(c)
			return
		}
		c.Set(principalKey, claims.Principal())
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			return ""
		}
		return tokenParts[1]
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		return cookie
	}
	return ""
}

// CurrentPrincipal returns the principal set by AuthMiddleware.
func CurrentPrincipal(c *gin.Context) (*model.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*model.Principal)
	if !ok || p == nil || p.ID == "" {
		return nil, false
	}
	return p, true
}

// Unauthorized aborts with 401.
func Unauthorized(c *gin.Context) {
	Fail(c, http.StatusUnauthorized, "unauthorized")
}
