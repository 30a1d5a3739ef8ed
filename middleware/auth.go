package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/arcanabattle/cache"
	"github.com/kasuganosora/arcanabattle/config"
)

const (
	OwnerKey  = "owner"
	claimsKey = "claims"
)

func revokedKey(tokenID string) string { return "session:revoked:" + tokenID }

// Auth validates the Bearer JWT and rejects revoked tokens. WebSocket and
// EventSource clients cannot set headers, so a ?token= query parameter is
// accepted as well.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenStr := bearerToken(ctx)
		if tokenStr == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		revoked, err := c.Exists(cacheCtx, revokedKey(claims.ID))
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session check failed"})
			return
		}
		if revoked {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session revoked"})
			return
		}

		ctx.Set(OwnerKey, claims.Owner)
		ctx.Set(claimsKey, claims)
		ctx.Next()
	}
}

func bearerToken(ctx *gin.Context) string {
	if header := ctx.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ctx.Query("token")
}

// Revoke blocks a token until it would have expired anyway.
func Revoke(ctx context.Context, c cache.Cache, claims *Claims) error {
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	if ttl <= 0 {
		return nil
	}
	return c.Set(ctx, revokedKey(claims.ID), "1", ttl)
}

// GetOwner retrieves the authenticated owner from the Gin context.
func GetOwner(c *gin.Context) string {
	if v, exists := c.Get(OwnerKey); exists {
		return v.(string)
	}
	return ""
}

// GetClaims returns the validated token claims, or nil outside Auth.
func GetClaims(c *gin.Context) *Claims {
	if v, exists := c.Get(claimsKey); exists {
		return v.(*Claims)
	}
	return nil
}
