package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// AuthorizationHeader is the header key for authorization.
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the prefix for bearer tokens.
	BearerPrefix = "Bearer "
	// UserIDKey is the context key for the authenticated user ID.
	UserIDKey = "user_id"
	// RolesKey is the context key for the authenticated user's roles.
	RolesKey = "user_roles"
)

// Claims are the token claims issued by the identity provider.
type Claims struct {
	UID   string   `json:"uid"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Auth returns a middleware that validates bearer tokens signed with the
// given HMAC secret. On success it sets the user ID and roles in the context.
// If optional is true, the middleware does not abort on missing or invalid tokens.
func Auth(secret string, optional bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			if !optional {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": gin.H{
						"code":    "UNAUTHORIZED",
						"message": "Authorization header required",
					},
				})
				return
			}
			c.Next()
			return
		}

		claims, err := parseToken(token, secret)
		if err != nil {
			if !optional {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": gin.H{
						"code":    "INVALID_TOKEN",
						"message": "Invalid or expired token",
					},
				})
				return
			}
			c.Next()
			return
		}

		c.Set(UserIDKey, claims.UID)
		c.Set(RolesKey, claims.Roles)

		c.Next()
	}
}

// RequireAuth returns a middleware that requires a valid bearer token.
func RequireAuth(secret string) gin.HandlerFunc {
	return Auth(secret, false)
}

// OptionalAuth returns a middleware that optionally validates bearer tokens.
func OptionalAuth(secret string) gin.HandlerFunc {
	return Auth(secret, true)
}

func parseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.UID == "" {
		return nil, fmt.Errorf("token missing uid claim")
	}
	return claims, nil
}

// extractBearerToken extracts the bearer token from the Authorization header.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader(AuthorizationHeader)
	if strings.HasPrefix(authHeader, BearerPrefix) {
		return strings.TrimPrefix(authHeader, BearerPrefix)
	}
	return ""
}

// GetUserID returns the authenticated user ID from context.
// Returns empty string if not authenticated.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// GetRoles returns the authenticated user's roles from context.
func GetRoles(c *gin.Context) []string {
	if val, exists := c.Get(RolesKey); exists {
		if roles, ok := val.([]string); ok {
			return roles
		}
	}
	return nil
}

// HasRole reports whether the authenticated user holds the given role.
func HasRole(c *gin.Context, role string) bool {
	for _, r := range GetRoles(c) {
		if r == role {
			return true
		}
	}
	return false
}
