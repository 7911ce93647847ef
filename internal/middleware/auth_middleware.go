package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"finops-api/internal/models"
)

type AuthMiddleware struct {
	jwtSecret   string
	internalKey string
	skipPaths   map[string]bool
}

func NewAuthMiddleware(jwtSecret, internalKey string) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret:   jwtSecret,
		internalKey: internalKey,
		skipPaths: map[string]bool{
			"/health":  true,
			"/ready":   true,
			"/version": true,
			"/metrics": true,
		},
	}
}

// MemberClaims carries the member identity issued by the KC gateway.
// Tier permissions are resolved here so downstream handlers never look
// at the tier directly.
type MemberClaims struct {
	MemberID    string   `json:"member_id"`
	Tier        string   `json:"tier"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// JWTAuth validates bearer tokens and places the caller identity on the
// context. Explicit token permissions are merged with the tier's
// defaults.
func (a *AuthMiddleware) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.skipPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Authorization header required",
				"message": "Missing Authorization header",
			})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid authorization format",
				"message": "Authorization header must be 'Bearer <token>'",
			})
			c.Abort()
			return
		}

		token, err := jwt.ParseWithClaims(parts[1], &MemberClaims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(a.jwtSecret), nil
		})
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid token",
				"message": err.Error(),
			})
			c.Abort()
			return
		}

		claims, ok := token.Claims.(*MemberClaims)
		if !ok || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid token claims",
				"message": "Token contains invalid claims",
			})
			c.Abort()
			return
		}

		if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Token expired",
				"message": "JWT token has expired",
			})
			c.Abort()
			return
		}

		c.Set("member_id", claims.MemberID)
		c.Set("member_tier", claims.Tier)
		c.Set("permissions", mergePermissions(claims))

		c.Next()
	}
}

// InternalAPIAuth validates service-to-service API keys. Internal
// callers act with full permissions.
func (a *AuthMiddleware) InternalAPIAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "API key required",
				"message": "Missing X-API-Key header",
			})
			c.Abort()
			return
		}

		if apiKey != a.internalKey {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid API key",
				"message": "Invalid or expired API key",
			})
			c.Abort()
			return
		}

		c.Set("is_internal", true)
		c.Set("member_id", "internal:"+c.GetHeader("X-Service-Name"))
		c.Set("permissions", []string{"compliance_override", "instance_admin", "compliance_review"})
		c.Next()
	}
}

// RequirePermission gates a route on a single capability.
func (a *AuthMiddleware) RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isInternal, exists := c.Get("is_internal"); exists && isInternal.(bool) {
			c.Next()
			return
		}

		if permissions, exists := c.Get("permissions"); exists {
			for _, perm := range permissions.([]string) {
				if perm == permission || perm == "compliance_override" {
					c.Next()
					return
				}
			}
		}

		c.JSON(http.StatusForbidden, gin.H{
			"error":   "Permission denied",
			"message": fmt.Sprintf("Required permission: %s", permission),
		})
		c.Abort()
	}
}

// GenerateJWT issues a member token. Used by operational tooling and
// tests; production tokens come from the KC gateway.
func (a *AuthMiddleware) GenerateJWT(memberID, tier string, permissions []string) (string, error) {
	claims := &MemberClaims{
		MemberID:    memberID,
		Tier:        tier,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "finops-api",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.jwtSecret))
}

func mergePermissions(claims *MemberClaims) []string {
	seen := make(map[string]bool, len(claims.Permissions))
	merged := make([]string, 0, len(claims.Permissions))

	for _, perm := range claims.Permissions {
		if !seen[perm] {
			seen[perm] = true
			merged = append(merged, perm)
		}
	}

	for _, perm := range models.TierPermissions(models.MemberTier(claims.Tier)) {
		if !seen[perm] {
			seen[perm] = true
			merged = append(merged, perm)
		}
	}

	return merged
}
