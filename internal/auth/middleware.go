package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	claimsKey  = "claims"
	studentKey = "student_id"
)

// StudentAuth enforces bearer JWT tokens signed with HS256 and carrying the
// student role. The student id is taken from the token, never from the body.
func StudentAuth(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if claims.Role != RoleStudent {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "students only"})
			return
		}
		c.Set(claimsKey, claims)
		c.Set(studentKey, claims.Subject)
		c.Next()
	}
}

// StudentID returns the authenticated student id, or "" outside StudentAuth.
func StudentID(c *gin.Context) string {
	return c.GetString(studentKey)
}
