package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/signal-tracker/pkg/response"
	"github.com/signal-tracker/pkg/token"
)

const (
	// ContextKeyWriter is the key for the writer subject in gin context
	ContextKeyWriter = "writer_subject"
)

// WriterAuthMiddleware protects the mutation endpoint with a shared-secret
// service token. The evaluation process mints its own token from the
// configured secret. An empty secret disables the check.
func WriterAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			response.Unauthorized(c, "invalid authorization header format")
			c.Abort()
			return
		}

		subject, err := token.Parse(secret, parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextKeyWriter, subject)

		c.Next()
	}
}

// GetWriterSubject gets the authenticated writer subject from the gin context
func GetWriterSubject(c *gin.Context) string {
	subject, exists := c.Get(ContextKeyWriter)
	if !exists {
		return ""
	}
	return subject.(string)
}
