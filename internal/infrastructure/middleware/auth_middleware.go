package middleware

import (
	"net/http"
	"strings"

	"livecast/internal/core/domain"
	"livecast/internal/core/services"
	rlog "livecast/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ingestToken extracts the token from the Authorization header, falling
// back to the token query parameter. The WHIP endpoint takes raw SDP as
// its body, so the token rides in the URL there.
func ingestToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}

// IngestAuthMiddleware guards write routes with a valid ingest token and
// stores the claims for the handler.
func IngestAuthMiddleware(auth services.IngestAuthorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ingestToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ingest token required"})
			c.Abort()
			return
		}

		claims, err := auth.Validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set("session_id", claims.SessionID)
		c.Set("participant_id", claims.ParticipantID)

		// Stamp the request context so downstream logging carries the
		// authenticated session scope.
		ctx := rlog.WithSessionID(c.Request.Context(), string(claims.SessionID))
		ctx = rlog.WithParticipantID(ctx, string(claims.ParticipantID))
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// SessionScopeMiddleware rejects requests whose ingest token was minted
// for a session other than the one in the route. Runs after
// IngestAuthMiddleware.
func SessionScopeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		claimedVal, exists := c.Get("session_id")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			c.Abort()
			return
		}

		claimed, ok := claimedVal.(domain.SessionID)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session context"})
			c.Abort()
			return
		}

		if requested := domain.SessionID(c.Param("id")); requested != claimed {
			c.JSON(http.StatusForbidden, gin.H{"error": services.ErrWrongSession.Error()})
			c.Abort()
			return
		}

		c.Next()
	}
}
