package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classroom-roster/internal/models"
	appErrors "github.com/noah-isme/classroom-roster/pkg/errors"
	"github.com/noah-isme/classroom-roster/pkg/response"
)

// ContextSessionKey is the gin context key storing the validated session claims.
const ContextSessionKey = "currentSession"

type tokenValidator interface {
	Validate(token string) (*models.SessionClaims, error)
	Matches(claims *models.SessionClaims, session *models.Session) error
}

type sessionSource interface {
	Current() *models.Session
}

// SessionAuth protects routes by requiring a bearer token issued for the
// session that is currently signed in.
func SessionAuth(tokens tokenValidator, sessions sessionSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			// EventSource clients cannot set headers.
			token = c.Query("access_token")
		}
		if token == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrNotAuthenticated, "missing bearer token"))
			c.Abort()
			return
		}

		claims, err := tokens.Validate(token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		if err := tokens.Matches(claims, sessions.Current()); err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextSessionKey, claims)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// ClaimsFromContext returns the claims stored by SessionAuth.
func ClaimsFromContext(c *gin.Context) *models.SessionClaims {
	value, exists := c.Get(ContextSessionKey)
	if !exists {
		return nil
	}
	claims, _ := value.(*models.SessionClaims)
	return claims
}
