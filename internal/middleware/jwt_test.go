package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classroom-roster/internal/models"
	"github.com/noah-isme/classroom-roster/internal/service"
)

type fixedSession struct {
	session *models.Session
}

func (f *fixedSession) Current() *models.Session { return f.session }

func newProtectedRouter(tokens *service.TokenService, sessions sessionSource) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/roster", SessionAuth(tokens, sessions), func(c *gin.Context) {
		c.String(http.StatusOK, ClaimsFromContext(c).Identity)
	})
	return r
}

func TestSessionAuth(t *testing.T) {
	tokens := service.NewTokenService(service.TokenConfig{Secret: "test-secret", Expiry: time.Hour})
	session := &models.Session{Identity: "teacher-1", State: models.SessionAuthenticatedComplete, LoginTime: time.Now()}
	current := &fixedSession{session: session}
	router := newProtectedRouter(tokens, current)

	token, err := tokens.Issue(session)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/roster", nil)
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "teacher-1", rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/roster?access_token="+token.AccessToken, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/roster", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	current.session = &models.Session{State: models.SessionAnonymous}
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/roster", nil)
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_AUTHENTICATED")
}

func TestMetricsMiddlewareRecordsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(Metrics(metrics))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, uint64(1), metrics.Snapshot().RequestsTotal)
}
