package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaprepair/backend/internal/models"
)

func newAuthRouter(tokens *TokenIssuer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", AuthMiddleware(tokens), func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, actor)
	})
	return r
}

func TestTokenRoundTrip(t *testing.T) {
	tokens := NewTokenIssuer("secret", time.Hour)
	user := &models.User{ID: "u-1", Email: "ravi@example.com", Name: "Ravi", IsExpert: true}

	token, expiresAt, err := tokens.Issue(user)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	actor, err := tokens.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, models.Actor{ID: "u-1", DisplayName: "Ravi", Capability: models.CapabilityExpert}, actor)
}

func TestTokenRejectsOtherSecret(t *testing.T) {
	token, _, err := NewTokenIssuer("one", time.Hour).Issue(&models.User{ID: "u-1"})
	require.NoError(t, err)

	_, err = NewTokenIssuer("two", time.Hour).Parse(token)
	assert.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	tokens := NewTokenIssuer("secret", time.Hour)
	r := newAuthRouter(tokens)
	token, _, err := tokens.Issue(&models.User{ID: "u-1", Name: "Meera"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing", "/me", "", http.StatusUnauthorized},
		{"wrong scheme", "/me", "Token " + token, http.StatusUnauthorized},
		{"garbage", "/me", "Bearer nope", http.StatusUnauthorized},
		{"bearer", "/me", "Bearer " + token, http.StatusOK},
		{"query param", "/me?token=" + token, "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
