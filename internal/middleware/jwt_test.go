package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/coachline/backend/internal/auth"
)

func newProtectedRouter(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwt := auth.NewJWTService("secret", 1)
	token, err := jwt.Generate(uuid.New(), "ada@example.com", "Ada", "learner")
	assert.NoError(t, err)

	r := gin.New()
	r.Use(JWT(jwt))
	r.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextUserName))
	})
	r.GET("/admin", RequireRole("admin"), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r, token
}

func Test_JWTMiddleware(t *testing.T) {
	r, token := newProtectedRouter(t)

	cases := []struct {
		name   string
		header string
		path   string
		status int
	}{
		{"missing header", "", "/me", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, "/me", http.StatusUnauthorized},
		{"bad token", "Bearer nope", "/me", http.StatusUnauthorized},
		{"valid", "Bearer " + token, "/me", http.StatusOK},
		{"lowercase scheme", "bearer " + token, "/me", http.StatusOK},
		{"empty token", "Bearer  ", "/me", http.StatusUnauthorized},
		{"role denied", "Bearer " + token, "/admin", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "Ada", w.Body.String())
			}
		})
	}
}
