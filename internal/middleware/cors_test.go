package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func Test_CORS(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name    string
		origins []string
		origin  string
		method  string
		allow   string
		status  int
	}{
		{"wildcard", nil, "https://app.example.com", http.MethodGet, "*", http.StatusOK},
		{"listed origin", []string{"https://app.example.com/"}, "https://app.example.com", http.MethodGet, "https://app.example.com", http.StatusOK},
		{"unlisted origin", []string{"https://app.example.com"}, "https://evil.example.com", http.MethodGet, "", http.StatusOK},
		{"preflight", []string{"*"}, "https://app.example.com", http.MethodOptions, "*", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CORS(tc.origins))
			r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

			w := httptest.NewRecorder()
			req := httptest.NewRequest(tc.method, "/ping", nil)
			req.Header.Set("Origin", tc.origin)
			r.ServeHTTP(w, req)

			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.allow, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}
