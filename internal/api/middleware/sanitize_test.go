package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeHeaders(t *testing.T) {
	assert.Nil(t, SanitizeHeaders(nil))

	h := http.Header{}
	h.Set("Authorization", "Bearer abc")
	h.Set("Cookie", "session_id=xyz")
	h.Set("X-Session-ID", "sess-1")
	h.Set("User-Agent", "curl/8\nforged")
	h.Set("X-Long", strings.Repeat("a", 300))

	out := SanitizeHeaders(h)
	assert.Equal(t, []string{"<redacted>"}, out["Authorization"])
	assert.Equal(t, []string{"<redacted>"}, out["Cookie"])
	assert.Equal(t, []string{"<redacted>"}, out["X-Session-Id"])
	assert.Equal(t, []string{"curl/8 forged"}, out["User-Agent"])
	assert.Len(t, out["X-Long"][0], 200)
}

func TestSanitizePath(t *testing.T) {
	assert.Equal(t, "/api/v1/login", SanitizePath("/api/v1/login?password=x"))
	assert.Equal(t, "/a b", SanitizePath("/a\nb"))
}

func TestSecurityHeaders(t *testing.T) {
	router := gin.New()
	router.Use(SecurityHeaders(SecurityHeadersConfig{}))
	router.GET("/x", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{}) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))

	dev := gin.New()
	dev.Use(SecurityHeaders(SecurityHeadersConfig{IsDevelopment: true}))
	dev.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	w = httptest.NewRecorder()
	dev.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}
