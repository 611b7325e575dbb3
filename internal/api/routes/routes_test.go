package routes

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dexra46515/apex-app-shield-sub000/internal/api/middleware"
	"github.com/dexra46515/apex-app-shield-sub000/internal/config"
	"github.com/dexra46515/apex-app-shield-sub000/internal/kv"
	"github.com/dexra46515/apex-app-shield-sub000/internal/models"
	"github.com/dexra46515/apex-app-shield-sub000/internal/pipeline"
	"github.com/dexra46515/apex-app-shield-sub000/internal/ratelimit"
	"github.com/dexra46515/apex-app-shield-sub000/internal/reputation"
	"github.com/dexra46515/apex-app-shield-sub000/internal/rules"
	"github.com/dexra46515/apex-app-shield-sub000/internal/services"
)

func init() { gin.SetMode(gin.TestMode) }

func setup(t *testing.T, cfg config.Config) (*gin.Engine, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	store := kv.NewMemoryStore()
	rep := reputation.New(store)
	cache := rules.NewCache(services.NewRuleSetService(db))
	classifier := pipeline.New(time.Second, pipeline.Deps{
		Limiter:    ratelimit.New(store, ratelimit.Config{}),
		Reputation: rep,
		Rules:      cache,
	})

	router := gin.New()
	router.Use(middleware.RequestID())
	require.NoError(t, Register(router, Deps{
		DB: db, Config: cfg, Classifier: classifier, Reputation: rep, Rules: cache,
		Registry: prometheus.NewRegistry(),
	}))
	return router, db
}

func get(r http.Handler, target, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if remote != "" {
		req.RemoteAddr = remote + ":51000"
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegister(t *testing.T) {
	router, _ := setup(t, config.Config{})

	paths := map[string]bool{}
	for _, r := range router.Routes() {
		paths[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /api/v1/health",
		"POST /api/v1/classify",
		"GET /api/v1/reputation/:address",
		"GET /api/v1/events",
		"GET /api/v1/alerts",
		"GET /api/v1/rules",
		"POST /api/v1/rules/refresh",
		"GET /metrics",
	} {
		assert.True(t, paths[want], want)
	}

	w := get(router, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = get(router, "/api/v1/events", "")
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := setup(t, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/classify",
		strings.NewReader(`{"source_address":"192.0.2.1","path":"/x?q=<script>alert(1)</script>"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(httptest.NewRecorder(), req)

	w := get(router, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "shield_requests_classified_total")
	assert.Contains(t, w.Body.String(), `shield_signals_total{kind="xss"}`)
}

func TestInlineMode(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("from upstream " + r.URL.Path))
	}))
	defer upstream.Close()

	router, db := setup(t, config.Config{UpstreamURL: upstream.URL, WAFMode: "block"})
	require.NoError(t, db.Create(&models.Honeypot{Name: "wp", EndpointPath: "/wp-admin", DecoyResponse: "<html>login</html>", DecoyContentType: "text/html", Active: true}).Error)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/rules/refresh", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = get(router, "/shop/items", "192.0.2.10")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "from upstream /shop/items", w.Body.String())

	w = get(router, "/shop/items?id=1%20UNION%20SELECT%20password%20FROM%20users", "192.0.2.11")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = get(router, "/wp-admin/", "192.0.2.12")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<html>login</html>", w.Body.String())

	w = get(router, "/api/v1/unknown", "192.0.2.13")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInlineMode_BadUpstream(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:bad_upstream?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	err = Register(gin.New(), Deps{
		DB:         db,
		Config:     config.Config{UpstreamURL: "ftp://example.com"},
		Classifier: pipeline.New(0, pipeline.Deps{}),
		Registry:   prometheus.NewRegistry(),
	})
	assert.Error(t, err)
}
