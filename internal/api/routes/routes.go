package routes

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/dexra46515/apex-app-shield-sub000/internal/api/handlers"
	"github.com/dexra46515/apex-app-shield-sub000/internal/api/middleware"
	"github.com/dexra46515/apex-app-shield-sub000/internal/cerberus"
	"github.com/dexra46515/apex-app-shield-sub000/internal/config"
	"github.com/dexra46515/apex-app-shield-sub000/internal/database"
	"github.com/dexra46515/apex-app-shield-sub000/internal/logger"
	"github.com/dexra46515/apex-app-shield-sub000/internal/metrics"
	"github.com/dexra46515/apex-app-shield-sub000/internal/reputation"
	"github.com/dexra46515/apex-app-shield-sub000/internal/services"
)

// Deps are the long-lived components the routes serve.
type Deps struct {
	DB            *gorm.DB
	Config        config.Config
	Classifier    handlers.Classifier
	Reputation    *reputation.Store
	Rules         handlers.RuleCache
	Notifications *services.NotificationService
	// Registry receives the service collectors; nil creates a private one.
	Registry *prometheus.Registry
}

// Register wires up API routes and performs automatic migrations. With an
// upstream configured, every other path is classified inline and proxied.
func Register(router *gin.Engine, deps Deps) error {
	if err := database.Migrate(deps.DB); err != nil {
		return err
	}

	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	metrics.Register(registry)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	router.GET("/api/v1/health", handlers.HealthHandler)

	api := router.Group("/api/v1")
	api.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{IsDevelopment: !deps.Config.Production()}))

	classifyHandler := handlers.NewClassifyHandler(deps.Classifier)
	api.POST("/classify", classifyHandler.Classify)

	if deps.Reputation != nil {
		reputationHandler := handlers.NewReputationHandler(deps.Reputation, services.NewReputationService(deps.DB))
		api.GET("/reputation/:address", reputationHandler.Get)
	}

	securityHandler := handlers.NewSecurityHandler(services.NewSecurityService(deps.DB))
	api.GET("/events", securityHandler.ListEvents)
	api.GET("/alerts", securityHandler.ListAlerts)

	if deps.Rules != nil {
		rulesHandler := handlers.NewRulesHandler(deps.Rules)
		api.GET("/rules", rulesHandler.Status)
		api.POST("/rules/refresh", rulesHandler.Refresh)
	}

	notifications := deps.Notifications
	if notifications == nil {
		notifications = services.NewNotificationService(deps.DB)
	}
	providerHandler := handlers.NewNotificationProviderHandler(notifications)
	api.GET("/notifications/providers", providerHandler.List)
	api.POST("/notifications/providers", providerHandler.Create)
	api.DELETE("/notifications/providers/:id", providerHandler.Delete)

	if deps.Config.UpstreamURL == "" {
		router.NoRoute(func(c *gin.Context) {
			c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
		})
		return nil
	}

	proxy, err := upstreamProxy(deps.Config.UpstreamURL)
	if err != nil {
		return err
	}
	guard := cerberus.New(deps.Classifier, cerberus.Options{
		Mode:      deps.Config.WAFMode,
		JWTSecret: []byte(deps.Config.JWTSecret),
	})
	enforce := guard.Middleware()
	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/v1/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
			return
		}
		enforce(c)
		if c.IsAborted() {
			return
		}
		proxy.ServeHTTP(c.Writer, c.Request)
	})
	logger.Component("routes").WithField("upstream", deps.Config.UpstreamURL).Info("inline mode enabled")
	return nil
}

func upstreamProxy(raw string) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(raw)
	if err != nil || target.Host == "" || (target.Scheme != "http" && target.Scheme != "https") {
		return nil, fmt.Errorf("invalid upstream url %q", raw)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Component("proxy").WithError(err).Warn("upstream request failed")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream unavailable"}`))
	}
	return proxy, nil
}
