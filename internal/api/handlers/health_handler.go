package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dexra46515/apex-app-shield-sub000/internal/version"
)

// HealthHandler responds with basic service metadata for uptime checks.
func HealthHandler(c *gin.Context) {
	body := gin.H{"status": "ok"}
	for k, v := range version.Info() {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}
