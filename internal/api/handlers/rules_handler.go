package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dexra46515/apex-app-shield-sub000/internal/rules"
)

// RuleCache is the live rule snapshot holder.
type RuleCache interface {
	Snapshot() *rules.Snapshot
	Refresh(ctx context.Context) error
}

type RulesHandler struct {
	cache RuleCache
}

func NewRulesHandler(cache RuleCache) *RulesHandler {
	return &RulesHandler{cache: cache}
}

func snapshotSummary(s *rules.Snapshot) gin.H {
	return gin.H{
		"honeypots":        len(s.Honeypots),
		"geo_restrictions": len(s.Geo),
		"api_schemas":      len(s.Schemas),
		"adaptive_rules":   len(s.Adaptive),
		"loaded_at":        s.LoadedAt,
	}
}

// Status reports the size of the snapshot currently in force.
func (h *RulesHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, snapshotSummary(h.cache.Snapshot()))
}

// Refresh rebuilds the snapshot now instead of waiting for the schedule.
// Sets that fail to load are served empty; the failure is reported.
func (h *RulesHandler) Refresh(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	body := gin.H{}
	if err := h.cache.Refresh(ctx); err != nil {
		body["error"] = err.Error()
	}
	for k, v := range snapshotSummary(h.cache.Snapshot()) {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}
