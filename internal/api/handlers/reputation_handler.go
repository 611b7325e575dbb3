package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dexra46515/apex-app-shield-sub000/internal/api/middleware"
	"github.com/dexra46515/apex-app-shield-sub000/internal/models"
	"github.com/dexra46515/apex-app-shield-sub000/internal/reputation"
	"github.com/dexra46515/apex-app-shield-sub000/internal/services"
	"github.com/dexra46515/apex-app-shield-sub000/internal/util"
)

// ReputationReader reads the live score.
type ReputationReader interface {
	Read(ctx context.Context, addr string) (reputation.Record, error)
}

// ReputationMirror reads the last persisted copy.
type ReputationMirror interface {
	Get(ctx context.Context, address string) (*models.ReputationRecord, error)
}

type ReputationHandler struct {
	live   ReputationReader
	mirror ReputationMirror
}

func NewReputationHandler(live ReputationReader, mirror ReputationMirror) *ReputationHandler {
	return &ReputationHandler{live: live, mirror: mirror}
}

// Get returns the live record. When the shared store is unreachable the
// persisted mirror is served instead, flagged as stale.
func (h *ReputationHandler) Get(c *gin.Context) {
	addr := strings.TrimSpace(c.Param("address"))
	if addr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
		return
	}

	rec, err := h.live.Read(c.Request.Context(), addr)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{
			"address":   rec.Address,
			"score":     rec.Score,
			"last_seen": rec.LastSeen,
			"last_risk": rec.LastRisk,
			"stale":     false,
		})
		return
	}
	middleware.GetRequestLogger(c).WithError(err).WithField("address", util.LogValue(addr)).Warn("live reputation read failed")

	if h.mirror == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reputation store unavailable"})
		return
	}
	m, merr := h.mirror.Get(c.Request.Context(), addr)
	switch {
	case errors.Is(merr, services.ErrReputationNotFound):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reputation store unavailable"})
	case merr != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read reputation"})
	default:
		c.JSON(http.StatusOK, gin.H{
			"address":   m.Address,
			"score":     m.Score,
			"last_seen": m.LastSeen,
			"last_risk": m.LastRisk,
			"stale":     true,
		})
	}
}
