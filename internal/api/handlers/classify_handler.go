package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dexra46515/apex-app-shield-sub000/internal/api/middleware"
	"github.com/dexra46515/apex-app-shield-sub000/internal/threat"
)

// Classifier produces a verdict for one request event.
type Classifier interface {
	Classify(ctx context.Context, ev *threat.RequestEvent) (*threat.Verdict, error)
}

// ClassifyHandler exposes the pipeline to out-of-band callers such as an
// edge proxy that forwards request metadata.
type ClassifyHandler struct {
	classifier Classifier
}

func NewClassifyHandler(classifier Classifier) *ClassifyHandler {
	return &ClassifyHandler{classifier: classifier}
}

func (h *ClassifyHandler) Classify(c *gin.Context) {
	var ev threat.RequestEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request event"})
		return
	}
	if ev.ID == "" {
		ev.ID = middleware.GetRequestID(c)
	}

	verdict, err := h.classifier.Classify(c.Request.Context(), &ev)
	if err != nil {
		if errors.Is(err, threat.ErrInvalidEvent) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		middleware.GetRequestLogger(c).WithError(err).Error("classification failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "classification failed"})
		return
	}
	c.JSON(http.StatusOK, verdict)
}
