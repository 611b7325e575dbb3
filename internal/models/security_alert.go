package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	AlertSourcePipeline = "pipeline"
	AlertSourceAnomaly  = "anomaly"
)

// SecurityAlert is raised for high-severity verdicts, honeypot hits and
// anomalies reported by the scorer.
type SecurityAlert struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	UUID          string    `json:"uuid" gorm:"uniqueIndex"`
	EventUUID     string    `json:"event_uuid" gorm:"index"`
	Title         string    `json:"title"`
	Severity      string    `json:"severity" gorm:"index"`
	Kind          string    `json:"kind"`
	Source        string    `json:"source"` // pipeline, anomaly
	SourceAddress string    `json:"source_address" gorm:"index"`
	EventCount    int       `json:"event_count" gorm:"default:1"`
	Details       string    `json:"details" gorm:"type:text"`
	Acknowledged  bool      `json:"acknowledged"`
	CreatedAt     time.Time `json:"created_at" gorm:"index"`
}

func (a *SecurityAlert) BeforeCreate(tx *gorm.DB) (err error) {
	if a.UUID == "" {
		a.UUID = uuid.New().String()
	}
	if a.EventCount == 0 {
		a.EventCount = 1
	}
	return
}
