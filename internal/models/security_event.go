package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dexra46515/apex-app-shield-sub000/internal/threat"
)

// SecurityEvent records one classified request and its full verdict.
type SecurityEvent struct {
	ID              uint            `json:"id" gorm:"primaryKey"`
	UUID            string          `json:"uuid" gorm:"uniqueIndex"`
	RequestID       string          `json:"request_id" gorm:"index"`
	SourceAddress   string          `json:"source_address" gorm:"index"`
	Method          string          `json:"method"`
	Path            string          `json:"path" gorm:"type:text"`
	UserAgent       string          `json:"user_agent" gorm:"type:text"`
	CountryCode     string          `json:"country_code"`
	Severity        string          `json:"severity" gorm:"index"`
	Blocked         bool            `json:"blocked"`
	Dominant        string          `json:"dominant"`
	Signals         []threat.Signal `json:"signals" gorm:"serializer:json"`
	Recommendations []string        `json:"recommendations" gorm:"serializer:json"`
	AnomalyScore    *float64        `json:"anomaly_score,omitempty"`
	CreatedAt       time.Time       `json:"created_at" gorm:"index"`
}

func (e *SecurityEvent) BeforeCreate(tx *gorm.DB) (err error) {
	if e.UUID == "" {
		e.UUID = uuid.New().String()
	}
	return
}
