package models

import (
	"time"
)

// ReputationRecord mirrors the live reputation state for reporting.
type ReputationRecord struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Address   string    `json:"address" gorm:"uniqueIndex"`
	Score     int       `json:"score"`
	LastRisk  string    `json:"last_risk"`
	LastSeen  time.Time `json:"last_seen"`
	UpdatedAt time.Time `json:"updated_at"`
}
