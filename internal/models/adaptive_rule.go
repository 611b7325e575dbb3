package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AdaptiveRule is a learned condition/action rule. Conditions are OR'ed:
// any non-empty field that matches triggers the rule.
type AdaptiveRule struct {
	ID                 uint       `json:"id" gorm:"primaryKey"`
	UUID               string     `json:"uuid" gorm:"uniqueIndex"`
	Name               string     `json:"name"`
	SourceAddress      string     `json:"source_address"`
	UserAgentPattern   string     `json:"user_agent_pattern"`
	PathPattern        string     `json:"path_pattern"`
	Action             string     `json:"action"` // block, challenge, rate_limit, monitor
	LearningConfidence float64    `json:"learning_confidence"`
	Active             bool       `json:"active" gorm:"index"`
	TriggerCount       int64      `json:"trigger_count"`
	LastTriggeredAt    *time.Time `json:"last_triggered_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (a *AdaptiveRule) BeforeCreate(tx *gorm.DB) (err error) {
	if a.UUID == "" {
		a.UUID = uuid.New().String()
	}
	return
}
