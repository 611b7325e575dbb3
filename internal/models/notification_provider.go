package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NotificationProvider is an external alert destination.
type NotificationProvider struct {
	ID      string `gorm:"primaryKey" json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"` // discord, slack, gotify, telegram, generic, webhook
	URL     string `json:"url"`  // The shoutrrr URL or webhook URL
	Enabled bool   `json:"enabled"`

	// Alerts below MinSeverity are not sent.
	MinSeverity    string `json:"min_severity" gorm:"default:high"`
	NotifyHoneypot bool   `json:"notify_honeypot" gorm:"default:true"`
	NotifyAnomaly  bool   `json:"notify_anomaly" gorm:"default:true"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (n *NotificationProvider) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if strings.TrimSpace(n.MinSeverity) == "" {
		n.MinSeverity = "high"
	}
	return
}
