package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Honeypot is a decoy endpoint. Any request touching its path is treated
// as hostile and answered with the configured decoy response.
type Honeypot struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	UUID             string    `json:"uuid" gorm:"uniqueIndex"`
	Name             string    `json:"name" gorm:"index"`
	EndpointPath     string    `json:"endpoint_path"`
	DecoyStatus      int       `json:"decoy_status" gorm:"default:200"`
	DecoyContentType string    `json:"decoy_content_type" gorm:"default:application/json"`
	DecoyResponse    string    `json:"decoy_response" gorm:"type:text"`
	Active           bool      `json:"active" gorm:"index"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (h *Honeypot) BeforeCreate(tx *gorm.DB) (err error) {
	if h.UUID == "" {
		h.UUID = uuid.New().String()
	}
	return
}
