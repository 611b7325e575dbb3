package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// APISchema declares the expected payload format of an endpoint.
type APISchema struct {
	ID                uint      `json:"id" gorm:"primaryKey"`
	UUID              string    `json:"uuid" gorm:"uniqueIndex"`
	Name              string    `json:"name"`
	PathPattern       string    `json:"path_pattern"` // "/users/{id}", "/api/*" or a "^" regex
	Method            string    `json:"method"`       // empty or "*" for any
	ContentType       string    `json:"content_type" gorm:"default:application/json"`
	Schema            string    `json:"schema" gorm:"type:text"` // JSON schema; type and required are enforced
	ValidationEnabled bool      `json:"validation_enabled"`
	Active            bool      `json:"active" gorm:"index"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (a *APISchema) BeforeCreate(tx *gorm.DB) (err error) {
	if a.UUID == "" {
		a.UUID = uuid.New().String()
	}
	return
}
