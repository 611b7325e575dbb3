package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GeoRestriction blocks or monitors traffic from a country and/or ASN.
type GeoRestriction struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	UUID            string    `json:"uuid" gorm:"uniqueIndex"`
	CountryCode     string    `json:"country_code" gorm:"index"`
	ASN             string    `json:"asn" gorm:"index"`
	RestrictionType string    `json:"restriction_type" gorm:"default:monitor"` // block, monitor
	Reason          string    `json:"reason"`
	Active          bool      `json:"active" gorm:"index"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (g *GeoRestriction) BeforeCreate(tx *gorm.DB) (err error) {
	if g.UUID == "" {
		g.UUID = uuid.New().String()
	}
	return
}
