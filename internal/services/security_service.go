package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dexra46515/apex-app-shield-sub000/internal/models"
)

var ErrEventNotFound = errors.New("security event not found")

const maxListLimit = 500

// SecurityService stores classified events and the alerts raised for them.
type SecurityService struct {
	db *gorm.DB
}

// NewSecurityService returns a SecurityService using the provided DB
func NewSecurityService(db *gorm.DB) *SecurityService {
	return &SecurityService{db: db}
}

// RecordEvent stores a security event record
func (s *SecurityService) RecordEvent(ctx context.Context, e *models.SecurityEvent) error {
	if e == nil {
		return nil
	}
	if e.UUID == "" {
		e.UUID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(e).Error
}

// SetAnomalyScore attaches the asynchronous anomaly score to an event.
func (s *SecurityService) SetAnomalyScore(ctx context.Context, eventUUID string, score float64) error {
	res := s.db.WithContext(ctx).Model(&models.SecurityEvent{}).
		Where("uuid = ?", eventUUID).
		Update("anomaly_score", score)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrEventNotFound
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// ListEvents returns recent events, ordered by created_at desc
func (s *SecurityService) ListEvents(ctx context.Context, limit int) ([]models.SecurityEvent, error) {
	var res []models.SecurityEvent
	if err := s.db.WithContext(ctx).Order("created_at desc, id desc").Limit(clampLimit(limit)).Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}

// CreateAlert stores an alert. Repeated alerts for the same source and kind
// are kept as separate rows.
func (s *SecurityService) CreateAlert(ctx context.Context, a *models.SecurityAlert) error {
	if a == nil {
		return nil
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(a).Error
}

// ListAlerts returns recent alerts, ordered by created_at desc
func (s *SecurityService) ListAlerts(ctx context.Context, limit int) ([]models.SecurityAlert, error) {
	var res []models.SecurityAlert
	if err := s.db.WithContext(ctx).Order("created_at desc, id desc").Limit(clampLimit(limit)).Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}
