package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/dexra46515/apex-app-shield-sub000/internal/models"
	"github.com/dexra46515/apex-app-shield-sub000/internal/rules"
)

var ErrRuleNotFound = errors.New("adaptive rule not found")

// RuleSetService reads the active rule configuration from the database
// and writes back adaptive rule trigger metadata. It satisfies rules.Source
// and rules.TriggerRecorder.
type RuleSetService struct {
	db *gorm.DB
}

func NewRuleSetService(db *gorm.DB) *RuleSetService {
	return &RuleSetService{db: db}
}

var (
	_ rules.Source          = (*RuleSetService)(nil)
	_ rules.TriggerRecorder = (*RuleSetService)(nil)
)

func (s *RuleSetService) Honeypots(ctx context.Context) ([]rules.HoneypotConfig, error) {
	var rows []models.Honeypot
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]rules.HoneypotConfig, 0, len(rows))
	for _, r := range rows {
		out = append(out, rules.HoneypotConfig{
			ID:           r.UUID,
			Name:         r.Name,
			EndpointPath: r.EndpointPath,
			StatusCode:   r.DecoyStatus,
			ContentType:  r.DecoyContentType,
			Response:     r.DecoyResponse,
			Active:       r.Active,
		})
	}
	return out, nil
}

func (s *RuleSetService) GeoRestrictions(ctx context.Context) ([]rules.GeoConfig, error) {
	var rows []models.GeoRestriction
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]rules.GeoConfig, 0, len(rows))
	for _, r := range rows {
		out = append(out, rules.GeoConfig{
			ID:              r.UUID,
			CountryCode:     r.CountryCode,
			ASN:             r.ASN,
			RestrictionType: r.RestrictionType,
			Active:          r.Active,
		})
	}
	return out, nil
}

func (s *RuleSetService) APISchemas(ctx context.Context) ([]rules.SchemaConfig, error) {
	var rows []models.APISchema
	if err := s.db.WithContext(ctx).
		Where("active = ? AND validation_enabled = ?", true, true).
		Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]rules.SchemaConfig, 0, len(rows))
	for _, r := range rows {
		out = append(out, rules.SchemaConfig{
			ID:                r.UUID,
			Name:              r.Name,
			PathPattern:       r.PathPattern,
			Method:            r.Method,
			ContentType:       r.ContentType,
			Schema:            r.Schema,
			ValidationEnabled: r.ValidationEnabled,
			Active:            r.Active,
		})
	}
	return out, nil
}

func (s *RuleSetService) AdaptiveRules(ctx context.Context) ([]rules.AdaptiveConfig, error) {
	var rows []models.AdaptiveRule
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]rules.AdaptiveConfig, 0, len(rows))
	for _, r := range rows {
		out = append(out, rules.AdaptiveConfig{
			ID:                 r.UUID,
			Name:               r.Name,
			SourceAddress:      r.SourceAddress,
			UserAgentPattern:   r.UserAgentPattern,
			PathPattern:        r.PathPattern,
			Action:             r.Action,
			LearningConfidence: r.LearningConfidence,
			Active:             r.Active,
		})
	}
	return out, nil
}

// RecordTrigger raises the stored trigger count to the counter value carried
// by t and sets the last triggered time. The count never moves backwards, so
// out-of-order or dropped jobs leave it at the highest total seen.
func (s *RuleSetService) RecordTrigger(ctx context.Context, t rules.Trigger) error {
	res := s.db.WithContext(ctx).Model(&models.AdaptiveRule{}).
		Where("uuid = ?", t.RuleID).
		Updates(map[string]interface{}{
			"trigger_count":     gorm.Expr("MAX(COALESCE(trigger_count, 0), ?)", t.Count),
			"last_triggered_at": t.At,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}
