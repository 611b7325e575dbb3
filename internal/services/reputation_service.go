package services

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dexra46515/apex-app-shield-sub000/internal/models"
	"github.com/dexra46515/apex-app-shield-sub000/internal/reputation"
)

var ErrReputationNotFound = errors.New("reputation record not found")

// ReputationService mirrors live reputation records into the database so
// they survive restarts of the in-memory store and can be listed.
type ReputationService struct {
	db *gorm.DB
}

func NewReputationService(db *gorm.DB) *ReputationService {
	return &ReputationService{db: db}
}

// Mirror upserts rec by address.
func (s *ReputationService) Mirror(ctx context.Context, rec reputation.Record) error {
	row := models.ReputationRecord{
		Address:  rec.Address,
		Score:    rec.Score,
		LastRisk: rec.LastRisk.String(),
		LastSeen: rec.LastSeen,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"score", "last_risk", "last_seen", "updated_at"}),
	}).Create(&row).Error
}

// Get returns the mirrored record for address.
func (s *ReputationService) Get(ctx context.Context, address string) (*models.ReputationRecord, error) {
	var row models.ReputationRecord
	if err := s.db.WithContext(ctx).Where("address = ?", address).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReputationNotFound
		}
		return nil, err
	}
	return &row, nil
}
