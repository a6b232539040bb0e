package store

import (
	"context"
	"fmt"

	"dlgate/internal/models"

	"gorm.io/gorm"
)

// successfulResults are the outcome codes that count toward the success rate.
var successfulResults = []string{"IP_MATCH", "IP_MISMATCH_ALLOWED", "IP_VERIFICATION_DISABLED"}

type GormAuditStore struct {
	db *gorm.DB
}

func NewGormAuditStore(db *gorm.DB) *GormAuditStore {
	return &GormAuditStore{db: db}
}

func (s *GormAuditStore) RecordAttempt(ctx context.Context, attempt *models.VerificationAttempt) error {
	if err := s.db.WithContext(ctx).Create(attempt).Error; err != nil {
		return fmt.Errorf("failed to record verification attempt: %w", err)
	}
	return nil
}

func (s *GormAuditStore) CountAttempts(ctx context.Context, siteID uint) (int64, int64, error) {
	base := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.VerificationAttempt{}).
			Joins("JOIN download_tokens ON download_tokens.id = verification_attempts.token_id").
			Where("download_tokens.site_id = ?", siteID)
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count attempts: %w", err)
	}

	var successful int64
	err := base().Where("verification_attempts.result IN ?", successfulResults).Count(&successful).Error
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count successful attempts: %w", err)
	}

	return total, successful, nil
}

func (s *GormAuditStore) WriteLog(ctx context.Context, entry *models.SystemLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to write system log: %w", err)
	}
	return nil
}
