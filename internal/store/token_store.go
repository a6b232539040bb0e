package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dlgate/internal/models"

	"gorm.io/gorm"
)

type GormTokenStore struct {
	db *gorm.DB
}

func NewGormTokenStore(db *gorm.DB) *GormTokenStore {
	return &GormTokenStore{db: db}
}

func (s *GormTokenStore) Create(ctx context.Context, token *models.DownloadToken) error {
	if len(token.Token) > models.TokenColumnSize {
		return fmt.Errorf("token of length %d exceeds column size %d", len(token.Token), models.TokenColumnSize)
	}
	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		return fmt.Errorf("failed to create download token: %w", err)
	}
	return nil
}

func (s *GormTokenStore) GetByToken(ctx context.Context, token string) (*models.DownloadToken, error) {
	var record models.DownloadToken
	err := s.db.WithContext(ctx).Preload("Site").Where("token = ?", token).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get download token: %w", err)
	}
	return &record, nil
}

// Redeem is the only success-path mutation. The WHERE clause re-checks the
// limit at commit time so concurrent calls race on the row update, not on a
// stale read; zero affected rows means the limit was already consumed.
func (s *GormTokenStore) Redeem(ctx context.Context, token string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.DownloadToken{}).
		Where("token = ? AND download_count < download_limit", token).
		Updates(map[string]interface{}{
			"download_count": gorm.Expr("download_count + 1"),
			"downloaded_at":  now,
			"status":         models.TokenStatusCompleted,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to redeem token: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormTokenStore) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.DownloadToken{}).
		Where("status = ? AND expires_at < ?", models.TokenStatusActive, now).
		Update("status", models.TokenStatusExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark expired tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormTokenStore) CountBySite(ctx context.Context, siteID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.DownloadToken{}).
		Where("site_id = ?", siteID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count tokens: %w", err)
	}
	return count, nil
}

func (s *GormTokenStore) CountBySiteSince(ctx context.Context, siteID uint, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.DownloadToken{}).
		Where("site_id = ? AND created_at >= ?", siteID, since).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count recent tokens: %w", err)
	}
	return count, nil
}
