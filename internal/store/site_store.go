package store

import (
	"context"
	"errors"
	"fmt"

	"dlgate/internal/models"

	"gorm.io/gorm"
)

type GormSiteStore struct {
	db *gorm.DB
}

func NewGormSiteStore(db *gorm.DB) *GormSiteStore {
	return &GormSiteStore{db: db}
}

func (s *GormSiteStore) Create(ctx context.Context, site *models.Site) error {
	if err := s.db.WithContext(ctx).Create(site).Error; err != nil {
		return fmt.Errorf("failed to create site: %w", err)
	}
	return nil
}

func (s *GormSiteStore) Update(ctx context.Context, site *models.Site) error {
	if err := s.db.WithContext(ctx).Save(site).Error; err != nil {
		return fmt.Errorf("failed to update site: %w", err)
	}
	return nil
}

func (s *GormSiteStore) Delete(ctx context.Context, id uint) error {
	if err := s.db.WithContext(ctx).Delete(&models.Site{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete site: %w", err)
	}
	return nil
}

func (s *GormSiteStore) List(ctx context.Context) ([]models.Site, error) {
	var sites []models.Site
	if err := s.db.WithContext(ctx).Find(&sites).Error; err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	return sites, nil
}

func (s *GormSiteStore) GetByID(ctx context.Context, id uint) (*models.Site, error) {
	var site models.Site
	err := s.db.WithContext(ctx).First(&site, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSiteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get site: %w", err)
	}
	return &site, nil
}

func (s *GormSiteStore) GetByAPIKey(ctx context.Context, apiKey string) (*models.Site, error) {
	var site models.Site
	err := s.db.WithContext(ctx).Where("api_key = ?", apiKey).First(&site).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSiteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get site by api key: %w", err)
	}
	return &site, nil
}

func (s *GormSiteStore) GetByToken(ctx context.Context, token string) (*models.Site, error) {
	var site models.Site
	err := s.db.WithContext(ctx).
		Select("sites.*").
		Joins("JOIN download_tokens ON download_tokens.site_id = sites.id").
		Where("download_tokens.token = ?", token).
		First(&site).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSiteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get site by token: %w", err)
	}
	return &site, nil
}
