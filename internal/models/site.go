package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	SiteStatusActive      = "active"
	SiteStatusInactive    = "inactive"
	SiteStatusMaintenance = "maintenance"
	SiteStatusPlanning    = "planning"
)

// Site is a registered customer namespace. Each downstream site talks to the
// API with its own api_key; domain is used as a fallback when no key is sent.
type Site struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"not null" json:"name"`
	SiteKey   string         `gorm:"uniqueIndex;not null" json:"site_key"`
	APIKey    string         `gorm:"uniqueIndex;not null" json:"api_key"`
	Domain    string         `json:"domain"`
	Status    string         `gorm:"default:'active'" json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
