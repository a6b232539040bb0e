package models

import "time"

const (
	TokenStatusActive    = "active"
	TokenStatusExpired   = "expired"
	TokenStatusBlocked   = "blocked"
	TokenStatusCompleted = "completed"
)

// TokenColumnSize is the width of the token column. The generator currently
// emits 39 characters (3-char site prefix + unix seconds + 24 hex chars); the
// column used to be 32 and silently truncated tokens, so keep ample margin
// and reject anything longer at generation time.
const TokenColumnSize = 64

// DownloadToken is one authorized-download grant, bound to the IP observed
// when it was issued. Only the verification engine mutates it after creation.
type DownloadToken struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	SiteID        uint       `gorm:"not null;index" json:"site_id"`
	Site          Site       `json:"site"`
	Token         string     `gorm:"size:64;uniqueIndex;not null" json:"token"`
	SoftwareName  string     `gorm:"not null" json:"software_name"`
	FileURL       string     `gorm:"not null" json:"file_url"`
	OriginalIP    string     `gorm:"size:45;not null" json:"original_ip"`
	UserAgent     string     `json:"user_agent"`
	Referrer      string     `json:"referrer"`
	DownloadCount int        `gorm:"default:0" json:"download_count"`
	DownloadLimit int        `gorm:"not null" json:"download_limit"`
	Status        string     `gorm:"default:'active'" json:"status"`
	ExpiresAt     time.Time  `gorm:"not null" json:"expires_at"`
	DownloadedAt  *time.Time `json:"downloaded_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Expired reports whether the token can no longer be redeemed, either by
// deadline or because housekeeping already flipped its status.
func (t *DownloadToken) Expired(now time.Time) bool {
	return t.Status == TokenStatusExpired || now.After(t.ExpiresAt)
}
