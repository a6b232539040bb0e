package models

import "time"

// VerificationAttempt is the append-only audit record of one verify call.
// Exactly one row is written per call, success or not.
type VerificationAttempt struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TokenID   uint      `gorm:"not null;index" json:"token_id"`
	Token     string    `gorm:"size:64;index" json:"token"`
	VerifyIP  string    `gorm:"size:45" json:"verify_ip"`
	Result    string    `gorm:"not null" json:"result"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
}

// SystemLog is a best-effort operational log line kept in the store so site
// operators can inspect it without shell access.
type SystemLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SiteID    uint      `gorm:"index" json:"site_id"`
	Level     string    `gorm:"default:'info'" json:"level"`
	Message   string    `gorm:"not null" json:"message"`
	Context   string    `json:"context"`
	IPAddress string    `gorm:"size:45" json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
}
