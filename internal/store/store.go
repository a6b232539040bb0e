// Package store wraps all database access behind small interfaces so the
// services can be exercised against fakes and the redemption update stays a
// single conditional statement at the store boundary.
package store

import (
	"context"
	"errors"
	"time"

	"dlgate/internal/models"
)

var (
	ErrSiteNotFound  = errors.New("site not found")
	ErrTokenNotFound = errors.New("token not found")
)

type SiteStore interface {
	Create(ctx context.Context, site *models.Site) error
	Update(ctx context.Context, site *models.Site) error
	Delete(ctx context.Context, id uint) error
	List(ctx context.Context) ([]models.Site, error)
	GetByID(ctx context.Context, id uint) (*models.Site, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*models.Site, error)
	// GetByToken resolves the site that issued a token (verify calls carry
	// no credentials beyond the token itself).
	GetByToken(ctx context.Context, token string) (*models.Site, error)
}

type TokenStore interface {
	Create(ctx context.Context, token *models.DownloadToken) error
	GetByToken(ctx context.Context, token string) (*models.DownloadToken, error)
	// Redeem performs the success-path update as one conditional statement:
	// the count is incremented only while it is still under the limit, and
	// the affected-row count decides the outcome. Two concurrent calls on a
	// limit-1 token can therefore never both succeed.
	Redeem(ctx context.Context, token string, now time.Time) (bool, error)
	// MarkExpired flips active tokens past their deadline to expired.
	// Run by external housekeeping, not by the request path.
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
	CountBySite(ctx context.Context, siteID uint) (int64, error)
	CountBySiteSince(ctx context.Context, siteID uint, since time.Time) (int64, error)
}

type AuditStore interface {
	RecordAttempt(ctx context.Context, attempt *models.VerificationAttempt) error
	// CountAttempts returns total and successful verification attempts for a
	// site, joined through the tokens the attempts refer to.
	CountAttempts(ctx context.Context, siteID uint) (total int64, successful int64, err error)
	WriteLog(ctx context.Context, entry *models.SystemLog) error
}
