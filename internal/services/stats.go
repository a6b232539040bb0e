package services

import (
	"context"
	"math"
	"time"

	"dlgate/internal/models"
	"dlgate/internal/store"

	"go.uber.org/zap"
)

// SiteStats are the aggregate counters exposed per site.
type SiteStats struct {
	TotalDownloads int64
	TodayDownloads int64
	TotalAttempts  int64
	SuccessRate    float64
}

// AuditSink records verification attempts and answers stats queries. All
// writes are best-effort: a failed insert is logged and never surfaced to
// the caller, so the verify response never waits on audit persistence.
type AuditSink struct {
	audit  store.AuditStore
	tokens store.TokenStore
	logger *zap.Logger
}

func NewAuditSink(audit store.AuditStore, tokens store.TokenStore, logger *zap.Logger) *AuditSink {
	return &AuditSink{audit: audit, tokens: tokens, logger: logger}
}

func (s *AuditSink) RecordAttempt(ctx context.Context, record *models.DownloadToken, token, verifyIP, userAgent, result string) {
	attempt := &models.VerificationAttempt{
		Token:     token,
		VerifyIP:  verifyIP,
		Result:    result,
		UserAgent: userAgent,
	}
	if record != nil {
		attempt.TokenID = record.ID
	}
	if err := s.audit.RecordAttempt(ctx, attempt); err != nil {
		s.logger.Warn("failed to record verification attempt",
			zap.String("token", token),
			zap.String("result", result),
			zap.Error(err))
	}
}

// Log writes a system log row for site operators; best-effort like attempts.
func (s *AuditSink) Log(ctx context.Context, siteID uint, level, message, ip, userAgent string) {
	entry := &models.SystemLog{
		SiteID:    siteID,
		Level:     level,
		Message:   message,
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if err := s.audit.WriteLog(ctx, entry); err != nil {
		s.logger.Warn("failed to write system log", zap.Error(err))
	}
}

// StatsFor aggregates issuance and attempt counters for a site. The success
// rate is a percentage rounded to two decimals, zero when nothing was
// attempted yet.
func (s *AuditSink) StatsFor(ctx context.Context, siteID uint) (*SiteStats, error) {
	total, err := s.tokens.CountBySite(ctx, siteID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	today, err := s.tokens.CountBySiteSince(ctx, siteID, midnight)
	if err != nil {
		return nil, err
	}

	attempts, successful, err := s.audit.CountAttempts(ctx, siteID)
	if err != nil {
		return nil, err
	}

	rate := 0.0
	if attempts > 0 {
		rate = math.Round(float64(successful)/float64(attempts)*100*100) / 100
	}

	return &SiteStats{
		TotalDownloads: total,
		TodayDownloads: today,
		TotalAttempts:  attempts,
		SuccessRate:    rate,
	}, nil
}
