package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"dlgate/internal/config"
	"dlgate/internal/models"
	"dlgate/internal/store"

	"go.uber.org/zap"
)

var (
	ErrMissingParameter = errors.New("missing required parameter")
	ErrInvalidFileURL   = errors.New("file url does not belong to the storage server")
	ErrTokenTooLong     = errors.New("generated token exceeds column size")
)

// tokenRandomBytes gives 96 bits of randomness, 24 hex characters on the
// wire. Combined with the site prefix and unix timestamp the token is 39
// characters, well under models.TokenColumnSize.
const tokenRandomBytes = 12

const sitePrefixLen = 3

// IssueRequest is the issuance input after HTTP parsing.
type IssueRequest struct {
	FileURL      string
	SoftwareName string
	ClientIP     string
	UserAgent    string
	Referrer     string
}

// Issuer mints download tokens bound to the requester's IP and persists them.
type Issuer struct {
	tokens      store.TokenStore
	storageHost string
	logger      *zap.Logger
}

func NewIssuer(cfg *config.Config, tokens store.TokenStore, logger *zap.Logger) *Issuer {
	host := ""
	if u, err := url.Parse(cfg.StorageDomain); err == nil {
		host = u.Host
	}
	return &Issuer{tokens: tokens, storageHost: host, logger: logger}
}

func (s *Issuer) Issue(ctx context.Context, site *models.Site, req IssueRequest, pol config.VerifyPolicy) (*models.DownloadToken, error) {
	if req.FileURL == "" || req.SoftwareName == "" {
		return nil, ErrMissingParameter
	}
	if !s.validFileURL(req.FileURL) {
		return nil, ErrInvalidFileURL
	}

	now := time.Now()
	token, err := generateToken(site.SiteKey, now)
	if err != nil {
		return nil, err
	}

	record := &models.DownloadToken{
		SiteID:        site.ID,
		Token:         token,
		SoftwareName:  req.SoftwareName,
		FileURL:       req.FileURL,
		OriginalIP:    req.ClientIP,
		UserAgent:     req.UserAgent,
		Referrer:      req.Referrer,
		DownloadCount: 0,
		DownloadLimit: pol.MaxDownloads,
		Status:        models.TokenStatusActive,
		ExpiresAt:     now.Add(pol.TokenLifetime),
	}

	if err := s.tokens.Create(ctx, record); err != nil {
		return nil, err
	}

	s.logger.Info("issued download token",
		zap.String("site", site.SiteKey),
		zap.String("software", req.SoftwareName),
		zap.String("original_ip", req.ClientIP),
		zap.Time("expires_at", record.ExpiresAt))

	return record, nil
}

// validFileURL checks that the requested file lives on the configured storage
// server, never an arbitrary URL the caller controls.
func (s *Issuer) validFileURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Host != "" && u.Host == s.storageHost
}

// generateToken builds sitePrefix_unixSeconds_randomHex. The random suffix
// comes from crypto/rand; the length guard keeps the historical
// truncated-token failure from ever reaching the store.
func generateToken(siteKey string, now time.Time) (string, error) {
	buf := make([]byte, tokenRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	prefix := siteKey
	if len(prefix) > sitePrefixLen {
		prefix = prefix[:sitePrefixLen]
	}

	token := fmt.Sprintf("%s_%d_%s", prefix, now.Unix(), hex.EncodeToString(buf))
	if len(token) > models.TokenColumnSize {
		return "", ErrTokenTooLong
	}
	return token, nil
}
