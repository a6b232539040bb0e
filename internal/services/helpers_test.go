package services

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"dlgate/internal/config"
	"dlgate/internal/database"
	"dlgate/internal/models"
	"dlgate/internal/store"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testDBSeq atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:servicetest%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := database.Open(dsn)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// sqlite serializes writers anyway; a single connection avoids busy
	// errors under the concurrent redemption tests.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

type testEnv struct {
	db     *gorm.DB
	sites  *store.GormSiteStore
	tokens *store.GormTokenStore
	audit  *store.GormAuditStore
	sink   *AuditSink
	engine *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	sites := store.NewGormSiteStore(db)
	tokens := store.NewGormTokenStore(db)
	audit := store.NewGormAuditStore(db)
	sink := NewAuditSink(audit, tokens, zap.NewNop())
	return &testEnv{
		db:     db,
		sites:  sites,
		tokens: tokens,
		audit:  audit,
		sink:   sink,
		engine: NewEngine(tokens, sink, zap.NewNop()),
	}
}

func seedSite(t *testing.T, db *gorm.DB) *models.Site {
	t.Helper()
	n := testDBSeq.Add(1)
	site := &models.Site{
		Name:    "Demo Shop",
		SiteKey: fmt.Sprintf("demo%d", n),
		APIKey:  fmt.Sprintf("key-%d", n),
		Domain:  "https://www.demoshop.cn",
		Status:  models.SiteStatusActive,
	}
	require.NoError(t, db.Create(site).Error)
	return site
}

func seedToken(t *testing.T, db *gorm.DB, site *models.Site, mutate func(*models.DownloadToken)) *models.DownloadToken {
	t.Helper()
	tok := &models.DownloadToken{
		SiteID:        site.ID,
		Token:         fmt.Sprintf("dem_%d_%024x", time.Now().Unix(), testDBSeq.Add(1)),
		SoftwareName:  "DemoApp.exe",
		FileURL:       "https://dw.example.com/files/DemoApp.exe",
		OriginalIP:    "1.2.3.4",
		DownloadLimit: 1,
		Status:        models.TokenStatusActive,
		ExpiresAt:     time.Now().Add(24 * time.Hour),
	}
	if mutate != nil {
		mutate(tok)
	}
	require.NoError(t, db.Create(tok).Error)
	return tok
}

func defaultPolicy() config.VerifyPolicy {
	return config.VerifyPolicy{
		Enabled:       true,
		AllowMismatch: true,
		TokenLifetime: 24 * time.Hour,
		MaxDownloads:  3,
	}
}

func strictPolicy() config.VerifyPolicy {
	pol := defaultPolicy()
	pol.AllowMismatch = false
	return pol
}

func attemptResults(t *testing.T, db *gorm.DB, token string) []string {
	t.Helper()
	var attempts []models.VerificationAttempt
	require.NoError(t, db.Where("token = ?", token).Order("id").Find(&attempts).Error)
	results := make([]string, len(attempts))
	for i, a := range attempts {
		results[i] = a.Result
	}
	return results
}
