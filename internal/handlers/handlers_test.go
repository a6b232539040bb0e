package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"dlgate/internal/config"
	"dlgate/internal/database"
	"dlgate/internal/models"
	"dlgate/internal/services"
	"dlgate/internal/store"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var handlerDBSeq atomic.Int64

type apiTestServer struct {
	e    *echo.Echo
	cfg  *config.Config
	db   *gorm.DB
	site *models.Site
}

func newAPITestServer(t *testing.T, mutate func(*config.Config)) *apiTestServer {
	t.Helper()

	n := handlerDBSeq.Add(1)
	db, err := database.Open(fmt.Sprintf("file:handlertest%d?mode=memory&cache=shared", n))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	cfg := &config.Config{
		ServerAddr:            ":0",
		StorageDomain:         "https://dw.example.com",
		DownloadsDir:          t.TempDir(),
		AdminPassword:         "hunter2",
		IPVerificationEnabled: true,
		StrictMode:            false,
		TokenExpiryHours:      24,
		MaxDownloadsPerToken:  1,
	}
	if mutate != nil {
		mutate(cfg)
	}

	site := &models.Site{
		Name:    "Handler Shop",
		SiteKey: fmt.Sprintf("hsh%d", n),
		APIKey:  fmt.Sprintf("handler-key-%d", n),
		Domain:  "https://www.hshop.cn",
		Status:  models.SiteStatusActive,
	}
	require.NoError(t, db.Create(site).Error)

	logger := zap.NewNop()
	sites := store.NewGormSiteStore(db)
	tokens := store.NewGormTokenStore(db)
	audit := store.NewGormAuditStore(db)
	sink := services.NewAuditSink(audit, tokens, logger)

	e := echo.New()
	e.HTTPErrorHandler = JSONErrorHandler(logger)
	api := e.Group("/api")
	RegisterDownloadRoutes(api, NewAPI(cfg,
		services.NewDirectory(sites, logger),
		services.NewIssuer(cfg, tokens, logger),
		services.NewEngine(tokens, sink, logger),
		sink,
		services.NewPackager(cfg, logger),
		logger))
	RegisterAdminRoutes(api, NewAdminHandler(sites, tokens, logger), cfg.AdminPassword)

	return &apiTestServer{e: e, cfg: cfg, db: db, site: site}
}

func (s *apiTestServer) do(t *testing.T, method, target string, headers map[string]string, body any) (int, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), "body: %s", rec.Body.String())
	return rec.Code, decoded
}

func TestCreateVerifyStatsFlow(t *testing.T) {
	srv := newAPITestServer(t, nil)
	auth := map[string]string{"X-API-Key": srv.site.APIKey}

	code, body := srv.do(t, http.MethodPost, "/api/download", auth, map[string]any{
		"action":        "create",
		"file_url":      "https://dw.example.com/files/Tool.exe",
		"software_name": "Tool.exe",
		"user_ip":       "1.2.3.4",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, srv.site.Name, body["site"])
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	_, err := time.Parse(timeLayout, body["expires_at"].(string))
	assert.NoError(t, err)

	// redeem from the issuing IP: legacy integer flag, file released
	code, body = srv.do(t, http.MethodPost, "/api/download", nil, map[string]any{
		"action":     "verify",
		"token":      token,
		"current_ip": "1.2.3.4",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["S"])
	assert.Equal(t, services.OutcomeIPMatch, body["result"])
	assert.Equal(t, "https://dw.example.com/files/Tool.exe", body["file_url"])
	assert.Equal(t, "Tool.exe", body["software_name"])
	assert.Equal(t, srv.site.Name, body["site"])

	// limit is 1: the retry is a policy rejection, still HTTP 200
	code, body = srv.do(t, http.MethodPost, "/api/download", nil, map[string]any{
		"action":     "verify",
		"token":      token,
		"current_ip": "1.2.3.4",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["S"])
	assert.Equal(t, services.OutcomeLimitExceeded, body["result"])

	code, body = srv.do(t, http.MethodGet, "/api/download?action=stats&api_key="+srv.site.APIKey, nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["total_downloads"])
	assert.Equal(t, float64(1), body["today_downloads"])
	assert.Equal(t, float64(2), body["total_attempts"])
	assert.Equal(t, float64(50), body["success_rate"])
	assert.Equal(t, true, body["ip_verification_enabled"])
	assert.Equal(t, false, body["strict_mode"])
}

func TestUnknownSiteIsUnauthorized(t *testing.T) {
	srv := newAPITestServer(t, nil)

	code, body := srv.do(t, http.MethodPost, "/api/download", nil, map[string]any{
		"action":        "create",
		"api_key":       "no-such-key",
		"file_url":      "https://dw.example.com/files/Tool.exe",
		"software_name": "Tool.exe",
	})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, false, body["success"])
}

func TestCreateValidation(t *testing.T) {
	srv := newAPITestServer(t, nil)
	auth := map[string]string{"X-API-Key": srv.site.APIKey}

	code, body := srv.do(t, http.MethodPost, "/api/download", auth, map[string]any{
		"action":   "create",
		"file_url": "https://dw.example.com/files/Tool.exe",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["success"])

	code, body = srv.do(t, http.MethodPost, "/api/download", auth, map[string]any{
		"action":        "create",
		"file_url":      "https://files.attacker.example/Tool.exe",
		"software_name": "Tool.exe",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["success"])
}

func TestInvalidAction(t *testing.T) {
	srv := newAPITestServer(t, nil)
	auth := map[string]string{"X-API-Key": srv.site.APIKey}

	code, body := srv.do(t, http.MethodPost, "/api/download", auth, map[string]any{
		"action": "teleport",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["success"])
}

// A deployed verifier holds only its token; the directory resolves the site
// through it without any api key or matching host.
func TestVerifyResolvesSiteByTokenAlone(t *testing.T) {
	srv := newAPITestServer(t, nil)
	auth := map[string]string{"X-API-Key": srv.site.APIKey}

	_, body := srv.do(t, http.MethodPost, "/api/download", auth, map[string]any{
		"action":        "create",
		"file_url":      "https://dw.example.com/files/Tool.exe",
		"software_name": "Tool.exe",
		"user_ip":       "1.2.3.4",
	})
	token := body["token"].(string)

	code, body := srv.do(t, http.MethodPost, "/api/download", nil, map[string]any{
		"action":     "verify",
		"token":      token,
		"current_ip": "1.2.3.4",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["S"])
}

func TestVerifyStrictModeRejection(t *testing.T) {
	srv := newAPITestServer(t, func(cfg *config.Config) {
		cfg.StrictMode = true
	})
	auth := map[string]string{"X-API-Key": srv.site.APIKey}

	_, body := srv.do(t, http.MethodPost, "/api/download", auth, map[string]any{
		"action":        "create",
		"file_url":      "https://dw.example.com/files/Tool.exe",
		"software_name": "Tool.exe",
		"user_ip":       "1.2.3.4",
	})
	token := body["token"].(string)

	code, body := srv.do(t, http.MethodPost, "/api/download", nil, map[string]any{
		"action":     "verify",
		"token":      token,
		"current_ip": "5.6.7.8",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["S"])
	assert.Equal(t, services.OutcomeIPMismatchStrict, body["result"])
	_, hasFileURL := body["file_url"]
	assert.False(t, hasFileURL)
}

func TestAdminSiteCRUD(t *testing.T) {
	srv := newAPITestServer(t, nil)

	code, _ := srv.do(t, http.MethodGet, "/api/sites", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = srv.do(t, http.MethodGet, "/api/sites", map[string]string{"X-Admin-Password": "wrong"}, nil)
	assert.Equal(t, http.StatusForbidden, code)

	admin := map[string]string{"X-Admin-Password": "hunter2"}
	code, body := srv.do(t, http.MethodPost, "/api/sites", admin, map[string]any{
		"name":     "New Shop",
		"site_key": "nsh",
		"domain":   "https://www.newshop.cn",
	})
	require.Equal(t, http.StatusCreated, code)
	assert.Len(t, body["api_key"], 32)
	assert.Equal(t, models.SiteStatusActive, body["status"])
	id := int(body["id"].(float64))

	code, body = srv.do(t, http.MethodPut, fmt.Sprintf("/api/sites/%d", id), admin, map[string]any{
		"status": models.SiteStatusMaintenance,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.SiteStatusMaintenance, body["status"])

	req := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/sites/%d", id), nil)
	req.Header.Set("X-Admin-Password", "hunter2")
	rec := httptest.NewRecorder()
	srv.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestExpireTokensSweep(t *testing.T) {
	srv := newAPITestServer(t, nil)

	stale := &models.DownloadToken{
		SiteID:        srv.site.ID,
		Token:         "hsh_0_000000000000000000000000",
		SoftwareName:  "Tool.exe",
		FileURL:       "https://dw.example.com/files/Tool.exe",
		OriginalIP:    "1.2.3.4",
		DownloadLimit: 1,
		Status:        models.TokenStatusActive,
		ExpiresAt:     time.Now().Add(-time.Hour),
	}
	require.NoError(t, srv.db.Create(stale).Error)

	code, _ := srv.do(t, http.MethodPost, "/api/maintenance/expire-tokens", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	admin := map[string]string{"X-Admin-Password": "hunter2"}
	code, body := srv.do(t, http.MethodPost, "/api/maintenance/expire-tokens", admin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["expired"])

	var after models.DownloadToken
	require.NoError(t, srv.db.First(&after, stale.ID).Error)
	assert.Equal(t, models.TokenStatusExpired, after.Status)
}
