package services

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"dlgate/internal/config"
	"dlgate/internal/models"

	"go.uber.org/zap"
)

var (
	extensionRe  = regexp.MustCompile(`(?i)\.(exe|msi|zip|rar|7z|dmg|pkg|deb|rpm|tar\.gz|iso|img)$`)
	specialRe    = regexp.MustCompile(`[^\w\s-]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Packager bundles the verifier binary with a generated config.ini into a
// zip the end user downloads. Packaging is optional: with no verifier binary
// configured the create call still issues a token and skips the archive.
type Packager struct {
	cfg    *config.Config
	logger *zap.Logger
}

func NewPackager(cfg *config.Config, logger *zap.Logger) *Packager {
	return &Packager{cfg: cfg, logger: logger}
}

func (p *Packager) Enabled() bool {
	return p.cfg.DownloaderPath != ""
}

// Build writes <cleanedSoftwareName>-<HHMMSS>.zip under the downloads dir
// and returns its relative path for the create response.
func (p *Packager) Build(token *models.DownloadToken, site *models.Site) (string, error) {
	if err := os.MkdirAll(p.cfg.DownloadsDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create downloads dir: %w", err)
	}

	name := fmt.Sprintf("%s-%s.zip", cleanSoftwareName(token.SoftwareName), time.Now().Format("150405"))
	zipPath := filepath.Join(p.cfg.DownloadsDir, name)

	f, err := os.Create(zipPath)
	if err != nil {
		return "", fmt.Errorf("failed to create package: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	src, err := os.Open(p.cfg.DownloaderPath)
	if err != nil {
		zw.Close()
		return "", fmt.Errorf("verifier binary unavailable: %w", err)
	}
	defer src.Close()

	bin, err := zw.Create("Downloader.exe")
	if err != nil {
		zw.Close()
		return "", fmt.Errorf("failed to add verifier binary: %w", err)
	}
	if _, err := io.Copy(bin, src); err != nil {
		zw.Close()
		return "", fmt.Errorf("failed to copy verifier binary: %w", err)
	}

	ini, err := zw.Create("config.ini")
	if err != nil {
		zw.Close()
		return "", fmt.Errorf("failed to add config: %w", err)
	}
	if _, err := io.WriteString(ini, p.configFile(token, site)); err != nil {
		zw.Close()
		return "", fmt.Errorf("failed to write config: %w", err)
	}

	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize package: %w", err)
	}

	p.logger.Info("built download package",
		zap.String("site", site.SiteKey),
		zap.String("package", zipPath))
	return zipPath, nil
}

// configFile renders the ini the verifier reads on the user's machine. The
// section and key names are fixed; deployed verifiers parse them.
func (p *Packager) configFile(token *models.DownloadToken, site *models.Site) string {
	verifyURL := p.cfg.StorageDomain + "/api/download"

	return fmt.Sprintf(`[download]
token = %s
software_name = %s
file_url = %s

[server]
verify_url = %s
api_key = %s

[info]
created_at = %s
expires_at = %s
site = %s
site_key = %s`,
		token.Token, token.SoftwareName, token.FileURL,
		verifyURL, site.APIKey,
		token.CreatedAt.Format("2006-01-02 15:04:05"),
		token.ExpiresAt.Format("2006-01-02 15:04:05"),
		site.Name, site.SiteKey)
}

// cleanSoftwareName strips the file extension and anything unsafe for a
// filename, capped at 20 characters.
func cleanSoftwareName(name string) string {
	clean := extensionRe.ReplaceAllString(name, "")
	clean = specialRe.ReplaceAllString(clean, "")
	clean = whitespaceRe.ReplaceAllString(clean, "")
	if clean == "" {
		clean = "Download"
	}
	if len(clean) > 20 {
		clean = clean[:20]
	}
	return clean
}
