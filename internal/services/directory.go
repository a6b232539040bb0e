package services

import (
	"context"
	"errors"
	"strings"

	"dlgate/internal/models"
	"dlgate/internal/store"

	"go.uber.org/zap"
)

// ErrUnknownSite means no resolution strategy matched the request. Callers
// must treat it as fatal to the request (401-class).
var ErrUnknownSite = errors.New("unknown site")

// Credentials carries everything a request can identify itself with.
type Credentials struct {
	APIKey string
	Host   string
	Token  string
	// Verify is true for verification calls, which may resolve through the
	// token alone since holding it already proves the issuing site.
	Verify bool
}

type resolveStrategy func(ctx context.Context, creds Credentials) (*models.Site, error)

// Directory resolves an inbound request to the site it belongs to via an
// ordered strategy chain: API key, then domain match, then (verify only) the
// token itself. First match wins.
type Directory struct {
	sites  store.SiteStore
	logger *zap.Logger
	chain  []resolveStrategy
}

func NewDirectory(sites store.SiteStore, logger *zap.Logger) *Directory {
	d := &Directory{sites: sites, logger: logger}
	d.chain = []resolveStrategy{d.byAPIKey, d.byDomain, d.byToken}
	return d
}

func (d *Directory) Resolve(ctx context.Context, creds Credentials) (*models.Site, error) {
	for _, strategy := range d.chain {
		site, err := strategy(ctx, creds)
		if err != nil {
			return nil, err
		}
		if site != nil {
			return site, nil
		}
	}

	d.logger.Debug("no site matched request",
		zap.String("host", creds.Host),
		zap.Bool("verify", creds.Verify))
	return nil, ErrUnknownSite
}

func (d *Directory) byAPIKey(ctx context.Context, creds Credentials) (*models.Site, error) {
	if creds.APIKey == "" {
		return nil, nil
	}
	site, err := d.sites.GetByAPIKey(ctx, creds.APIKey)
	if errors.Is(err, store.ErrSiteNotFound) {
		return nil, nil
	}
	return site, err
}

// byDomain matches the request host as a substring of a registered site
// domain, so "example.com" matches a site registered as
// "https://www.example.com".
func (d *Directory) byDomain(ctx context.Context, creds Credentials) (*models.Site, error) {
	if creds.Host == "" {
		return nil, nil
	}
	sites, err := d.sites.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range sites {
		if sites[i].Domain != "" && strings.Contains(sites[i].Domain, creds.Host) {
			return &sites[i], nil
		}
	}
	return nil, nil
}

func (d *Directory) byToken(ctx context.Context, creds Credentials) (*models.Site, error) {
	if !creds.Verify || creds.Token == "" {
		return nil, nil
	}
	site, err := d.sites.GetByToken(ctx, creds.Token)
	if errors.Is(err, store.ErrSiteNotFound) {
		return nil, nil
	}
	return site, err
}
