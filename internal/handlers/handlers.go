package handlers

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"dlgate/internal/config"
	"dlgate/internal/models"
	"dlgate/internal/services"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const timeLayout = "2006-01-02 15:04:05"

// apiRequest is the union of fields the legacy download API accepts, as JSON
// or form body with query fallbacks.
type apiRequest struct {
	Action       string `json:"action" form:"action" query:"action"`
	APIKey       string `json:"api_key" form:"api_key" query:"api_key"`
	FileURL      string `json:"file_url" form:"file_url"`
	SoftwareName string `json:"software_name" form:"software_name"`
	UserIP       string `json:"user_ip" form:"user_ip"`
	Token        string `json:"token" form:"token" query:"token"`
	CurrentIP    string `json:"current_ip" form:"current_ip"`
}

type API struct {
	cfg      *config.Config
	dir      *services.Directory
	issuer   *services.Issuer
	engine   *services.Engine
	sink     *services.AuditSink
	packager *services.Packager
	logger   *zap.Logger
}

func NewAPI(cfg *config.Config, dir *services.Directory, issuer *services.Issuer, engine *services.Engine, sink *services.AuditSink, packager *services.Packager, logger *zap.Logger) *API {
	return &API{cfg: cfg, dir: dir, issuer: issuer, engine: engine, sink: sink, packager: packager, logger: logger}
}

func RegisterDownloadRoutes(api *echo.Group, h *API) {
	api.POST("/download", h.Download)
	api.GET("/download", h.Download)
}

// Download is the single legacy endpoint, dispatching on the action field.
func (h *API) Download(c echo.Context) error {
	var req apiRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	// Legacy clients put action/credentials in the query string on POSTs.
	if req.Action == "" {
		req.Action = c.QueryParam("action")
	}
	if req.APIKey == "" {
		req.APIKey = c.QueryParam("api_key")
	}
	if req.Token == "" {
		req.Token = c.QueryParam("token")
	}

	ctx := c.Request().Context()
	apiKey := c.Request().Header.Get("X-API-Key")
	if apiKey == "" {
		apiKey = req.APIKey
	}

	site, err := h.dir.Resolve(ctx, services.Credentials{
		APIKey: apiKey,
		Host:   c.Request().Host,
		Token:  req.Token,
		Verify: req.Action == "verify",
	})
	if errors.Is(err, services.ErrUnknownSite) {
		return c.JSON(http.StatusUnauthorized, errorBody("unrecognized site"))
	}
	if err != nil {
		return h.systemError(c, err)
	}

	switch req.Action {
	case "create":
		return h.create(c, site, req)
	case "verify":
		return h.verify(c, site, req)
	case "stats":
		return h.stats(c, site)
	default:
		return c.JSON(http.StatusBadRequest, errorBody("invalid action"))
	}
}

func (h *API) create(c echo.Context, site *models.Site, req apiRequest) error {
	ctx := c.Request().Context()

	clientIP := req.UserIP
	if clientIP == "" {
		clientIP = clientIPFromRequest(c)
	}

	token, err := h.issuer.Issue(ctx, site, services.IssueRequest{
		FileURL:      req.FileURL,
		SoftwareName: req.SoftwareName,
		ClientIP:     clientIP,
		UserAgent:    c.Request().UserAgent(),
		Referrer:     c.Request().Referer(),
	}, h.cfg.Policy())
	if errors.Is(err, services.ErrMissingParameter) {
		return c.JSON(http.StatusBadRequest, errorBody("missing required parameters"))
	}
	if errors.Is(err, services.ErrInvalidFileURL) {
		return c.JSON(http.StatusBadRequest, errorBody("invalid file url"))
	}
	if err != nil {
		return h.systemError(c, err)
	}

	downloadURL := ""
	if h.packager.Enabled() {
		downloadURL, err = h.packager.Build(token, site)
		if err != nil {
			return h.systemError(c, err)
		}
	}

	h.sink.Log(ctx, site.ID, "info",
		fmt.Sprintf("created download token for %s", req.SoftwareName),
		clientIP, c.Request().UserAgent())

	resp := echo.Map{
		"success":    true,
		"token":      token.Token,
		"expires_at": token.ExpiresAt.Format(timeLayout),
		"site":       site.Name,
		"message":    "download package created",
	}
	if downloadURL != "" {
		resp["download_url"] = downloadURL
	}
	return c.JSON(http.StatusOK, resp)
}

// verify keeps the legacy response shape: S is an integer flag, and policy
// rejections are HTTP 200 so old verifier builds can parse the body.
func (h *API) verify(c echo.Context, site *models.Site, req apiRequest) error {
	res, err := h.engine.Verify(c.Request().Context(), req.Token, req.CurrentIP,
		c.Request().UserAgent(), h.cfg.Policy())
	if err != nil {
		return h.systemError(c, err)
	}

	flag := 0
	if res.OK {
		flag = 1
	}
	resp := echo.Map{"S": flag, "result": res.Code, "message": res.Message}
	if res.OK {
		resp["file_url"] = res.Record.FileURL
		resp["software_name"] = res.Record.SoftwareName
		siteName := res.Record.Site.Name
		if siteName == "" {
			siteName = site.Name
		}
		resp["site"] = siteName
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *API) stats(c echo.Context, site *models.Site) error {
	st, err := h.sink.StatsFor(c.Request().Context(), site.ID)
	if err != nil {
		return h.systemError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success":                 true,
		"site":                    site.Name,
		"total_downloads":         st.TotalDownloads,
		"today_downloads":         st.TodayDownloads,
		"total_attempts":          st.TotalAttempts,
		"success_rate":            st.SuccessRate,
		"ip_verification_enabled": h.cfg.IPVerificationEnabled,
		"strict_mode":             h.cfg.StrictMode,
	})
}

func (h *API) systemError(c echo.Context, err error) error {
	h.logger.Error("request failed",
		zap.String("path", c.Request().URL.Path),
		zap.Error(err))
	return c.JSON(http.StatusInternalServerError, errorBody("internal server error"))
}

func errorBody(message string) echo.Map {
	return echo.Map{"success": false, "message": message}
}

// clientIPFromRequest picks the requester IP the way the deployed edge does:
// Cloudflare header, then X-Forwarded-For (first entry), then X-Real-IP,
// then the socket address.
func clientIPFromRequest(c echo.Context) string {
	r := c.Request()
	candidates := []string{
		r.Header.Get("CF-Connecting-IP"),
		r.Header.Get("X-Forwarded-For"),
		r.Header.Get("X-Real-IP"),
	}
	for _, raw := range candidates {
		if raw == "" {
			continue
		}
		ip := raw
		if idx := strings.Index(ip, ","); idx >= 0 {
			ip = ip[:idx]
		}
		ip = strings.TrimSpace(ip)
		if net.ParseIP(ip) != nil {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// JSONErrorHandler guarantees every error leaving the server is a JSON body
// in the legacy envelope, never an HTML error page.
func JSONErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		message := "internal server error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if msg, ok := he.Message.(string); ok {
				message = msg
			}
		}
		if code >= http.StatusInternalServerError {
			logger.Error("unhandled error",
				zap.String("path", c.Request().URL.Path),
				zap.Error(err))
			message = "internal server error"
		}

		_ = c.JSON(code, errorBody(message))
	}
}
