package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"

	"dlgate/internal/models"
	"dlgate/internal/store"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// AdminHandler is the JSON replacement for the old HTML console: site CRUD
// plus the expiry sweep. All routes sit behind the admin password header.
type AdminHandler struct {
	sites  store.SiteStore
	tokens store.TokenStore
	logger *zap.Logger
}

func NewAdminHandler(sites store.SiteStore, tokens store.TokenStore, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{sites: sites, tokens: tokens, logger: logger}
}

func RegisterAdminRoutes(api *echo.Group, h *AdminHandler, adminPassword string) {
	g := api.Group("/sites", AdminAuth(adminPassword))
	g.GET("", h.List)
	g.POST("", h.Create)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)

	api.POST("/maintenance/expire-tokens", h.ExpireTokens, AdminAuth(adminPassword))
}

// AdminAuth checks the X-Admin-Password header. With no password configured
// the admin API stays closed.
func AdminAuth(password string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			presented := c.Request().Header.Get("X-Admin-Password")
			if presented == "" || password == "" {
				return c.JSON(http.StatusUnauthorized, errorBody("admin password required"))
			}
			if presented != password {
				return c.JSON(http.StatusForbidden, errorBody("invalid admin password"))
			}
			return next(c)
		}
	}
}

func (h *AdminHandler) List(c echo.Context) error {
	sites, err := h.sites.List(c.Request().Context())
	if err != nil {
		h.logger.Error("failed to list sites", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("internal server error"))
	}
	return c.JSON(http.StatusOK, sites)
}

func (h *AdminHandler) Create(c echo.Context) error {
	var req struct {
		Name    string `json:"name" form:"name"`
		SiteKey string `json:"site_key" form:"site_key"`
		Domain  string `json:"domain" form:"domain"`
		Status  string `json:"status" form:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	if req.Name == "" || req.SiteKey == "" {
		return c.JSON(http.StatusBadRequest, errorBody("name and site_key are required"))
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		h.logger.Error("failed to generate api key", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("internal server error"))
	}

	status := req.Status
	if status == "" {
		status = models.SiteStatusActive
	}
	site := models.Site{
		Name:    req.Name,
		SiteKey: req.SiteKey,
		APIKey:  apiKey,
		Domain:  req.Domain,
		Status:  status,
	}
	if err := h.sites.Create(c.Request().Context(), &site); err != nil {
		h.logger.Error("failed to create site", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("internal server error"))
	}
	return c.JSON(http.StatusCreated, site)
}

func (h *AdminHandler) Update(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid site id"))
	}

	site, err := h.sites.GetByID(c.Request().Context(), uint(id))
	if errors.Is(err, store.ErrSiteNotFound) {
		return c.JSON(http.StatusNotFound, errorBody("site not found"))
	}
	if err != nil {
		h.logger.Error("failed to load site", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("internal server error"))
	}

	var req struct {
		Name   string `json:"name" form:"name"`
		Domain string `json:"domain" form:"domain"`
		Status string `json:"status" form:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	if req.Name != "" {
		site.Name = req.Name
	}
	if req.Domain != "" {
		site.Domain = req.Domain
	}
	if req.Status != "" {
		site.Status = req.Status
	}

	if err := h.sites.Update(c.Request().Context(), site); err != nil {
		h.logger.Error("failed to update site", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("internal server error"))
	}
	return c.JSON(http.StatusOK, site)
}

func (h *AdminHandler) Delete(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid site id"))
	}
	if err := h.sites.Delete(c.Request().Context(), uint(id)); err != nil {
		h.logger.Error("failed to delete site", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("internal server error"))
	}
	return c.NoContent(http.StatusNoContent)
}

// ExpireTokens runs the housekeeping sweep that flips overdue active tokens
// to expired. Meant to be hit by an external cron, not by the request path.
func (h *AdminHandler) ExpireTokens(c echo.Context) error {
	n, err := h.tokens.MarkExpired(c.Request().Context(), time.Now())
	if err != nil {
		h.logger.Error("failed to expire tokens", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("internal server error"))
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "expired": n})
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
