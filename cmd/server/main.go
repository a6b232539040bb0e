package main

import (
	"log"

	"dlgate/internal/config"
	"dlgate/internal/database"
	"dlgate/internal/handlers"
	"dlgate/internal/services"
	"dlgate/internal/store"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Init DB
	if err := database.InitDB(cfg.DatabasePath); err != nil {
		log.Fatalf("Failed to init DB: %v", err)
	}

	// 3. Stores & Services
	sites := store.NewGormSiteStore(database.DB)
	tokens := store.NewGormTokenStore(database.DB)
	audit := store.NewGormAuditStore(database.DB)

	dir := services.NewDirectory(sites, logger)
	sink := services.NewAuditSink(audit, tokens, logger)
	issuer := services.NewIssuer(cfg, tokens, logger)
	engine := services.NewEngine(tokens, sink, logger)
	packager := services.NewPackager(cfg, logger)

	// 4. API Server
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.POST, echo.OPTIONS},
		AllowHeaders: []string{echo.HeaderContentType, "X-API-Key"},
	}))
	e.HTTPErrorHandler = handlers.JSONErrorHandler(logger)

	// Built packages are served directly
	e.Static("/downloads", cfg.DownloadsDir)

	// API Routes
	api := e.Group("/api")
	handlers.RegisterDownloadRoutes(api, handlers.NewAPI(cfg, dir, issuer, engine, sink, packager, logger))
	handlers.RegisterAdminRoutes(api, handlers.NewAdminHandler(sites, tokens, logger), cfg.AdminPassword)

	log.Printf("dlgate starting on %s...", cfg.ServerAddr)
	e.Logger.Fatal(e.Start(cfg.ServerAddr))
}
