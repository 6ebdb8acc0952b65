package main

import (
	"os"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"

	"github.com/zulufoxtrot/renault-renew/config"
	"github.com/zulufoxtrot/renault-renew/handlers"
	"github.com/zulufoxtrot/renault-renew/scraper/renew"
	"github.com/zulufoxtrot/renault-renew/services"
	"github.com/zulufoxtrot/renault-renew/storage"
	"github.com/zulufoxtrot/renault-renew/utils"
)

func main() {
	logger := utils.NewLogger()
	cfg := config.Load()

	logger.Info("=== Renault Renew tracker starting ===")
	logger.Info("Config: db: %s | settle: %d | concurrency: %d | rate: %dms",
		cfg.DatabasePath, cfg.SettleThreshold, cfg.MaxConcurrency, cfg.RateLimitMs)

	store, err := storage.Open(cfg.DatabasePath, logger)
	if err != nil {
		logger.Error("Failed to open database: %v", err)
		os.Exit(1)
	}

	scraper := renew.New(cfg, logger)
	reconciler := services.NewReconciler(store, logger)
	runner := services.NewRunner(scraper, reconciler, logger)

	app := fiber.New()
	app.Use(fiberlogger.New())

	handlers.SetupRoutes(app, runner, store, logger)
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString("Renault Renew tracker API. Use the /api endpoints.")
	})

	logger.Info("Listening on :%s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		logger.Error("Server stopped: %v", err)
		os.Exit(1)
	}
}
