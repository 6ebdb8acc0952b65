package handlers

import (
	"bytes"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/zulufoxtrot/renault-renew/models"
	"github.com/zulufoxtrot/renault-renew/services"
	"github.com/zulufoxtrot/renault-renew/storage"
	"github.com/zulufoxtrot/renault-renew/utils"
)

// API bundles the dependencies of the HTTP handlers.
type API struct {
	runner *services.Runner
	store  storage.Store
	logger *utils.Logger
}

// SetupRoutes registers all API routes on the given fiber app.
func SetupRoutes(app *fiber.App, runner *services.Runner, store storage.Store, logger *utils.Logger) {
	api := &API{runner: runner, store: store, logger: logger}

	app.Post("/api/refresh", api.Refresh)
	app.Post("/api/cancel", api.Cancel)
	app.Get("/api/status", api.Status)
	app.Get("/api/vehicles", api.Vehicles)
	app.Get("/api/vehicles.csv", api.VehiclesCSV)
	app.Get("/api/stats", api.Stats)
}

// Refresh triggers a new scrape run. While a run is active the endpoint
// answers 409 without blocking.
func (a *API) Refresh(c *fiber.Ctx) error {
	if err := a.runner.Start(); err != nil {
		if errors.Is(err, services.ErrAlreadyRunning) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success": false,
				"error":   "scrape already running",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Scraping started",
	})
}

// Cancel requests cooperative cancellation of the active run. Calling it
// with no run in flight is a no-op.
func (a *API) Cancel(c *fiber.Ctx) error {
	a.runner.Cancel()
	return c.JSON(fiber.Map{"success": true})
}

// Status reports the current job state for polling.
func (a *API) Status(c *fiber.Ctx) error {
	snap := a.runner.Snapshot()

	var errField interface{}
	if snap.Error != "" {
		errField = snap.Error
	}

	return c.JSON(fiber.Map{
		"success":         true,
		"is_running":      snap.Status == services.StatusRunning,
		"progress":        snap.Progress,
		"status_message":  snap.Message,
		"last_run":        snap.LastRun,
		"error":           errField,
		"pages_processed": snap.PagesProcessed,
		"ads_processed":   snap.RecordsProcessed,
		"ads_added":       snap.RecordsAdded,
	})
}

// Vehicles returns the full catalog with embedded price history and derived
// stats.
func (a *API) Vehicles(c *fiber.Ctx) error {
	vehicles, err := a.store.QueryAll()
	if err != nil {
		return a.storeError(c, err)
	}
	stats, err := a.store.Stats()
	if err != nil {
		return a.storeError(c, err)
	}

	if vehicles == nil {
		vehicles = []*models.Vehicle{}
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"vehicles":  vehicles,
		"stats":     stats,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// VehiclesCSV streams the catalog in the legacy CSV layout.
func (a *API) VehiclesCSV(c *fiber.Ctx) error {
	vehicles, err := a.store.QueryAll()
	if err != nil {
		return a.storeError(c, err)
	}

	var buf bytes.Buffer
	if err := storage.WriteVehiclesCSV(&buf, vehicles); err != nil {
		return a.storeError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="vehicles.csv"`)
	return c.Send(buf.Bytes())
}

// Stats returns the derived catalog counters.
func (a *API) Stats(c *fiber.Ctx) error {
	stats, err := a.store.Stats()
	if err != nil {
		return a.storeError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"stats":   stats,
	})
}

func (a *API) storeError(c *fiber.Ctx, err error) error {
	a.logger.Error("[api] Store error: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success": false,
		"error":   err.Error(),
	})
}
