package handlers

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// HandleChromeStats exposes basic observability for the Chrome pool (capacity / idle / in_use).
func (svc *PDFService) HandleChromeStats(c *fiber.Ctx) error {
	if svc.Pool == nil {
		return c.JSON(fiber.Map{
			"enabled":        false,
			"capacity":       0,
			"idle":           0,
			"in_use":         0,
			"pool_size_conf": svc.Config.PDF.ChromePoolSize,
			"profile_dir":    "",
			"timeout_secs":   svc.Config.PDF.TimeoutSecs,
			"restarts":       0,
		})
	}

	s := svc.Pool.Stats()
	return c.JSON(fiber.Map{
		"enabled":        s.Enabled,
		"capacity":       s.Capacity,
		"idle":           s.Idle,
		"in_use":         s.InUse,
		"pool_size_conf": s.PoolSizeConf,
		"profile_dir":    s.ProfileDir,
		"timeout_secs":   svc.Config.PDF.TimeoutSecs,
		"restarts":       s.Restarts,
		"last_restart":   s.LastRestart,
	})
}

// Ready runs every readiness check and returns the first failure.
func (svc *PDFService) Ready(ctx context.Context) error {
	for _, check := range svc.Checks {
		if err := check.Fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", check.Name, err)
		}
	}
	return nil
}
