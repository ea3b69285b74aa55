package handlers

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/postpilot/postpilot/internal/pipeline"
)

// Runner is the slice of the coordinator the trigger endpoint needs.
type Runner interface {
	Run(ctx context.Context) (*pipeline.CronRun, error)
}

type CronHandler struct {
	runner Runner
	secret string
}

func NewCronHandler(runner Runner, secret string) *CronHandler {
	return &CronHandler{runner: runner, secret: secret}
}

// TriggerRun is invoked by the external scheduler on a fixed interval. It is
// safe under overlapping triggers: the claim step guarantees each due post is
// dispatched by exactly one run.
func (h *CronHandler) TriggerRun(c *fiber.Ctx) error {
	if h.secret != "" && c.Get("X-Cron-Secret") != h.secret {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "invalid cron secret",
		})
	}

	run, err := h.runner.Run(c.Context())
	if err != nil {
		slog.Error("publish run failed", "error", err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":         true,
		"processed_count": run.ProcessedCount,
		"failed_count":    run.FailedCount,
	})
}
