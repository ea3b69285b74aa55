package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/postpilot/postpilot/internal/service"
	"github.com/postpilot/postpilot/internal/transfer"
)

type PlatformHandler struct {
	s service.ConnectionService
}

func NewPlatformHandler(service service.ConnectionService) *PlatformHandler {
	return &PlatformHandler{s: service}
}

// StoreConnection accepts a finished credential from the external connect
// flow and makes the platform available as a publish target.
func (h *PlatformHandler) StoreConnection(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var cc transfer.ConnectionCreation
	if err := c.BodyParser(&cc); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request body",
		})
	}

	id, err := h.s.Store(c.Context(), userID, &cc)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message":       "Connection stored",
		"connection_id": id,
	})
}

func (h *PlatformHandler) ListConnections(c *fiber.Ctx) error {
	userID := GetUserID(c)

	connections, err := h.s.List(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to list connections",
		})
	}

	return c.Status(fiber.StatusOK).JSON(connections)
}

func (h *PlatformHandler) DisconnectConnection(c *fiber.Ctx) error {
	userID := GetUserID(c)
	connectionID := c.QueryInt("id", 0)

	if err := h.s.Disconnect(c.Context(), userID, int64(connectionID)); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.SendStatus(fiber.StatusOK)
}

func (h *PlatformHandler) RemoveConnection(c *fiber.Ctx) error {
	userID := GetUserID(c)
	connectionID := c.QueryInt("id", 0)

	if err := h.s.Remove(c.Context(), userID, int64(connectionID)); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to remove connection",
		})
	}

	return c.SendStatus(fiber.StatusOK)
}
