package handlers

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// MachineCache is the invalidation surface of the state machine registry.
type MachineCache interface {
	Invalidate(ctx context.Context, commerceID string) error
}

// StateMachineHandler exposes administrative state machine operations.
type StateMachineHandler struct {
	cache MachineCache
}

// NewStateMachineHandler constructs handler.
func NewStateMachineHandler(cache MachineCache) *StateMachineHandler {
	return &StateMachineHandler{cache: cache}
}

// Invalidate DELETE /state-machines/:commerceId/cache.
func (h *StateMachineHandler) Invalidate(c *fiber.Ctx) error {
	if err := h.cache.Invalidate(c.UserContext(), param(c, "commerceId")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}
