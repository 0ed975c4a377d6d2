package handlers

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/anjiri1684/rental_escrow/middleware"
	"github.com/anjiri1684/rental_escrow/models"
)

type NotificationReader interface {
	ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) error
}

type NotificationHandler struct {
	store  NotificationReader
	logger *slog.Logger
}

func NewNotificationHandler(store NotificationReader, logger *slog.Logger) *NotificationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationHandler{store: store, logger: logger.With("component", "notification_handler")}
}

func (h *NotificationHandler) List(c *fiber.Ctx) error {
	actor, err := middleware.CurrentActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	list, err := h.store.ListForUser(c.UserContext(), actor.ID, c.QueryBool("unread", false), limit)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{"notifications": list})
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	actor, err := middleware.CurrentActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}
	id, ok := paramID(c, "notificationId")
	if !ok {
		return badRequest(c, "Invalid notification id")
	}
	if err := h.store.MarkRead(c.UserContext(), actor.ID, id); err != nil {
		return respondError(c, h.logger, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
