package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/anjiri1684/rental_escrow/handlers"
	"github.com/anjiri1684/rental_escrow/middleware"
)

func NotificationRoutes(app *fiber.App, h *handlers.NotificationHandler, secret string) {
	api := app.Group("/api/v1")

	notifications := api.Group("/notifications", middleware.Protected(secret))
	notifications.Get("", h.List)
	notifications.Post("/:notificationId/read", h.MarkRead)
}
