package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/anjiri1684/rental_escrow/websocket"
)

// WebsocketRoutes is not behind Protected: browsers cannot set headers on
// an upgrade, so the stream authenticates with its first frame.
func WebsocketRoutes(app *fiber.App, s *websocket.Stream) {
	api := app.Group("/api/v1")

	api.Use("/ws", s.RequireUpgrade)
	api.Get("/ws/bookings/:bookingId", s.Handler())
}
