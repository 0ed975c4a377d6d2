package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/anjiri1684/rental_escrow/booking"
	"github.com/anjiri1684/rental_escrow/handlers"
	"github.com/anjiri1684/rental_escrow/middleware"
)

func BookingRoutes(app *fiber.App, h *handlers.BookingHandler, secret string) {
	api := app.Group("/api/v1")

	bookings := api.Group("/bookings", middleware.Protected(secret))
	bookings.Get("/:bookingId", h.GetBooking)
	bookings.Get("/:bookingId/history", h.GetHistory)
	bookings.Get("/:bookingId/receipt", h.GetReceipt)

	renterOnly := middleware.RoleRequired(booking.RoleRenter)
	bookings.Post("/rental-items/:itemId/requirements", renterOnly, h.SubmitRequirements)
	bookings.Post("/:bookingId/complete-payment", renterOnly, h.CompletePayment)
	bookings.Post("/:bookingId/confirm-delivery", renterOnly, h.ConfirmDelivery)

	owner := api.Group("/owner/bookings", middleware.Protected(secret), middleware.RoleRequired(booking.RoleOwner))
	owner.Post("/:bookingId/accept", h.AcceptBooking)
	owner.Post("/:bookingId/reject", h.RejectBooking)
	owner.Post("/:bookingId/confirm-delivery", h.OwnerConfirmDelivery)
	owner.Post("/:bookingId/reissue-code", h.ReissueCode)
}

func AdminRoutes(app *fiber.App, h *handlers.BookingHandler, secret string) {
	api := app.Group("/api/v1")

	admin := api.Group("/admin", middleware.Protected(secret), middleware.RoleRequired(booking.RoleAdmin))
	admin.Post("/bookings/:bookingId/override", h.AdminOverride)
	admin.Get("/held-payments", h.HeldPayments)
}
