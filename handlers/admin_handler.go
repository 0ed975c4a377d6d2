package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/anjiri1684/rental_escrow/booking"
	"github.com/anjiri1684/rental_escrow/middleware"
)

type AdminOverrideRequest struct {
	Action  string `json:"action"`
	Note    string `json:"note"`
	Version int64  `json:"version"`
}

func (h *BookingHandler) AdminOverride(c *fiber.Ctx) error {
	actor, err := middleware.CurrentActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}
	id, ok := paramID(c, "bookingId")
	if !ok {
		return badRequest(c, "Invalid booking id")
	}
	var req AdminOverrideRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Cannot parse JSON")
	}
	version, ok := expectedVersion(c, req.Version)
	if !ok {
		return badRequest(c, "Invalid If-Match header")
	}

	b, err := h.bookings.AdminOverride(c.UserContext(), id, actor.ID, booking.AdminAction(req.Action), req.Note, version)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	h.logger.Info("admin override applied", "booking_id", id, "admin_id", actor.ID, "action", req.Action)
	setETag(c, b.Version)
	return c.JSON(fiber.Map{"message": "Override applied.", "booking": b})
}

func (h *BookingHandler) HeldPayments(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	held, err := h.bookings.HeldPayments(c.UserContext(), limit)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{"bookings": held, "count": len(held)})
}
