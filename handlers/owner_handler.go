package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/anjiri1684/rental_escrow/booking"
	"github.com/anjiri1684/rental_escrow/middleware"
	"github.com/anjiri1684/rental_escrow/models"
)

type RejectRequest struct {
	Reason  string `json:"reason"`
	Version int64  `json:"version"`
}

func (h *BookingHandler) AcceptBooking(c *fiber.Ctx) error {
	return h.decide(c, true)
}

func (h *BookingHandler) RejectBooking(c *fiber.Ctx) error {
	return h.decide(c, false)
}

func (h *BookingHandler) decide(c *fiber.Ctx, accept bool) error {
	actor, err := middleware.CurrentActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}
	id, ok := paramID(c, "bookingId")
	if !ok {
		return badRequest(c, "Invalid booking id")
	}
	var req RejectRequest
	if err := parseOptional(c, &req); err != nil {
		return badRequest(c, "Cannot parse JSON")
	}
	version, ok := expectedVersion(c, req.Version)
	if !ok {
		return badRequest(c, "Invalid If-Match header")
	}

	d := booking.Decision{Accept: accept}
	if !accept {
		d.Reason = req.Reason
		if d.Reason == "" {
			d.Reason = "No reason provided"
		}
	}

	b, err := h.bookings.OwnerDecision(c.UserContext(), id, actor.ID, d, version)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	setETag(c, b.Version)
	if accept {
		return c.JSON(fiber.Map{
			"message":     "Booking accepted. A confirmation code was sent to both parties.",
			"booking":     b,
			"code_expiry": b.CodeExpiry,
		})
	}
	return c.JSON(fiber.Map{"message": "Booking rejected. The renter will be refunded minus the service fee.", "booking": b})
}

func (h *BookingHandler) OwnerConfirmDelivery(c *fiber.Ctx) error {
	return h.ownerAction(c, h.bookings.OwnerConfirmDelivery, "Delivery confirmed. Payment released to you.")
}

func (h *BookingHandler) ReissueCode(c *fiber.Ctx) error {
	return h.ownerAction(c, h.bookings.ReissueCode, "A new confirmation code was issued.")
}

type ownerCall func(ctx context.Context, bookingID, ownerID uuid.UUID, version int64) (*models.Booking, error)

func (h *BookingHandler) ownerAction(c *fiber.Ctx, call ownerCall, msg string) error {
	actor, err := middleware.CurrentActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}
	id, ok := paramID(c, "bookingId")
	if !ok {
		return badRequest(c, "Invalid booking id")
	}
	var req versionOnly
	if err := parseOptional(c, &req); err != nil {
		return badRequest(c, "Cannot parse JSON")
	}
	version, ok := expectedVersion(c, req.Version)
	if !ok {
		return badRequest(c, "Invalid If-Match header")
	}

	b, err := call(c.UserContext(), id, actor.ID, version)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	setETag(c, b.Version)
	return c.JSON(fiber.Map{"message": msg, "booking": b})
}
