package handlers

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/anjiri1684/rental_escrow/booking"
	"github.com/anjiri1684/rental_escrow/confirmation"
	"github.com/anjiri1684/rental_escrow/escrow"
)

// respondError maps domain errors onto HTTP responses.
func respondError(c *fiber.Ctx, logger *slog.Logger, err error) error {
	var (
		verr    *booking.ValidationError
		illegal *booking.IllegalTransitionError
		cme     *booking.ConcurrentModificationError
		gwErr   *escrow.GatewayError
	)

	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Validation failed", "details": verr.Problems})
	case errors.Is(err, booking.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Booking not found."})
	case errors.Is(err, booking.ErrItemNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Rental item not found."})
	case errors.As(err, &cme):
		body := fiber.Map{"error": "Booking was modified by someone else. Reload and try again.", "retry": true}
		if cme.Actual > 0 {
			body["current_version"] = cme.Actual
		}
		return c.Status(fiber.StatusConflict).JSON(body)
	case errors.As(err, &illegal):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": illegal.Error(), "status": illegal.From, "event": illegal.Event})
	case errors.Is(err, confirmation.ErrInvalidCode):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "Invalid confirmation code.", "code": "invalid_code"})
	case errors.Is(err, confirmation.ErrExpiredCode):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "Confirmation code has expired.", "code": "expired_code"})
	case errors.Is(err, confirmation.ErrAlreadyConfirmed):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "Delivery already confirmed.", "code": "already_confirmed"})
	case errors.As(err, &gwErr):
		logger.Warn("payment gateway failure", "op", gwErr.Op, "booking_id", gwErr.BookingID, "attempts", gwErr.Attempts, "error", gwErr.Err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Payment provider is unavailable. Please try again later.", "op": gwErr.Op})
	}

	logger.Error("request failed", "path", c.Path(), "method", c.Method(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func paramID(c *fiber.Ctx, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params(name))
	return id, err == nil
}

// expectedVersion prefers an If-Match header over the body's version
// field. Zero means the caller did not pin a version.
func expectedVersion(c *fiber.Ctx, body int64) (int64, bool) {
	raw := strings.TrimSpace(c.Get(fiber.HeaderIfMatch))
	if raw == "" {
		return body, true
	}
	raw = strings.TrimPrefix(raw, "W/")
	raw = strings.Trim(raw, `"`)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func setETag(c *fiber.Ctx, version int64) {
	c.Set(fiber.HeaderETag, `"`+strconv.FormatInt(version, 10)+`"`)
}
