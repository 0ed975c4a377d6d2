package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/anjiri1684/rental_escrow/booking"
	"github.com/anjiri1684/rental_escrow/middleware"
	"github.com/anjiri1684/rental_escrow/models"
	"github.com/anjiri1684/rental_escrow/receipts"
)

type ReceiptFinder interface {
	ReceiptFor(ctx context.Context, bookingID uuid.UUID) (*models.Receipt, error)
}

type BookingHandler struct {
	bookings *booking.Service
	receipts ReceiptFinder
	logger   *slog.Logger
}

// NewBookingHandler builds the booking endpoints. receipts may be nil when
// PDF archiving is disabled.
func NewBookingHandler(svc *booking.Service, receipts ReceiptFinder, logger *slog.Logger) *BookingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BookingHandler{bookings: svc, receipts: receipts, logger: logger.With("component", "booking_handler")}
}

type SubmitRequirementsRequest struct {
	RequirementsData map[string]any `json:"requirements_data"`
	ContractAccepted bool           `json:"contract_accepted"`
}

type CompletePaymentRequest struct {
	PaymentMethod  string `json:"payment_method"`
	PaymentAccount string `json:"payment_account"`
	Version        int64  `json:"version"`
}

type ConfirmDeliveryRequest struct {
	ConfirmationCode string `json:"confirmation_code"`
	Version          int64  `json:"version"`
}

type versionOnly struct {
	Version int64 `json:"version"`
}

// parseOptional parses a JSON body only when one was sent.
func parseOptional(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	return c.BodyParser(out)
}

func (h *BookingHandler) SubmitRequirements(c *fiber.Ctx) error {
	actor, err := middleware.CurrentActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}
	itemID, ok := paramID(c, "itemId")
	if !ok {
		return badRequest(c, "Invalid rental item id")
	}

	var req SubmitRequirementsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Cannot parse JSON")
	}

	sub, err := h.bookings.SubmitRequirements(c.UserContext(), booking.SubmitRequest{
		RentalItemID:     itemID,
		RenterID:         actor.ID,
		RequirementsData: req.RequirementsData,
		ContractAccepted: req.ContractAccepted,
	})
	if err != nil {
		return respondError(c, h.logger, err)
	}

	setETag(c, sub.Version)
	status := fiber.StatusCreated
	msg := "Requirements submitted. Proceed to payment."
	if sub.Resubmitted {
		status = fiber.StatusOK
		msg = "You already have a pending booking for this item. Continue with its payment."
	}
	return c.Status(status).JSON(fiber.Map{"message": msg, "booking": sub})
}

func (h *BookingHandler) CompletePayment(c *fiber.Ctx) error {
	actor, err := middleware.CurrentActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}
	id, ok := paramID(c, "bookingId")
	if !ok {
		return badRequest(c, "Invalid booking id")
	}

	var req CompletePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Cannot parse JSON")
	}
	version, ok := expectedVersion(c, req.Version)
	if !ok {
		return badRequest(c, "Invalid If-Match header")
	}

	summary, err := h.bookings.CompletePayment(c.UserContext(), id, actor.ID, booking.PaymentDetails{
		Method:  req.PaymentMethod,
		Account: req.PaymentAccount,
	}, version)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	setETag(c, summary.Version)
	return c.JSON(fiber.Map{"message": "Payment received and held in escrow.", "payment": summary})
}

func (h *BookingHandler) ConfirmDelivery(c *fiber.Ctx) error {
	actor, err := middleware.CurrentActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}
	id, ok := paramID(c, "bookingId")
	if !ok {
		return badRequest(c, "Invalid booking id")
	}

	var req ConfirmDeliveryRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Cannot parse JSON")
	}
	version, ok := expectedVersion(c, req.Version)
	if !ok {
		return badRequest(c, "Invalid If-Match header")
	}

	b, err := h.bookings.ConfirmDelivery(c.UserContext(), id, actor.ID, req.ConfirmationCode, version)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	setETag(c, b.Version)
	return c.JSON(fiber.Map{"message": "Delivery confirmed. Waiting for the owner to confirm.", "booking": b})
}

func (h *BookingHandler) GetBooking(c *fiber.Ctx) error {
	b, ok, err := h.visibleBooking(c)
	if !ok {
		return err
	}
	setETag(c, b.Version)
	return c.JSON(fiber.Map{"booking": b})
}

func (h *BookingHandler) GetHistory(c *fiber.Ctx) error {
	b, ok, err := h.visibleBooking(c)
	if !ok {
		return err
	}
	history, err := h.bookings.History(c.UserContext(), b.ID)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{"history": history})
}

// GetReceipt serves the HTML receipt, or redirects to the archived PDF
// with ?format=pdf.
func (h *BookingHandler) GetReceipt(c *fiber.Ctx) error {
	b, ok, err := h.visibleBooking(c)
	if !ok {
		return err
	}

	if c.Query("format") == "pdf" {
		if h.receipts == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "PDF receipts are not enabled."})
		}
		r, err := h.receipts.ReceiptFor(c.UserContext(), b.ID)
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Receipt has not been archived yet."})
		}
		return c.Redirect(r.URL, fiber.StatusFound)
	}

	html, err := receipts.RenderHTML(*b)
	if errors.Is(err, receipts.ErrNotSettled) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Receipt is available once the booking is settled."})
	}
	if err != nil {
		return respondError(c, h.logger, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Send(html)
}

// visibleBooking loads the path booking for a caller allowed to see it.
// When ok is false the response has already been written.
func (h *BookingHandler) visibleBooking(c *fiber.Ctx) (*models.Booking, bool, error) {
	actor, err := middleware.CurrentActor(c)
	if err != nil {
		return nil, false, c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}
	id, ok := paramID(c, "bookingId")
	if !ok {
		return nil, false, badRequest(c, "Invalid booking id")
	}
	b, err := h.bookings.Get(c.UserContext(), id)
	if err != nil {
		return nil, false, respondError(c, h.logger, err)
	}
	if !actor.CanView(b) {
		return nil, false, c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Access denied. This booking is not yours."})
	}
	return b, true, nil
}
