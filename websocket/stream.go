// Package websocket streams live booking updates to the parties of a
// booking.
package websocket

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/anjiri1684/rental_escrow/booking"
	"github.com/anjiri1684/rental_escrow/middleware"
	"github.com/anjiri1684/rental_escrow/models"
)

type BookingFeed interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	Subscribe(id uuid.UUID) (<-chan booking.Update, func())
}

// AuthMessage must be the first frame a client sends.
type AuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type Stream struct {
	feed        BookingFeed
	secret      string
	logger      *slog.Logger
	authTimeout time.Duration
}

func NewStream(feed BookingFeed, secret string, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{feed: feed, secret: secret, logger: logger.With("component", "booking_stream"), authTimeout: 10 * time.Second}
}

func (s *Stream) RequireUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return c.Next()
}

func (s *Stream) Handler() fiber.Handler {
	return websocket.New(s.serve)
}

func (s *Stream) serve(c *websocket.Conn) {
	defer c.Close()

	bookingID, err := uuid.Parse(c.Params("bookingId"))
	if err != nil {
		_ = c.WriteJSON(fiber.Map{"error": "Invalid booking id"})
		return
	}

	_ = c.SetReadDeadline(time.Now().Add(s.authTimeout))
	var auth AuthMessage
	if err := c.ReadJSON(&auth); err != nil || auth.Type != "auth" {
		s.logger.Debug("websocket auth failed: invalid or missing auth message", "booking_id", bookingID, "error", err)
		_ = c.WriteJSON(fiber.Map{"error": "Invalid or missing auth message"})
		return
	}
	actor, err := middleware.ParseActor(auth.Token, s.secret)
	if err != nil {
		s.logger.Debug("websocket auth failed: invalid token", "booking_id", bookingID, "error", err)
		_ = c.WriteJSON(fiber.Map{"error": "Invalid token"})
		return
	}
	_ = c.SetReadDeadline(time.Time{})

	// Subscribe before the snapshot so nothing committed in between is lost.
	updates, cancel := s.feed.Subscribe(bookingID)
	defer cancel()

	b, err := s.feed.Get(context.Background(), bookingID)
	if err != nil {
		_ = c.WriteJSON(fiber.Map{"error": "Booking not found."})
		return
	}
	if !actor.CanView(b) {
		_ = c.WriteJSON(fiber.Map{"error": "Access denied. This booking is not yours."})
		return
	}

	snapshot := booking.Update{
		BookingID:     b.ID,
		Status:        b.Status,
		PaymentStatus: b.PaymentStatus,
		Version:       b.Version,
		At:            b.UpdatedAt,
	}
	if err := c.WriteJSON(snapshot); err != nil {
		return
	}
	s.logger.Debug("websocket client subscribed", "booking_id", bookingID, "user_id", actor.ID)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debug("websocket read error", "booking_id", bookingID, "error", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return
			}
			// Older than the snapshot.
			if u.Version <= snapshot.Version {
				continue
			}
			if err := c.WriteJSON(u); err != nil {
				s.logger.Debug("websocket write failed", "booking_id", bookingID, "error", err)
				return
			}
		case <-closed:
			return
		}
	}
}
