package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anjiri1684/rental_escrow/booking"
	"github.com/anjiri1684/rental_escrow/models"
)

// BookingStore keeps bookings in memory with the same compare-and-set
// semantics as the database store.
type BookingStore struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]*models.Booking
	history  map[uuid.UUID][]models.BookingTransition

	// BeforeUpdate, when set, runs inside Update before the version
	// check. Tests use it to interleave a competing write.
	BeforeUpdate func(b *models.Booking)
}

var _ booking.Store = (*BookingStore)(nil)

func NewBookingStore() *BookingStore {
	return &BookingStore{
		bookings: make(map[uuid.UUID]*models.Booking),
		history:  make(map[uuid.UUID][]models.BookingTransition),
	}
}

func (s *BookingStore) Create(_ context.Context, b *models.Booking, audit *models.BookingTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	s.bookings[b.ID] = b.Clone()
	if audit != nil {
		audit.BookingID = b.ID
		s.history[b.ID] = append(s.history[b.ID], *audit)
	}
	return nil
}

func (s *BookingStore) Get(_ context.Context, id uuid.UUID) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, booking.ErrNotFound
	}
	return b.Clone(), nil
}

func (s *BookingStore) Update(_ context.Context, b *models.Booking, expectedVersion int64, audit *models.BookingTransition) error {
	if hook := s.BeforeUpdate; hook != nil {
		hook(b)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.bookings[b.ID]
	if !ok {
		return booking.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return &booking.ConcurrentModificationError{BookingID: b.ID, Expected: expectedVersion, Actual: cur.Version}
	}
	b.Version = expectedVersion + 1
	s.bookings[b.ID] = b.Clone()
	if audit != nil {
		audit.Version = b.Version
		s.history[b.ID] = append(s.history[b.ID], *audit)
	}
	return nil
}

// Put overwrites a booking without any checks.
func (s *BookingStore) Put(b *models.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = b.Clone()
}

func (s *BookingStore) FindOpen(_ context.Context, itemID, renterID uuid.UUID) ([]models.Booking, error) {
	return s.filter(0, func(b *models.Booking) bool {
		return b.RentalItemID == itemID && b.RenterID == renterID && !b.Status.Terminal()
	}), nil
}

func (s *BookingStore) ListExpiredCodes(_ context.Context, now time.Time, limit int) ([]models.Booking, error) {
	return s.filter(limit, func(b *models.Booking) bool {
		return b.ConfirmationCode != nil && b.CodeExpiry != nil && b.CodeExpiry.Before(now)
	}), nil
}

func (s *BookingStore) ListStalled(_ context.Context, q booking.StallQuery) ([]models.Booking, error) {
	return s.filter(q.Limit, func(b *models.Booking) bool {
		if b.Status != q.Status || b.PaymentStatus != q.PaymentStatus {
			return false
		}
		if q.OwnerStatus != "" && b.OwnerConfirmationStatus != q.OwnerStatus {
			return false
		}
		return b.UpdatedAt.Before(q.UpdatedBefore)
	}), nil
}

func (s *BookingStore) ListByPaymentStatus(_ context.Context, statuses []models.PaymentStatus, limit int) ([]models.Booking, error) {
	return s.filter(limit, func(b *models.Booking) bool {
		for _, st := range statuses {
			if b.PaymentStatus == st {
				return true
			}
		}
		return false
	}), nil
}

func (s *BookingStore) History(_ context.Context, id uuid.UUID) ([]models.BookingTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.BookingTransition(nil), s.history[id]...), nil
}

func (s *BookingStore) filter(limit int, keep func(*models.Booking) bool) []models.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Booking
	for _, b := range s.bookings {
		if keep(b) {
			out = append(out, *b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
