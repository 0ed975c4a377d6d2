package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anjiri1684/rental_escrow/escrow"
	"github.com/anjiri1684/rental_escrow/models"
)

// EscrowStore is an in-memory escrow ledger. Rows are stamped with Now
// the way GORM stamps UpdatedAt.
type EscrowStore struct {
	mu    sync.Mutex
	holds map[uuid.UUID]models.EscrowHold

	Now func() time.Time
}

var _ escrow.Store = (*EscrowStore)(nil)

func NewEscrowStore() *EscrowStore {
	return &EscrowStore{holds: make(map[uuid.UUID]models.EscrowHold), Now: time.Now}
}

func (s *EscrowStore) Create(_ context.Context, h *models.EscrowHold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.holds[h.BookingID]; ok {
		return escrow.ErrHoldExists
	}
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	h.CreatedAt = s.Now()
	h.UpdatedAt = h.CreatedAt
	s.holds[h.BookingID] = *h
	return nil
}

func (s *EscrowStore) Get(_ context.Context, bookingID uuid.UUID) (*models.EscrowHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[bookingID]
	if !ok {
		return nil, escrow.ErrHoldNotFound
	}
	return &h, nil
}

func (s *EscrowStore) Transition(_ context.Context, bookingID uuid.UUID, from []models.EscrowStatus, to models.EscrowStatus) (*models.EscrowHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[bookingID]
	if !ok {
		return nil, escrow.ErrHoldNotFound
	}
	for _, f := range from {
		if h.Status == f {
			h.Status = to
			h.UpdatedAt = s.Now()
			s.holds[bookingID] = h
			return &h, nil
		}
	}
	return nil, escrow.ErrStatusMismatch
}

// Put overwrites a ledger row without any checks.
func (s *EscrowStore) Put(h models.EscrowHold) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	s.holds[h.BookingID] = h
}

func (s *EscrowStore) Save(_ context.Context, h *models.EscrowHold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.holds[h.BookingID]; !ok {
		return escrow.ErrHoldNotFound
	}
	h.UpdatedAt = s.Now()
	s.holds[h.BookingID] = *h
	return nil
}

func (s *EscrowStore) ListByStatus(_ context.Context, statuses []models.EscrowStatus, limit int) ([]models.EscrowHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EscrowHold
	for _, h := range s.holds {
		for _, st := range statuses {
			if h.Status == st {
				out = append(out, h)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
