package booking

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/anjiri1684/rental_escrow/models"
)

var ErrNotFound = errors.New("booking not found")

// ValidationError lists every problem found with a request.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

func validationError(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems}
}

// IllegalTransitionError is returned when the graph has no edge for the
// event, the actor may not trigger it, or a guard does not hold.
type IllegalTransitionError struct {
	From   models.BookingStatus
	Event  Event
	Reason string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot apply %s in status %s: %s", e.Event, e.From, e.Reason)
}

func illegal(from models.BookingStatus, ev Event, format string, args ...any) *IllegalTransitionError {
	return &IllegalTransitionError{From: from, Event: ev, Reason: fmt.Sprintf(format, args...)}
}

// ConcurrentModificationError means the booking changed between read and
// write. Actual is 0 when the newer version is unknown.
type ConcurrentModificationError struct {
	BookingID uuid.UUID
	Expected  int64
	Actual    int64
}

func (e *ConcurrentModificationError) Error() string {
	if e.Actual == 0 {
		return fmt.Sprintf("booking %s was modified concurrently (expected version %d)", e.BookingID, e.Expected)
	}
	return fmt.Sprintf("booking %s was modified concurrently (expected version %d, found %d)", e.BookingID, e.Expected, e.Actual)
}

// InvariantError is an internal fault: a candidate record broke a data
// model invariant and was not written.
type InvariantError struct {
	BookingID uuid.UUID
	Violation string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("booking %s invariant violated: %s", e.BookingID, e.Violation)
}

func IsConcurrent(err error) bool {
	var cm *ConcurrentModificationError
	return errors.As(err, &cm)
}

func IsIllegal(err error) bool {
	var it *IllegalTransitionError
	return errors.As(err, &it)
}
