// Package confirmation issues and redeems the single-use delivery codes a
// renter enters to attest that the rented item was handed over.
package confirmation

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/anjiri1684/rental_escrow/models"
	"github.com/anjiri1684/rental_escrow/utils"
)

var (
	ErrInvalidCode      = errors.New("confirmation code does not match")
	ErrExpiredCode      = errors.New("confirmation code has expired")
	ErrAlreadyConfirmed = errors.New("delivery already confirmed")
)

const maxGenerateAttempts = 8

// Issuer generates fixed-length numeric codes with a fixed lifetime.
// It works on the booking record handed to it; persisting the change is
// the caller's versioned write.
type Issuer struct {
	ttl      time.Duration
	length   int
	generate func(n int) (string, error)
}

func NewIssuer(ttl time.Duration, length int) *Issuer {
	return &Issuer{ttl: ttl, length: length, generate: utils.GenerateNumericCode}
}

// WithGenerator replaces the random source. Used by tests to force
// collisions.
func (i *Issuer) WithGenerator(gen func(n int) (string, error)) *Issuer {
	i.generate = gen
	return i
}

func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue stores a fresh code on b with expiry now+ttl. A candidate equal to
// the booking's current live code is discarded and regenerated.
func (i *Issuer) Issue(b *models.Booking, now time.Time) (string, time.Time, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		code, err := i.generate(i.length)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("generate confirmation code: %w", err)
		}
		if b.HasLiveCode(now) && *b.ConfirmationCode == code {
			continue
		}
		expiry := now.Add(i.ttl)
		b.ConfirmationCode = &code
		b.CodeExpiry = &expiry
		return code, expiry, nil
	}
	return "", time.Time{}, fmt.Errorf("generate confirmation code: %d consecutive collisions", maxGenerateAttempts)
}

// Redeem consumes the code on b. On success the code is cleared and
// RenterConfirmed is set; the caller must persist b in the same write as
// the status change.
func (i *Issuer) Redeem(b *models.Booking, supplied string, now time.Time) error {
	if b.RenterConfirmed {
		return ErrAlreadyConfirmed
	}
	if b.ConfirmationCode == nil || b.CodeExpiry == nil {
		return ErrInvalidCode
	}
	if subtle.ConstantTimeCompare([]byte(*b.ConfirmationCode), []byte(supplied)) != 1 {
		return ErrInvalidCode
	}
	if now.After(*b.CodeExpiry) {
		return ErrExpiredCode
	}

	b.ClearCode()
	b.RenterConfirmed = true
	b.RenterConfirmedAt = &now
	return nil
}

// Expired reports whether b holds a code whose expiry has passed.
func Expired(b *models.Booking, now time.Time) bool {
	return b.ConfirmationCode != nil && b.CodeExpiry != nil && now.After(*b.CodeExpiry)
}
