package booking

import (
	"math"

	"github.com/anjiri1684/rental_escrow/models"
)

// MaxAmount is the largest sum a numeric(10,2) money column holds.
const MaxAmount = 99_999_999.99

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func validMoney(v float64) bool {
	return finite(v) && v >= 0 && v <= MaxAmount
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func sameAmount(a, b float64) bool {
	return math.Abs(a-b) < 0.005
}

// checkInvariants validates next, the record about to be written over
// prev. prev is nil on creation.
func checkInvariants(prev, next *models.Booking) *InvariantError {
	fail := func(msg string) *InvariantError {
		return &InvariantError{BookingID: next.ID, Violation: msg}
	}

	if !validMoney(next.PaymentAmount) || !validMoney(next.ServiceFee) || !validMoney(next.TotalAmount) {
		return fail("amounts must be finite and within the money column range")
	}

	if next.PaymentStatus == models.PaymentHeld {
		switch next.Status {
		case models.StatusPaymentHeld, models.StatusOwnerAccepted, models.StatusOwnerRejected, models.StatusRenterConfirmed:
		default:
			return fail("payment held outside an escrow status: " + string(next.Status))
		}
	}
	if next.Status == models.StatusCompleted && next.PaymentStatus != models.PaymentCompleted {
		return fail("completed booking with payment " + string(next.PaymentStatus))
	}

	if (next.ConfirmationCode == nil) != (next.CodeExpiry == nil) {
		return fail("confirmation code and expiry must be set together")
	}
	if next.ConfirmationCode != nil {
		if next.OwnerConfirmationStatus != models.OwnerAccepted {
			return fail("confirmation code without owner acceptance")
		}
		if next.Status.Terminal() {
			return fail("confirmation code on terminal booking")
		}
	}

	switch next.Status {
	case models.StatusOwnerAccepted, models.StatusRenterConfirmed:
		if next.OwnerConfirmationStatus != models.OwnerAccepted {
			return fail("status " + string(next.Status) + " without owner acceptance")
		}
	case models.StatusOwnerRejected:
		if next.OwnerConfirmationStatus != models.OwnerRejected {
			return fail("status OwnerRejected without owner rejection")
		}
	}
	if next.Status == models.StatusRenterConfirmed && !next.RenterConfirmed {
		return fail("RenterConfirmed status without renter confirmation")
	}

	if next.PaymentHeldAt != nil && !sameAmount(next.TotalAmount, next.PaymentAmount+next.ServiceFee) {
		return fail("total amount is not payment amount plus service fee")
	}

	if prev == nil {
		return nil
	}
	if prev.ID != next.ID || prev.RenterID != next.RenterID || prev.OwnerID != next.OwnerID || prev.RentalItemID != next.RentalItemID {
		return fail("booking references are immutable")
	}
	if prev.ContractAccepted != next.ContractAccepted {
		return fail("contract acceptance is immutable")
	}
	if prev.RenterConfirmed && !next.RenterConfirmed {
		return fail("renter confirmation cannot be withdrawn")
	}
	if prev.PaymentHeldAt != nil {
		if !sameAmount(prev.PaymentAmount, next.PaymentAmount) ||
			!sameAmount(prev.ServiceFee, next.ServiceFee) ||
			!sameAmount(prev.TotalAmount, next.TotalAmount) {
			return fail("amounts are frozen once payment is held")
		}
	}
	if prev.Status.Terminal() {
		return fail("terminal booking cannot change")
	}
	return nil
}
