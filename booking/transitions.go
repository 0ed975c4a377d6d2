package booking

import (
	"github.com/google/uuid"

	"github.com/anjiri1684/rental_escrow/models"
)

type Event string

const (
	EventPaymentCompleted      Event = "paymentCompleted"
	EventOwnerAccept           Event = "ownerAccept"
	EventOwnerReject           Event = "ownerReject"
	EventRenterConfirmDelivery Event = "renterConfirmDelivery"
	EventOwnerConfirmDelivery  Event = "ownerConfirmDelivery"
	EventCodeExpired           Event = "codeExpired"
	EventCodeReissued          Event = "codeReissued"
	EventRefundProcessed       Event = "refundProcessed"
	EventAdminRelease          Event = "adminRelease"
	EventAdminRefund           Event = "adminRefund"
	EventAdminCancel           Event = "adminCancel"
	EventHoldExpired           Event = "holdExpired"
	EventPaymentWindowExpired  Event = "paymentWindowExpired"
)

type Role string

const (
	RoleRenter Role = "renter"
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

// Actor is whoever asks for a transition. System actors carry a nil ID.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

func SystemActor() Actor { return Actor{Role: RoleSystem} }

// CanView reports whether a may read b: its renter, its owner, or staff.
func (a Actor) CanView(b *models.Booking) bool {
	switch a.Role {
	case RoleAdmin, RoleSystem:
		return true
	case RoleRenter:
		return a.ID != uuid.Nil && a.ID == b.RenterID
	case RoleOwner:
		return a.ID != uuid.Nil && a.ID == b.OwnerID
	}
	return false
}

type escrowAction int

const (
	escrowNone escrowAction = iota
	escrowHold
	escrowRelease
	escrowRefund
	// escrowVoid closes the ledger before any payment committed.
	escrowVoid
)

// Transition is one allowed edge of the booking lifecycle.
type Transition struct {
	From   models.BookingStatus
	Event  Event
	To     models.BookingStatus
	Roles  []Role
	escrow escrowAction
}

func (t Transition) permits(r Role) bool {
	for _, allowed := range t.Roles {
		if allowed == r {
			return true
		}
	}
	return false
}

var (
	renterOnly  = []Role{RoleRenter}
	ownerOnly   = []Role{RoleOwner}
	adminOnly   = []Role{RoleAdmin}
	systemOnly  = []Role{RoleSystem}
	systemAdmin = []Role{RoleSystem, RoleAdmin}
)

var transitionsTable = []Transition{
	// Payment
	{From: models.StatusRequirementsSubmitted, Event: EventPaymentCompleted, To: models.StatusPaymentHeld, Roles: renterOnly, escrow: escrowHold},
	{From: models.StatusRequirementsSubmitted, Event: EventAdminCancel, To: models.StatusCancelled, Roles: adminOnly, escrow: escrowVoid},
	{From: models.StatusRequirementsSubmitted, Event: EventPaymentWindowExpired, To: models.StatusCancelled, Roles: systemOnly, escrow: escrowVoid},

	// Owner decision
	{From: models.StatusPaymentHeld, Event: EventOwnerAccept, To: models.StatusOwnerAccepted, Roles: ownerOnly},
	{From: models.StatusPaymentHeld, Event: EventOwnerReject, To: models.StatusOwnerRejected, Roles: ownerOnly},
	{From: models.StatusPaymentHeld, Event: EventAdminCancel, To: models.StatusCancelled, Roles: adminOnly, escrow: escrowRefund},
	{From: models.StatusPaymentHeld, Event: EventAdminRefund, To: models.StatusRefunded, Roles: adminOnly, escrow: escrowRefund},
	{From: models.StatusPaymentHeld, Event: EventHoldExpired, To: models.StatusRefunded, Roles: systemOnly, escrow: escrowRefund},

	// Delivery
	{From: models.StatusOwnerAccepted, Event: EventRenterConfirmDelivery, To: models.StatusRenterConfirmed, Roles: renterOnly},
	{From: models.StatusOwnerAccepted, Event: EventAdminRelease, To: models.StatusCompleted, Roles: adminOnly, escrow: escrowRelease},
	{From: models.StatusOwnerAccepted, Event: EventAdminRefund, To: models.StatusRefunded, Roles: adminOnly, escrow: escrowRefund},
	{From: models.StatusOwnerAccepted, Event: EventCodeExpired, To: models.StatusOwnerAccepted, Roles: systemAdmin},
	{From: models.StatusOwnerAccepted, Event: EventCodeReissued, To: models.StatusOwnerAccepted, Roles: ownerOnly},

	// Rejection refund
	{From: models.StatusOwnerRejected, Event: EventRefundProcessed, To: models.StatusRefunded, Roles: systemAdmin, escrow: escrowRefund},
	{From: models.StatusOwnerRejected, Event: EventAdminRefund, To: models.StatusRefunded, Roles: adminOnly, escrow: escrowRefund},

	// Settlement
	{From: models.StatusRenterConfirmed, Event: EventOwnerConfirmDelivery, To: models.StatusCompleted, Roles: ownerOnly, escrow: escrowRelease},
	{From: models.StatusRenterConfirmed, Event: EventAdminRelease, To: models.StatusCompleted, Roles: adminOnly, escrow: escrowRelease},
	{From: models.StatusRenterConfirmed, Event: EventAdminRefund, To: models.StatusRefunded, Roles: adminOnly, escrow: escrowRefund},
}

// TransitionFor returns the edge leaving from on ev, if the graph has one.
func TransitionFor(from models.BookingStatus, ev Event) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}

// EventsFrom lists the events the graph accepts in status s, in table order.
func EventsFrom(s models.BookingStatus) []Event {
	var out []Event
	for _, tr := range transitionsTable {
		if tr.From == s {
			out = append(out, tr.Event)
		}
	}
	return out
}
