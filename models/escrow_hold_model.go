package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EscrowStatus string

const (
	EscrowPending   EscrowStatus = "pending"
	EscrowHeld      EscrowStatus = "held"
	EscrowReleasing EscrowStatus = "releasing"
	EscrowRefunding EscrowStatus = "refunding"
	EscrowReleased  EscrowStatus = "released"
	EscrowRefunded  EscrowStatus = "refunded"
	EscrowFailed    EscrowStatus = "failed"

	// EscrowVoid closes the ledger of a booking cancelled before payment.
	EscrowVoid EscrowStatus = "void"
)

// Claimed reports whether a gateway call owns the row right now.
func (s EscrowStatus) Claimed() bool {
	return s == EscrowPending || s == EscrowReleasing || s == EscrowRefunding
}

// EscrowHold is the ledger row tracking the money for one booking.
// Amount is the full total collected from the renter; ServiceFee is the
// part the platform keeps whatever the outcome.
type EscrowHold struct {
	ID            uuid.UUID    `gorm:"type:uuid;primary_key" json:"id"`
	BookingID     uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex" json:"booking_id"`
	Status        EscrowStatus `gorm:"size:20;not null;index" json:"status"`
	PaymentMethod string       `gorm:"size:50" json:"payment_method"`
	AccountRef    string       `gorm:"size:100;not null" json:"account_ref"`
	Amount        float64      `gorm:"type:numeric(10,2);not null" json:"amount"`
	ServiceFee    float64      `gorm:"type:numeric(10,2);not null" json:"service_fee"`

	HoldTxnID   *string `gorm:"size:255" json:"hold_txn_id,omitempty"`
	SettleTxnID *string `gorm:"size:255" json:"settle_txn_id,omitempty"`
	Attempts    int     `gorm:"not null;default:0" json:"attempts"`
	LastError   *string `gorm:"type:text" json:"last_error,omitempty"`

	HeldAt    *time.Time `json:"held_at,omitempty"`
	SettledAt *time.Time `json:"settled_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (h *EscrowHold) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}

// Payout is what leaves escrow on settlement: the owner on release, the
// renter on refund. Both equal the booking's payment amount.
func (h *EscrowHold) Payout() float64 {
	return h.Amount - h.ServiceFee
}
