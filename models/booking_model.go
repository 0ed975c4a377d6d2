package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BookingStatus string

const (
	StatusRequirementsSubmitted BookingStatus = "RequirementsSubmitted"
	StatusPaymentHeld           BookingStatus = "PaymentHeld"
	StatusOwnerAccepted         BookingStatus = "OwnerAccepted"
	StatusOwnerRejected         BookingStatus = "OwnerRejected"
	StatusRenterConfirmed       BookingStatus = "RenterConfirmed"
	StatusCompleted             BookingStatus = "Completed"
	StatusCancelled             BookingStatus = "Cancelled"
	StatusRefunded              BookingStatus = "Refunded"
)

// Terminal reports whether no further events are accepted from s.
func (s BookingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRefunded
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "Pending"
	PaymentHeld      PaymentStatus = "Held"
	PaymentCompleted PaymentStatus = "Completed"
	PaymentFailed    PaymentStatus = "Failed"
	PaymentRefunded  PaymentStatus = "Refunded"
)

type OwnerConfirmationStatus string

const (
	OwnerPending  OwnerConfirmationStatus = "Pending"
	OwnerAccepted OwnerConfirmationStatus = "Accepted"
	OwnerRejected OwnerConfirmationStatus = "Rejected"
)

// Booking is the flat, versioned record of one rental request.
type Booking struct {
	ID           uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	RenterID     uuid.UUID `gorm:"type:uuid;not null;index" json:"renter_id"`
	OwnerID      uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_id"`
	RentalItemID uuid.UUID `gorm:"type:uuid;not null;index" json:"rental_item_id"`

	Status                  BookingStatus           `gorm:"size:32;not null;index" json:"status"`
	PaymentStatus           PaymentStatus           `gorm:"size:20;not null;index" json:"payment_status"`
	OwnerConfirmationStatus OwnerConfirmationStatus `gorm:"size:20;not null" json:"owner_confirmation_status"`

	ContractAccepted bool           `gorm:"not null" json:"contract_accepted"`
	RequirementsData map[string]any `gorm:"serializer:json" json:"requirements_data"`

	PaymentMethod  string  `gorm:"size:50" json:"payment_method"`
	PaymentAccount string  `gorm:"size:100" json:"payment_account"`
	PaymentAmount  float64 `gorm:"type:numeric(10,2);not null" json:"payment_amount"`
	ServiceFee     float64 `gorm:"type:numeric(10,2);not null;default:0" json:"service_fee"`
	TotalAmount    float64 `gorm:"type:numeric(10,2);not null;default:0" json:"total_amount"`

	ConfirmationCode *string    `gorm:"size:12" json:"confirmation_code,omitempty"`
	CodeExpiry       *time.Time `gorm:"index" json:"code_expiry,omitempty"`
	RenterConfirmed  bool       `gorm:"not null;default:false" json:"renter_confirmed"`

	OwnerRejectionReason *string `gorm:"type:text" json:"owner_rejection_reason,omitempty"`
	AdminNote            *string `gorm:"type:text" json:"admin_note,omitempty"`

	Version int64 `gorm:"not null;default:1" json:"version"`

	CreatedAt         time.Time  `json:"created_at"`
	PaymentHeldAt     *time.Time `json:"payment_held_at,omitempty"`
	PaymentReleasedAt *time.Time `json:"payment_released_at,omitempty"`
	OwnerDecidedAt    *time.Time `json:"owner_decided_at,omitempty"`
	RenterConfirmedAt *time.Time `json:"renter_confirmed_at,omitempty"`
	OwnerConfirmedAt  *time.Time `json:"owner_confirmed_at,omitempty"`
	RefundedAt        *time.Time `json:"refunded_at,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (b *Booking) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// HasLiveCode reports whether a confirmation code is stored and not yet
// past its expiry at now.
func (b *Booking) HasLiveCode(now time.Time) bool {
	return b.ConfirmationCode != nil && b.CodeExpiry != nil && !now.After(*b.CodeExpiry)
}

// ClearCode drops the confirmation code and its expiry together.
func (b *Booking) ClearCode() {
	b.ConfirmationCode = nil
	b.CodeExpiry = nil
}

// Clone returns a deep copy so a candidate state can be built without
// touching the record that was read.
func (b *Booking) Clone() *Booking {
	c := *b
	if b.RequirementsData != nil {
		c.RequirementsData = make(map[string]any, len(b.RequirementsData))
		for k, v := range b.RequirementsData {
			c.RequirementsData[k] = v
		}
	}
	c.ConfirmationCode = cloneString(b.ConfirmationCode)
	c.OwnerRejectionReason = cloneString(b.OwnerRejectionReason)
	c.AdminNote = cloneString(b.AdminNote)
	c.CodeExpiry = cloneTime(b.CodeExpiry)
	c.PaymentHeldAt = cloneTime(b.PaymentHeldAt)
	c.PaymentReleasedAt = cloneTime(b.PaymentReleasedAt)
	c.OwnerDecidedAt = cloneTime(b.OwnerDecidedAt)
	c.RenterConfirmedAt = cloneTime(b.RenterConfirmedAt)
	c.OwnerConfirmedAt = cloneTime(b.OwnerConfirmedAt)
	c.RefundedAt = cloneTime(b.RefundedAt)
	c.CancelledAt = cloneTime(b.CancelledAt)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
