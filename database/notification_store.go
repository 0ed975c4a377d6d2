package database

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/anjiri1684/rental_escrow/models"
)

type NotificationStore struct {
	db *gorm.DB
}

func NewNotificationStore(db *gorm.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

func (s *NotificationStore) CreateNotifications(ctx context.Context, ns []models.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&ns).Error
}

func (s *NotificationStore) ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]models.Notification, error) {
	tx := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		tx = tx.Where("is_read = ?", false)
	}
	var out []models.Notification
	err := tx.Order("created_at DESC").Scopes(limited(limit)).Find(&out).Error
	return out, err
}

func (s *NotificationStore) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	return s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true).Error
}

type ReceiptStore struct {
	db *gorm.DB
}

func NewReceiptStore(db *gorm.DB) *ReceiptStore {
	return &ReceiptStore{db: db}
}

// SaveReceipt records r, replacing any earlier receipt for the booking.
func (s *ReceiptStore) SaveReceipt(ctx context.Context, r *models.Receipt) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "booking_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "url", "created_at"}),
	}).Create(r).Error
}

func (s *ReceiptStore) ReceiptFor(ctx context.Context, bookingID uuid.UUID) (*models.Receipt, error) {
	var r models.Receipt
	if err := s.db.WithContext(ctx).First(&r, "booking_id = ?", bookingID).Error; err != nil {
		return nil, err
	}
	return &r, nil
}
