package database

import (
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/anjiri1684/rental_escrow/models"
)

var DB *gorm.DB

// Options shared by every dialect. TranslateError lets stores recognise
// unique violations as gorm.ErrDuplicatedKey.
func gormConfig(verbose bool) *gorm.Config {
	level := logger.Silent
	if verbose {
		level = logger.Warn
	}
	return &gorm.Config{
		PrepareStmt:                              false,
		SkipDefaultTransaction:                   true,
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   logger.Default.LogMode(level),
	}
}

// Connect opens the postgres database at dsn and stores it in DB.
func Connect(dsn string, verbose bool) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), gormConfig(verbose))
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	DB = db
	slog.Info("database connected")
	return db, nil
}

// Open wraps an already chosen dialector, e.g. sqlite in tests.
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	return gorm.Open(dialector, gormConfig(false))
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.RentalItem{},
		&models.RenterInputField{},
		&models.Booking{},
		&models.BookingTransition{},
		&models.EscrowHold{},
		&models.Notification{},
		&models.Receipt{},
	)
	if err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	slog.Info("database migration successful")
	return nil
}
