package db

import (
	"fmt" // Error formatting

	"finance_ledger/internal/domain" // Importing domain models

	"gorm.io/gorm" // GORM ORM library
)

// Migrate performs automatic migration for the database schema
func Migrate(db *gorm.DB) error {
	// AutoMigrate will create tables, missing foreign keys, constraints, columns and indexes
	err := db.AutoMigrate(&domain.User{}, &domain.Category{}, &domain.Transaction{}, &domain.IdempotencyKey{})
	if err != nil {
		return fmt.Errorf("migrate db: %w", err)
	}
	return nil
}
