package domain

import (
	"time" // Timestamps

	"github.com/shopspring/decimal" // Exact decimal money
)

// TransactionType is the direction of a transaction
type TransactionType string

const (
	TypeIncome  TransactionType = "income"  // Adds to the balance
	TypeExpense TransactionType = "expense" // Subtracts from the balance
)

// Valid reports whether t is a known transaction type
func (t TransactionType) Valid() bool {
	return t == TypeIncome || t == TypeExpense
}

// Transaction Model
type Transaction struct {
	ID          uint            `gorm:"primaryKey" json:"id"`                           // Primary key
	UserID      uint            `gorm:"index;not null" json:"user_id"`                  // Owning user, immutable
	CategoryID  *uint           `gorm:"index" json:"category_id"`                       // Nullable category reference
	Category    *Category       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;" json:"category,omitempty"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`      // Always a positive magnitude
	Type        TransactionType `gorm:"size:16;index;not null" json:"type"`             // income or expense
	Description string          `gorm:"size:255" json:"description"`                    // Free text
	Date        time.Time       `gorm:"index" json:"date"`                              // When the transaction happened
	CreatedAt   time.Time       `gorm:"index" json:"created_at"`                        // Creation timestamp
	UpdatedAt   time.Time       `json:"updated_at"`                                     // Last update timestamp
}

// IdempotencyKey records a client supplied key for a create so retries do not apply twice
type IdempotencyKey struct {
	ID            uint      `gorm:"primaryKey"`                                   // Primary key
	UserID        uint      `gorm:"uniqueIndex:idx_idempotency_user_key;not null"` // Owning user
	Key           string    `gorm:"size:128;uniqueIndex:idx_idempotency_user_key;not null"`
	TransactionID uint      `gorm:"not null"` // Transaction created by the first request
	CreatedAt     time.Time // Creation timestamp
}
