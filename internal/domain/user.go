package domain

import (
	"time" // Timestamps

	"github.com/shopspring/decimal" // Exact decimal money
)

// User Model
type User struct {
	ID             uint            `gorm:"primaryKey" json:"id"`                                         // Primary key
	Username       string          `gorm:"size:64;unique;not null" json:"username"`                      // Unique username
	Email          string          `gorm:"size:255;unique;not null" json:"email"`                        // Unique email, used to log in
	Password       string          `gorm:"not null" json:"-"`                                            // Hashed password, never serialized
	Role           string          `gorm:"size:16;default:user" json:"role"`                             // Role: user or admin
	Balance        decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"balance"`         // Running balance, written only by the ledger
	InitialBalance decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"initial_balance"` // Balance at creation time
	CreatedAt      time.Time       `json:"created_at"`                                                   // Creation timestamp
	Transactions   []Transaction   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`       // Owned transactions
}

// Roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)
