package domain

import "time"

// Category Model, a taxonomy shared by all users
type Category struct {
	ID        uint      `gorm:"primaryKey" json:"id"`                  // Primary key
	Title     string    `gorm:"size:128;unique;not null" json:"title"` // Unique title, matched exactly
	CreatedAt time.Time `json:"created_at"`                            // Creation timestamp
}
