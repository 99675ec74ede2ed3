package models

import (
	"time"
)

// User is the relational mirror of a directory account.
// The directory owns the full account; this record only keeps what the
// reconciliation engine needs to join keys, signups and permission requests.
type User struct {
	// ID is the unique identifier for the user.
	ID uint64 `gorm:"primaryKey"`
	// Username is the unique login name, equal to the directory uid.
	Username string `gorm:"unique;size:100;not null"`
	// Email is the user's email address.
	Email string `gorm:"size:255;not null"`
	// Active indicates whether the account is enabled.
	Active bool `gorm:"not null"`
	// CreatedAt is the timestamp when the user was created (managed by GORM).
	CreatedAt time.Time
	// UpdatedAt is the timestamp when the user was last updated (managed by GORM).
	UpdatedAt time.Time
}

// TableName specifies the database table name for the User model.
func (User) TableName() string {
	return "users"
}
