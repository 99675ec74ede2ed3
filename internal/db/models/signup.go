package models

import (
	"time"
)

// SignupStatus is the provisioning state of a signup.
type SignupStatus string

const (
	// SignupCreated is the initial state written by the intake flow.
	SignupCreated SignupStatus = "created"
	// SignupActivated means the email was confirmed and provisioning may start.
	SignupActivated SignupStatus = "activated"
	// SignupProvisioning means a provisioning job picked up the signup.
	SignupProvisioning SignupStatus = "provisioning"
	// SignupProvisioned means the directory account exists. The signup is immutable afterwards.
	SignupProvisioned SignupStatus = "provisioned"
	// SignupFailed means provisioning failed and needs an operator.
	SignupFailed SignupStatus = "failed"
)

// Signup is a pending or completed request for a new identity.
type Signup struct {
	// ID is the signup UUID.
	ID string `gorm:"primaryKey;size:36"`
	// Username is the requested login name.
	Username string `gorm:"unique;size:100;not null"`
	// UID is the requested shell account name.
	UID string `gorm:"unique;size:32;not null"`
	// Email is the contact address.
	Email string `gorm:"unique;size:255;not null"`
	// Active is set once the email address was confirmed.
	Active bool `gorm:"not null"`
	// Status is the provisioning state.
	Status SignupStatus `gorm:"type:varchar(20);not null;default:'created'"`
	// Passwords holds one hashed password per subsystem.
	Passwords []SignupPassword `gorm:"foreignKey:SignupID;constraint:OnDelete:CASCADE"`
	// CreatedAt is the timestamp when the signup was created (managed by GORM).
	CreatedAt time.Time
	// UpdatedAt is the timestamp when the signup was last updated (managed by GORM).
	UpdatedAt time.Time
}

// TableName specifies the database table name for the Signup model.
func (Signup) TableName() string {
	return "signups"
}

// Password returns the hashed password stored for subsystem.
func (s *Signup) Password(subsystem string) (string, bool) {
	for _, p := range s.Passwords {
		if p.Subsystem == subsystem {
			return p.Value, true
		}
	}

	return "", false
}

// SignupPassword is the hashed password of a signup for one subsystem.
type SignupPassword struct {
	ID        uint64 `gorm:"primaryKey"`
	SignupID  string `gorm:"size:36;not null;uniqueIndex:idx_signup_subsystem"`
	Subsystem string `gorm:"size:64;not null;uniqueIndex:idx_signup_subsystem"`
	// Value is the hash in directory userPassword format, e.g. {SSHA}...
	Value string `gorm:"size:255;not null"`
}

// TableName specifies the database table name for the SignupPassword model.
func (SignupPassword) TableName() string {
	return "signup_passwords"
}
