package models

import (
	"time"

	"gorm.io/gorm"
)

// CommentMaxLength is the storage bound of SSHKey.Comment.
const CommentMaxLength = 256

// SSHKey is one ssh public key known to the system.
//
// A key is unclaimed while Subsystem is empty and Active is false, active while
// Active is true and Subsystem names the directory it is synced to, and retired
// when it is inactive but still tagged with a subsystem.
type SSHKey struct {
	// ID is the unique identifier for the key.
	ID uint64 `gorm:"primaryKey"`
	// UserID references the owning user.
	UserID uint64 `gorm:"index;not null"`
	// User is the owning user (enforced with a foreign key constraint).
	User User `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:RESTRICT,OnUpdate:CASCADE"`
	// Subsystem names the backend the key is synced to, empty when unclaimed.
	Subsystem string `gorm:"size:64;index;not null"`
	// PublicKey is the key in canonical OpenSSH authorized_keys format.
	PublicKey string `gorm:"type:text;not null"`
	// Comment is a human readable label, at most CommentMaxLength characters.
	Comment string `gorm:"size:256"`
	// Active marks the key as present in the subsystem's directory.
	Active bool `gorm:"not null"`
	// KeyType is the ssh key algorithm, e.g. ssh-ed25519.
	KeyType string `gorm:"size:64"`
	// KeySize is the key size in bits.
	KeySize int
	// Fingerprint is the SHA256 fingerprint of the parsed key material.
	Fingerprint string `gorm:"size:128;index;not null"`
	// ActiveKey is "<subsystem>:<fingerprint>" while the key is active and NULL otherwise.
	// Its unique index keeps one key from being active twice in the same subsystem.
	ActiveKey *string `gorm:"size:200;uniqueIndex:unique_active_key"`
	// CreatedAt is the timestamp when the key was created (managed by GORM).
	CreatedAt time.Time
	// UpdatedAt is the timestamp when the key was last updated (managed by GORM).
	UpdatedAt time.Time
}

// TableName specifies the database table name for the SSHKey model.
func (SSHKey) TableName() string {
	return "ssh_keys"
}

// BeforeSave keeps ActiveKey in line with Active, Subsystem and Fingerprint.
func (k *SSHKey) BeforeSave(_ *gorm.DB) error {
	if k.Active && k.Subsystem != "" && k.Fingerprint != "" {
		v := k.Subsystem + ":" + k.Fingerprint
		k.ActiveKey = &v

		return nil
	}

	k.ActiveKey = nil

	return nil
}

// Claimed reports whether the key is tagged with a subsystem.
func (k *SSHKey) Claimed() bool {
	return k.Subsystem != ""
}
