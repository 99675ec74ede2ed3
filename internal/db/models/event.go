package models

import (
	"time"
)

// EventKind names the job an outbox event triggers.
type EventKind string

const (
	// EventPushSSHKey adds an active key to the directory.
	EventPushSSHKey EventKind = "push_ssh_key"
	// EventRetractSSHKey removes an inactive or deleted key from the directory.
	EventRetractSSHKey EventKind = "retract_ssh_key"
	// EventSyncSSHKeys runs the full key reconciliation for a user.
	EventSyncSSHKeys EventKind = "sync_ssh_keys"
	// EventLoadSSHKeys imports the directory keys of a user.
	EventLoadSSHKeys EventKind = "load_ssh_keys"
	// EventCheckSSHKey claims an uploaded key already present in a directory.
	EventCheckSSHKey EventKind = "check_ssh_key"
	// EventProvisionUser creates the directory account of an activated signup.
	EventProvisionUser EventKind = "provision_user"
	// EventValidatePermission runs the validation rules of a permission request.
	EventValidatePermission EventKind = "validate_permission"
	// EventNotifyManagers tells managers about a new permission request.
	EventNotifyManagers EventKind = "notify_managers"
	// EventUpdateAttributes pushes user editable attributes to the directory.
	EventUpdateAttributes EventKind = "update_attributes"
)

// Event is an outbox row written in the same transaction as the record it describes.
// Workers drain pending events and dispatch them to the subsystem backends.
type Event struct {
	// ID is the event UUID.
	ID string `gorm:"primaryKey;size:36"`
	// Kind selects the job.
	Kind EventKind `gorm:"type:varchar(32);not null;index"`
	// Subsystem targets a backend. Empty fans out to every matching backend.
	Subsystem string `gorm:"size:64;not null"`
	// UserID references the user the job works on. Jobs of one user and subsystem never run concurrently.
	UserID uint64 `gorm:"index"`
	// SSHKeyID references the key of key jobs.
	SSHKeyID uint64
	// SignupID references the signup of provisioning jobs.
	SignupID string `gorm:"size:36"`
	// RequestID references the permission request of permission jobs.
	RequestID string `gorm:"size:36"`
	// Payload carries job data that may not survive in the record, e.g. the material of a deleted key.
	Payload []byte
	// SkipSideEffects marks writes of the import that must not trigger further jobs.
	SkipSideEffects bool `gorm:"not null"`
	// Attempts counts processing attempts.
	Attempts int `gorm:"not null"`
	// LastError holds the error of the last failed attempt.
	LastError string `gorm:"type:text"`
	// NextAttemptAt is the earliest time the event is picked up again.
	NextAttemptAt time.Time `gorm:"index"`
	// ProcessedAt is set once the job succeeded.
	ProcessedAt *time.Time `gorm:"index"`
	// FailedAt is set when the event was parked after a permanent error or too many attempts.
	FailedAt *time.Time `gorm:"index"`
	// CreatedAt is the timestamp when the event was written (managed by GORM).
	CreatedAt time.Time
}

// TableName specifies the database table name for the Event model.
func (Event) TableName() string {
	return "events"
}

// Pending reports whether the event still waits for processing.
func (e *Event) Pending() bool {
	return e.ProcessedAt == nil && e.FailedAt == nil
}
