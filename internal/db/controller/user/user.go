// Package user reads and writes the relational mirror of directory accounts.
package user

import (
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"github.com/bitu-idm/dirsync/internal/db/controller/outbox"
	"github.com/bitu-idm/dirsync/internal/db/models"
)

var (
	// ErrUserNotFound is returned when a user is not found.
	ErrUserNotFound = errors.New("user not found")
	// ErrUsernameEmpty is returned for an empty username.
	ErrUsernameEmpty = errors.New("username cannot be empty")
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
)

// Get retrieves a user by ID.
func Get(db *gorm.DB, id uint64) (*models.User, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var u models.User

	if err := db.First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}

		return nil, err
	}

	return &u, nil
}

// GetByUsername retrieves a user by username.
func GetByUsername(db *gorm.DB, username string) (*models.User, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	if username == "" {
		return nil, ErrUsernameEmpty
	}

	var u models.User

	if err := db.Where("username = ?", username).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}

		return nil, err
	}

	return &u, nil
}

// Ensure returns the user with username, creating an active one when missing.
func Ensure(db *gorm.DB, username, email string) (*models.User, error) {
	u, err := GetByUsername(db, username)
	if err == nil || !errors.Is(err, ErrUserNotFound) {
		return u, err
	}

	u = &models.User{Username: username, Email: email, Active: true}
	if err = db.Create(u).Error; err != nil {
		return nil, err
	}

	return u, nil
}

// ListAfter returns up to limit active users with an ID above afterID, ordered by ID.
func ListAfter(db *gorm.DB, afterID uint64, limit int) ([]models.User, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var users []models.User

	err := db.Where("id > ? AND active = ?", afterID, true).
		Order("id").
		Limit(limit).
		Find(&users).Error

	return users, err
}

func schedule(db *gorm.DB, kind models.EventKind, userID uint64, subsystem string, payload []byte) error {
	if db == nil {
		return ErrDBNil
	}

	ev := outbox.New(kind, subsystem)
	ev.UserID = userID
	ev.Payload = payload

	return outbox.Enqueue(db, ev)
}

// ScheduleSync queues a full ssh key reconciliation. An empty subsystem means every subsystem.
func ScheduleSync(db *gorm.DB, userID uint64, subsystem string) error {
	return schedule(db, models.EventSyncSSHKeys, userID, subsystem, nil)
}

// ScheduleImport queues loading the directory keys of the user.
func ScheduleImport(db *gorm.DB, userID uint64, subsystem string) error {
	return schedule(db, models.EventLoadSSHKeys, userID, subsystem, nil)
}

// ScheduleAttributeUpdate queues writing attrs to the user's directory entry.
func ScheduleAttributeUpdate(db *gorm.DB, userID uint64, subsystem string, attrs map[string]string) error {
	payload, err := json.Marshal(attrs)
	if err != nil {
		return err
	}

	return schedule(db, models.EventUpdateAttributes, userID, subsystem, payload)
}
