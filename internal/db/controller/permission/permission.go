// Package permission stores permission requests and their approval logs.
package permission

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bitu-idm/dirsync/internal/db/controller/outbox"
	"github.com/bitu-idm/dirsync/internal/db/models"
)

var (
	// ErrRequestNotFound is returned when a permission request is not found.
	ErrRequestNotFound = errors.New("permission request not found")
	// ErrRequestClosed is returned when changing a request that is no longer pending.
	ErrRequestClosed = errors.New("permission request is not pending")
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
)

// Create stores a pending request and schedules the manager notification and the first validation.
func Create(db *gorm.DB, userID uint64, subsystem, key, comment, ticket string) (*models.PermissionRequest, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	r := &models.PermissionRequest{
		ID:        uuid.NewString(),
		Key:       key,
		Subsystem: subsystem,
		UserID:    userID,
		Status:    models.PermissionPending,
		Comment:   comment,
		Ticket:    ticket,
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(r).Error; err != nil {
			return err
		}

		if err := enqueue(tx, models.EventNotifyManagers, r); err != nil {
			return err
		}

		return enqueue(tx, models.EventValidatePermission, r)
	})
	if err != nil {
		return nil, err
	}

	return r, nil
}

func enqueue(tx *gorm.DB, kind models.EventKind, r *models.PermissionRequest) error {
	ev := outbox.New(kind, r.Subsystem)
	ev.UserID = r.UserID
	ev.RequestID = r.ID

	return outbox.Enqueue(tx, ev)
}

// Get retrieves a request with its user and logs.
func Get(db *gorm.DB, id string) (*models.PermissionRequest, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var r models.PermissionRequest

	err := db.Preload("User").
		Preload("Logs", func(db *gorm.DB) *gorm.DB { return db.Order("created_at, id") }).
		First(&r, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}

		return nil, err
	}

	return &r, nil
}

// Latest returns the newest request of a user for one permission.
func Latest(db *gorm.DB, userID uint64, subsystem, key string) (*models.PermissionRequest, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var r models.PermissionRequest

	err := db.Where("user_id = ? AND subsystem = ? AND permission_key = ?", userID, subsystem, key).
		Order("created_at DESC, id DESC").
		First(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}

		return nil, err
	}

	return &r, nil
}

// AddLog records a manager decision on a pending request and schedules its validation.
func AddLog(db *gorm.DB, requestID, createdBy string, approved bool, comment string) (*models.ApprovalLog, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	l := &models.ApprovalLog{RequestID: requestID, CreatedBy: createdBy, Approved: approved, Comment: comment}

	err := db.Transaction(func(tx *gorm.DB) error {
		r, err := Get(tx, requestID)
		if err != nil {
			return err
		}

		if r.Status != models.PermissionPending {
			return ErrRequestClosed
		}

		if err = tx.Create(l).Error; err != nil {
			return err
		}

		return enqueue(tx, models.EventValidatePermission, r)
	})
	if err != nil {
		return nil, err
	}

	return l, nil
}

// SetStatus stores a new status.
func SetStatus(db *gorm.DB, id string, status models.PermissionStatus) error {
	if db == nil {
		return ErrDBNil
	}

	result := db.Model(&models.PermissionRequest{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrRequestNotFound
	}

	return nil
}

// PendingBefore returns pending requests created before t, oldest first.
func PendingBefore(db *gorm.DB, t time.Time) ([]models.PermissionRequest, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var rs []models.PermissionRequest

	err := db.Preload("User").
		Where("status = ? AND created_at < ?", models.PermissionPending, t).
		Order("created_at").
		Find(&rs).Error

	return rs, err
}

// Pending returns the pending requests for the given permissions of subsystem.
func Pending(db *gorm.DB, subsystem string, keys []string) ([]models.PermissionRequest, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var rs []models.PermissionRequest

	if len(keys) == 0 {
		return rs, nil
	}

	err := db.Preload("User").
		Where("status = ? AND subsystem = ? AND permission_key IN ?", models.PermissionPending, subsystem, keys).
		Order("created_at").
		Find(&rs).Error

	return rs, err
}
