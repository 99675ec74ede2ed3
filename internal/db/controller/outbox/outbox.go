// Package outbox stores the events that drive directory jobs.
// Events are written with the transaction of the record they describe and
// drained by the job runner.
package outbox

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bitu-idm/dirsync/internal/db/models"
)

var (
	// ErrEventNotFound is returned when an event is not found.
	ErrEventNotFound = errors.New("event not found")
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
)

// New returns an event of kind for subsystem, due immediately.
func New(kind models.EventKind, subsystem string) *models.Event {
	return &models.Event{
		ID:            uuid.NewString(),
		Kind:          kind,
		Subsystem:     subsystem,
		NextAttemptAt: time.Now(),
	}
}

// Enqueue writes ev. Call it with the transaction that wrote the record.
func Enqueue(tx *gorm.DB, ev *models.Event) error {
	if tx == nil {
		return ErrDBNil
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	if ev.NextAttemptAt.IsZero() {
		ev.NextAttemptAt = time.Now()
	}

	return tx.Create(ev).Error
}

// Get retrieves an event by ID.
func Get(db *gorm.DB, id string) (*models.Event, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var ev models.Event

	if err := db.First(&ev, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}

		return nil, err
	}

	return &ev, nil
}

// Due returns up to limit pending events whose next attempt is not after now, oldest first.
func Due(db *gorm.DB, now time.Time, limit int) ([]models.Event, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var events []models.Event

	err := db.
		Where("processed_at IS NULL AND failed_at IS NULL AND next_attempt_at <= ?", now).
		Order("created_at, id").
		Limit(limit).
		Find(&events).Error

	return events, err
}

// HasPending reports whether an unprocessed event of kind exists for the user and subsystem.
func HasPending(db *gorm.DB, kind models.EventKind, userID uint64, subsystem string) (bool, error) {
	if db == nil {
		return false, ErrDBNil
	}

	var n int64

	err := db.Model(&models.Event{}).
		Where("kind = ? AND user_id = ? AND subsystem = ? AND processed_at IS NULL AND failed_at IS NULL",
			kind, userID, subsystem).
		Count(&n).Error

	return n > 0, err
}

// MarkDone records a successful run.
func MarkDone(db *gorm.DB, ev *models.Event, now time.Time) error {
	if db == nil {
		return ErrDBNil
	}

	ev.Attempts++
	ev.ProcessedAt = &now
	ev.LastError = ""

	return db.Model(ev).Select("attempts", "processed_at", "last_error").Updates(ev).Error
}

// Retry records a failed attempt and schedules the next one.
func Retry(db *gorm.DB, ev *models.Event, cause error, next time.Time) error {
	if db == nil {
		return ErrDBNil
	}

	ev.Attempts++
	ev.LastError = cause.Error()
	ev.NextAttemptAt = next

	return db.Model(ev).Select("attempts", "last_error", "next_attempt_at").Updates(ev).Error
}

// Park gives up on an event after a permanent error or too many attempts.
func Park(db *gorm.DB, ev *models.Event, cause error, now time.Time) error {
	if db == nil {
		return ErrDBNil
	}

	ev.Attempts++
	ev.LastError = cause.Error()
	ev.FailedAt = &now

	return db.Model(ev).Select("attempts", "last_error", "failed_at").Updates(ev).Error
}

// Requeue makes a parked event pending again.
func Requeue(db *gorm.DB, id string) error {
	if db == nil {
		return ErrDBNil
	}

	result := db.Model(&models.Event{}).
		Where("id = ? AND failed_at IS NOT NULL", id).
		Updates(map[string]any{"failed_at": nil, "attempts": 0, "next_attempt_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrEventNotFound
	}

	return nil
}

// Backoff returns base doubled per previous attempt, capped at one day.
func Backoff(base time.Duration, attempts int) time.Duration {
	const maxBackoff = 24 * time.Hour

	d := base
	for i := 1; i < attempts && d < maxBackoff; i++ {
		d *= 2
	}

	return min(d, maxBackoff)
}

// Counts returns the number of pending and parked events.
func Counts(db *gorm.DB) (pending, parked int64, err error) {
	if db == nil {
		return 0, 0, ErrDBNil
	}

	if err = db.Model(&models.Event{}).
		Where("processed_at IS NULL AND failed_at IS NULL").
		Count(&pending).Error; err != nil {
		return 0, 0, err
	}

	err = db.Model(&models.Event{}).Where("failed_at IS NOT NULL").Count(&parked).Error

	return pending, parked, err
}
