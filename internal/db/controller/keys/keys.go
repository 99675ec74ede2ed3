// Package keys writes ssh key records and the outbox events their changes trigger.
package keys

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/bitu-idm/dirsync/internal/db/controller/outbox"
	"github.com/bitu-idm/dirsync/internal/db/models"
	"github.com/bitu-idm/dirsync/internal/sshkey"
)

var (
	// ErrKeyNotFound is returned when a key is not found.
	ErrKeyNotFound = errors.New("ssh key not found")
	// ErrDuplicateKey is returned when the key material is already stored.
	ErrDuplicateKey = errors.New("ssh key already exists")
	// ErrKeyActive is returned when the key is already active in the subsystem on another record.
	ErrKeyActive = errors.New("ssh key is already active in subsystem")
	// ErrSubsystemEmpty is returned when activating a key without subsystem.
	ErrSubsystemEmpty = errors.New("subsystem cannot be empty")
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
)

// Policy controls which uploads Create accepts.
type Policy struct {
	sshkey.Policy
	// RejectDuplicatesGlobally rejects material stored for any user, not only the uploader.
	RejectDuplicatesGlobally bool
}

// WriteOption modifies a key write.
type WriteOption func(*writeOptions)

type writeOptions struct {
	skipSideEffects bool
}

// SkipSideEffects flags the outbox event of the write so the runner records it
// without starting a job. Reconciliation writes use it to avoid re-triggering themselves.
func SkipSideEffects() WriteOption {
	return func(o *writeOptions) { o.skipSideEffects = true }
}

func collect(opts []WriteOption) writeOptions {
	var o writeOptions

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

func emit(tx *gorm.DB, kind models.EventKind, subsystem string, k *models.SSHKey, o writeOptions, payload []byte) error {
	ev := outbox.New(kind, subsystem)
	ev.UserID = k.UserID
	ev.SSHKeyID = k.ID
	ev.SkipSideEffects = o.skipSideEffects
	ev.Payload = payload

	return outbox.Enqueue(tx, ev)
}

// FromParsed returns an unsaved, unclaimed record for a parsed key.
func FromParsed(userID uint64, k *sshkey.Key, comment string) *models.SSHKey {
	if comment == "" {
		comment = k.Comment
	}

	return &models.SSHKey{
		UserID:      userID,
		PublicKey:   k.Canonical,
		Comment:     sshkey.Truncate(comment, models.CommentMaxLength),
		KeyType:     k.Type,
		KeySize:     k.Bits,
		Fingerprint: k.Fingerprint,
	}
}

// Create validates raw against the policy and stores it as an unclaimed key.
// A check event asks every subsystem whether the key is already in its directory.
func Create(db *gorm.DB, userID uint64, raw, comment string, p Policy, opts ...WriteOption) (*models.SSHKey, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	parsed, err := p.Validate(raw)
	if err != nil {
		return nil, err
	}

	k := FromParsed(userID, parsed, comment)
	o := collect(opts)

	err = db.Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.SSHKey{}).Where("fingerprint = ?", k.Fingerprint)
		if !p.RejectDuplicatesGlobally {
			q = q.Where("user_id = ?", userID)
		}

		var n int64
		if err := q.Count(&n).Error; err != nil {
			return err
		}

		if n > 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, k.Fingerprint)
		}

		if err := tx.Create(k).Error; err != nil {
			return err
		}

		return emit(tx, models.EventCheckSSHKey, "", k, o, nil)
	})
	if err != nil {
		return nil, err
	}

	return k, nil
}

// Get retrieves a key by ID.
func Get(db *gorm.DB, id uint64) (*models.SSHKey, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var k models.SSHKey

	if err := db.First(&k, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}

		return nil, err
	}

	return &k, nil
}

// ListForUser returns every key of a user ordered by ID.
func ListForUser(db *gorm.DB, userID uint64) ([]models.SSHKey, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var ks []models.SSHKey

	err := db.Where("user_id = ?", userID).Order("id").Find(&ks).Error

	return ks, err
}

// ListForSubsystem returns the keys of a user tagged with subsystem ordered by ID.
func ListForSubsystem(db *gorm.DB, userID uint64, subsystem string) ([]models.SSHKey, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var ks []models.SSHKey

	err := db.Where("user_id = ? AND subsystem = ?", userID, subsystem).Order("id").Find(&ks).Error

	return ks, err
}

// ActiveElsewhere reports whether a record other than excludeID has fingerprint active in subsystem.
func ActiveElsewhere(db *gorm.DB, subsystem, fingerprint string, excludeID uint64) (bool, error) {
	if db == nil {
		return false, ErrDBNil
	}

	var n int64

	err := db.Model(&models.SSHKey{}).
		Where("subsystem = ? AND fingerprint = ? AND active = ? AND id <> ?", subsystem, fingerprint, true, excludeID).
		Count(&n).Error

	return n > 0, err
}

// Activate claims a key for subsystem and schedules its push.
func Activate(db *gorm.DB, id uint64, subsystem string, opts ...WriteOption) (*models.SSHKey, error) {
	if subsystem == "" {
		return nil, ErrSubsystemEmpty
	}

	return update(db, id, opts, func(tx *gorm.DB, k *models.SSHKey) (models.EventKind, error) {
		busy, err := ActiveElsewhere(tx, subsystem, k.Fingerprint, k.ID)
		if err != nil {
			return "", err
		}

		if busy {
			return "", fmt.Errorf("%w: %s: %s", ErrKeyActive, subsystem, k.Fingerprint)
		}

		k.Active = true
		k.Subsystem = subsystem

		return models.EventPushSSHKey, nil
	})
}

// Deactivate retires a key and schedules its removal from the directory.
// The subsystem tag is kept so the retract knows where to look.
func Deactivate(db *gorm.DB, id uint64, opts ...WriteOption) (*models.SSHKey, error) {
	return update(db, id, opts, func(_ *gorm.DB, k *models.SSHKey) (models.EventKind, error) {
		k.Active = false

		if k.Subsystem == "" {
			return "", nil
		}

		return models.EventRetractSSHKey, nil
	})
}

func update(
	db *gorm.DB,
	id uint64,
	opts []WriteOption,
	change func(tx *gorm.DB, k *models.SSHKey) (models.EventKind, error),
) (*models.SSHKey, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var k *models.SSHKey

	o := collect(opts)

	err := db.Transaction(func(tx *gorm.DB) error {
		var err error

		if k, err = Get(tx, id); err != nil {
			return err
		}

		kind, err := change(tx, k)
		if err != nil {
			return err
		}

		if err = tx.Save(k).Error; err != nil {
			return err
		}

		if kind == "" {
			return nil
		}

		return emit(tx, kind, k.Subsystem, k, o, nil)
	})
	if err != nil {
		return nil, err
	}

	return k, nil
}

// Delete removes a key. A claimed key schedules a retract that carries the key
// material, since the record is gone when the job runs.
func Delete(db *gorm.DB, id uint64, opts ...WriteOption) error {
	if db == nil {
		return ErrDBNil
	}

	o := collect(opts)

	return db.Transaction(func(tx *gorm.DB) error {
		k, err := Get(tx, id)
		if err != nil {
			return err
		}

		if err = tx.Delete(k).Error; err != nil {
			return err
		}

		if k.Subsystem == "" {
			return nil
		}

		return emit(tx, models.EventRetractSSHKey, k.Subsystem, k, o, []byte(k.PublicKey))
	})
}

// Store saves k as given. A claimed key schedules a full sync of its user and subsystem.
func Store(db *gorm.DB, k *models.SSHKey, opts ...WriteOption) error {
	if db == nil {
		return ErrDBNil
	}

	o := collect(opts)
	k.Comment = sshkey.Truncate(k.Comment, models.CommentMaxLength)

	return db.Transaction(func(tx *gorm.DB) error {
		if k.Active {
			busy, err := ActiveElsewhere(tx, k.Subsystem, k.Fingerprint, k.ID)
			if err != nil {
				return err
			}

			if busy {
				return fmt.Errorf("%w: %s: %s", ErrKeyActive, k.Subsystem, k.Fingerprint)
			}
		}

		if err := tx.Save(k).Error; err != nil {
			return err
		}

		if k.Subsystem == "" {
			return nil
		}

		return emit(tx, models.EventSyncSSHKeys, k.Subsystem, k, o, nil)
	})
}
