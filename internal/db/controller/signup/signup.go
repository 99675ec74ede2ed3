// Package signup stores signups and drives their provisioning state.
package signup

import (
	"errors"
	"fmt"
	"regexp"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bitu-idm/dirsync/internal/db/controller/outbox"
	"github.com/bitu-idm/dirsync/internal/db/models"
)

var (
	// ErrSignupNotFound is returned when a signup is not found.
	ErrSignupNotFound = errors.New("signup not found")
	// ErrImmutable is returned when changing a provisioned signup.
	ErrImmutable = errors.New("signup is provisioned and cannot change")
	// ErrInvalidTransition is returned for a status change the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid signup status transition")
	// ErrInvalidSignup is returned when intake data fails validation.
	ErrInvalidSignup = errors.New("invalid signup")
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
)

var unixName = regexp.MustCompile(`^[a-z0-9\-]+$`)

var validate = func() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("unixname", func(fl validator.FieldLevel) bool {
		return unixName.MatchString(fl.Field().String())
	})

	return v
}()

// Intake is the data collected by the signup form.
type Intake struct {
	Username string `validate:"required,max=100"`
	// UID is the shell account name.
	UID   string `validate:"required,max=32,unixname"`
	Email string `validate:"required,email"`
	// Passwords maps subsystem names to hashed passwords.
	Passwords map[string]string `validate:"dive,keys,required,endkeys,required"`
}

// transitions lists the allowed next states per state.
var transitions = map[models.SignupStatus][]models.SignupStatus{
	models.SignupCreated:      {models.SignupActivated},
	models.SignupActivated:    {models.SignupProvisioning},
	models.SignupProvisioning: {models.SignupProvisioned, models.SignupFailed},
	models.SignupFailed:       {models.SignupProvisioning},
}

// Create validates in and stores a new signup in status created.
func Create(db *gorm.DB, in Intake) (*models.Signup, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignup, err)
	}

	s := &models.Signup{
		ID:       uuid.NewString(),
		Username: in.Username,
		UID:      in.UID,
		Email:    in.Email,
		Status:   models.SignupCreated,
	}

	subsystems := make([]string, 0, len(in.Passwords))
	for name := range in.Passwords {
		subsystems = append(subsystems, name)
	}

	slices.Sort(subsystems)

	for _, name := range subsystems {
		s.Passwords = append(s.Passwords, models.SignupPassword{Subsystem: name, Value: in.Passwords[name]})
	}

	if err := db.Create(s).Error; err != nil {
		return nil, err
	}

	return s, nil
}

// Get retrieves a signup with its passwords.
func Get(db *gorm.DB, id string) (*models.Signup, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var s models.Signup

	if err := db.Preload("Passwords").First(&s, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSignupNotFound
		}

		return nil, err
	}

	return &s, nil
}

// Activate confirms a signup and schedules its provisioning in every subsystem.
func Activate(db *gorm.DB, id string) (*models.Signup, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var s *models.Signup

	err := db.Transaction(func(tx *gorm.DB) error {
		var err error

		if s, err = setStatus(tx, id, models.SignupActivated); err != nil {
			return err
		}

		s.Active = true
		if err = tx.Model(s).Update("active", true).Error; err != nil {
			return err
		}

		ev := outbox.New(models.EventProvisionUser, "")
		ev.SignupID = s.ID

		return outbox.Enqueue(tx, ev)
	})
	if err != nil {
		return nil, err
	}

	return s, nil
}

// SetStatus moves a signup to status. Setting the current status is a no-op.
func SetStatus(db *gorm.DB, id string, status models.SignupStatus) (*models.Signup, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var s *models.Signup

	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		s, err = setStatus(tx, id, status)

		return err
	})

	return s, err
}

// Provision runs create inside the provisioning states. The signup moves to
// provisioning before create runs and to provisioned when it succeeds. An
// error for which retry reports false moves it to failed; a retryable error
// leaves it in provisioning. A provisioned signup stays provisioned and only
// runs create, whose writes must be idempotent.
func Provision(db *gorm.DB, id string, retry func(error) bool, create func() error) error {
	if _, err := SetStatus(db, id, models.SignupProvisioning); err != nil && !errors.Is(err, ErrImmutable) {
		return err
	}

	err := create()

	switch {
	case err == nil:
		_, err = SetStatus(db, id, models.SignupProvisioned)
		return err
	case retry != nil && retry(err):
		return err
	}

	if _, serr := SetStatus(db, id, models.SignupFailed); serr != nil && !errors.Is(serr, ErrImmutable) {
		return errors.Join(err, serr)
	}

	return err
}

func setStatus(tx *gorm.DB, id string, status models.SignupStatus) (*models.Signup, error) {
	s, err := Get(tx, id)
	if err != nil {
		return nil, err
	}

	if s.Status == status {
		return s, nil
	}

	if s.Status == models.SignupProvisioned {
		return nil, ErrImmutable
	}

	if !slices.Contains(transitions[s.Status], status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, status)
	}

	if err = tx.Model(s).Update("status", status).Error; err != nil {
		return nil, err
	}

	s.Status = status

	return s, nil
}
