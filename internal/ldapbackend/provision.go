package ldapbackend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	signupctl "github.com/bitu-idm/dirsync/internal/db/controller/signup"
	userctl "github.com/bitu-idm/dirsync/internal/db/controller/user"
	"github.com/bitu-idm/dirsync/internal/db/models"
	"github.com/bitu-idm/dirsync/internal/directory"
	"github.com/bitu-idm/dirsync/internal/mapper"
	"github.com/bitu-idm/dirsync/internal/notify"
)

// CreateUser provisions the directory account of an activated signup and
// moves the signup through the provisioning states.
//
// It reports whether an entry was created. An account that already exists
// counts as provisioned. ErrDirectoryUnavailable is returned unchanged and
// leaves the signup in provisioning so the job is retried; every other
// failure marks the signup failed.
func (b *Backend) CreateUser(ctx context.Context, signup *models.Signup) (bool, error) {
	var created bool

	err := signupctl.Provision(b.db, signup.ID, Retryable, func() error {
		var err error
		created, err = b.CreateAccount(ctx, signup)

		return err
	})

	return created, err
}

// Retryable reports whether a provisioning error is worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, directory.ErrDirectoryUnavailable)
}

// CreateAccount creates the directory account of signup without touching the
// signup status. Callers provisioning several subsystems wrap it in
// signupctl.Provision once for all of them.
func (b *Backend) CreateAccount(ctx context.Context, signup *models.Signup) (bool, error) {
	uid := strings.ToLower(signup.UID)
	l := b.logger().With().Str("uid", uid).Str("signup", signup.ID).Logger()

	existing, err := b.dir.GetUser(ctx, uid)

	switch {
	case err == nil:
		l.Info().Msg("directory user exists, importing its ssh keys")

		u, err := userctl.Ensure(b.db, uid, strings.ToLower(signup.Email))
		if err != nil {
			return false, err
		}

		if err = userctl.ScheduleImport(b.db, u.ID, b.Name()); err != nil {
			return false, err
		}

		provisioned.WithLabelValues(b.Name(), "existing").Inc()
		b.notify(ctx, notify.Message{
			Subject: fmt.Sprintf("%s user already provisioned: %s", b.cfg.DisplayName, uid),
			Body:    fmt.Sprintf("Username: %s\nUID: %s\nDN: %s\n", signup.Username, uid, existing.DN),
			Scope:   notify.ScopeLimited,
		})

		return false, nil
	case !errors.Is(err, directory.ErrEntryNotFound):
		return false, fmt.Errorf("lookup %s: %w", uid, err)
	}

	password, ok := signup.Password(b.Name())
	if !ok {
		return false, b.fail(ctx, signup, uid, fmt.Errorf("%w: %s", mapper.ErrMissingPassword, b.Name()))
	}

	entry := b.dir.NewUser(uid)

	if err = b.mapper.FillNewUser(ctx, signup, password, entry); err != nil {
		if Retryable(err) {
			return false, err
		}

		return false, b.fail(ctx, signup, uid, err)
	}

	if err = b.dir.Commit(ctx, entry); err != nil {
		if Retryable(err) {
			return false, fmt.Errorf("create %s: %w", uid, err)
		}

		return false, b.fail(ctx, signup, uid, fmt.Errorf("create %s: %w", uid, err))
	}

	l.Info().Str("dn", entry.DN).Msg("directory user created")

	if err = b.addToDefaultGroups(ctx, entry.DN); err != nil {
		l.Error().Err(err).Msg("failed to add user to default groups")
		b.notify(ctx, notify.Message{
			Subject: "Error creating user",
			Body:    fmt.Sprintf("Failed to add user: %s to groups.\nexception was: %v", uid, err),
			Scope:   notify.ScopeAll,
		})
	}

	if _, err = userctl.Ensure(b.db, uid, strings.ToLower(signup.Email)); err != nil {
		return true, err
	}

	provisioned.WithLabelValues(b.Name(), "created").Inc()
	b.notify(ctx, notify.Message{
		Subject: fmt.Sprintf("%s user created: %s", b.cfg.DisplayName, uid),
		Body: fmt.Sprintf(
			"New user created successfully.\n\nUsername: %s has been created.\nUID: %s\nEmail: %s\n"+
				"Creation time: %s\nSignup time: %s\n",
			signup.Username, uid, signup.Email,
			time.Now().Format(time.RFC3339), signup.CreatedAt.Format(time.RFC3339),
		),
		Scope: notify.ScopeLimited,
	})

	return true, nil
}

// addToDefaultGroups adds dn to every configured default group. Missing
// groups are skipped, other failures are collected.
func (b *Backend) addToDefaultGroups(ctx context.Context, dn string) error {
	var errs []error

	for _, name := range b.cfg.DefaultGroups {
		group, err := b.dir.GetGroup(ctx, name)
		if errors.Is(err, directory.ErrEntryNotFound) {
			b.logger().Warn().Str("group", name).Msg("default group not found, skipping")
			continue
		}

		if err != nil {
			errs = append(errs, fmt.Errorf("group %s: %w", name, err))
			continue
		}

		if hasDN(group.Get(b.schema.Member), dn) {
			continue
		}

		group.Add(b.schema.Member, dn)

		if err = b.dir.Commit(ctx, group); err != nil {
			errs = append(errs, fmt.Errorf("group %s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// fail tells the operators about a failed creation. It returns cause.
func (b *Backend) fail(ctx context.Context, signup *models.Signup, uid string, cause error) error {
	b.logger().Error().Err(cause).Str("uid", uid).Msg("failed to create user")
	provisioned.WithLabelValues(b.Name(), "failed").Inc()

	b.notify(ctx, notify.Message{
		Subject: "Error creating user",
		Body:    fmt.Sprintf("Failed to create user: %s\nexception was: %v", uid, cause),
		Scope:   notify.ScopeAll,
	})
	b.notify(ctx, notify.Message{
		Subject: fmt.Sprintf("%s user creation failed: %s", b.cfg.DisplayName, uid),
		Body:    fmt.Sprintf("Username: %s\nUID: %s\nEmail: %s\n", signup.Username, uid, signup.Email),
		Scope:   notify.ScopeLimited,
	})

	return cause
}
