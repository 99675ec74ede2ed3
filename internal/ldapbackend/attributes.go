package ldapbackend

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/bitu-idm/dirsync/internal/db/models"
	"github.com/bitu-idm/dirsync/internal/directory"
)

// ValidShell reports whether shell is one of the configured login shells.
func (b *Backend) ValidShell(shell string) bool {
	return slices.Contains(b.cfg.ValidShells, shell)
}

func (b *Backend) editable(attr string) bool {
	return slices.ContainsFunc(b.cfg.EditableAttributes, func(a string) bool {
		return strings.EqualFold(a, attr)
	})
}

// UpdateAttributes writes user editable attributes to the directory in one
// commit. An empty value removes the attribute. Nothing is written when any
// attribute is rejected.
func (b *Backend) UpdateAttributes(ctx context.Context, user *models.User, attrs map[string]string) error {
	names := make([]string, 0, len(attrs))

	for name, value := range attrs {
		if !b.editable(name) {
			return fmt.Errorf("%w: %s", ErrAttributeNotEditable, name)
		}

		if strings.EqualFold(name, b.schema.LoginShell) && !b.ValidShell(value) {
			return fmt.Errorf("%q %w", value, ErrInvalidShell)
		}

		names = append(names, name)
	}

	sort.Strings(names)

	entry, ok, err := b.directoryUser(ctx, user)
	if !ok {
		return err
	}

	for _, name := range names {
		value := attrs[name]

		switch {
		case value != "":
			if current := entry.Get(name); len(current) == 1 && current[0] == value {
				continue
			}

			entry.Replace(name, value)
		case len(entry.Get(name)) > 0:
			entry.Delete(name)
		}
	}

	if !entry.Dirty() {
		return nil
	}

	if err = b.dir.Commit(ctx, entry); err != nil {
		return fmt.Errorf("update attributes of %s: %w", user.Username, err)
	}

	b.logger().Info().Str("user", user.Username).Strs("attributes", names).Msg("attributes updated")

	return nil
}

// UIDAvailable reports whether no directory user holds uid.
func (b *Backend) UIDAvailable(ctx context.Context, uid string) (bool, error) {
	return b.available(ctx, b.schema.UID, strings.ToLower(uid))
}

// EmailAvailable reports whether no directory user holds email.
func (b *Backend) EmailAvailable(ctx context.Context, email string) (bool, error) {
	return b.available(ctx, b.schema.Mail, strings.ToLower(email))
}

// available returns an error wrapping directory.ErrDirectoryUnavailable when the
// directory cannot answer, so callers can tell that apart from a taken value.
func (b *Backend) available(ctx context.Context, attr, value string) (bool, error) {
	filter := fmt.Sprintf("(%s=%s)", attr, ldap.EscapeFilter(value))

	entries, err := b.dir.Search(ctx, b.userBase, filter, []string{attr})
	if errors.Is(err, directory.ErrEntryNotFound) {
		return true, nil
	}

	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", attr, err)
	}

	return len(entries) == 0, nil
}
