package jobs

import (
	"errors"

	"github.com/bitu-idm/dirsync/internal/db/controller/keys"
	permissionctl "github.com/bitu-idm/dirsync/internal/db/controller/permission"
	signupctl "github.com/bitu-idm/dirsync/internal/db/controller/signup"
	userctl "github.com/bitu-idm/dirsync/internal/db/controller/user"
	"github.com/bitu-idm/dirsync/internal/directory"
	"github.com/bitu-idm/dirsync/internal/ldapbackend"
	"github.com/bitu-idm/dirsync/internal/mapper"
	"github.com/bitu-idm/dirsync/internal/permissions"
	"github.com/bitu-idm/dirsync/internal/sshkey"
)

var (
	// ErrUnknownKind is returned for events without a handler.
	ErrUnknownKind = errors.New("unknown event kind")
	// ErrBadPayload is returned when an event payload cannot be decoded.
	ErrBadPayload = errors.New("invalid event payload")
)

// permanentErrors fail the same way on every attempt.
var permanentErrors = []error{ //nolint:gochecknoglobals
	ErrUnknownKind,
	ErrBadPayload,
	mapper.ErrRangeViolation,
	mapper.ErrMissingPassword,
	mapper.ErrUnknownHash,
	ldapbackend.ErrAttributeNotEditable,
	ldapbackend.ErrInvalidShell,
	keys.ErrKeyActive,
	keys.ErrKeyNotFound,
	sshkey.ErrInvalidKey,
	sshkey.ErrPrivateKey,
	signupctl.ErrImmutable,
	signupctl.ErrInvalidTransition,
	signupctl.ErrSignupNotFound,
	userctl.ErrUserNotFound,
	permissionctl.ErrRequestNotFound,
	permissionctl.ErrRequestClosed,
	permissions.ErrUnknownSubsystem,
	permissions.ErrUnknownRule,
	permissions.ErrUnknownOperator,
	directory.ErrEntryNotFound,
	directory.ErrMultipleEntries,
}

// Permanent reports whether retrying err is pointless.
func Permanent(err error) bool {
	for _, target := range permanentErrors {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}
