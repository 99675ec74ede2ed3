package directory

import (
	"errors"

	"github.com/go-ldap/ldap/v3"
)

var (
	// ErrEntryNotFound is the soft negative result of a lookup. It is never an outage.
	ErrEntryNotFound = errors.New("directory entry not found")

	// ErrDirectoryUnavailable wraps transport and bind failures. Jobs retry on it.
	ErrDirectoryUnavailable = errors.New("directory unavailable")

	// ErrCommitFailed is returned when the directory rejected a staged write.
	// The entry must be fetched again before further changes.
	ErrCommitFailed = errors.New("directory commit failed")

	// ErrMultipleEntries is returned when a lookup by identifier matched more than one entry.
	ErrMultipleEntries = errors.New("multiple directory entries found")
)

// unavailable reports whether err is a transport level failure.
func unavailable(err error) bool {
	return ldap.IsErrorAnyOf(err,
		ldap.ErrorNetwork,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultBusy,
	)
}
