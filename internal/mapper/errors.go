package mapper

import (
	"errors"
	"fmt"

	"github.com/bitu-idm/dirsync/internal/config"
)

var (
	// ErrRangeViolation matches every *RangeViolationError.
	ErrRangeViolation = errors.New("uidNumber outside of the configured ranges")

	// ErrMissingPassword is returned when a signup has no password for the subsystem.
	ErrMissingPassword = errors.New("signup has no password for subsystem")

	// ErrUnknownHash is returned for an unsupported password hash method.
	ErrUnknownHash = errors.New("unknown password hash method")
)

// RangeViolationError reports an allocated uidNumber that fits none of the ranges.
type RangeViolationError struct {
	UIDNumber int
	Ranges    []config.Range
}

func (e *RangeViolationError) Error() string {
	return fmt.Sprintf("uidNumber %d outside of the configured ranges %v", e.UIDNumber, e.Ranges)
}

// Is lets errors.Is(err, ErrRangeViolation) match.
func (e *RangeViolationError) Is(target error) bool {
	return target == ErrRangeViolation
}
