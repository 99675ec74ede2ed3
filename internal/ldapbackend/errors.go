package ldapbackend

import (
	"errors"
)

var (
	// ErrAttributeNotEditable is returned for attributes users may not change.
	ErrAttributeNotEditable = errors.New("attribute is not editable")
	// ErrInvalidShell is returned for a login shell outside the configured list.
	ErrInvalidShell = errors.New("does not appear to be a valid shell path")
)
