package permissions

import (
	"errors"
)

var (
	// ErrUnknownSubsystem is returned for subsystems without permission support.
	ErrUnknownSubsystem = errors.New("subsystem does not manage permissions")
	// ErrAlreadyPending is returned when the user already has a pending request for the permission.
	ErrAlreadyPending = errors.New("a request for this permission is already pending")
	// ErrNotManager is returned when someone outside the manager list records a decision.
	ErrNotManager = errors.New("user is not a manager of this permission")
	// ErrUnknownRule is returned for rule names without an evaluator.
	ErrUnknownRule = errors.New("unknown permission rule")
	// ErrUnknownOperator is returned for ldap_attribute operators that do not exist.
	ErrUnknownOperator = errors.New("unknown attribute operator")
)
