package config

import (
	"errors"
)

var (
	// ErrConfigNil error if a nil config is passed to a constructor.
	ErrConfigNil = errors.New("config is nil")

	// ErrWebServerPortCanNotBeZero error if the ops webserver is enabled and its listening port is 0.
	ErrWebServerPortCanNotBeZero = errors.New("toml config webserver.port listening port can not be 0")

	// ErrNoSubsystems error if no subsystem was configured.
	ErrNoSubsystems = errors.New("toml config needs at least one [[subsystems]] entry")

	// ErrDuplicateSubsystem error if two subsystems share a name.
	ErrDuplicateSubsystem = errors.New("toml config subsystems.name must be unique")

	// ErrUnknownRuleSubsystem error if a permission rule points to an unknown subsystem.
	ErrUnknownRuleSubsystem = errors.New("toml config permissions.rules.subsystem is not a configured subsystem")

	// ErrUnsupportedGormEngine error if db.gormEngine is not one of mysql, postgres or sqlite.
	ErrUnsupportedGormEngine = errors.New("toml config db.gormEngine must be mysql, postgres or sqlite")
)
