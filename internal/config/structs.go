package config

import (
	"github.com/bitu-idm/dirsync/internal/logger"
)

// Config overall data structure.
type Config struct {
	DevMode      bool // enable dev mode for development
	DB           DB
	Log          logger.Log
	Title        string
	Webserver    Webserver
	Directory    Directory
	Subsystems   []Subsystem  `validate:"dive"`
	SSHKeys      SSHKeys      `toml:"sshkeys"`
	Jobs         Jobs         `toml:"jobs"`
	Notification Notification `toml:"notification"`
	Permissions  Permissions  `toml:"permissions"`
}

// Webserver implements the operational webserver settings (health and metrics).
type Webserver struct {
	Enabled       bool   // start the ops webserver with the daemon
	Port          int    // listening port for the webserver
	ShutDownTime  int    // wait time for shutdown in seconds
	CheckAliveURI string // health check path
	MetricsURI    string // prometheus scrape path
}

// SSHKeys holds the validation policy applied to uploaded ssh public keys.
type SSHKeys struct {
	// AllowedTypes lists accepted key types, e.g. "ssh-ed25519". Empty allows all valid keys.
	AllowedTypes []string `toml:"allowedTypes"`
	// MinRSABits is the minimum modulus size for ssh-rsa keys. 0 disables the check.
	MinRSABits int `toml:"minRSABits"`
	// RejectDuplicatesGlobally rejects a key whose material already exists for any user or subsystem.
	RejectDuplicatesGlobally bool `toml:"rejectDuplicatesGlobally"`
}

// Jobs configures the outbox worker pool and the periodic sweeper.
type Jobs struct {
	Workers       int `toml:"workers"`       // number of concurrent workers
	PollInterval  int `toml:"pollInterval"`  // seconds between outbox polls
	BatchSize     int `toml:"batchSize"`     // events fetched per poll
	MaxAttempts   int `toml:"maxAttempts"`   // attempts before an event is parked
	RetryDelay    int `toml:"retryDelay"`    // base backoff in seconds between attempts
	SweepInterval int `toml:"sweepInterval"` // minutes between full ssh key sweeps, 0 disables
	SweepBatch    int `toml:"sweepBatch"`    // users enqueued per sweep tick
}

// Notification configures the audience of operator messages.
type Notification struct {
	// Operators receive every service message.
	Operators []string `validate:"dive,email"`
	// LimitedOperators receive messages sent with the limited scope.
	// When empty, limited messages go to Operators.
	LimitedOperators []string `toml:"limitedOperators" validate:"dive,email"`
	// Sender is the from address used by mail based notifiers.
	Sender string `validate:"omitempty,email"`
	// SubjectPrefix is prepended to every subject.
	SubjectPrefix string `toml:"subjectPrefix"`
}

// Permissions holds the approval rules for permission requests.
type Permissions struct {
	// ExpireAfterDays is the lifetime of a pending request before the cleaner cancels it.
	ExpireAfterDays int `toml:"expireAfterDays"`
	// Rules lists the validation rules per subsystem and permission key.
	Rules []PermissionRule `toml:"rules" validate:"dive"`
}

// PermissionRule configures a single validation rule for one permission.
type PermissionRule struct {
	Subsystem   string   `validate:"required"`
	Key         string   `validate:"required"`
	Rule        string   `validate:"required,oneof=manager_approval email_domain ldap_attribute ldap_group_membership"`
	Prevalidate bool     // evaluate before offering the permission to a user
	Managers    []string // manager_approval
	Count       int      // manager_approval
	Domain      string   // email_domain
	Attribute   string   // ldap_attribute
	Operator    string   `validate:"omitempty,oneof=eq contains startswith endswith islower isupper isdigit isalpha isalnum"` // ldap_attribute
	Value       string   // ldap_attribute
	GroupDN     string   `toml:"groupDN"` // ldap_group_membership
}
