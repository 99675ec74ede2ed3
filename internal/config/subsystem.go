package config

// Subsystem configures one directory backed subsystem.
// Every subsystem is registered at start and addressed by Name in
// ssh keys, signup passwords and permission requests.
type Subsystem struct {
	// Name is the stable key stored on relational records, e.g. "ldap".
	Name string `validate:"required"`
	// Kind selects the backend implementation.
	Kind string `validate:"required,oneof=ldap"`
	// DisplayName is used in imported key comments and notifications.
	DisplayName string `toml:"displayName"`

	// ManageSSHKeys enables the ssh key reconciler for this subsystem.
	ManageSSHKeys bool `toml:"manageSSHKeys"`
	// Permissions enables group permission requests for this subsystem.
	Permissions bool

	// Account defaults applied when a signup is provisioned.
	DefaultGID    int      `toml:"defaultGID"`
	DefaultShell  string   `toml:"defaultShell"`
	HomePrefix    string   `toml:"homePrefix"`
	DefaultGroups []string `toml:"defaultGroups"`
	UIDRanges     []Range  `toml:"uidRanges" validate:"dive"`
	PasswordHash  string   `toml:"passwordHash" validate:"omitempty,oneof=ssha argon2"`

	// RequestableGroups lists group names users may request membership of.
	RequestableGroups []string `toml:"requestableGroups"`
	// EditableAttributes lists directory attributes users may change themselves.
	EditableAttributes []string `toml:"editableAttributes"`
	// ValidShells lists the accepted login shells.
	ValidShells []string `toml:"validShells"`
}

// Range is an inclusive uidNumber range.
type Range struct {
	Min int `validate:"gte=0"`
	Max int `validate:"gtefield=Min"`
}

// ApplyDefaults fills unset account defaults.
func (s *Subsystem) ApplyDefaults() {
	if s.DisplayName == "" {
		s.DisplayName = s.Name
	}

	setDefault(&s.DefaultShell, "/bin/bash")
	setDefault(&s.HomePrefix, "/home")
	setDefault(&s.PasswordHash, "ssha")

	if len(s.ValidShells) == 0 {
		s.ValidShells = []string{"/bin/bash", "/bin/sh", "/bin/zsh", "/usr/bin/fish"}
	}
}
