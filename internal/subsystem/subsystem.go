// Package subsystem defines what a directory backed subsystem offers and keeps
// the registry of configured backends.
package subsystem

import (
	"context"
	"sort"

	"github.com/bitu-idm/dirsync/internal/config"
	"github.com/bitu-idm/dirsync/internal/db/models"
)

// Permission is a directory group a user holds or may request.
type Permission struct {
	// Key is the group name.
	Key         string
	DN          string
	Name        string
	Description string
	Subsystem   string
	DisplayName string
	Owners      []string
	// State is the latest request status, or synchronized for memberships never requested.
	State models.PermissionStatus
}

// KeyBackend reconciles ssh keys.
type KeyBackend interface {
	UpdateSSHKey(ctx context.Context, key *models.SSHKey) error
	RemoveSSHKey(ctx context.Context, key *models.SSHKey) error
	SynchronizeSSHKeys(ctx context.Context, user *models.User) error
	LoadSSHKeys(ctx context.Context, user *models.User) error
	CheckSSHKey(ctx context.Context, key *models.SSHKey) error
}

// Provisioner creates accounts and maintains their attributes.
type Provisioner interface {
	CreateUser(ctx context.Context, signup *models.Signup) (bool, error)
	// CreateAccount creates the account like CreateUser but leaves the signup status alone.
	CreateAccount(ctx context.Context, signup *models.Signup) (bool, error)
	UpdateAttributes(ctx context.Context, user *models.User, attrs map[string]string) error
}

// PermissionBackend reads and grants group memberships.
type PermissionBackend interface {
	ExistingPermissions(ctx context.Context, user *models.User) ([]Permission, error)
	AvailablePermissions(ctx context.Context, user *models.User) ([]Permission, error)
	GetPermission(ctx context.Context, key string) (*Permission, error)
	Grant(ctx context.Context, user *models.User, p Permission) error
	// UserAttribute returns the directory values of attr for user.
	UserAttribute(ctx context.Context, user *models.User, attr string) ([]string, error)
	// IsMember reports whether user is a member of the group entry groupDN.
	IsMember(ctx context.Context, user *models.User, groupDN string) (bool, error)
}

// Backend is a complete subsystem.
type Backend interface {
	Name() string
	Config() config.Subsystem
	KeyBackend
	Provisioner
	PermissionBackend
}

// Registry maps subsystem names to backends.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
	}
}

// Register adds b under its name.
func (r *Registry) Register(b Backend) {
	r.backends[b.Name()] = b
}

// Get returns the backend registered under name.
func (r *Registry) Get(name string) (Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}

// Has reports whether a backend with the given name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.backends[name]
	return ok
}

// Names returns the sorted registered names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Select returns the backends for an event subsystem in name order.
// An empty name selects every backend accepted by filter; a nil filter accepts all.
func (r *Registry) Select(name string, filter func(config.Subsystem) bool) []Backend {
	if name != "" {
		b, ok := r.backends[name]
		if !ok || (filter != nil && !filter(b.Config())) {
			return nil
		}

		return []Backend{b}
	}

	var out []Backend

	for _, n := range r.Names() {
		b := r.backends[n]
		if filter == nil || filter(b.Config()) {
			out = append(out, b)
		}
	}

	return out
}

// ManagesKeys accepts subsystems with ssh key management.
func ManagesKeys(s config.Subsystem) bool { return s.ManageSSHKeys }

// ManagesPermissions accepts subsystems with permission requests.
func ManagesPermissions(s config.Subsystem) bool { return s.Permissions }
