package permissions

import (
	"context"

	"github.com/bitu-idm/dirsync/internal/db/models"
	"github.com/bitu-idm/dirsync/internal/subsystem"
)

// PermissionSet combines the permissions of every subsystem that manages them.
type PermissionSet struct {
	registry *subsystem.Registry
}

// NewSet creates a PermissionSet over registry.
func NewSet(registry *subsystem.Registry) *PermissionSet {
	return &PermissionSet{registry: registry}
}

// Existing returns the memberships of user in subsystem name order.
func (p *PermissionSet) Existing(ctx context.Context, user *models.User) ([]subsystem.Permission, error) {
	var out []subsystem.Permission

	for _, b := range p.registry.Select("", subsystem.ManagesPermissions) {
		perms, err := b.ExistingPermissions(ctx, user)
		if err != nil {
			return nil, err
		}

		out = append(out, perms...)
	}

	return out, nil
}

// Available returns the permissions user may request in subsystem name order.
func (p *PermissionSet) Available(ctx context.Context, user *models.User) ([]subsystem.Permission, error) {
	var out []subsystem.Permission

	for _, b := range p.registry.Select("", subsystem.ManagesPermissions) {
		perms, err := b.AvailablePermissions(ctx, user)
		if err != nil {
			return nil, err
		}

		out = append(out, perms...)
	}

	return out, nil
}
