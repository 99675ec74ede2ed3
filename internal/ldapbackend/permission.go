package ldapbackend

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	permissionctl "github.com/bitu-idm/dirsync/internal/db/controller/permission"
	"github.com/bitu-idm/dirsync/internal/db/models"
	"github.com/bitu-idm/dirsync/internal/directory"
	"github.com/bitu-idm/dirsync/internal/subsystem"
)

func (b *Backend) permissionFrom(group *directory.Entry) subsystem.Permission {
	name := group.First(b.groupAttr)

	return subsystem.Permission{
		Key:         name,
		DN:          group.DN,
		Name:        name,
		Description: group.First(b.schema.Description),
		Subsystem:   b.Name(),
		DisplayName: b.cfg.DisplayName,
		Owners:      group.Get(b.schema.Owner),
	}
}

// state returns the status of the newest request of user for key, or
// synchronized when the membership was never requested.
func (b *Backend) state(user *models.User, key string) (models.PermissionStatus, error) {
	r, err := permissionctl.Latest(b.db, user.ID, b.Name(), key)
	if errors.Is(err, permissionctl.ErrRequestNotFound) {
		return models.PermissionSynchronized, nil
	}

	if err != nil {
		return "", err
	}

	return r.Status, nil
}

// memberDN returns the DN of the directory entry of user, which may live
// below the users base. ok is false when the user has no entry.
func (b *Backend) memberDN(ctx context.Context, user *models.User) (dn string, ok bool, err error) {
	e, err := b.dir.GetUser(ctx, user.Username)
	if errors.Is(err, directory.ErrEntryNotFound) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("get user %s: %w", user.Username, err)
	}

	return e.DN, true, nil
}

// ExistingPermissions lists the groups user is a member of.
func (b *Backend) ExistingPermissions(ctx context.Context, user *models.User) ([]subsystem.Permission, error) {
	dn, ok, err := b.memberDN(ctx, user)
	if !ok {
		return nil, err
	}

	groups, err := b.dir.MemberOf(ctx, dn)
	if err != nil {
		return nil, fmt.Errorf("groups of %s: %w", user.Username, err)
	}

	out := make([]subsystem.Permission, 0, len(groups))

	for _, g := range groups {
		p := b.permissionFrom(g)

		if p.State, err = b.state(user, p.Key); err != nil {
			return nil, err
		}

		out = append(out, p)
	}

	return out, nil
}

// AvailablePermissions lists the requestable groups user does not hold yet
// and passes the prevalidation rules for.
func (b *Backend) AvailablePermissions(ctx context.Context, user *models.User) ([]subsystem.Permission, error) {
	dn, ok, err := b.memberDN(ctx, user)
	if err != nil {
		return nil, err
	}

	var heldDNs []string

	if ok {
		held, err := b.dir.MemberOf(ctx, dn)
		if err != nil {
			return nil, fmt.Errorf("groups of %s: %w", user.Username, err)
		}

		for _, g := range held {
			heldDNs = append(heldDNs, g.DN)
		}
	}

	candidates, err := b.requestable(ctx)
	if err != nil {
		return nil, err
	}

	var out []subsystem.Permission

	for _, g := range candidates {
		if hasDN(heldDNs, g.DN) {
			continue
		}

		p := b.permissionFrom(g)

		if b.prevalidator != nil {
			ok, err := b.prevalidator.Prevalidate(ctx, user, b.Name(), p.Key)
			if err != nil {
				return nil, fmt.Errorf("prevalidate %s: %w", p.Key, err)
			}

			if !ok {
				continue
			}
		}

		out = append(out, p)
	}

	return out, nil
}

// requestable returns the configured requestable groups, or every group when
// none are configured. Configured groups missing from the directory are skipped.
func (b *Backend) requestable(ctx context.Context) ([]*directory.Entry, error) {
	if len(b.cfg.RequestableGroups) == 0 {
		groups, err := b.dir.ListGroups(ctx)
		if err != nil {
			return nil, fmt.Errorf("list groups: %w", err)
		}

		return groups, nil
	}

	out := make([]*directory.Entry, 0, len(b.cfg.RequestableGroups))

	for _, name := range b.cfg.RequestableGroups {
		g, err := b.dir.GetGroup(ctx, name)
		if errors.Is(err, directory.ErrEntryNotFound) {
			b.logger().Warn().Str("group", name).Msg("requestable group not found")
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("group %s: %w", name, err)
		}

		out = append(out, g)
	}

	return out, nil
}

// GetPermission returns the group key.
func (b *Backend) GetPermission(ctx context.Context, key string) (*subsystem.Permission, error) {
	g, err := b.dir.GetGroup(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", key, err)
	}

	p := b.permissionFrom(g)

	return &p, nil
}

// Grant adds user to the group of p. Granting a held membership is a no-op.
func (b *Backend) Grant(ctx context.Context, user *models.User, p subsystem.Permission) error {
	g, err := b.dir.GetGroup(ctx, p.Key)
	if err != nil {
		return fmt.Errorf("group %s: %w", p.Key, err)
	}

	dn, ok, err := b.memberDN(ctx, user)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("grant %s to %s: %w: user %s", p.Key, user.Username, directory.ErrEntryNotFound, user.Username)
	}

	if hasDN(g.Get(b.schema.Member), dn) {
		return nil
	}

	g.Add(b.schema.Member, dn)

	if err = b.dir.Commit(ctx, g); err != nil {
		return fmt.Errorf("grant %s to %s: %w", p.Key, user.Username, err)
	}

	b.logger().Info().Str("user", user.Username).Str("group", p.Key).Msg("membership granted")

	return nil
}

// UserAttribute returns the directory values of attr for user.
func (b *Backend) UserAttribute(ctx context.Context, user *models.User, attr string) ([]string, error) {
	e, err := b.dir.GetUser(ctx, user.Username)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", user.Username, err)
	}

	return e.Get(attr), nil
}

// IsMember reports whether user is listed in the member attribute of groupDN.
func (b *Backend) IsMember(ctx context.Context, user *models.User, groupDN string) (bool, error) {
	g, err := b.dir.GetEntry(ctx, groupDN)
	if errors.Is(err, directory.ErrEntryNotFound) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("group %s: %w", groupDN, err)
	}

	dn, ok, err := b.memberDN(ctx, user)
	if !ok {
		return false, err
	}

	return hasDN(g.Get(b.schema.Member), dn), nil
}

func sameDN(a, b string) bool {
	return strings.EqualFold(normDN(a), normDN(b))
}

func normDN(dn string) string {
	parts := strings.Split(dn, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}

	return strings.Join(parts, ",")
}

func hasDN(values []string, dn string) bool {
	return slices.ContainsFunc(values, func(v string) bool { return sameDN(v, dn) })
}
