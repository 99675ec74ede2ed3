// Package ldapbackend is the subsystem backend for LDAP directories.
//
// It reconciles ssh keys in both directions, provisions accounts for
// activated signups and grants group memberships. Directory reads happen
// before any diff is computed and every directory write goes through one
// Commit per entry.
package ldapbackend

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/bitu-idm/dirsync/internal/config"
	userctl "github.com/bitu-idm/dirsync/internal/db/controller/user"
	"github.com/bitu-idm/dirsync/internal/db/models"
	"github.com/bitu-idm/dirsync/internal/directory"
	"github.com/bitu-idm/dirsync/internal/mapper"
	"github.com/bitu-idm/dirsync/internal/notify"
	"github.com/bitu-idm/dirsync/internal/subsystem"
)

// Prevalidator decides whether a permission may be offered to a user.
type Prevalidator interface {
	Prevalidate(ctx context.Context, user *models.User, subsystem, key string) (bool, error)
}

// Backend serves one configured LDAP subsystem.
type Backend struct {
	cfg          config.Subsystem
	schema       config.Schema
	groupAttr    string
	userBase     string
	dir          directory.Directory
	db           *gorm.DB
	mapper       *mapper.Mapper
	notifier     notify.Notifier
	prevalidator Prevalidator
}

var _ subsystem.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(b *Backend)

// WithPrevalidator filters AvailablePermissions through p.
func WithPrevalidator(p Prevalidator) Option {
	return func(b *Backend) { b.prevalidator = p }
}

// New creates a Backend for sub.
func New(
	db *gorm.DB,
	dir directory.Directory,
	dirCfg config.Directory,
	sub config.Subsystem,
	n notify.Notifier,
	opts ...Option,
) *Backend {
	b := &Backend{
		cfg:       sub,
		schema:    dirCfg.Schema,
		groupAttr: dirCfg.Groups.NamingAttribute,
		userBase:  dirCfg.Users.BaseDN,
		dir:       dir,
		db:        db,
		mapper:    mapper.New(dir, dirCfg.Schema, sub),
		notifier:  n,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// SetPrevalidator installs p after construction, for services that need the backend themselves.
func (b *Backend) SetPrevalidator(p Prevalidator) {
	b.prevalidator = p
}

// Name implements subsystem.Backend.
func (b *Backend) Name() string { return b.cfg.Name }

// Config implements subsystem.Backend.
func (b *Backend) Config() config.Subsystem { return b.cfg }

func (b *Backend) logger() *zerolog.Logger {
	l := log.With().Str("component", "ldapbackend").Str("subsystem", b.cfg.Name).Logger()

	return &l
}

func (b *Backend) loadUser(id uint64) (*models.User, error) {
	u, err := userctl.Get(b.db, id)
	if err != nil {
		return nil, fmt.Errorf("user %d: %w", id, err)
	}

	return u, nil
}

func (b *Backend) notify(ctx context.Context, msg notify.Message) {
	if b.notifier == nil {
		return
	}

	if err := b.notifier.Notify(ctx, msg); err != nil {
		b.logger().Error().Err(err).Str("subject", msg.Subject).Msg("notification failed")
	}
}
