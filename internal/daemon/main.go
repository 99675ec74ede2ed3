package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/bitu-idm/dirsync/internal/config"
	"github.com/bitu-idm/dirsync/internal/db/controller/keys"
	"github.com/bitu-idm/dirsync/internal/db/dsn"
	"github.com/bitu-idm/dirsync/internal/db/models"
	"github.com/bitu-idm/dirsync/internal/directory"
	"github.com/bitu-idm/dirsync/internal/jobs"
	"github.com/bitu-idm/dirsync/internal/ldapbackend"
	"github.com/bitu-idm/dirsync/internal/logger/adapter/stdlogger"
	"github.com/bitu-idm/dirsync/internal/notify"
	"github.com/bitu-idm/dirsync/internal/permissions"
	"github.com/bitu-idm/dirsync/internal/reconciler"
	"github.com/bitu-idm/dirsync/internal/sshkey"
	"github.com/bitu-idm/dirsync/internal/subsystem"
	"github.com/bitu-idm/dirsync/internal/web"
)

// Daemon holds the wired components of the service.
type Daemon struct {
	cfg *config.Config

	DB          *gorm.DB
	Registry    *subsystem.Registry
	Permissions *permissions.Service
	Runner      *jobs.Runner
	Sweeper     *reconciler.Sweeper

	webService *web.Service
}

// Option modifies how New wires the daemon.
type Option func(*options)

type options struct {
	dir      directory.Directory
	notifier notify.Notifier
}

// WithDirectory replaces the LDAP client, used by tests.
func WithDirectory(dir directory.Directory) Option {
	return func(o *options) { o.dir = dir }
}

// WithNotifier replaces the log notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// OpenDB opens the configured database. It migrates when autoMigrate or dev mode is set.
func OpenDB(cfg *config.Config) (*gorm.DB, error) {
	dialector, err := dsn.Dialector(cfg.DB)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: stdlogger.Gorm(cfg.Log.SQLLogLevel, time.Duration(cfg.Log.SlowQueryMS)*time.Millisecond),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if cfg.DB.GormEngine == "sqlite" {
		// sqlite serializes writers; a single connection also keeps ":memory:" databases shared
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}

		sqlDB.SetMaxOpenConns(1)
	}

	if cfg.DB.AutoMigrate || cfg.DevMode {
		if err = db.AutoMigrate(models.All()...); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return db, nil
}

// New wires every component from cfg.
func New(cfg *config.Config, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}

	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}

	return Wire(cfg, db, opts...), nil
}

// Wire builds the daemon on an already opened database.
func Wire(cfg *config.Config, db *gorm.DB, opts ...Option) *Daemon {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if o.dir == nil {
		o.dir = directory.New(cfg.Directory)
	}

	if o.notifier == nil {
		o.notifier = notify.NewLog(cfg.Notification)
	}

	registry := subsystem.NewRegistry()
	backends := make([]*ldapbackend.Backend, 0, len(cfg.Subsystems))

	for _, sub := range cfg.Subsystems {
		b := ldapbackend.New(db, o.dir, cfg.Directory, sub, o.notifier)
		registry.Register(b)
		backends = append(backends, b)

		log.Info().Str("subsystem", sub.Name).Str("kind", sub.Kind).
			Bool("sshKeys", sub.ManageSSHKeys).Bool("permissions", sub.Permissions).
			Msg("subsystem registered")
	}

	perms := permissions.New(db, registry, cfg.Permissions, o.notifier)
	for _, b := range backends {
		b.SetPrevalidator(perms)
	}

	d := &Daemon{
		cfg:         cfg,
		DB:          db,
		Registry:    registry,
		Permissions: perms,
		Runner:      jobs.New(db, registry, perms, cfg.Jobs),
		Sweeper:     reconciler.New(db, cfg.Jobs),
	}

	if cfg.Webserver.Enabled {
		d.webService = web.New(cfg, db)
	}

	return d
}

// KeyPolicy returns the upload policy for new ssh keys.
func (d *Daemon) KeyPolicy() keys.Policy {
	return keys.Policy{
		Policy: sshkey.Policy{
			AllowedTypes: d.cfg.SSHKeys.AllowedTypes,
			MinRSABits:   d.cfg.SSHKeys.MinRSABits,
		},
		RejectDuplicatesGlobally: d.cfg.SSHKeys.RejectDuplicatesGlobally,
	}
}

// Start runs the job runner, the sweeper and the ops webserver until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.Runner.Start(gctx)
		return nil
	})

	g.Go(func() error {
		d.Sweeper.Start(gctx)
		return nil
	})

	if d.webService != nil {
		g.Go(func() error {
			return d.webService.Start(fmt.Sprintf(":%d", d.cfg.Webserver.Port))
		})

		g.Go(func() error {
			<-gctx.Done()
			d.webService.Shutdown()

			return nil
		})
	}

	log.Info().Strs("subsystems", d.Registry.Names()).Msg("dirsync started")

	return g.Wait()
}
