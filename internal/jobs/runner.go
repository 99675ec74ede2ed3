// Package jobs drains the outbox and dispatches events to the subsystem backends.
//
// Delivery is at least once. Events of the same user and subsystem never run
// concurrently. Failed events are retried with exponential backoff until
// MaxAttempts, permanent failures are parked right away.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/bitu-idm/dirsync/internal/config"
	"github.com/bitu-idm/dirsync/internal/db/controller/keys"
	"github.com/bitu-idm/dirsync/internal/db/controller/outbox"
	signupctl "github.com/bitu-idm/dirsync/internal/db/controller/signup"
	userctl "github.com/bitu-idm/dirsync/internal/db/controller/user"
	"github.com/bitu-idm/dirsync/internal/db/models"
	"github.com/bitu-idm/dirsync/internal/mapper"
	"github.com/bitu-idm/dirsync/internal/permissions"
	"github.com/bitu-idm/dirsync/internal/subsystem"
)

// Runner processes outbox events with a pool of workers.
type Runner struct {
	db       *gorm.DB
	registry *subsystem.Registry
	perms    *permissions.Service
	cfg      config.Jobs
	locks    *keyedMutex
	now      func() time.Time
}

// New creates a Runner.
func New(db *gorm.DB, registry *subsystem.Registry, perms *permissions.Service, cfg config.Jobs) *Runner {
	return &Runner{
		db:       db,
		registry: registry,
		perms:    perms,
		cfg:      cfg,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
}

func (r *Runner) logger() *zerolog.Logger {
	l := log.With().Str("component", "jobs").Logger()

	return &l
}

// Start polls the outbox until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	interval := time.Duration(r.cfg.PollInterval) * time.Second
	r.logger().Info().Dur("interval", interval).Int("workers", r.cfg.Workers).Msg("job runner started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger().Info().Msg("job runner stopped")
			return
		case <-ticker.C:
			// drain the backlog before waiting for the next tick
			for {
				n, err := r.RunOnce(ctx)
				if err != nil {
					r.logger().Error().Err(err).Msg("failed to process outbox")
					break
				}

				if n < r.cfg.BatchSize || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

// RunOnce processes one batch of due events and returns its size.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	events, err := outbox.Due(r.db, r.now(), r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("load due events: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.cfg.Workers, 1))

	for i := range events {
		ev := &events[i]

		g.Go(func() error {
			return r.Process(gctx, ev)
		})
	}

	return len(events), g.Wait()
}

// Process runs one event and records the outcome. The returned error is
// only about recording; dispatch failures are stored on the event.
func (r *Runner) Process(ctx context.Context, ev *models.Event) error {
	if ev.SkipSideEffects {
		eventsProcessed.WithLabelValues(string(ev.Kind), "skipped").Inc()

		return outbox.MarkDone(r.db, ev, r.now())
	}

	if key := eventLock(ev); key != "" {
		unlock := r.locks.Lock(key)
		defer unlock()
	}

	l := r.logger().With().Str("event", ev.ID).Str("kind", string(ev.Kind)).
		Str("subsystem", ev.Subsystem).Int("attempt", ev.Attempts+1).Logger()

	start := r.now()
	err := r.dispatch(ctx, ev)
	eventDuration.WithLabelValues(string(ev.Kind)).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		eventsProcessed.WithLabelValues(string(ev.Kind), "done").Inc()
		l.Debug().Msg("event processed")

		return outbox.MarkDone(r.db, ev, r.now())
	case Permanent(err) || ev.Attempts+1 >= r.cfg.MaxAttempts:
		eventsProcessed.WithLabelValues(string(ev.Kind), "parked").Inc()
		l.Error().Err(err).Msg("event parked")

		return outbox.Park(r.db, ev, err, r.now())
	default:
		next := r.now().Add(outbox.Backoff(time.Duration(r.cfg.RetryDelay)*time.Second, ev.Attempts+1))
		eventsProcessed.WithLabelValues(string(ev.Kind), "retry").Inc()
		l.Warn().Err(err).Time("next", next).Msg("event failed, retrying")

		return outbox.Retry(r.db, ev, err, next)
	}
}

// eventLock is the lock held for the whole event. Key and attribute events
// return "" and lock per resolved backend in each instead, since their
// subsystem may be empty and stand for every backend.
func eventLock(ev *models.Event) string {
	switch ev.Kind {
	case models.EventProvisionUser:
		return "signup/" + ev.SignupID
	case models.EventValidatePermission, models.EventNotifyManagers:
		return backendLock(ev.UserID, ev.Subsystem)
	}

	return ""
}

func backendLock(userID uint64, name string) string {
	return fmt.Sprintf("user/%d/%s", userID, name)
}

func (r *Runner) dispatch(ctx context.Context, ev *models.Event) error {
	switch ev.Kind {
	case models.EventPushSSHKey:
		return r.pushKey(ctx, ev)
	case models.EventRetractSSHKey:
		return r.retractKey(ctx, ev)
	case models.EventCheckSSHKey:
		return r.checkKey(ctx, ev)
	case models.EventSyncSSHKeys:
		return r.forUser(ctx, ev, subsystem.ManagesKeys, func(b subsystem.Backend, u *models.User) error {
			return b.SynchronizeSSHKeys(ctx, u)
		})
	case models.EventLoadSSHKeys:
		return r.forUser(ctx, ev, subsystem.ManagesKeys, func(b subsystem.Backend, u *models.User) error {
			return b.LoadSSHKeys(ctx, u)
		})
	case models.EventUpdateAttributes:
		var attrs map[string]string
		if err := json.Unmarshal(ev.Payload, &attrs); err != nil {
			return fmt.Errorf("%w: %w", ErrBadPayload, err)
		}

		return r.forUser(ctx, ev, nil, func(b subsystem.Backend, u *models.User) error {
			return b.UpdateAttributes(ctx, u, attrs)
		})
	case models.EventProvisionUser:
		return r.provision(ctx, ev)
	case models.EventValidatePermission:
		_, err := r.perms.Validate(ctx, ev.RequestID)
		return err
	case models.EventNotifyManagers:
		return r.perms.NotifyManagers(ctx, ev.RequestID)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, ev.Kind)
	}
}

// each runs fn for the selected backends and joins their errors. For user
// events fn runs under the lock of the (user, backend) pair.
func (r *Runner) each(ev *models.Event, backends []subsystem.Backend, fn func(b subsystem.Backend) error) error {
	var errs []error

	for _, b := range backends {
		if err := r.locked(ev, b, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}

	return errors.Join(errs...)
}

func (r *Runner) locked(ev *models.Event, b subsystem.Backend, fn func(b subsystem.Backend) error) error {
	if ev.UserID != 0 {
		unlock := r.locks.Lock(backendLock(ev.UserID, b.Name()))
		defer unlock()
	}

	return fn(b)
}

func (r *Runner) forUser(
	ctx context.Context,
	ev *models.Event,
	filter func(config.Subsystem) bool,
	fn func(b subsystem.Backend, u *models.User) error,
) error {
	u, err := userctl.Get(r.db, ev.UserID)
	if err != nil {
		return err
	}

	return r.each(ev, r.registry.Select(ev.Subsystem, filter), func(b subsystem.Backend) error {
		return fn(b, u)
	})
}

func (r *Runner) pushKey(ctx context.Context, ev *models.Event) error {
	k, err := keys.Get(r.db, ev.SSHKeyID)
	if errors.Is(err, keys.ErrKeyNotFound) {
		r.logger().Debug().Uint64("key", ev.SSHKeyID).Msg("key deleted before push")
		return nil
	}

	if err != nil {
		return err
	}

	return r.each(ev, r.registry.Select(ev.Subsystem, subsystem.ManagesKeys), func(b subsystem.Backend) error {
		return b.UpdateSSHKey(ctx, k)
	})
}

// retractKey removes the key from the directory. A deleted record is rebuilt
// from the public key the event carries.
func (r *Runner) retractKey(ctx context.Context, ev *models.Event) error {
	k, err := keys.Get(r.db, ev.SSHKeyID)

	switch {
	case errors.Is(err, keys.ErrKeyNotFound):
		if len(ev.Payload) == 0 {
			return fmt.Errorf("%w: retract of deleted key %d without public key", ErrBadPayload, ev.SSHKeyID)
		}

		k = &models.SSHKey{
			ID:        ev.SSHKeyID,
			UserID:    ev.UserID,
			Subsystem: ev.Subsystem,
			PublicKey: string(ev.Payload),
		}
	case err != nil:
		return err
	case k.Subsystem != ev.Subsystem:
		// the record moved on since the event was written
		k = &models.SSHKey{
			ID:          k.ID,
			UserID:      k.UserID,
			Subsystem:   ev.Subsystem,
			PublicKey:   k.PublicKey,
			Fingerprint: k.Fingerprint,
		}
	}

	return r.each(ev, r.registry.Select(ev.Subsystem, subsystem.ManagesKeys), func(b subsystem.Backend) error {
		return b.RemoveSSHKey(ctx, k)
	})
}

func (r *Runner) checkKey(ctx context.Context, ev *models.Event) error {
	k, err := keys.Get(r.db, ev.SSHKeyID)
	if errors.Is(err, keys.ErrKeyNotFound) {
		return nil
	}

	if err != nil {
		return err
	}

	return r.each(ev, r.registry.Select(ev.Subsystem, subsystem.ManagesKeys), func(b subsystem.Backend) error {
		return b.CheckSSHKey(ctx, k)
	})
}

// provision creates the account in every subsystem the signup has a password
// for. The signup moves through the provisioning states once for all of them.
func (r *Runner) provision(ctx context.Context, ev *models.Event) error {
	s, err := signupctl.Get(r.db, ev.SignupID)
	if err != nil {
		return err
	}

	var backends []subsystem.Backend

	for _, b := range r.registry.Select(ev.Subsystem, nil) {
		if _, ok := s.Password(b.Name()); ok {
			backends = append(backends, b)
		}
	}

	retry := func(err error) bool { return !Permanent(err) }

	return signupctl.Provision(r.db, s.ID, retry, func() error {
		if len(backends) == 0 {
			return fmt.Errorf("%w: signup %s has none for the configured subsystems", mapper.ErrMissingPassword, s.ID)
		}

		return r.each(ev, backends, func(b subsystem.Backend) error {
			_, err := b.CreateAccount(ctx, s)
			return err
		})
	})
}
