// Package reconciler periodically schedules a full ssh key reconciliation for
// every active user, a batch per tick.
package reconciler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/bitu-idm/dirsync/internal/config"
	"github.com/bitu-idm/dirsync/internal/db/controller/outbox"
	"github.com/bitu-idm/dirsync/internal/db/controller/sweepstate"
	userctl "github.com/bitu-idm/dirsync/internal/db/controller/user"
	"github.com/bitu-idm/dirsync/internal/db/models"
)

// Sweeper walks the users table and enqueues sync events. Its cursor lives in
// the settings table so a restart resumes where the last tick stopped.
type Sweeper struct {
	db       *gorm.DB
	interval time.Duration
	batch    int
	now      func() time.Time
}

// New creates a Sweeper from the jobs configuration.
func New(db *gorm.DB, cfg config.Jobs) *Sweeper {
	return &Sweeper{
		db:       db,
		interval: time.Duration(cfg.SweepInterval) * time.Minute,
		batch:    max(cfg.SweepBatch, 1),
		now:      time.Now,
	}
}

func (s *Sweeper) logger() *zerolog.Logger {
	l := log.With().Str("component", "reconciler").Logger()

	return &l
}

// Start runs Tick every interval until ctx is cancelled. A zero interval disables the sweeper.
func (s *Sweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger().Info().Msg("ssh key sweep disabled")
		return
	}

	s.logger().Info().Dur("interval", s.interval).Int("batch", s.batch).Msg("reconciler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger().Info().Msg("reconciler stopped")
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger().Error().Err(err).Msg("ssh key sweep failed")
			}
		}
	}
}

// Tick enqueues a sync for the next batch of users and returns how many were
// scheduled. Users that still have a pending sync are skipped. When the batch
// runs past the last user the round completes and the cursor starts over.
func (s *Sweeper) Tick(ctx context.Context) (int, error) {
	var (
		state     sweepstate.State
		scheduled int
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := state.Load(tx); err != nil {
			return err
		}

		if state.LastUserID == 0 {
			state.StartedAt = s.now()
		}

		users, err := userctl.ListAfter(tx, state.LastUserID, s.batch)
		if err != nil {
			return err
		}

		for _, u := range users {
			pending, err := outbox.HasPending(tx, models.EventSyncSSHKeys, u.ID, "")
			if err != nil {
				return err
			}

			if !pending {
				if err = userctl.ScheduleSync(tx, u.ID, ""); err != nil {
					return err
				}

				scheduled++
			}

			state.LastUserID = u.ID
		}

		if len(users) < s.batch {
			state.LastUserID = 0
			state.Rounds++
			state.CompletedAt = s.now()

			s.logger().Info().Int("round", state.Rounds).Time("started", state.StartedAt).
				Msg("ssh key sweep round completed")
		}

		return state.Save(tx)
	})
	if err != nil {
		return 0, err
	}

	s.logger().Debug().Int("scheduled", scheduled).Uint64("cursor", state.LastUserID).Msg("ssh key sweep tick")

	return scheduled, nil
}
