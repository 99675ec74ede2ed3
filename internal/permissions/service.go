// Package permissions runs permission requests through their validation rules
// and grants approved memberships through the subsystem backends.
package permissions

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/bitu-idm/dirsync/internal/config"
	permissionctl "github.com/bitu-idm/dirsync/internal/db/controller/permission"
	userctl "github.com/bitu-idm/dirsync/internal/db/controller/user"
	"github.com/bitu-idm/dirsync/internal/db/models"
	"github.com/bitu-idm/dirsync/internal/notify"
	"github.com/bitu-idm/dirsync/internal/subsystem"
)

// Service manages permission requests.
type Service struct {
	db       *gorm.DB
	registry *subsystem.Registry
	rules    []config.PermissionRule
	notifier notify.Notifier
	now      func() time.Time
}

// New creates a Service.
func New(db *gorm.DB, registry *subsystem.Registry, cfg config.Permissions, n notify.Notifier) *Service {
	return &Service{
		db:       db,
		registry: registry,
		rules:    cfg.Rules,
		notifier: n,
		now:      time.Now,
	}
}

func (s *Service) logger() *zerolog.Logger {
	l := log.With().Str("component", "permissions").Logger()

	return &l
}

func (s *Service) backend(name string) (subsystem.Backend, error) {
	bs := s.registry.Select(name, subsystem.ManagesPermissions)
	if name == "" || len(bs) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSubsystem, name)
	}

	return bs[0], nil
}

// rulesFor returns the rules configured for one permission.
func (s *Service) rulesFor(sub, key string) []config.PermissionRule {
	var out []config.PermissionRule

	for _, r := range s.rules {
		if r.Subsystem == sub && r.Key == key {
			out = append(out, r)
		}
	}

	return out
}

// managers returns the usernames allowed to decide on a permission.
func (s *Service) managers(sub, key string) []string {
	var out []string

	for _, r := range s.rulesFor(sub, key) {
		if r.Rule != RuleManagerApproval {
			continue
		}

		for _, m := range r.Managers {
			if !slices.Contains(out, m) {
				out = append(out, m)
			}
		}
	}

	return out
}

// Submit files a new pending request of user for the group key.
func (s *Service) Submit(
	ctx context.Context,
	user *models.User,
	sub, key, comment, ticket string,
) (*models.PermissionRequest, error) {
	b, err := s.backend(sub)
	if err != nil {
		return nil, err
	}

	if _, err = b.GetPermission(ctx, key); err != nil {
		return nil, err
	}

	latest, err := permissionctl.Latest(s.db, user.ID, sub, key)

	switch {
	case err == nil && latest.Status == models.PermissionPending:
		return nil, fmt.Errorf("%w: %s", ErrAlreadyPending, key)
	case err != nil && !errors.Is(err, permissionctl.ErrRequestNotFound):
		return nil, err
	}

	r, err := permissionctl.Create(s.db, user.ID, sub, key, comment, ticket)
	if err != nil {
		return nil, err
	}

	s.logger().Info().Str("user", user.Username).Str("subsystem", sub).Str("permission", key).
		Str("request", r.ID).Msg("permission requested")

	return r, nil
}

// Log records the decision of manager on a pending request.
// The validation runs as a job afterwards.
func (s *Service) Log(_ context.Context, requestID, manager string, approved bool, comment string) error {
	r, err := permissionctl.Get(s.db, requestID)
	if err != nil {
		return err
	}

	if !slices.Contains(s.managers(r.Subsystem, r.Key), manager) {
		return fmt.Errorf("%w: %s", ErrNotManager, manager)
	}

	if _, err = permissionctl.AddLog(s.db, requestID, manager, approved, comment); err != nil {
		return err
	}

	s.logger().Info().Str("request", requestID).Str("manager", manager).Bool("approved", approved).
		Msg("permission decision recorded")

	return nil
}

// Validate runs the rules of a request. A processed rejection by any rule
// rejects it. When every rule processed and approved, the membership is
// granted and the request approved. Otherwise it stays pending. Requests
// that are no longer pending are returned unchanged.
func (s *Service) Validate(ctx context.Context, requestID string) (models.PermissionStatus, error) {
	r, err := permissionctl.Get(s.db, requestID)
	if err != nil {
		return "", err
	}

	if r.Status != models.PermissionPending {
		return r.Status, nil
	}

	b, err := s.backend(r.Subsystem)
	if err != nil {
		return "", err
	}

	l := s.logger().With().Str("request", r.ID).Str("permission", r.Key).Logger()

	rules := s.rulesFor(r.Subsystem, r.Key)
	if len(rules) == 0 {
		l.Warn().Msg("no rules configured, request stays pending")

		return models.PermissionPending, nil
	}

	approved := true

	for _, rule := range rules {
		res, err := Evaluate(ctx, Input{Rule: rule, User: &r.User, Logs: r.Logs, Backend: b})
		if err != nil {
			return "", fmt.Errorf("rule %s: %w", rule.Rule, err)
		}

		if res.Processed && !res.Approved {
			l.Info().Str("rule", rule.Rule).Msg("permission request rejected")

			return s.close(r, models.PermissionRejected)
		}

		approved = approved && res.Processed && res.Approved
	}

	if !approved {
		return models.PermissionPending, nil
	}

	p, err := b.GetPermission(ctx, r.Key)
	if err != nil {
		return "", err
	}

	if err = b.Grant(ctx, &r.User, *p); err != nil {
		return "", err
	}

	l.Info().Str("user", r.User.Username).Msg("permission request approved")

	return s.close(r, models.PermissionApproved)
}

func (s *Service) close(r *models.PermissionRequest, status models.PermissionStatus) (models.PermissionStatus, error) {
	if err := permissionctl.SetStatus(s.db, r.ID, status); err != nil {
		return "", err
	}

	decisions.WithLabelValues(r.Subsystem, string(status)).Inc()

	return status, nil
}

// Cancel withdraws a pending request.
func (s *Service) Cancel(_ context.Context, requestID string) error {
	r, err := permissionctl.Get(s.db, requestID)
	if err != nil {
		return err
	}

	if r.Status != models.PermissionPending {
		return permissionctl.ErrRequestClosed
	}

	_, err = s.close(r, models.PermissionCancelled)

	return err
}

// ExpirePending cancels requests pending for longer than olderThan and returns
// them. With dryRun the requests are only reported.
func (s *Service) ExpirePending(_ context.Context, olderThan time.Duration, dryRun bool) ([]models.PermissionRequest, error) {
	stale, err := permissionctl.PendingBefore(s.db, s.now().Add(-olderThan))
	if err != nil {
		return nil, err
	}

	for i := range stale {
		r := &stale[i]
		l := s.logger().Info().Str("request", r.ID).Str("user", r.User.Username).Str("permission", r.Key).
			Time("created", r.CreatedAt).Bool("dry_run", dryRun)

		if dryRun {
			l.Msg("would expire permission request")
			continue
		}

		if _, err = s.close(r, models.PermissionCancelled); err != nil {
			return nil, err
		}

		r.Status = models.PermissionCancelled

		l.Msg("permission request expired")
	}

	return stale, nil
}

// PendingForManager returns the pending requests username may decide on.
func (s *Service) PendingForManager(username string) ([]models.PermissionRequest, error) {
	keys := map[string][]string{}

	for _, r := range s.rules {
		if r.Rule == RuleManagerApproval && slices.Contains(r.Managers, username) &&
			!slices.Contains(keys[r.Subsystem], r.Key) {
			keys[r.Subsystem] = append(keys[r.Subsystem], r.Key)
		}
	}

	var out []models.PermissionRequest

	for _, sub := range s.registry.Names() {
		rs, err := permissionctl.Pending(s.db, sub, keys[sub])
		if err != nil {
			return nil, err
		}

		out = append(out, rs...)
	}

	return out, nil
}

// NotifyManagers tells the managers of a request that a decision is needed.
// Managers without a known address are skipped.
func (s *Service) NotifyManagers(ctx context.Context, requestID string) error {
	r, err := permissionctl.Get(s.db, requestID)
	if err != nil {
		return err
	}

	if r.Status != models.PermissionPending {
		return nil
	}

	var recipients []string

	for _, m := range s.managers(r.Subsystem, r.Key) {
		u, err := userctl.GetByUsername(s.db, m)
		if errors.Is(err, userctl.ErrUserNotFound) {
			s.logger().Warn().Str("manager", m).Msg("manager has no account, not notified")
			continue
		}

		if err != nil {
			return err
		}

		recipients = append(recipients, u.Email)
	}

	if len(recipients) == 0 || s.notifier == nil {
		return nil
	}

	return s.notifier.Notify(ctx, notify.Message{
		Subject: fmt.Sprintf("Permission request: %s for %s", r.Key, r.User.Username),
		Body: fmt.Sprintf(
			"%s requested the permission %s in %s.\n\nJustification: %s\nTicket: %s\nRequest: %s\n",
			r.User.Username, r.Key, r.Subsystem, r.Comment, r.Ticket, r.ID,
		),
		Scope:      notify.ScopeManagers,
		Recipients: recipients,
	})
}

// Prevalidate reports whether user passes every prevalidation rule of the
// permission. Permissions without such rules are always offered.
func (s *Service) Prevalidate(ctx context.Context, user *models.User, sub, key string) (bool, error) {
	var b subsystem.PermissionBackend

	for _, rule := range s.rulesFor(sub, key) {
		if !rule.Prevalidate {
			continue
		}

		if b == nil {
			backend, err := s.backend(sub)
			if err != nil {
				return false, err
			}

			b = backend
		}

		res, err := Evaluate(ctx, Input{Rule: rule, User: user, Backend: b})
		if err != nil {
			return false, fmt.Errorf("rule %s: %w", rule.Rule, err)
		}

		if !res.Processed || !res.Approved {
			return false, nil
		}
	}

	return true, nil
}
