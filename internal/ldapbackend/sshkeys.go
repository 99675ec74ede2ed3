package ldapbackend

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/bitu-idm/dirsync/internal/db/controller/keys"
	"github.com/bitu-idm/dirsync/internal/db/models"
	"github.com/bitu-idm/dirsync/internal/directory"
	"github.com/bitu-idm/dirsync/internal/sshkey"
)

// directoryKeys indexes the ssh key values of an entry by fingerprint.
type directoryKeys struct {
	order  []string
	values map[string][]string
	parsed map[string]*sshkey.Key
}

func (d *directoryKeys) has(fp string) bool {
	_, ok := d.values[fp]
	return ok
}

func (b *Backend) directoryKeys(e *directory.Entry) *directoryKeys {
	d := &directoryKeys{values: map[string][]string{}, parsed: map[string]*sshkey.Key{}}

	for _, v := range e.Get(b.schema.SSHPublicKey) {
		k, err := sshkey.Parse(v)
		if err != nil {
			b.logger().Warn().Err(err).Str("dn", e.DN).Msg("skipping unparseable directory ssh key")
			continue
		}

		if !d.has(k.Fingerprint) {
			d.order = append(d.order, k.Fingerprint)
			d.parsed[k.Fingerprint] = k
		}

		d.values[k.Fingerprint] = append(d.values[k.Fingerprint], v)
	}

	return d
}

// directoryUser fetches the entry of user. ok is false when the user has no
// entry in this directory, which ends key jobs without error.
func (b *Backend) directoryUser(ctx context.Context, user *models.User) (*directory.Entry, bool, error) {
	e, err := b.dir.GetUser(ctx, user.Username)
	if errors.Is(err, directory.ErrEntryNotFound) {
		b.logger().Warn().Str("user", user.Username).Msg("user not found in directory")

		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("get user %s: %w", user.Username, err)
	}

	return e, true, nil
}

func fingerprintOf(k *models.SSHKey) (string, error) {
	if k.Fingerprint != "" {
		return k.Fingerprint, nil
	}

	return sshkey.Fingerprint(k.PublicKey)
}

// UpdateSSHKey pushes an active key to the directory. Pushing a key that is
// already present is a no-op.
func (b *Backend) UpdateSSHKey(ctx context.Context, key *models.SSHKey) error {
	if !key.Active || key.Subsystem != b.Name() {
		return nil
	}

	user, err := b.loadUser(key.UserID)
	if err != nil {
		return err
	}

	entry, ok, err := b.directoryUser(ctx, user)
	if !ok {
		return err
	}

	fp, err := fingerprintOf(key)
	if err != nil {
		return err
	}

	if b.directoryKeys(entry).has(fp) {
		return nil
	}

	entry.Add(b.schema.SSHPublicKey, key.PublicKey)

	if err = b.dir.Commit(ctx, entry); err != nil {
		return fmt.Errorf("push ssh key %s: %w", fp, err)
	}

	keyChanges.WithLabelValues(b.Name(), "pushed").Inc()
	b.logger().Info().Str("user", user.Username).Str("fingerprint", fp).Msg("ssh key pushed")

	return nil
}

// RemoveSSHKey removes a retired or deleted key from the directory unless
// another active record of the same user still holds the key.
func (b *Backend) RemoveSSHKey(ctx context.Context, key *models.SSHKey) error {
	if key.Active || key.Subsystem != b.Name() {
		return nil
	}

	fp, err := fingerprintOf(key)
	if err != nil {
		return err
	}

	local, err := keys.ListForSubsystem(b.db, key.UserID, b.Name())
	if err != nil {
		return err
	}

	for _, k := range local {
		if k.ID != key.ID && k.Active && k.Fingerprint == fp {
			return nil
		}
	}

	user, err := b.loadUser(key.UserID)
	if err != nil {
		return err
	}

	entry, ok, err := b.directoryUser(ctx, user)
	if !ok {
		return err
	}

	values := b.directoryKeys(entry).values[fp]
	if len(values) == 0 {
		return nil
	}

	entry.Delete(b.schema.SSHPublicKey, values...)

	if err = b.dir.Commit(ctx, entry); err != nil {
		return fmt.Errorf("retract ssh key %s: %w", fp, err)
	}

	keyChanges.WithLabelValues(b.Name(), "retracted").Add(float64(len(values)))
	b.logger().Info().Str("user", user.Username).Str("fingerprint", fp).Msg("ssh key retracted")

	return nil
}

// SynchronizeSSHKeys reconciles the directory with the user's records and
// imports what the directory holds afterwards.
func (b *Backend) SynchronizeSSHKeys(ctx context.Context, user *models.User) error {
	entry, ok, err := b.directoryUser(ctx, user)
	if !ok {
		return err
	}

	local, err := keys.ListForSubsystem(b.db, user.ID, b.Name())
	if err != nil {
		return err
	}

	active := map[string]bool{}
	inactive := map[string]bool{}

	for _, k := range local {
		if k.Active {
			active[k.Fingerprint] = true
		} else {
			inactive[k.Fingerprint] = true
		}
	}

	dk := b.directoryKeys(entry)
	attr := b.schema.SSHPublicKey
	removed, added := 0, 0

	for _, fp := range dk.order {
		if inactive[fp] && !active[fp] {
			entry.Delete(attr, dk.values[fp]...)
			removed += len(dk.values[fp])
		}
	}

	pushed := map[string]bool{}

	for _, k := range local {
		if !k.Active || dk.has(k.Fingerprint) || pushed[k.Fingerprint] {
			continue
		}

		entry.Add(attr, k.PublicKey)
		pushed[k.Fingerprint] = true
		added++
	}

	if entry.Dirty() {
		if err = b.dir.Commit(ctx, entry); err != nil {
			return fmt.Errorf("synchronize ssh keys of %s: %w", user.Username, err)
		}

		keyChanges.WithLabelValues(b.Name(), "pushed").Add(float64(added))
		keyChanges.WithLabelValues(b.Name(), "retracted").Add(float64(removed))
		b.logger().Info().Str("user", user.Username).Int("added", added).Int("removed", removed).
			Msg("ssh keys synchronized")
	}

	return b.importKeys(user, entry)
}

// LoadSSHKeys imports the directory keys of user into the relational store.
func (b *Backend) LoadSSHKeys(ctx context.Context, user *models.User) error {
	entry, ok, err := b.directoryUser(ctx, user)
	if !ok {
		return err
	}

	return b.importKeys(user, entry)
}

// importKeys makes the records of this subsystem match the directory entry.
// Failing records are logged and skipped. Writes carry the skip side effects
// flag so they never schedule a push or retract.
func (b *Backend) importKeys(user *models.User, entry *directory.Entry) error {
	dk := b.directoryKeys(entry)

	all, err := keys.ListForUser(b.db, user.ID)
	if err != nil {
		return err
	}

	l := b.logger().With().Str("user", user.Username).Logger()

	return b.db.Transaction(func(tx *gorm.DB) error {
		for i := range all {
			k := &all[i]
			if k.Subsystem != b.Name() || dk.has(k.Fingerprint) {
				continue
			}

			k.Active = false
			k.Subsystem = ""

			if err := keys.Store(tx, k, keys.SkipSideEffects()); err != nil {
				l.Error().Err(err).Uint64("key", k.ID).Msg("failed to release ssh key")
				continue
			}

			keyChanges.WithLabelValues(b.Name(), "released").Inc()
		}

		for _, fp := range dk.order {
			rec := pick(all, fp, b.Name())
			if rec != nil && rec.Active && rec.Subsystem == b.Name() {
				continue
			}

			change := "activated"

			if rec == nil {
				comment := dk.parsed[fp].Comment
				if comment == "" {
					comment = "Imported from " + b.cfg.DisplayName
				}

				rec = keys.FromParsed(user.ID, dk.parsed[fp], comment)
				change = "imported"
			}

			rec.Active = true
			rec.Subsystem = b.Name()

			if err := keys.Store(tx, rec, keys.SkipSideEffects()); err != nil {
				l.Error().Err(err).Str("fingerprint", fp).Msg("failed to import ssh key")
				continue
			}

			keyChanges.WithLabelValues(b.Name(), change).Inc()
		}

		return nil
	})
}

// pick returns the record for fp: one tagged with subsystem first, an unclaimed one second.
func pick(all []models.SSHKey, fp, subsystem string) *models.SSHKey {
	var unclaimed *models.SSHKey

	for i := range all {
		k := &all[i]
		if k.Fingerprint != fp {
			continue
		}

		if k.Subsystem == subsystem {
			return k
		}

		if k.Subsystem == "" && unclaimed == nil {
			unclaimed = k
		}
	}

	return unclaimed
}

// CheckSSHKey claims a freshly uploaded key that the user's directory entry already holds.
func (b *Backend) CheckSSHKey(ctx context.Context, key *models.SSHKey) error {
	if key.Claimed() || key.Active {
		return nil
	}

	user, err := b.loadUser(key.UserID)
	if err != nil {
		return err
	}

	entry, ok, err := b.directoryUser(ctx, user)
	if !ok {
		return err
	}

	fp, err := fingerprintOf(key)
	if err != nil {
		return err
	}

	dk := b.directoryKeys(entry)
	if !dk.has(fp) {
		return nil
	}

	key.Active = true
	key.Subsystem = b.Name()

	if c := dk.parsed[fp].Comment; c != "" {
		key.Comment = c
	}

	if err = keys.Store(b.db, key); err != nil {
		return fmt.Errorf("claim ssh key %s: %w", fp, err)
	}

	keyChanges.WithLabelValues(b.Name(), "claimed").Inc()
	b.logger().Info().Str("user", user.Username).Str("fingerprint", fp).Msg("ssh key claimed")

	return nil
}
