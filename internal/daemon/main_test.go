package daemon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitu-idm/dirsync/internal/config"
	"github.com/bitu-idm/dirsync/internal/db/controller/keys"
	"github.com/bitu-idm/dirsync/internal/db/controller/outbox"
	"github.com/bitu-idm/dirsync/internal/db/dbtest"
	"github.com/bitu-idm/dirsync/internal/directory/directorytest"
	"github.com/bitu-idm/dirsync/internal/notify"
	"github.com/bitu-idm/dirsync/internal/sshkey"
)

const (
	testKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIE98KdrOV7JohIuejhoxwkhU4tXmyrscPCWDqeVAVXj3 laptop"
	rsaKey  = "ssh-rsa AAAAB3NzaC1yc2EAAAADAQABAAAAgQC2gysMkLfLqOuNhHgRiEGPdruI1Y6i1x47UEZPxQ0ltNjGStQiSsNi4N4KqGTz/MGjMEm54q0ktEpMOIieRsRNKrdr72KU5z3PiKBIrHqOo17kOdmpePL5BQb+QMlpBDSNV2mBm3vlh3HxcWEOjqBTPac/yJbJTcAorYrQmZpY3Q== small rsa" //nolint:lll
)

func testConfig(dir *directorytest.Directory) *config.Config {
	sub := config.Subsystem{
		Name:          "ldap",
		Kind:          "ldap",
		ManageSSHKeys: true,
		Permissions:   true,
	}
	sub.ApplyDefaults()

	return &config.Config{
		Title: "dirsync",
		DB: config.DB{
			GormEngine:  "sqlite",
			Name:        ":memory:",
			AutoMigrate: true,
		},
		Directory:  dir.Config(),
		Subsystems: []config.Subsystem{sub},
		SSHKeys: config.SSHKeys{
			AllowedTypes: []string{"ssh-ed25519", "ssh-rsa"},
			MinRSABits:   2048,
		},
		Jobs: config.Jobs{
			Workers:     2,
			BatchSize:   10,
			MaxAttempts: 3,
			RetryDelay:  1,
			SweepBatch:  10,
		},
	}
}

func TestNew(t *testing.T) {
	dir := directorytest.New(config.Directory{})
	cfg := testConfig(dir)

	d, err := New(cfg, WithDirectory(dir), WithNotifier(&notify.Recorder{}))
	require.NoError(t, err)

	assert.Equal(t, []string{"ldap"}, d.Registry.Names())
	assert.Nil(t, d.webService)

	_, err = New(nil)
	require.ErrorIs(t, err, config.ErrConfigNil)
}

func TestKeyPolicy(t *testing.T) {
	dir := directorytest.New(config.Directory{})
	d := Wire(testConfig(dir), dbtest.Open(t), WithDirectory(dir))
	u := dbtest.User(t, d.DB, "amiller")

	_, err := keys.Create(d.DB, u.ID, rsaKey, "", d.KeyPolicy())
	require.ErrorIs(t, err, sshkey.ErrKeyTooSmall)

	_, err = keys.Create(d.DB, u.ID, testKey, "", d.KeyPolicy())
	require.NoError(t, err)

	_, err = keys.Create(d.DB, u.ID, testKey, "", d.KeyPolicy())
	require.ErrorIs(t, err, keys.ErrDuplicateKey)
}

func TestKeyReachesDirectory(t *testing.T) {
	ctx := context.Background()
	dir := directorytest.New(config.Directory{})
	rec := &notify.Recorder{}
	d := Wire(testConfig(dir), dbtest.Open(t), WithDirectory(dir), WithNotifier(rec))

	u := dbtest.User(t, d.DB, "amiller")
	dn := dir.AddUser("amiller", nil)

	k, err := keys.Create(d.DB, u.ID, testKey, "", d.KeyPolicy())
	require.NoError(t, err)

	// the check finds nothing to claim
	n, err := d.Runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = keys.Activate(d.DB, k.ID, "ldap")
	require.NoError(t, err)

	_, err = d.Runner.RunOnce(ctx)
	require.NoError(t, err)
	stored := dir.Values(dn, "sshPublicKey")
	require.Len(t, stored, 1)

	fp, err := sshkey.Fingerprint(stored[0])
	require.NoError(t, err)
	assert.Equal(t, k.Fingerprint, fp)

	scheduled, err := d.Sweeper.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, scheduled)

	commits := dir.Commits

	_, err = d.Runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, commits, dir.Commits, "converged state needs no write")

	pending, parked, err := outbox.Counts(d.DB)
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Zero(t, parked)
	assert.Empty(t, rec.Subjects())
}
