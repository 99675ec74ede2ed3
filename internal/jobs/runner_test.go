package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/bitu-idm/dirsync/internal/config"
	"github.com/bitu-idm/dirsync/internal/db/controller/keys"
	"github.com/bitu-idm/dirsync/internal/db/controller/outbox"
	permissionctl "github.com/bitu-idm/dirsync/internal/db/controller/permission"
	signupctl "github.com/bitu-idm/dirsync/internal/db/controller/signup"
	userctl "github.com/bitu-idm/dirsync/internal/db/controller/user"
	"github.com/bitu-idm/dirsync/internal/db/dbtest"
	"github.com/bitu-idm/dirsync/internal/db/models"
	"github.com/bitu-idm/dirsync/internal/directory"
	"github.com/bitu-idm/dirsync/internal/directory/directorytest"
	"github.com/bitu-idm/dirsync/internal/ldapbackend"
	"github.com/bitu-idm/dirsync/internal/mapper"
	"github.com/bitu-idm/dirsync/internal/notify"
	"github.com/bitu-idm/dirsync/internal/permissions"
	"github.com/bitu-idm/dirsync/internal/sshkey/sshkeytest"
	"github.com/bitu-idm/dirsync/internal/subsystem"
)

type env struct {
	db    *gorm.DB
	dir   *directorytest.Directory
	rec   *notify.Recorder
	perms *permissions.Service
	r     *Runner
	clock time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()

	sub := config.Subsystem{
		Name:               "ldap",
		Kind:               "ldap",
		DisplayName:        "LDAP",
		ManageSSHKeys:      true,
		Permissions:        true,
		DefaultGID:         2000,
		EditableAttributes: []string{"loginShell"},
	}
	sub.ApplyDefaults()

	db := dbtest.Open(t)
	dir := directorytest.New(config.Directory{UIDNumberStart: 2000})
	rec := &notify.Recorder{}

	reg := subsystem.NewRegistry()
	b := ldapbackend.New(db, dir, dir.Config(), sub, rec)
	reg.Register(b)

	perms := permissions.New(db, reg, config.Permissions{Rules: []config.PermissionRule{
		{Subsystem: "ldap", Key: "wikiadmins", Rule: permissions.RuleManagerApproval, Managers: []string{"A", "B"}, Count: 2},
	}}, rec)
	b.SetPrevalidator(perms)

	e := &env{db: db, dir: dir, rec: rec, perms: perms, clock: time.Now().Add(time.Minute)}
	e.r = New(db, reg, perms, config.Jobs{Workers: 2, BatchSize: 20, MaxAttempts: 3, RetryDelay: 10})
	e.r.now = func() time.Time { return e.clock }

	return e
}

func (e *env) run(t *testing.T) int {
	t.Helper()

	n, err := e.r.RunOnce(context.Background())
	require.NoError(t, err)

	return n
}

func (e *env) event(t *testing.T, kind models.EventKind) *models.Event {
	t.Helper()

	var ev models.Event
	require.NoError(t, e.db.Where("kind = ?", kind).Order("created_at DESC").First(&ev).Error)

	return &ev
}

func TestKeyLifecycle(t *testing.T) {
	e := newEnv(t)
	u := dbtest.User(t, e.db, "amiller")
	dn := e.dir.AddUser("amiller", nil)

	k, err := keys.Create(e.db, u.ID, sshkeytest.Key1, "", keys.Policy{})
	require.NoError(t, err)
	k, err = keys.Activate(e.db, k.ID, "ldap")
	require.NoError(t, err)

	assert.Equal(t, 2, e.run(t), "check and push")
	assert.Equal(t, []string{k.PublicKey}, e.dir.Values(dn, "sshPublicKey"))
	assert.Zero(t, e.run(t))

	require.NoError(t, keys.Delete(e.db, k.ID))
	assert.Equal(t, 1, e.run(t))
	assert.Empty(t, e.dir.Values(dn, "sshPublicKey"))

	pending, parked, err := outbox.Counts(e.db)
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Zero(t, parked)
}

func TestCheckClaimsUploadedKey(t *testing.T) {
	e := newEnv(t)
	u := dbtest.User(t, e.db, "amiller")
	e.dir.AddUser("amiller", map[string][]string{"sshPublicKey": {sshkeytest.Key1}})

	k, err := keys.Create(e.db, u.ID, sshkeytest.Key1Bare, "", keys.Policy{})
	require.NoError(t, err)

	assert.Equal(t, 1, e.run(t))

	got, err := keys.Get(e.db, k.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Equal(t, "ldap", got.Subsystem)

	// the claim schedules a full sync, which finds nothing to do
	assert.Equal(t, 1, e.run(t))
	assert.Zero(t, e.dir.Commits)
}

func TestSkippedEventsAreNotDispatched(t *testing.T) {
	e := newEnv(t)
	u := dbtest.User(t, e.db, "amiller")
	dn := e.dir.AddUser("amiller", nil)

	k, err := keys.Create(e.db, u.ID, sshkeytest.Key1, "", keys.Policy{}, keys.SkipSideEffects())
	require.NoError(t, err)
	_, err = keys.Activate(e.db, k.ID, "ldap", keys.SkipSideEffects())
	require.NoError(t, err)

	assert.Equal(t, 2, e.run(t))
	assert.Empty(t, e.dir.Values(dn, "sshPublicKey"))

	ev := e.event(t, models.EventPushSSHKey)
	assert.NotNil(t, ev.ProcessedAt)
	assert.Equal(t, 1, ev.Attempts)
}

func TestRetryThenPark(t *testing.T) {
	e := newEnv(t)
	u := dbtest.User(t, e.db, "amiller")
	e.dir.AddUser("amiller", nil)
	e.dir.Unavailable = true

	require.NoError(t, userctl.ScheduleSync(e.db, u.ID, "ldap"))

	assert.Equal(t, 1, e.run(t))

	ev := e.event(t, models.EventSyncSSHKeys)
	assert.Equal(t, 1, ev.Attempts)
	assert.Contains(t, ev.LastError, directory.ErrDirectoryUnavailable.Error())
	assert.Equal(t, e.clock.Add(10*time.Second).Unix(), ev.NextAttemptAt.Unix())
	assert.Nil(t, ev.FailedAt)

	assert.Zero(t, e.run(t), "not due before the backoff passed")

	e.clock = e.clock.Add(15 * time.Second)
	assert.Equal(t, 1, e.run(t))

	ev = e.event(t, models.EventSyncSSHKeys)
	assert.Equal(t, 2, ev.Attempts)
	assert.Equal(t, e.clock.Add(20*time.Second).Unix(), ev.NextAttemptAt.Unix())

	e.clock = e.clock.Add(time.Minute)
	assert.Equal(t, 1, e.run(t))

	ev = e.event(t, models.EventSyncSSHKeys)
	assert.Equal(t, 3, ev.Attempts)
	assert.NotNil(t, ev.FailedAt, "parked after MaxAttempts")

	_, parked, err := outbox.Counts(e.db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), parked)

	e.dir.Unavailable = false
	require.NoError(t, outbox.Requeue(e.db, ev.ID))
	e.clock = time.Now().Add(time.Minute)
	assert.Equal(t, 1, e.run(t))
	assert.NotNil(t, e.event(t, models.EventSyncSSHKeys).ProcessedAt)
}

func TestPermanentErrorParksImmediately(t *testing.T) {
	e := newEnv(t)
	u := dbtest.User(t, e.db, "amiller")
	e.dir.AddUser("amiller", nil)

	require.NoError(t, userctl.ScheduleAttributeUpdate(e.db, u.ID, "ldap", map[string]string{"uidNumber": "0"}))

	assert.Equal(t, 1, e.run(t))

	ev := e.event(t, models.EventUpdateAttributes)
	assert.Equal(t, 1, ev.Attempts)
	assert.NotNil(t, ev.FailedAt)
	assert.Contains(t, ev.LastError, ldapbackend.ErrAttributeNotEditable.Error())
}

func TestUpdateAttributes(t *testing.T) {
	e := newEnv(t)
	u := dbtest.User(t, e.db, "amiller")
	dn := e.dir.AddUser("amiller", map[string][]string{"loginShell": {"/bin/bash"}})

	require.NoError(t, userctl.ScheduleAttributeUpdate(e.db, u.ID, "", map[string]string{"loginShell": "/bin/zsh"}))

	assert.Equal(t, 1, e.run(t))
	assert.Equal(t, []string{"/bin/zsh"}, e.dir.Values(dn, "loginShell"))
}

func TestProvisionFlow(t *testing.T) {
	e := newEnv(t)

	s, err := signupctl.Create(e.db, signupctl.Intake{
		Username:  "tina93",
		UID:       "tina93",
		Email:     "tina93@example.org",
		Passwords: map[string]string{"ldap": "{SSHA}hash"},
	})
	require.NoError(t, err)
	_, err = signupctl.Activate(e.db, s.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, e.run(t))
	assert.True(t, e.dir.Exists(e.dir.UserDN("tina93")))

	s, err = signupctl.Get(e.db, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SignupProvisioned, s.Status)
	assert.Equal(t, []string{"LDAP user created: tina93"}, e.rec.Subjects())
}

func TestProvisionSeveralSubsystems(t *testing.T) {
	e := newEnv(t)

	wiki := config.Subsystem{Name: "wiki", Kind: "ldap", DisplayName: "Wiki", DefaultGID: 3000}
	wiki.ApplyDefaults()

	wikiDir := directorytest.New(config.Directory{UIDNumberStart: 3000})
	ldap, ok := e.r.registry.Get("ldap")
	require.True(t, ok)

	reg := subsystem.NewRegistry()
	reg.Register(ldap)
	reg.Register(ldapbackend.New(e.db, wikiDir, wikiDir.Config(), wiki, e.rec))
	e.r = New(e.db, reg, e.perms, e.r.cfg)
	e.r.now = func() time.Time { return e.clock }

	s, err := signupctl.Create(e.db, signupctl.Intake{
		Username:  "tina93",
		UID:       "tina93",
		Email:     "tina93@example.org",
		Passwords: map[string]string{"ldap": "{SSHA}hash", "wiki": "{SSHA}other"},
	})
	require.NoError(t, err)
	_, err = signupctl.Activate(e.db, s.ID)
	require.NoError(t, err)

	wikiDir.Unavailable = true
	assert.Equal(t, 1, e.run(t))

	s, err = signupctl.Get(e.db, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SignupProvisioning, s.Status)
	assert.True(t, e.dir.Exists(e.dir.UserDN("tina93")))
	assert.Nil(t, e.event(t, models.EventProvisionUser).FailedAt)

	wikiDir.Unavailable = false
	e.clock = e.clock.Add(time.Minute)
	assert.Equal(t, 1, e.run(t))

	s, err = signupctl.Get(e.db, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SignupProvisioned, s.Status)
	assert.True(t, wikiDir.Exists(wikiDir.UserDN("tina93")))
	assert.NotNil(t, e.event(t, models.EventProvisionUser).ProcessedAt)
	assert.Equal(t, []string{
		"LDAP user created: tina93",
		"LDAP user already provisioned: tina93",
		"Wiki user created: tina93",
	}, e.rec.Subjects())
}

func TestProvisionWithoutMatchingPasswordFails(t *testing.T) {
	e := newEnv(t)

	s, err := signupctl.Create(e.db, signupctl.Intake{
		Username:  "tina93",
		UID:       "tina93",
		Email:     "tina93@example.org",
		Passwords: map[string]string{"gitlab": "{SSHA}hash"},
	})
	require.NoError(t, err)
	_, err = signupctl.Activate(e.db, s.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, e.run(t))
	assert.NotNil(t, e.event(t, models.EventProvisionUser).FailedAt)

	s, err = signupctl.Get(e.db, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SignupFailed, s.Status)
}

// gate holds backend calls until released and records how many overlapped.
type gate struct {
	subsystem.Backend

	started chan string
	release chan struct{}
	running atomic.Int32
	peak    atomic.Int32
}

func (g *gate) enter(name string) {
	n := g.running.Add(1)
	for p := g.peak.Load(); n > p && !g.peak.CompareAndSwap(p, n); p = g.peak.Load() {
	}

	g.started <- name
	<-g.release
	g.running.Add(-1)
}

func (g *gate) SynchronizeSSHKeys(_ context.Context, _ *models.User) error {
	g.enter("sync")
	return nil
}

func (g *gate) UpdateSSHKey(_ context.Context, _ *models.SSHKey) error {
	g.enter("push")
	return nil
}

func TestUserEventsSerializePerBackend(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	b, ok := e.r.registry.Get("ldap")
	require.True(t, ok)

	g := &gate{Backend: b, started: make(chan string, 2), release: make(chan struct{})}
	reg := subsystem.NewRegistry()
	reg.Register(g)
	e.r = New(e.db, reg, e.perms, e.r.cfg)

	u := dbtest.User(t, e.db, "amiller")
	k, err := keys.Create(e.db, u.ID, sshkeytest.Key1, "", keys.Policy{})
	require.NoError(t, err)

	// the sync names no subsystem, the push names ldap; both reach the same backend
	syncEv := outbox.New(models.EventSyncSSHKeys, "")
	syncEv.UserID = u.ID
	pushEv := outbox.New(models.EventPushSSHKey, "ldap")
	pushEv.UserID = u.ID
	pushEv.SSHKeyID = k.ID

	var wg sync.WaitGroup

	for _, ev := range []*models.Event{syncEv, pushEv} {
		require.NoError(t, outbox.Enqueue(e.db, ev))
		wg.Add(1)

		go func() {
			defer wg.Done()
			assert.NoError(t, e.r.Process(ctx, ev))
		}()
	}

	first := <-g.started

	select {
	case second := <-g.started:
		t.Fatalf("%s started while %s was running", second, first)
	case <-time.After(50 * time.Millisecond):
	}

	g.release <- struct{}{}
	second := <-g.started
	assert.NotEqual(t, first, second)
	g.release <- struct{}{}

	wg.Wait()

	assert.Equal(t, int32(1), g.peak.Load())
}

func TestEventLock(t *testing.T) {
	testCases := []struct {
		name string
		ev   models.Event
		want string
	}{
		{name: "provision", ev: models.Event{Kind: models.EventProvisionUser, SignupID: "abc"}, want: "signup/abc"},
		{name: "validate", ev: models.Event{Kind: models.EventValidatePermission, UserID: 4, Subsystem: "ldap"}, want: "user/4/ldap"},
		{name: "sync locks per backend", ev: models.Event{Kind: models.EventSyncSSHKeys, UserID: 4}},
		{name: "push locks per backend", ev: models.Event{Kind: models.EventPushSSHKey, UserID: 4, Subsystem: "ldap"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, eventLock(&tc.ev))
		})
	}
}

func TestPermissionFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	u := dbtest.User(t, e.db, "amiller")
	dbtest.User(t, e.db, "A")
	e.dir.AddUser("amiller", nil)
	group := e.dir.AddGroup("wikiadmins")

	r, err := e.perms.Submit(ctx, u, "ldap", "wikiadmins", "", "")
	require.NoError(t, err)

	assert.Equal(t, 2, e.run(t), "notify and validate")
	require.Len(t, e.rec.Messages, 1)
	assert.Equal(t, notify.ScopeManagers, e.rec.Messages[0].Scope)

	require.NoError(t, e.perms.Log(ctx, r.ID, "A", true, ""))
	require.NoError(t, e.perms.Log(ctx, r.ID, "B", true, ""))

	assert.Equal(t, 2, e.run(t))

	stored, err := permissionctl.Get(e.db, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PermissionApproved, stored.Status)
	assert.Equal(t, []string{e.dir.UserDN("amiller")}, e.dir.Values(group, "member"))
}

func TestUnknownKindIsParked(t *testing.T) {
	e := newEnv(t)

	require.NoError(t, outbox.Enqueue(e.db, outbox.New("bogus", "ldap")))

	assert.Equal(t, 1, e.run(t))
	assert.NotNil(t, e.event(t, "bogus").FailedAt)
}

func TestPermanent(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "range violation", err: &mapper.RangeViolationError{UIDNumber: 70000}, want: true},
		{
			name: "joined not editable",
			err:  errors.Join(fmt.Errorf("ldap: %w", ldapbackend.ErrAttributeNotEditable)),
			want: true,
		},
		{name: "unavailable", err: directory.ErrDirectoryUnavailable},
		{name: "commit failed", err: directory.ErrCommitFailed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Permanent(tc.err))
		})
	}
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	var (
		wg      sync.WaitGroup
		counter int
	)

	for range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			unlock := k.Lock("user/1/ldap")
			defer unlock()

			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}

	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Zero(t, k.size())
}
