package ldapbackend_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/bitu-idm/dirsync/internal/config"
	"github.com/bitu-idm/dirsync/internal/db/controller/keys"
	"github.com/bitu-idm/dirsync/internal/db/dbtest"
	"github.com/bitu-idm/dirsync/internal/db/models"
	"github.com/bitu-idm/dirsync/internal/directory/directorytest"
	"github.com/bitu-idm/dirsync/internal/ldapbackend"
	"github.com/bitu-idm/dirsync/internal/notify"
)

const name = "ldapbackend"

type env struct {
	db  *gorm.DB
	dir *directorytest.Directory
	rec *notify.Recorder
	b   *ldapbackend.Backend
}

func newEnv(t *testing.T, dirCfg config.Directory, mutate ...func(s *config.Subsystem)) *env {
	t.Helper()

	sub := config.Subsystem{
		Name:               name,
		Kind:               "ldap",
		DisplayName:        "LDAP",
		ManageSSHKeys:      true,
		Permissions:        true,
		DefaultGID:         2000,
		EditableAttributes: []string{"loginShell", "mail"},
	}
	for _, m := range mutate {
		m(&sub)
	}

	sub.ApplyDefaults()

	if dirCfg.UIDNumberStart == 0 {
		dirCfg.UIDNumberStart = 2000
	}

	db := dbtest.Open(t)
	dir := directorytest.New(dirCfg)
	rec := &notify.Recorder{}

	return &env{db: db, dir: dir, rec: rec, b: ldapbackend.New(db, dir, dir.Config(), sub, rec)}
}

func (e *env) keys(t *testing.T, userID uint64) []models.SSHKey {
	t.Helper()

	all, err := keys.ListForUser(e.db, userID)
	require.NoError(t, err)

	return all
}

// activeKey stores raw as an active key of the backend subsystem.
func (e *env) activeKey(t *testing.T, userID uint64, raw string) *models.SSHKey {
	t.Helper()

	k, err := keys.Create(e.db, userID, raw, "", keys.Policy{})
	require.NoError(t, err)

	k, err = keys.Activate(e.db, k.ID, name)
	require.NoError(t, err)

	return k
}
