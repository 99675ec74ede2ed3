package directory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitu-idm/dirsync/internal/directory"
)

func TestEntryChangeSet(t *testing.T) {
	e := directory.NewEntry("uid=amiller,ou=people,dc=example,dc=org", map[string][]string{
		"sshPublicKey": {"k1", "k2"},
		"loginShell":   {"/bin/sh"},
	})

	assert.False(t, e.IsNew())
	assert.False(t, e.Dirty())
	assert.Equal(t, []string{"k1", "k2"}, e.Get("sshpublickey"), "attribute names are case insensitive")
	assert.Equal(t, "/bin/sh", e.First("LOGINSHELL"))
	assert.True(t, e.Has("sshPublicKey", "k2"))

	e.Add("sshPublicKey", "k3")
	e.Delete("sshPublicKey", "k1")
	e.Replace("loginShell", "/bin/bash")
	e.Add("mail") // no values, ignored

	require.True(t, e.Dirty())
	require.Len(t, e.Changes(), 3)
	assert.Equal(t, directory.OpAdd, e.Changes()[0].Op)

	// committed values stay untouched until MarkCommitted
	assert.Equal(t, []string{"k1", "k2"}, e.Get("sshPublicKey"))
	assert.Equal(t, []string{"k2", "k3"}, e.Staged("sshPublicKey"))
	assert.Equal(t, []string{"/bin/bash"}, e.Staged("loginShell"))

	e.MarkCommitted()

	assert.False(t, e.Dirty())
	assert.Equal(t, []string{"k2", "k3"}, e.Get("sshPublicKey"))
	assert.Equal(t, "/bin/bash", e.First("loginShell"))
}

func TestEntryDeleteWholeAttribute(t *testing.T) {
	e := directory.NewEntry("cn=x", map[string][]string{"description": {"a", "b"}})

	e.Delete("description")
	assert.Empty(t, e.Staged("description"))

	e.MarkCommitted()
	assert.Empty(t, e.Get("description"))
	assert.Empty(t, e.First("description"))
}

func TestEntryDiscard(t *testing.T) {
	e := directory.NewEntry("cn=x", map[string][]string{"description": {"a"}})
	e.Replace("description", "b")
	e.Discard()

	assert.False(t, e.Dirty())
	assert.Equal(t, "a", e.First("description"))
}

func TestNewUserEntry(t *testing.T) {
	e := directory.NewUserEntry("uid=tina93,ou=people,dc=example,dc=org")
	assert.True(t, e.IsNew())
	assert.True(t, e.Dirty(), "new entries are always written")

	e.Replace("cn", "Tina93")
	e.Add("objectClass", "inetOrgPerson", "posixAccount")

	attrs := e.Attributes()
	assert.Equal(t, []string{"Tina93"}, attrs["cn"])
	assert.Equal(t, []string{"inetOrgPerson", "posixAccount"}, attrs["objectclass"])

	e.MarkCommitted()
	assert.False(t, e.IsNew())
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "replace", directory.OpReplace.String())
	assert.Equal(t, "add", directory.OpAdd.String())
	assert.Equal(t, "delete", directory.OpDelete.String())
	assert.Equal(t, "unknown", directory.Op(42).String())
}
