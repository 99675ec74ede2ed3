// Package mapper turns relational records into directory attributes.
// Attribute names are taken from config.Schema.
package mapper

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bitu-idm/dirsync/internal/config"
	"github.com/bitu-idm/dirsync/internal/db/models"
	"github.com/bitu-idm/dirsync/internal/directory"
)

// Mapper fills directory entries for one subsystem.
type Mapper struct {
	dir    directory.Directory
	schema config.Schema
	sub    config.Subsystem
}

// New creates a Mapper.
func New(dir directory.Directory, schema config.Schema, sub config.Subsystem) *Mapper {
	return &Mapper{dir: dir, schema: schema, sub: sub}
}

// AllocateUIDNumber asks the directory for the next free uidNumber and checks it
// against the subsystem's ranges.
func (m *Mapper) AllocateUIDNumber(ctx context.Context) (int, error) {
	n, err := m.dir.NextUIDNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("next uidNumber: %w", err)
	}

	if err := CheckRange(n, m.sub.UIDRanges); err != nil {
		return 0, err
	}

	return n, nil
}

// CheckRange returns a *RangeViolationError unless n lies in one of ranges.
// No ranges accept every number.
func CheckRange(n int, ranges []config.Range) error {
	if len(ranges) == 0 {
		return nil
	}

	for _, r := range ranges {
		if r.Min <= n && n <= r.Max {
			return nil
		}
	}

	return &RangeViolationError{UIDNumber: n, Ranges: ranges}
}

// FillNewUser stages the account attributes of signup on e.
// password must already be hashed in userPassword format.
func (m *Mapper) FillNewUser(ctx context.Context, signup *models.Signup, password string, e *directory.Entry) error {
	uidNumber, err := m.AllocateUIDNumber(ctx)
	if err != nil {
		return err
	}

	uid := strings.ToLower(signup.UID)
	name := CapitalizeFirst(signup.Username)

	e.Replace(m.schema.CommonName, name)
	e.Replace(m.schema.Surname, name)
	e.Replace(m.schema.UID, uid)
	e.Replace(m.schema.UIDNumber, strconv.Itoa(uidNumber))
	e.Replace(m.schema.GIDNumber, strconv.Itoa(m.sub.DefaultGID))
	e.Replace(m.schema.HomeDirectory, strings.TrimSuffix(m.sub.HomePrefix, "/")+"/"+uid)
	e.Replace(m.schema.Password, password)
	e.Replace(m.schema.Mail, strings.ToLower(signup.Email))
	e.Replace(m.schema.LoginShell, m.sub.DefaultShell)

	return nil
}

// CapitalizeFirst uppercases the first rune of s and leaves the rest untouched.
func CapitalizeFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}

	return string(unicode.ToUpper(r)) + s[size:]
}
