// Package directorytest provides an in-memory directory for tests.
//
// The fake mirrors the LDAP behaviour the engine depends on: adding a value
// that already exists or deleting a missing value fails the whole commit,
// and entries returned by lookups are detached copies.
package directorytest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/bitu-idm/dirsync/internal/config"
	"github.com/bitu-idm/dirsync/internal/directory"
)

var (
	// ErrValueExists mimics LDAP attributeOrValueExists.
	ErrValueExists = errors.New("attribute or value exists")
	// ErrNoSuchValue mimics LDAP noSuchAttribute.
	ErrNoSuchValue = errors.New("no such attribute value")
	// ErrAlreadyExists mimics LDAP entryAlreadyExists.
	ErrAlreadyExists = errors.New("entry already exists")
	// ErrNoSuchObject mimics LDAP noSuchObject on modify.
	ErrNoSuchObject = errors.New("no such object")
)

// Directory is an in-memory directory.Directory.
type Directory struct {
	cfg config.Directory

	mu      sync.Mutex
	entries map[string]*record // normalized dn -> record

	// Unavailable makes every call fail with directory.ErrDirectoryUnavailable.
	Unavailable bool
	// FailCommit, when set, is returned wrapped in directory.ErrCommitFailed by the next commits.
	FailCommit error
	// Commits counts successful commits that wrote something.
	Commits int
	// Resets counts Reset calls.
	Resets int
}

var _ directory.Directory = (*Directory)(nil)

// New creates an empty fake directory using cfg for layout and schema.
func New(cfg config.Directory) *Directory {
	cfg.ApplyDefaults()

	if cfg.Users.BaseDN == "" {
		cfg.Users.BaseDN = "ou=people,dc=example,dc=org"
	}

	if cfg.Groups.BaseDN == "" {
		cfg.Groups.BaseDN = "ou=groups,dc=example,dc=org"
	}

	return &Directory{cfg: cfg, entries: map[string]*record{}}
}

type record struct {
	dn    string
	attrs map[string][]string // lower case attribute names
}

// Config returns the effective directory configuration.
func (d *Directory) Config() config.Directory {
	return d.cfg
}

func normDN(dn string) string {
	return strings.ToLower(strings.ReplaceAll(dn, ", ", ","))
}

func lowerAttrs(attrs map[string][]string) map[string][]string {
	out := make(map[string][]string, len(attrs))
	for k, v := range attrs {
		out[strings.ToLower(k)] = slices.Clone(v)
	}

	return out
}

// AddUser seeds a user entry. attrs may omit uid and objectClass.
func (d *Directory) AddUser(uid string, attrs map[string][]string) string {
	dn := d.UserDN(uid)
	a := lowerAttrs(attrs)

	if _, ok := a[strings.ToLower(d.cfg.Schema.UID)]; !ok {
		a[strings.ToLower(d.cfg.Schema.UID)] = []string{uid}
	}

	if _, ok := a["objectclass"]; !ok {
		a["objectclass"] = []string{"inetOrgPerson", "posixAccount", "ldapPublicKey"}
	}

	d.mu.Lock()
	d.entries[normDN(dn)] = &record{dn: dn, attrs: a}
	d.mu.Unlock()

	return dn
}

// AddGroup seeds a group entry with the given member DNs.
func (d *Directory) AddGroup(name string, members ...string) string {
	dn := d.GroupDN(name)

	d.mu.Lock()
	d.entries[normDN(dn)] = &record{dn: dn, attrs: map[string][]string{
		"objectclass": {d.cfg.Groups.ObjectClasses[0]},
		strings.ToLower(d.cfg.Groups.NamingAttribute): {name},
		strings.ToLower(d.cfg.Schema.Member):          slices.Clone(members),
	}}
	d.mu.Unlock()

	return dn
}

// Values returns the stored values of attr on dn.
func (d *Directory) Values(dn, attr string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if r, ok := d.entries[normDN(dn)]; ok {
		return slices.Clone(r.attrs[strings.ToLower(attr)])
	}

	return nil
}

// Exists reports whether dn is stored.
func (d *Directory) Exists(dn string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.entries[normDN(dn)]

	return ok
}

func (d *Directory) check() error {
	if d.Unavailable {
		return fmt.Errorf("%w: fake directory is down", directory.ErrDirectoryUnavailable)
	}

	return nil
}

func (d *Directory) copyOf(key string) *directory.Entry {
	r := d.entries[key]

	return directory.NewEntry(r.dn, r.attrs)
}

func (d *Directory) find(base string, match func(attrs map[string][]string) bool) []*directory.Entry {
	var out []*directory.Entry

	keys := make([]string, 0, len(d.entries))
	for k := range d.entries {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	for _, k := range keys {
		if !strings.HasSuffix(k, normDN(base)) {
			continue
		}

		if match(d.entries[k].attrs) {
			out = append(out, d.copyOf(k))
		}
	}

	return out
}

func hasValue(attrs map[string][]string, attr, value string) bool {
	return slices.ContainsFunc(attrs[strings.ToLower(attr)], func(v string) bool {
		return strings.EqualFold(v, value)
	})
}

// GetUser implements directory.Directory.
func (d *Directory) GetUser(_ context.Context, uid string) (*directory.Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(); err != nil {
		return nil, err
	}

	found := d.find(d.cfg.Users.BaseDN, func(a map[string][]string) bool {
		return hasValue(a, d.cfg.Schema.UID, uid)
	})

	return one(found, "user "+uid)
}

// GetGroup implements directory.Directory.
func (d *Directory) GetGroup(_ context.Context, name string) (*directory.Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(); err != nil {
		return nil, err
	}

	found := d.find(d.cfg.Groups.BaseDN, func(a map[string][]string) bool {
		return hasValue(a, d.cfg.Groups.NamingAttribute, name)
	})

	return one(found, "group "+name)
}

// GetEntry implements directory.Directory.
func (d *Directory) GetEntry(_ context.Context, dn string) (*directory.Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(); err != nil {
		return nil, err
	}

	if _, ok := d.entries[normDN(dn)]; !ok {
		return nil, fmt.Errorf("%w: %s", directory.ErrEntryNotFound, dn)
	}

	return d.copyOf(normDN(dn)), nil
}

// Search supports equality filters of the form (attr=value) and returns every entry below base otherwise.
func (d *Directory) Search(_ context.Context, base, filter string, _ []string) ([]*directory.Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(); err != nil {
		return nil, err
	}

	attr, value, ok := strings.Cut(strings.Trim(filter, "()"), "=")
	if !ok || strings.ContainsAny(attr, "&|!(") {
		return d.find(base, func(map[string][]string) bool { return true }), nil
	}

	return d.find(base, func(a map[string][]string) bool {
		if value == "*" {
			return len(a[strings.ToLower(attr)]) > 0
		}

		return hasValue(a, attr, value)
	}), nil
}

// ListGroups implements directory.Directory.
func (d *Directory) ListGroups(ctx context.Context) ([]*directory.Entry, error) {
	return d.Search(ctx, d.cfg.Groups.BaseDN, "", nil)
}

// MemberOf implements directory.Directory.
func (d *Directory) MemberOf(_ context.Context, dn string) ([]*directory.Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(); err != nil {
		return nil, err
	}

	return d.find(d.cfg.Groups.BaseDN, func(a map[string][]string) bool {
		return slices.ContainsFunc(a[strings.ToLower(d.cfg.Schema.Member)], func(m string) bool {
			return normDN(m) == normDN(dn)
		})
	}), nil
}

// NewUser implements directory.Directory.
func (d *Directory) NewUser(uid string) *directory.Entry {
	e := directory.NewUserEntry(d.UserDN(uid))
	e.Replace("objectClass", append(slices.Clone(d.cfg.Users.ObjectClasses), d.cfg.Users.AuxiliaryClasses...)...)
	e.Replace(d.cfg.Users.NamingAttribute, uid)

	return e
}

// UserDN implements directory.Directory.
func (d *Directory) UserDN(uid string) string {
	return d.cfg.Users.NamingAttribute + "=" + uid + "," + d.cfg.Users.BaseDN
}

// GroupDN implements directory.Directory.
func (d *Directory) GroupDN(name string) string {
	return d.cfg.Groups.NamingAttribute + "=" + name + "," + d.cfg.Groups.BaseDN
}

// Commit implements directory.Directory with LDAP modify semantics.
func (d *Directory) Commit(_ context.Context, e *directory.Entry) error {
	if !e.Dirty() {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(); err != nil {
		return err
	}

	if d.FailCommit != nil {
		return fmt.Errorf("%w: %s: %w", directory.ErrCommitFailed, e.DN, d.FailCommit)
	}

	key := normDN(e.DN)

	if e.IsNew() {
		if _, ok := d.entries[key]; ok {
			return fmt.Errorf("%w: %s: %w", directory.ErrCommitFailed, e.DN, ErrAlreadyExists)
		}

		d.entries[key] = &record{dn: e.DN, attrs: lowerAttrs(e.Attributes())}
		d.Commits++
		e.MarkCommitted()

		return nil
	}

	stored, ok := d.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s: %w", directory.ErrCommitFailed, e.DN, ErrNoSuchObject)
	}

	next := lowerAttrs(stored.attrs)

	for _, c := range e.Changes() {
		name := strings.ToLower(c.Attribute)

		switch c.Op {
		case directory.OpReplace:
			next[name] = slices.Clone(c.Values)
		case directory.OpAdd:
			for _, v := range c.Values {
				if slices.Contains(next[name], v) {
					return fmt.Errorf("%w: %s: %s: %w", directory.ErrCommitFailed, e.DN, name, ErrValueExists)
				}

				next[name] = append(next[name], v)
			}
		case directory.OpDelete:
			if len(c.Values) == 0 {
				if _, exists := next[name]; !exists {
					return fmt.Errorf("%w: %s: %s: %w", directory.ErrCommitFailed, e.DN, name, ErrNoSuchValue)
				}

				delete(next, name)

				continue
			}

			for _, v := range c.Values {
				i := slices.Index(next[name], v)
				if i < 0 {
					return fmt.Errorf("%w: %s: %s: %w", directory.ErrCommitFailed, e.DN, name, ErrNoSuchValue)
				}

				next[name] = slices.Delete(next[name], i, i+1)
			}
		}

		if len(next[name]) == 0 {
			delete(next, name)
		}
	}

	stored.attrs = next
	d.Commits++
	e.MarkCommitted()

	return nil
}

// NextUIDNumber implements directory.Directory.
func (d *Directory) NextUIDNumber(_ context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(); err != nil {
		return 0, err
	}

	next := d.cfg.UIDNumberStart

	for _, r := range d.entries {
		for _, v := range r.attrs[strings.ToLower(d.cfg.Schema.UIDNumber)] {
			if n, err := strconv.Atoi(v); err == nil && n+1 > next {
				next = n + 1
			}
		}
	}

	return next, nil
}

// Reset implements directory.Directory.
func (d *Directory) Reset() {
	d.mu.Lock()
	d.Resets++
	d.mu.Unlock()
}

func one(entries []*directory.Entry, what string) (*directory.Entry, error) {
	switch len(entries) {
	case 0:
		return nil, fmt.Errorf("%w: %s", directory.ErrEntryNotFound, what)
	case 1:
		return entries[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", directory.ErrMultipleEntries, what)
	}
}
