// Package directory is the LDAP client of the reconciliation engine.
//
// A Client keeps one bound connection per process and hands out Entry values
// carrying an explicit change set. Lookups distinguish ErrEntryNotFound from
// ErrDirectoryUnavailable so that jobs retry outages but never mistake them
// for absent entries.
package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog/log"

	"github.com/bitu-idm/dirsync/internal/config"
)

// Directory is the directory access used by mapper and backends.
type Directory interface {
	GetUser(ctx context.Context, uid string) (*Entry, error)
	GetGroup(ctx context.Context, name string) (*Entry, error)
	GetEntry(ctx context.Context, dn string) (*Entry, error)
	Search(ctx context.Context, base, filter string, attrs []string) ([]*Entry, error)
	ListGroups(ctx context.Context) ([]*Entry, error)
	MemberOf(ctx context.Context, dn string) ([]*Entry, error)
	NewUser(uid string) *Entry
	UserDN(uid string) string
	GroupDN(name string) string
	Commit(ctx context.Context, e *Entry) error
	NextUIDNumber(ctx context.Context) (int, error)
	Reset()
}

// Conn is the part of *ldap.Conn the client uses.
type Conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Add(req *ldap.AddRequest) error
	Modify(req *ldap.ModifyRequest) error
	Close() error
	SetTimeout(timeout time.Duration)
	IsClosing() bool
}

// Dialer opens an unbound connection.
type Dialer func(ctx context.Context) (Conn, error)

// Option configures a Client.
type Option func(c *Client)

// WithDialer replaces the go-ldap dialer, e.g. with a fake in tests.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		c.dial = d
	}
}

// Client implements Directory on top of go-ldap.
type Client struct {
	cfg    config.Directory
	dial   Dialer
	schema config.Schema

	mu   sync.Mutex
	conn Conn
}

var _ Directory = (*Client)(nil)

// New creates a client. No connection is opened before the first call.
func New(cfg config.Directory, opts ...Option) *Client {
	cfg.ApplyDefaults()

	c := &Client{cfg: cfg, schema: cfg.Schema}
	c.dial = c.dialLDAP

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Schema returns the attribute names in use.
func (c *Client) Schema() config.Schema {
	return c.schema
}

func (c *Client) dialLDAP(_ context.Context) (Conn, error) {
	var tlsConfig *tls.Config

	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid directory url: %w", err)
	}

	if u.Scheme == "ldaps" || c.cfg.UseTLS {
		tlsConfig = &tls.Config{
			InsecureSkipVerify: c.cfg.SkipVerify, //nolint:gosec // skipping verifying tls is ok
			ServerName:         u.Hostname(),
		}
	}

	conn, err := ldap.DialURL(c.cfg.URL, ldap.DialWithTLSConfig(tlsConfig))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to LDAP server: %w", err)
	}

	if u.Scheme != "ldaps" && c.cfg.UseTLS {
		if errStartTLS := conn.StartTLS(tlsConfig); errStartTLS != nil {
			if errClose := conn.Close(); errClose != nil {
				log.Error().Err(errClose).Msg("failed to close LDAP connection")
			}

			return nil, fmt.Errorf("failed to start TLS: %w", errStartTLS)
		}
	}

	return conn, nil
}

// connect dials and binds, retrying transient failures with exponential backoff.
func (c *Client) connect(ctx context.Context) (Conn, error) {
	conn, err := retry.DoWithData(
		func() (Conn, error) {
			conn, err := c.dial(ctx)
			if err != nil {
				return nil, err
			}

			conn.SetTimeout(time.Duration(c.cfg.Timeout) * time.Second)

			if c.cfg.BindDN == "" {
				return conn, nil
			}

			if err = conn.Bind(c.cfg.BindDN, c.cfg.BindPassword); err != nil {
				_ = conn.Close()

				if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
					return nil, retry.Unrecoverable(fmt.Errorf("failed to bind with service account: %w", err))
				}

				return nil, fmt.Errorf("failed to bind with service account: %w", err)
			}

			return conn, nil
		},
		retry.Context(ctx),
		retry.Attempts(c.cfg.RetryAttempts),
		retry.Delay(time.Duration(c.cfg.RetryDelay)*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Uint("attempt", n+1).Str("url", c.cfg.URL).Msg("directory connect failed, retrying")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
	}

	return conn, nil
}

// acquire returns the cached connection, dialing a new one when needed.
// fresh is true when the connection was opened by this call.
func (c *Client) acquire(ctx context.Context) (conn Conn, fresh bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosing() {
		return c.conn, false, nil
	}

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	conn, err = c.connect(ctx)
	if err != nil {
		return nil, false, err
	}

	c.conn = conn

	return conn, true, nil
}

// drop forgets conn if it is still the cached connection.
func (c *Client) drop(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == conn {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Reset closes the cached connection. The next call dials again.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			log.Debug().Err(err).Msg("failed to close LDAP connection")
		}

		c.conn = nil
	}
}

// do runs fn on a bound connection. A stale cached connection is replaced once.
func (c *Client) do(ctx context.Context, fn func(conn Conn) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, fresh, err := c.acquire(ctx)
		if err != nil {
			return err
		}

		err = fn(conn)
		if err == nil || !unavailable(err) {
			return err
		}

		c.drop(conn)

		if fresh {
			return fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
		}

		log.Debug().Err(err).Msg("cached directory connection is stale, reconnecting")
	}
}

// Search runs a subtree search below base.
func (c *Client) Search(ctx context.Context, base, filter string, attrs []string) ([]*Entry, error) {
	return c.search(ctx, base, ldap.ScopeWholeSubtree, filter, attrs)
}

func (c *Client) search(ctx context.Context, base string, scope int, filter string, attrs []string) ([]*Entry, error) {
	var result *ldap.SearchResult

	req := ldap.NewSearchRequest(
		base,
		scope,
		ldap.NeverDerefAliases,
		0, // Size limit
		c.cfg.Timeout,
		false,
		filter,
		attrs,
		nil,
	)

	err := c.do(ctx, func(conn Conn) error {
		var err error
		result, err = conn.Search(req)

		return err
	})

	switch {
	case ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject):
		return nil, nil
	case errors.Is(err, ErrDirectoryUnavailable):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("failed to search %s: %w", base, err)
	}

	entries := make([]*Entry, 0, len(result.Entries))

	for _, e := range result.Entries {
		attrs := make(map[string][]string, len(e.Attributes))
		for _, a := range e.Attributes {
			attrs[a.Name] = a.Values
		}

		entries = append(entries, NewEntry(e.DN, attrs))
	}

	return entries, nil
}

func single(entries []*Entry, what string) (*Entry, error) {
	switch len(entries) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, what)
	case 1:
		return entries[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrMultipleEntries, what)
	}
}

// filterFor builds (&(attr=value)<tree filter>).
func filterFor(attr, value, extra string) string {
	return "(&(" + attr + "=" + ldap.EscapeFilter(value) + ")" + extra + ")"
}

// GetUser fetches a user by uid. A missing user yields ErrEntryNotFound.
func (c *Client) GetUser(ctx context.Context, uid string) (*Entry, error) {
	entries, err := c.Search(ctx, c.cfg.Users.BaseDN, filterFor(c.schema.UID, uid, c.cfg.Users.Filter), []string{"*"})
	if err != nil {
		return nil, err
	}

	return single(entries, "user "+uid)
}

// GetGroup fetches a group by its naming attribute.
func (c *Client) GetGroup(ctx context.Context, name string) (*Entry, error) {
	entries, err := c.Search(
		ctx,
		c.cfg.Groups.BaseDN,
		filterFor(c.cfg.Groups.NamingAttribute, name, c.cfg.Groups.Filter),
		[]string{"*"},
	)
	if err != nil {
		return nil, err
	}

	return single(entries, "group "+name)
}

// GetEntry fetches an entry by DN.
func (c *Client) GetEntry(ctx context.Context, dn string) (*Entry, error) {
	entries, err := c.search(ctx, dn, ldap.ScopeBaseObject, "(objectClass=*)", []string{"*"})
	if err != nil {
		return nil, err
	}

	return single(entries, dn)
}

// ListGroups returns every group below the groups base.
func (c *Client) ListGroups(ctx context.Context) ([]*Entry, error) {
	filter := "(&(objectClass=" + ldap.EscapeFilter(c.cfg.Groups.ObjectClasses[0]) + ")" + c.cfg.Groups.Filter + ")"

	return c.Search(ctx, c.cfg.Groups.BaseDN, filter, []string{c.cfg.Groups.NamingAttribute, c.schema.Description})
}

// MemberOf returns the groups whose member attribute holds dn.
func (c *Client) MemberOf(ctx context.Context, dn string) ([]*Entry, error) {
	return c.Search(
		ctx,
		c.cfg.Groups.BaseDN,
		filterFor(c.schema.Member, dn, c.cfg.Groups.Filter),
		[]string{c.cfg.Groups.NamingAttribute, c.schema.Description},
	)
}

// UserDN returns the DN of the user uid.
func (c *Client) UserDN(uid string) string {
	return c.cfg.Users.NamingAttribute + "=" + ldap.EscapeDN(uid) + "," + c.cfg.Users.BaseDN
}

// GroupDN returns the DN of the group name.
func (c *Client) GroupDN(name string) string {
	return c.cfg.Groups.NamingAttribute + "=" + ldap.EscapeDN(name) + "," + c.cfg.Groups.BaseDN
}

// NewUser returns an uncommitted user entry carrying the configured object classes.
func (c *Client) NewUser(uid string) *Entry {
	e := NewUserEntry(c.UserDN(uid))

	classes := append(append([]string{}, c.cfg.Users.ObjectClasses...), c.cfg.Users.AuxiliaryClasses...)
	e.Replace("objectClass", classes...)
	e.Replace(c.cfg.Users.NamingAttribute, uid)

	return e
}

// Commit applies the change set of e. New entries are added, existing ones modified.
// Committing a clean entry is a no-op.
func (c *Client) Commit(ctx context.Context, e *Entry) error {
	if !e.Dirty() {
		return nil
	}

	var write func(conn Conn) error

	if e.IsNew() {
		attrs := e.Attributes()
		req := ldap.NewAddRequest(e.DN, nil)

		for _, name := range sortedNames(attrs) {
			req.Attribute(name, attrs[name])
		}

		write = func(conn Conn) error { return conn.Add(req) }
	} else {
		req := ldap.NewModifyRequest(e.DN, nil)

		for _, change := range e.Changes() {
			switch change.Op {
			case OpReplace:
				req.Replace(change.Attribute, change.Values)
			case OpAdd:
				req.Add(change.Attribute, change.Values)
			case OpDelete:
				req.Delete(change.Attribute, change.Values)
			}
		}

		write = func(conn Conn) error { return conn.Modify(req) }
	}

	err := c.do(ctx, write)

	switch {
	case err == nil:
		e.MarkCommitted()

		return nil
	case errors.Is(err, ErrDirectoryUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %s: %w", ErrCommitFailed, e.DN, err)
	}
}

// NextUIDNumber returns the highest uidNumber in use plus one, at least the configured start.
func (c *Client) NextUIDNumber(ctx context.Context) (int, error) {
	entries, err := c.Search(ctx, c.cfg.Users.BaseDN, "(objectClass=posixAccount)", []string{c.schema.UIDNumber})
	if err != nil {
		return 0, err
	}

	next := c.cfg.UIDNumberStart

	for _, e := range entries {
		n, errConv := strconv.Atoi(e.First(c.schema.UIDNumber))
		if errConv != nil {
			log.Warn().Str("dn", e.DN).Msg("ignoring entry with invalid uidNumber")
			continue
		}

		if n+1 > next {
			next = n + 1
		}
	}

	return next, nil
}
