package identity

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-ldap/ldap/v3"
)

const defaultDirectoryTimeout = 10 * time.Second

// Schema maps identity fields to directory attribute names.
type Schema struct {
	UserClass  string
	GroupClass string

	UserName string
	UID      string
	GID      string
	Gecos    string
	Home     string
	Shell    string

	GroupName string
	GroupGID  string
	Member    string

	// MemberIsDN is set when group members are stored as DNs (Active
	// Directory) rather than plain user names (RFC 2307 memberUid).
	MemberIsDN bool
}

// RFC2307 is the posixAccount/posixGroup schema used by OpenLDAP-style directories.
var RFC2307 = Schema{
	UserClass:  "posixAccount",
	GroupClass: "posixGroup",
	UserName:   "uid",
	UID:        "uidNumber",
	GID:        "gidNumber",
	Gecos:      "gecos",
	Home:       "homeDirectory",
	Shell:      "loginShell",
	GroupName:  "cn",
	GroupGID:   "gidNumber",
	Member:     "memberUid",
}

// ADSchema is the Active Directory schema with RFC 2307 UNIX attributes.
var ADSchema = Schema{
	UserClass:  "user",
	GroupClass: "group",
	UserName:   "sAMAccountName",
	UID:        "uidNumber",
	GID:        "gidNumber",
	Gecos:      "displayName",
	Home:       "unixHomeDirectory",
	Shell:      "loginShell",
	GroupName:  "sAMAccountName",
	GroupGID:   "gidNumber",
	Member:     "member",
	MemberIsDN: true,
}

// DirectoryConfig configures an LDAP or Active Directory provider.
type DirectoryConfig struct {
	Name               string
	URL                string
	BaseDN             string
	BindDN             string
	BindPassword       string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// Conn is the subset of *ldap.Conn the directory provider uses.
type Conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

// Dialer opens a connection to the directory at url.
type Dialer func(ctx context.Context, cfg DirectoryConfig) (Conn, error)

// Directory is an identity provider backed by an LDAP server or an Active
// Directory domain controller. A connection is dialled and bound per call.
type Directory struct {
	cfg    DirectoryConfig
	schema Schema
	dial   Dialer
}

// NewLDAP returns a provider for an RFC 2307 LDAP directory.
func NewLDAP(cfg DirectoryConfig) *Directory {
	if cfg.Name == "" {
		cfg.Name = "ldap"
	}
	return newDirectory(cfg, RFC2307)
}

// NewActiveDirectory returns a provider for an Active Directory domain.
func NewActiveDirectory(cfg DirectoryConfig) *Directory {
	if cfg.Name == "" {
		cfg.Name = "activedirectory"
	}
	return newDirectory(cfg, ADSchema)
}

func newDirectory(cfg DirectoryConfig, schema Schema) *Directory {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDirectoryTimeout
	}
	return &Directory{cfg: cfg, schema: schema, dial: dialLDAP}
}

// WithDialer replaces the connection dialer, mainly for tests.
func (d *Directory) WithDialer(dial Dialer) *Directory {
	d.dial = dial
	return d
}

func (d *Directory) Name() string { return d.cfg.Name }

func (d *Directory) LookupUser(ctx context.Context, id string) (*User, error) {
	attr := d.schema.UserName
	if _, ok := numericID(id); ok {
		attr = d.schema.UID
	}
	filter := fmt.Sprintf("(&(objectClass=%s)(%s=%s))", d.schema.UserClass, attr, ldap.EscapeFilter(id))
	entries, err := d.search(ctx, filter, d.userAttrs(), 1)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if u := d.toUser(e); u != nil {
			return u, nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "%s user %q", d.Name(), id)
}

func (d *Directory) LookupGroup(ctx context.Context, id string) (*Group, error) {
	attr := d.schema.GroupName
	if _, ok := numericID(id); ok {
		attr = d.schema.GroupGID
	}
	filter := fmt.Sprintf("(&(objectClass=%s)(%s=%s))", d.schema.GroupClass, attr, ldap.EscapeFilter(id))
	entries, err := d.search(ctx, filter, d.groupAttrs(), 1)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if g := d.toGroup(e); g != nil {
			return g, nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "%s group %q", d.Name(), id)
}

func (d *Directory) Users(ctx context.Context) ([]*User, error) {
	filter := fmt.Sprintf("(&(objectClass=%s)(%s=*))", d.schema.UserClass, d.schema.UID)
	entries, err := d.search(ctx, filter, d.userAttrs(), 0)
	if err != nil {
		return nil, err
	}
	users := make([]*User, 0, len(entries))
	for _, e := range entries {
		if u := d.toUser(e); u != nil {
			users = append(users, u)
		}
	}
	return users, nil
}

func (d *Directory) Groups(ctx context.Context) ([]*Group, error) {
	filter := fmt.Sprintf("(&(objectClass=%s)(%s=*))", d.schema.GroupClass, d.schema.GroupGID)
	entries, err := d.search(ctx, filter, d.groupAttrs(), 0)
	if err != nil {
		return nil, err
	}
	groups := make([]*Group, 0, len(entries))
	for _, e := range entries {
		if g := d.toGroup(e); g != nil {
			groups = append(groups, g)
		}
	}
	return groups, nil
}

func (d *Directory) Ping(ctx context.Context) error {
	conn, err := d.connect(ctx)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (d *Directory) connect(ctx context.Context) (Conn, error) {
	conn, err := d.dial(ctx, d.cfg)
	if err != nil {
		return nil, unavailable(err, "%s: dial %s", d.Name(), d.cfg.URL)
	}
	if d.cfg.BindDN != "" {
		if err := conn.Bind(d.cfg.BindDN, d.cfg.BindPassword); err != nil {
			conn.Close()
			return nil, unavailable(err, "%s: bind as %s", d.Name(), d.cfg.BindDN)
		}
	}
	return conn, nil
}

func (d *Directory) search(ctx context.Context, filter string, attrs []string, limit int) ([]*ldap.Entry, error) {
	conn, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req := ldap.NewSearchRequest(
		d.cfg.BaseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, limit,
		int(d.cfg.Timeout/time.Second), false,
		filter, attrs, nil,
	)
	res, err := conn.Search(req)
	switch {
	case err == nil:
		return res.Entries, nil
	case ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject):
		return nil, errors.Wrapf(ErrNotFound, "%s: base %s", d.Name(), d.cfg.BaseDN)
	case ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) && res != nil:
		return res.Entries, nil
	case ldap.IsErrorAnyOf(err, ldap.ErrorNetwork, ldap.LDAPResultTimeLimitExceeded, ldap.LDAPResultBusy, ldap.LDAPResultUnavailable):
		return nil, unavailable(err, "%s: search", d.Name())
	default:
		return nil, errors.Wrapf(err, "%s: search %s", d.Name(), filter)
	}
}

func (d *Directory) userAttrs() []string {
	s := d.schema
	return []string{s.UserName, s.UID, s.GID, s.Gecos, s.Home, s.Shell}
}

func (d *Directory) groupAttrs() []string {
	s := d.schema
	return []string{s.GroupName, s.GroupGID, s.Member}
}

func (d *Directory) toUser(e *ldap.Entry) *User {
	s := d.schema
	uid, err := strconv.Atoi(e.GetAttributeValue(s.UID))
	if err != nil {
		return nil
	}
	gid, _ := strconv.Atoi(e.GetAttributeValue(s.GID))
	return &User{
		Name:   e.GetAttributeValue(s.UserName),
		Passwd: "*",
		UID:    uid,
		GID:    gid,
		Gecos:  e.GetAttributeValue(s.Gecos),
		Dir:    e.GetAttributeValue(s.Home),
		Shell:  e.GetAttributeValue(s.Shell),
		Source: d.Name(),
	}
}

func (d *Directory) toGroup(e *ldap.Entry) *Group {
	s := d.schema
	gid, err := strconv.Atoi(e.GetAttributeValue(s.GroupGID))
	if err != nil {
		return nil
	}
	members := []string{}
	for _, m := range e.GetAttributeValues(s.Member) {
		if s.MemberIsDN {
			m = firstRDNValue(m)
		}
		if m != "" {
			members = append(members, m)
		}
	}
	return &Group{
		Name:    e.GetAttributeValue(s.GroupName),
		GID:     gid,
		Members: members,
		Source:  d.Name(),
	}
}

// firstRDNValue returns "jdoe" for "CN=jdoe,OU=Users,DC=corp,DC=example".
func firstRDNValue(dn string) string {
	parsed, err := ldap.ParseDN(dn)
	if err != nil || len(parsed.RDNs) == 0 || len(parsed.RDNs[0].Attributes) == 0 {
		return dn
	}
	return parsed.RDNs[0].Attributes[0].Value
}

func dialLDAP(ctx context.Context, cfg DirectoryConfig) (Conn, error) {
	dialer := &net.Dialer{Timeout: cfg.Timeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	conn, err := ldap.DialURL(cfg.URL,
		ldap.DialWithDialer(dialer),
		ldap.DialWithTLSConfig(&tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}), //nolint:gosec // user-configured
	)
	if err != nil {
		return nil, err
	}
	conn.SetTimeout(cfg.Timeout)
	return conn, nil
}
