package identity

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/cockroachdb/errors"
)

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// NIS resolves identities through the ypmatch and ypcat tools of a bound NIS
// client.
type NIS struct {
	domain string
	run    Runner
}

// NewNIS returns a NIS provider for domain. An empty domain uses the default
// domain the host is bound to.
func NewNIS(domain string) *NIS {
	return &NIS{domain: domain, run: execRunner}
}

// WithRunner replaces the command runner, mainly for tests.
func (n *NIS) WithRunner(r Runner) *NIS {
	n.run = r
	return n
}

func (n *NIS) Name() string { return "nis" }

func (n *NIS) LookupUser(ctx context.Context, id string) (*User, error) {
	m := "passwd.byname"
	if _, ok := numericID(id); ok {
		m = "passwd.byuid"
	}
	line, err := n.match(ctx, id, m)
	if err != nil {
		return nil, err
	}
	u := parsePasswd(strings.Split(line, ":"))
	if u == nil {
		return nil, errors.Newf("nis: malformed %s entry for %q", m, id)
	}
	u.Source = n.Name()
	return u, nil
}

func (n *NIS) LookupGroup(ctx context.Context, id string) (*Group, error) {
	m := "group.byname"
	if _, ok := numericID(id); ok {
		m = "group.bygid"
	}
	line, err := n.match(ctx, id, m)
	if err != nil {
		return nil, err
	}
	g := parseGroup(strings.Split(line, ":"))
	if g == nil {
		return nil, errors.Newf("nis: malformed %s entry for %q", m, id)
	}
	g.Source = n.Name()
	return g, nil
}

func (n *NIS) Users(ctx context.Context) ([]*User, error) {
	lines, err := n.cat(ctx, "passwd")
	if err != nil {
		return nil, err
	}
	var users []*User
	for _, l := range lines {
		if u := parsePasswd(strings.Split(l, ":")); u != nil {
			u.Source = n.Name()
			users = append(users, u)
		}
	}
	return users, nil
}

func (n *NIS) Groups(ctx context.Context) ([]*Group, error) {
	lines, err := n.cat(ctx, "group")
	if err != nil {
		return nil, err
	}
	var groups []*Group
	for _, l := range lines {
		if g := parseGroup(strings.Split(l, ":")); g != nil {
			g.Source = n.Name()
			groups = append(groups, g)
		}
	}
	return groups, nil
}

func (n *NIS) Ping(ctx context.Context) error {
	out, err := n.run(ctx, "ypwhich", n.domainArgs()...)
	if err != nil {
		return unavailable(err, "nis: ypwhich: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

func (n *NIS) match(ctx context.Context, key, m string) (string, error) {
	args := append(n.domainArgs(), key, m)
	out, err := n.run(ctx, "ypmatch", args...)
	if err != nil {
		msg := strings.ToLower(string(out))
		if strings.Contains(msg, "can't match key") || strings.Contains(msg, "no such key") {
			return "", errors.Wrapf(ErrNotFound, "nis %s %q", m, key)
		}
		return "", unavailable(err, "nis: ypmatch %s: %s", m, strings.TrimSpace(string(out)))
	}
	line := strings.TrimSpace(string(out))
	if line == "" {
		return "", errors.Wrapf(ErrNotFound, "nis %s %q", m, key)
	}
	return line, nil
}

func (n *NIS) cat(ctx context.Context, m string) ([]string, error) {
	args := append(n.domainArgs(), m)
	out, err := n.run(ctx, "ypcat", args...)
	if err != nil {
		return nil, unavailable(err, "nis: ypcat %s: %s", m, strings.TrimSpace(string(out)))
	}
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

func (n *NIS) domainArgs() []string {
	if n.domain == "" {
		return nil
	}
	return []string{"-d", n.domain}
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
