package identity

import (
	"bufio"
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Local reads users and groups from passwd- and group-format files. Both the
// 7-field passwd and the 10-field master.passwd layouts are accepted.
type Local struct {
	passwdPath string
	groupPath  string
}

// NewLocal returns a provider over the given passwd and group files.
func NewLocal(passwdPath, groupPath string) *Local {
	if passwdPath == "" {
		passwdPath = "/etc/passwd"
	}
	if groupPath == "" {
		groupPath = "/etc/group"
	}
	return &Local{passwdPath: passwdPath, groupPath: groupPath}
}

func (l *Local) Name() string { return "local" }

func (l *Local) isLocal() {}

func (l *Local) LookupUser(_ context.Context, id string) (*User, error) {
	users, err := l.readUsers()
	if err != nil {
		return nil, err
	}
	uid, numeric := numericID(id)
	for _, u := range users {
		if (numeric && u.UID == uid) || (!numeric && u.Name == id) {
			return u, nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "local user %q", id)
}

func (l *Local) LookupGroup(_ context.Context, id string) (*Group, error) {
	groups, err := l.readGroups()
	if err != nil {
		return nil, err
	}
	gid, numeric := numericID(id)
	for _, g := range groups {
		if (numeric && g.GID == gid) || (!numeric && g.Name == id) {
			return g, nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "local group %q", id)
}

func (l *Local) Users(_ context.Context) ([]*User, error) { return l.readUsers() }

func (l *Local) Groups(_ context.Context) ([]*Group, error) { return l.readGroups() }

func (l *Local) Ping(_ context.Context) error {
	for _, p := range []string{l.passwdPath, l.groupPath} {
		if _, err := os.Stat(p); err != nil {
			return errors.Wrapf(err, "local: stat %s", p)
		}
	}
	return nil
}

func (l *Local) readUsers() ([]*User, error) {
	var users []*User
	err := scanRecords(l.passwdPath, func(f []string) {
		if u := parsePasswd(f); u != nil {
			u.Source = l.Name()
			users = append(users, u)
		}
	})
	return users, err
}

func (l *Local) readGroups() ([]*Group, error) {
	var groups []*Group
	err := scanRecords(l.groupPath, func(f []string) {
		if g := parseGroup(f); g != nil {
			g.Source = l.Name()
			groups = append(groups, g)
		}
	})
	return groups, err
}

// scanRecords calls fn with the colon-separated fields of every non-comment line.
func scanRecords(path string, fn func([]string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "local: open %s", path)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") {
			continue
		}
		fn(strings.Split(line, ":"))
	}
	return errors.Wrapf(sc.Err(), "local: read %s", path)
}

// parsePasswd maps passwd (7 fields) or master.passwd (10 fields) to a User.
func parsePasswd(f []string) *User {
	var gecos, dir, shell string
	switch len(f) {
	case 7:
		gecos, dir, shell = f[4], f[5], f[6]
	case 10:
		gecos, dir, shell = f[7], f[8], f[9]
	default:
		return nil
	}
	uid, err := strconv.Atoi(f[2])
	if err != nil {
		return nil
	}
	gid, err := strconv.Atoi(f[3])
	if err != nil {
		return nil
	}
	return &User{Name: f[0], Passwd: f[1], UID: uid, GID: gid, Gecos: gecos, Dir: dir, Shell: shell}
}

func parseGroup(f []string) *Group {
	if len(f) != 4 {
		return nil
	}
	gid, err := strconv.Atoi(f[2])
	if err != nil {
		return nil
	}
	g := &Group{Name: f[0], GID: gid, Members: []string{}}
	if f[3] != "" {
		g.Members = strings.Split(f[3], ",")
	}
	return g
}
