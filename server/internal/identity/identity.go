package identity

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound means the provider answered and has no such record.
	ErrNotFound = errors.New("identity: not found")

	// ErrUnavailable means the provider could not be asked at all.
	ErrUnavailable = errors.New("identity: provider unavailable")
)

// User is a passwd-style account record.
type User struct {
	Name   string `json:"name"`
	Passwd string `json:"-"`
	UID    int    `json:"uid"`
	GID    int    `json:"gid"`
	Gecos  string `json:"gecos"`
	Dir    string `json:"home"`
	Shell  string `json:"shell"`
	Source string `json:"source"`
}

// Group is a group-file-style record.
type Group struct {
	Name    string   `json:"name"`
	GID     int      `json:"gid"`
	Members []string `json:"members"`
	Source  string   `json:"source"`
}

// Provider looks up identity records in one backend. id is either a name or
// a decimal uid/gid.
type Provider interface {
	Name() string
	LookupUser(ctx context.Context, id string) (*User, error)
	LookupGroup(ctx context.Context, id string) (*Group, error)
	Users(ctx context.Context) ([]*User, error)
	Groups(ctx context.Context) ([]*Group, error)

	// Ping checks that the backend can be reached.
	Ping(ctx context.Context) error
}

// numericID reports whether id is a decimal uid/gid and returns it.
func numericID(id string) (int, bool) {
	if id == "" {
		return 0, false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(id)
	if err != nil {
		return 0, false
	}
	return n, true
}

// unavailable marks err as ErrUnavailable while keeping its message.
func unavailable(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrUnavailable)
}
