// Package identity resolves users and groups across directory services and
// the local account files.
//
// A Chain holds an explicit, ordered list of Providers (for example Active
// Directory, NIS, LDAP, then local) and asks each in turn until one returns a
// record. Providers tell a missing record (ErrNotFound) apart from an
// unreachable service (ErrUnavailable); both move resolution on to the next
// provider, but only the latter is reported as a directory outage.
package identity
