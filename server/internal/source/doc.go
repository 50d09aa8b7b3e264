// Package source runs the periodic alert sources.
//
// A Source re-evaluates one condition of the appliance (pool health,
// certificate expiry, directory service reachability) and returns the full
// set of alerts it currently sees. The Runner calls each source on its own
// interval and hands the result to the alert manager, which diffs it against
// what the source produced last time. A failed check changes nothing.
package source
