// Package types defines the JSON wire types of the nasalertd HTTP API. The
// server handlers encode them and the CLI client decodes them.
package types
