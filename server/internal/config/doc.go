// Package config loads the nasalertd configuration file.
//
// Sections:
//   - server    HTTP port (default 6000) and API key auth
//   - store     alert persistence driver and DSN (default memory)
//   - alerts    per-class level/policy overrides, webhooks, SMTP mail
//   - sources   periodic alert sources; an absent section disables the source
//   - identity  identity providers in lookup order (default: local files only)
//
// Secrets are never written in the file: fields ending in _env name the
// environment variable that holds the value.
//
// Load(path) applies defaults before unmarshalling, then validates. Watch
// reloads the file when it changes.
package config
