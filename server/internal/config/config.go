package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/nasalert/nasalert/server/internal/alerts"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort          = 6000
	DefaultStoreDriver       = "memory"
	DefaultVolumeInterval    = time.Minute
	DefaultCertInterval      = time.Hour
	DefaultCertWarnDays      = 30
	DefaultDirectoryInterval = 5 * time.Minute
	DefaultBreakerFailures   = 3
	DefaultBreakerTimeout    = 30 * time.Second
	DefaultDirectoryTimeout  = 10 * time.Second
	defaultAuthHeader        = "x-api-key"
)

// Config is the nasalertd configuration file.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Sources  SourcesConfig  `yaml:"sources"`
	Identity IdentityConfig `yaml:"identity"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, websocket and /metrics listen on (default 6000).
	HTTPPort int `yaml:"http_port"`

	// Auth configures how the server authenticates API clients.
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from. Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string { return fromEnv(a.KeyEnv) }

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return defaultAuthHeader
}

// StoreConfig selects the alert persistence backend.
type StoreConfig struct {
	// Driver is one of: memory | sqlite | postgres | redis.
	Driver string `yaml:"driver"`

	// DSN is the file path (sqlite), connection string (postgres) or
	// address/URL (redis). Unused for memory.
	DSN string `yaml:"dsn"`
}

// AlertsConfig holds class overrides and notification targets.
type AlertsConfig struct {
	// Classes overrides level and policy per class name.
	Classes  map[string]ClassConfig `yaml:"classes"`
	Webhooks []WebhookConfig        `yaml:"webhooks"`
	Mail     *MailConfig            `yaml:"mail"`
}

// ClassConfig overrides the registered level or policy of one class.
type ClassConfig struct {
	Level  string `yaml:"level"`
	Policy string `yaml:"policy"`
}

// Overrides converts the class section into manager overrides.
func (a AlertsConfig) Overrides() (map[string]alerts.Override, error) {
	out := make(map[string]alerts.Override, len(a.Classes))
	for name, cc := range a.Classes {
		if _, ok := alerts.Lookup(name); !ok {
			return nil, errors.Newf("alerts.classes: unknown class %q", name)
		}
		var o alerts.Override
		if cc.Level != "" {
			l, err := alerts.ParseLevel(cc.Level)
			if err != nil {
				return nil, errors.Wrapf(err, "alerts.classes.%s.level", name)
			}
			o.Level = l
		}
		if cc.Policy != "" {
			p, err := alerts.ParsePolicy(cc.Policy)
			if err != nil {
				return nil, errors.Wrapf(err, "alerts.classes.%s.policy", name)
			}
			o.Policy = p
		}
		out[name] = o
	}
	return out, nil
}

// WebhookConfig is one chat or paging endpoint that receives every alert
// batch the dispatcher releases. slack and teams get a rendered message card,
// pagerduty and http get the batch as JSON ({policy, new, gone}).
type WebhookConfig struct {
	Type string `yaml:"type"` // slack | teams | pagerduty | http

	// URLEnv names the variable holding the endpoint; webhook URLs embed
	// tokens and stay out of the file.
	URLEnv string `yaml:"url_env"`
}

// URL is the endpoint read from $URLEnv, empty when unset.
func (w WebhookConfig) URL() string { return fromEnv(w.URLEnv) }

// fromEnv reads a secret named by an *_env config field.
func fromEnv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// MailConfig configures SMTP delivery.
type MailConfig struct {
	Addr        string   `yaml:"addr"`
	From        string   `yaml:"from"`
	To          []string `yaml:"to"`
	Username    string   `yaml:"username"`
	PasswordEnv string   `yaml:"password_env"`
}

// Password returns the SMTP password resolved from the environment.
func (m MailConfig) Password() string { return fromEnv(m.PasswordEnv) }

// SourcesConfig configures the periodic alert sources. A nil section
// disables the source.
type SourcesConfig struct {
	VolumeStatus      *VolumeStatusConfig      `yaml:"volume_status"`
	Certificates      *CertificatesConfig      `yaml:"certificates"`
	DirectoryServices *DirectoryServicesConfig `yaml:"directory_services"`
}

// VolumeStatusConfig reads pool health from MetricsURL, or from the zpool
// command when Command is set.
type VolumeStatusConfig struct {
	Interval   time.Duration `yaml:"interval"`
	MetricsURL string        `yaml:"metrics_url"`
	Command    bool          `yaml:"command"`
}

// CertificatesConfig lists the HTTPS endpoints whose certificates are watched.
type CertificatesConfig struct {
	Interval  time.Duration `yaml:"interval"`
	WarnDays  int           `yaml:"warn_days"`
	Endpoints []string      `yaml:"endpoints"`
}

// DirectoryServicesConfig controls the directory reachability probe.
type DirectoryServicesConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// IdentityConfig lists identity providers in lookup order.
type IdentityConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
	Breaker   BreakerConfig    `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker around directory providers.
type BreakerConfig struct {
	Failures uint32        `yaml:"failures"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ProviderConfig configures one identity provider.
type ProviderConfig struct {
	// Type is one of: activedirectory | ldap | nis | local.
	Type string `yaml:"type"`

	// Directory (activedirectory, ldap).
	URL                string        `yaml:"url"`
	BaseDN             string        `yaml:"base_dn"`
	BindDN             string        `yaml:"bind_dn"`
	BindPasswordEnv    string        `yaml:"bind_password_env"`
	Timeout            time.Duration `yaml:"timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`

	// NIS.
	Domain string `yaml:"domain"`

	// Local.
	PasswdFile string `yaml:"passwd_file"`
	GroupFile  string `yaml:"group_file"`
}

// BindPassword returns the bind password resolved from the environment.
func (p ProviderConfig) BindPassword() string { return fromEnv(p.BindPasswordEnv) }

// Load reads and parses the config file at path. Missing fields are filled
// with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: read %q", path)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML configuration document.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "config: parse yaml")
	}
	applySectionDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, errors.Wrap(err, "config")
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given: memory
// store, no auth, local accounts only.
func Default() *Config {
	cfg := defaults()
	applySectionDefaults(cfg)
	return cfg
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{HTTPPort: DefaultHTTPPort},
		Store:  StoreConfig{Driver: DefaultStoreDriver},
		Identity: IdentityConfig{
			Breaker: BreakerConfig{Failures: DefaultBreakerFailures, Timeout: DefaultBreakerTimeout},
		},
	}
}

// applySectionDefaults fills defaults inside optional sections that are
// only known after unmarshalling.
func applySectionDefaults(cfg *Config) {
	if s := cfg.Sources.VolumeStatus; s != nil && s.Interval == 0 {
		s.Interval = DefaultVolumeInterval
	}
	if s := cfg.Sources.Certificates; s != nil {
		if s.Interval == 0 {
			s.Interval = DefaultCertInterval
		}
		if s.WarnDays == 0 {
			s.WarnDays = DefaultCertWarnDays
		}
	}
	if s := cfg.Sources.DirectoryServices; s != nil && s.Interval == 0 {
		s.Interval = DefaultDirectoryInterval
	}
	if len(cfg.Identity.Providers) == 0 {
		cfg.Identity.Providers = []ProviderConfig{{Type: "local"}}
	}
	for i := range cfg.Identity.Providers {
		p := &cfg.Identity.Providers[i]
		if (p.Type == "activedirectory" || p.Type == "ldap") && p.Timeout == 0 {
			p.Timeout = DefaultDirectoryTimeout
		}
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return errors.Newf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey":
		if cfg.Server.Auth.KeyEnv == "" {
			return errors.New("server.auth.key_env is required when mode is apikey")
		}
	case "none", "":
	default:
		return errors.Newf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}

	switch cfg.Store.Driver {
	case "memory":
	case "sqlite", "postgres", "redis":
		if cfg.Store.DSN == "" {
			return errors.Newf("store.dsn is required for driver %q", cfg.Store.Driver)
		}
	default:
		return errors.Newf("store.driver %q unknown: want memory|sqlite|postgres|redis", cfg.Store.Driver)
	}

	if _, err := cfg.Alerts.Overrides(); err != nil {
		return err
	}
	for i, w := range cfg.Alerts.Webhooks {
		switch w.Type {
		case "slack", "teams", "pagerduty", "http":
		default:
			return errors.Newf("alerts.webhooks[%d].type %q unknown: want slack|teams|pagerduty|http", i, w.Type)
		}
		if w.URLEnv == "" {
			return errors.Newf("alerts.webhooks[%d].url_env is required", i)
		}
	}
	if m := cfg.Alerts.Mail; m != nil {
		if m.Addr == "" || m.From == "" || len(m.To) == 0 {
			return errors.New("alerts.mail needs addr, from and to")
		}
	}

	if v := cfg.Sources.VolumeStatus; v != nil && v.MetricsURL == "" && !v.Command {
		return errors.New("sources.volume_status needs metrics_url or command: true")
	}
	if c := cfg.Sources.Certificates; c != nil && c.WarnDays < 0 {
		return errors.New("sources.certificates.warn_days must not be negative")
	}

	for i, p := range cfg.Identity.Providers {
		switch p.Type {
		case "activedirectory", "ldap":
			if p.URL == "" || p.BaseDN == "" {
				return errors.Newf("identity.providers[%d]: %s needs url and base_dn", i, p.Type)
			}
		case "nis", "local":
		default:
			return errors.Newf("identity.providers[%d].type %q unknown: want activedirectory|ldap|nis|local", i, p.Type)
		}
	}
	return nil
}
