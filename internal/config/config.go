// Package config loads engine configuration: a YAML file validated against an
// embedded CUE schema, then AUTOSYNC_* environment overrides, then defaults.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/autosync/internal/autosave"
	"github.com/roach88/autosync/internal/changelog"
	"github.com/roach88/autosync/internal/reconcile"
	"github.com/roach88/autosync/internal/session"
	"github.com/roach88/autosync/internal/store"
)

//go:embed schema.cue
var schemaCUE string

// DefaultDatabase is used when neither the file nor the environment names one.
const DefaultDatabase = "autosync.db"

// DefaultResolver keeps local edits when the remote reports a conflict.
const DefaultResolver = "local"

// DefaultRemoteTimeout bounds each remote request.
const DefaultRemoteTimeout = 10 * time.Second

// Config is the full engine configuration.
type Config struct {
	Database     string             `yaml:"database"`
	User         string             `yaml:"user"`
	Remote       RemoteConfig       `yaml:"remote"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Autosave     AutosaveConfig     `yaml:"autosave"`
	Sync         SyncConfig         `yaml:"sync"`
	Session      RetentionConfig    `yaml:"session"`
	Changes      RetentionConfig    `yaml:"changes"`
	Entities     []store.Def        `yaml:"entities"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

type RemoteConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Token     string        `yaml:"token"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"` // requests per second, 0 = unlimited
}

type ConnectivityConfig struct {
	SocketURL string `yaml:"socket_url"`
}

type AutosaveConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	Interval time.Duration `yaml:"interval"`
	Offline  *bool         `yaml:"offline"`
}

// OfflineEnabled reports whether saves may queue locally while offline.
func (a AutosaveConfig) OfflineEnabled() bool {
	return a.Offline == nil || *a.Offline
}

type SyncConfig struct {
	MaxRetries int    `yaml:"max_retries"`
	Resolver   string `yaml:"resolver"` // local, remote or none
}

type RetentionConfig struct {
	Retention time.Duration `yaml:"retention"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path (if non-empty), applies environment overrides from
// os.LookupEnv and defaults, and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an injectable environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		parsed, err := Parse(path, data)
		if err != nil {
			return nil, err
		}
		cfg = parsed
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse validates YAML data against the schema and decodes it. Defaults are
// not applied.
func Parse(filename string, data []byte) (*Config, error) {
	var cfg Config
	if len(bytes.TrimSpace(data)) == 0 {
		return &cfg, nil
	}
	if err := validateSchema(filename, data); err != nil {
		return nil, err
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// SchemaError is a schema violation with its source position when known.
type SchemaError struct {
	File    string
	Line    int
	Column  int
	Message string
}

func (e *SchemaError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

func validateSchema(filename string, data []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(doc)
	if err := unified.Validate(); err != nil {
		return schemaError(filename, err)
	}
	return nil
}

func schemaError(filename string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &SchemaError{File: filename, Message: err.Error()}
	}
	first := errs[0]
	se := &SchemaError{File: filename, Message: first.Error()}
	for _, pos := range cueerrors.Positions(first) {
		if pos.Filename() == filename {
			se.Line, se.Column = pos.Line(), pos.Column()
			break
		}
	}
	return se
}

// Environment variables read by applyEnv.
const (
	EnvDatabase    = "AUTOSYNC_DATABASE"
	EnvUser        = "AUTOSYNC_USER"
	EnvRemoteURL   = "AUTOSYNC_REMOTE_URL"
	EnvRemoteToken = "AUTOSYNC_REMOTE_TOKEN"
	EnvSocketURL   = "AUTOSYNC_SOCKET_URL"
	EnvOffline     = "AUTOSYNC_OFFLINE"
	EnvMetricsAddr = "AUTOSYNC_METRICS_ADDR"
)

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvDatabase, &c.Database)
	set(EnvUser, &c.User)
	set(EnvRemoteURL, &c.Remote.BaseURL)
	set(EnvRemoteToken, &c.Remote.Token)
	set(EnvSocketURL, &c.Connectivity.SocketURL)
	set(EnvMetricsAddr, &c.Metrics.Addr)

	if v, ok := lookup(EnvOffline); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvOffline, err)
		}
		c.Autosave.Offline = &b
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = DefaultRemoteTimeout
	}
	if c.Autosave.Debounce == 0 {
		c.Autosave.Debounce = autosave.DefaultDebounce
	}
	if c.Autosave.Interval == 0 {
		c.Autosave.Interval = autosave.DefaultInterval
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = reconcile.DefaultMaxRetries
	}
	if c.Sync.Resolver == "" {
		c.Sync.Resolver = DefaultResolver
	}
	if c.Session.Retention == 0 {
		c.Session.Retention = session.DefaultRetention
	}
	if c.Changes.Retention == 0 {
		c.Changes.Retention = changelog.DefaultRetention
	}
}

// Validate checks invariants that hold after overrides and defaults.
func (c *Config) Validate() error {
	var errs []error
	if c.Remote.BaseURL != "" {
		if u, err := url.Parse(c.Remote.BaseURL); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("remote.base_url %q is not an absolute URL", c.Remote.BaseURL))
		}
	}
	if c.Connectivity.SocketURL != "" {
		if u, err := url.Parse(c.Connectivity.SocketURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("connectivity.socket_url %q must be a ws:// or wss:// URL", c.Connectivity.SocketURL))
		}
	}
	for name, d := range map[string]time.Duration{
		"remote.timeout":    c.Remote.Timeout,
		"autosave.debounce": c.Autosave.Debounce,
		"autosave.interval": c.Autosave.Interval,
		"session.retention": c.Session.Retention,
		"changes.retention": c.Changes.Retention,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if c.Remote.RateLimit < 0 {
		errs = append(errs, errors.New("remote.rate_limit must not be negative"))
	}
	if _, err := reconcile.ResolverNamed(c.Sync.Resolver); err != nil {
		errs = append(errs, fmt.Errorf("sync.resolver: %w", err))
	}
	if c.Sync.MaxRetries < 1 {
		errs = append(errs, errors.New("sync.max_retries must be at least 1"))
	}
	seen := make(map[string]bool)
	for _, e := range c.Entities {
		if e.Name == store.StoreOfflineChanges || e.Name == store.StoreSessions {
			errs = append(errs, fmt.Errorf("entity store %q collides with a built-in store", e.Name))
		}
		if seen[e.Name] {
			errs = append(errs, fmt.Errorf("entity store %q declared twice", e.Name))
		}
		seen[e.Name] = true
	}
	return errors.Join(errs...)
}

// Defs returns the entity store definitions.
func (c *Config) Defs() []store.Def {
	return append([]store.Def(nil), c.Entities...)
}

// HasEntity reports whether kind is a declared entity store.
func (c *Config) HasEntity(kind string) bool {
	for _, e := range c.Entities {
		if e.Name == kind {
			return true
		}
	}
	return false
}
