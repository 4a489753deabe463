package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// Package config provides configuration management for the TabSpice background service

// Config struct to hold all configuration data
type Config struct {
	Schema       string           `yaml:"schema"`
	PreferBing   bool             `yaml:"prefer_bing"`
	RefreshEvery Duration         `yaml:"refresh_every"`
	RelayAddr    string           `yaml:"relay_addr"`
	StorePath    string           `yaml:"store_path"`
	BingEndpoint string           `yaml:"bing_endpoint"`
	Providers    []ProviderConfig `yaml:"providers"`

	// LegacyAPIs holds the pre-v2 list of bare randomPicV1 base addresses. It is
	// only read during migration and never written back.
	LegacyAPIs []string `yaml:"apis,omitempty"`
}

// ProviderConfig is one user-configured image provider.
type ProviderConfig struct {
	Address  string         `yaml:"address"`
	Type     string         `yaml:"type"`
	Weight   *int           `yaml:"weight,omitempty"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// EffectiveWeight returns the configured weight, DefaultWeight when omitted and 0 for negative values.
func (p ProviderConfig) EffectiveWeight() int {
	if p.Weight == nil {
		return DefaultWeight
	}
	if *p.Weight < 0 {
		return 0
	}
	return *p.Weight
}

// WeightOf is a small helper for building ProviderConfig literals.
func WeightOf(w int) *int {
	return &w
}

// Duration wraps time.Duration so it reads and writes as "30m" in YAML.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// GetPath returns the path to the user's config directory
func GetPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error getting user home directory: %w", err)
	}
	return filepath.Join(homeDir, "."+strings.ToLower(AppName)), nil
}

// DefaultConfigPath returns the path of the YAML config file.
func DefaultConfigPath() string {
	dir, err := GetPath()
	if err != nil {
		return ConfigFileName
	}
	return filepath.Join(dir, ConfigFileName)
}

// DefaultConfig returns the configuration written on first start.
func DefaultConfig() Config {
	cfg := Config{
		Schema:       SchemaVersion,
		RefreshEvery: Duration(DefaultRefreshEvery),
		RelayAddr:    DefaultRelayAddr,
		BingEndpoint: DefaultBingURL,
		Providers: []ProviderConfig{
			{
				Address:  "http://localhost:3000/",
				Type:     "randomPicV2",
				Weight:   WeightOf(DefaultWeight),
				Settings: map[string]any{"collections": []any{""}},
			},
		},
	}
	if dir, err := GetPath(); err == nil {
		cfg.StorePath = filepath.Join(dir, StoreFileName)
	}
	return cfg
}

// Ensure loads the config at path, writing the defaults when it does not exist yet.
func Ensure(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}
	cfg = DefaultConfig()
	if err := Save(path, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads, migrates, normalizes and validates the config at path.
// A migrated document is written back so the migration runs once.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	migrated := Migrate(&cfg)
	cfg = Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	if migrated {
		if err := Save(path, cfg); err != nil {
			return Config{}, fmt.Errorf("config: save migrated config: %w", err)
		}
	}
	return cfg, nil
}

// Save normalizes, validates and writes cfg to path.
func Save(path string, cfg Config) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	cfg = Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create config directory: %w", err)
	}
	blob, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0644); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return os.Rename(tmp, path)
}

// Migrate upgrades documents older than SchemaVersion in place and reports whether anything changed.
// Schema v1 stored a bare list of randomPicV1 base addresses under "apis".
func Migrate(cfg *Config) bool {
	schema := cfg.Schema
	if schema == "" {
		schema = legacySchema
	}
	if !strings.HasPrefix(schema, "v") {
		schema = "v" + schema
	}
	if !semver.IsValid(schema) || semver.Compare(schema, SchemaVersion) >= 0 {
		return false
	}

	for _, api := range cfg.LegacyAPIs {
		if api == "" {
			continue
		}
		cfg.Providers = append(cfg.Providers, ProviderConfig{
			Address: api,
			Type:    LegacyAdapter,
			Weight:  WeightOf(DefaultWeight),
		})
	}
	cfg.LegacyAPIs = nil
	cfg.Schema = SchemaVersion
	return true
}

// Normalize fills defaults for empty fields.
func Normalize(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Schema == "" {
		cfg.Schema = SchemaVersion
	}
	if cfg.RelayAddr == "" {
		cfg.RelayAddr = def.RelayAddr
	}
	if cfg.StorePath == "" {
		cfg.StorePath = def.StorePath
	}
	if cfg.BingEndpoint == "" {
		cfg.BingEndpoint = def.BingEndpoint
	}
	if cfg.RefreshEvery == 0 {
		cfg.RefreshEvery = def.RefreshEvery
	}
	cfg.BingEndpoint = strings.TrimRight(cfg.BingEndpoint, "/")
	for i := range cfg.Providers {
		cfg.Providers[i].Address = strings.TrimSpace(cfg.Providers[i].Address)
		cfg.Providers[i].Type = strings.TrimSpace(cfg.Providers[i].Type)
	}
	return cfg
}

// Validate checks the invariants of the provider list.
func Validate(cfg Config) error {
	seen := make(map[string]bool, len(cfg.Providers))
	for i, p := range cfg.Providers {
		if p.Address == "" {
			return fmt.Errorf("config: provider %d: address is required", i)
		}
		if p.Type == "" {
			return fmt.Errorf("config: provider %s: type is required", p.Address)
		}
		if seen[p.Address] {
			return fmt.Errorf("config: duplicate provider address %s", p.Address)
		}
		seen[p.Address] = true
		if p.Weight != nil && *p.Weight < 0 {
			return fmt.Errorf("config: provider %s: weight must be >= 0, got %d", p.Address, *p.Weight)
		}
	}
	if cfg.RefreshEvery < 0 {
		return fmt.Errorf("config: refresh_every must not be negative")
	}
	return nil
}

// Watcher fans out saved configurations to subscribers.
type Watcher struct {
	path string
	mu   sync.Mutex
	subs []func(Config)
}

// NewWatcher creates a Watcher bound to the config file at path.
func NewWatcher(path string) *Watcher {
	if path == "" {
		path = DefaultConfigPath()
	}
	return &Watcher{path: path}
}

// Subscribe registers fn to receive every successfully saved configuration.
func (w *Watcher) Subscribe(fn func(Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = append(w.subs, fn)
}

// Save writes cfg and notifies subscribers with the normalized result.
func (w *Watcher) Save(cfg Config) error {
	if err := Save(w.path, cfg); err != nil {
		return err
	}
	cfg = Normalize(cfg)
	w.mu.Lock()
	subs := make([]func(Config), len(w.subs))
	copy(subs, w.subs)
	w.mu.Unlock()
	for _, fn := range subs {
		fn(cfg)
	}
	return nil
}

// Reload re-reads the file and notifies subscribers.
func (w *Watcher) Reload() (Config, error) {
	cfg, err := Load(w.path)
	if err != nil {
		return Config{}, err
	}
	w.mu.Lock()
	subs := make([]func(Config), len(w.subs))
	copy(subs, w.subs)
	w.mu.Unlock()
	for _, fn := range subs {
		fn(cfg)
	}
	return cfg, nil
}
