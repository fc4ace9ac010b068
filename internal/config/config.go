// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/coca/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete coca configuration.
type Config struct {
	// Backend connection
	Server ServerConfig `toml:"server" json:"server" yaml:"server"`

	// Credential storage
	Auth AuthConfig `toml:"auth" json:"auth" yaml:"auth"`

	// Structured logging
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Terminal presentation
	UI UIConfig `toml:"ui" json:"ui" yaml:"ui"`

	// Local transcript storage
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Development backend (coca-server)
	DevServer DevServerConfig `toml:"dev_server" json:"dev_server" yaml:"dev_server"`
}

// ServerConfig describes how the client reaches the chat backend.
type ServerConfig struct {
	// BaseURL is the backend root, e.g. http://localhost:8080.
	BaseURL string `toml:"base_url" json:"base_url" yaml:"base_url"`

	// Timeout bounds every non-streaming request.
	Timeout Duration `toml:"timeout" json:"timeout" yaml:"timeout"`

	// StreamIdleTimeout aborts a reply stream that delivers nothing for this
	// long. Zero disables the check.
	StreamIdleTimeout Duration `toml:"stream_idle_timeout" json:"stream_idle_timeout" yaml:"stream_idle_timeout"`

	// UserAgent is sent on every request.
	UserAgent string `toml:"user_agent" json:"user_agent" yaml:"user_agent"`

	// RateLimit caps outbound requests per second. Zero means unlimited.
	RateLimit float64 `toml:"rate_limit" json:"rate_limit" yaml:"rate_limit"`

	// Burst is the limiter bucket size.
	Burst int `toml:"burst" json:"burst" yaml:"burst"`
}

// AuthConfig selects where the access/refresh token pair lives.
type AuthConfig struct {
	// Store is "sqlite" (persisted across runs) or "memory".
	Store string `toml:"store" json:"store" yaml:"store"`

	// StorePath is the SQLite database file for the sqlite store. Empty
	// means credentials.db in the config directory.
	StorePath string `toml:"store_path" json:"store_path" yaml:"store_path"`

	// Passphrase, when set, seals stored tokens with AES-256-GCM.
	Passphrase string `toml:"passphrase" json:"passphrase" yaml:"passphrase"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `toml:"level" json:"level" yaml:"level"`
	Format string `toml:"format" json:"format" yaml:"format"`
	// File redirects logs away from stderr. Empty means stderr.
	File string `toml:"file" json:"file" yaml:"file"`
}

// UIConfig contains terminal presentation settings.
type UIConfig struct {
	Theme    string `toml:"theme" json:"theme" yaml:"theme"`
	WordWrap int    `toml:"word_wrap" json:"word_wrap" yaml:"word_wrap"`
	Markdown bool   `toml:"markdown" json:"markdown" yaml:"markdown"`
}

// StorageConfig controls saved transcripts.
// An empty TranscriptsDir means transcripts/ in the config directory.
type StorageConfig struct {
	TranscriptsDir string `toml:"transcripts_dir" json:"transcripts_dir" yaml:"transcripts_dir"`
	MaxTranscripts int    `toml:"max_transcripts" json:"max_transcripts" yaml:"max_transcripts"`
}

// DevServerConfig configures the in-memory development backend.
type DevServerConfig struct {
	Addr       string   `toml:"addr" json:"addr" yaml:"addr"`
	SigningKey string   `toml:"signing_key" json:"signing_key" yaml:"signing_key"`
	AccessTTL  Duration `toml:"access_ttl" json:"access_ttl" yaml:"access_ttl"`
	RefreshTTL Duration `toml:"refresh_ttl" json:"refresh_ttl" yaml:"refresh_ttl"`
	// ReplyDelay is the pause between streamed words.
	ReplyDelay Duration `toml:"reply_delay" json:"reply_delay" yaml:"reply_delay"`
	RateLimit  float64  `toml:"rate_limit" json:"rate_limit" yaml:"rate_limit"`
	Burst      int      `toml:"burst" json:"burst" yaml:"burst"`
}

// Duration is a time.Duration written as "5s" in every config format.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	// DefaultBaseURL is where the backend listens in a local setup.
	DefaultBaseURL = "http://localhost:8080"

	// DefaultTimeout matches the backend's expectations for REST calls.
	DefaultTimeout = 5 * time.Second

	// StoreMemory keeps tokens for the lifetime of the process only.
	StoreMemory = "memory"

	// StoreSQLite persists tokens in a local SQLite database.
	StoreSQLite = "sqlite"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:   DefaultBaseURL,
			Timeout:   Duration(DefaultTimeout),
			UserAgent: "coca-cli",
			Burst:     10,
		},
		Auth: AuthConfig{
			Store: StoreSQLite,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		UI: UIConfig{
			Theme:    "auto",
			WordWrap: 80,
			Markdown: true,
		},
		Storage: StorageConfig{
			MaxTranscripts: 200,
		},
		DevServer: DevServerConfig{
			Addr:       "127.0.0.1:8080",
			SigningKey: "coca-dev-signing-key-change-me",
			AccessTTL:  Duration(time.Hour),
			RefreshTTL: Duration(7 * 24 * time.Hour),
			ReplyDelay: Duration(40 * time.Millisecond),
			RateLimit:  50,
			Burst:      100,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the coca configuration directory. COCA_HOME overrides
// the default of ~/.coca.
func ConfigDir() (string, error) {
	if dir := os.Getenv("COCA_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".coca"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// candidatePaths lists config files in lookup order.
func candidatePaths() ([]string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	return []string{
		filepath.Join(dir, "config.toml"),
		filepath.Join(dir, "config.yaml"),
		filepath.Join(dir, "config.yml"),
		filepath.Join(dir, "config.json"),
	}, nil
}

// EnsureConfigDir ensures the config directory exists with owner-only access.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions tightens a config file to 0600.
// SECURITY: the file may hold the token passphrase.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// ResolvedStorePath returns Auth.StorePath with "~" expanded, or the
// default location inside ConfigDir.
func (c *Config) ResolvedStorePath() (string, error) {
	return resolveUnderConfigDir(c.Auth.StorePath, "credentials.db")
}

// ResolvedTranscriptsDir returns Storage.TranscriptsDir with "~" expanded,
// or the default location inside ConfigDir.
func (c *Config) ResolvedTranscriptsDir() (string, error) {
	return resolveUnderConfigDir(c.Storage.TranscriptsDir, "transcripts")
}

func resolveUnderConfigDir(path, fallback string) (string, error) {
	if path != "" {
		return util.ExpandHome(path)
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fallback), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the first config file found in the config directory (TOML,
// then YAML, then JSON), then a .env file in the working directory, then
// COCA_* environment variables. Missing files are not an error.
func Load() (*Config, error) {
	paths, err := candidatePaths()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if _, statErr := os.Stat(p); statErr == nil {
			return LoadFromPath(p)
		}
	}

	cfg := Default()
	return finish(cfg)
}

// LoadFromPath loads configuration from a specific file. The format follows
// the extension; anything that is not .json, .yaml or .yml is read as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = LoadJSON(cfg, path)
	case ".yaml", ".yml":
		err = LoadYAML(cfg, path)
	default:
		err = LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	warnPermissions(path)
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadYAML decodes a YAML file over cfg.
func LoadYAML(cfg *Config, path string) error {
	warnPermissions(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read YAML file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode YAML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	warnPermissions(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win. A missing file is ignored.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func warnPermissions(path string) {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg as TOML with a short header.
// SECURITY: written 0600 through an atomic rename.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# coca configuration file\n")
	buf.WriteString("# Generated by coca - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var (
	validLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	validFormats = map[string]bool{"text": true, "json": true}
	validThemes  = map[string]bool{"auto": true, "dark": true, "light": true}
	validStores  = map[string]bool{StoreMemory: true, StoreSQLite: true}
)

// Validate checks the configuration and returns ValidateErrors listing every
// problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if u, err := url.Parse(c.Server.BaseURL); err != nil || u.Host == "" {
		add("server.base_url", "must be an absolute URL, got %q", c.Server.BaseURL)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("server.base_url", "scheme must be http or https, got %q", u.Scheme)
	}
	if c.Server.Timeout <= 0 {
		add("server.timeout", "must be positive")
	}
	if c.Server.StreamIdleTimeout < 0 {
		add("server.stream_idle_timeout", "must not be negative")
	}
	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "must not be negative")
	}
	if c.Server.RateLimit > 0 && c.Server.Burst < 1 {
		add("server.burst", "must be at least 1 when rate_limit is set")
	}

	// Auth
	if !validStores[c.Auth.Store] {
		add("auth.store", "must be %q or %q, got %q", StoreSQLite, StoreMemory, c.Auth.Store)
	}

	// Logging
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		add("logging.level", "must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		add("logging.format", "must be text or json, got %q", c.Logging.Format)
	}

	// UI
	if !validThemes[c.UI.Theme] {
		add("ui.theme", "must be auto, dark or light, got %q", c.UI.Theme)
	}
	if c.UI.WordWrap < 0 {
		add("ui.word_wrap", "must not be negative")
	}

	// Storage
	if c.Storage.MaxTranscripts < 0 {
		add("storage.max_transcripts", "must not be negative")
	}

	// Dev server
	if c.DevServer.AccessTTL <= 0 {
		add("dev_server.access_ttl", "must be positive")
	}
	if c.DevServer.RefreshTTL < c.DevServer.AccessTTL {
		add("dev_server.refresh_ttl", "must not be shorter than access_ttl")
	}
	if len(c.DevServer.SigningKey) < 16 {
		add("dev_server.signing_key", "must be at least 16 bytes")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills required fields left empty by a config file.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Server.BaseURL == "" {
		c.Server.BaseURL = d.Server.BaseURL
	}
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")
	if c.Server.Timeout == 0 {
		c.Server.Timeout = d.Server.Timeout
	}
	if c.Server.UserAgent == "" {
		c.Server.UserAgent = d.Server.UserAgent
	}
	if c.Auth.Store == "" {
		c.Auth.Store = d.Auth.Store
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	if c.UI.Theme == "" {
		c.UI.Theme = d.UI.Theme
	}
	if c.DevServer.Addr == "" {
		c.DevServer.Addr = d.DevServer.Addr
	}
	if c.DevServer.AccessTTL == 0 {
		c.DevServer.AccessTTL = d.DevServer.AccessTTL
	}
	if c.DevServer.RefreshTTL == 0 {
		c.DevServer.RefreshTTL = d.DevServer.RefreshTTL
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - COCA_BASE_URL: server.base_url
//   - COCA_TIMEOUT: server.timeout (e.g. "10s")
//   - COCA_AUTH_STORE: auth.store
//   - COCA_STORE_PATH: auth.store_path
//   - COCA_PASSPHRASE: auth.passphrase
//   - COCA_LOG_LEVEL, COCA_LOG_FORMAT, COCA_LOG_FILE: logging.*
//   - COCA_THEME: ui.theme
//   - COCA_TRANSCRIPTS_DIR: storage.transcripts_dir
//   - COCA_SERVER_ADDR: dev_server.addr
//   - COCA_SIGNING_KEY: dev_server.signing_key
func (c *Config) ApplyEnvOverrides() {
	str := map[string]*string{
		"COCA_BASE_URL":        &c.Server.BaseURL,
		"COCA_AUTH_STORE":      &c.Auth.Store,
		"COCA_STORE_PATH":      &c.Auth.StorePath,
		"COCA_PASSPHRASE":      &c.Auth.Passphrase,
		"COCA_LOG_LEVEL":       &c.Logging.Level,
		"COCA_LOG_FORMAT":      &c.Logging.Format,
		"COCA_LOG_FILE":        &c.Logging.File,
		"COCA_THEME":           &c.UI.Theme,
		"COCA_TRANSCRIPTS_DIR": &c.Storage.TranscriptsDir,
		"COCA_SERVER_ADDR":     &c.DevServer.Addr,
		"COCA_SIGNING_KEY":     &c.DevServer.SigningKey,
	}
	for env, field := range str {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}

	if v := os.Getenv("COCA_TIMEOUT"); v != "" {
		var d Duration
		if err := d.UnmarshalText([]byte(v)); err == nil {
			c.Server.Timeout = d
		} else {
			fmt.Fprintf(os.Stderr, "Warning: ignoring COCA_TIMEOUT: %v\n", err)
		}
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g. "server.base_url").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts snake_case or kebab-case to a Go field name.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(part[:1]))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets field from value, parsing strings as needed.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		if u, ok := field.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return u.UnmarshalText([]byte(strVal))
		}
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(lower == "1" || lower == "true" || lower == "yes")
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// Keys returns every configuration key in dot notation, in declaration order.
func Keys() []string {
	var keys []string
	root := reflect.TypeOf(Config{})
	for i := 0; i < root.NumField(); i++ {
		section := root.Field(i)
		prefix := section.Tag.Get("toml")
		for j := 0; j < section.Type.NumField(); j++ {
			keys = append(keys, prefix+"."+section.Type.Field(j).Tag.Get("toml"))
		}
	}
	return keys
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone returns a copy of the configuration. Config holds no reference
// types, so a value copy is deep.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns an indented JSON rendering with secrets redacted.
// SECURITY: safe to log.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Auth.Passphrase != "" {
		safe.Auth.Passphrase = "[REDACTED]"
	}
	if safe.DevServer.SigningKey != "" {
		safe.DevServer.SigningKey = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the process-wide configuration, loading it on first use.
// A broken config file falls back to defaults with a warning.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// SetGlobal replaces the global configuration.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting clears the global config so the next Global call
// reloads it.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
