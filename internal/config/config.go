// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
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
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/lifedash-tui/internal/model"
	"github.com/jeranaias/lifedash-tui/internal/util"
)

// HomeEnv overrides the config directory.
const HomeEnv = "LIFEDASH_HOME"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete lifedash configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level" json:"log_level" yaml:"log_level"`
	// LogFile is the JSON log path (empty = <dir>/lifedash.log).
	LogFile string `toml:"log_file" json:"log_file" yaml:"log_file"`

	Backend BackendConfig        `toml:"backend" json:"backend" yaml:"backend"`
	Chat    model.ChatParameters `toml:"chat" json:"chat" yaml:"chat"`
	UI      UIConfig             `toml:"ui" json:"ui" yaml:"ui"`
	Storage StorageConfig        `toml:"storage" json:"storage" yaml:"storage"`
}

// BackendConfig locates the dashboard backend.
type BackendConfig struct {
	// URL is the API root, e.g. http://localhost:8000/api
	URL string `toml:"url" json:"url" yaml:"url"`
	// Timeout is the per-request timeout in seconds for non-streaming calls.
	Timeout int `toml:"timeout" json:"timeout" yaml:"timeout"`
	// StreamIdleTimeout aborts a reply stream that stays silent this many
	// seconds (0 = never).
	StreamIdleTimeout int `toml:"stream_idle_timeout" json:"stream_idle_timeout" yaml:"stream_idle_timeout"`
}

// UIConfig holds display settings.
type UIConfig struct {
	// Theme is auto, dark or light.
	Theme string `toml:"theme" json:"theme" yaml:"theme"`
	// RenderMarkdown renders finished replies with glamour.
	RenderMarkdown bool `toml:"render_markdown" json:"render_markdown" yaml:"render_markdown"`
	// ConfirmExtractions enables the post-turn record extraction prompt.
	ConfirmExtractions bool `toml:"confirm_extractions" json:"confirm_extractions" yaml:"confirm_extractions"`
	// StreamFPS caps full-screen redraws while a reply streams.
	StreamFPS int `toml:"stream_fps" json:"stream_fps" yaml:"stream_fps"`
}

// StorageConfig holds local state settings.
type StorageConfig struct {
	// Dir holds the log and the outbox (empty = config directory).
	Dir string `toml:"dir" json:"dir" yaml:"dir"`
	// OutboxRetryPerSecond paces replay of failed writes (0 = unpaced).
	OutboxRetryPerSecond float64 `toml:"outbox_retry_per_second" json:"outbox_retry_per_second" yaml:"outbox_retry_per_second"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Backend: BackendConfig{
			URL:     "http://localhost:8000/api",
			Timeout: 60,
		},
		Chat: model.DefaultParameters(),
		UI: UIConfig{
			Theme:              "auto",
			RenderMarkdown:     true,
			ConfirmExtractions: true,
			StreamFPS:          30,
		},
		Storage: StorageConfig{
			OutboxRetryPerSecond: 2,
		},
	}
}

// =============================================================================
// PATH HELPERS
// =============================================================================

// ConfigDir returns the lifedash directory ($LIFEDASH_HOME or ~/.lifedash).
func ConfigDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".lifedash"), nil
}

// ConfigPathTOML returns the default config file path.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DataDir returns the directory for logs and the outbox.
func (c *Config) DataDir() (string, error) {
	if c.Storage.Dir != "" {
		return expandHome(c.Storage.Dir), nil
	}
	return ConfigDir()
}

// OutboxDir returns the directory of pending writes.
func (c *Config) OutboxDir() (string, error) {
	dir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "outbox"), nil
}

// LogPath returns the log file path.
func (c *Config) LogPath() (string, error) {
	if c.LogFile != "" {
		return expandHome(c.LogFile), nil
	}
	dir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "lifedash.log"), nil
}

// RequestTimeout returns the backend timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Backend.Timeout) * time.Second
}

// IdleTimeout returns the stream idle timeout as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Backend.StreamIdleTimeout) * time.Second
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// ensureSecurePermissions tightens a config file to 0600.
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

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the default config file if it exists, otherwise defaults.
// Environment overrides are applied either way.
func Load() (*Config, error) {
	path, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}
	return finish(Default())
}

// LoadFromPath reads a config file. The format follows the extension:
// .yaml/.yml, .json, anything else is TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := decodeFile(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return finish(cfg)
}

// ReadFile decodes a config file over the defaults without environment
// overrides or validation. Use it to edit a file in place.
func ReadFile(path string) (*Config, error) {
	cfg := Default()
	if err := decodeFile(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to read config from %s: %w", path, err)
	}
	cfg.SetDefaults()
	return cfg, nil
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func decodeFile(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to decode YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to decode JSON: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to decode TOML: %w", err)
		}
	}
	return nil
}

// SetDefaults fills values that must not be empty.
func (c *Config) SetDefaults() {
	d := Default()
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Backend.URL == "" {
		c.Backend.URL = d.Backend.URL
	}
	c.Backend.URL = strings.TrimRight(c.Backend.URL, "/")
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = d.Backend.Timeout
	}
	if c.Chat.MaxTokens == 0 {
		c.Chat.MaxTokens = d.Chat.MaxTokens
	}
	if c.UI.Theme == "" {
		c.UI.Theme = d.UI.Theme
	}
	if c.UI.StreamFPS == 0 {
		c.UI.StreamFPS = d.UI.StreamFPS
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg to the default TOML path.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg as TOML with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# lifedash configuration file\n")
	buf.WriteString("# Environment variables LIFEDASH_* override these values.\n\n")
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

// ValidationError is one invalid setting.
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

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validThemes = map[string]bool{"auto": true, "dark": true, "light": true}

// Validate checks every setting and returns ValidateErrors when any fail.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("log_level", "invalid level '%s', must be one of: debug, info, warn, error", c.LogLevel)
	}

	if u, err := url.Parse(c.Backend.URL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		add("backend.url", "must be an http(s) URL, got '%s'", c.Backend.URL)
	}
	if c.Backend.Timeout < 1 || c.Backend.Timeout > 3600 {
		add("backend.timeout", "must be between 1 and 3600 seconds, got %d", c.Backend.Timeout)
	}
	if c.Backend.StreamIdleTimeout < 0 {
		add("backend.stream_idle_timeout", "cannot be negative, got %d", c.Backend.StreamIdleTimeout)
	}

	if c.Chat.Temperature < model.MinTemperature || c.Chat.Temperature > model.MaxTemperature {
		add("chat.temperature", "must be between %.1f and %.1f, got %g", model.MinTemperature, model.MaxTemperature, c.Chat.Temperature)
	}
	if c.Chat.TopP < model.MinTopP || c.Chat.TopP > model.MaxTopP {
		add("chat.top_p", "must be between %.1f and %.1f, got %g", model.MinTopP, model.MaxTopP, c.Chat.TopP)
	}
	if c.Chat.MaxTokens < model.MinMaxTokens || c.Chat.MaxTokens > model.MaxMaxTokens {
		add("chat.max_tokens", "must be between %d and %d, got %d", model.MinMaxTokens, model.MaxMaxTokens, c.Chat.MaxTokens)
	}

	if !validThemes[strings.ToLower(c.UI.Theme)] {
		add("ui.theme", "invalid theme '%s', must be one of: auto, dark, light", c.UI.Theme)
	}
	if c.UI.StreamFPS < 1 || c.UI.StreamFPS > 120 {
		add("ui.stream_fps", "must be between 1 and 120, got %d", c.UI.StreamFPS)
	}

	if c.Storage.OutboxRetryPerSecond < 0 {
		add("storage.outbox_retry_per_second", "cannot be negative, got %g", c.Storage.OutboxRetryPerSecond)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported environment variables:
//   - LIFEDASH_BACKEND_URL: overrides backend.url
//   - LIFEDASH_TIMEOUT: overrides backend.timeout
//   - LIFEDASH_LOG_LEVEL: overrides log_level
//   - LIFEDASH_LOG_FILE: overrides log_file
//   - LIFEDASH_THEME: overrides ui.theme
//   - LIFEDASH_STORAGE_DIR: overrides storage.dir
//   - LIFEDASH_TEMPERATURE: overrides chat.temperature
//   - LIFEDASH_SYSTEM_PROMPT: overrides chat.system_prompt
//
// Unparseable numbers are ignored.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("LIFEDASH_BACKEND_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("LIFEDASH_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Backend.Timeout = n
		}
	}
	if v := os.Getenv("LIFEDASH_LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("LIFEDASH_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("LIFEDASH_THEME"); v != "" {
		c.UI.Theme = strings.ToLower(v)
	}
	if v := os.Getenv("LIFEDASH_STORAGE_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("LIFEDASH_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Chat.Temperature = f
		}
	}
	if v, ok := os.LookupEnv("LIFEDASH_SYSTEM_PROMPT"); ok {
		c.Chat.SystemPrompt = v
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a value by dotted TOML key, e.g. "chat.top_p".
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a value by dotted TOML key. String values are converted to
// the field's type. The result is not validated.
func (c *Config) Set(key string, value any) error {
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
	parts := strings.Split(strings.TrimSpace(key), ".")
	if len(parts) == 0 || parts[0] == "" {
		return reflect.Value{}, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("'%s' is a section, not a value", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// fieldByTag finds a struct field by its toml tag name.
func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("toml"), ",")
		if strings.EqualFold(tag, name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value with string conversion.
func setFieldValue(field reflect.Value, value any) error {
	if s, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(s)
			return nil
		case reflect.Int, reflect.Int64:
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(n)
			return nil
		case reflect.Float64:
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(f)
			return nil
		case reflect.Bool:
			b, err := strconv.ParseBool(s)
			if err != nil {
				return fmt.Errorf("invalid boolean value: %v", err)
			}
			field.SetBool(b)
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

// Keys returns every settable key in dot notation.
func Keys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			tag, _, _ := strings.Cut(t.Field(i).Tag.Get("toml"), ",")
			if tag == "" || tag == "-" {
				continue
			}
			if t.Field(i).Type.Kind() == reflect.Struct {
				walk(t.Field(i).Type, prefix+tag+".")
				continue
			}
			keys = append(keys, prefix+tag)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

// =============================================================================
// CLONE / STRING
// =============================================================================

// Clone returns a copy. Config holds no reference types.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String renders the config as TOML.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Sprintf("%+v", *c)
	}
	return buf.String()
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig   *Config
	globalConfigMu sync.RWMutex
)

// Global returns the process-wide config, loading it on first use.
// Load errors fall back to defaults.
func Global() *Config {
	globalConfigMu.RLock()
	cfg := globalConfig
	globalConfigMu.RUnlock()
	if cfg != nil {
		return cfg
	}

	loaded, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		loaded = Default()
	}

	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	if globalConfig == nil {
		globalConfig = loaded
	}
	return globalConfig
}

// SetGlobal replaces the process-wide config. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting clears the process-wide config.
func ResetGlobalForTesting() {
	SetGlobal(nil)
}

// ReloadGlobal re-reads the default config and replaces the global one.
// On error the previous config is kept.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}
