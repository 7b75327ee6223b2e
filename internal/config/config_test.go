// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the config directory at a temp dir and clears overrides.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(HomeEnv, dir)
	for _, key := range []string{
		"LIFEDASH_BACKEND_URL", "LIFEDASH_TIMEOUT", "LIFEDASH_LOG_LEVEL", "LIFEDASH_LOG_FILE",
		"LIFEDASH_THEME", "LIFEDASH_STORAGE_DIR", "LIFEDASH_TEMPERATURE",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("LIFEDASH_SYSTEM_PROMPT", "")
	os.Unsetenv("LIFEDASH_SYSTEM_PROMPT")
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestConfig_Default(t *testing.T) {
	cfg := Default()

	if cfg.Backend.URL != "http://localhost:8000/api" {
		t.Errorf("Backend.URL = %q, want %q", cfg.Backend.URL, "http://localhost:8000/api")
	}
	if cfg.Backend.Timeout != 60 {
		t.Errorf("Backend.Timeout = %d, want 60", cfg.Backend.Timeout)
	}
	if cfg.Chat.Temperature != 0.7 || cfg.Chat.TopP != 1.0 || cfg.Chat.MaxTokens != 8192 {
		t.Errorf("Chat = %+v, want 0.7/1.0/8192", cfg.Chat)
	}
	if !cfg.UI.ConfirmExtractions {
		t.Error("UI.ConfirmExtractions should default to true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Backend, cfg.Backend)
}

func TestLoadFromPath_TOML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, `
log_level = "debug"

[backend]
url = "https://dash.example.com/api/"
stream_idle_timeout = 45

[chat]
temperature = 1.2
system_prompt = "Be brief."

[ui]
theme = "light"
confirm_extractions = false
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://dash.example.com/api", cfg.Backend.URL, "trailing slash trimmed")
	assert.Equal(t, 60, cfg.Backend.Timeout, "unset keys keep defaults")
	assert.Equal(t, 45*time.Second, cfg.IdleTimeout())
	assert.Equal(t, 1.2, cfg.Chat.Temperature)
	assert.Equal(t, 8192, cfg.Chat.MaxTokens)
	assert.Equal(t, "Be brief.", cfg.Chat.SystemPrompt)
	assert.Equal(t, "light", cfg.UI.Theme)
	assert.False(t, cfg.UI.ConfirmExtractions)
	assert.True(t, cfg.UI.RenderMarkdown)
}

func TestLoadFromPath_YAML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "lifedash.yaml")
	writeFile(t, path, `
backend:
  url: http://10.0.0.5:8000/api
  timeout: 15
chat:
  max_tokens: 1024
storage:
  outbox_retry_per_second: 0.5
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.5:8000/api", cfg.Backend.URL)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 1024, cfg.Chat.MaxTokens)
	assert.Equal(t, 0.5, cfg.Storage.OutboxRetryPerSecond)
}

func TestLoadFromPath_JSON(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "lifedash.json")
	writeFile(t, path, `{"ui": {"theme": "dark", "stream_fps": 60}}`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "dark", cfg.UI.Theme)
	assert.Equal(t, 60, cfg.UI.StreamFPS)
}

func TestLoadFromPath_Errors(t *testing.T) {
	dir := isolate(t)

	_, err := LoadFromPath(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.toml")
	writeFile(t, bad, "[backend\nurl = ")
	_, err = LoadFromPath(bad)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.toml")
	writeFile(t, invalid, "[chat]\ntemperature = 3.5\n")
	_, err = LoadFromPath(invalid)
	require.Error(t, err)
	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "chat.temperature", verrs[0].Field)
}

func TestLoadFromPath_FixesPermissions(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("log_level = \"warn\"\n"), 0644))

	_, err := LoadFromPath(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	if info.Mode().Perm() != 0600 {
		t.Errorf("permissions = %o, want 600", info.Mode().Perm())
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("LIFEDASH_BACKEND_URL", "http://override:9000/api")
	t.Setenv("LIFEDASH_TIMEOUT", "5")
	t.Setenv("LIFEDASH_LOG_LEVEL", "DEBUG")
	t.Setenv("LIFEDASH_THEME", "Light")
	t.Setenv("LIFEDASH_TEMPERATURE", "not-a-number")
	t.Setenv("LIFEDASH_SYSTEM_PROMPT", "You track expenses.")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "http://override:9000/api", cfg.Backend.URL)
	assert.Equal(t, 5, cfg.Backend.Timeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "light", cfg.UI.Theme)
	assert.Equal(t, 0.7, cfg.Chat.Temperature, "unparseable numbers are ignored")
	assert.Equal(t, "You track expenses.", cfg.Chat.SystemPrompt)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad scheme", func(c *Config) { c.Backend.URL = "ftp://host/api" }, "backend.url"},
		{"no host", func(c *Config) { c.Backend.URL = "http://" }, "backend.url"},
		{"bad level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
		{"zero timeout", func(c *Config) { c.Backend.Timeout = 0 }, "backend.timeout"},
		{"negative idle", func(c *Config) { c.Backend.StreamIdleTimeout = -1 }, "backend.stream_idle_timeout"},
		{"top_p high", func(c *Config) { c.Chat.TopP = 1.5 }, "chat.top_p"},
		{"max_tokens low", func(c *Config) { c.Chat.MaxTokens = 10 }, "chat.max_tokens"},
		{"bad theme", func(c *Config) { c.UI.Theme = "solarized" }, "ui.theme"},
		{"fps zero", func(c *Config) { c.UI.StreamFPS = 0 }, "ui.stream_fps"},
		{"negative retry", func(c *Config) { c.Storage.OutboxRetryPerSecond = -2 }, "storage.outbox_retry_per_second"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("Validate() = %q, want mention of %q", err, tt.field)
			}
		})
	}
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "nested", "config.toml")

	cfg := Default()
	cfg.Chat.SystemPrompt = "Keep it short."
	cfg.UI.Theme = "dark"
	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# lifedash configuration file"))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "Keep it short.", loaded.Chat.SystemPrompt)
	assert.Equal(t, "dark", loaded.UI.Theme)
}

func TestConfig_Paths(t *testing.T) {
	dir := isolate(t)

	cfg := Default()
	got, err := cfg.OutboxDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "outbox"), got)

	logPath, err := cfg.LogPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "lifedash.log"), logPath)

	cfg.Storage.Dir = "/var/lib/lifedash"
	got, err = cfg.OutboxDir()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/lifedash/outbox", got)
}

func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	v, err := cfg.Get("chat.max_tokens")
	require.NoError(t, err)
	assert.Equal(t, 8192, v)

	require.NoError(t, cfg.Set("chat.temperature", "0.2"))
	assert.Equal(t, 0.2, cfg.Chat.Temperature)

	require.NoError(t, cfg.Set("ui.confirm_extractions", "false"))
	assert.False(t, cfg.UI.ConfirmExtractions)

	require.NoError(t, cfg.Set("backend.timeout", 30))
	assert.Equal(t, 30, cfg.Backend.Timeout)

	assert.Error(t, cfg.Set("chat.nope", "1"))
	assert.Error(t, cfg.Set("backend", "x"), "sections are not values")
	assert.Error(t, cfg.Set("backend.timeout", "soon"))
	_, err = cfg.Get("")
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	keys := Keys()
	for _, want := range []string{"log_level", "backend.url", "chat.system_prompt", "ui.stream_fps", "storage.dir"} {
		assert.Contains(t, keys, want)
	}
	cfg := Default()
	for _, key := range keys {
		if _, err := cfg.Get(key); err != nil {
			t.Errorf("Get(%q) = %v", key, err)
		}
	}
}

func TestConfig_Clone(t *testing.T) {
	cfg := Default()
	clone := cfg.Clone()
	clone.Chat.Temperature = 1.9

	if cfg.Chat.Temperature == 1.9 {
		t.Error("modifying the clone changed the original")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[chat]\ntemperature = 0.5\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) { reloaded <- c }, nil)
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "[chat]\ntemperature = 1.5\n")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 1.5, cfg.Chat.Temperature)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after write")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_ReportsInvalidConfig(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "log_level = \"info\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make(chan error, 4)
	go Watch(ctx, path, func(*Config) { t.Error("invalid config should not be delivered") }, func(err error) { errs <- err })

	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "log_level = \"loud\"\n")

	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "log_level")
	case <-time.After(3 * time.Second):
		t.Fatal("no error reported for invalid config")
	}
}

// TestConfig_ConcurrentAccess checks Global and SetGlobal under the race detector.
func TestConfig_ConcurrentAccess(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			SetGlobal(Default())
		}()
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

func TestConfig_ConcurrentReload(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()
	_ = Global()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ReloadGlobal()
		}()
	}
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

func TestConfig_SetGlobalOverwrites(t *testing.T) {
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	cfg := Default()
	cfg.UI.Theme = "light"
	SetGlobal(cfg)

	if got := Global().UI.Theme; got != "light" {
		t.Errorf("Global().UI.Theme = %q, want %q", got, "light")
	}
}

func TestReadFile_IgnoresEnvironment(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[backend]\nurl = \"http://dash.local/api\"\n")
	t.Setenv("LIFEDASH_BACKEND_URL", "http://override:9000/api")

	cfg, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "http://dash.local/api", cfg.Backend.URL)

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "http://override:9000/api", loaded.Backend.URL)
}
