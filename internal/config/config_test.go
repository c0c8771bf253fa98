package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Chat.FreeLimit)
	assert.Equal(t, 3, cfg.Chat.SendAttempts)
	assert.Equal(t, 1000, cfg.Chat.BackoffBaseMs)
	assert.Equal(t, 30000, cfg.Chat.BackoffCapMs)
	assert.Equal(t, "loopback", cfg.Gateway.Bind)
	assert.Equal(t, "token", cfg.Gateway.Auth.Mode)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
backend:
  baseUrl: https://api.example.com
chat:
  sendAttempts: 5
  estimatedWaitSec: 30
gateway:
  port: 9999
logging:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, 5, cfg.Chat.SendAttempts)
	assert.Equal(t, 30, cfg.Chat.EstimatedWaitSec)
	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched fields keep defaults.
	assert.Equal(t, 3, cfg.Chat.CreateAttempts)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "gateway: [not a map")
	_, err := Load(path)
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PLANNER_GATEWAY_PORT", "7777")
	t.Setenv("PLANNER_LOG_LEVEL", "WARN")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Gateway.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_ExpandsSensitiveFields(t *testing.T) {
	t.Setenv("TEST_PLANNER_KEY", "sk-secret")
	path := writeConfig(t, `
backend:
  apiKey: ${TEST_PLANNER_KEY}
gateway:
  auth:
    token: ${UNSET_PLANNER_VAR}
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-secret", cfg.Backend.APIKey)
	// Unset variables are left as-is.
	assert.Equal(t, "${UNSET_PLANNER_VAR}", cfg.Gateway.Auth.Token)
}

func TestValidate_OK(t *testing.T) {
	cfg := Defaults()
	cfg.Backend.BaseURL = "https://api.example.com"
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_CatchesIssues(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Port = 99999
	cfg.Gateway.Bind = "everywhere"
	cfg.Chat.SendAttempts = 0
	cfg.Chat.BackoffCapMs = 1
	cfg.Logging.Level = "loud"

	issues := Validate(&cfg)
	paths := make([]string, 0, len(issues))
	for _, i := range issues {
		paths = append(paths, i.Path)
	}
	assert.Contains(t, paths, "backend.baseUrl")
	assert.Contains(t, paths, "gateway.port")
	assert.Contains(t, paths, "gateway.bind")
	assert.Contains(t, paths, "chat.sendAttempts")
	assert.Contains(t, paths, "chat.backoffCapMs")
	assert.Contains(t, paths, "logging.level")
}

func TestResolvePaths_HomeOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PLANNER_HOME", dir)

	p, err := ResolvePaths()
	require.NoError(t, err)

	assert.Equal(t, dir, p.Base)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), p.Config)
	assert.Equal(t, filepath.Join(dir, "data", "planner.db"), p.DatabasePath(StorageConfig{}))
	assert.Equal(t, "/tmp/x.db", p.DatabasePath(StorageConfig{Path: "/tmp/x.db"}))
}

func TestParseConfigPath(t *testing.T) {
	parts, err := ParseConfigPath("gateway.auth.mode")
	require.NoError(t, err)
	assert.Equal(t, []string{"gateway", "auth", "mode"}, parts)

	_, err = ParseConfigPath("")
	assert.Error(t, err)
	_, err = ParseConfigPath("gateway..port")
	assert.Error(t, err)
	_, err = ParseConfigPath("__proto__.x")
	assert.Error(t, err)
}

func TestGetSetValueAtPath(t *testing.T) {
	root := map[string]any{}
	SetValueAtPath(root, []string{"gateway", "port"}, 8080)

	val, ok := GetValueAtPath(root, []string{"gateway", "port"})
	require.True(t, ok)
	assert.Equal(t, 8080, val)

	_, ok = GetValueAtPath(root, []string{"gateway", "missing"})
	assert.False(t, ok)
}
