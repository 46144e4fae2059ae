// ABOUTME: Tests for configuration loading
// ABOUTME: Covers defaults, env var expansion, duration parsing and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
server:
  http_addr: "localhost:8080"
database:
  path: "test.db"
transport:
  bridge_url: "ws://127.0.0.1:3001"
`

func TestLoad_MinimalConfigGetsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, DefaultCooldown, cfg.Bot.Cooldown)
	assert.Equal(t, DefaultRequestTimeout, cfg.Bot.RequestTimeout)
	assert.Equal(t, DefaultMaxMessages, cfg.Bot.MaxMessages)
	assert.Equal(t, DefaultHistoryLimit, cfg.Bot.HistoryLimit)
	assert.Equal(t, DefaultInitialBackoff, cfg.Reconnect.InitialBackoff)
	assert.Equal(t, DefaultMaxBackoff, cfg.Reconnect.MaxBackoff)
	assert.Equal(t, DefaultMaxAttempts, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, "uploads", cfg.Uploads.Dir)
	assert.Equal(t, int64(DefaultMaxUploadBytes), cfg.Uploads.MaxSizeBytes)
}

func TestLoad_ParsesDurations(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
bot:
  cooldown: "250ms"
  request_timeout: "45s"
reconnect:
  initial_backoff: "5s"
  max_backoff: "2m"
  max_attempts: 3
`))
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Bot.Cooldown)
	assert.Equal(t, 45*time.Second, cfg.Bot.RequestTimeout)
	assert.Equal(t, 5*time.Second, cfg.Reconnect.InitialBackoff)
	assert.Equal(t, 2*time.Minute, cfg.Reconnect.MaxBackoff)
	assert.Equal(t, 3, cfg.Reconnect.MaxAttempts)
}

func TestLoad_InvalidDurationFails(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
bot:
  cooldown: "not-a-duration"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cooldown")
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_DB_PATH", "/tmp/funnel-test.db")

	cfg, err := Load(writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "${TEST_DB_PATH}"
transport:
  bridge_url: "ws://127.0.0.1:3001"
`))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/funnel-test.db", cfg.Database.Path)
}

func TestLoad_UnsetEnvVarBecomesEmptyAndFailsValidation(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "${DEFINITELY_NOT_SET_ANYWHERE_12345}"
transport:
  bridge_url: "ws://127.0.0.1:3001"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path")
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing http_addr",
			content: `
database:
  path: "test.db"
transport:
  bridge_url: "ws://127.0.0.1:3001"
`,
			wantErr: "server.http_addr",
		},
		{
			name: "missing bridge_url",
			content: `
server:
  http_addr: "localhost:8080"
database:
  path: "test.db"
`,
			wantErr: "transport.bridge_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedYAMLFails(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [not: valid"))
	assert.Error(t, err)
}
