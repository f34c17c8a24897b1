package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 25*time.Minute, c.Server.StreamTimeout)
	assert.Equal(t, "memory", c.Storage.Type)
	assert.Len(t, c.Models.Comparison, 3)
	assert.Equal(t, 5, c.Agent.MaxSteps)
	assert.Contains(t, c.CORS.ExposedHeaders, "X-Chat-Id")
	assert.Same(t, c, Get())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
storage:
  type: sqlite
  dsn: chat.db
agent:
  max_steps: 3
`)
	t.Setenv("CHAT_SERVER_PORT", "9100")
	t.Setenv("OPENROUTER_API_KEY", "sk-test")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, c.Server.Port)
	assert.Equal(t, "sqlite", c.Storage.Type)
	assert.Equal(t, "chat.db", c.Storage.DSN)
	assert.Equal(t, 3, c.Agent.MaxSteps)
	assert.Equal(t, "sk-test", c.Aggregator.APIKey)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown storage", "storage:\n  type: redis\n"},
		{"sqlite without dsn", "storage:\n  type: sqlite\n"},
		{"two comparison models", "models:\n  comparison: [a, b]\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"stdio mcp without command", "tools:\n  mcp:\n    - name: fs\n      transport: stdio\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.ErrorContains(t, err, "invalid config")
		})
	}
}

func TestLoad_UnreadableFile(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unterminated"))
	assert.ErrorContains(t, err, "read config")
}
