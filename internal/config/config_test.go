package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autosync/internal/store"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autosync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadWithEnv("", noEnv)
	require.NoError(t, err)

	assert.Equal(t, DefaultDatabase, cfg.Database)
	assert.Equal(t, 2*time.Second, cfg.Autosave.Debounce)
	assert.Equal(t, 30*time.Second, cfg.Autosave.Interval)
	assert.True(t, cfg.Autosave.OfflineEnabled())
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, DefaultResolver, cfg.Sync.Resolver)
	assert.Equal(t, 30*24*time.Hour, cfg.Session.Retention)
	assert.Equal(t, 7*24*time.Hour, cfg.Changes.Retention)
	assert.Equal(t, DefaultRemoteTimeout, cfg.Remote.Timeout)
	assert.Empty(t, cfg.Entities)
}

func TestLoad_FullFile(t *testing.T) {
	cfg, err := LoadWithEnv("testdata/full.yaml", noEnv)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/autosync/state.db", cfg.Database)
	assert.Equal(t, "u1", cfg.User)
	assert.Equal(t, "https://api.example.com/v1", cfg.Remote.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 20.0, cfg.Remote.RateLimit)
	assert.Equal(t, "wss://rt.example.com/socket", cfg.Connectivity.SocketURL)
	assert.Equal(t, 1500*time.Millisecond, cfg.Autosave.Debounce)
	assert.Equal(t, time.Minute, cfg.Autosave.Interval)
	assert.False(t, cfg.Autosave.OfflineEnabled())
	assert.Equal(t, 5, cfg.Sync.MaxRetries)
	assert.Equal(t, "remote", cfg.Sync.Resolver)
	assert.Equal(t, 240*time.Hour, cfg.Session.Retention)
	assert.Equal(t, 48*time.Hour, cfg.Changes.Retention)
	assert.Equal(t, "127.0.0.1:9108", cfg.Metrics.Addr)

	require.Len(t, cfg.Entities, 2)
	assert.Equal(t, store.Def{Name: "scenes", Indexes: []store.Index{{Name: "projectId", Field: "projectId"}}}, cfg.Entities[0])
	assert.True(t, cfg.HasEntity("comments"))
	assert.False(t, cfg.HasEntity("projects"))
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	cfg, err := LoadWithEnv("testdata/full.yaml", envMap(map[string]string{
		EnvDatabase:  "/tmp/override.db",
		EnvRemoteURL: "http://localhost:8080",
		EnvOffline:   "true",
		EnvUser:      "",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/override.db", cfg.Database)
	assert.Equal(t, "http://localhost:8080", cfg.Remote.BaseURL)
	assert.True(t, cfg.Autosave.OfflineEnabled())
	assert.Equal(t, "u1", cfg.User, "empty env value does not override")
}

func TestLoad_BadEnvBool(t *testing.T) {
	_, err := LoadWithEnv("", envMap(map[string]string{EnvOffline: "maybe"}))
	assert.ErrorContains(t, err, EnvOffline)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := LoadWithEnv(filepath.Join(t.TempDir(), "nope.yaml"), noEnv)
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestParse_EmptyFile(t *testing.T) {
	cfg, err := Parse("empty.yaml", []byte("\n"))
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "databse: x.db\n"},
		{"bad duration", "autosave:\n  debounce: soon\n"},
		{"bad remote url", "remote:\n  base_url: ftp://example.com\n"},
		{"bad socket url", "connectivity:\n  socket_url: http://example.com\n"},
		{"retries too low", "sync:\n  max_retries: 0\n"},
		{"reserved entity name", "entities:\n  - name: sessions\n"},
		{"negative rate", "remote:\n  rate_limit: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("bad.yaml", []byte(tt.yaml))
			require.Error(t, err)
			var se *SchemaError
			assert.True(t, errors.As(err, &se), "got %T: %v", err, err)
		})
	}
}

func TestParse_SchemaErrorHasPosition(t *testing.T) {
	_, err := Parse("pos.yaml", []byte("database: x.db\nsync:\n  max_retries: 0\n"))
	var se *SchemaError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "pos.yaml", se.File)
	assert.Equal(t, 3, se.Line)
}

func TestLoad_FileIsSchemaChecked(t *testing.T) {
	path := writeConfig(t, "autosave:\n  interval: forever\n")
	_, err := LoadWithEnv(path, noEnv)
	var se *SchemaError
	assert.True(t, errors.As(err, &se))
}

func TestValidate_EnvValuesStillChecked(t *testing.T) {
	_, err := LoadWithEnv("", envMap(map[string]string{EnvSocketURL: "http://not-a-socket"}))
	assert.ErrorContains(t, err, "socket_url")
}

func TestValidate_DuplicateEntities(t *testing.T) {
	cfg := Default()
	cfg.Entities = []store.Def{{Name: "scenes"}, {Name: "scenes"}}
	assert.ErrorContains(t, cfg.Validate(), "declared twice")
}
