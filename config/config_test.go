package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("ROLLCALL_STORE", "")
	os.Unsetenv("ROLLCALL_STORE")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, ":3001", cfg.Addr)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, "./data.db", cfg.SQLitePath)
	assert.Equal(t, 5*time.Second, cfg.LockTTL)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("ROLLCALL_STORE", "redis")
	t.Setenv("ROLLCALL_REDIS_ADDR", "cache:6380")
	t.Setenv("ROLLCALL_REDIS_DB", "8")
	t.Setenv("ROLLCALL_LOCK_TTL", "2s")
	t.Setenv("ROLLCALL_CORS_ORIGINS", "http://localhost:5173,https://kids.example")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, StoreRedis, cfg.Store)
	assert.Equal(t, "cache:6380", cfg.RedisAddr)
	assert.Equal(t, 8, cfg.RedisDB)
	assert.Equal(t, 2*time.Second, cfg.LockTTL)
	assert.Equal(t, []string{"http://localhost:5173", "https://kids.example"}, cfg.CORSOrigins)
}

func TestParseRejectsUnknownStore(t *testing.T) {
	t.Setenv("ROLLCALL_STORE", "mongo")

	_, err := Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store")
}

func TestLoadReadsEnvFile(t *testing.T) {
	t.Setenv("ROLLCALL_ADDR", "")
	os.Unsetenv("ROLLCALL_ADDR")
	t.Setenv("ROLLCALL_SQLITE_PATH", "")
	os.Unsetenv("ROLLCALL_SQLITE_PATH")

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("ROLLCALL_ADDR=:9999\nROLLCALL_SQLITE_PATH=/tmp/kids.db\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("ROLLCALL_ADDR")
		os.Unsetenv("ROLLCALL_SQLITE_PATH")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, "/tmp/kids.db", cfg.SQLitePath)
}

func TestLoadRejectsMissingNamedFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLoadToleratesMissingDefaultFile(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	_, err = Load()
	require.NoError(t, err)
}
