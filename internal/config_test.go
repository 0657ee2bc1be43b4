package internal_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/seabattle/internal"
)

// TestLoadConfig_Defaults 測試檔案不存在時落在預設值
func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := internal.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, time.Hour, cfg.Game.RoomTTL.Std())
	assert.Equal(t, 5, cfg.Game.ReadyFieldCount)
	assert.Equal(t, 20, cfg.Game.FleetCells)
}

// TestLoadConfig_File 測試 yaml 覆蓋與時長字串解析
func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
  read_timeout: 30s
game:
  room_ttl: 2h
  fleet_cells: 17
`), 0o644))

	cfg, err := internal.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout.Std())
	assert.Equal(t, 2*time.Hour, cfg.Game.RoomTTL.Std())
	assert.Equal(t, 17, cfg.Game.FleetCells)
	// 沒寫的欄位保持預設
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5, cfg.Game.ReadyFieldCount)
}

// TestLoadConfig_BadDuration 測試非法時長字串報錯
func TestLoadConfig_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  read_timeout: fast\n"), 0o644))

	_, err := internal.LoadConfig(path)
	require.Error(t, err)
}

// TestLoadConfig_EnvOverride 測試環境變數優先於檔案
func TestLoadConfig_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redis:\n  addr: file:6379\n"), 0o644))

	t.Setenv("REDIS_ADDR", "env:6379")
	t.Setenv("NATS_URL", "nats://env:4222")
	t.Setenv("AUTH_SECRET", "env-secret")

	cfg, err := internal.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "env:6379", cfg.Redis.Addr)
	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	assert.Equal(t, "env-secret", cfg.Auth.Secret)
}
