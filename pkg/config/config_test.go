package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestParse(t *testing.T) {
	data := []byte(`
logger:
  level: debug
  json: true
http-server:
  port: 9090
db:
  engine: pebble
  path: /var/lib/widerow
cursor:
  page_size: 250
  retries: 2
  retry_backoff: 50ms
cluster:
  enabled: true
  node_addr: node1:9090
  zk_servers: [zk1:2181, zk2:2181]
raft:
  id: 1
  peers:
    - id: 1
      address: http://node1:9090
`)
	cfg, err := Parse(data)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	lvl, err := cfg.Logger.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
	assert.True(t, cfg.Logger.JSON)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, EnginePebble, cfg.DB.Engine)
	assert.Equal(t, 250, cfg.Cursor.PageSize)
	assert.Equal(t, 50*time.Millisecond, cfg.Cursor.RetryBackoff)
	assert.Equal(t, []string{"zk1:2181", "zk2:2181"}, cfg.Cluster.ZKServers)
	require.NotNil(t, cfg.Raft)
	assert.Equal(t, uint64(1), cfg.Raft.ID)

	// untouched keys keep defaults
	assert.Equal(t, 1<<20, cfg.DB.MaxEntryBytes)
	assert.Equal(t, "/widerow", cfg.Cluster.RootPath)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.Cursor.PageSize = 0
	cfg.DB.Engine = "rocks"
	cfg.Logger.Level = "loud"
	cfg.Cluster.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	for _, part := range []string{"port", "page_size", "db.engine", "logger level", "node_addr", "zk_servers"} {
		assert.Contains(t, err.Error(), part)
	}
}
