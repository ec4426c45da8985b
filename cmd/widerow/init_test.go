package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"widerow/pkg/config"
)

func TestInitConfig_MissingFileUsesDefault(t *testing.T) {
	t.Setenv(envConfig, "")
	t.Setenv(envNodeAddr, "")
	t.Setenv(envZK, "")

	cfg, err := initConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestInitConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http-server:
  port: 9090
db:
  engine: pebble
  path: /tmp/widerow
cursor:
  page_size: 25
`), 0o644))

	t.Setenv(envConfig, path)
	t.Setenv(envNodeAddr, "node-1:9090")
	t.Setenv(envZK, "zk1:2181,zk2:2181")

	cfg, err := initConfig("ignored.yaml")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, config.EnginePebble, cfg.DB.Engine)
	assert.Equal(t, 25, cfg.Cursor.PageSize)
	assert.Equal(t, "node-1:9090", cfg.Cluster.NodeAddr)
	assert.Equal(t, []string{"zk1:2181", "zk2:2181"}, cfg.Cluster.ZKServers)
	assert.True(t, cfg.Cluster.Enabled)
}

func TestInitConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cursor:\n  page_size: 0\n"), 0o644))
	t.Setenv(envConfig, "")
	t.Setenv(envNodeAddr, "")
	t.Setenv(envZK, "")

	_, err := initConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cursor.page_size")
}

func TestInitLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	require.NoError(t, initLogger(config.LoggerConfig{Level: "warn", JSON: true}, &buf))
	slog.Info("hidden")
	slog.Warn("shown", "row", "r1")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"row":"r1"`)

	require.Error(t, initLogger(config.LoggerConfig{Level: "loud"}, &buf))
}

func TestOpenEngine(t *testing.T) {
	db, err := openEngine(config.DBConfig{Engine: config.EngineMemory, MaxEntryBytes: 1 << 10})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = openEngine(config.DBConfig{Engine: config.EnginePebble, Path: t.TempDir(), MaxEntryBytes: 1 << 10})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = openEngine(config.DBConfig{Engine: "rocks"})
	require.Error(t, err)
}

func TestSelfAddr(t *testing.T) {
	cfg := config.DefaultRaft(2, "http://b:8080")
	cfg.Peers = append(cfg.Peers, config.RaftPeerConfig{ID: 1, Address: "http://a:8080"})
	assert.Equal(t, "http://b:8080", selfAddr(cfg))
	cfg.ID = 3
	assert.Empty(t, selfAddr(cfg))
}
