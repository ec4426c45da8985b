package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	EngineMemory = "memory"
	EnginePebble = "pebble"
)

// Config - root configuration of a node, loaded from YAML.
// validate tags document the limits Validate enforces.
type Config struct {
	Logger  LoggerConfig  `yaml:"logger" validate:"required"`
	Server  ServerConfig  `yaml:"http-server" validate:"required"`
	DB      DBConfig      `yaml:"db" validate:"required"`
	Cursor  CursorConfig  `yaml:"cursor"`
	Client  ClientConfig  `yaml:"client"`
	Cluster ClusterConfig `yaml:"cluster"`
	Raft    *RaftConfig   `yaml:"raft,omitempty"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	JSON  bool   `yaml:"json"`
}

type ServerConfig struct {
	Port              int           `yaml:"port" validate:"required,min=1,max=65535"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type DBConfig struct {
	Engine        string `yaml:"engine" validate:"oneof=memory pebble"`
	Path          string `yaml:"path"`
	MaxEntryBytes int    `yaml:"max_entry_bytes" validate:"min=1"`
}

// CursorConfig holds defaults for column traversals.
type CursorConfig struct {
	PageSize     int           `yaml:"page_size" validate:"min=1"`
	Retries      int           `yaml:"retries" validate:"min=0"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

type ClientConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ClusterConfig enables row sharding over ZooKeeper membership.
type ClusterConfig struct {
	Enabled        bool          `yaml:"enabled"`
	NodeAddr       string        `yaml:"node_addr"`
	ZKServers      []string      `yaml:"zk_servers"`
	RootPath       string        `yaml:"root_path"`
	Replicas       int           `yaml:"ring_replicas" validate:"min=1"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

type RaftPeerConfig struct {
	ID      uint64 `yaml:"id"`
	Address string `yaml:"address"`
}

type RaftConfig struct {
	ID                        uint64           `yaml:"id" validate:"required"`
	ElectionTick              int              `yaml:"election_tick"`
	HeartbeatTick             int              `yaml:"heartbeat_tick"`
	TickInterval              time.Duration    `yaml:"tick_interval"`
	MaxSizePerMsg             uint64           `yaml:"max_size_per_msg"`
	MaxCommittedSizePerReady  uint64           `yaml:"max_committed_size_per_ready"`
	MaxUncommittedEntriesSize uint64           `yaml:"max_uncommitted_entries_size"`
	MaxInflightMsgs           int              `yaml:"max_inflight_msgs"`
	CheckQuorum               bool             `yaml:"check_quorum"`
	PreVote                   bool             `yaml:"pre_vote"`
	Peers                     []RaftPeerConfig `yaml:"peers"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
		DB: DBConfig{
			Engine:        EngineMemory,
			Path:          "./data",
			MaxEntryBytes: 1 << 20,
		},
		Cursor: CursorConfig{
			PageSize:     100,
			RetryBackoff: 100 * time.Millisecond,
		},
		Client: ClientConfig{
			Timeout: 3 * time.Second,
		},
		Cluster: ClusterConfig{
			RootPath:       "/widerow",
			Replicas:       100,
			SessionTimeout: 5 * time.Second,
		},
	}
}

// DefaultRaft returns raft settings for a single node with the given id.
func DefaultRaft(id uint64, addr string) *RaftConfig {
	return &RaftConfig{
		ID:                        id,
		ElectionTick:              10,
		HeartbeatTick:             1,
		TickInterval:              100 * time.Millisecond,
		MaxSizePerMsg:             1024 * 1024,
		MaxCommittedSizePerReady:  4 * 1024 * 1024,
		MaxUncommittedEntriesSize: 1 << 30,
		MaxInflightMsgs:           256,
		CheckQuorum:               true,
		PreVote:                   true,
		Peers:                     []RaftPeerConfig{{ID: id, Address: addr}},
	}
}

// SlogLevel maps the configured level name to a slog.Level.
func (c LoggerConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(c.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("logger level: %w", err)
	}
	return lvl, nil
}

// Validate checks the limits documented in the validate tags.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Logger.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("http-server.port out of range: %d", c.Server.Port))
	}
	switch c.DB.Engine {
	case EngineMemory:
	case EnginePebble:
		if c.DB.Path == "" {
			errs = append(errs, errors.New("db.path is required for the pebble engine"))
		}
	default:
		errs = append(errs, fmt.Errorf("db.engine must be %q or %q, got %q", EngineMemory, EnginePebble, c.DB.Engine))
	}
	if c.DB.MaxEntryBytes < 1 {
		errs = append(errs, fmt.Errorf("db.max_entry_bytes must be positive: %d", c.DB.MaxEntryBytes))
	}
	if c.Cursor.PageSize < 1 {
		errs = append(errs, fmt.Errorf("cursor.page_size must be positive: %d", c.Cursor.PageSize))
	}
	if c.Cursor.Retries < 0 {
		errs = append(errs, fmt.Errorf("cursor.retries must not be negative: %d", c.Cursor.Retries))
	}
	if c.Cluster.Enabled {
		if c.Cluster.NodeAddr == "" {
			errs = append(errs, errors.New("cluster.node_addr is required when clustering is enabled"))
		}
		if len(c.Cluster.ZKServers) == 0 {
			errs = append(errs, errors.New("cluster.zk_servers is required when clustering is enabled"))
		}
		if c.Cluster.Replicas < 1 {
			errs = append(errs, fmt.Errorf("cluster.ring_replicas must be positive: %d", c.Cluster.Replicas))
		}
	}
	if c.Raft != nil {
		if c.Raft.ID == 0 {
			errs = append(errs, errors.New("raft.id must be non-zero"))
		}
		if len(c.Raft.Peers) == 0 {
			errs = append(errs, errors.New("raft.peers must list at least this node"))
		}
	}
	return errors.Join(errs...)
}
