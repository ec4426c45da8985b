package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"widerow/pkg/config"
)

const (
	envConfig   = "WIDEROW_CONFIG"
	envNodeAddr = "WIDEROW_NODE_ADDR"
	envZK       = "ZK_SERVERS"

	defaultConfigPath = "config.yaml"
)

// initConfig loads the YAML config at path. A missing file means config.Default().
// Environment variables override the file.
func initConfig(path string) (config.Config, error) {
	if v := os.Getenv(envConfig); v != "" {
		path = v
	}

	cfg := config.Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Info("config file not found, using default config", "path", path)
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if cfg, err = config.Parse(data); err != nil {
			return cfg, err
		}
	}

	if v := os.Getenv(envNodeAddr); v != "" {
		cfg.Cluster.NodeAddr = v
	}
	if v := os.Getenv(envZK); v != "" {
		cfg.Cluster.ZKServers = strings.Split(v, ",")
		cfg.Cluster.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// initLogger sets the default slog.Logger (JSON or text).
func initLogger(cfg config.LoggerConfig, w io.Writer) error {
	lvl, err := cfg.SlogLevel()
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{AddSource: true, Level: lvl}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", "level", lvl, "json", cfg.JSON)
	return nil
}
