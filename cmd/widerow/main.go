package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	whttp "widerow/internal/http"
	"widerow/pkg/cluster"
	"widerow/pkg/config"
	"widerow/pkg/family"
	"widerow/pkg/metrics"
	"widerow/pkg/persistence"
	"widerow/pkg/raftadapter"
	"widerow/pkg/rpc"
	"widerow/pkg/store"
)

const familyName = "default"

type engine interface {
	family.Family
	io.Closer
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the YAML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("widerow failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := initConfig(configPath)
	if err != nil {
		return err
	}
	if err := initLogger(cfg.Logger, os.Stdout); err != nil {
		return err
	}

	db, err := openEngine(cfg.DB)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("failed to close engine", "error", err)
		}
	}()
	slog.Info("engine opened", "engine", cfg.DB.Engine, "path", cfg.DB.Path)

	g, gctx := errgroup.WithContext(ctx)

	var (
		served     family.Family = db
		serverOpts []whttp.Option
	)

	if cfg.Raft != nil {
		node, err := raftadapter.NewNode(cfg.Raft, db)
		if err != nil {
			return fmt.Errorf("init raft node: %w", err)
		}
		defer node.Stop()

		g.Go(func() error {
			if err := node.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("raft node: %w", err)
			}
			return nil
		})
		served = raftadapter.NewReplicated(db, node)
		serverOpts = append(serverOpts, whttp.WithRaft(node))
		if addr := selfAddr(cfg.Raft); addr != "" {
			serverOpts = append(serverOpts, whttp.WithURL(addr))
		}
		slog.Info("raft enabled", "id", cfg.Raft.ID, "peers", len(cfg.Raft.Peers))
	}

	if cfg.Cluster.Enabled {
		membership, err := cluster.NewZKMembership(cfg.Cluster.ZKServers, cfg.Cluster.RootPath,
			cfg.Cluster.NodeAddr, cfg.Cluster.SessionTimeout)
		if err != nil {
			return fmt.Errorf("connect to zookeeper: %w", err)
		}
		defer membership.Close()

		if err := membership.RegisterSelf(ctx); err != nil {
			return fmt.Errorf("register in zookeeper: %w", err)
		}
		ring, err := membership.BuildRing(cfg.Cluster.Replicas)
		if err != nil {
			return fmt.Errorf("build ring: %w", err)
		}
		slog.Info("initial ring", "nodes", ring.ListNodes())

		timeout := cfg.Client.Timeout
		router := cluster.NewRouter(cfg.Cluster.NodeAddr, served, ring, func(target string) (family.Family, error) {
			return rpc.NewClient("http://"+target, rpc.WithTimeout(timeout)), nil
		})
		g.Go(func() error {
			return membership.Watch(gctx, router, cfg.Cluster.Replicas)
		})
		served = router
	}

	m := metrics.New()
	cf := family.New(familyName, served,
		family.WithPageSize(cfg.Cursor.PageSize),
		family.WithRetry(cfg.Cursor.Retries, cfg.Cursor.RetryBackoff))

	server := whttp.NewServer(cf, cfg.Server, append(serverOpts, whttp.WithMetrics(m))...)
	if err := server.Start(); err != nil {
		return err
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		return server.Stop()
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("widerow stopped")
	return nil
}

func openEngine(cfg config.DBConfig) (engine, error) {
	switch cfg.Engine {
	case config.EnginePebble:
		db, err := persistence.Open(cfg.Path, persistence.Options{MaxEntryBytes: cfg.MaxEntryBytes})
		if err != nil {
			return nil, err
		}
		return db, nil
	case config.EngineMemory:
		// no path: nothing survives a restart
		if cfg.Path == "" {
			return store.New(), nil
		}
		db, err := store.Open(cfg.Path, cfg.MaxEntryBytes)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
	}
}

func selfAddr(cfg *config.RaftConfig) string {
	for _, p := range cfg.Peers {
		if p.ID == cfg.ID {
			return p.Address
		}
	}
	return ""
}
