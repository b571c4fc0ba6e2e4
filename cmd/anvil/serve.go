// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/forgeworks/anvil/internal/audit"
	"github.com/forgeworks/anvil/internal/catalog"
	"github.com/forgeworks/anvil/internal/config"
	"github.com/forgeworks/anvil/internal/core"
	"github.com/forgeworks/anvil/internal/enchant"
	"github.com/forgeworks/anvil/internal/inventory"
	inventorypg "github.com/forgeworks/anvil/internal/inventory/postgres"
	"github.com/forgeworks/anvil/internal/itemlock"
	"github.com/forgeworks/anvil/internal/player"
)

// walReplayInterval is how often serve retries entries parked in the audit WAL.
const walReplayInterval = time.Minute

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the enchant engine",
		Long: `Loads the configuration and catalog, connects the inventory (PostgreSQL
when a database url is set, in-memory otherwise), wires the enchant
engine with its audit log and serves metrics and health probes until
SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
}

// Node is a wired enchant engine and its collaborators.
type Node struct {
	Engine      *enchant.Engine
	Store       inventory.Store
	Players     *player.Registry
	Broadcaster *core.Broadcaster
}

// runServeWithDeps runs the engine until ctx ends or a signal arrives.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	c, err := catalog.Load(cfg.Catalog.Path, catalog.WithScriptTimeout(cfg.Catalog.ScriptTimeout))
	if err != nil {
		return err
	}
	defer c.Close()
	st := c.Stats()
	slog.Info("catalog loaded", "path", cfg.Catalog.Path,
		"items", st.Items, "scrolls", st.Scrolls, "supports", st.Supports)

	pool, err := deps.PoolOpener(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
		slog.Info("connected to database")
	} else {
		slog.Warn("no database url configured; using an in-memory inventory")
	}

	writer, err := openAuditWriter(cfg, pool, slog.Default())
	if err != nil {
		return err
	}
	lcfg := cfg.Audit.LoggerConfig()
	lcfg.Logger = slog.Default()
	auditLog := audit.NewLogger(lcfg, writer)
	defer func() {
		if closeErr := auditLog.Close(); closeErr != nil {
			slog.Warn("error closing audit log", "error", closeErr)
		}
	}()

	node, err := newNode(cfg, c, pool, auditLog)
	if err != nil {
		return err
	}
	defer node.Broadcaster.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ready atomic.Bool
	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, ready.Load,
			enchant.RegisterMetrics, audit.RegisterMetrics)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return err
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		logAnnouncements(ctx, node.Broadcaster)
	}()
	go func() {
		defer wg.Done()
		replayWALPeriodically(ctx, auditLog, deps.WALReplayInterval)
	}()

	ready.Store(true)
	cmd.Println("Enchant engine started")
	slog.Info("enchant engine ready",
		"min_commit_interval", cfg.Enchant.MinCommitInterval,
		"punishment", cfg.Enchant.Punishment,
		"audit_sink", cfg.Audit.Sink,
	)

	<-ctx.Done()
	ready.Store(false)
	slog.Info("shutting down...")
	cancel()
	wg.Wait()

	if obsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

// newNode wires an engine over the postgres inventory when pool is set,
// and over an in-memory inventory otherwise.
func newNode(cfg *config.Config, c *catalog.Catalog, pool *pgxpool.Pool, sink audit.Sink) (*Node, error) {
	var (
		store inventory.Store
		tx    inventory.Transactor
	)
	if pool != nil {
		store, tx = inventorypg.NewStore(pool), inventorypg.NewTransactor(pool)
	} else {
		mem := inventory.NewMemoryStore()
		store, tx = mem, mem
	}

	players := player.NewRegistry(slog.Default())
	broadcaster := core.NewBroadcaster()
	eng, err := enchant.New(cfg.Enchant.Engine(), enchant.Deps{
		Catalog:    c,
		Store:      store,
		Transactor: tx,
		Players:    players,
		Skills:     players,
		Punisher:   players,
		Locks: itemlock.NewRegistry(
			itemlock.WithTimeout(cfg.Enchant.LockTimeout),
			itemlock.WithWaitObserver(enchant.ObserveLockWait),
		),
		Events: broadcaster,
		Audit:  sink,
		Logger: slog.Default(),
	})
	if err != nil {
		broadcaster.Close()
		return nil, err
	}
	players.OnDetach = eng.Disconnect

	return &Node{Engine: eng, Store: store, Players: players, Broadcaster: broadcaster}, nil
}

// logAnnouncements logs world-stream announcements until ctx ends.
func logAnnouncements(ctx context.Context, b *core.Broadcaster) {
	ch := b.Subscribe(core.StreamWorld)
	defer b.Unsubscribe(core.StreamWorld, ch)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			slog.Info("world announcement", "event_type", ev.Type, "actor", ev.Actor.ID, "payload", string(ev.Payload))
		case <-ctx.Done():
			return
		}
	}
}

// replayWALPeriodically retries WAL entries every interval until ctx ends.
func replayWALPeriodically(ctx context.Context, l *audit.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := l.ReplayWAL(ctx)
			if err != nil {
				slog.Warn("audit WAL replay failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("replayed audit WAL", "entries", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// monitorServerErrors cancels the context when a server reports an error.
// It exits when either an error is received, the channel is closed, or the
// context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
