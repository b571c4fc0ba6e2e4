// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/anvil/internal/audit"
	"github.com/forgeworks/anvil/internal/config"
	"github.com/forgeworks/anvil/internal/core"
	"github.com/forgeworks/anvil/internal/enchant"
	"github.com/forgeworks/anvil/internal/inventory"
	"github.com/forgeworks/anvil/internal/observability"
	"github.com/forgeworks/anvil/internal/player"
)

// testConfig is a valid configuration pointing at the test catalog.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Catalog.Path = "testdata/catalog.yaml"
	cfg.Audit.WALPath = filepath.Join(t.TempDir(), "audit-wal.jsonl")
	cfg.Metrics.Addr = "127.0.0.1:0"
	return cfg
}

// fakeObservability records how serve drives its observability server.
type fakeObservability struct {
	mu         sync.Mutex
	ready      observability.ReadinessChecker
	registrars int
	started    bool
	stopped    bool
	startErr   error
	errCh      chan error
}

func (f *fakeObservability) factory(_ string, ready observability.ReadinessChecker, registrars ...observability.Registrar) ObservabilityServer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = ready
	f.registrars = len(registrars)
	f.errCh = make(chan error, 1)
	return f
}

func (f *fakeObservability) Start() (<-chan error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = true
	return f.errCh, nil
}

func (f *fakeObservability) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeObservability) Addr() string { return "fake" }

func (f *fakeObservability) isReady() bool {
	f.mu.Lock()
	ready := f.ready
	f.mu.Unlock()
	return ready != nil && ready()
}

func noPool(context.Context, *config.Config) (*pgxpool.Pool, error) { return nil, nil }

func TestRunServe_StartsAndShutsDown(t *testing.T) {
	isolateEnv(t)
	cfg := testConfig(t)
	obs := &fakeObservability{}
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runServeWithDeps(ctx, cfg, cmd, &ServeDeps{
			PoolOpener:                 noPool,
			ObservabilityServerFactory: obs.factory,
			WALReplayInterval:          10 * time.Millisecond,
		})
	}()

	require.Eventually(t, obs.isReady, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, obs.registrars, "enchant and audit metrics")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not shut down")
	}
	assert.True(t, obs.stopped)
	assert.False(t, obs.isReady(), "not ready after shutdown")
}

func TestRunServe_ObservabilityErrorTriggersShutdown(t *testing.T) {
	isolateEnv(t)
	cfg := testConfig(t)
	obs := &fakeObservability{}

	done := make(chan error, 1)
	go func() {
		done <- runServeWithDeps(context.Background(), cfg, &cobra.Command{}, &ServeDeps{
			PoolOpener:                 noPool,
			ObservabilityServerFactory: obs.factory,
		})
	}()
	require.Eventually(t, obs.isReady, 5*time.Second, 10*time.Millisecond)

	obs.mu.Lock()
	obs.errCh <- errors.New("listener died")
	obs.mu.Unlock()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve ignored the observability failure")
	}
}

func TestRunServe_Failures(t *testing.T) {
	t.Run("catalog missing", func(t *testing.T) {
		isolateEnv(t)
		cfg := testConfig(t)
		cfg.Catalog.Path = filepath.Join(t.TempDir(), "missing.yaml")
		err := runServeWithDeps(context.Background(), cfg, &cobra.Command{}, &ServeDeps{PoolOpener: noPool})
		require.Error(t, err)
	})

	t.Run("database unreachable", func(t *testing.T) {
		isolateEnv(t)
		cfg := testConfig(t)
		err := runServeWithDeps(context.Background(), cfg, &cobra.Command{}, &ServeDeps{
			PoolOpener: func(context.Context, *config.Config) (*pgxpool.Pool, error) {
				return nil, errors.New("connection refused")
			},
		})
		require.Error(t, err)
	})

	t.Run("observability start fails", func(t *testing.T) {
		isolateEnv(t)
		cfg := testConfig(t)
		obs := &fakeObservability{startErr: errors.New("address in use")}
		err := runServeWithDeps(context.Background(), cfg, &cobra.Command{}, &ServeDeps{
			PoolOpener:                 noPool,
			ObservabilityServerFactory: obs.factory,
		})
		require.Error(t, err)
	})
}

func TestNewNode_InMemoryEngineSettles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Enchant.MinCommitInterval = 0
	c := loadTestCatalog(t)

	var recorded []audit.Entry
	var mu sync.Mutex
	sink := audit.SinkFunc(func(_ context.Context, e audit.Entry) error {
		mu.Lock()
		defer mu.Unlock()
		recorded = append(recorded, e)
		return nil
	})

	node, err := newNode(cfg, c, nil, sink)
	require.NoError(t, err)
	t.Cleanup(node.Broadcaster.Close)

	ctx := context.Background()
	pid, conn := core.NewULID(), core.NewULID()
	node.Players.Connect(pid, conn, player.Provenance{Name: "Aria"})
	results := node.Broadcaster.Subscribe(core.PlayerStream(pid))

	sword := &inventory.Item{OwnerID: pid, TemplateID: 100, Enchantable: true, Count: 1, Crystals: 10}
	require.NoError(t, node.Store.Create(ctx, sword))
	scroll, err := node.Store.AddStack(ctx, pid, 955, 2)
	require.NoError(t, err)

	_, err = node.Engine.Select(ctx, pid, sword.ID, scroll.ID)
	require.NoError(t, err)
	res, err := node.Engine.Commit(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, enchant.ResultSuccess, res.Code)
	assert.Equal(t, 1, res.Level)

	var sawResult bool
	for !sawResult {
		select {
		case ev := <-results:
			sawResult = ev.Type == core.EventTypeEnchantResult
		case <-time.After(time.Second):
			t.Fatal("no result event")
		}
	}
	mu.Lock()
	assert.Len(t, recorded, 1)
	mu.Unlock()

	// Dropping the last connection discards a pending request.
	_, err = node.Engine.Select(ctx, pid, sword.ID, scroll.ID)
	require.NoError(t, err)
	node.Players.Disconnect(pid, conn)
	assert.Zero(t, node.Engine.Requests().Len())
}
