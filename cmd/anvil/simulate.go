// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/forgeworks/anvil/internal/catalog"
	"github.com/forgeworks/anvil/internal/core"
	"github.com/forgeworks/anvil/internal/enchant"
	"github.com/forgeworks/anvil/internal/inventory"
	"github.com/forgeworks/anvil/internal/itemlock"
	"github.com/forgeworks/anvil/internal/player"
	"github.com/forgeworks/anvil/pkg/errutil"
)

// simOptions describes one simulation run.
type simOptions struct {
	Item     catalog.TemplateID
	Scroll   catalog.TemplateID
	Support  catalog.TemplateID
	Level    int
	Equipped bool
	Attempts int
	Seed     uint64
}

// simReport tallies a simulation run.
type simReport struct {
	Attempts int
	// Codes counts results by result code, or by error code when a commit
	// was rejected.
	Codes map[string]int
	// Levels counts the item level after each successful attempt.
	Levels  map[int]int
	Refunds int64
}

// NewSimulateCmd creates the simulate subcommand.
func NewSimulateCmd() *cobra.Command {
	var (
		opts                  simOptions
		item, scroll, support int32
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run enchant attempts against an in-memory inventory",
		Long: `Runs attempts through the full engine (validation, resolution and
settlement) against a throwaway in-memory inventory and reports the
outcome distribution. Use it to balance chance groups before shipping
a catalog.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c, err := catalog.Load(cfg.Catalog.Path, catalog.WithScriptTimeout(cfg.Catalog.ScriptTimeout))
			if err != nil {
				return err
			}
			defer c.Close()

			opts.Item = catalog.TemplateID(item)
			opts.Scroll = catalog.TemplateID(scroll)
			opts.Support = catalog.TemplateID(support)
			if opts.Seed == 0 {
				opts.Seed = rand.Uint64()
			}

			report, err := runSimulation(cmd.Context(), c, cfg.Enchant.Engine(), cfg.Enchant.LockTimeout, opts)
			if err != nil {
				return err
			}
			return report.print(cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().Int32Var(&item, "item", 0, "item template id (required)")
	cmd.Flags().Int32Var(&scroll, "scroll", 0, "scroll template id (required)")
	cmd.Flags().Int32Var(&support, "support", 0, "support template id")
	cmd.Flags().IntVar(&opts.Level, "level", 0, "starting enchant level of each item")
	cmd.Flags().BoolVar(&opts.Equipped, "equipped", false, "simulate equipped items")
	cmd.Flags().IntVar(&opts.Attempts, "attempts", 1000, "number of attempts")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "random seed (0 = random)")
	_ = cmd.MarkFlagRequired("item")   //nolint:errcheck // flag is defined above
	_ = cmd.MarkFlagRequired("scroll") //nolint:errcheck // flag is defined above

	return cmd
}

// runSimulation settles opts.Attempts fresh items, one at a time.
func runSimulation(ctx context.Context, c *catalog.Catalog, cfg enchant.Config, lockTimeout time.Duration, opts simOptions) (*simReport, error) {
	if opts.Attempts <= 0 {
		return nil, oops.Code("INVALID_ARGUMENT").With("attempts", opts.Attempts).Errorf("attempts must be positive")
	}
	tmpl, ok := c.Item(opts.Item)
	if !ok {
		return nil, oops.Code("INVALID_ARGUMENT").With("item", opts.Item).Errorf("unknown item template %d", opts.Item)
	}
	if _, ok := c.Scroll(opts.Scroll); !ok {
		return nil, oops.Code("INVALID_ARGUMENT").With("scroll", opts.Scroll).Errorf("unknown scroll template %d", opts.Scroll)
	}
	if opts.Support != 0 {
		if _, ok := c.Support(opts.Support); !ok {
			return nil, oops.Code("INVALID_ARGUMENT").With("support", opts.Support).Errorf("unknown support template %d", opts.Support)
		}
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := inventory.NewMemoryStore()
	players := player.NewRegistry(quiet)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg.Punishment = player.PunishNone

	eng, err := enchant.New(cfg, enchant.Deps{
		Catalog:    c,
		Store:      store,
		Transactor: store,
		Players:    players,
		Skills:     players,
		Locks:      itemlock.NewRegistry(itemlock.WithTimeout(lockTimeout), itemlock.WithWaitObserver(enchant.ObserveLockWait)),
		Rand:       rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)), //nolint:gosec // simulation only
		Clock:      func() time.Time { return now },
		Logger:     quiet,
	})
	if err != nil {
		return nil, err
	}

	pid := core.NewULID()
	players.Connect(pid, core.NewULID(), player.Provenance{Name: "simulator", Account: "simulator"})

	report := &simReport{Codes: make(map[string]int), Levels: make(map[int]int)}
	for range opts.Attempts {
		itemID, err := simAttempt(ctx, eng, store, pid, tmpl, opts, func() { now = now.Add(cfg.MinCommitInterval + time.Millisecond) }, report)
		if err != nil {
			return nil, err
		}
		if it, _ := store.Get(ctx, itemID); it != nil {
			if err := store.Destroy(ctx, pid, itemID); err != nil {
				return nil, err
			}
		}
		report.Attempts++
	}
	return report, nil
}

func simAttempt(ctx context.Context, eng *enchant.Engine, store *inventory.MemoryStore, pid ulid.ULID,
	tmpl *catalog.ItemTemplate, opts simOptions, wait func(), report *simReport,
) (ulid.ULID, error) {
	item := &inventory.Item{
		OwnerID:      pid,
		TemplateID:   tmpl.ID,
		EnchantLevel: opts.Level,
		Enchantable:  tmpl.Kind != catalog.KindEtc,
		Count:        1,
		Crystals:     tmpl.CrystalCountAt(opts.Level),
		Equipped:     opts.Equipped,
	}
	if opts.Equipped {
		item.Slot = "simulated"
	}
	if err := store.Create(ctx, item); err != nil {
		return ulid.ULID{}, err
	}
	scroll, err := store.AddStack(ctx, pid, opts.Scroll, 1)
	if err != nil {
		return ulid.ULID{}, err
	}

	if _, err := eng.Select(ctx, pid, item.ID, scroll.ID); err != nil {
		return ulid.ULID{}, err
	}
	if opts.Support != 0 {
		sup, err := store.AddStack(ctx, pid, opts.Support, 1)
		if err != nil {
			return ulid.ULID{}, err
		}
		if err := eng.AttachSupport(pid, sup.ID); err != nil {
			return ulid.ULID{}, err
		}
	}
	wait()

	res, err := eng.Commit(ctx, pid)
	key := string(res.Code)
	if err != nil && key == "" {
		key = errutil.Code(err)
	}
	report.Codes[key]++
	if res.Code == enchant.ResultSuccess {
		report.Levels[res.Level]++
	}
	if res.Refund != nil {
		report.Refunds += res.Refund.Count
	}
	return item.ID, nil
}

func (r *simReport) print(w io.Writer, opts simOptions) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "attempts\t%d\t(item %d +%d, scroll %d, support %d, seed %d)\n",
		r.Attempts, opts.Item, opts.Level, opts.Scroll, opts.Support, opts.Seed)

	codes := make([]string, 0, len(r.Codes))
	for code := range r.Codes {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		n := r.Codes[code]
		fmt.Fprintf(tw, "%s\t%d\t%.2f%%\n", code, n, 100*float64(n)/float64(r.Attempts))
	}

	levels := make([]int, 0, len(r.Levels))
	for lvl := range r.Levels {
		levels = append(levels, lvl)
	}
	slices.Sort(levels)
	for _, lvl := range levels {
		fmt.Fprintf(tw, "  -> +%d\t%d\t\n", lvl, r.Levels[lvl])
	}
	if r.Refunds > 0 {
		fmt.Fprintf(tw, "refunded crystals\t%d\t\n", r.Refunds)
	}
	if err := tw.Flush(); err != nil {
		return oops.With("operation", "write simulation report").Wrap(err)
	}
	return nil
}
