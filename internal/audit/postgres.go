// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/forgeworks/anvil/internal/core"
)

const insertEntrySQL = `
	INSERT INTO enchant_audit_log (
		id, recorded_at, player_id, player_name, account, remote_addr,
		label, outcome, error_code, item_id, item_template_id, item_name,
		level_before, level_after, scroll_id, scroll_template_id,
		support_id, support_template_id, refund_item_id, refund_count,
		suspected_cheat, details
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
	          $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	ON CONFLICT (id) DO NOTHING
`

// poolIface is the subset of *pgxpool.Pool the writer uses.
type poolIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresWriter writes entries to enchant_audit_log. Async writes are
// batched into one transaction per flush.
type PostgresWriter struct {
	pool        poolIface
	log         *slog.Logger
	asyncChan   chan Entry
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	batchSize   int
	flushPeriod time.Duration
}

// PostgresOption configures a PostgresWriter.
type PostgresOption func(*PostgresWriter)

// WithWriterLogger sets the logger used for batch failures.
func WithWriterLogger(l *slog.Logger) PostgresOption {
	return func(w *PostgresWriter) {
		if l != nil {
			w.log = l
		}
	}
}

// WithBatch sets the batch size and flush period for async writes.
func WithBatch(size int, period time.Duration) PostgresOption {
	return func(w *PostgresWriter) {
		if size > 0 {
			w.batchSize = size
		}
		if period > 0 {
			w.flushPeriod = period
		}
	}
}

// NewPostgresWriter starts a PostgresWriter over pool.
func NewPostgresWriter(pool poolIface, opts ...PostgresOption) *PostgresWriter {
	w := &PostgresWriter{
		pool:        pool,
		log:         slog.Default(),
		asyncChan:   make(chan Entry, 1000),
		stopChan:    make(chan struct{}),
		batchSize:   100,
		flushPeriod: time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.wg.Add(1)
	go w.batchConsumer()
	return w
}

func entryArgs(e Entry) ([]any, error) {
	if e.ID == "" {
		e.ID = core.NewULID().String()
	}
	var details []byte
	if len(e.Details) > 0 {
		var err error
		if details, err = json.Marshal(e.Details); err != nil {
			return nil, oops.With("entry_id", e.ID).Wrap(err)
		}
	}
	var (
		itemID, scrollID, supportID       *string
		itemTmpl, scrollTmpl, supportTmpl *int32
		levelBefore, levelAfter           *int32
		refundItem                        *int32
		itemName                          string
	)
	if e.Item != nil {
		itemID, itemTmpl, itemName = &e.Item.ID, &e.Item.TemplateID, e.Item.Name
		lb := int32(e.Item.Level) //nolint:gosec // levels are small
		levelBefore = &lb
	}
	if e.LevelAfter != nil {
		la := int32(*e.LevelAfter) //nolint:gosec // levels are small
		levelAfter = &la
	}
	if e.Scroll != nil {
		scrollID, scrollTmpl = &e.Scroll.ID, &e.Scroll.TemplateID
	}
	if e.Support != nil {
		supportID, supportTmpl = &e.Support.ID, &e.Support.TemplateID
	}
	if e.RefundItemID != 0 {
		refundItem = &e.RefundItemID
	}
	return []any{
		e.ID, e.Timestamp, e.PlayerID, e.PlayerName, e.Account, e.RemoteAddr,
		e.Label, e.Outcome, e.ErrorCode, itemID, itemTmpl, itemName,
		levelBefore, levelAfter, scrollID, scrollTmpl,
		supportID, supportTmpl, refundItem, e.RefundCount,
		e.SuspectedCheat, details,
	}, nil
}

func insertEntry(ctx context.Context, q execer, e Entry) error {
	args, err := entryArgs(e)
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx, insertEntrySQL, args...); err != nil {
		return oops.With("operation", "insert audit entry").
			With("entry_id", e.ID).
			With("player_id", e.PlayerID).
			Wrap(err)
	}
	return nil
}

// WriteSync inserts entry immediately.
func (w *PostgresWriter) WriteSync(ctx context.Context, entry Entry) error {
	return insertEntry(ctx, w.pool, entry)
}

// WriteAsync queues entry for the next batch.
func (w *PostgresWriter) WriteAsync(entry Entry) error {
	select {
	case w.asyncChan <- entry:
		return nil
	default:
		channelFullCounter.Inc()
		return oops.Code("AUDIT_QUEUE_FULL").Errorf("async audit channel full")
	}
}

func (w *PostgresWriter) batchConsumer() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.flushPeriod)
	defer ticker.Stop()

	var batch []Entry
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.writeBatch(ctx, batch); err != nil {
			w.log.Error("failed to write audit batch", "error", err, "count", len(batch))
			failuresCounter.WithLabelValues("batch_write_failed").Inc()
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-w.asyncChan:
			batch = append(batch, entry)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.stopChan:
			for {
				select {
				case entry := <-w.asyncChan:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *PostgresWriter) writeBatch(ctx context.Context, batch []Entry) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return oops.With("operation", "begin audit batch").Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	for _, e := range batch {
		if err := insertEntry(ctx, tx, e); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return oops.With("operation", "commit audit batch").With("count", len(batch)).Wrap(err)
	}
	return nil
}

// Close flushes pending async entries. It does not close the pool.
func (w *PostgresWriter) Close() error {
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	return nil
}
