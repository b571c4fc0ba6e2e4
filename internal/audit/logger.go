// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/forgeworks/anvil/internal/xdg"
)

// Mode controls which entries are recorded.
type Mode string

// Audit modes.
const (
	ModeAll      Mode = "all"      // everything; successes are written asynchronously
	ModeFailures Mode = "failures" // only non-success outcomes
	ModeOff      Mode = "off"
)

// ParseMode validates a configured mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeAll, ModeFailures, ModeOff:
		return m, nil
	default:
		return "", oops.Code("INVALID_AUDIT_MODE").With("mode", s).Errorf("unknown audit mode %q", s)
	}
}

// Writer persists entries to a backend.
type Writer interface {
	WriteSync(ctx context.Context, entry Entry) error
	WriteAsync(entry Entry) error
	Close() error
}

// Metrics are the audit counters. Register them with RegisterMetrics.
var (
	channelFullCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "anvil_audit_channel_full_total",
		Help: "Audit entries dropped because the async queue was full",
	})
	failuresCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "anvil_audit_failures_total",
		Help: "Audit write failures by reason",
	}, []string{"reason"})
	walEntriesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "anvil_audit_wal_entries",
		Help: "Entries waiting in the audit WAL",
	})
)

// RegisterMetrics registers the audit metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(channelFullCounter, failuresCounter, walEntriesGauge)
}

// LoggerConfig configures a Logger.
type LoggerConfig struct {
	Mode    Mode
	WALPath string
	// QueueSize bounds the async queue. Zero means 1000.
	QueueSize int
	// Retries bounds synchronous write retries before falling back to the WAL.
	Retries uint64
	// RetryBase is the first backoff interval.
	RetryBase time.Duration
	Logger    *slog.Logger
}

// Logger is the Sink the engine writes to. It routes entries by mode:
// failures are written synchronously (with retry, then WAL fallback) and
// successes go through an async queue.
type Logger struct {
	cfg    LoggerConfig
	writer Writer
	log    *slog.Logger
	wal    *wal

	asyncChan chan Entry
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewLogger starts a Logger over writer.
func NewLogger(cfg LoggerConfig, writer Writer) *Logger {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 50 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WALPath == "" {
		cfg.WALPath = defaultWALPath()
	}
	l := &Logger{
		cfg:       cfg,
		writer:    writer,
		log:       cfg.Logger,
		wal:       &wal{path: cfg.WALPath},
		asyncChan: make(chan Entry, cfg.QueueSize),
		stopChan:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.asyncConsumer()
	return l
}

// Record routes entry according to the configured mode. It never fails the
// caller for backend trouble; entries that cannot be persisted are counted
// and logged.
func (l *Logger) Record(ctx context.Context, entry Entry) error {
	record, useSync := l.route(entry)
	if !record {
		return nil
	}
	if useSync {
		l.writeSync(ctx, entry)
		return nil
	}
	select {
	case l.asyncChan <- entry:
	default:
		channelFullCounter.Inc()
	}
	return nil
}

func (l *Logger) route(entry Entry) (record, useSync bool) {
	switch l.cfg.Mode {
	case ModeAll:
		return true, entry.Failure()
	case ModeFailures:
		return entry.Failure(), true
	default:
		return false, false
	}
}

func (l *Logger) writeSync(ctx context.Context, entry Entry) {
	// A cancelled request must not lose its audit trail.
	ctx = context.WithoutCancel(ctx)
	backoff := retry.WithMaxRetries(l.cfg.Retries, retry.NewExponential(l.cfg.RetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := l.writer.WriteSync(ctx, entry); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		return
	}
	if walErr := l.wal.append(entry); walErr != nil {
		l.log.Error("audit write failed: both backend and WAL failed",
			"db_error", err,
			"wal_error", walErr,
			"entry_id", entry.ID,
			"player_id", entry.PlayerID,
			"label", entry.Label)
		failuresCounter.WithLabelValues("wal_failed").Inc()
		return
	}
	walEntriesGauge.Inc()
	failuresCounter.WithLabelValues("sync_write_failed").Inc()
}

func (l *Logger) asyncConsumer() {
	defer l.wg.Done()
	for {
		select {
		case entry := <-l.asyncChan:
			l.writeAsync(entry)
		case <-l.stopChan:
			for {
				select {
				case entry := <-l.asyncChan:
					l.writeAsync(entry)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) writeAsync(entry Entry) {
	if err := l.writer.WriteAsync(entry); err != nil {
		l.log.Error("async audit write failed", "error", err, "entry_id", entry.ID, "player_id", entry.PlayerID)
		failuresCounter.WithLabelValues("async_write_failed").Inc()
	}
}

// ReplayWAL writes every WAL entry to the backend and truncates the WAL.
// Entries that still fail are kept for the next replay.
func (l *Logger) ReplayWAL(ctx context.Context) (int, error) {
	l.wal.mu.Lock()
	defer l.wal.mu.Unlock()
	return ReplayWAL(ctx, l.cfg.WALPath, l.writer, l.log)
}

// Close drains the async queue and closes the writer and WAL.
func (l *Logger) Close() error {
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()

	var errs []error
	if err := l.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := l.wal.close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return oops.Code("AUDIT_CLOSE_FAILED").Join(errs...)
	}
	return nil
}

func defaultWALPath() string {
	return xdg.AuditWAL()
}
