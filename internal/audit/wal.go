// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/samber/oops"

	"github.com/forgeworks/anvil/internal/xdg"
)

// wal is an append-only JSONL file of entries the backend refused.
type wal struct {
	path string
	mu   sync.Mutex
	file *os.File
}

func (w *wal) append(entry Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		if err := xdg.EnsureParent(w.path); err != nil {
			return err
		}
		f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY|os.O_SYNC, 0o600)
		if err != nil {
			return oops.With("path", w.path).Wrap(err)
		}
		w.file = f
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return oops.Wrap(err)
	}
	if _, err := w.file.Write(append(data, '\n')); err != nil {
		return oops.With("path", w.path).Wrap(err)
	}
	return nil
}

func (w *wal) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	if err != nil {
		return oops.With("path", w.path).Wrap(err)
	}
	return nil
}

// ReplayWAL writes the entries in the WAL at path to writer. Entries that
// fail to write are rewritten to the WAL; everything else is removed. If ctx
// ends mid-replay the unreplayed remainder stays in the WAL. It returns the
// number of entries replayed.
func ReplayWAL(ctx context.Context, path string, writer Writer, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, oops.Code("WAL_READ_FAILED").With("path", path).Wrap(err)
	}

	var kept bytes.Buffer
	replayed := 0
	var interrupted error
	for rest := data; len(rest) > 0; {
		if interrupted = ctx.Err(); interrupted != nil {
			kept.Write(rest)
			break
		}
		var line []byte
		line, rest, _ = bytes.Cut(rest, []byte{'\n'})
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			logger.Error("dropping unreadable WAL entry", "error", err, "path", path)
			failuresCounter.WithLabelValues("wal_unmarshal_failed").Inc()
			continue
		}
		if err := writer.WriteSync(ctx, entry); err != nil {
			logger.Error("failed to replay WAL entry", "error", err, "entry_id", entry.ID)
			failuresCounter.WithLabelValues("wal_replay_failed").Inc()
			kept.Write(line)
			kept.WriteByte('\n')
			continue
		}
		replayed++
	}
	if kept.Len() > 0 && kept.Bytes()[kept.Len()-1] != '\n' {
		kept.WriteByte('\n')
	}

	if err := os.WriteFile(path, kept.Bytes(), 0o600); err != nil {
		return replayed, oops.Code("WAL_TRUNCATE_FAILED").With("path", path).Wrap(err)
	}
	remaining := bytes.Count(kept.Bytes(), []byte{'\n'})
	walEntriesGauge.Set(float64(remaining))
	if interrupted != nil {
		return replayed, oops.Code("WAL_REPLAY_INTERRUPTED").With("path", path).With("kept", remaining).Wrap(interrupted)
	}
	logger.Info("replayed WAL entries", "count", replayed, "kept", remaining)
	return replayed, nil
}
