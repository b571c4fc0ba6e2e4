// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package audit

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingWriter records all writes for verification.
type recordingWriter struct {
	mu          sync.Mutex
	syncWrites  []Entry
	asyncWrites []Entry
	syncCalls   int
	failSync    bool
	closed      bool
}

func (w *recordingWriter) WriteSync(_ context.Context, e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.syncCalls++
	if w.failSync {
		return assert.AnError
	}
	w.syncWrites = append(w.syncWrites, e)
	return nil
}

func (w *recordingWriter) WriteAsync(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.asyncWrites = append(w.asyncWrites, e)
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *recordingWriter) snapshot() (syncW, asyncW []Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Entry{}, w.syncWrites...), append([]Entry{}, w.asyncWrites...)
}

func newTestLogger(t *testing.T, mode Mode, w Writer) *Logger {
	t.Helper()
	return NewLogger(LoggerConfig{
		Mode:      mode,
		WALPath:   filepath.Join(t.TempDir(), "wal.jsonl"),
		Retries:   2,
		RetryBase: time.Millisecond,
	}, w)
}

func success() Entry { return Entry{ID: "s1", PlayerID: "p1", Label: LabelSuccess, Outcome: "success"} }
func failure() Entry { return Entry{ID: "f1", PlayerID: "p1", Label: LabelFail, Outcome: "fail"} }

func TestLogger_ModeAll(t *testing.T) {
	w := &recordingWriter{}
	l := newTestLogger(t, ModeAll, w)

	require.NoError(t, l.Record(context.Background(), success()))
	require.NoError(t, l.Record(context.Background(), failure()))
	require.NoError(t, l.Close())

	syncW, asyncW := w.snapshot()
	assert.Equal(t, []Entry{failure()}, syncW, "failures are written synchronously")
	assert.Equal(t, []Entry{success()}, asyncW, "successes drain on close")
	assert.True(t, w.closed)
}

func TestLogger_ModeFailures(t *testing.T) {
	w := &recordingWriter{}
	l := newTestLogger(t, ModeFailures, w)

	require.NoError(t, l.Record(context.Background(), success()))
	require.NoError(t, l.Record(context.Background(), failure()))
	require.NoError(t, l.Close())

	syncW, asyncW := w.snapshot()
	assert.Len(t, syncW, 1)
	assert.Empty(t, asyncW)
}

func TestLogger_ModeOff(t *testing.T) {
	w := &recordingWriter{}
	l := newTestLogger(t, ModeOff, w)

	require.NoError(t, l.Record(context.Background(), failure()))
	require.NoError(t, l.Close())

	syncW, asyncW := w.snapshot()
	assert.Empty(t, syncW)
	assert.Empty(t, asyncW)
}

func TestLogger_RetriesThenFallsBackToWAL(t *testing.T) {
	w := &recordingWriter{failSync: true}
	l := newTestLogger(t, ModeAll, w)

	require.NoError(t, l.Record(context.Background(), failure()))
	assert.Equal(t, 3, w.syncCalls, "one attempt plus two retries")

	data, err := os.ReadFile(l.cfg.WALPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id":"f1"`)

	// Backend recovers; replay drains the WAL.
	w.mu.Lock()
	w.failSync = false
	w.mu.Unlock()
	n, err := l.ReplayWAL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err = os.ReadFile(l.cfg.WALPath)
	require.NoError(t, err)
	assert.Empty(t, data)
	require.NoError(t, l.Close())
}

func TestLogger_CancelledContextStillAudits(t *testing.T) {
	w := &recordingWriter{}
	l := newTestLogger(t, ModeFailures, w)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, l.Record(ctx, failure()))

	syncW, _ := w.snapshot()
	assert.Len(t, syncW, 1)
}

func TestLogger_CloseIsIdempotent(t *testing.T) {
	l := newTestLogger(t, ModeAll, &recordingWriter{})
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("failures")
	require.NoError(t, err)
	assert.Equal(t, ModeFailures, m)

	_, err = ParseMode("verbose")
	assert.Error(t, err)
}
