// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package audit

import (
	"context"
	"log/slog"
)

// LogWriter emits entries as structured log records. It never fails.
type LogWriter struct {
	logger *slog.Logger
}

// NewLogWriter creates a LogWriter. A nil logger uses slog.Default().
func NewLogWriter(logger *slog.Logger) *LogWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogWriter{logger: logger.With("component", "audit")}
}

func (w *LogWriter) attrs(e Entry) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("entry_id", e.ID),
		slog.Time("recorded_at", e.Timestamp),
		slog.String("player_id", e.PlayerID),
		slog.String("player_name", e.PlayerName),
		slog.String("account", e.Account),
		slog.String("remote_addr", e.RemoteAddr),
		slog.String("label", e.Label),
		slog.String("outcome", e.Outcome),
	}
	if e.ErrorCode != "" {
		attrs = append(attrs, slog.String("error_code", e.ErrorCode))
	}
	if e.Item != nil {
		attrs = append(attrs, slog.Group("item",
			"id", e.Item.ID, "template_id", e.Item.TemplateID, "name", e.Item.Name, "level", e.Item.Level))
	}
	if e.LevelAfter != nil {
		attrs = append(attrs, slog.Int("level_after", *e.LevelAfter))
	}
	if e.Scroll != nil {
		attrs = append(attrs, slog.Group("scroll", "id", e.Scroll.ID, "template_id", e.Scroll.TemplateID))
	}
	if e.Support != nil {
		attrs = append(attrs, slog.Group("support", "id", e.Support.ID, "template_id", e.Support.TemplateID))
	}
	if e.RefundCount > 0 {
		attrs = append(attrs, slog.Int64("refund_item_id", int64(e.RefundItemID)), slog.Int64("refund_count", e.RefundCount))
	}
	return attrs
}

// WriteSync logs entry at warn level for suspected cheats and info otherwise.
func (w *LogWriter) WriteSync(ctx context.Context, e Entry) error {
	level := slog.LevelInfo
	if e.SuspectedCheat {
		level = slog.LevelWarn
	}
	w.logger.LogAttrs(ctx, level, "enchant audit", w.attrs(e)...)
	return nil
}

// WriteAsync logs entry.
func (w *LogWriter) WriteAsync(e Entry) error {
	return w.WriteSync(context.Background(), e)
}

// Close is a no-op.
func (w *LogWriter) Close() error { return nil }
