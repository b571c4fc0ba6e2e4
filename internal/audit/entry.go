// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

// Package audit records every enchant outcome for offline fraud review.
package audit

import (
	"context"
	"time"
)

// Labels classify an entry for reviewers.
const (
	LabelSuccess         = "Success"
	LabelSafeFail        = "Safe Fail"
	LabelBlessedFail     = "Blessed Fail"
	LabelFail            = "Fail"
	LabelError           = "Error"
	LabelUnableToDestroy = "Unable to destroy"
	LabelAutomation      = "Automation"
	LabelInconsistency   = "Inventory inconsistency"
	LabelRejected        = "Rejected"
	LabelItemUnavailable = "Item unavailable"
)

// ItemRef identifies an item instance as it was at the time of the entry.
type ItemRef struct {
	ID         string `json:"id"`
	TemplateID int32  `json:"template_id"`
	Name       string `json:"name,omitempty"`
	Level      int    `json:"level"`
	Count      int64  `json:"count,omitempty"`
}

// Entry is one audit record.
type Entry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	PlayerID   string    `json:"player_id"`
	PlayerName string    `json:"player_name,omitempty"`
	Account    string    `json:"account,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`

	Label     string `json:"label"`
	Outcome   string `json:"outcome"`
	ErrorCode string `json:"error_code,omitempty"`

	// SuspectedCheat marks entries that triggered a sanction.
	SuspectedCheat bool `json:"suspected_cheat,omitempty"`

	Item       *ItemRef `json:"item,omitempty"`
	LevelAfter *int     `json:"level_after,omitempty"`
	Scroll     *ItemRef `json:"scroll,omitempty"`
	Support    *ItemRef `json:"support,omitempty"`

	RefundItemID int32 `json:"refund_item_id,omitempty"`
	RefundCount  int64 `json:"refund_count,omitempty"`

	Details map[string]any `json:"details,omitempty"`
}

// Failure reports whether the entry describes anything other than a success.
func (e Entry) Failure() bool {
	return e.Label != LabelSuccess
}

// Sink receives audit entries. The enchant engine depends only on this.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, entry Entry) error

// Record calls f.
func (f SinkFunc) Record(ctx context.Context, entry Entry) error { return f(ctx, entry) }

// Discard is a Sink that drops everything.
var Discard Sink = SinkFunc(func(context.Context, Entry) error { return nil })
