// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package enchant

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/forgeworks/anvil/pkg/errutil"
)

// Error codes for enchant failures.
const (
	CodeDuplicateRequest       = "DUPLICATE_REQUEST"
	CodeNoRequest              = "NO_REQUEST"
	CodeBusyState              = "BUSY_STATE"
	CodeIneligible             = "INELIGIBLE"
	CodeAutomationSuspected    = "AUTOMATION_SUSPECTED"
	CodeInventoryInconsistency = "INVENTORY_INCONSISTENCY"
	CodeResolutionError        = "RESOLUTION_ERROR"
	CodeItemUnavailable        = "ITEM_UNAVAILABLE"
	CodeStaleReference         = "STALE_REFERENCE"
	CodeSessionDetached        = "SESSION_DETACHED"
)

// ErrDuplicateRequest is returned when a player already has a live request.
func ErrDuplicateRequest(playerID ulid.ULID, state State) error {
	return oops.Code(CodeDuplicateRequest).
		With("player_id", playerID.String()).
		With("state", state.String()).
		Errorf("an enchant request is already in progress")
}

// ErrNoRequest is returned when there is no request to act on, or it is
// already being processed.
func ErrNoRequest(playerID ulid.ULID) error {
	return oops.Code(CodeNoRequest).
		With("player_id", playerID.String()).
		Errorf("no pending enchant request")
}

// ErrBusyState rejects players who are trading or running a storefront.
func ErrBusyState(playerID ulid.ULID) error {
	return oops.Code(CodeBusyState).
		With("player_id", playerID.String()).
		Errorf("cannot enchant while trading or operating a storefront")
}

// ErrIneligible rejects catalysts that do not apply to the item.
func ErrIneligible(reason string, itemID ulid.ULID) error {
	return oops.Code(CodeIneligible).
		With("item_id", itemID.String()).
		With("reason", reason).
		Errorf("inappropriate enchant conditions: %s", reason)
}

// ErrAutomationSuspected rejects commits that arrive faster than a person can click.
func ErrAutomationSuspected(playerID ulid.ULID, elapsed, minimum time.Duration) error {
	return oops.Code(CodeAutomationSuspected).
		With("player_id", playerID.String()).
		With("elapsed", elapsed.String()).
		With("minimum", minimum.String()).
		Errorf("commit arrived %s after request, minimum is %s", elapsed, minimum)
}

// ErrInventoryInconsistency reports a consumption or destruction that the
// store refused. The store error is kept as context so the code stays ours.
func ErrInventoryInconsistency(what string, itemID ulid.ULID, cause error) error {
	return oops.Code(CodeInventoryInconsistency).
		With("item_id", itemID.String()).
		With("what", what).
		With("cause", causeOf(cause)).
		Errorf("unable to %s", what)
}

// ErrResolution reports a template or state mismatch found at resolution time.
func ErrResolution(reason string, cause error) error {
	b := oops.Code(CodeResolutionError).With("reason", reason)
	if cause != nil {
		b = b.With("cause", causeOf(cause))
	}
	return b.Errorf("enchant resolution error: %s", reason)
}

// ErrItemUnavailable reports that the item lease could not be obtained or a
// store write lost to a concurrent one.
func ErrItemUnavailable(itemID ulid.ULID, cause error) error {
	return oops.Code(CodeItemUnavailable).
		With("item_id", itemID.String()).
		With("cause", causeOf(cause)).
		Errorf("item is unavailable")
}

// ErrStaleReference reports a request that points at an item that no longer
// resolves in the player's inventory.
func ErrStaleReference(ref string, id ulid.ULID) error {
	return oops.Code(CodeStaleReference).
		With("ref", ref).
		With("id", id.String()).
		Errorf("%s no longer resolves", ref)
}

// ErrSessionDetached reports a player whose session is gone.
func ErrSessionDetached(playerID ulid.ULID) error {
	return oops.Code(CodeSessionDetached).
		With("player_id", playerID.String()).
		Errorf("player session is detached")
}

func causeOf(err error) string {
	if err == nil {
		return ""
	}
	if code := errutil.Code(err); code != "" {
		return code + ": " + err.Error()
	}
	return err.Error()
}

// IsSilent reports whether err is a discard path that sends the player nothing.
func IsSilent(err error) bool {
	switch errutil.Code(err) {
	case CodeSessionDetached, CodeStaleReference, CodeNoRequest:
		return true
	default:
		return false
	}
}

// IsSuspectedCheat reports whether err should be flagged to anti-abuse.
func IsSuspectedCheat(err error) bool {
	switch errutil.Code(err) {
	case CodeAutomationSuspected, CodeInventoryInconsistency:
		return true
	default:
		return false
	}
}

// PlayerMessage maps an enchant error to the message shown to the player.
// Silent errors map to "".
func PlayerMessage(err error) string {
	if err == nil {
		return ""
	}
	switch errutil.Code(err) {
	case CodeSessionDetached, CodeStaleReference, CodeNoRequest:
		return ""
	case CodeDuplicateRequest:
		return "Your previous enchant request is still being processed."
	case CodeBusyState:
		return "You cannot enchant while trading or operating a private store."
	case CodeIneligible, CodeAutomationSuspected, CodeResolutionError,
		CodeItemUnavailable, CodeInventoryInconsistency:
		return "Inappropriate enchant conditions."
	default:
		return "Something went wrong. Try again."
	}
}
