// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package core

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewULID returns a monotonic ULID stamped with the wall clock.
func NewULID() ulid.ULID {
	return NewULIDAt(time.Now())
}

// NewULIDAt returns a monotonic ULID stamped with at, so ids minted from an
// injected clock sort with the timestamps recorded beside them. Ids minted
// for the same millisecond still increase.
func NewULIDAt(at time.Time) ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy)
}

// ParseULID parses an item, player or connection id.
func ParseULID(s string) (ulid.ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ulid.ULID{}, oops.Code("INVALID_ULID").With("value", s).Wrapf(err, "invalid id %q", s)
	}
	return id, nil
}
