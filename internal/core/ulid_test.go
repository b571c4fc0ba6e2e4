// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package core

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/anvil/pkg/errutil"
)

func TestNewULIDAt_StampsGivenTime(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a, b := NewULIDAt(at), NewULIDAt(at)

	assert.Equal(t, ulid.Timestamp(at), a.Time())
	assert.Equal(t, ulid.Timestamp(at), b.Time())
	assert.Negative(t, a.Compare(b), "same-millisecond ids still increase")
}

func TestParseULID(t *testing.T) {
	id := NewULID()
	got, err := ParseULID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseULID("sword")
	errutil.AssertErrorCode(t, err, "INVALID_ULID")
	errutil.AssertErrorContext(t, err, "value", "sword")
}
