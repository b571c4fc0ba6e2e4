// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package itemlock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/forgeworks/anvil/internal/core"
	"github.com/forgeworks/anvil/internal/itemlock"
	"github.com/forgeworks/anvil/pkg/errutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestAcquireRelease(t *testing.T) {
	r := itemlock.NewRegistry()
	id := core.NewULID()

	lease, err := r.Acquire(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, lease.ItemID())
	assert.Equal(t, 1, r.Len())

	lease.Release()
	lease.Release()
	assert.Equal(t, 0, r.Len(), "released identities are forgotten")
}

func TestAcquire_TimesOut(t *testing.T) {
	var waits []bool
	r := itemlock.NewRegistry(
		itemlock.WithTimeout(20*time.Millisecond),
		itemlock.WithWaitObserver(func(_ time.Duration, acquired bool) { waits = append(waits, acquired) }),
	)
	id := core.NewULID()

	held, err := r.Acquire(context.Background(), id)
	require.NoError(t, err)
	defer held.Release()

	_, err = r.Acquire(context.Background(), id)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, itemlock.CodeUnavailable)
	assert.Equal(t, []bool{true, false}, waits)
	assert.Equal(t, 1, r.Len())
}

func TestAcquire_ContextCancelled(t *testing.T) {
	r := itemlock.NewRegistry(itemlock.WithTimeout(time.Minute))
	id := core.NewULID()
	held, err := r.Acquire(context.Background(), id)
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Acquire(ctx, id)
	errutil.AssertErrorCode(t, err, itemlock.CodeUnavailable)
}

func TestDifferentItemsDoNotContend(t *testing.T) {
	r := itemlock.NewRegistry(itemlock.WithTimeout(10 * time.Millisecond))

	a, err := r.Acquire(context.Background(), core.NewULID())
	require.NoError(t, err)
	defer a.Release()
	b, err := r.Acquire(context.Background(), core.NewULID())
	require.NoError(t, err)
	defer b.Release()

	assert.Equal(t, 2, r.Len())
}

func TestSameItemIsSerialized(t *testing.T) {
	r := itemlock.NewRegistry(itemlock.WithTimeout(5 * time.Second))
	id := core.NewULID()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := r.Acquire(context.Background(), id)
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			lease.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, r.Len())
}
