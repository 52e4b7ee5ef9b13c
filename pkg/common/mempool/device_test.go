// Copyright 2024 The DevPool Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mempool_test

import (
	"testing"

	"github.com/devpool-io/devpool/pkg/common/dperr"
	"github.com/devpool-io/devpool/pkg/common/mempool"
	"github.com/devpool-io/devpool/pkg/common/mempool/memsim"
	"github.com/stretchr/testify/require"
)

// recDriver and recCtx record the interleaving of context and driver
// calls.
type recDriver struct {
	events *[]string
}

func (d *recDriver) MemAlloc(size uint64) (uintptr, error) {
	*d.events = append(*d.events, "alloc")
	return 0x1000, nil
}

func (d *recDriver) MemFree(ptr uintptr) error {
	*d.events = append(*d.events, "free")
	return nil
}

type recCtx struct {
	events         *[]string
	failActivate   bool
	failDeactivate bool
}

func (c *recCtx) Activate() error {
	if c.failActivate {
		return dperr.NewInternal("bad context")
	}
	*c.events = append(*c.events, "activate")
	return nil
}

func (c *recCtx) Deactivate() error {
	if c.failDeactivate {
		return dperr.NewInternal("bad context")
	}
	*c.events = append(*c.events, "deactivate")
	return nil
}

func TestDeviceAllocatorActivationOrder(t *testing.T) {
	var events []string
	d := mempool.NewDeviceAllocator(
		&recDriver{events: &events},
		&recCtx{events: &events},
	)

	ptr, err := d.Allocate(256)
	require.NoError(t, err)
	require.Equal(t, []string{"activate", "alloc", "deactivate"}, events)

	events = events[:0]
	require.NoError(t, d.Free(ptr, 256))
	require.Equal(t, []string{"activate", "free", "deactivate"}, events)
}

func TestDeviceAllocatorActivationFailure(t *testing.T) {
	var events []string
	d := mempool.NewDeviceAllocator(
		&recDriver{events: &events},
		&recCtx{events: &events, failActivate: true},
	)

	_, err := d.Allocate(256)
	require.True(t, dperr.IsContextFailed(err))
	// the driver was never reached
	require.Empty(t, events)
}

func TestDeviceAllocatorDeactivationFailure(t *testing.T) {
	var events []string
	d := mempool.NewDeviceAllocator(
		&recDriver{events: &events},
		&recCtx{events: &events, failDeactivate: true},
	)

	_, err := d.Allocate(256)
	require.True(t, dperr.IsContextFailed(err))
}

func TestDeviceAllocatorReclaimHook(t *testing.T) {
	var events []string
	calls := 0
	d := mempool.NewDeviceAllocator(
		&recDriver{events: &events},
		&recCtx{events: &events},
		mempool.WithReclaimHook(func() { calls++ }),
	)

	d.TryReleaseBlocks()
	d.TryReleaseBlocks()
	require.Equal(t, 2, calls)
}

func TestDeviceMemoryPoolHoldsContext(t *testing.T) {
	dev := memsim.NewDevice(0)
	ctx := memsim.NewCtx()
	pool := mempool.NewDeviceMemoryPool(dev, ctx)

	a, err := pool.Allocate(100)
	require.NoError(t, err)
	// per-call activations are balanced, nothing is held yet
	require.Equal(t, 0, ctx.Depth())

	// first retained block acquires the context and keeps it
	require.NoError(t, a.Free())
	require.Equal(t, 1, ctx.Depth())

	// popping the pool empty releases it again
	b, err := pool.Allocate(100)
	require.NoError(t, err)
	require.Equal(t, 0, ctx.Depth())

	require.NoError(t, b.Free())
	require.Equal(t, 1, ctx.Depth())
	require.NoError(t, pool.FreeHeld())
	require.Equal(t, 0, ctx.Depth())

	require.NoError(t, pool.Close())
	require.Equal(t, uint64(0), dev.InUse())
}

func TestDeviceMemoryPoolExhaustion(t *testing.T) {
	// room for exactly two 256-byte blocks
	dev := memsim.NewDevice(512)
	ctx := memsim.NewCtx()
	pool := mempool.NewDeviceMemoryPool(dev, ctx)

	a, err := pool.Allocate(256)
	require.NoError(t, err)
	b, err := pool.Allocate(256)
	require.NoError(t, err)

	_, err = pool.Allocate(256)
	require.True(t, dperr.IsOOM(err))

	// returning a block makes its bin reusable again
	require.NoError(t, a.Free())
	c, err := pool.Allocate(256)
	require.NoError(t, err)
	require.Equal(t, 2, dev.Allocs())

	require.NoError(t, b.Free())
	require.NoError(t, c.Free())
	require.NoError(t, pool.Close())
	require.Equal(t, 0, ctx.Depth())
}
