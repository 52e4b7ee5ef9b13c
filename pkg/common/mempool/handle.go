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

package mempool

import "github.com/devpool-io/devpool/pkg/common/dperr"

type allocState uint8

const (
	stateActive allocState = iota
	stateFreed
	stateDetached
)

// Allocation is the checkout of one block from a Pool.  It owns the
// block until Free returns it to the pool or Detach transfers ownership
// out.  The handle references its pool, so a pool is never torn down
// while handles are outstanding.
//
// Go has no deterministic destructors, so release is explicit: callers
// must Free (or Detach) on every exit path.
type Allocation struct {
	pool  *Pool
	ptr   uintptr
	size  uint64
	bin   uint32
	state allocState
}

// Free returns the block to the owning pool.  Freeing twice is a hard
// error (the strict double-free policy): the second call reports
// ErrDoubleFree and leaves accounting untouched.
func (a *Allocation) Free() error {
	switch a.state {
	case stateFreed:
		return dperr.NewDoubleFree()
	case stateDetached:
		return dperr.NewDetached("free")
	}
	a.state = stateFreed
	return a.pool.returnBlock(a)
}

// Ptr is the raw block address, for interop with driver calls and
// host-array construction.
func (a *Allocation) Ptr() (uintptr, error) {
	switch a.state {
	case stateFreed:
		return 0, dperr.NewUseAfterFree("ptr")
	case stateDetached:
		return 0, dperr.NewDetached("ptr")
	}
	return a.ptr, nil
}

// Size is the block's reserved byte size: the bin's AllocSize, not
// necessarily the originally requested size.
func (a *Allocation) Size() uint64 {
	return a.size
}

// Bin is the bin this block belongs to.
func (a *Allocation) Bin() uint32 {
	return a.bin
}

// Detach removes the block from pool accounting permanently.  The
// caller now owns the raw block and must free it directly through the
// raw allocator, not through the pool.
func (a *Allocation) Detach() (uintptr, error) {
	switch a.state {
	case stateFreed:
		return 0, dperr.NewUseAfterFree("detach")
	case stateDetached:
		return 0, dperr.NewDetached("detach")
	}
	a.state = stateDetached
	a.pool.detachBlock(a)
	return a.ptr, nil
}
