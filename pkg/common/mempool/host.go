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

import (
	"errors"
	"runtime"
	"unsafe"

	"github.com/devpool-io/devpool/pkg/common/dperr"
	"golang.org/x/sys/unix"
)

// PinnedHostAllocator is the plain host-memory raw allocator strategy.
// Blocks come from anonymous mmap regions and are mlocked so the kernel
// cannot page them out, which is what makes them usable for DMA
// transfers.  No device context is involved.
type PinnedHostAllocator struct {
	capacity  uint64 // 0 means unlimited
	inuse     uint64
	lockPages bool
	reclaim   func()

	// regions keeps the mapped slices alive and recoverable for
	// munmap, keyed by base address.
	regions map[uintptr][]byte
}

type HostOption func(*PinnedHostAllocator)

// WithCapacity caps the total bytes the allocator will hand out;
// requests beyond the cap fail with OOM.
func WithCapacity(n uint64) HostOption {
	return func(h *PinnedHostAllocator) {
		h.capacity = n
	}
}

// WithoutPageLock skips the mlock call.  Useful in environments where
// RLIMIT_MEMLOCK is too small, and in tests.
func WithoutPageLock() HostOption {
	return func(h *PinnedHostAllocator) {
		h.lockPages = false
	}
}

// WithHostReclaimHook replaces the reclaim callback run by
// TryReleaseBlocks.  The default is runtime.GC.
func WithHostReclaimHook(fn func()) HostOption {
	return func(h *PinnedHostAllocator) {
		h.reclaim = fn
	}
}

func NewPinnedHostAllocator(opts ...HostOption) *PinnedHostAllocator {
	h := &PinnedHostAllocator{
		lockPages: true,
		reclaim:   runtime.GC,
		regions:   make(map[uintptr][]byte),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var _ RawAllocator = new(PinnedHostAllocator)

func (h *PinnedHostAllocator) Allocate(size uint64) (uintptr, error) {
	if size == 0 {
		size = 1
	}
	if h.capacity > 0 && h.inuse+size > h.capacity {
		return 0, dperr.NewOOM("pinned host allocator capacity %d exceeded (%d in use, %d requested)",
			h.capacity, h.inuse, size)
	}

	b, err := unix.Mmap(
		-1, 0,
		int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS,
	)
	if err != nil {
		if errors.Is(err, unix.ENOMEM) {
			return 0, dperr.NewOOMCause(err, "mmap of %d bytes", size)
		}
		return 0, dperr.NewInternal("mmap of %d bytes: %v", size, err)
	}

	if h.lockPages {
		if err := unix.Mlock(b); err != nil {
			unix.Munmap(b)
			if errors.Is(err, unix.ENOMEM) || errors.Is(err, unix.EAGAIN) {
				return 0, dperr.NewOOMCause(err, "mlock of %d bytes", size)
			}
			return 0, dperr.NewInternal("mlock of %d bytes: %v", size, err)
		}
	}

	ptr := uintptr(unsafe.Pointer(&b[0]))
	h.regions[ptr] = b
	h.inuse += size
	return ptr, nil
}

func (h *PinnedHostAllocator) Free(ptr uintptr, _ uint64) error {
	b, ok := h.regions[ptr]
	if !ok {
		return dperr.NewInvalidState("free of unknown pinned block %#x", ptr)
	}
	delete(h.regions, ptr)
	h.inuse -= uint64(len(b))

	if h.lockPages {
		if err := unix.Munlock(b); err != nil {
			return dperr.NewInternal("munlock: %v", err)
		}
	}
	if err := unix.Munmap(b); err != nil {
		return dperr.NewInternal("munmap: %v", err)
	}
	return nil
}

func (h *PinnedHostAllocator) TryReleaseBlocks() {
	if h.reclaim != nil {
		h.reclaim()
	}
}

// InUse reports the bytes currently mapped by this allocator.
func (h *PinnedHostAllocator) InUse() uint64 {
	return h.inuse
}
