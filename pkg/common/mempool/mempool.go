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

// Package mempool implements a bucketed memory pool in front of an
// expensive raw allocator (device memory behind a driver context, or
// page-locked host memory).  Requests classify into power-of-two bins;
// freed blocks are retained in per-bin free lists and reused without a
// new raw allocation.
//
// A Pool is single-threaded: concurrent calls into one pool require
// external synchronization.  Calls never suspend; they block only on
// the underlying driver call.  The reclaim hook invoked during
// allocation recovery may synchronously return other blocks to the same
// pool, so free-list insertion is safe from within the Allocate call
// stack.
package mempool

import (
	"github.com/devpool-io/devpool/pkg/common/dperr"
	"github.com/devpool-io/devpool/pkg/logutil"
	"go.uber.org/zap"
)

// Pool maintains per-bin free lists over a RawAllocator and tracks how
// many blocks are checked out (active) versus idle but retained (held).
type Pool struct {
	raw    RawAllocator
	holder BlockHolder
	logger *zap.Logger

	freeLists   map[uint32][]uintptr
	held        uint64
	active      uint64
	activeBytes uint64

	stopHolding bool
	closed      bool

	stats Stats
}

type Option func(*Pool)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithBlockHolder registers the receiver of the pool's held-block
// lifecycle signals, typically a HoldingContext.
func WithBlockHolder(h BlockHolder) Option {
	return func(p *Pool) {
		p.holder = h
	}
}

func NewPool(raw RawAllocator, opts ...Option) *Pool {
	p := &Pool{
		raw:       raw,
		freeLists: make(map[uint32][]uintptr),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logutil.GetGlobalLogger().Named("mempool")
	}
	return p
}

// NewDeviceMemoryPool composes the common device configuration: a
// context-bound device strategy plus the explicit holding-activation
// policy, which keeps the context acquired while the pool retains
// blocks.
func NewDeviceMemoryPool(driver Driver, ctx Context, opts ...DeviceOption) *Pool {
	return NewPool(
		NewDeviceAllocator(driver, ctx, opts...),
		WithBlockHolder(NewHoldingContext(ctx)),
	)
}

// NewPageLockedMemoryPool builds a pool over pinned host memory.
func NewPageLockedMemoryPool(opts ...HostOption) *Pool {
	return NewPool(NewPinnedHostAllocator(opts...))
}

// Allocate returns a handle for at least size bytes.  The fast path
// pops the bin's free list.  On a miss the pool asks the raw allocator,
// and on exhaustion recovers in two stages: first the reclaim hook
// (TryReleaseBlocks) with one retry, then a full flush of all held
// blocks with one final retry.  Only after all three raw attempts fail
// does it return OOM.
func (p *Pool) Allocate(size uint64) (*Allocation, error) {
	if p.closed {
		return nil, dperr.NewInvalidState("allocate on closed pool")
	}

	bin := BinNumber(size)
	allocSize := AllocSize(bin)
	if allocSize < size {
		return nil, dperr.NewSizeTooLarge(size)
	}

	if ptr, ok, err := p.popBlock(bin); err != nil {
		return nil, err
	} else if ok {
		return p.checkout(ptr, allocSize, bin), nil
	}

	ptr, err := p.rawAllocate(allocSize)
	if err == nil {
		return p.checkout(ptr, allocSize, bin), nil
	}
	if !dperr.IsOOM(err) {
		return nil, err
	}

	p.logger.Debug("raw allocation failed, invoking reclaim hook",
		zap.Uint64("size", allocSize),
		zap.Uint32("bin", bin))
	p.raw.TryReleaseBlocks()
	p.stats.NumGCRetry.Add(1)

	ptr, err = p.rawAllocate(allocSize)
	if err == nil {
		return p.checkout(ptr, allocSize, bin), nil
	}
	if !dperr.IsOOM(err) {
		return nil, err
	}

	p.logger.Warn("raw allocation failed after reclaim, flushing held blocks",
		zap.Uint64("size", allocSize),
		zap.Uint64("held", p.held))
	if ferr := p.FreeHeld(); ferr != nil {
		return nil, ferr
	}
	p.stats.NumFlush.Add(1)

	ptr, err = p.rawAllocate(allocSize)
	if err != nil {
		p.logger.Error("allocation failed after reclaim and flush",
			zap.Uint64("size", allocSize),
			zap.Error(err))
		return nil, err
	}
	return p.checkout(ptr, allocSize, bin), nil
}

func (p *Pool) rawAllocate(size uint64) (uintptr, error) {
	ptr, err := p.raw.Allocate(size)
	if err != nil {
		return 0, err
	}
	p.stats.NumRawAlloc.Add(1)
	return ptr, nil
}

func (p *Pool) checkout(ptr uintptr, size uint64, bin uint32) *Allocation {
	p.active++
	p.activeBytes += size
	p.stats.NumAlloc.Add(1)
	if int64(p.activeBytes) > p.stats.HighWaterBytes.Load() {
		p.stats.HighWaterBytes.Store(int64(p.activeBytes))
	}
	return &Allocation{
		pool: p,
		ptr:  ptr,
		size: size,
		bin:  bin,
	}
}

// popBlock removes one block from the bin's free list.  When the pool
// transitions to holding zero blocks the holder is notified; if that
// notification fails the block is restored so the accounting stays
// consistent.
func (p *Pool) popBlock(bin uint32) (uintptr, bool, error) {
	list := p.freeLists[bin]
	if len(list) == 0 {
		return 0, false, nil
	}
	ptr := list[len(list)-1]
	p.freeLists[bin] = list[:len(list)-1]
	p.held--
	if p.held == 0 && p.holder != nil {
		if err := p.holder.StopHoldingBlocks(); err != nil {
			p.freeLists[bin] = append(p.freeLists[bin], ptr)
			p.held++
			return 0, false, err
		}
	}
	return ptr, true, nil
}

// insertBlock retains a returned block.  Safe to call from within an
// Allocate call stack: the reclaim hook may free handles that re-enter
// here.
func (p *Pool) insertBlock(bin uint32, ptr uintptr) error {
	if p.held == 0 && p.holder != nil {
		if err := p.holder.StartHoldingBlocks(); err != nil {
			return err
		}
	}
	p.freeLists[bin] = append(p.freeLists[bin], ptr)
	p.held++
	return nil
}

// returnBlock is the handle-release path.
func (p *Pool) returnBlock(a *Allocation) error {
	p.active--
	p.activeBytes -= a.size
	p.stats.NumFree.Add(1)

	if p.stopHolding {
		p.stats.NumRawFree.Add(1)
		return p.raw.Free(a.ptr, a.size)
	}

	if err := p.insertBlock(a.bin, a.ptr); err != nil {
		// Cannot retain without the context; give the block straight
		// back to the raw allocator rather than leak it.
		p.stats.NumRawFree.Add(1)
		if ferr := p.raw.Free(a.ptr, a.size); ferr != nil {
			return ferr
		}
		return err
	}
	return nil
}

// detachBlock removes a block from pool accounting permanently; the
// caller owns it and must free it through the raw allocator.
func (p *Pool) detachBlock(a *Allocation) {
	p.active--
	p.activeBytes -= a.size
	p.stats.NumDetach.Add(1)
}

// FreeHeld releases every block in every free list back to the raw
// allocator.  Active blocks are untouched.  Frees continue past the
// first failure; the first error is returned.
func (p *Pool) FreeHeld() error {
	var firstErr error
	for bin, list := range p.freeLists {
		for _, ptr := range list {
			p.stats.NumRawFree.Add(1)
			if err := p.raw.Free(ptr, AllocSize(bin)); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(p.freeLists, bin)
	}
	if p.held > 0 {
		p.held = 0
		if p.holder != nil {
			if err := p.holder.StopHoldingBlocks(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// StopHolding flushes the free lists and marks the pool as no longer
// retaining returned blocks: subsequent handle releases free straight
// to the raw allocator.  Used when decommissioning a pool while handles
// may still be outstanding.
func (p *Pool) StopHolding() error {
	p.stopHolding = true
	return p.FreeHeld()
}

// Close decommissions the pool.  Outstanding handles stay valid and
// free straight to the raw allocator on release.
func (p *Pool) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.active > 0 {
		p.logger.Warn("closing pool with active blocks",
			zap.Uint64("active", p.active))
	}
	return p.StopHolding()
}

// HeldBlocks is the number of blocks sitting in free lists.
func (p *Pool) HeldBlocks() uint64 {
	return p.held
}

// ActiveBlocks is the number of blocks currently checked out.
func (p *Pool) ActiveBlocks() uint64 {
	return p.active
}

func (p *Pool) Stats() *Stats {
	return &p.stats
}
