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

import "runtime"

// Driver is the raw device-memory capability, typically backed by a
// cgo binding to the device driver.  It knows nothing about contexts;
// DeviceAllocator arranges for the right context to be current around
// every call.
type Driver interface {
	MemAlloc(size uint64) (uintptr, error)
	MemFree(ptr uintptr) error
}

// DeviceAllocator is the context-bound raw allocator strategy: every
// Allocate and Free activates the owning context on the current thread,
// performs the driver call, and restores the prior context.
type DeviceAllocator struct {
	driver  Driver
	ctx     Context
	reclaim func()
}

type DeviceOption func(*DeviceAllocator)

// WithReclaimHook replaces the reclaim callback run by
// TryReleaseBlocks.  The default is runtime.GC, mirroring a host
// runtime garbage pass that may destroy unreachable allocation handles
// and return their blocks to the pool.
func WithReclaimHook(fn func()) DeviceOption {
	return func(d *DeviceAllocator) {
		d.reclaim = fn
	}
}

func NewDeviceAllocator(driver Driver, ctx Context, opts ...DeviceOption) *DeviceAllocator {
	d := &DeviceAllocator{
		driver:  driver,
		ctx:     ctx,
		reclaim: runtime.GC,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var _ RawAllocator = new(DeviceAllocator)

func (d *DeviceAllocator) Allocate(size uint64) (uintptr, error) {
	var ptr uintptr
	err := withActivated(d.ctx, func() error {
		p, err := d.driver.MemAlloc(size)
		if err != nil {
			return err
		}
		ptr = p
		return nil
	})
	if err != nil {
		return 0, err
	}
	return ptr, nil
}

func (d *DeviceAllocator) Free(ptr uintptr, _ uint64) error {
	return withActivated(d.ctx, func() error {
		return d.driver.MemFree(ptr)
	})
}

func (d *DeviceAllocator) TryReleaseBlocks() {
	if d.reclaim != nil {
		d.reclaim()
	}
}
