// Copyright 2025 The DevPool Authors
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

// Package memsim provides a deterministic simulated device driver and
// context, used by tests and by devpool-bench to exercise pool behavior
// (exhaustion, reclaim retry, flush) without real hardware.
package memsim

import (
	"github.com/devpool-io/devpool/pkg/common/dperr"
	"github.com/devpool-io/devpool/pkg/common/mempool"
)

// Device simulates device memory with a fixed capacity.  Allocation
// failures can additionally be scripted with FailNext.
type Device struct {
	capacity uint64
	used     uint64
	next     uintptr
	allocs   map[uintptr]uint64

	failNext int

	numAlloc int
	numFree  int
}

// NewDevice returns a device with capacity bytes of simulated memory;
// capacity 0 means unlimited.
func NewDevice(capacity uint64) *Device {
	return &Device{
		capacity: capacity,
		next:     0x1000,
		allocs:   make(map[uintptr]uint64),
	}
}

var _ mempool.Driver = new(Device)

func (d *Device) MemAlloc(size uint64) (uintptr, error) {
	if d.failNext > 0 {
		d.failNext--
		return 0, dperr.NewOOM("scripted failure")
	}
	if d.capacity > 0 && d.used+size > d.capacity {
		return 0, dperr.NewOOM("device capacity %d exceeded (%d in use, %d requested)",
			d.capacity, d.used, size)
	}
	ptr := d.next
	d.next += uintptr(size)
	d.allocs[ptr] = size
	d.used += size
	d.numAlloc++
	return ptr, nil
}

func (d *Device) MemFree(ptr uintptr) error {
	size, ok := d.allocs[ptr]
	if !ok {
		return dperr.NewInvalidState("free of unknown device block %#x", ptr)
	}
	delete(d.allocs, ptr)
	d.used -= size
	d.numFree++
	return nil
}

// FailNext makes the next n MemAlloc calls fail with OOM regardless of
// capacity.
func (d *Device) FailNext(n int) {
	d.failNext = n
}

func (d *Device) InUse() uint64 {
	return d.used
}

func (d *Device) Allocs() int {
	return d.numAlloc
}

func (d *Device) Frees() int {
	return d.numFree
}

// Ctx simulates a device context and records activation traffic.
type Ctx struct {
	depth       int
	activates   int
	deactivates int

	// FailActivate makes every Activate call fail, simulating a fatal
	// driver condition.
	FailActivate bool
}

func NewCtx() *Ctx {
	return &Ctx{}
}

var _ mempool.Context = new(Ctx)

func (c *Ctx) Activate() error {
	if c.FailActivate {
		return dperr.NewInternal("simulated context activation failure")
	}
	c.depth++
	c.activates++
	return nil
}

func (c *Ctx) Deactivate() error {
	if c.depth == 0 {
		return dperr.NewInvalidState("deactivate without active context")
	}
	c.depth--
	c.deactivates++
	return nil
}

// Depth is the current activation nesting.
func (c *Ctx) Depth() int {
	return c.depth
}

func (c *Ctx) Activates() int {
	return c.activates
}

func (c *Ctx) Deactivates() int {
	return c.deactivates
}
