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
	"runtime"

	"github.com/devpool-io/devpool/pkg/common/dperr"
)

// Context is the capability of a device context that must be current on
// the calling thread before device memory operations succeed.  The
// current context is a thread-local driver concept, so Activate and the
// driver call it guards must run on the same OS thread.
type Context interface {
	// Activate pushes the context on the calling thread.
	Activate() error
	// Deactivate pops the context from the calling thread.
	Deactivate() error
}

// withActivated runs fn with ctx current on a locked OS thread,
// restoring the prior context afterwards.  Activation failure is fatal
// for the guarded call and is never retried.
func withActivated(ctx Context, fn func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := ctx.Activate(); err != nil {
		return dperr.NewContextFailed(err, "activate")
	}
	callErr := fn()
	if err := ctx.Deactivate(); err != nil && callErr == nil {
		callErr = dperr.NewContextFailed(err, "deactivate")
	}
	return callErr
}

// BlockHolder receives the pool's held-block lifecycle signals:
// StartHoldingBlocks right before the held count goes 0 -> 1, and
// StopHoldingBlocks right after it returns to 0.
type BlockHolder interface {
	StartHoldingBlocks() error
	StopHoldingBlocks() error
}

// HoldingContext is the explicit activation policy: it keeps the device
// context acquired for as long as the pool retains at least one block,
// amortizing per-call activation cost for pools that stay warm.
type HoldingContext struct {
	ctx  Context
	held bool
}

func NewHoldingContext(ctx Context) *HoldingContext {
	return &HoldingContext{ctx: ctx}
}

var _ BlockHolder = new(HoldingContext)

func (h *HoldingContext) StartHoldingBlocks() error {
	if h.held {
		return nil
	}
	if err := h.ctx.Activate(); err != nil {
		return dperr.NewContextFailed(err, "activate")
	}
	h.held = true
	return nil
}

func (h *HoldingContext) StopHoldingBlocks() error {
	if !h.held {
		return nil
	}
	h.held = false
	if err := h.ctx.Deactivate(); err != nil {
		return dperr.NewContextFailed(err, "deactivate")
	}
	return nil
}
