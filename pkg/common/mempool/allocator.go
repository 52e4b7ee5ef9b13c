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

// RawAllocator is the capability a Pool sits in front of.  It performs
// the true, expensive allocation: device memory behind a driver, or
// page-locked host memory from the kernel.
//
// Allocate reports exhaustion with a dperr OOM error; only that error
// triggers the pool's recovery sequence, everything else propagates to
// the caller untouched.
type RawAllocator interface {
	// Allocate returns the address of a new block of exactly size
	// bytes.
	Allocate(size uint64) (uintptr, error)

	// Free releases a block previously returned by Allocate.  Freeing
	// an address twice is undefined behavior at this layer; the Pool
	// and Allocation handle guard against it above.
	Free(ptr uintptr, size uint64) error

	// TryReleaseBlocks asks an external reclaimer to drop references
	// to pool-owned allocations that are no longer reachable.  It is
	// best effort and may synchronously re-enter the owning pool's
	// free-list insertion path.
	TryReleaseBlocks()
}
