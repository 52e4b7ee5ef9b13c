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

import "sync/atomic"

// Stats are cumulative pool counters.  They are atomics so that
// monitoring code may read them while the owning goroutine drives the
// pool.
type Stats struct {
	// NumAlloc / NumFree count handle checkouts and returns.
	NumAlloc atomic.Int64
	NumFree  atomic.Int64

	// NumRawAlloc / NumRawFree count calls that reached the raw
	// allocator.  NumAlloc - NumRawAlloc is the free-list hit count.
	NumRawAlloc atomic.Int64
	NumRawFree  atomic.Int64

	// NumGCRetry counts reclaim-hook invocations during allocation
	// recovery; NumFlush counts last-resort full flushes.
	NumGCRetry atomic.Int64
	NumFlush   atomic.Int64

	NumDetach atomic.Int64

	// HighWaterBytes is the peak of checked-out bytes.
	HighWaterBytes atomic.Int64
}
