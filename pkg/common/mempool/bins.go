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

import "math/bits"

const (
	// MinBinBytes is the allocation size of bin 0.  Every request,
	// including size 0, classifies into bin 0 or above, and bin sizes
	// double from there.
	MinBinBytes uint64 = 256

	minBinShift = 8
)

// Bitlog2 returns floor(log2(x)).  Bitlog2(0) is 0.
func Bitlog2(x uint64) uint32 {
	if x == 0 {
		return 0
	}
	return uint32(bits.Len64(x) - 1)
}

// BinNumber classifies a requested size into a bin.  The mapping is
// monotonic: s1 <= s2 implies BinNumber(s1) <= BinNumber(s2).  All
// blocks in one bin share the fixed size AllocSize(bin), which is
// always >= the request, and never more than twice it (beyond bin 0).
func BinNumber(size uint64) uint32 {
	if size <= MinBinBytes {
		return 0
	}
	return Bitlog2(size-1) + 1 - minBinShift
}

// AllocSize is the inverse of BinNumber: the byte size a bin allocates.
// AllocSize(BinNumber(s)) >= s and BinNumber(AllocSize(b)) == b.
//
// Bins above 55 overflow uint64; Pool.Allocate rejects such requests
// before ever computing them.
func AllocSize(bin uint32) uint64 {
	return MinBinBytes << bin
}
