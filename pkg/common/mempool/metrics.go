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

package mempool

import "github.com/prometheus/client_golang/prometheus"

// MetricsAllocator decorates a RawAllocator with prometheus counters.
// Any collector may be nil to skip that metric.  Collectors are shared
// safely between decorators, so many pools can report into one set.
type MetricsAllocator struct {
	upstream RawAllocator

	allocateBytesCounter prometheus.Counter
	inuseBytesGauge      prometheus.Gauge
	allocateCallsCounter prometheus.Counter
	reclaimCallsCounter  prometheus.Counter
}

func NewMetricsAllocator(
	upstream RawAllocator,
	allocateBytesCounter prometheus.Counter,
	inuseBytesGauge prometheus.Gauge,
	allocateCallsCounter prometheus.Counter,
	reclaimCallsCounter prometheus.Counter,
) *MetricsAllocator {
	return &MetricsAllocator{
		upstream:             upstream,
		allocateBytesCounter: allocateBytesCounter,
		inuseBytesGauge:      inuseBytesGauge,
		allocateCallsCounter: allocateCallsCounter,
		reclaimCallsCounter:  reclaimCallsCounter,
	}
}

var _ RawAllocator = new(MetricsAllocator)

func (m *MetricsAllocator) Allocate(size uint64) (uintptr, error) {
	ptr, err := m.upstream.Allocate(size)
	if err != nil {
		return 0, err
	}
	if m.allocateBytesCounter != nil {
		m.allocateBytesCounter.Add(float64(size))
	}
	if m.inuseBytesGauge != nil {
		m.inuseBytesGauge.Add(float64(size))
	}
	if m.allocateCallsCounter != nil {
		m.allocateCallsCounter.Inc()
	}
	return ptr, nil
}

func (m *MetricsAllocator) Free(ptr uintptr, size uint64) error {
	if err := m.upstream.Free(ptr, size); err != nil {
		return err
	}
	if m.inuseBytesGauge != nil {
		m.inuseBytesGauge.Sub(float64(size))
	}
	return nil
}

func (m *MetricsAllocator) TryReleaseBlocks() {
	if m.reclaimCallsCounter != nil {
		m.reclaimCallsCounter.Inc()
	}
	m.upstream.TryReleaseBlocks()
}
