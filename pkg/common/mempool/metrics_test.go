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

package mempool_test

import (
	"testing"

	"github.com/devpool-io/devpool/pkg/common/mempool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsAllocator(t *testing.T) {
	allocateBytes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "devpool_raw_allocate_bytes_total",
	})
	inuseBytes := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "devpool_raw_inuse_bytes",
	})
	allocateCalls := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "devpool_raw_allocate_calls_total",
	})
	reclaimCalls := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "devpool_raw_reclaim_calls_total",
	})

	ra := newTestAllocator()
	m := mempool.NewMetricsAllocator(ra, allocateBytes, inuseBytes, allocateCalls, reclaimCalls)
	pool := mempool.NewPool(m)

	a, err := pool.Allocate(1000)
	require.NoError(t, err)
	require.Equal(t, float64(1024), testutil.ToFloat64(allocateBytes))
	require.Equal(t, float64(1024), testutil.ToFloat64(inuseBytes))
	require.Equal(t, float64(1), testutil.ToFloat64(allocateCalls))

	// free-list traffic is invisible to the raw metrics
	require.NoError(t, a.Free())
	require.Equal(t, float64(1024), testutil.ToFloat64(inuseBytes))

	b, err := pool.Allocate(1000)
	require.NoError(t, err)
	require.Equal(t, float64(1), testutil.ToFloat64(allocateCalls))
	require.NoError(t, b.Free())

	require.NoError(t, pool.FreeHeld())
	require.Equal(t, float64(0), testutil.ToFloat64(inuseBytes))

	ra.failures = 1
	c, err := pool.Allocate(1000)
	require.NoError(t, err)
	require.Equal(t, float64(1), testutil.ToFloat64(reclaimCalls))
	require.NoError(t, c.Free())
}

func TestMetricsAllocatorNilCollectors(t *testing.T) {
	m := mempool.NewMetricsAllocator(newTestAllocator(), nil, nil, nil, nil)
	pool := mempool.NewPool(m)
	a, err := pool.Allocate(100)
	require.NoError(t, err)
	require.NoError(t, a.Free())
	m.TryReleaseBlocks()
}
