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

// devpool-bench stress-drives bucketed pools over simulated devices.
// Each worker owns one pool; undersized device capacities force the
// pools through their reclaim and flush recovery paths.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devpool-io/devpool/pkg/common/dperr"
	"github.com/devpool-io/devpool/pkg/common/mempool"
	"github.com/devpool-io/devpool/pkg/common/mempool/memsim"
	"github.com/devpool-io/devpool/pkg/logutil"
	"github.com/dustin/go-humanize"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	configFile = flag.String("cfg", "", "toml configuration used to start devpool-bench")
)

type rawMetrics struct {
	allocateBytes prometheus.Counter
	inuseBytes    prometheus.Gauge
	allocateCalls prometheus.Counter
	reclaimCalls  prometheus.Counter
}

func newRawMetrics(reg prometheus.Registerer) *rawMetrics {
	m := &rawMetrics{
		allocateBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devpool", Subsystem: "raw",
			Name: "allocate_bytes_total",
			Help: "Bytes allocated from the raw allocators.",
		}),
		inuseBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devpool", Subsystem: "raw",
			Name: "inuse_bytes",
			Help: "Bytes currently held or checked out.",
		}),
		allocateCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devpool", Subsystem: "raw",
			Name: "allocate_calls_total",
			Help: "Calls that reached the raw allocators.",
		}),
		reclaimCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devpool", Subsystem: "raw",
			Name: "reclaim_calls_total",
			Help: "Reclaim hook invocations during allocation recovery.",
		}),
	}
	reg.MustRegister(m.allocateBytes, m.inuseBytes, m.allocateCalls, m.reclaimCalls)
	return m
}

func main() {
	flag.Parse()

	cfg, err := parseConfigFromFile(*configFile)
	if err != nil {
		panic(fmt.Sprintf("failed to parse config from %q, error: %v", *configFile, err))
	}
	if err := logutil.Setup(&cfg.Log); err != nil {
		panic(err)
	}

	registry := prometheus.NewRegistry()
	metrics := newRawMetrics(registry)
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logutil.Error("metrics listener failed", zap.Error(err))
			}
		}()
		logutil.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))
	}

	logutil.Info("starting bench",
		zap.Int("workers", cfg.Workers),
		zap.Int("iterations", cfg.Iterations),
		zap.String("max alloc size", cfg.MaxAllocSize),
		zap.String("device capacity", cfg.DeviceCapacity))

	var (
		totalAllocs  atomic.Int64
		totalOOMs    atomic.Int64
		totalRawOps  atomic.Int64
		totalFlushes atomic.Int64
	)

	workers, err := ants.NewPool(cfg.Workers)
	if err != nil {
		panic(err)
	}
	defer workers.Release()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		seed := int64(i)
		wg.Add(1)
		if err := workers.Submit(func() {
			defer wg.Done()
			stats := runWorker(cfg, metrics, seed)
			totalAllocs.Add(stats.NumAlloc.Load())
			totalOOMs.Add(stats.oomCount)
			totalRawOps.Add(stats.NumRawAlloc.Load() + stats.NumRawFree.Load())
			totalFlushes.Add(stats.NumFlush.Load())
		}); err != nil {
			panic(err)
		}
	}
	wg.Wait()
	elapsed := time.Since(start)

	logutil.Info("bench finished",
		zap.Duration("elapsed", elapsed),
		zap.Int64("allocations", totalAllocs.Load()),
		zap.Int64("ooms", totalOOMs.Load()),
		zap.Int64("raw ops", totalRawOps.Load()),
		zap.Int64("flushes", totalFlushes.Load()),
		zap.String("alloc rate",
			fmt.Sprintf("%s/s", humanize.Comma(int64(float64(totalAllocs.Load())/elapsed.Seconds())))))
}

type workerStats struct {
	*mempool.Stats
	oomCount int64
}

func runWorker(cfg *Config, metrics *rawMetrics, seed int64) workerStats {
	rnd := rand.New(rand.NewSource(seed))

	dev := memsim.NewDevice(cfg.capacityBytes)
	ctx := memsim.NewCtx()

	// live handles the reclaim hook can give back, re-entering the
	// pool's free lists mid-allocate the way a host GC pass would
	var live []*mempool.Allocation

	raw := mempool.NewDeviceAllocator(dev, ctx,
		mempool.WithReclaimHook(func() {
			drop := len(live) / 2
			for _, a := range live[:drop] {
				if err := a.Free(); err != nil {
					logutil.Error("reclaim free failed", zap.Error(err))
				}
			}
			live = live[drop:]
		}))

	pool := mempool.NewPool(
		mempool.NewMetricsAllocator(raw,
			metrics.allocateBytes, metrics.inuseBytes,
			metrics.allocateCalls, metrics.reclaimCalls),
		mempool.WithBlockHolder(mempool.NewHoldingContext(ctx)),
		mempool.WithLogger(logutil.GetGlobalLogger().Named("bench")),
	)

	var ooms int64
	for i := 0; i < cfg.Iterations; i++ {
		size := uint64(rnd.Int63n(int64(cfg.maxAllocBytes))) + 1
		a, err := pool.Allocate(size)
		if err != nil {
			if dperr.IsOOM(err) {
				ooms++
				continue
			}
			logutil.Error("allocate failed", zap.Error(err))
			break
		}
		live = append(live, a)

		// keep a bounded working set
		for len(live) > 32 {
			victim := rnd.Intn(len(live))
			if err := live[victim].Free(); err != nil {
				logutil.Error("free failed", zap.Error(err))
			}
			live[victim] = live[len(live)-1]
			live = live[:len(live)-1]
		}
	}
	for _, a := range live {
		if err := a.Free(); err != nil {
			logutil.Error("free failed", zap.Error(err))
		}
	}
	if err := pool.Close(); err != nil {
		logutil.Error("close failed", zap.Error(err))
	}

	return workerStats{Stats: pool.Stats(), oomCount: ooms}
}
