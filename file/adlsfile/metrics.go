// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package adlsfile

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metricSet struct {
	ops      *prometheus.CounterVec
	retries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	bytes    prometheus.Counter
	lookups  *prometheus.CounterVec
}

func newMetricSet(reg prometheus.Registerer) *metricSet {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &metricSet{
		ops: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "adlsfs_ops_total",
				Help: "Number of ADLS request steps by operation",
			},
			[]string{"op"},
		),
		retries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "adlsfs_retries_total",
				Help: "Number of retried ADLS requests by operation",
			},
			[]string{"op"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "adlsfs_op_duration_seconds",
				Help:    "Duration of ADLS request steps, including retries",
				Buckets: []float64{.001, .01, .1, 1, 10, 100},
			},
			[]string{"op"},
		),
		bytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "adlsfs_bytes_written_total",
				Help: "Bytes acknowledged by append requests",
			},
		),
		lookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "adlsfs_statcache_lookups_total",
				Help: "Metadata cache lookups by result",
			},
			[]string{"result"},
		),
	}
}

type metricOp struct {
	set *metricSet
	op  string
}

func (m *metricSet) Op(op string) metricOp { return metricOp{m, op} }

func (m *metricSet) cacheHit()  { m.lookups.WithLabelValues("hit").Inc() }
func (m *metricSet) cacheMiss() { m.lookups.WithLabelValues("miss").Inc() }

type metricOpProgress struct {
	parent metricOp
	start  time.Time
}

func (m metricOp) Start() *metricOpProgress {
	m.set.ops.WithLabelValues(m.op).Inc()
	return &metricOpProgress{m, time.Now()}
}

func (m *metricOpProgress) Retry() { m.parent.set.retries.WithLabelValues(m.parent.op).Inc() }

func (m *metricOpProgress) Bytes(b int) { m.parent.set.bytes.Add(float64(b)) }

func (m *metricOpProgress) Done() {
	m.parent.set.duration.WithLabelValues(m.parent.op).Observe(time.Since(m.start).Seconds())
}
