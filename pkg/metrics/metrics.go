/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package metrics

import (
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	namespace = "fabric"
)

// Metric variables are initialized at declaration so callers can record
// before Init wires up the registry. Init only decides what gets exposed.
var (
	once     sync.Once
	registry *prometheus.Registry

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"method"},
	)

	S2SCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "s2s_calls_total",
			Help:      "Total number of outbound S2S calls",
		},
		[]string{"target", "outcome"},
	)

	MirrorLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_lookups_total",
			Help:      "Total number of config mirror resolutions",
		},
		[]string{"result"},
	)

	TokenVerifiedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_verifications_total",
			Help:      "Total number of hop token verifications",
		},
		[]string{"outcome"},
	)

	HopsMintedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hops_minted_total",
			Help:      "Total number of hop tokens minted",
		},
	)

	SigningKeyRotations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signing_key_rotations_total",
			Help:      "Total number of ephemeral signing key rotations",
		},
	)

	WalAppendsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wal_appends_total",
			Help:      "Total number of journaled audit blobs",
		},
	)

	WalAppendFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wal_append_failures_total",
			Help:      "Total number of journal append failures",
		},
	)

	WalSegmentRotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wal_segment_rotations_total",
			Help:      "Total number of WAL segment rotations",
		},
	)

	WalReplayDeliveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wal_replay_delivered_total",
			Help:      "Total number of audit blobs delivered by replay",
		},
	)

	WalReplayBackoffsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wal_replay_backoffs_total",
			Help:      "Total number of replay delivery failures that triggered backoff",
		},
	)

	WalQuarantinedSegmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wal_quarantined_segments_total",
			Help:      "Total number of quarantined WAL segments",
		},
	)

	Up = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "Whether the process is up",
		},
	)
)

// Init initializes the metrics registry with all collectors. Collection is
// always on; configuration only decides whether the exposition server runs.
func Init() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "goroutines",
				Help:      "Number of goroutines",
			},
			func() float64 { return float64(runtime.NumGoroutine()) },
		))

		registry.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
			S2SCallsTotal,
			MirrorLookupsTotal,
			TokenVerifiedTotal,
			HopsMintedTotal,
			SigningKeyRotations,
			WalAppendsTotal,
			WalAppendFailuresTotal,
			WalSegmentRotationsTotal,
			WalReplayDeliveredTotal,
			WalReplayBackoffsTotal,
			WalQuarantinedSegmentsTotal,
			Up,
		)

		Up.Set(1)
	})
	return registry
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	if registry == nil {
		return Init()
	}
	return registry
}

// Middleware records per-request counters and latency.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDurationSeconds.WithLabelValues(
			c.Request.Method).Observe(time.Since(start).Seconds())
	}
}
