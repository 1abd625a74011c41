// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ledger

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type builderMetrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func (m *builderMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.calls = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certix_ledger_calls_total",
			Help: "total number of ledger network calls",
		},
		[]string{"op", "result"},
	)
	m.duration = promautoFactory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "certix_ledger_call_duration_seconds",
			Help:    "latency of ledger network calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"op"},
	)
}

func (m *builderMetrics) observe(op string, elapsed time.Duration, err error) {
	if m.calls == nil {
		return
	}
	result := "ok"
	var simErr *SimulationError
	var submitErr *SubmitError
	switch {
	case err == nil:
	case errors.As(err, &simErr):
		result = "simulation_error"
	case errors.As(err, &submitErr):
		result = "rejected"
	default:
		result = "error"
	}
	m.calls.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}
