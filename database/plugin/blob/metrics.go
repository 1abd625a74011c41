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

package blob

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamePrefix = "certix_blob_"

// Metrics counts blob operations for a backend. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	ops   *prometheus.CounterVec
	bytes *prometheus.CounterVec
}

// NewMetrics registers blob metrics with the given registry. It returns nil
// when registry is nil.
func NewMetrics(registry prometheus.Registerer, backend string) *Metrics {
	if registry == nil {
		return nil
	}
	factory := promauto.With(registry)
	return &Metrics{
		ops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        metricNamePrefix + "ops_total",
				Help:        "Total number of blob operations",
				ConstLabels: prometheus.Labels{"backend": backend},
			},
			[]string{"op", "result"},
		),
		bytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        metricNamePrefix + "bytes_total",
				Help:        "Total bytes read/written for blob operations",
				ConstLabels: prometheus.Labels{"backend": backend},
			},
			[]string{"op"},
		),
	}
}

// Observe records one operation
func (m *Metrics) Observe(op string, size int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case errors.Is(err, ErrBlobNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	m.ops.WithLabelValues(op, result).Inc()
	if err == nil && size > 0 {
		m.bytes.WithLabelValues(op).Add(float64(size))
	}
}
