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

package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK    = "ok"
	resultError = "error"
)

type lifecycleMetrics struct {
	registrations   *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	orphanedAnchors prometheus.Counter
}

func (m *lifecycleMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.registrations = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certix_registrations_total",
			Help: "certificate registrations by result",
		},
		[]string{"result"},
	)
	m.decisions = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certix_decisions_total",
			Help: "certificate decisions by decision and result",
		},
		[]string{"decision", "result"},
	)
	m.orphanedAnchors = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "certix_orphaned_anchors_total",
			Help: "anchor transactions accepted by the ledger without a stored certificate",
		},
	)
}

func resultLabel(err error) string {
	if err != nil {
		return resultError
	}
	return resultOK
}
