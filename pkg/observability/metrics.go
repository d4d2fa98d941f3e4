// Copyright 2025 Tom Barlow
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

package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus instruments.
type Metrics struct {
	stepsTotal      *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
	stageDuration   *prometheus.HistogramVec
	violationsTotal *prometheus.CounterVec
}

// NewMetrics registers the engine instruments on the given registerer.
// Pass prometheus.NewRegistry() in tests to avoid global-state collisions.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conveyor",
			Name:      "steps_total",
			Help:      "Step dispatches by step name and outcome.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "conveyor",
			Name:      "step_duration_seconds",
			Help:      "Step execution time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "conveyor",
			Name:      "stage_duration_seconds",
			Help:      "Stage execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"stage", "status"}),
		violationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conveyor",
			Name:      "resource_violations_total",
			Help:      "Resource limit violations by type.",
		}, []string{"type"}),
	}
	reg.MustRegister(m.stepsTotal, m.stepDuration, m.stageDuration, m.violationsTotal)
	return m
}

// ObserveStep records one step dispatch.
func (m *Metrics) ObserveStep(step, status string, d time.Duration) {
	m.stepsTotal.WithLabelValues(step, status).Inc()
	m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// ObserveStage records one stage completion.
func (m *Metrics) ObserveStage(stage, status string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

// ObserveViolation records one resource violation.
func (m *Metrics) ObserveViolation(violationType string) {
	m.violationsTotal.WithLabelValues(violationType).Inc()
}
