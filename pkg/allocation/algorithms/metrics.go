/*
Copyright 2024 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package algorithms

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/vmalloc/vmalloc/pkg/allocation/constraints"
)

const (
	AlgorithmLabel = "algorithm"
	ResultLabel    = "result"
)

// Metrics counts solver activity. A nil *Metrics records nothing.
type Metrics struct {
	solverCalls       *prometheus.CounterVec
	solveDuration     *prometheus.HistogramVec
	acceptedSolutions *prometheus.CounterVec
	epochs            *prometheus.CounterVec
	contradictions    *prometheus.CounterVec
}

// NewMetrics returns unregistered search metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		solverCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmalloc_solver_calls_total",
				Help: "Number of solver calls by outcome",
			},
			[]string{AlgorithmLabel, ResultLabel},
		),
		solveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vmalloc_solve_duration_seconds",
				Help:    "Wall time of single solver calls",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
			},
			[]string{AlgorithmLabel},
		),
		acceptedSolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmalloc_accepted_solutions_total",
				Help: "Number of solutions accepted into the frontier",
			},
			[]string{AlgorithmLabel},
		),
		epochs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmalloc_epochs_total",
				Help: "Number of completed epochs or rounds",
			},
			[]string{AlgorithmLabel},
		),
		contradictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmalloc_contradictions_total",
				Help: "Number of constraint additions refuted by propagation",
			},
			[]string{AlgorithmLabel},
		),
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	var errs []error
	for _, c := range []prometheus.Collector{m.solverCalls, m.solveDuration, m.acceptedSolutions, m.epochs, m.contradictions} {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

func (m *Metrics) observeSolve(algorithm string, status constraints.Status, d time.Duration) {
	if m == nil {
		return
	}
	m.solverCalls.WithLabelValues(algorithm, status.String()).Inc()
	m.solveDuration.WithLabelValues(algorithm).Observe(d.Seconds())
}

func (m *Metrics) accepted(algorithm string) {
	if m == nil {
		return
	}
	m.acceptedSolutions.WithLabelValues(algorithm).Inc()
}

func (m *Metrics) epoch(algorithm string) {
	if m == nil {
		return
	}
	m.epochs.WithLabelValues(algorithm).Inc()
}

func (m *Metrics) contradiction(algorithm string) {
	if m == nil {
		return
	}
	m.contradictions.WithLabelValues(algorithm).Inc()
}
