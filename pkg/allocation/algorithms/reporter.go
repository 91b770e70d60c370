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

	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/vmalloc/vmalloc/pkg/allocation/framework"
)

// Reporter receives progress notifications from a running search.
type Reporter interface {
	Initializing(algorithm string)
	// SolutionFound is called once per accepted solution.
	SolutionFound(sol framework.Solution)
	Complete(exact bool)
	TimedOut()
	Unsatisfiable()
}

type nopReporter struct{}

func (nopReporter) Initializing(string)              {}
func (nopReporter) SolutionFound(framework.Solution) {}
func (nopReporter) Complete(bool)                    {}
func (nopReporter) TimedOut()                        {}
func (nopReporter) Unsatisfiable()                   {}

// LogReporter writes progress as structured log lines.
type LogReporter struct {
	logger   klog.Logger
	clock    clock.PassiveClock
	start    time.Time
	accepted int
}

var _ Reporter = &LogReporter{}

// NewLogReporter returns a reporter logging to logger. Elapsed times are
// measured with clk.
func NewLogReporter(logger klog.Logger, clk clock.PassiveClock) *LogReporter {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &LogReporter{logger: logger, clock: clk}
}

func (r *LogReporter) Initializing(algorithm string) {
	r.start = r.clock.Now()
	r.accepted = 0
	r.logger.Info("Initializing search", "algorithm", algorithm)
}

func (r *LogReporter) SolutionFound(sol framework.Solution) {
	r.accepted++
	r.logger.Info("Found non-dominated solution",
		"index", r.accepted,
		"energy", sol.Values.Energy.String(),
		"wastage", sol.Values.Wastage.String(),
		"migration", sol.Values.Migration,
		"elapsed", r.clock.Since(r.start))
	r.logger.V(3).Info("Placement", "allocation", sol.Allocation)
}

func (r *LogReporter) Complete(exact bool) {
	r.logger.Info("Search complete", "solutions", r.accepted, "exact", exact, "elapsed", r.clock.Since(r.start))
}

func (r *LogReporter) TimedOut() {
	r.logger.Info("Search timed out", "solutions", r.accepted, "elapsed", r.clock.Since(r.start))
}

func (r *LogReporter) Unsatisfiable() {
	r.logger.Info("Instance has no feasible placement", "elapsed", r.clock.Since(r.start))
}

// MultiReporter forwards every notification to each of its reporters.
type MultiReporter []Reporter

func (m MultiReporter) Initializing(algorithm string) {
	for _, r := range m {
		r.Initializing(algorithm)
	}
}

func (m MultiReporter) SolutionFound(sol framework.Solution) {
	for _, r := range m {
		r.SolutionFound(sol)
	}
}

func (m MultiReporter) Complete(exact bool) {
	for _, r := range m {
		r.Complete(exact)
	}
}

func (m MultiReporter) TimedOut() {
	for _, r := range m {
		r.TimedOut()
	}
}

func (m MultiReporter) Unsatisfiable() {
	for _, r := range m {
		r.Unsatisfiable()
	}
}
