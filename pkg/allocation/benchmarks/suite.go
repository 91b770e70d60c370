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

package benchmarks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/vmalloc/vmalloc/pkg/allocation/algorithms"
	"github.com/vmalloc/vmalloc/pkg/allocation/constraints"
	"github.com/vmalloc/vmalloc/pkg/allocation/framework"
	"github.com/vmalloc/vmalloc/pkg/allocation/objectives"
	"github.com/vmalloc/vmalloc/pkg/allocation/util"
)

// Problem is a named benchmark instance.
type Problem struct {
	Name     string
	Instance *framework.Instance
}

// SuiteConfig configures a Suite.
type SuiteConfig struct {
	Algorithms []string
	// Budget bounds each run. Zero means no deadline.
	Budget time.Duration
	Search algorithms.Config
	// OutputDir receives one frontier plot per run when set.
	OutputDir string
	Clock     clock.PassiveClock
	// GreedyVectors is the number of weight vectors of the greedy baseline.
	GreedyVectors int
}

// Report summarizes one algorithm run against the exhaustive frontier.
type Report struct {
	Problem   string
	Algorithm string
	State     algorithms.State
	Exact     bool
	Found     int
	TrueSize  int
	// Matched counts true frontier vectors the run found.
	Matched int
	// IGD is the inverted generational distance from the true frontier to
	// the found one in normalized objective space.
	IGD     float64
	Elapsed time.Duration
}

func (r Report) String() string {
	return fmt.Sprintf("%s/%s: state=%s found=%d matched=%d/%d igd=%.4f elapsed=%s",
		r.Problem, r.Algorithm, r.State, r.Found, r.Matched, r.TrueSize, r.IGD, r.Elapsed)
}

// Suite runs a set of algorithms over a set of problems.
type Suite struct {
	cfg      SuiteConfig
	problems []Problem
}

// NewSuite creates a new benchmark suite.
func NewSuite(cfg SuiteConfig) *Suite {
	if len(cfg.Algorithms) == 0 {
		cfg.Algorithms = []string{algorithms.GIAName, algorithms.ParetoCLDName}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.GreedyVectors <= 0 {
		cfg.GreedyVectors = 5
	}
	return &Suite{cfg: cfg}
}

// AddProblem adds a problem to the suite.
func (s *Suite) AddProblem(p Problem) {
	s.problems = append(s.problems, p)
}

// AddStandardProblems adds small random instances whose frontier can be
// enumerated exhaustively.
func (s *Suite) AddStandardProblems() {
	for _, cfg := range []GeneratorConfig{
		{Machines: 2, Jobs: 4, Load: 0.5, Seed: 1},
		{Machines: 3, Jobs: 4, Load: 0.4, PriorFraction: 1, Seed: 2},
		{Machines: 3, Jobs: 5, Load: 0.5, PriorFraction: 0.5, DecommissionFraction: 0.3, Seed: 3},
		{Machines: 4, Jobs: 5, Load: 0.3, PriorFraction: 1, AntiColocationGroups: 2, Seed: 4},
	} {
		inst := Generate(cfg)
		s.AddProblem(Problem{Name: inst.Name, Instance: inst})
	}
}

// Run executes every algorithm on every problem.
func (s *Suite) Run(ctx context.Context) ([]Report, error) {
	logger := klog.FromContext(ctx)
	if s.cfg.OutputDir != "" {
		if err := os.MkdirAll(s.cfg.OutputDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	var reports []Report
	for _, p := range s.problems {
		precision := s.cfg.Search.Precision
		if precision <= 0 {
			precision = objectives.DefaultPrecision
		}
		truth, err := ExhaustiveFrontier(p.Instance, precision)
		if err != nil {
			return reports, fmt.Errorf("enumerating %s: %w", p.Name, err)
		}

		for _, name := range s.cfg.Algorithms {
			res, err := s.run(ctx, name, p.Instance, precision)
			if err != nil {
				return reports, fmt.Errorf("running %s on %s: %w", name, p.Name, err)
			}
			found := res.Frontier
			if len(found) == 0 && res.Incumbent != nil {
				found = []framework.Solution{*res.Incumbent}
			}

			r := Report{
				Problem:   p.Name,
				Algorithm: name,
				State:     res.State,
				Exact:     res.Exact,
				Found:     len(found),
				TrueSize:  len(truth),
				Matched:   matched(found, truth),
				IGD:       IGD(found, truth),
				Elapsed:   res.Elapsed,
			}
			logger.Info("Benchmark run", "problem", p.Name, "algorithm", name, "state", r.State, "found", r.Found, "matched", r.Matched, "true", r.TrueSize, "igd", r.IGD)
			reports = append(reports, r)

			if s.cfg.OutputDir != "" && len(found) > 0 {
				path := filepath.Join(s.cfg.OutputDir, fmt.Sprintf("%s_%s_frontier.html", p.Name, name))
				if err := util.PlotFrontier(found, truth, fmt.Sprintf("%s on %s", name, p.Name), path); err != nil {
					logger.Error(err, "Failed to plot frontier", "problem", p.Name, "algorithm", name)
				}
			}
		}
	}
	return reports, nil
}

func (s *Suite) run(ctx context.Context, name string, inst *framework.Instance, precision int32) (*algorithms.Result, error) {
	if name == GreedyName {
		start := s.cfg.Clock.Now()
		evaluate, err := Evaluator(inst, precision)
		if errors.Is(err, constraints.ErrContradiction) {
			return &algorithms.Result{Algorithm: name, State: algorithms.Unsatisfiable}, nil
		}
		if err != nil {
			return nil, err
		}
		found := Greedy(inst, s.cfg.GreedyVectors, evaluate)
		state := algorithms.Done
		if len(found) == 0 {
			state = algorithms.Unsatisfiable
		}
		return &algorithms.Result{Algorithm: name, State: state, Frontier: found, Elapsed: s.cfg.Clock.Since(start)}, nil
	}

	cfg := s.cfg.Search
	cfg.Deadline = algorithms.NewDeadline(s.cfg.Clock, s.cfg.Budget)
	a, err := algorithms.New(name, inst, cfg)
	if err != nil {
		return nil, err
	}
	return algorithms.Run(ctx, a)
}

func matched(found, truth []framework.Solution) int {
	keys := make(map[string]bool, len(found))
	for _, s := range found {
		keys[Key(s.Values)] = true
	}
	n := 0
	for _, s := range truth {
		if keys[Key(s.Values)] {
			n++
		}
	}
	return n
}

// IGD returns the mean Euclidean distance from each true frontier point to
// its nearest found point, with every objective scaled to [0, 1] over the
// true frontier. An empty found set yields +Inf.
func IGD(found, truth []framework.Solution) float64 {
	if len(truth) == 0 {
		return 0
	}
	if len(found) == 0 {
		return math.Inf(1)
	}
	lo, hi := bounds(truth)
	total := 0.0
	for _, t := range truth {
		tp := normalize(point(t.Values), lo, hi)
		best := math.Inf(1)
		for _, f := range found {
			if d := distance(tp, normalize(point(f.Values), lo, hi)); d < best {
				best = d
			}
		}
		total += best
	}
	return total / float64(len(truth))
}

func point(v framework.Values) []float64 {
	return []float64{v.Energy.InexactFloat64(), v.Wastage.InexactFloat64(), float64(v.Migration)}
}

func bounds(solutions []framework.Solution) (lo, hi []float64) {
	for i, s := range solutions {
		p := point(s.Values)
		if i == 0 {
			lo = append([]float64(nil), p...)
			hi = append([]float64(nil), p...)
			continue
		}
		for k := range p {
			lo[k] = math.Min(lo[k], p[k])
			hi[k] = math.Max(hi[k], p[k])
		}
	}
	return lo, hi
}

func normalize(p, lo, hi []float64) []float64 {
	out := make([]float64, len(p))
	for k := range p {
		if span := hi[k] - lo[k]; span > 0 {
			out[k] = (p[k] - lo[k]) / span
		}
	}
	return out
}

func distance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// ErrIncomplete is returned by Verify when a run missed part of the frontier.
var ErrIncomplete = errors.New("frontier incomplete")

// Verify checks that every exact run found the whole true frontier.
func Verify(reports []Report) error {
	var errs []error
	for _, r := range reports {
		if r.Exact && r.Matched != r.TrueSize {
			errs = append(errs, fmt.Errorf("%s/%s matched %d of %d: %w", r.Problem, r.Algorithm, r.Matched, r.TrueSize, ErrIncomplete))
		}
	}
	return errors.Join(errs...)
}
