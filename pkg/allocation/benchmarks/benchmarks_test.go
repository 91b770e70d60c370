package benchmarks_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/vmalloc/vmalloc/pkg/allocation/algorithms"
	"github.com/vmalloc/vmalloc/pkg/allocation/benchmarks"
	"github.com/vmalloc/vmalloc/pkg/allocation/framework"
	"github.com/vmalloc/vmalloc/pkg/allocation/objectives"
)

func sol(energy, wastage string, migration int64) framework.Solution {
	return framework.Solution{Values: framework.Values{
		Energy:    decimal.RequireFromString(energy),
		Wastage:   decimal.RequireFromString(wastage),
		Migration: migration,
	}}
}

func TestGenerateIsDeterministic(t *testing.T) {
	cfg := benchmarks.GeneratorConfig{
		Machines:             4,
		Jobs:                 6,
		Load:                 0.6,
		PriorFraction:        0.5,
		DecommissionFraction: 0.5,
		AntiColocationGroups: 2,
		Seed:                 42,
	}
	a, b := benchmarks.Generate(cfg), benchmarks.Generate(cfg)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("same seed produced different instances (-first +second):\n%s", diff)
	}
	if a.Name != "random-4x6-42" {
		t.Errorf("got name %q", a.Name)
	}
	if len(a.Machines) != 4 || len(a.Jobs) != 6 {
		t.Errorf("got %d machines and %d jobs", len(a.Machines), len(a.Jobs))
	}
	for j, m := range a.Prior {
		if m != framework.NoMachine && (m < 0 || m >= len(a.Machines)) {
			t.Errorf("job %d: prior machine %d out of range", j, m)
		}
	}

	cfg.Seed = 43
	if c := benchmarks.Generate(cfg); cmp.Equal(a.Jobs, c.Jobs) {
		t.Error("different seeds produced identical jobs")
	}
}

func TestExhaustiveFrontier(t *testing.T) {
	two := decimal.NewFromInt(2)
	inst := &framework.Instance{
		Name: "two machines",
		Machines: []framework.Machine{
			{Idx: 0, Name: "small", CPUCapacity: two, MemCapacity: two, IdlePower: decimal.NewFromInt(50), MaxPower: decimal.NewFromInt(100)},
			{Idx: 1, Name: "large", CPUCapacity: decimal.NewFromInt(4), MemCapacity: decimal.NewFromInt(4), IdlePower: decimal.NewFromInt(120), MaxPower: decimal.NewFromInt(160)},
		},
		Jobs: []framework.Job{
			{Idx: 0, Name: "a", CPURequest: two, MemRequest: two, MigrationWeight: 1},
			{Idx: 1, Name: "b", CPURequest: two, MemRequest: two, MigrationWeight: 1},
		},
	}
	got, err := benchmarks.ExhaustiveFrontier(inst, objectives.DefaultPrecision)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Both jobs on "large": energy 120+20+20, wastage 2-1-1.
	// One per machine: energy 100+140, wastage 0+1.
	// Both on "small" does not fit.
	want := []string{
		sol("160", "0", 0).Values.String(),
	}
	if diff := cmp.Diff(want, benchmarks.Keys(got)); diff != "" {
		t.Errorf("frontier (-want +got):\n%s", diff)
	}
	for _, s := range got {
		if !inst.Feasible(s.Allocation) {
			t.Errorf("infeasible allocation %v", s.Allocation)
		}
	}
}

func TestExhaustiveFrontierTooLarge(t *testing.T) {
	inst := benchmarks.Generate(benchmarks.GeneratorConfig{Machines: 8, Jobs: 8, Seed: 1})
	if _, err := benchmarks.ExhaustiveFrontier(inst, objectives.DefaultPrecision); !errors.Is(err, benchmarks.ErrTooLarge) {
		t.Errorf("got error %v, want ErrTooLarge", err)
	}
}

func TestIGD(t *testing.T) {
	truth := []framework.Solution{sol("100", "1", 0), sol("200", "0", 0)}
	tests := []struct {
		name  string
		found []framework.Solution
		want  float64
	}{
		{name: "identical", found: truth, want: 0},
		{name: "empty", found: nil, want: math.Inf(1)},
		{name: "one endpoint", found: truth[:1], want: math.Sqrt2 / 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := benchmarks.IGD(tc.found, truth)
			if math.IsInf(tc.want, 1) {
				if !math.IsInf(got, 1) {
					t.Errorf("got %v, want +Inf", got)
				}
				return
			}
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSuiteRun(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping the standard suite in short mode")
	}
	dir := t.TempDir()
	suite := benchmarks.NewSuite(benchmarks.SuiteConfig{
		Algorithms: []string{algorithms.GIAName, algorithms.ParetoCLDName, benchmarks.GreedyName},
		Budget:     time.Minute,
		OutputDir:  dir,
	})
	suite.AddStandardProblems()

	reports, err := suite.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports) != 12 {
		t.Fatalf("got %d reports, want 12", len(reports))
	}
	for _, r := range reports {
		if r.Algorithm == benchmarks.GreedyName {
			if r.Exact || r.Matched > r.TrueSize {
				t.Errorf("%s: greedy baseline claims too much", r)
			}
			continue
		}
		if r.State != algorithms.Done && r.State != algorithms.Unsatisfiable {
			t.Errorf("%s: unexpected state", r)
		}
		if r.State == algorithms.Done && (r.Matched != r.TrueSize || r.Found != r.TrueSize || r.IGD != 0) {
			t.Errorf("%s: frontier differs from the exhaustive one", r)
		}
	}
	if err := benchmarks.Verify(reports); err != nil {
		t.Errorf("unexpected verification error: %v", err)
	}

	plots, err := filepath.Glob(filepath.Join(dir, "*_frontier.html"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plots) == 0 {
		t.Error("no frontier plots written")
	}
	for _, p := range plots {
		if fi, err := os.Stat(p); err != nil || fi.Size() == 0 {
			t.Errorf("plot %s is empty (err=%v)", p, err)
		}
	}
}

func TestVerify(t *testing.T) {
	reports := []benchmarks.Report{
		{Problem: "p", Algorithm: "gia", Exact: true, Matched: 3, TrueSize: 3},
		{Problem: "p", Algorithm: "pareto-cld", Exact: false, Matched: 1, TrueSize: 3},
		{Problem: "q", Algorithm: "gia", Exact: true, Matched: 2, TrueSize: 3},
	}
	err := benchmarks.Verify(reports)
	if !errors.Is(err, benchmarks.ErrIncomplete) {
		t.Fatalf("got error %v, want ErrIncomplete", err)
	}
	if err := benchmarks.Verify(reports[:2]); err != nil {
		t.Errorf("inexact runs must not fail verification: %v", err)
	}
}

func TestWeightVectors(t *testing.T) {
	want := [][2]float64{{1, 0}, {0.5, 0.5}, {0, 1}}
	if diff := cmp.Diff(want, benchmarks.WeightVectors(3)); diff != "" {
		t.Errorf("weights (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][2]float64{{0.5, 0.5}}, benchmarks.WeightVectors(1)); diff != "" {
		t.Errorf("single weight (-want +got):\n%s", diff)
	}
}

func TestGreedyBaseline(t *testing.T) {
	for seed := uint64(1); seed <= 4; seed++ {
		inst := benchmarks.Generate(benchmarks.GeneratorConfig{
			Machines:             3,
			Jobs:                 5,
			Load:                 0.4,
			PriorFraction:        1,
			AntiColocationGroups: 1,
			Seed:                 seed,
		})
		t.Run(inst.Name, func(t *testing.T) {
			evaluate, err := benchmarks.Evaluator(inst, objectives.DefaultPrecision)
			if err != nil {
				t.Skipf("instance is infeasible: %v", err)
			}
			truth, err := benchmarks.ExhaustiveFrontier(inst, objectives.DefaultPrecision)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			found := benchmarks.Greedy(inst, 5, evaluate)
			for i, s := range found {
				if !inst.Feasible(s.Allocation) {
					t.Errorf("solution %d: infeasible allocation %v", i, s.Allocation)
				}
				covered := false
				for _, o := range truth {
					if algorithms.WeaklyDominates(o.Values, s.Values) {
						covered = true
						break
					}
				}
				if !covered {
					t.Errorf("solution %d (%v) beats the exhaustive frontier", i, s.Values)
				}
				for k, o := range found {
					if i != k && algorithms.Dominates(o.Values, s.Values) {
						t.Errorf("solution %d is dominated by solution %d", i, k)
					}
				}
			}
		})
	}
}
