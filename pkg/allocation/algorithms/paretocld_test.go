package algorithms_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-air/gini/z"

	"github.com/vmalloc/vmalloc/pkg/allocation/algorithms"
	"github.com/vmalloc/vmalloc/pkg/allocation/benchmarks"
	"github.com/vmalloc/vmalloc/pkg/allocation/constraints"
)

func TestParetoCLDMatchesExhaustiveFrontier(t *testing.T) {
	for name, inst := range testInstances() {
		t.Run(name, func(t *testing.T) {
			res := run(t, algorithms.NewParetoCLD(inst, algorithms.Config{}))
			if res.State != algorithms.Done || !res.Exact {
				t.Fatalf("got state %v exact=%v, want an exact Done", res.State, res.Exact)
			}
			checkFrontier(t, inst, res.Frontier)
			diffKeys(t, exhaustive(t, inst), res.Frontier)
		})
	}
}

func TestParetoCLDOnRandomInstances(t *testing.T) {
	last := uint64(16)
	if testing.Short() {
		last = 12
	}
	for seed := uint64(11); seed <= last; seed++ {
		inst := benchmarks.Generate(benchmarks.GeneratorConfig{
			Machines:             3,
			Jobs:                 4,
			Load:                 0.5,
			PriorFraction:        0.5,
			AntiColocationGroups: 1,
			Seed:                 seed,
		})
		t.Run(inst.Name, func(t *testing.T) {
			want := exhaustive(t, inst)
			res := run(t, algorithms.NewParetoCLD(inst, algorithms.Config{}))
			if len(want) == 0 {
				if len(res.Frontier) != 0 {
					t.Errorf("got %d solutions for an infeasible instance", len(res.Frontier))
				}
				return
			}
			checkFrontier(t, inst, res.Frontier)
			diffKeys(t, want, res.Frontier)
		})
	}
}

func TestParetoCLDBlocksCorrectionSets(t *testing.T) {
	inst := testInstances()["with prior"]
	s := constraints.NewGiniSolver()
	p := algorithms.NewParetoCLDWithSolver(inst, s, algorithms.Config{})
	ctx := context.Background()
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for p.Rounds() == 0 && !p.Done() {
		if err := p.Step(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if p.Rounds() == 0 {
		t.Fatalf("search finished in state %v before completing a round", p.Result().State)
	}
	blocked := p.LastBlocked()
	if len(blocked) == 0 {
		t.Fatal("first round blocked an empty correction set")
	}
	if got := s.Active(); got != 0 {
		t.Errorf("active removable constraints between rounds: got %d, want 0", got)
	}
	// The correction set is blocked permanently: no model satisfies all of
	// its literals' negations.
	negated := make([]z.Lit, len(blocked))
	for i, m := range blocked {
		negated[i] = m.Not()
	}
	if got := s.Solve(ctx, negated...); got != constraints.Unsatisfiable {
		t.Errorf("solving with the blocked set negated: got %v, want unsatisfiable", got)
	}
}

func TestParetoCLDLeavesNoRemovableConstraints(t *testing.T) {
	inst := testInstances()["anti-colocation"]
	s := constraints.NewGiniSolver()
	res := run(t, algorithms.NewParetoCLDWithSolver(inst, s, algorithms.Config{}))
	if res.State != algorithms.Done {
		t.Fatalf("got state %v, want Done", res.State)
	}
	if got := s.Active(); got != 0 {
		t.Errorf("active removable constraints: got %d, want 0", got)
	}
}

func TestParetoCLDInfeasibleInstance(t *testing.T) {
	inst := buildInstance(
		[]machineSpec{{"4", "4", "100", "200"}},
		[]jobSpec{{cpu: "3", mem: "1"}, {cpu: "3", mem: "1"}},
		nil,
	)
	res := run(t, algorithms.NewParetoCLD(inst, algorithms.Config{}))
	if res.State != algorithms.Unsatisfiable || len(res.Frontier) != 0 {
		t.Errorf("got state %v with %d solutions, want Unsatisfiable", res.State, len(res.Frontier))
	}
}

func TestParetoCLDFinishesWellWithinBudget(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping standard random problems in short mode")
	}
	for _, cfg := range []benchmarks.GeneratorConfig{
		{Machines: 3, Jobs: 5, Load: 0.5, PriorFraction: 0.5, DecommissionFraction: 0.3, Seed: 3},
		{Machines: 4, Jobs: 5, Load: 0.3, PriorFraction: 1, AntiColocationGroups: 2, Seed: 4},
	} {
		inst := benchmarks.Generate(cfg)
		t.Run(inst.Name, func(t *testing.T) {
			want := exhaustive(t, inst)
			res := run(t, algorithms.NewParetoCLD(inst, algorithms.Config{
				Deadline: time.Now().Add(30 * time.Second),
			}))
			if len(want) == 0 {
				if res.State != algorithms.Unsatisfiable {
					t.Errorf("got state %v for an infeasible instance", res.State)
				}
				return
			}
			if res.State != algorithms.Done || !res.Exact {
				t.Fatalf("got state %v exact=%v after %v, want an exact Done", res.State, res.Exact, res.Elapsed)
			}
			diffKeys(t, want, res.Frontier)
		})
	}
}
