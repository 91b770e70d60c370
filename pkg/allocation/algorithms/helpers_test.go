package algorithms_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/vmalloc/vmalloc/pkg/allocation/algorithms"
	"github.com/vmalloc/vmalloc/pkg/allocation/benchmarks"
	"github.com/vmalloc/vmalloc/pkg/allocation/constraints"
	"github.com/vmalloc/vmalloc/pkg/allocation/framework"
	"github.com/vmalloc/vmalloc/pkg/allocation/objectives"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type machineSpec struct {
	cpu, mem, idle, max string
}

type jobSpec struct {
	cpu, mem string
	group    string
}

func buildInstance(machines []machineSpec, jobs []jobSpec, prior map[int]int) *framework.Instance {
	inst := &framework.Instance{Name: "test", Prior: prior}
	for i, m := range machines {
		inst.Machines = append(inst.Machines, framework.Machine{
			Idx:         i,
			Name:        fmt.Sprintf("pm-%d", i),
			CPUCapacity: dec(m.cpu),
			MemCapacity: dec(m.mem),
			IdlePower:   dec(m.idle),
			MaxPower:    dec(m.max),
		})
	}
	for j, s := range jobs {
		inst.Jobs = append(inst.Jobs, framework.Job{
			Idx:                 j,
			Name:                fmt.Sprintf("vm-%d", j),
			CPURequest:          dec(s.cpu),
			MemRequest:          dec(s.mem),
			MigrationWeight:     1,
			AntiColocationGroup: s.group,
		})
	}
	return inst
}

// testInstances covers distinct frontier shapes: a single machine type, mixed
// machine efficiency, a prior placement and anti-colocation.
func testInstances() map[string]*framework.Instance {
	return map[string]*framework.Instance{
		"uniform machines": buildInstance(
			[]machineSpec{{"10", "10", "100", "200"}, {"10", "10", "100", "200"}},
			[]jobSpec{{cpu: "4", mem: "2"}, {cpu: "3", mem: "5"}, {cpu: "5", mem: "3"}},
			nil,
		),
		"mixed efficiency": buildInstance(
			[]machineSpec{{"8", "16", "60", "200"}, {"16", "8", "120", "180"}, {"12", "12", "90", "150"}},
			[]jobSpec{{cpu: "4", mem: "4"}, {cpu: "6", mem: "2"}, {cpu: "2", mem: "6"}},
			nil,
		),
		"with prior": buildInstance(
			[]machineSpec{{"10", "10", "100", "250"}, {"12", "8", "80", "200"}, {"8", "12", "90", "150"}},
			[]jobSpec{{cpu: "3", mem: "3"}, {cpu: "5", mem: "2"}, {cpu: "2", mem: "5"}, {cpu: "4", mem: "4"}},
			map[int]int{0: 0, 1: 0, 2: 1, 3: 2},
		),
		"anti-colocation": buildInstance(
			[]machineSpec{{"10", "10", "100", "200"}, {"10", "10", "110", "190"}, {"10", "10", "90", "230"}},
			[]jobSpec{{cpu: "2", mem: "2", group: "db"}, {cpu: "2", mem: "2", group: "db"}, {cpu: "3", mem: "1"}},
			map[int]int{0: 0, 1: 1, 2: framework.NoMachine},
		),
	}
}

func run(t *testing.T, a algorithms.Algorithm) *algorithms.Result {
	t.Helper()
	res, err := algorithms.Run(context.Background(), a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return res
}

func exhaustiveSolutions(t *testing.T, inst *framework.Instance) []framework.Solution {
	t.Helper()
	front, err := benchmarks.ExhaustiveFrontier(inst, objectives.DefaultPrecision)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return front
}

func exhaustive(t *testing.T, inst *framework.Instance) []string {
	t.Helper()
	return benchmarks.Keys(exhaustiveSolutions(t, inst))
}

// checkFrontier asserts that every solution is feasible, carries its true
// objective values and that no solution dominates another.
func checkFrontier(t *testing.T, inst *framework.Instance, solutions []framework.Solution) {
	t.Helper()
	truth := exhaustiveSolutions(t, inst)
	optimal := make(map[string]bool, len(truth))
	for _, s := range truth {
		optimal[benchmarks.Key(s.Values)] = true
	}
	for i, a := range solutions {
		if !inst.Feasible(a.Allocation) {
			t.Errorf("solution %d: infeasible allocation %v", i, a.Allocation)
		}
		if !optimal[benchmarks.Key(a.Values)] {
			t.Errorf("solution %d: %v is not Pareto-optimal", i, a.Values)
		}
		for k, b := range solutions {
			if i != k && algorithms.Dominates(a.Values, b.Values) {
				t.Errorf("solution %d (%v) dominates solution %d (%v)", i, a.Values, k, b.Values)
			}
		}
	}
}

// checkCovered asserts that once a search is done every model left in its
// solver is weakly dominated by an accepted solution.
func checkCovered(t *testing.T, a interface{ Tracker() *objectives.Tracker }, s *constraints.GiniSolver, res *algorithms.Result) {
	t.Helper()
	if got := s.Active(); got != 0 {
		t.Errorf("active removable constraints: got %d, want 0", got)
	}
	if s.Solve(context.Background()) != constraints.Satisfiable {
		return
	}
	v := a.Tracker().Evaluate(s)
	for _, sol := range res.Frontier {
		if algorithms.WeaklyDominates(sol.Values, v) {
			return
		}
	}
	t.Errorf("remaining model %v is not covered by the frontier", v)
}

func diffKeys(t *testing.T, want []string, got []framework.Solution) {
	t.Helper()
	if diff := cmp.Diff(want, benchmarks.Keys(got)); diff != "" {
		t.Errorf("frontier mismatch (-want +got):\n%s", diff)
	}
}
