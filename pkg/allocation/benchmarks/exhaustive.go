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
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/vmalloc/vmalloc/pkg/allocation/algorithms"
	"github.com/vmalloc/vmalloc/pkg/allocation/constraints"
	"github.com/vmalloc/vmalloc/pkg/allocation/encoding"
	"github.com/vmalloc/vmalloc/pkg/allocation/framework"
	"github.com/vmalloc/vmalloc/pkg/allocation/objectives"
)

// MaxExhaustivePlacements bounds the number of placements ExhaustiveFrontier
// is willing to enumerate.
const MaxExhaustivePlacements = 1 << 20

// ErrTooLarge is returned when an instance has too many placements to be
// enumerated.
var ErrTooLarge = errors.New("instance too large to enumerate")

// ExhaustiveFrontier enumerates every feasible placement of inst and returns
// one solution per Pareto-optimal objective vector, ordered by Key.
func ExhaustiveFrontier(inst *framework.Instance, precision int32) ([]framework.Solution, error) {
	if n := math.Pow(float64(len(inst.Machines)), float64(len(inst.Jobs))); n > MaxExhaustivePlacements {
		return nil, fmt.Errorf("%d machines and %d jobs: %w", len(inst.Machines), len(inst.Jobs), ErrTooLarge)
	}
	evaluate, err := Evaluator(inst, precision)
	if errors.Is(err, constraints.ErrContradiction) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var all []framework.Solution
	a := make(framework.Allocation, len(inst.Jobs))
	var place func(j int)
	place = func(j int) {
		if j == len(inst.Jobs) {
			if !inst.Feasible(a) {
				return
			}
			sol := framework.Solution{Allocation: a.Clone(), Values: evaluate(a)}
			if k := Key(sol.Values); !seen[k] {
				seen[k] = true
				all = append(all, sol)
			}
			return
		}
		for m := range inst.Machines {
			a[j] = m
			place(j + 1)
		}
	}
	place(0)

	fronts := algorithms.NonDominatedSort(all)
	if len(fronts) == 0 {
		return nil, nil
	}
	front := fronts[0]
	SortByKey(front)
	return front, nil
}

// Evaluator returns a function computing the objective values of
// placements of inst exactly as the searches do.
func Evaluator(inst *framework.Instance, precision int32) (func(framework.Allocation) framework.Values, error) {
	enc, err := encoding.Build(constraints.NewGiniSolver(), inst)
	if err != nil {
		return nil, err
	}
	return objectives.NewTracker(enc, precision).EvaluateAllocation, nil
}

// Key renders objective values canonically.
func Key(v framework.Values) string {
	return v.String()
}

// Keys returns the sorted keys of solutions.
func Keys(solutions []framework.Solution) []string {
	out := make([]string, len(solutions))
	for i, s := range solutions {
		out[i] = Key(s.Values)
	}
	sort.Strings(out)
	return out
}

// SortByKey orders solutions by energy, then wastage, then migration.
func SortByKey(solutions []framework.Solution) {
	sort.SliceStable(solutions, func(i, j int) bool {
		a, b := solutions[i].Values, solutions[j].Values
		if !a.Energy.Equal(b.Energy) {
			return a.Energy.LessThan(b.Energy)
		}
		if !a.Wastage.Equal(b.Wastage) {
			return a.Wastage.LessThan(b.Wastage)
		}
		return a.Migration < b.Migration
	})
}
