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
	"github.com/vmalloc/vmalloc/pkg/allocation/framework"
)

// Dominates reports whether a is at least as good as b in every objective
// and strictly better in at least one.
func Dominates(a, b framework.Values) bool {
	if !WeaklyDominates(a, b) {
		return false
	}
	return a.Energy.LessThan(b.Energy) || a.Wastage.LessThan(b.Wastage) || a.Migration < b.Migration
}

// WeaklyDominates reports whether a is at least as good as b in every
// objective.
func WeaklyDominates(a, b framework.Values) bool {
	return !a.Energy.GreaterThan(b.Energy) && !a.Wastage.GreaterThan(b.Wastage) && a.Migration <= b.Migration
}

// Frontier is an append-only archive of mutually non-dominated solutions.
type Frontier struct {
	solutions []framework.Solution
}

// Offer appends sol unless an accepted solution weakly dominates it, which
// includes solutions with identical objective values. It reports whether
// sol was accepted.
func (f *Frontier) Offer(sol framework.Solution) bool {
	for _, s := range f.solutions {
		if WeaklyDominates(s.Values, sol.Values) {
			return false
		}
	}
	sol.Allocation = sol.Allocation.Clone()
	f.solutions = append(f.solutions, sol)
	return true
}

// Solutions returns the accepted solutions in acceptance order.
func (f *Frontier) Solutions() []framework.Solution {
	out := make([]framework.Solution, len(f.solutions))
	copy(out, f.solutions)
	return out
}

func (f *Frontier) Len() int {
	return len(f.solutions)
}

// NonDominatedSort splits solutions into successive non-dominated fronts.
// The first front holds every solution no other solution dominates.
func NonDominatedSort(solutions []framework.Solution) [][]framework.Solution {
	var fronts [][]framework.Solution
	dominated := make([][]int, len(solutions))
	domCount := make([]int, len(solutions))

	for i := range solutions {
		for j := range solutions {
			if i == j {
				continue
			}
			if Dominates(solutions[i].Values, solutions[j].Values) {
				dominated[i] = append(dominated[i], j)
			} else if Dominates(solutions[j].Values, solutions[i].Values) {
				domCount[i]++
			}
		}
	}

	var current []int
	for i, c := range domCount {
		if c == 0 {
			current = append(current, i)
		}
	}
	for len(current) > 0 {
		front := make([]framework.Solution, len(current))
		var next []int
		for k, i := range current {
			front[k] = solutions[i]
			for _, j := range dominated[i] {
				domCount[j]--
				if domCount[j] == 0 {
					next = append(next, j)
				}
			}
		}
		fronts = append(fronts, front)
		current = next
	}
	return fronts
}
