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

// Package encoding builds the base boolean model of a placement instance:
// one assignment variable per (job, machine) pair, one "machine used"
// variable per machine, exactly-one placement per job and per-machine
// capacity limits.
package encoding

import (
	"fmt"
	"sort"

	"github.com/go-air/gini/inter"
	"github.com/go-air/gini/z"
	"github.com/shopspring/decimal"

	"github.com/vmalloc/vmalloc/pkg/allocation/constraints"
	"github.com/vmalloc/vmalloc/pkg/allocation/framework"
)

// Encoding holds the decision variables of an instance.
type Encoding struct {
	inst *framework.Instance
	// X[j][m] is true iff job j runs on machine m.
	X [][]z.Lit
	// Y[m] is true iff machine m hosts at least one job.
	Y []z.Lit
}

// Build allocates the variables of inst in s and adds the placement,
// capacity and machine-usage constraints as hard constraints. It returns an
// error wrapping constraints.ErrContradiction when the instance is trivially
// infeasible.
func Build(s constraints.Solver, inst *framework.Instance) (*Encoding, error) {
	e := &Encoding{
		inst: inst,
		X:    make([][]z.Lit, len(inst.Jobs)),
		Y:    make([]z.Lit, len(inst.Machines)),
	}
	for m := range inst.Machines {
		e.Y[m] = s.NewVariable()
	}
	for j := range inst.Jobs {
		e.X[j] = make([]z.Lit, len(inst.Machines))
		for m := range inst.Machines {
			e.X[j][m] = s.NewVariable()
		}
	}

	one := decimal.NewFromInt(1)
	for j, job := range inst.Jobs {
		if err := s.AddClause(e.X[j]...); err != nil {
			return nil, fmt.Errorf("placing job %q: %w", job.Name, err)
		}
		if err := s.AddAtMost(count(e.X[j]), one); err != nil {
			return nil, fmt.Errorf("placing job %q: %w", job.Name, err)
		}
		if len(job.AllowedMachines) == 0 {
			continue
		}
		allowed := make(map[int]bool, len(job.AllowedMachines))
		for _, m := range job.AllowedMachines {
			allowed[m] = true
		}
		for m := range inst.Machines {
			if allowed[m] {
				continue
			}
			if err := s.AddClause(e.X[j][m].Not()); err != nil {
				return nil, fmt.Errorf("restricting job %q to allowed machines: %w", job.Name, err)
			}
		}
	}

	for m, machine := range inst.Machines {
		var cpu, mem constraints.LinearExpression
		column := make([]z.Lit, len(inst.Jobs))
		for j, job := range inst.Jobs {
			cpu.Add(e.X[j][m], job.CPURequest)
			mem.Add(e.X[j][m], job.MemRequest)
			column[j] = e.X[j][m]
		}
		if err := s.AddAtMost(cpu, machine.CPUCapacity); err != nil {
			return nil, fmt.Errorf("cpu capacity of machine %q: %w", machine.Name, err)
		}
		if err := s.AddAtMost(mem, machine.MemCapacity); err != nil {
			return nil, fmt.Errorf("memory capacity of machine %q: %w", machine.Name, err)
		}

		for _, x := range column {
			if err := s.AddClause(x.Not(), e.Y[m]); err != nil {
				return nil, fmt.Errorf("usage of machine %q: %w", machine.Name, err)
			}
		}
		if err := s.AddClause(append(column, e.Y[m].Not())...); err != nil {
			return nil, fmt.Errorf("usage of machine %q: %w", machine.Name, err)
		}
	}

	for _, group := range antiColocationGroups(inst.Jobs) {
		for m, machine := range inst.Machines {
			lits := make([]z.Lit, len(group.jobs))
			for i, j := range group.jobs {
				lits[i] = e.X[j][m]
			}
			if err := s.AddAtMost(count(lits), one); err != nil {
				return nil, fmt.Errorf("anti-colocation group %q on machine %q: %w", group.name, machine.Name, err)
			}
		}
	}

	return e, nil
}

func count(lits []z.Lit) constraints.LinearExpression {
	expr := make(constraints.LinearExpression, 0, len(lits))
	for _, m := range lits {
		expr.Add(m, decimal.NewFromInt(1))
	}
	return expr
}

type group struct {
	name string
	jobs []int
}

func antiColocationGroups(jobs []framework.Job) []group {
	byName := make(map[string][]int)
	for j, job := range jobs {
		if job.AntiColocationGroup == "" {
			continue
		}
		byName[job.AntiColocationGroup] = append(byName[job.AntiColocationGroup], j)
	}
	groups := make([]group, 0, len(byName))
	for name, members := range byName {
		if len(members) < 2 {
			continue
		}
		groups = append(groups, group{name: name, jobs: members})
	}
	sort.Slice(groups, func(i, k int) bool { return groups[i].name < groups[k].name })
	return groups
}

// Instance returns the encoded instance.
func (e *Encoding) Instance() *framework.Instance {
	return e.inst
}

// Lits returns every assignment literal, job-major.
func (e *Encoding) Lits() []z.Lit {
	lits := make([]z.Lit, 0, len(e.X)*len(e.Y))
	for _, row := range e.X {
		lits = append(lits, row...)
	}
	return lits
}

// Decode reads the placement out of a satisfying model.
func (e *Encoding) Decode(model inter.Model) framework.Allocation {
	a := make(framework.Allocation, len(e.X))
	for j, row := range e.X {
		a[j] = framework.NoMachine
		for m, x := range row {
			if model.Value(x) {
				a[j] = m
				break
			}
		}
	}
	return a
}

// ModelOf returns the assignment of the encoding's variables induced by a.
// It lets callers evaluate expressions over placements built outside the
// solver.
func (e *Encoding) ModelOf(a framework.Allocation) inter.Model {
	model := make(allocationModel, len(e.X)*len(e.Y)+len(e.Y))
	for j, row := range e.X {
		for m, x := range row {
			on := j < len(a) && a[j] == m
			model[x.Var()] = on
			if on {
				model[e.Y[m].Var()] = true
			}
		}
	}
	return model
}

type allocationModel map[z.Var]bool

func (a allocationModel) Value(m z.Lit) bool {
	v := a[m.Var()]
	if !m.IsPos() {
		return !v
	}
	return v
}
