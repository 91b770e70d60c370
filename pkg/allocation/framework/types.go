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

package framework

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// NoMachine marks a prior placement on a machine that is not part of the
// instance, e.g. one being decommissioned.
const NoMachine = -1

// Machine contains physical machine information for optimization
type Machine struct {
	Idx         int
	Name        string
	CPUCapacity decimal.Decimal
	MemCapacity decimal.Decimal
	IdlePower   decimal.Decimal // power drawn when switched on and empty
	MaxPower    decimal.Decimal // power drawn at full CPU load
}

// Job contains virtual machine information for optimization
type Job struct {
	Idx        int
	Name       string
	CPURequest decimal.Decimal
	MemRequest decimal.Decimal

	// MigrationWeight is the cost of moving the job away from its prior machine.
	MigrationWeight int64
	// Jobs sharing a non-empty group may not be placed on the same machine.
	AntiColocationGroup string
	// AllowedMachines restricts placement to the given machine indices. Empty
	// means any machine.
	AllowedMachines []int
}

// Instance is a placement problem.
type Instance struct {
	Name     string
	Machines []Machine
	Jobs     []Job
	// Prior maps job index to the machine index it currently runs on, or
	// NoMachine. Jobs absent from the map have no prior placement.
	Prior map[int]int
}

// HasPrior reports whether any job has a prior placement.
func (in *Instance) HasPrior() bool {
	return len(in.Prior) > 0
}

// Allocation maps job index to machine index.
type Allocation []int

// Moved returns the jobs whose machine differs from their prior placement.
func (a Allocation) Moved(prior map[int]int) []int {
	var moved []int
	for j, m := range a {
		if p, ok := prior[j]; ok && p != m {
			moved = append(moved, j)
		}
	}
	return moved
}

func (a Allocation) Clone() Allocation {
	out := make(Allocation, len(a))
	copy(out, a)
	return out
}

// Values are the objective values of a solution. All objectives are minimized.
type Values struct {
	Energy    decimal.Decimal
	Wastage   decimal.Decimal
	Migration int64
}

func (v Values) String() string {
	return fmt.Sprintf("energy=%s wastage=%s migration=%d", v.Energy, v.Wastage, v.Migration)
}

// Equal reports whether both value vectors are identical.
func (v Values) Equal(o Values) bool {
	return v.Energy.Equal(o.Energy) && v.Wastage.Equal(o.Wastage) && v.Migration == o.Migration
}

// Solution is a full placement together with its objective values.
type Solution struct {
	Allocation Allocation
	Values     Values
}

// Describe renders the placement using job and machine names.
func (s Solution) Describe(in *Instance) string {
	parts := make([]string, 0, len(s.Allocation))
	for j, m := range s.Allocation {
		target := "<none>"
		if m >= 0 && m < len(in.Machines) {
			target = in.Machines[m].Name
		}
		parts = append(parts, fmt.Sprintf("%s->%s", in.Jobs[j].Name, target))
	}
	return strings.Join(parts, ",")
}

// Feasible reports whether a places every job on an allowed machine without
// exceeding any capacity or co-locating jobs of the same anti-colocation
// group.
func (in *Instance) Feasible(a Allocation) bool {
	if len(a) != len(in.Jobs) {
		return false
	}
	cpu := make([]decimal.Decimal, len(in.Machines))
	mem := make([]decimal.Decimal, len(in.Machines))
	seen := make(map[string]bool)
	for j, m := range a {
		if m < 0 || m >= len(in.Machines) {
			return false
		}
		job := in.Jobs[j]
		if len(job.AllowedMachines) > 0 {
			allowed := false
			for _, am := range job.AllowedMachines {
				if am == m {
					allowed = true
					break
				}
			}
			if !allowed {
				return false
			}
		}
		if job.AntiColocationGroup != "" {
			key := fmt.Sprintf("%s/%d", job.AntiColocationGroup, m)
			if seen[key] {
				return false
			}
			seen[key] = true
		}
		cpu[m] = cpu[m].Add(job.CPURequest)
		mem[m] = mem[m].Add(job.MemRequest)
	}
	for m, machine := range in.Machines {
		if cpu[m].GreaterThan(machine.CPUCapacity) || mem[m].GreaterThan(machine.MemCapacity) {
			return false
		}
	}
	return true
}
