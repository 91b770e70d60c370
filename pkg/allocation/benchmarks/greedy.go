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
	"math"
	"sort"

	"github.com/vmalloc/vmalloc/pkg/allocation/algorithms"
	"github.com/vmalloc/vmalloc/pkg/allocation/framework"
)

// GreedyName identifies the greedy baseline in suite configurations.
const GreedyName = "greedy"

// WeightVectors returns count weight pairs interpolated linearly from
// energy-only to wastage-only.
func WeightVectors(count int) [][2]float64 {
	out := make([][2]float64, count)
	for i := range out {
		if count == 1 {
			out[i] = [2]float64{0.5, 0.5}
			continue
		}
		t := float64(i) / float64(count-1)
		out[i] = [2]float64{1 - t, t}
	}
	return out
}

// Greedy builds one placement per weight vector by placing jobs, largest
// first, on the machine with the lowest weighted marginal energy and
// wastage. The prior placement is included when it is feasible. Only
// mutually non-dominated placements are returned. Greedy gives no
// optimality guarantee and serves as a baseline.
func Greedy(inst *framework.Instance, vectors int, evaluate func(framework.Allocation) framework.Values) []framework.Solution {
	var f algorithms.Frontier
	var candidates []framework.Allocation
	if prior, ok := priorAllocation(inst); ok {
		candidates = append(candidates, prior)
	}
	for _, w := range WeightVectors(vectors) {
		if a, ok := construct(inst, w); ok && inst.Feasible(a) {
			candidates = append(candidates, a)
		}
	}

	var all []framework.Solution
	for _, a := range candidates {
		all = append(all, framework.Solution{Allocation: a, Values: evaluate(a)})
	}
	fronts := algorithms.NonDominatedSort(all)
	if len(fronts) == 0 {
		return nil
	}
	for _, s := range fronts[0] {
		f.Offer(s)
	}
	return f.Solutions()
}

func priorAllocation(inst *framework.Instance) (framework.Allocation, bool) {
	if len(inst.Prior) != len(inst.Jobs) {
		return nil, false
	}
	a := make(framework.Allocation, len(inst.Jobs))
	for j := range inst.Jobs {
		a[j] = inst.Prior[j]
	}
	return a, inst.Feasible(a)
}

type machineState struct {
	cpu, mem float64
	used     bool
	groups   map[string]bool
}

func construct(inst *framework.Instance, w [2]float64) (framework.Allocation, bool) {
	order := make([]int, len(inst.Jobs))
	for j := range order {
		order[j] = j
	}
	size := func(j int) float64 {
		return inst.Jobs[j].CPURequest.InexactFloat64() + inst.Jobs[j].MemRequest.InexactFloat64()
	}
	sort.SliceStable(order, func(a, b int) bool { return size(order[a]) > size(order[b]) })

	maxPower := 1.0
	states := make([]machineState, len(inst.Machines))
	for m, machine := range inst.Machines {
		states[m] = machineState{
			cpu:    machine.CPUCapacity.InexactFloat64(),
			mem:    machine.MemCapacity.InexactFloat64(),
			groups: make(map[string]bool),
		}
		maxPower = math.Max(maxPower, machine.MaxPower.InexactFloat64())
	}

	a := make(framework.Allocation, len(inst.Jobs))
	for _, j := range order {
		job := inst.Jobs[j]
		cpu, mem := job.CPURequest.InexactFloat64(), job.MemRequest.InexactFloat64()
		best, bestScore := framework.NoMachine, math.Inf(1)
		for m, machine := range inst.Machines {
			st := &states[m]
			if cpu > st.cpu || mem > st.mem || !allowed(job, m) {
				continue
			}
			if job.AntiColocationGroup != "" && st.groups[job.AntiColocationGroup] {
				continue
			}
			energy, wastage := marginal(machine, cpu, mem, st.used)
			score := w[0]*energy/maxPower + w[1]*wastage/2
			if score < bestScore {
				best, bestScore = m, score
			}
		}
		if best == framework.NoMachine {
			return nil, false
		}
		a[j] = best
		st := &states[best]
		st.cpu -= cpu
		st.mem -= mem
		st.used = true
		if job.AntiColocationGroup != "" {
			st.groups[job.AntiColocationGroup] = true
		}
	}
	return a, true
}

// marginal returns the energy and wastage added by placing a job with the
// given requests on machine.
func marginal(machine framework.Machine, cpu, mem float64, used bool) (energy, wastage float64) {
	cpuCap, memCap := machine.CPUCapacity.InexactFloat64(), machine.MemCapacity.InexactFloat64()
	if cpuCap > 0 {
		energy = machine.MaxPower.Sub(machine.IdlePower).InexactFloat64() * cpu / cpuCap
		wastage -= cpu / cpuCap
	}
	if memCap > 0 {
		wastage -= mem / memCap
	}
	if !used {
		energy += machine.IdlePower.InexactFloat64()
		wastage += 2
	}
	return energy, wastage
}

func allowed(job framework.Job, m int) bool {
	if len(job.AllowedMachines) == 0 {
		return true
	}
	for _, am := range job.AllowedMachines {
		if am == m {
			return true
		}
	}
	return false
}
