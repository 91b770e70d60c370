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

package v1alpha1

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/vmalloc/vmalloc/pkg/allocation/algorithms"
	"github.com/vmalloc/vmalloc/pkg/allocation/framework"
	"github.com/vmalloc/vmalloc/pkg/allocation/hashing"
	"github.com/vmalloc/vmalloc/pkg/allocation/objectives"
)

// ToFramework converts a validated Instance to the internal model.
func ToFramework(inst *Instance) (*framework.Instance, error) {
	out := &framework.Instance{Name: inst.Name}
	machineIdx := make(map[string]int, len(inst.Spec.Machines))
	for i, m := range inst.Spec.Machines {
		machineIdx[m.Name] = i
		fm := framework.Machine{Idx: i, Name: m.Name}
		var err error
		if fm.CPUCapacity, err = QuantityToDecimal(m.CPU); err != nil {
			return nil, fmt.Errorf("machine %s cpu: %w", m.Name, err)
		}
		if fm.MemCapacity, err = QuantityToDecimal(m.Memory); err != nil {
			return nil, fmt.Errorf("machine %s memory: %w", m.Name, err)
		}
		if fm.IdlePower, err = QuantityToDecimal(m.IdlePower); err != nil {
			return nil, fmt.Errorf("machine %s idle power: %w", m.Name, err)
		}
		if fm.MaxPower, err = QuantityToDecimal(m.MaxPower); err != nil {
			return nil, fmt.Errorf("machine %s max power: %w", m.Name, err)
		}
		out.Machines = append(out.Machines, fm)
	}

	jobIdx := make(map[string]int, len(inst.Spec.Jobs))
	for i, j := range inst.Spec.Jobs {
		jobIdx[j.Name] = i
		fj := framework.Job{
			Idx:                 i,
			Name:                j.Name,
			MigrationWeight:     DefaultMigrationWeight,
			AntiColocationGroup: j.AntiColocationGroup,
		}
		if j.MigrationWeight != nil {
			fj.MigrationWeight = *j.MigrationWeight
		}
		var err error
		if fj.CPURequest, err = QuantityToDecimal(j.CPU); err != nil {
			return nil, fmt.Errorf("job %s cpu: %w", j.Name, err)
		}
		if fj.MemRequest, err = QuantityToDecimal(j.Memory); err != nil {
			return nil, fmt.Errorf("job %s memory: %w", j.Name, err)
		}
		for _, name := range j.AllowedMachines {
			m, ok := machineIdx[name]
			if !ok {
				return nil, fmt.Errorf("job %s: unknown allowed machine %q", j.Name, name)
			}
			fj.AllowedMachines = append(fj.AllowedMachines, m)
		}
		out.Jobs = append(out.Jobs, fj)
	}

	for _, mp := range inst.Spec.Mappings {
		j, ok := jobIdx[mp.Job]
		if !ok {
			return nil, fmt.Errorf("mapping of unknown job %q", mp.Job)
		}
		if out.Prior == nil {
			out.Prior = make(map[int]int, len(inst.Spec.Mappings))
		}
		m, ok := machineIdx[mp.Machine]
		if !ok {
			m = framework.NoMachine
		}
		out.Prior[j] = m
	}
	return out, nil
}

// QuantityToDecimal converts q exactly.
func QuantityToDecimal(q resource.Quantity) (decimal.Decimal, error) {
	return decimal.NewFromString(q.AsDec().String())
}

// ToSearchConfig converts a defaulted SearchSpec to a search configuration.
// The deadline is left unset; callers derive it from Timeout when the run
// starts.
func ToSearchConfig(s *SearchSpec) (algorithms.Config, error) {
	objective, err := objectives.Parse(s.Objective)
	if err != nil {
		return algorithms.Config{}, err
	}
	hashType, err := hashing.ParseType(s.HashFunction)
	if err != nil {
		return algorithms.Config{}, err
	}
	cfg := algorithms.Config{
		Hash: hashing.Config{
			Type:      hashType,
			Functions: int(s.HashFunctions),
			Threshold: int(s.EnumerationThreshold),
			Seed:      s.Seed,
		},
		MaxEmptyCells: int(s.MaxEmptyCells),
		Objective:     objective,
		Precision:     s.Precision,
	}
	if s.HashDensity != nil {
		cfg.Hash.Density = s.HashDensity.AsApproximateFloat64()
	}
	return cfg, nil
}

// Budget returns the time budget of the search, zero when unbounded.
func (s *SearchSpec) Budget() time.Duration {
	if s.Timeout == nil {
		return 0
	}
	return s.Timeout.Duration
}

// NewFrontier renders the result of a search over in as a Frontier document.
func NewFrontier(in *framework.Instance, res *algorithms.Result) *Frontier {
	f := &Frontier{
		TypeMeta: metav1.TypeMeta{
			APIVersion: SchemeGroupVersion.String(),
			Kind:       FrontierKind,
		},
		ObjectMeta: metav1.ObjectMeta{Name: in.Name},
		Status: FrontierStatus{
			Algorithm: res.Algorithm,
			State:     res.State.String(),
			Exact:     res.Exact,
			Elapsed:   metav1.Duration{Duration: res.Elapsed},
			Solves:    int32(res.Solves),
		},
	}
	for _, s := range res.Frontier {
		f.Status.Solutions = append(f.Status.Solutions, solutionStatus(in, s))
	}
	if res.Incumbent != nil {
		inc := solutionStatus(in, *res.Incumbent)
		f.Status.Incumbent = &inc
	}
	return f
}

func solutionStatus(in *framework.Instance, s framework.Solution) SolutionStatus {
	out := SolutionStatus{
		Placements: make(map[string]string, len(s.Allocation)),
		Energy:     s.Values.Energy,
		Wastage:    s.Values.Wastage,
		Migration:  s.Values.Migration,
	}
	for j, m := range s.Allocation {
		out.Placements[in.Jobs[j].Name] = in.Machines[m].Name
	}
	for _, j := range s.Allocation.Moved(in.Prior) {
		out.Moved = append(out.Moved, in.Jobs[j].Name)
	}
	sort.Strings(out.Moved)
	return out
}
