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
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/exp/rand"

	"github.com/vmalloc/vmalloc/pkg/allocation/framework"
)

// GeneratorConfig describes a family of random instances.
type GeneratorConfig struct {
	Machines int
	Jobs     int
	// Load is the targeted ratio of total CPU demand to total CPU capacity.
	Load float64
	// PriorFraction is the probability that a job has a prior placement.
	PriorFraction float64
	// DecommissionFraction is the probability that a prior placement refers
	// to a machine outside the instance.
	DecommissionFraction float64
	// AntiColocationGroups is the number of anti-colocation groups jobs are
	// spread over. Zero disables anti-colocation.
	AntiColocationGroups int
	Seed                 uint64
}

var (
	capacityChoices = []int64{16, 32, 64}
	idlePowerChoice = []int64{80, 100, 120}
)

// Generate builds a random instance. The same configuration always yields
// the same instance. Feasibility is likely but not guaranteed.
func Generate(cfg GeneratorConfig) *framework.Instance {
	rng := rand.New(rand.NewSource(cfg.Seed))
	if cfg.Load <= 0 {
		cfg.Load = 0.5
	}

	inst := &framework.Instance{
		Name: fmt.Sprintf("random-%dx%d-%d", cfg.Machines, cfg.Jobs, cfg.Seed),
	}
	var totalCPU int64
	for m := 0; m < cfg.Machines; m++ {
		cpu := capacityChoices[rng.Intn(len(capacityChoices))]
		idle := idlePowerChoice[rng.Intn(len(idlePowerChoice))]
		totalCPU += cpu
		inst.Machines = append(inst.Machines, framework.Machine{
			Idx:         m,
			Name:        fmt.Sprintf("pm-%d", m),
			CPUCapacity: decimal.NewFromInt(cpu),
			MemCapacity: decimal.NewFromInt(cpu * 4),
			IdlePower:   decimal.NewFromInt(idle),
			MaxPower:    decimal.NewFromInt(idle * 2),
		})
	}

	meanCPU := 1.0
	if cfg.Jobs > 0 {
		meanCPU = cfg.Load * float64(totalCPU) / float64(cfg.Jobs)
	}
	for j := 0; j < cfg.Jobs; j++ {
		cpu := 1 + rng.Int63n(int64(2*meanCPU)+1)
		mem := 1 + rng.Int63n(cpu*8)
		job := framework.Job{
			Idx:             j,
			Name:            fmt.Sprintf("vm-%d", j),
			CPURequest:      decimal.NewFromInt(cpu),
			MemRequest:      decimal.NewFromInt(mem),
			MigrationWeight: 1,
		}
		if cfg.AntiColocationGroups > 0 && rng.Float64() < 0.5 {
			job.AntiColocationGroup = fmt.Sprintf("group-%d", rng.Intn(cfg.AntiColocationGroups))
		}
		inst.Jobs = append(inst.Jobs, job)
	}

	for j := range inst.Jobs {
		if cfg.Machines == 0 || rng.Float64() >= cfg.PriorFraction {
			continue
		}
		if inst.Prior == nil {
			inst.Prior = make(map[int]int)
		}
		if rng.Float64() < cfg.DecommissionFraction {
			inst.Prior[j] = framework.NoMachine
			continue
		}
		inst.Prior[j] = rng.Intn(cfg.Machines)
	}
	return inst
}
