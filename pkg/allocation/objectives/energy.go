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

package objectives

import (
	"github.com/vmalloc/vmalloc/pkg/allocation/constraints"
	"github.com/vmalloc/vmalloc/pkg/allocation/encoding"
)

// EnergyExpression builds the power drawn by the placement under a linear
// power model: a switched-on machine draws its idle power, plus a share of
// (max - idle) proportional to the CPU fraction each hosted job requests.
func EnergyExpression(enc *encoding.Encoding, precision int32) constraints.LinearExpression {
	inst := enc.Instance()
	var expr constraints.LinearExpression
	for m, machine := range inst.Machines {
		expr.Add(enc.Y[m], machine.IdlePower.Round(precision))
	}
	for j, job := range inst.Jobs {
		for m, machine := range inst.Machines {
			if machine.CPUCapacity.IsZero() {
				continue
			}
			dynamic := machine.MaxPower.Sub(machine.IdlePower)
			load := job.CPURequest.DivRound(machine.CPUCapacity, precision+2)
			expr.Add(enc.X[j][m], dynamic.Mul(load).Round(precision))
		}
	}
	return expr
}
