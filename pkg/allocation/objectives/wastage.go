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
	"github.com/shopspring/decimal"

	"github.com/vmalloc/vmalloc/pkg/allocation/constraints"
	"github.com/vmalloc/vmalloc/pkg/allocation/encoding"
)

// WastageExpression builds the normalized capacity left unused on machines
// that are switched on: every used machine contributes 2 (one full unit of
// CPU and one of memory) minus the CPU and memory fractions its jobs occupy.
func WastageExpression(enc *encoding.Encoding, precision int32) constraints.LinearExpression {
	inst := enc.Instance()
	two := decimal.NewFromInt(2)
	var expr constraints.LinearExpression
	for m := range inst.Machines {
		expr.Add(enc.Y[m], two)
	}
	for j, job := range inst.Jobs {
		for m, machine := range inst.Machines {
			used := decimal.Zero
			if !machine.CPUCapacity.IsZero() {
				used = used.Add(job.CPURequest.DivRound(machine.CPUCapacity, precision+2))
			}
			if !machine.MemCapacity.IsZero() {
				used = used.Add(job.MemRequest.DivRound(machine.MemCapacity, precision+2))
			}
			// Rounded down so that a full machine never reports negative wastage.
			expr.Add(enc.X[j][m], used.RoundFloor(precision).Neg())
		}
	}
	return expr
}
