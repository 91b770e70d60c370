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

// MigrationExpression builds the weighted number of jobs placed away from
// their prior machine. Jobs without a prior placement never count, and a job
// whose prior machine is not part of the instance counts wherever it goes.
func MigrationExpression(enc *encoding.Encoding) constraints.LinearExpression {
	inst := enc.Instance()
	var expr constraints.LinearExpression
	for j, job := range inst.Jobs {
		prior, ok := inst.Prior[j]
		if !ok {
			continue
		}
		weight := job.MigrationWeight
		if weight <= 0 {
			weight = 1
		}
		for m := range inst.Machines {
			if m == prior {
				continue
			}
			expr.Add(enc.X[j][m], decimal.NewFromInt(weight))
		}
	}
	return expr
}
