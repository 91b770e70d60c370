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

// Package objectives materializes the energy, wastage and migration
// objectives of an encoded instance as linear expressions and evaluates
// them against models and placements.
package objectives

import (
	"fmt"

	"github.com/go-air/gini/inter"
	"github.com/shopspring/decimal"

	"github.com/vmalloc/vmalloc/pkg/allocation/constraints"
	"github.com/vmalloc/vmalloc/pkg/allocation/encoding"
	"github.com/vmalloc/vmalloc/pkg/allocation/framework"
)

// Objective identifies one of the minimized objectives.
type Objective int

const (
	Energy Objective = iota
	Wastage
	Migration
)

// DefaultPrecision is the number of decimal places objective coefficients
// are rounded to.
const DefaultPrecision int32 = 6

func (o Objective) String() string {
	switch o {
	case Energy:
		return "energy"
	case Wastage:
		return "wastage"
	case Migration:
		return "migration"
	default:
		return fmt.Sprintf("objective(%d)", int(o))
	}
}

// Parse returns the objective with the given name.
func Parse(name string) (Objective, error) {
	for _, o := range []Objective{Energy, Wastage, Migration} {
		if o.String() == name {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown objective %q", name)
}

// Tracker holds the objective expressions of one encoded instance.
type Tracker struct {
	enc         *encoding.Encoding
	expressions [3]constraints.LinearExpression
	migration   bool
}

// NewTracker builds every objective expression of enc once.
func NewTracker(enc *encoding.Encoding, precision int32) *Tracker {
	t := &Tracker{
		enc:       enc,
		migration: enc.Instance().HasPrior(),
	}
	t.expressions[Energy] = EnergyExpression(enc, precision)
	t.expressions[Wastage] = WastageExpression(enc, precision)
	if t.migration {
		t.expressions[Migration] = MigrationExpression(enc)
	}
	return t
}

// HasMigration reports whether the instance has a prior placement. Without
// one migration cost is identically zero and should not be constrained.
func (t *Tracker) HasMigration() bool {
	return t.migration
}

// Objectives returns the objectives worth constraining, in order.
func (t *Tracker) Objectives() []Objective {
	if t.migration {
		return []Objective{Energy, Wastage, Migration}
	}
	return []Objective{Energy, Wastage}
}

// Expression returns the linear expression of o. Callers must not modify it.
func (t *Tracker) Expression(o Objective) constraints.LinearExpression {
	return t.expressions[o]
}

// Evaluate computes the objective values of a satisfying model.
func (t *Tracker) Evaluate(model inter.Model) framework.Values {
	v := framework.Values{
		Energy:  t.expressions[Energy].Eval(model),
		Wastage: t.expressions[Wastage].Eval(model),
	}
	if t.migration {
		v.Migration = t.expressions[Migration].Eval(model).IntPart()
	}
	return v
}

// EvaluateAllocation computes the objective values of a placement without
// consulting a solver.
func (t *Tracker) EvaluateAllocation(a framework.Allocation) framework.Values {
	return t.Evaluate(t.enc.ModelOf(a))
}

// Solution decodes and evaluates a satisfying model.
func (t *Tracker) Solution(model inter.Model) framework.Solution {
	return framework.Solution{
		Allocation: t.enc.Decode(model),
		Values:     t.Evaluate(model),
	}
}

// Value returns the value of o in v as a decimal.
func Value(v framework.Values, o Objective) decimal.Decimal {
	switch o {
	case Energy:
		return v.Energy
	case Wastage:
		return v.Wastage
	default:
		return decimal.NewFromInt(v.Migration)
	}
}
