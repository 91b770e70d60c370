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

package constraints

import (
	"context"
	"fmt"

	"github.com/go-air/gini/z"
	"github.com/shopspring/decimal"
)

// Optimizer minimizes a linear objective over a Solver by strengthening a
// hard upper bound after every model.
type Optimizer struct {
	s         Solver
	objective LinearExpression

	current decimal.Decimal
	hasSol  bool
}

// NewOptimizer returns an Optimizer minimizing objective over s.
func NewOptimizer(s Solver, objective LinearExpression) *Optimizer {
	return &Optimizer{s: s, objective: objective}
}

// AdmitBetterSolution searches for a model strictly better than every model
// discarded so far. It returns false when no such model exists.
func (o *Optimizer) AdmitBetterSolution(ctx context.Context, assumptions ...z.Lit) (bool, error) {
	if len(assumptions) > 0 {
		return false, fmt.Errorf("optimizing under assumptions: %w", ErrNotSupported)
	}
	switch o.s.Solve(ctx) {
	case Satisfiable:
		o.current = o.objective.Eval(o.s)
		o.hasSol = true
		return true, nil
	case Unsatisfiable:
		return false, nil
	default:
		return false, ErrTimeout
	}
}

// DiscardCurrentSolution forbids every model whose objective value is not
// strictly below the last admitted one.
func (o *Optimizer) DiscardCurrentSolution() error {
	if !o.hasSol {
		return nil
	}
	return o.s.AddLess(o.objective, o.current)
}

// ObjectiveValue returns the objective value of the last admitted model.
func (o *Optimizer) ObjectiveValue() decimal.Decimal {
	return o.current
}
