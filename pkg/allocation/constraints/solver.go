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

// Package constraints wraps an incremental SAT engine behind a small facade
// that understands clauses, linear pseudo-Boolean constraints and parity
// constraints, each of which can be added either permanently or as a
// removable constraint identified by a ConstraintID.
package constraints

import (
	"context"
	"errors"

	"github.com/go-air/gini/z"
	"github.com/shopspring/decimal"
)

var (
	// ErrContradiction is returned when adding a constraint would make the
	// active constraint set unsatisfiable by unit propagation alone. The
	// offending constraint is not added.
	ErrContradiction = errors.New("constraint contradicts the active constraint set")

	// ErrTimeout is returned when the decision procedure could not resolve
	// satisfiability before the deadline.
	ErrTimeout = errors.New("solver deadline exceeded")

	// ErrNotSupported is returned when an operation is used outside of its
	// contract, e.g. passing assumptions to an optimizer that cannot honour them.
	ErrNotSupported = errors.New("operation not supported")
)

// Status is the outcome of a call to Solve.
type Status int

const (
	Unknown Status = iota
	Satisfiable
	Unsatisfiable
)

func (s Status) String() string {
	switch s {
	case Satisfiable:
		return "satisfiable"
	case Unsatisfiable:
		return "unsatisfiable"
	default:
		return "unknown"
	}
}

// ConstraintID identifies a removable constraint. IDs are never reused.
type ConstraintID uint64

// Solver is the contract every search algorithm is written against.
//
// Hard additions and removable additions fail with an error wrapping
// ErrContradiction when the constraint is refuted by propagation under the
// currently active constraints. RemoveConstraints restores the solver to a
// state equivalent to never having added the given constraints.
type Solver interface {
	// NewVariable allocates a fresh variable and returns its positive literal.
	NewVariable() z.Lit

	AddClause(lits ...z.Lit) error
	AddAtMost(expr LinearExpression, bound decimal.Decimal) error
	AddLess(expr LinearExpression, bound decimal.Decimal) error
	AddAtLeast(expr LinearExpression, bound decimal.Decimal) error
	AddParity(lits []z.Lit, odd bool) error

	AddRemovableClause(lits ...z.Lit) (ConstraintID, error)
	AddRemovableAtMost(expr LinearExpression, bound decimal.Decimal) (ConstraintID, error)
	AddRemovableLess(expr LinearExpression, bound decimal.Decimal) (ConstraintID, error)
	AddRemovableParity(lits []z.Lit, odd bool) (ConstraintID, error)

	// RemoveConstraints deactivates the given constraints. Unknown or already
	// removed IDs are ignored.
	RemoveConstraints(ids ...ConstraintID)

	// Solve runs the decision procedure under the active constraints and
	// the given assumptions. A deadline on ctx bounds the call; once it has
	// passed Solve returns Unknown.
	Solve(ctx context.Context, assumptions ...z.Lit) Status

	// Value reports the value of m in the last satisfying model.
	Value(m z.Lit) bool
}
