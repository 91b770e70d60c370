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
	"fmt"
	"strings"

	"github.com/go-air/gini/inter"
	"github.com/go-air/gini/z"
	"github.com/shopspring/decimal"
)

// Term is a single weighted literal of a linear expression.
type Term struct {
	Lit   z.Lit
	Coeff decimal.Decimal
}

// LinearExpression is an ordered sum of weighted literals. A literal
// contributes its coefficient when it is true and nothing otherwise.
type LinearExpression []Term

// Add appends coeff*m to the expression. Zero coefficients are dropped.
func (e *LinearExpression) Add(m z.Lit, coeff decimal.Decimal) {
	if coeff.IsZero() {
		return
	}
	*e = append(*e, Term{Lit: m, Coeff: coeff})
}

// Lits returns the literals of the expression in order.
func (e LinearExpression) Lits() []z.Lit {
	lits := make([]z.Lit, len(e))
	for i, t := range e {
		lits[i] = t.Lit
	}
	return lits
}

// CoeffSum returns the sum of all coefficients.
func (e LinearExpression) CoeffSum() decimal.Decimal {
	sum := decimal.Zero
	for _, t := range e {
		sum = sum.Add(t.Coeff)
	}
	return sum
}

// Eval sums the coefficients of every literal that is true in model.
func (e LinearExpression) Eval(model inter.Model) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range e {
		if model.Value(t.Lit) {
			sum = sum.Add(t.Coeff)
		}
	}
	return sum
}

// Bounds returns the smallest and largest values the expression can take
// over all assignments.
func (e LinearExpression) Bounds() (lo, hi decimal.Decimal) {
	lo, hi = decimal.Zero, decimal.Zero
	for _, t := range e {
		if t.Coeff.IsNegative() {
			lo = lo.Add(t.Coeff)
		} else {
			hi = hi.Add(t.Coeff)
		}
	}
	return lo, hi
}

func (e LinearExpression) String() string {
	if len(e) == 0 {
		return "0"
	}
	var b strings.Builder
	for i, t := range e {
		if i > 0 {
			b.WriteString(" + ")
		}
		fmt.Fprintf(&b, "%s*x%d", t.Coeff.String(), t.Lit.Dimacs())
	}
	return b.String()
}
