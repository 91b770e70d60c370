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
	"math/big"
	"slices"
	"time"

	"github.com/go-air/gini"
	"github.com/go-air/gini/logic"
	"github.com/go-air/gini/z"
	"github.com/shopspring/decimal"
)

const (
	satisfiable   = 1
	unsatisfiable = -1
)

// GiniSolver implements Solver on top of the gini SAT engine.
//
// Every constraint is first built as a root literal in a persistent circuit.
// Hard constraints write the gate definitions of their root's cone, plus the
// unit clause of the root, into an append-only arena. Removable constraints
// only keep their root, keyed by ConstraintID; the clauses of their cone are
// written afresh whenever they are needed, so a removed constraint leaves
// nothing behind in the arena.
//
// Each call to Solve loads the arena, the cones of the active roots and the
// roots themselves into a fresh gini instance, renumbering the variables in
// use densely. Removal is exact and no learnt clause outlives the
// constraints it was derived from.
type GiniSolver struct {
	c *logic.C

	// marks records which circuit nodes the arena already defines.
	marks []int8
	// nvars is the highest variable in use.
	nvars int

	hard  [][]z.Lit
	units []z.Lit
	occ   [][]int32

	nextID ConstraintID
	roots  map[ConstraintID]z.Lit
	active []ConstraintID

	model []bool
	// loaded is the number of clauses handed to the engine by the last Solve.
	loaded int
}

var _ Solver = &GiniSolver{}

// NewGiniSolver returns an empty solver.
func NewGiniSolver() *GiniSolver {
	s := &GiniSolver{
		c:     logic.NewC(),
		roots: make(map[ConstraintID]z.Lit),
	}
	// Fixes the circuit's constant.
	w := &cnfWriter{}
	s.marks, _ = s.c.CnfSince(w, s.marks)
	for _, cl := range w.clauses {
		s.store(cl)
	}
	return s
}

// cnfWriter collects the clauses written by the circuit. Duplicate literals
// are dropped and tautologies are not kept.
type cnfWriter struct {
	pending []z.Lit
	clauses [][]z.Lit
}

func (w *cnfWriter) Add(m z.Lit) {
	if m != z.LitNull {
		w.pending = append(w.pending, m)
		return
	}
	cl := slices.Clone(w.pending)
	w.pending = w.pending[:0]
	slices.Sort(cl)
	cl = slices.Compact(cl)
	for i := 1; i < len(cl); i++ {
		// m and m.Not() differ only in the lowest bit and sort next to each other.
		if cl[i] == cl[i-1].Not() {
			return
		}
	}
	w.clauses = append(w.clauses, cl)
}

// store appends clause to the arena.
func (s *GiniSolver) store(cl []z.Lit) {
	idx := int32(len(s.hard))
	s.hard = append(s.hard, cl)
	for _, m := range cl {
		s.see(m)
		s.occ[m.Not()] = append(s.occ[m.Not()], idx)
	}
	if len(cl) == 1 {
		s.units = append(s.units, cl[0])
	}
}

// see grows the variable range to cover m.
func (s *GiniSolver) see(m z.Lit) {
	if v := int(m.Var()); v > s.nvars {
		s.nvars = v
	}
	for len(s.occ) < 2*(s.nvars+1) {
		s.occ = append(s.occ, nil)
	}
}

func (s *GiniSolver) NewVariable() z.Lit {
	m := s.c.Lit()
	s.see(m)
	return m
}

// Value reports the value of m in the last satisfying model. Variables no
// loaded clause mentions read as false.
func (s *GiniSolver) Value(m z.Lit) bool {
	v := int(m.Var())
	if v >= len(s.model) {
		return false
	}
	return s.model[v] == m.IsPos()
}

func (s *GiniSolver) AddClause(lits ...z.Lit) error {
	return s.addHard(s.c.Ors(lits...))
}

func (s *GiniSolver) AddAtMost(expr LinearExpression, bound decimal.Decimal) error {
	return s.addHard(s.atMost(expr, bound, false))
}

func (s *GiniSolver) AddLess(expr LinearExpression, bound decimal.Decimal) error {
	return s.addHard(s.atMost(expr, bound, true))
}

func (s *GiniSolver) AddAtLeast(expr LinearExpression, bound decimal.Decimal) error {
	// expr >= k  <=>  not (expr < k)
	return s.addHard(s.atMost(expr, bound, true).Not())
}

func (s *GiniSolver) AddParity(lits []z.Lit, odd bool) error {
	return s.addHard(parity(s.c, lits, odd))
}

func (s *GiniSolver) AddRemovableClause(lits ...z.Lit) (ConstraintID, error) {
	return s.addRemovable(s.c.Ors(lits...))
}

func (s *GiniSolver) AddRemovableAtMost(expr LinearExpression, bound decimal.Decimal) (ConstraintID, error) {
	return s.addRemovable(s.atMost(expr, bound, false))
}

func (s *GiniSolver) AddRemovableLess(expr LinearExpression, bound decimal.Decimal) (ConstraintID, error) {
	return s.addRemovable(s.atMost(expr, bound, true))
}

func (s *GiniSolver) AddRemovableParity(lits []z.Lit, odd bool) (ConstraintID, error) {
	return s.addRemovable(parity(s.c, lits, odd))
}

func (s *GiniSolver) RemoveConstraints(ids ...ConstraintID) {
	removed := false
	for _, id := range ids {
		if _, ok := s.roots[id]; ok {
			delete(s.roots, id)
			removed = true
		}
	}
	if !removed {
		return
	}
	s.active = slices.DeleteFunc(s.active, func(id ConstraintID) bool {
		_, ok := s.roots[id]
		return !ok
	})
}

// Active returns the number of removable constraints currently in force.
func (s *GiniSolver) Active() int {
	return len(s.active)
}

func (s *GiniSolver) Solve(ctx context.Context, assumptions ...z.Lit) Status {
	s.model = nil
	if ctx.Err() != nil {
		return Unknown
	}
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline && !time.Now().Before(deadline) {
		return Unknown
	}
	for _, m := range assumptions {
		s.see(m)
	}

	g, dense := s.load(assumptions)
	var res int
	if hasDeadline {
		// Loading counts against the same deadline.
		timeout := time.Until(deadline)
		if timeout <= 0 {
			return Unknown
		}
		res = g.Try(timeout)
	} else {
		res = g.Solve()
	}
	switch res {
	case satisfiable:
		s.model = make([]bool, s.nvars+1)
		for v, d := range dense {
			if d != 0 {
				s.model[v] = g.Value(d.Pos())
			}
		}
		return Satisfiable
	case unsatisfiable:
		return Unsatisfiable
	default:
		return Unknown
	}
}

// load returns a gini instance holding the arena, the active roots and
// their cones, with the given assumptions made. dense maps every variable
// that reached the engine to its engine variable.
func (s *GiniSolver) load(assumptions []z.Lit) (g *gini.Gini, dense []z.Var) {
	roots := s.activeRoots()
	extra := s.cone(roots)

	g = gini.New()
	dense = make([]z.Var, s.nvars+1)
	lit := func(m z.Lit) z.Lit {
		v := m.Var()
		if dense[v] == 0 {
			dense[v] = g.Lit().Var()
		}
		if m.IsPos() {
			return dense[v].Pos()
		}
		return dense[v].Neg()
	}
	add := func(cl []z.Lit) {
		for _, m := range cl {
			g.Add(lit(m))
		}
		g.Add(z.LitNull)
	}
	for _, cl := range s.hard {
		add(cl)
	}
	for _, cl := range extra {
		add(cl)
	}
	for _, m := range roots {
		add([]z.Lit{m})
	}
	for _, m := range assumptions {
		g.Assume(lit(m))
	}
	s.loaded = len(s.hard) + len(extra) + len(roots)
	return g, dense
}

func (s *GiniSolver) activeRoots() []z.Lit {
	roots := make([]z.Lit, len(s.active))
	for i, id := range s.active {
		roots[i] = s.roots[id]
	}
	return roots
}

// cone returns the gate definitions reachable from roots that the arena
// does not hold.
func (s *GiniSolver) cone(roots []z.Lit) [][]z.Lit {
	if len(roots) == 0 {
		return nil
	}
	w := &cnfWriter{}
	s.c.CnfSince(w, slices.Clone(s.marks), roots...)
	for _, cl := range w.clauses {
		for _, m := range cl {
			s.see(m)
		}
	}
	return w.clauses
}

func (s *GiniSolver) atMost(expr LinearExpression, bound decimal.Decimal, strict bool) z.Lit {
	terms, k := scale(expr, bound)
	if strict {
		k.Sub(k, big.NewInt(1))
	}
	return atMost(s.c, terms, k)
}

// refuted reports whether asserting root together with the hard clauses
// and the active roots leads to a conflict by unit propagation.
func (s *GiniSolver) refuted(root z.Lit) bool {
	switch root {
	case s.c.F:
		return true
	case s.c.T:
		return false
	}
	s.see(root)
	roots := append(s.activeRoots(), root)
	asserted := make([]z.Lit, 0, len(s.units)+len(roots))
	asserted = append(asserted, s.units...)
	asserted = append(asserted, roots...)
	return s.propagate(s.cone(roots), asserted)
}

// propagate asserts lits and runs unit propagation over the arena and the
// extra clauses. It reports whether a conflict was reached.
func (s *GiniSolver) propagate(extra [][]z.Lit, lits []z.Lit) bool {
	vals := make([]int8, s.nvars+1)
	value := func(m z.Lit) int8 {
		if m.IsPos() {
			return vals[m.Var()]
		}
		return -vals[m.Var()]
	}
	var queue []z.Lit
	assign := func(m z.Lit) bool {
		switch value(m) {
		case 1:
			return true
		case -1:
			return false
		}
		if m.IsPos() {
			vals[m.Var()] = 1
		} else {
			vals[m.Var()] = -1
		}
		queue = append(queue, m)
		return true
	}
	// check reports false when cl is falsified and assigns its last literal
	// when it has become unit.
	check := func(cl []z.Lit) bool {
		free, open := z.LitNull, 0
		for _, m := range cl {
			switch value(m) {
			case 1:
				return true
			case 0:
				free = m
				open++
			}
		}
		switch open {
		case 0:
			return false
		case 1:
			assign(free)
		}
		return true
	}

	extraOcc := make(map[z.Lit][]int)
	for i, cl := range extra {
		if len(cl) == 1 {
			lits = append(lits, cl[0])
		}
		for _, m := range cl {
			extraOcc[m.Not()] = append(extraOcc[m.Not()], i)
		}
	}
	for _, m := range lits {
		if !assign(m) {
			return true
		}
	}
	for head := 0; head < len(queue); head++ {
		// Every clause holding the negation of a newly true literal may
		// have become unit or empty.
		m := queue[head]
		for _, idx := range s.occ[m] {
			if !check(s.hard[idx]) {
				return true
			}
		}
		for _, idx := range extraOcc[m] {
			if !check(extra[idx]) {
				return true
			}
		}
	}
	return false
}

func (s *GiniSolver) addHard(root z.Lit) error {
	if s.refuted(root) {
		return fmt.Errorf("adding hard constraint: %w", ErrContradiction)
	}
	if root == s.c.T {
		return nil
	}
	w := &cnfWriter{}
	s.marks, _ = s.c.CnfSince(w, s.marks, root)
	for _, cl := range w.clauses {
		s.store(cl)
	}
	s.store([]z.Lit{root})
	return nil
}

func (s *GiniSolver) addRemovable(root z.Lit) (ConstraintID, error) {
	if s.refuted(root) {
		return 0, fmt.Errorf("adding removable constraint: %w", ErrContradiction)
	}
	s.see(root)
	s.nextID++
	id := s.nextID
	s.roots[id] = root
	s.active = append(s.active, id)
	return id, nil
}
