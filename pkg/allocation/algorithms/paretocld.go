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

package algorithms

import (
	"context"
	"errors"

	"github.com/go-air/gini/z"
	"k8s.io/klog/v2"

	"github.com/vmalloc/vmalloc/pkg/allocation/constraints"
	"github.com/vmalloc/vmalloc/pkg/allocation/framework"
)

// ParetoCLD enumerates the Pareto frontier through minimal correction sets
// of the objective terms. Each objective term contributes a soft literal
// that holds when the term adds nothing to the objective. A round grows the
// set of satisfied soft literals until no model satisfies more; the
// remaining soft literals form a correction set. The round's model is
// polished into a Pareto-optimal solution; the correction set and the region
// the solution weakly dominates are then blocked permanently.
type ParetoCLD struct {
	search

	soft        []z.Lit
	undecided   []z.Lit
	round       []constraints.ConstraintID
	roundSol    *framework.Solution
	lastBlocked []z.Lit
	rounds      int
}

var _ Algorithm = &ParetoCLD{}

// NewParetoCLD returns a Pareto-CLD search over inst backed by a fresh gini
// solver.
func NewParetoCLD(inst *framework.Instance, cfg Config) *ParetoCLD {
	return NewParetoCLDWithSolver(inst, constraints.NewGiniSolver(), cfg)
}

// NewParetoCLDWithSolver returns a Pareto-CLD search using s, which must be
// empty.
func NewParetoCLDWithSolver(inst *framework.Instance, s constraints.Solver, cfg Config) *ParetoCLD {
	return &ParetoCLD{search: newSearch(ParetoCLDName, inst, s, cfg)}
}

func (p *ParetoCLD) Initialize(ctx context.Context) error {
	if err := p.initialize(ctx); err != nil || p.Done() {
		return err
	}
	p.soft = p.softLiterals()
	p.undecided = append([]z.Lit(nil), p.soft...)
	klog.FromContext(ctx).V(2).Info("Collected soft literals", "count", len(p.soft))
	return nil
}

// softLiterals returns, once per literal, the literal that makes each
// objective term contribute nothing: the negation for a positive
// coefficient, the literal itself for a negative one.
func (p *ParetoCLD) softLiterals() []z.Lit {
	seen := make(map[z.Lit]bool)
	var out []z.Lit
	for _, o := range p.tracker.Objectives() {
		for _, t := range p.tracker.Expression(o) {
			m := t.Lit
			if t.Coeff.IsPositive() {
				m = m.Not()
			}
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

// LastBlocked returns the correction set blocked by the latest round.
func (p *ParetoCLD) LastBlocked() []z.Lit {
	return append([]z.Lit(nil), p.lastBlocked...)
}

// Rounds returns the number of completed rounds.
func (p *ParetoCLD) Rounds() int {
	return p.rounds
}

func (p *ParetoCLD) Step(ctx context.Context) error {
	if p.Done() {
		return nil
	}
	switch p.solve(ctx) {
	case constraints.Satisfiable:
		return p.grow(ctx)
	case constraints.Unsatisfiable:
		if p.roundSol == nil {
			// The blocked correction sets cover every model.
			p.exact = true
			if p.rounds == 0 {
				p.finish(Unsatisfiable)
				return nil
			}
			p.finish(Done)
			return nil
		}
		return p.completeRound(ctx)
	default:
		p.incumbent = p.roundSol
		p.finish(TimedOut)
		return nil
	}
}

// grow fixes the soft literals satisfied by the current model for the rest
// of the round and asks for at least one more.
func (p *ParetoCLD) grow(ctx context.Context) error {
	sol := p.tracker.Solution(p.solver)
	p.roundSol = &sol

	satisfied, unsatisfied := extractSatisfied(p.solver, p.undecided)
	p.undecided = unsatisfied
	klog.FromContext(ctx).V(4).Info("Grew satisfied set", "satisfied", len(satisfied), "undecided", len(unsatisfied))

	for _, m := range satisfied {
		id, err := p.solver.AddRemovableClause(m)
		if refuted, err := p.contradiction(err); err != nil {
			return err
		} else if refuted {
			return p.completeRound(ctx)
		}
		p.round = append(p.round, id)
	}
	if len(p.undecided) == 0 {
		return p.completeRound(ctx)
	}
	id, err := p.solver.AddRemovableClause(p.undecided...)
	if refuted, err := p.contradiction(err); err != nil {
		return err
	} else if refuted {
		return p.completeRound(ctx)
	}
	p.round = append(p.round, id)
	return nil
}

// completeRound polishes the round's model, accepts it and blocks the
// correction set.
func (p *ParetoCLD) completeRound(ctx context.Context) error {
	logger := klog.FromContext(ctx)
	p.solver.RemoveConstraints(p.round...)
	p.round = nil

	best, err := p.improve(ctx, *p.roundSol)
	if errors.Is(err, constraints.ErrTimeout) {
		p.incumbent = &best
		p.finish(TimedOut)
		return nil
	}
	if err != nil {
		return err
	}
	if p.accept(best) {
		logger.V(2).Info("Accepted solution", "values", best.Values, "frontier", p.frontier.Len())
	}

	p.rounds++
	p.cfg.Metrics.epoch(p.name)
	p.lastBlocked = p.undecided
	p.roundSol = nil
	p.undecided = append([]z.Lit(nil), p.soft...)

	err = p.solver.AddClause(p.lastBlocked...)
	if refuted, err := p.contradiction(err); err != nil {
		return err
	} else if refuted {
		p.exact = true
		p.finish(Done)
		return nil
	}

	// Later rounds must escape everything the accepted point weakly
	// dominates. Every correction set stays minimal over the placement
	// constraints, so no unseen frontier point is lost.
	block, _, err := p.addStrictImprovement(best.Values, false)
	if err == nil {
		err = p.solver.AddClause(block...)
	}
	if refuted, err := p.contradiction(err); err != nil {
		return err
	} else if refuted {
		p.exact = true
		p.finish(Done)
	}
	return nil
}

// extractSatisfied partitions lits by their value in model.
func extractSatisfied(model constraints.Solver, lits []z.Lit) (satisfied, unsatisfied []z.Lit) {
	for _, m := range lits {
		if model.Value(m) {
			satisfied = append(satisfied, m)
		} else {
			unsatisfied = append(unsatisfied, m)
		}
	}
	return satisfied, unsatisfied
}
