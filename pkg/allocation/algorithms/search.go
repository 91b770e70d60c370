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
	"fmt"
	"time"

	"github.com/go-air/gini/z"
	"github.com/shopspring/decimal"
	"k8s.io/klog/v2"

	"github.com/vmalloc/vmalloc/pkg/allocation/constraints"
	"github.com/vmalloc/vmalloc/pkg/allocation/encoding"
	"github.com/vmalloc/vmalloc/pkg/allocation/framework"
	"github.com/vmalloc/vmalloc/pkg/allocation/objectives"
)

// search holds the state shared by the frontier searches: the encoded
// instance, the solver, the frontier and the lifecycle bookkeeping.
type search struct {
	name string
	cfg  Config
	inst *framework.Instance

	solver  constraints.Solver
	enc     *encoding.Encoding
	tracker *objectives.Tracker

	frontier  Frontier
	state     State
	incumbent *framework.Solution
	exact     bool
	solves    int
	start     time.Time
	elapsed   time.Duration
}

func newSearch(name string, inst *framework.Instance, s constraints.Solver, cfg Config) search {
	return search{
		name:   name,
		cfg:    cfg.withDefaults(),
		inst:   inst,
		solver: s,
		state:  Init,
	}
}

func (s *search) Name() string {
	return s.name
}

// Solver exposes the underlying solver, mostly for inspection in tests.
func (s *search) Solver() constraints.Solver {
	return s.solver
}

// Tracker returns the objective tracker once the search is initialized.
func (s *search) Tracker() *objectives.Tracker {
	return s.tracker
}

func (s *search) Done() bool {
	return s.state == Done || s.state == TimedOut || s.state == Unsatisfiable
}

func (s *search) Result() *Result {
	elapsed := s.elapsed
	if !s.Done() && !s.start.IsZero() {
		elapsed = s.cfg.Clock.Since(s.start)
	}
	res := &Result{
		Algorithm: s.name,
		State:     s.state,
		Frontier:  s.frontier.Solutions(),
		Exact:     s.state == Done && s.exact,
		Solves:    s.solves,
		Elapsed:   elapsed,
	}
	if s.incumbent != nil {
		inc := *s.incumbent
		inc.Allocation = inc.Allocation.Clone()
		res.Incumbent = &inc
	}
	return res
}

// initialize encodes the instance. An encoding refuted by propagation ends
// the search as Unsatisfiable.
func (s *search) initialize(ctx context.Context) error {
	logger := klog.FromContext(ctx)
	s.start = s.cfg.Clock.Now()
	s.cfg.Reporter.Initializing(s.name)

	enc, err := encoding.Build(s.solver, s.inst)
	if errors.Is(err, constraints.ErrContradiction) {
		logger.V(1).Info("Placement constraints are contradictory", "err", err)
		s.cfg.Metrics.contradiction(s.name)
		s.finish(Unsatisfiable)
		return nil
	}
	if err != nil {
		return err
	}
	s.enc = enc
	s.tracker = objectives.NewTracker(enc, s.cfg.Precision)
	s.state = Searching
	logger.V(2).Info("Encoded instance", "machines", len(s.inst.Machines), "jobs", len(s.inst.Jobs), "objectives", len(s.tracker.Objectives()))
	return nil
}

func (s *search) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Deadline.IsZero() {
		return ctx, func() {}
	}
	return context.WithDeadline(ctx, s.cfg.Deadline)
}

// solve runs the solver under the configured deadline.
func (s *search) solve(ctx context.Context, assumptions ...z.Lit) constraints.Status {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	start := time.Now()
	status := s.solver.Solve(ctx, assumptions...)
	s.solves++
	s.cfg.Metrics.observeSolve(s.name, status, time.Since(start))
	return status
}

// accept offers sol to the frontier and notifies the reporter on acceptance.
func (s *search) accept(sol framework.Solution) bool {
	if !s.frontier.Offer(sol) {
		return false
	}
	s.cfg.Metrics.accepted(s.name)
	s.cfg.Reporter.SolutionFound(sol)
	return true
}

func (s *search) finish(state State) {
	s.state = state
	s.elapsed = s.cfg.Clock.Since(s.start)
	switch state {
	case Done:
		s.cfg.Reporter.Complete(s.exact)
	case TimedOut:
		s.cfg.Reporter.TimedOut()
	case Unsatisfiable:
		s.cfg.Reporter.Unsatisfiable()
	}
}

// contradiction reports whether err is a propagation refutation, counting it.
// Any other error is returned unchanged.
func (s *search) contradiction(err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	if errors.Is(err, constraints.ErrContradiction) {
		s.cfg.Metrics.contradiction(s.name)
		return true, nil
	}
	return false, err
}

// addNoWorse adds one removable upper bound per objective so that further
// models are at least as good as v everywhere.
func (s *search) addNoWorse(v framework.Values) ([]constraints.ConstraintID, error) {
	var ids []constraints.ConstraintID
	for _, o := range s.tracker.Objectives() {
		id, err := s.solver.AddRemovableAtMost(s.tracker.Expression(o), objectives.Value(v, o))
		if err != nil {
			s.solver.RemoveConstraints(ids...)
			return nil, fmt.Errorf("bounding %s: %w", o, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// addStrictImprovement adds, per objective, a bound "objective < value"
// relaxed by a fresh selector, and returns the negated selectors. A clause
// over them demands strict improvement in at least one objective. When
// removable is set the bounds are removable and their ids are returned.
func (s *search) addStrictImprovement(v framework.Values, removable bool) ([]z.Lit, []constraints.ConstraintID, error) {
	var (
		block []z.Lit
		ids   []constraints.ConstraintID
	)
	for _, o := range s.tracker.Objectives() {
		sel := s.solver.NewVariable()
		expr := relaxed(s.tracker.Expression(o), sel)
		value := objectives.Value(v, o)

		var (
			id  constraints.ConstraintID
			err error
		)
		switch {
		case o == objectives.Migration && removable:
			id, err = s.solver.AddRemovableAtMost(expr, value.Sub(decimal.NewFromInt(1)))
		case o == objectives.Migration:
			err = s.solver.AddAtMost(expr, value.Sub(decimal.NewFromInt(1)))
		case removable:
			id, err = s.solver.AddRemovableLess(expr, value)
		default:
			err = s.solver.AddLess(expr, value)
		}
		if err != nil {
			s.solver.RemoveConstraints(ids...)
			return nil, nil, fmt.Errorf("bounding %s strictly: %w", o, err)
		}
		if removable {
			ids = append(ids, id)
		}
		block = append(block, sel.Not())
	}
	return block, ids, nil
}

// relaxed returns expr minus a multiple of sel large enough that the strict
// bound holds for every assignment once sel is true.
func relaxed(expr constraints.LinearExpression, sel z.Lit) constraints.LinearExpression {
	lo, hi := expr.Bounds()
	out := make(constraints.LinearExpression, len(expr), len(expr)+1)
	copy(out, expr)
	out.Add(sel, hi.Sub(lo).Add(decimal.NewFromInt(1)).Neg())
	return out
}

// improve descends from `from` to a Pareto-optimal solution that weakly
// dominates it, using removable constraints only. On a timeout it returns the
// best solution reached together with constraints.ErrTimeout.
func (s *search) improve(ctx context.Context, from framework.Solution) (framework.Solution, error) {
	logger := klog.FromContext(ctx)
	cur := from
	for {
		ids, err := s.addNoWorse(cur.Values)
		if err == nil {
			var (
				block []z.Lit
				more  []constraints.ConstraintID
			)
			block, more, err = s.addStrictImprovement(cur.Values, true)
			ids = append(ids, more...)
			if err == nil {
				var id constraints.ConstraintID
				id, err = s.solver.AddRemovableClause(block...)
				ids = append(ids, id)
			}
		}
		if refuted, err := s.contradiction(err); err != nil {
			s.solver.RemoveConstraints(ids...)
			return cur, err
		} else if refuted {
			s.solver.RemoveConstraints(ids...)
			return cur, nil
		}

		status := s.solve(ctx)
		var next framework.Solution
		if status == constraints.Satisfiable {
			next = s.tracker.Solution(s.solver)
		}
		s.solver.RemoveConstraints(ids...)

		switch status {
		case constraints.Satisfiable:
			logger.V(4).Info("Improved solution", "from", cur.Values, "to", next.Values)
			cur = next
		case constraints.Unsatisfiable:
			return cur, nil
		default:
			return cur, constraints.ErrTimeout
		}
	}
}
