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
	"github.com/vmalloc/vmalloc/pkg/allocation/framework"
)

// PBOResult is the outcome of a single-objective optimization.
type PBOResult struct {
	// Best is the best objective value found, nil when none was found.
	Best     *decimal.Decimal
	Solution *framework.Solution
	// FoundOptimum is set when Best is proven optimal, or when the problem
	// was proven unsatisfiable.
	FoundOptimum bool
}

// PBO minimizes one linear objective by repeatedly demanding a model
// strictly better than the last one.
type PBO struct {
	search

	objective constraints.LinearExpression
	optimizer *constraints.Optimizer
	// raw is set when the objective was given directly over the solver
	// rather than derived from a placement instance.
	raw          bool
	initialized  bool
	best         *decimal.Decimal
	bestSol      *framework.Solution
	foundOptimum bool

	// OnImprove, when set, is called with every improved objective value.
	OnImprove func(best decimal.Decimal)
}

var _ Algorithm = &PBO{}

// NewPBO returns an optimizer of cfg.Objective over the placements of inst.
func NewPBO(inst *framework.Instance, cfg Config) *PBO {
	return &PBO{search: newSearch(PBOName, inst, constraints.NewGiniSolver(), cfg)}
}

// NewPBOForObjective returns an optimizer of objective over the constraints
// already added to s.
func NewPBOForObjective(s constraints.Solver, objective constraints.LinearExpression, cfg Config) *PBO {
	return &PBO{
		search:    newSearch(PBOName, nil, s, cfg),
		objective: objective,
		raw:       true,
	}
}

func (p *PBO) Initialize(ctx context.Context) error {
	if p.initialized {
		return nil
	}
	p.initialized = true
	if p.raw {
		p.start = p.cfg.Clock.Now()
		p.cfg.Reporter.Initializing(p.name)
		p.state = Searching
	} else {
		if err := p.initialize(ctx); err != nil {
			return err
		}
		if p.Done() {
			p.foundOptimum = true
			return nil
		}
		p.objective = p.tracker.Expression(p.cfg.Objective)
	}
	p.optimizer = constraints.NewOptimizer(p.solver, p.objective)
	logger := klog.FromContext(ctx)
	if p.raw {
		logger.V(2).Info("Optimizing expression", "terms", len(p.objective))
	} else {
		logger.V(2).Info("Optimizing", "objective", p.cfg.Objective, "terms", len(p.objective))
	}
	return nil
}

func (p *PBO) Step(ctx context.Context) error {
	if p.Done() {
		return nil
	}
	dctx, cancel := p.withDeadline(ctx)
	defer cancel()
	start := time.Now()
	ok, err := p.optimizer.AdmitBetterSolution(dctx)
	took := time.Since(start)
	p.solves++
	switch {
	case errors.Is(err, constraints.ErrTimeout):
		p.cfg.Metrics.observeSolve(p.name, constraints.Unknown, took)
		p.incumbent = p.bestSol
		p.finish(TimedOut)
		return nil
	case err != nil:
		return err
	case !ok:
		p.cfg.Metrics.observeSolve(p.name, constraints.Unsatisfiable, took)
		p.conclude()
		return nil
	}
	p.cfg.Metrics.observeSolve(p.name, constraints.Satisfiable, took)

	value := p.optimizer.ObjectiveValue()
	if p.best == nil || value.LessThan(*p.best) {
		p.best = &value
		if !p.raw {
			sol := p.tracker.Solution(p.solver)
			p.bestSol = &sol
		}
		if p.raw {
			klog.FromContext(ctx).V(2).Info("Improved expression", "value", value.String())
		} else {
			klog.FromContext(ctx).V(2).Info("Improved objective", "objective", p.cfg.Objective, "value", value.String())
		}
		if p.OnImprove != nil {
			p.OnImprove(value)
		}
	}

	err = p.optimizer.DiscardCurrentSolution()
	if refuted, err := p.contradiction(err); err != nil {
		return err
	} else if refuted {
		p.conclude()
	}
	return nil
}

// conclude records that no better model exists.
func (p *PBO) conclude() {
	p.foundOptimum = true
	p.exact = true
	if p.best == nil {
		p.finish(Unsatisfiable)
		return
	}
	if p.bestSol != nil {
		p.accept(*p.bestSol)
	}
	p.finish(Done)
}

// Optimize runs the optimization to completion or to the deadline.
// Assumptions are not supported.
func (p *PBO) Optimize(ctx context.Context, assumptions ...z.Lit) (PBOResult, error) {
	if len(assumptions) > 0 {
		return PBOResult{}, fmt.Errorf("optimizing under assumptions: %w", constraints.ErrNotSupported)
	}
	if err := p.Initialize(ctx); err != nil {
		return PBOResult{}, err
	}
	for !p.Done() {
		if err := p.Step(ctx); err != nil {
			return p.PBOResult(), err
		}
	}
	return p.PBOResult(), nil
}

// PBOResult returns the current optimization outcome.
func (p *PBO) PBOResult() PBOResult {
	res := PBOResult{FoundOptimum: p.foundOptimum}
	if p.best != nil {
		best := *p.best
		res.Best = &best
	}
	if p.bestSol != nil {
		sol := *p.bestSol
		sol.Allocation = sol.Allocation.Clone()
		res.Solution = &sol
	}
	return res
}
