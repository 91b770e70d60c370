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

	"github.com/go-air/gini/z"
	"k8s.io/klog/v2"

	"github.com/vmalloc/vmalloc/pkg/allocation/constraints"
	"github.com/vmalloc/vmalloc/pkg/allocation/framework"
	"github.com/vmalloc/vmalloc/pkg/allocation/hashing"
)

// GIA enumerates the Pareto frontier by iterated improvement. Each epoch
// starts from an arbitrary model and walks a chain of strictly improving
// models. When no further improvement exists the last model of the chain is
// Pareto-optimal; it is accepted and every model it weakly dominates is
// blocked permanently.
//
// With hashing enabled a random XOR cell restricts where new epochs start,
// spreading the frontier across the space.
type GIA struct {
	search

	hash       *hashing.Partitioner
	dominance  []constraints.ConstraintID
	pending    *framework.Solution
	emptyCells int
	hashingOff bool
}

var _ Algorithm = &GIA{}

// NewGIA returns a GIA search over inst backed by a fresh gini solver.
func NewGIA(inst *framework.Instance, cfg Config) *GIA {
	return NewGIAWithSolver(inst, constraints.NewGiniSolver(), cfg)
}

// NewGIAWithSolver returns a GIA search using s, which must be empty.
func NewGIAWithSolver(inst *framework.Instance, s constraints.Solver, cfg Config) *GIA {
	g := &GIA{search: newSearch(GIAName, inst, s, cfg)}
	g.hash = hashing.NewPartitioner(g.cfg.Hash)
	return g
}

func (g *GIA) Initialize(ctx context.Context) error {
	if err := g.initialize(ctx); err != nil || g.Done() {
		return err
	}
	return g.rehash(ctx)
}

func (g *GIA) hashingOn() bool {
	return g.hash.Enabled() && !g.hashingOff
}

func (g *GIA) Step(ctx context.Context) error {
	if g.Done() {
		return nil
	}
	switch g.solve(ctx) {
	case constraints.Satisfiable:
		return g.improved(ctx)
	case constraints.Unsatisfiable:
		return g.exhausted(ctx)
	default:
		g.incumbent = g.pending
		g.finish(TimedOut)
		return nil
	}
}

// improved makes the current model the epoch incumbent and constrains the
// next model to improve on it.
func (g *GIA) improved(ctx context.Context) error {
	logger := klog.FromContext(ctx)
	sol := g.tracker.Solution(g.solver)
	g.pending = &sol
	g.emptyCells = 0
	logger.V(4).Info("Improving model", "values", sol.Values, "epochLength", len(g.dominance)/len(g.tracker.Objectives()))

	ids, err := g.addNoWorse(sol.Values)
	if refuted, err := g.contradiction(err); err != nil {
		return err
	} else if refuted {
		return g.closeEpoch(ctx)
	}
	g.dominance = append(g.dominance, ids...)

	block, _, err := g.addStrictImprovement(sol.Values, false)
	if err == nil {
		err = g.solver.AddClause(block...)
	}
	if refuted, err := g.contradiction(err); err != nil {
		return err
	} else if refuted {
		return g.blocked(ctx, block)
	}

	if g.hash.Active() && g.hash.Record() {
		logger.V(3).Info("Cell threshold reached", "threshold", g.hash.Threshold())
		return g.rehash(ctx)
	}
	return nil
}

// blocked handles an improvement clause refuted by propagation. The hash
// cell is lifted first since it may be what rules improvement out.
func (g *GIA) blocked(ctx context.Context, block []z.Lit) error {
	if g.hash.Active() {
		g.hash.Clear(g.solver)
		err := g.solver.AddClause(block...)
		if refuted, err := g.contradiction(err); err != nil || !refuted {
			return err
		}
	}
	return g.closeEpoch(ctx)
}

// exhausted handles an unsatisfiable solve.
func (g *GIA) exhausted(ctx context.Context) error {
	logger := klog.FromContext(ctx)
	switch {
	case len(g.dominance) > 0 && g.hash.Active():
		logger.V(3).Info("Lifting cell to continue improving")
		g.hash.Clear(g.solver)
		return nil
	case len(g.dominance) > 0:
		return g.closeEpoch(ctx)
	case !g.hash.Active():
		// Only permanent constraints remain: every model is weakly
		// dominated by an accepted solution.
		g.exact = true
		if g.frontier.Len() == 0 {
			g.finish(Unsatisfiable)
			return nil
		}
		g.finish(Done)
		return nil
	}

	g.emptyCells++
	logger.V(3).Info("Empty cell", "count", g.emptyCells)
	if g.cfg.MaxEmptyCells > 0 && g.emptyCells >= g.cfg.MaxEmptyCells {
		logger.V(2).Info("Disabling hashing after consecutive empty cells", "count", g.emptyCells)
		g.hashingOff = true
	}
	return g.rehash(ctx)
}

// closeEpoch retracts the epoch's dominance constraints and accepts its
// incumbent, which is Pareto-optimal at this point. The improvement clause
// of the incumbent was added permanently; when the solver refutes it without
// any removable constraint the frontier is complete.
func (g *GIA) closeEpoch(ctx context.Context) error {
	logger := klog.FromContext(ctx)
	g.hash.Clear(g.solver)
	g.solver.RemoveConstraints(g.dominance...)
	g.dominance = nil
	g.cfg.Metrics.epoch(g.name)

	if g.pending != nil {
		sol := *g.pending
		g.pending = nil
		if g.accept(sol) {
			logger.V(2).Info("Accepted solution", "values", sol.Values, "frontier", g.frontier.Len())
		}
		block, _, err := g.addStrictImprovement(sol.Values, false)
		if err == nil {
			err = g.solver.AddClause(block...)
		}
		if refuted, err := g.contradiction(err); err != nil {
			return err
		} else if refuted {
			g.exact = true
			g.finish(Done)
			return nil
		}
	}
	return g.rehash(ctx)
}

// rehash installs a fresh cell, or clears the current one when hashing is
// off. A cell refuted by propagation is empty.
func (g *GIA) rehash(ctx context.Context) error {
	if !g.hashingOn() {
		g.hash.Clear(g.solver)
		return nil
	}
	_, err := g.hash.SetHashFunction(g.solver, g.enc.Lits())
	if err == nil {
		klog.FromContext(ctx).V(4).Info("Installed cell")
		return nil
	}
	if !errors.Is(err, constraints.ErrContradiction) {
		return fmt.Errorf("rehashing: %w", err)
	}
	g.cfg.Metrics.contradiction(g.name)
	g.emptyCells++
	if g.cfg.MaxEmptyCells > 0 && g.emptyCells >= g.cfg.MaxEmptyCells {
		g.hashingOff = true
	}
	return nil
}
