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
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/vmalloc/vmalloc/pkg/allocation/framework"
	"github.com/vmalloc/vmalloc/pkg/allocation/hashing"
	"github.com/vmalloc/vmalloc/pkg/allocation/objectives"
)

const (
	GIAName       = "gia"
	ParetoCLDName = "pareto-cld"
	PBOName       = "pbo"
)

// DefaultMaxEmptyCells is the number of consecutive empty hash cells after
// which GIA stops hashing and finishes the enumeration exactly.
const DefaultMaxEmptyCells = 16

var tracer = otel.Tracer("github.com/vmalloc/vmalloc/pkg/allocation/algorithms")

// Algorithm is a search driven step by step until it is done.
type Algorithm interface {
	Name() string
	// Initialize builds the encoding. An infeasible instance is not an error;
	// the algorithm is then done in state Unsatisfiable.
	Initialize(ctx context.Context) error
	// Step performs one solver call and reacts to its outcome.
	Step(ctx context.Context) error
	Done() bool
	Result() *Result
}

// State is the lifecycle state of a search.
type State int

const (
	Init State = iota
	Searching
	Done
	TimedOut
	Unsatisfiable
)

func (s State) String() string {
	switch s {
	case Init:
		return "Init"
	case Searching:
		return "Searching"
	case Done:
		return "Done"
	case TimedOut:
		return "TimedOut"
	case Unsatisfiable:
		return "Unsatisfiable"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result is the outcome of a search.
type Result struct {
	Algorithm string
	State     State
	// Frontier holds the accepted solutions in acceptance order. For PBO it
	// holds the optimum once it is confirmed.
	Frontier []framework.Solution
	// Incumbent is the best solution found but not proven optimal when the
	// search stopped early.
	Incumbent *framework.Solution
	// Exact is set when the frontier is known to be complete.
	Exact   bool
	Solves  int
	Elapsed time.Duration
}

// Config is shared by every algorithm.
type Config struct {
	// Deadline bounds the whole run. Zero means no deadline.
	Deadline time.Time
	Hash     hashing.Config
	// MaxEmptyCells bounds consecutive empty cells before hashing is turned
	// off. Zero selects DefaultMaxEmptyCells; a negative value never turns
	// hashing off, leaving the deadline as the only stopping condition.
	MaxEmptyCells int
	// Objective is the objective minimized by PBO.
	Objective objectives.Objective
	Precision int32
	Reporter  Reporter
	Metrics   *Metrics
	Clock     clock.PassiveClock
}

func (c Config) withDefaults() Config {
	if c.Precision <= 0 {
		c.Precision = objectives.DefaultPrecision
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	if c.Reporter == nil {
		c.Reporter = nopReporter{}
	}
	if c.MaxEmptyCells == 0 || (c.MaxEmptyCells < 0 && c.Deadline.IsZero()) {
		c.MaxEmptyCells = DefaultMaxEmptyCells
	}
	return c
}

// NewDeadline computes the deadline of a run given its time budget. A
// non-positive budget means no deadline.
func NewDeadline(clk clock.PassiveClock, budget time.Duration) time.Time {
	if budget <= 0 {
		return time.Time{}
	}
	return clk.Now().Add(budget)
}

// New returns the algorithm with the given name.
func New(name string, inst *framework.Instance, cfg Config) (Algorithm, error) {
	switch name {
	case GIAName:
		return NewGIA(inst, cfg), nil
	case ParetoCLDName:
		return NewParetoCLD(inst, cfg), nil
	case PBOName:
		return NewPBO(inst, cfg), nil
	default:
		return nil, fmt.Errorf("unknown algorithm %q", name)
	}
}

// Run initializes a and steps it until it is done. A timeout is not an
// error: the result is returned in state TimedOut.
func Run(ctx context.Context, a Algorithm) (*Result, error) {
	ctx, span := tracer.Start(ctx, "vmalloc.search", trace.WithAttributes(attribute.String("algorithm", a.Name())))
	defer span.End()
	logger := klog.FromContext(ctx).WithValues("algorithm", a.Name())
	ctx = klog.NewContext(ctx, logger)

	if err := a.Initialize(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("initializing %s: %w", a.Name(), err)
	}
	for !a.Done() {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return a.Result(), err
		}
		before := len(a.Result().Frontier)
		if err := a.Step(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return a.Result(), err
		}
		if after := len(a.Result().Frontier); after > before {
			span.AddEvent("solution accepted", trace.WithAttributes(attribute.Int("frontier.size", after)))
		}
	}

	res := a.Result()
	span.SetAttributes(
		attribute.String("state", res.State.String()),
		attribute.Int("frontier.size", len(res.Frontier)),
		attribute.Int("solves", res.Solves),
		attribute.Bool("exact", res.Exact),
	)
	logger.V(1).Info("Search finished", "state", res.State, "solutions", len(res.Frontier), "solves", res.Solves, "elapsed", res.Elapsed)
	return res, nil
}
