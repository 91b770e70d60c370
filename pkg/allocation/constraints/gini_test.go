package constraints_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-air/gini/z"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/rand"

	"github.com/vmalloc/vmalloc/pkg/allocation/constraints"
)

func sum(lits ...z.Lit) constraints.LinearExpression {
	var e constraints.LinearExpression
	for _, m := range lits {
		e.Add(m, decimal.NewFromInt(1))
	}
	return e
}

func TestContradictionIsDetectedWithoutSearch(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(s constraints.Solver, a, b z.Lit) error
		wantErr bool
	}{
		{
			name: "unit clause against its negation",
			setup: func(s constraints.Solver, a, b z.Lit) error {
				if err := s.AddClause(a); err != nil {
					return err
				}
				return s.AddClause(a.Not())
			},
			wantErr: true,
		},
		{
			name: "empty clause",
			setup: func(s constraints.Solver, a, b z.Lit) error {
				return s.AddClause()
			},
			wantErr: true,
		},
		{
			name: "negative bound",
			setup: func(s constraints.Solver, a, b z.Lit) error {
				return s.AddAtMost(sum(a, b), decimal.NewFromInt(-1))
			},
			wantErr: true,
		},
		{
			name: "strict bound of zero",
			setup: func(s constraints.Solver, a, b z.Lit) error {
				return s.AddLess(sum(a, b), decimal.Zero)
			},
			wantErr: true,
		},
		{
			name: "forced literals exceed bound",
			setup: func(s constraints.Solver, a, b z.Lit) error {
				if err := s.AddClause(a); err != nil {
					return err
				}
				if err := s.AddClause(b); err != nil {
					return err
				}
				return s.AddAtMost(sum(a, b), decimal.NewFromInt(1))
			},
			wantErr: true,
		},
		{
			name: "satisfiable bound",
			setup: func(s constraints.Solver, a, b z.Lit) error {
				if err := s.AddClause(a); err != nil {
					return err
				}
				return s.AddAtMost(sum(a, b), decimal.NewFromInt(1))
			},
		},
		{
			name: "at least more than available",
			setup: func(s constraints.Solver, a, b z.Lit) error {
				return s.AddAtLeast(sum(a, b), decimal.NewFromInt(3))
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := constraints.NewGiniSolver()
			a, b := s.NewVariable(), s.NewVariable()
			err := tc.setup(s, a, b)
			if tc.wantErr != (err != nil) {
				t.Fatalf("got error %v, want error %v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, constraints.ErrContradiction) {
				t.Fatalf("expected a contradiction, got %v", err)
			}
			// A rejected constraint leaves the solver satisfiable.
			if got := s.Solve(context.Background()); got != constraints.Satisfiable {
				t.Errorf("solver state after setup: got %v, want satisfiable", got)
			}
		})
	}
}

func TestRemovableConstraintsRoundTrip(t *testing.T) {
	s := constraints.NewGiniSolver()
	lits := []z.Lit{s.NewVariable(), s.NewVariable(), s.NewVariable()}
	expr := sum(lits...)
	ctx := context.Background()

	if err := s.AddAtLeast(expr, decimal.NewFromInt(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	queries := [][]z.Lit{
		{lits[0], lits[1]},
		{lits[0], lits[1].Not()},
		{lits[0], lits[1], lits[2]},
		{lits[2]},
	}
	answers := func() []constraints.Status {
		out := make([]constraints.Status, len(queries))
		for i, q := range queries {
			out[i] = s.Solve(ctx, q...)
		}
		return out
	}

	before := answers()
	add := func() []constraints.ConstraintID {
		id1, err := s.AddRemovableAtMost(expr, decimal.NewFromInt(1))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		id2, err := s.AddRemovableClause(lits[2].Not())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return []constraints.ConstraintID{id1, id2}
	}

	ids := add()
	constrained := answers()
	want := []constraints.Status{constraints.Unsatisfiable, constraints.Satisfiable, constraints.Unsatisfiable, constraints.Unsatisfiable}
	for i := range want {
		if constrained[i] != want[i] {
			t.Errorf("query %d under removable constraints: got %v, want %v", i, constrained[i], want[i])
		}
	}

	s.RemoveConstraints(ids...)
	for i, got := range answers() {
		if got != before[i] {
			t.Errorf("query %d after removal: got %v, want %v", i, got, before[i])
		}
	}

	ids2 := add()
	for i, got := range answers() {
		if got != constrained[i] {
			t.Errorf("query %d after re-adding: got %v, want %v", i, got, constrained[i])
		}
	}
	for _, id := range ids2 {
		for _, old := range ids {
			if id == old {
				t.Errorf("constraint id %d was reused", id)
			}
		}
	}

	// Removing twice or removing nothing is harmless.
	s.RemoveConstraints(ids2...)
	s.RemoveConstraints(ids2...)
	s.RemoveConstraints()
	if s.Active() != 0 {
		t.Errorf("active constraints: got %d, want 0", s.Active())
	}
}

func TestRemovalAfterUnsatisfiable(t *testing.T) {
	s := constraints.NewGiniSolver()
	a, b := s.NewVariable(), s.NewVariable()
	ctx := context.Background()

	for _, clause := range [][]z.Lit{{a, b}, {a, b.Not()}, {a.Not(), b}} {
		if err := s.AddClause(clause...); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	// Neither addition is refuted by propagation; only search finds the conflict.
	id1, err := s.AddRemovableClause(a.Not(), b.Not())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := s.AddRemovableAtMost(sum(a, b), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.Solve(ctx); got != constraints.Unsatisfiable {
		t.Fatalf("got %v, want unsatisfiable", got)
	}
	s.RemoveConstraints(id1, id2)
	if got := s.Solve(ctx); got != constraints.Satisfiable {
		t.Fatalf("after removal: got %v, want satisfiable", got)
	}
	if !s.Value(a) || !s.Value(b) {
		t.Errorf("expected both literals to be true")
	}
}

func TestRemovableContradictionAccountsForActiveConstraints(t *testing.T) {
	s := constraints.NewGiniSolver()
	a := s.NewVariable()

	id, err := s.AddRemovableClause(a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.AddRemovableClause(a.Not()); !errors.Is(err, constraints.ErrContradiction) {
		t.Fatalf("got %v, want contradiction", err)
	}
	s.RemoveConstraints(id)
	if _, err := s.AddRemovableClause(a.Not()); err != nil {
		t.Fatalf("after removal: unexpected error %v", err)
	}
	if got := s.Solve(context.Background()); got != constraints.Satisfiable {
		t.Fatalf("got %v, want satisfiable", got)
	}
	if s.Value(a) {
		t.Errorf("expected a to be false")
	}
}

func TestSolveHonoursDeadline(t *testing.T) {
	s := constraints.NewGiniSolver()
	s.NewVariable()

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	if got := s.Solve(ctx); got != constraints.Unknown {
		t.Errorf("expired deadline: got %v, want unknown", got)
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Minute)
	defer cancel2()
	if got := s.Solve(ctx2); got != constraints.Satisfiable {
		t.Errorf("ample deadline: got %v, want satisfiable", got)
	}
}

func TestOptimizer(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects assumptions", func(t *testing.T) {
		s := constraints.NewGiniSolver()
		a := s.NewVariable()
		o := constraints.NewOptimizer(s, sum(a))
		if _, err := o.AdmitBetterSolution(ctx, a); !errors.Is(err, constraints.ErrNotSupported) {
			t.Fatalf("got %v, want not supported", err)
		}
	})

	t.Run("converges to minimum", func(t *testing.T) {
		s := constraints.NewGiniSolver()
		lits := []z.Lit{s.NewVariable(), s.NewVariable(), s.NewVariable()}
		if err := s.AddAtLeast(sum(lits...), decimal.NewFromInt(2)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var objective constraints.LinearExpression
		objective.Add(lits[0], decimal.NewFromInt(5))
		objective.Add(lits[1], decimal.NewFromInt(2))
		objective.Add(lits[2], decimal.RequireFromString("3.5"))
		o := constraints.NewOptimizer(s, objective)

		last := decimal.Zero
		for {
			ok, err := o.AdmitBetterSolution(ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !ok {
				break
			}
			last = o.ObjectiveValue()
			if err := o.DiscardCurrentSolution(); err != nil {
				if !errors.Is(err, constraints.ErrContradiction) {
					t.Fatalf("unexpected error: %v", err)
				}
				break
			}
		}
		if want := decimal.RequireFromString("5.5"); !last.Equal(want) {
			t.Errorf("got optimum %s, want %s", last, want)
		}
	})
}

func TestRemovableConstraintImpliedByHardConstraints(t *testing.T) {
	s := constraints.NewGiniSolver()
	a, b := s.NewVariable(), s.NewVariable()
	ctx := context.Background()

	if err := s.AddClause(a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.AddAtMost(sum(a, b), decimal.NewFromInt(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var ids []constraints.ConstraintID
	for _, add := range []func() (constraints.ConstraintID, error){
		func() (constraints.ConstraintID, error) { return s.AddRemovableClause(a) },
		func() (constraints.ConstraintID, error) { return s.AddRemovableClause(b.Not()) },
		func() (constraints.ConstraintID, error) { return s.AddRemovableAtMost(sum(a, b), decimal.NewFromInt(2)) },
		func() (constraints.ConstraintID, error) { return s.AddRemovableLess(sum(b), decimal.NewFromInt(1)) },
	} {
		id, err := add()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ids = append(ids, id)
	}
	if got := s.Solve(ctx); got != constraints.Satisfiable {
		t.Fatalf("got %v, want satisfiable", got)
	}
	if !s.Value(a) || s.Value(b) {
		t.Errorf("got a=%v b=%v, want a=true b=false", s.Value(a), s.Value(b))
	}
	s.RemoveConstraints(ids...)
	if got := s.Active(); got != 0 {
		t.Errorf("active constraints: got %d, want 0", got)
	}
	if got := s.Solve(ctx); got != constraints.Satisfiable {
		t.Fatalf("after removal: got %v, want satisfiable", got)
	}
}

// fuzzConstraint is a constraint of the differential test together with a
// reference evaluation over a full assignment.
type fuzzConstraint struct {
	holds func(vals []bool) bool
}

func litHolds(vals []bool, vars []z.Lit, m z.Lit) bool {
	for i, v := range vars {
		if v.Var() == m.Var() {
			return vals[i] == m.IsPos()
		}
	}
	panic("unknown literal")
}

func TestSolverAgreesWithBruteForce(t *testing.T) {
	const nvars = 6
	ctx := context.Background()

	for seed := uint64(1); seed <= 300; seed++ {
		rng := rand.New(rand.NewSource(seed))
		s := constraints.NewGiniSolver()
		vars := make([]z.Lit, nvars)
		for i := range vars {
			vars[i] = s.NewVariable()
		}
		randLit := func() z.Lit {
			m := vars[rng.Intn(nvars)]
			if rng.Intn(2) == 0 {
				return m.Not()
			}
			return m
		}

		var hard []fuzzConstraint
		removable := map[constraints.ConstraintID]fuzzConstraint{}

		satisfied := func(vals []bool, extra *fuzzConstraint) bool {
			for _, c := range hard {
				if !c.holds(vals) {
					return false
				}
			}
			for _, c := range removable {
				if !c.holds(vals) {
					return false
				}
			}
			return extra == nil || extra.holds(vals)
		}
		feasible := func(extra *fuzzConstraint) bool {
			vals := make([]bool, nvars)
			for mask := 0; mask < 1<<nvars; mask++ {
				for i := range vals {
					vals[i] = mask&(1<<i) != 0
				}
				if satisfied(vals, extra) {
					return true
				}
			}
			return false
		}

		for step := 0; step < 25; step++ {
			var (
				c         fuzzConstraint
				addHard   func() error
				addRemove func() (constraints.ConstraintID, error)
			)
			switch rng.Intn(3) {
			case 0:
				lits := make([]z.Lit, 1+rng.Intn(3))
				for i := range lits {
					lits[i] = randLit()
				}
				c.holds = func(vals []bool) bool {
					for _, m := range lits {
						if litHolds(vals, vars, m) {
							return true
						}
					}
					return false
				}
				addHard = func() error { return s.AddClause(lits...) }
				addRemove = func() (constraints.ConstraintID, error) { return s.AddRemovableClause(lits...) }
			case 1:
				lits := make([]z.Lit, 1+rng.Intn(4))
				for i := range lits {
					lits[i] = randLit()
				}
				odd := rng.Intn(2) == 0
				c.holds = func(vals []bool) bool {
					n := 0
					for _, m := range lits {
						if litHolds(vals, vars, m) {
							n++
						}
					}
					return (n%2 == 1) == odd
				}
				addHard = func() error { return s.AddParity(lits, odd) }
				addRemove = func() (constraints.ConstraintID, error) { return s.AddRemovableParity(lits, odd) }
			default:
				var expr constraints.LinearExpression
				weights := make([]int64, 0, 4)
				lits := make([]z.Lit, 0, 4)
				for i := 0; i < 2+rng.Intn(3); i++ {
					w := int64(rng.Intn(5)) - 1
					m := randLit()
					expr.Add(m, decimal.NewFromInt(w))
					if w != 0 {
						weights = append(weights, w)
						lits = append(lits, m)
					}
				}
				bound := int64(rng.Intn(6)) - 1
				strict := rng.Intn(2) == 0
				c.holds = func(vals []bool) bool {
					total := int64(0)
					for i, m := range lits {
						if litHolds(vals, vars, m) {
							total += weights[i]
						}
					}
					if strict {
						return total < bound
					}
					return total <= bound
				}
				k := decimal.NewFromInt(bound)
				if strict {
					addHard = func() error { return s.AddLess(expr, k) }
					addRemove = func() (constraints.ConstraintID, error) { return s.AddRemovableLess(expr, k) }
				} else {
					addHard = func() error { return s.AddAtMost(expr, k) }
					addRemove = func() (constraints.ConstraintID, error) { return s.AddRemovableAtMost(expr, k) }
				}
			}

			switch op := rng.Intn(10); {
			case op < 3:
				if err := addHard(); err != nil {
					if !errors.Is(err, constraints.ErrContradiction) {
						t.Fatalf("seed %d step %d: unexpected error %v", seed, step, err)
					}
					if feasible(&c) {
						t.Fatalf("seed %d step %d: hard constraint refuted but feasible", seed, step)
					}
				} else {
					hard = append(hard, c)
				}
			case op < 8:
				id, err := addRemove()
				if err != nil {
					if !errors.Is(err, constraints.ErrContradiction) {
						t.Fatalf("seed %d step %d: unexpected error %v", seed, step, err)
					}
					if feasible(&c) {
						t.Fatalf("seed %d step %d: removable constraint refuted but feasible", seed, step)
					}
				} else {
					removable[id] = c
				}
			default:
				var ids []constraints.ConstraintID
				for id := range removable {
					if rng.Intn(2) == 0 {
						ids = append(ids, id)
					}
				}
				s.RemoveConstraints(ids...)
				for _, id := range ids {
					delete(removable, id)
				}
			}

			if got := s.Active(); got != len(removable) {
				t.Fatalf("seed %d step %d: active constraints %d, want %d", seed, step, got, len(removable))
			}
			got := s.Solve(ctx)
			want := constraints.Unsatisfiable
			if feasible(nil) {
				want = constraints.Satisfiable
			}
			if got != want {
				t.Fatalf("seed %d step %d: got %v, want %v", seed, step, got, want)
			}
			if got == constraints.Satisfiable {
				vals := make([]bool, nvars)
				for i, m := range vars {
					vals[i] = s.Value(m)
				}
				if !satisfied(vals, nil) {
					t.Fatalf("seed %d step %d: model %v violates an active constraint", seed, step, vals)
				}
			}
		}
	}
}
