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

// Package hashing splits the solution space into cells with random parity
// constraints so that enumeration is pushed towards unexplored regions.
package hashing

import (
	"fmt"

	"github.com/go-air/gini/z"
	"golang.org/x/exp/rand"

	"github.com/vmalloc/vmalloc/pkg/allocation/constraints"
)

// Type selects the hash family.
type Type string

const (
	None Type = "none"
	XOR  Type = "xor"
)

const (
	DefaultFunctions = 1
	DefaultDensity   = 0.5
	DefaultThreshold = 10
)

// Config configures a Partitioner.
type Config struct {
	Type Type
	// Functions is the number of parity constraints defining a cell.
	Functions int
	// Density is the probability of each literal joining a parity constraint.
	Density float64
	// Threshold is the number of solutions a cell may yield before it is
	// replaced.
	Threshold int
	Seed      uint64
}

// ParseType validates a hash type name.
func ParseType(name string) (Type, error) {
	switch t := Type(name); t {
	case None, XOR:
		return t, nil
	case "":
		return None, nil
	default:
		return "", fmt.Errorf("unknown hash function %q", name)
	}
}

// Partitioner installs and replaces random XOR cells.
type Partitioner struct {
	cfg   Config
	rng   *rand.Rand
	ids   []constraints.ConstraintID
	count int
}

// NewPartitioner returns a partitioner, filling in defaults for unset fields.
func NewPartitioner(cfg Config) *Partitioner {
	if cfg.Type == "" {
		cfg.Type = None
	}
	if cfg.Functions <= 0 {
		cfg.Functions = DefaultFunctions
	}
	if cfg.Density <= 0 || cfg.Density > 1 {
		cfg.Density = DefaultDensity
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Partitioner{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Enabled reports whether hashing is configured at all.
func (p *Partitioner) Enabled() bool {
	return p.cfg.Type != None
}

// Active reports whether a cell is currently installed.
func (p *Partitioner) Active() bool {
	return len(p.ids) > 0
}

// Threshold returns the enumeration threshold.
func (p *Partitioner) Threshold() int {
	return p.cfg.Threshold
}

// SetHashFunction removes the current cell, if any, and installs a fresh
// random one over lits. The cell counter is reset. When a parity constraint
// contradicts the active constraints, the constraints added so far are
// removed and the error is returned.
func (p *Partitioner) SetHashFunction(s constraints.Solver, lits []z.Lit) ([]constraints.ConstraintID, error) {
	p.Clear(s)
	p.count = 0
	if !p.Enabled() || len(lits) == 0 {
		return nil, nil
	}
	ids := make([]constraints.ConstraintID, 0, p.cfg.Functions)
	for i := 0; i < p.cfg.Functions; i++ {
		subset := p.subset(lits)
		odd := p.rng.Intn(2) == 1
		id, err := s.AddRemovableParity(subset, odd)
		if err != nil {
			s.RemoveConstraints(ids...)
			return nil, fmt.Errorf("installing parity constraint %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	p.ids = ids
	return ids, nil
}

// subset draws a non-empty random subset of lits.
func (p *Partitioner) subset(lits []z.Lit) []z.Lit {
	for {
		var out []z.Lit
		for _, m := range lits {
			if p.rng.Float64() < p.cfg.Density {
				out = append(out, m)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
}

// Clear removes the current cell.
func (p *Partitioner) Clear(s constraints.Solver) {
	if len(p.ids) == 0 {
		return
	}
	s.RemoveConstraints(p.ids...)
	p.ids = nil
}

// Record counts one more solution in the current cell and reports whether
// the enumeration threshold has been reached.
func (p *Partitioner) Record() bool {
	p.count++
	return p.count >= p.cfg.Threshold
}

// Count returns the number of solutions found in the current cell.
func (p *Partitioner) Count() int {
	return p.count
}
