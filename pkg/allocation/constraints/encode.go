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
	"math/big"

	"github.com/go-air/gini/logic"
	"github.com/go-air/gini/z"
	"github.com/shopspring/decimal"
)

// weighted is a literal with a positive integer weight.
type weighted struct {
	lit z.Lit
	w   *big.Int
}

// scale converts the expression and bound to integers by shifting every
// coefficient by the same power of ten.
func scale(expr LinearExpression, bound decimal.Decimal) ([]weighted, *big.Int) {
	exp := bound.Exponent()
	for _, t := range expr {
		if e := t.Coeff.Exponent(); e < exp {
			exp = e
		}
	}
	shift := int32(0)
	if exp < 0 {
		shift = -exp
	}
	terms := make([]weighted, 0, len(expr))
	for _, t := range expr {
		if t.Coeff.IsZero() {
			continue
		}
		terms = append(terms, weighted{lit: t.Lit, w: t.Coeff.Shift(shift).BigInt()})
	}
	return terms, bound.Shift(shift).BigInt()
}

// normalize rewrites negative weights so that every weight is positive:
// -w*l is replaced by w*(not l) - w, moving the constant into the bound.
func normalize(terms []weighted, k *big.Int) ([]weighted, *big.Int) {
	k = new(big.Int).Set(k)
	out := make([]weighted, 0, len(terms))
	for _, t := range terms {
		switch t.w.Sign() {
		case 0:
			continue
		case -1:
			abs := new(big.Int).Neg(t.w)
			k.Add(k, abs)
			out = append(out, weighted{lit: t.lit.Not(), w: abs})
		default:
			out = append(out, t)
		}
	}
	return out, k
}

// atMost returns a circuit literal that is true iff sum(terms) <= k.
func atMost(c *logic.C, terms []weighted, k *big.Int) z.Lit {
	terms, k = normalize(terms, k)
	if k.Sign() < 0 {
		return c.F
	}
	total := new(big.Int)
	for _, t := range terms {
		total.Add(total, t.w)
	}
	if total.Cmp(k) <= 0 {
		return c.T
	}
	if w, ok := uniform(terms); ok {
		lits := make([]z.Lit, len(terms))
		for i, t := range terms {
			lits[i] = t.lit
		}
		// k < total here, so the quotient fits in an int.
		n := new(big.Int).Quo(k, w)
		return c.CardSort(lits).Leq(int(n.Int64()))
	}
	return compare(c, adder(c, terms), k)
}

func uniform(terms []weighted) (*big.Int, bool) {
	if len(terms) == 0 {
		return nil, false
	}
	w := terms[0].w
	for _, t := range terms[1:] {
		if t.w.Cmp(w) != 0 {
			return nil, false
		}
	}
	return w, true
}

// adder sums the weighted literals column by column with full and half
// adders and returns the bits of the sum, least significant first.
func adder(c *logic.C, terms []weighted) []z.Lit {
	var cols [][]z.Lit
	for _, t := range terms {
		for i := 0; i < t.w.BitLen(); i++ {
			if t.w.Bit(i) == 0 {
				continue
			}
			for len(cols) <= i {
				cols = append(cols, nil)
			}
			cols[i] = append(cols[i], t.lit)
		}
	}
	bits := make([]z.Lit, 0, len(cols)+1)
	for i := 0; i < len(cols); i++ {
		col := cols[i]
		for len(col) > 1 {
			var sum, carry z.Lit
			if len(col) >= 3 {
				a, b, d := col[0], col[1], col[2]
				col = col[3:]
				ab := c.Xor(a, b)
				sum = c.Xor(ab, d)
				carry = c.Or(c.And(a, b), c.And(ab, d))
			} else {
				a, b := col[0], col[1]
				col = col[2:]
				sum = c.Xor(a, b)
				carry = c.And(a, b)
			}
			col = append(col, sum)
			if i+1 == len(cols) {
				cols = append(cols, nil)
			}
			cols[i+1] = append(cols[i+1], carry)
		}
		if len(col) == 1 {
			bits = append(bits, col[0])
		} else {
			bits = append(bits, c.F)
		}
	}
	return bits
}

// compare returns a literal that is true iff the unsigned number given by
// bits is at most k. Bits of k beyond len(bits) must be zero.
func compare(c *logic.C, bits []z.Lit, k *big.Int) z.Lit {
	le := c.T
	for i, s := range bits {
		if k.Bit(i) == 1 {
			le = c.Or(s.Not(), le)
		} else {
			le = c.And(s.Not(), le)
		}
	}
	return le
}

// parity returns a literal that is true iff an odd number of lits are true
// when odd is set, or an even number otherwise.
func parity(c *logic.C, lits []z.Lit, odd bool) z.Lit {
	x := c.F
	for _, m := range lits {
		x = c.Xor(x, m)
	}
	if !odd {
		return x.Not()
	}
	return x
}
