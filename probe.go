// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package denseset

import "fmt"

// ProbeStrategy selects the sequence of bins visited when searching for a
// key.
type ProbeStrategy uint8

const (
	// LinearCongruential probes with the recurrence
	//
	//	ind = 5*ind + perturb + 1 (mod bins)
	//
	// where perturb starts as the full hash and is shifted right by
	// perturbShift bits on every step. Once perturb reaches zero the
	// recurrence is a linear congruential generator which, by the
	// Hull-Dobell theorem, has a full period for a power of 2 modulus, so
	// every bin is eventually visited. Mixing in the upper hash bits early
	// keeps keys with equal low bits from following the same path.
	LinearCongruential ProbeStrategy = iota
	// Quadratic probes with triangular steps: ind += d, d++. This is a
	// bijection over a power of 2 number of bins.
	Quadratic
)

const perturbShift = 11

func (s ProbeStrategy) String() string {
	switch s {
	case LinearCongruential:
		return "linear-congruential"
	case Quadratic:
		return "quadratic"
	default:
		return fmt.Sprintf("ProbeStrategy(%d)", uint8(s))
	}
}

// probeSeq maintains the state for a probe sequence over mask+1 bins.
type probeSeq struct {
	strategy ProbeStrategy
	mask     uint64
	offset   uint64
	perturb  uint64
	// d is the quadratic step.
	d uint64
}

func makeProbeSeq(strategy ProbeStrategy, hash, mask uint64) probeSeq {
	return probeSeq{
		strategy: strategy,
		mask:     mask,
		offset:   hash & mask,
		perturb:  hash,
		d:        1,
	}
}

func (s probeSeq) next() probeSeq {
	switch s.strategy {
	case Quadratic:
		s.offset = (s.offset + s.d) & s.mask
		s.d++
	default:
		s.perturb >>= perturbShift
		s.offset = ((s.offset << 2) + s.offset + s.perturb + 1) & s.mask
	}
	return s
}

func (s probeSeq) String() string {
	return fmt.Sprintf("strategy=%s mask=%d offset=%d perturb=%x", s.strategy, s.mask, s.offset, s.perturb)
}
