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

// Option provides an interface to do work on a Table while it is being
// created.
type Option[K any] interface {
	apply(t *Table[K])
}

// Allocator specifies an interface for allocating and releasing memory used
// by a Table. The default allocator utilizes Go's builtin make() and allows
// the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that entries
// and bins be freed then Table.Close must be called in order to ensure
// FreeEntries and FreeBins are called.
type Allocator[K any] interface {
	// AllocEntries should return a slice equivalent to make([]Entry[K], n).
	AllocEntries(n int) []Entry[K]

	// AllocBins should return a zeroed slice equivalent to make([]uint8, n).
	// The memory must be 8-byte aligned.
	AllocBins(n int) []uint8

	// FreeEntries can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocEntries.
	FreeEntries(v []Entry[K])

	// FreeBins can optionally release the memory associated with the supplied
	// slice that is guaranteed to have been allocated by AllocBins.
	FreeBins(v []uint8)
}

type defaultAllocator[K any] struct{}

func (defaultAllocator[K]) AllocEntries(n int) []Entry[K] {
	return make([]Entry[K], n)
}

func (defaultAllocator[K]) AllocBins(n int) []uint8 {
	return make([]uint8, n)
}

func (defaultAllocator[K]) FreeEntries(v []Entry[K]) {
}

func (defaultAllocator[K]) FreeBins(v []uint8) {
}

type allocatorOption[K any] struct {
	allocator Allocator[K]
}

func (op allocatorOption[K]) apply(t *Table[K]) {
	t.allocator = op.allocator
}

// WithAllocator is an option to specify the Allocator to use for a Table[K].
func WithAllocator[K any](allocator Allocator[K]) Option[K] {
	return allocatorOption[K]{allocator}
}

type probeStrategyOption[K any] struct {
	strategy ProbeStrategy
}

func (op probeStrategyOption[K]) apply(t *Table[K]) {
	t.strategy = op.strategy
}

// WithProbeStrategy is an option to specify the order in which bins are
// probed. The default is LinearCongruential.
func WithProbeStrategy[K any](strategy ProbeStrategy) Option[K] {
	return probeStrategyOption[K]{strategy}
}

// ProbeOp identifies the table operation reported to a probe hook.
type ProbeOp uint8

const (
	// ProbeFind is a lookup by Contains, Get or Foreach.
	ProbeFind ProbeOp = iota
	// ProbeInsert is the search for a key or a free bin by Insert.
	ProbeInsert
	// ProbeDelete is the search for the key removed by Delete.
	ProbeDelete
	// ProbeRebuild is the placement of an entry in new bins during a
	// rebuild.
	ProbeRebuild
)

func (op ProbeOp) String() string {
	switch op {
	case ProbeFind:
		return "find"
	case ProbeInsert:
		return "insert"
	case ProbeDelete:
		return "delete"
	case ProbeRebuild:
		return "rebuild"
	default:
		return "unknown"
	}
}

type probeHookOption[K any] struct {
	hook func(op ProbeOp, collisions int)
}

func (op probeHookOption[K]) apply(t *Table[K]) {
	t.probeHook = op.hook
}

// WithProbeHook is an option to install a function that is called at the end
// of every probe of the bins with the number of bins visited beyond the
// first. Packed tables have no bins and never call the hook.
func WithProbeHook[K any](hook func(op ProbeOp, collisions int)) Option[K] {
	return probeHookOption[K]{hook}
}

type keyNormalizerOption[K any] struct {
	normalize func(key K) K
}

func (op keyNormalizerOption[K]) apply(t *Table[K]) {
	t.normalize = op.normalize
}

// WithKeyNormalizer is an option to transform a key before it is stored. The
// function is called only when Insert adds a new entry, and its result must
// be Equal to its argument. A typical use is storing an immutable copy of a
// key whose caller-owned buffer may later change.
func WithKeyNormalizer[K any](normalize func(key K) K) Option[K] {
	return keyNormalizerOption[K]{normalize}
}
