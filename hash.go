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

import (
	"bytes"
	"encoding/binary"
	"hash/maphash"
	"math"
	"math/bits"

	"github.com/zeebo/xxh3"
	"golang.org/x/exp/constraints"
)

const (
	// reservedHashVal marks a deleted entry. No live entry ever stores it.
	reservedHashVal = ^uint64(0)
	// reservedHashSubstitution replaces reservedHashVal when a hasher
	// produces it.
	reservedHashSubstitution = 0

	// Multiplicative constants of the identity hash.
	prime1 = 0x2e0bb864e9ea7df5
	prime2 = 0x830fcab9

	// MurmurHash3 x64 mixing constants.
	murmurC1 = 0x87c37b91114253d5
	murmurC2 = 0x4cf5ad432745937f
	murmurF1 = 0xff51afd7ed558ccd
	murmurF2 = 0xc4ceb9fe1a85ec53

	// murmurSeed seeds hashBytes for StringHasher and BytesHasher.
	murmurSeed = 0x5bd1e995
)

// A Hasher defines a hash function and an equivalence relation over keys of
// type K. Equal(a, b) must imply Hash(a) == Hash(b).
//
// Both methods may call back into the Table that invoked them. The table
// detects when such a call rebuilt it and restarts the operation in
// progress.
type Hasher[K any] interface {
	Hash(key K) uint64
	Equal(a, b K) bool
}

// HashFuncs adapts a pair of functions to the Hasher interface.
type HashFuncs[K any] struct {
	HashFn  func(key K) uint64
	EqualFn func(a, b K) bool
}

func (h HashFuncs[K]) Hash(key K) uint64 { return h.HashFn(key) }
func (h HashFuncs[K]) Equal(a, b K) bool { return h.EqualFn(a, b) }

// IntHasher hashes integer keys by identity, mixing the value with key64Hash.
type IntHasher[K constraints.Integer] struct{}

func (IntHasher[K]) Hash(key K) uint64 { return key64Hash(uint64(key), prime2) }
func (IntHasher[K]) Equal(a, b K) bool { return a == b }

// FloatHasher hashes floating point keys. Positive and negative zero are the
// same key, as are all NaNs, so a NaN inserted into a set can be found again.
// Keys hash on their raw bit pattern, which keeps 1.0 apart from the integer
// 1 when both are hashed into a shared space by an embedder. The low mantissa
// bits of integral values are all zero, so the bits get a full avalanche
// rather than the identity hash.
type FloatHasher[K constraints.Float] struct{}

func (FloatHasher[K]) Hash(key K) uint64 {
	f := float64(key)
	switch {
	case f == 0:
		f = 0
	case f != f:
		f = math.NaN()
	}
	return murmurFinish(murmurStep(prime2, math.Float64bits(f)))
}

func (FloatHasher[K]) Equal(a, b K) bool {
	return a == b || (a != a && b != b)
}

// StringHasher hashes strings with hashBytes.
type StringHasher[K ~string] struct{}

func (StringHasher[K]) Hash(key K) uint64 { return hashString(murmurSeed, string(key)) }
func (StringHasher[K]) Equal(a, b K) bool { return a == b }

// BytesHasher hashes byte slices by content with hashBytes.
type BytesHasher struct{}

func (BytesHasher) Hash(key []byte) uint64 { return hashBytes(murmurSeed, key) }
func (BytesHasher) Equal(a, b []byte) bool { return bytes.Equal(a, b) }

// XXH3StringHasher hashes strings with XXH3, which is faster than
// StringHasher for long keys.
type XXH3StringHasher[K ~string] struct{}

func (XXH3StringHasher[K]) Hash(key K) uint64 { return xxh3.HashString(string(key)) }
func (XXH3StringHasher[K]) Equal(a, b K) bool { return a == b }

// ComparableHasher hashes any comparable key with the runtime's hash
// function for K. The seed is chosen per process.
type ComparableHasher[K comparable] struct{}

var comparableSeed = maphash.MakeSeed()

func (ComparableHasher[K]) Hash(key K) uint64 { return maphash.Comparable(comparableSeed, key) }
func (ComparableHasher[K]) Equal(a, b K) bool { return a == b }

// normalizeHash replaces the reserved tombstone value.
func normalizeHash(h uint64) uint64 {
	if h == reservedHashVal {
		return reservedHashSubstitution
	}
	return h
}

// multAndMix folds the high and low halves of the 128-bit product m1*m2.
func multAndMix(m1, m2 uint64) uint64 {
	hi, lo := bits.Mul64(m1, m2)
	return hi ^ lo
}

// key64Hash is the identity hash for word sized keys.
func key64Hash(key uint64, seed uint32) uint64 {
	return multAndMix(key+uint64(seed), prime1)
}

func murmurStep(h, k uint64) uint64 {
	k *= murmurC1
	k = bits.RotateLeft64(k, 31)
	k *= murmurC2
	h ^= k
	h = bits.RotateLeft64(h, 27)
	return h*5 + 0x52dce729
}

func murmurFinish(h uint64) uint64 {
	h ^= h >> 33
	h *= murmurF1
	h ^= h >> 33
	h *= murmurF2
	h ^= h >> 33
	return h
}

// hashBytes hashes b 8 bytes at a time. The little-endian loads are safe for
// any alignment of b. The trailing 1-7 bytes are assembled into a partial
// word by hand.
func hashBytes(seed uint64, b []byte) uint64 {
	h := seed
	n := len(b)
	for len(b) >= 8 {
		h = murmurStep(h, binary.LittleEndian.Uint64(b))
		b = b[8:]
	}
	if len(b) > 0 {
		var t uint64
		for i := len(b) - 1; i >= 0; i-- {
			t = t<<8 | uint64(b[i])
		}
		k := t * murmurC1
		k = bits.RotateLeft64(k, 31)
		k *= murmurC2
		h ^= k
	}
	h ^= uint64(n)
	return murmurFinish(h)
}

// hashString is hashBytes for a string without copying it.
func hashString(seed uint64, s string) uint64 {
	h := seed
	n := len(s)
	for len(s) >= 8 {
		h = murmurStep(h, uint64(s[0])|uint64(s[1])<<8|uint64(s[2])<<16|uint64(s[3])<<24|
			uint64(s[4])<<32|uint64(s[5])<<40|uint64(s[6])<<48|uint64(s[7])<<56)
		s = s[8:]
	}
	if len(s) > 0 {
		var t uint64
		for i := len(s) - 1; i >= 0; i-- {
			t = t<<8 | uint64(s[i])
		}
		k := t * murmurC1
		k = bits.RotateLeft64(k, 31)
		k *= murmurC2
		h ^= k
	}
	h ^= uint64(n)
	return murmurFinish(h)
}

// CombineHash mixes v into the running hash h, for hashers combining several
// fields into one key hash. Use FinishHash on the result.
func CombineHash(h, v uint64) uint64 { return murmurStep(h, v) }

// FinishHash applies the final avalanche to a hash built with CombineHash.
func FinishHash(h uint64) uint64 { return murmurFinish(h) }
