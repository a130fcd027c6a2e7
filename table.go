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

// Package denseset is an open-addressing hash set which keeps its keys in
// insertion order.
//
// # Layout
//
// A Table stores its keys in a dense array of entries. Each entry holds a key
// and its hash. New keys are always appended at the end of the array, so
// iterating over the entries visits keys in insertion order. A second array,
// the bins, maps a hash to the index of an entry:
//
//	bins:    [ E | 3 | D | E | 0 | E | 1 | E ]   (E=empty, D=deleted)
//	entries: [ a | b | x | c ]                   (x=deleted)
//
// The bin array has twice as many slots as the entry array, which guarantees
// that there is always an empty bin to terminate a probe sequence. A bin slot
// is 1, 2, 4 or 8 bytes wide, whichever is the smallest that can hold the
// largest entry index of the table. Bins store entry indexes offset by 2 so
// that 0 and 1 can mark empty and deleted bins.
//
// Small tables (up to 16 entries) have no bins at all. Looking up a key in
// such a "packed" table is a linear scan of the entries, which is faster than
// hashing into bins when the entries fit in a few cache lines.
//
// # Deletion
//
// Deleting a key marks its bin as deleted and its entry as deleted by setting
// the entry hash to a reserved value that no live entry can have (a hash
// equal to the reserved value is substituted when the key is inserted).
// Deleted entries are not reclaimed until the entry array fills up, at which
// point the table is rebuilt: either compacted in place when the live entries
// occupy between 1/4 and 1/2 of the array, or copied into a new array sized
// for twice the live entries. Deleting the first live entry advances the
// start of the array past any deleted entries that follow it, so queue-like
// usage does not leave a growing run of dead entries at the front.
//
// # Reentrancy
//
// A Table calls its Hasher to compare keys, and Foreach calls a visitor for
// every key. Both kinds of callbacks may call back into the table, including
// operations that rebuild it. The table counts its rebuilds; every operation
// that calls back into user code snapshots the count and, if it changed,
// discards any indexes it computed and restarts its search.
//
// A Table is NOT goroutine-safe.
package denseset

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	debug = false

	// rebuildThreshold determines when a full table is compacted in place
	// rather than reallocated: in place when more than 1/rebuildThreshold and
	// at most half of the entries are live.
	rebuildThreshold = 4
)

// ErrTableTooBig is returned when a table would need more entries than the
// platform can address.
var ErrTableTooBig = errors.New("denseset: table too big")

// Entry holds a key and its hash.
type Entry[K any] struct {
	hash uint64
	key  K
}

func (e *Entry[K]) deleted() bool {
	return e.hash == reservedHashVal
}

func (e *Entry[K]) markDeleted() {
	var zero K
	e.hash = reservedHashVal
	e.key = zero
}

// Table is a hash set of keys of type K. Key hashing and equality are defined
// by the Hasher supplied to New. The zero value of a Table is not usable.
type Table[K any] struct {
	hasher    Hasher[K]
	allocator Allocator[K]
	strategy  ProbeStrategy
	probeHook func(op ProbeOp, collisions int)
	normalize func(key K) K

	// entryPower is log2(len(entries)).
	entryPower uint8
	// rebuilds is incremented every time entries or bins are reallocated or
	// compacted. Any index into entries or bins computed before an increment
	// is invalid after it.
	rebuilds uint64
	// mods is incremented by every change to the table. Insert uses it to
	// detect changes made by callbacks that do not rebuild the table.
	mods uint64
	// The number of live entries.
	numEntries int
	// Live and deleted entries are in entries[entriesStart:entriesBound].
	// Entries before entriesStart are all deleted, entries at or after
	// entriesBound have never been used since the last rebuild.
	entriesStart int
	entriesBound int
	entries      []Entry[K]
	// bins is empty for packed tables.
	bins binArray
}

// New constructs a new Table with room for at least initialCapacity keys
// before the first rebuild. ErrTableTooBig is returned if initialCapacity
// exceeds the maximum size of a table.
func New[K any](initialCapacity int, hasher Hasher[K], options ...Option[K]) (*Table[K], error) {
	t := &Table[K]{
		hasher:    hasher,
		allocator: defaultAllocator[K]{},
	}
	for _, op := range options {
		op.apply(t)
	}

	n, err := getPower2(initialCapacity)
	if err != nil {
		return nil, err
	}
	t.entryPower = n
	t.entries, t.bins = t.allocArrays(n)
	t.checkInvariants()
	return t, nil
}

// Close closes the table, releasing any memory back to its configured
// allocator. It is unnecessary to close a table using the default allocator.
// It is invalid to use a Table after it has been closed, though Close itself
// is idempotent.
func (t *Table[K]) Close() {
	if t.allocator != nil {
		t.freeArrays()
	}
	t.entries = nil
	t.bins = binArray{}
	t.numEntries = 0
	t.entriesStart = 0
	t.entriesBound = 0
	t.allocator = nil
}

// Len returns the number of keys in the table.
func (t *Table[K]) Len() int {
	return t.numEntries
}

// Capacity returns the number of entries the table can append before it must
// be rebuilt. Deleted entries count against the capacity until the rebuild.
func (t *Table[K]) Capacity() int {
	return len(t.entries)
}

// Rebuilds returns the number of times the table has been rebuilt. An
// embedder holding a position obtained from the table must discard it when
// the value changes.
func (t *Table[K]) Rebuilds() uint64 {
	return t.rebuilds
}

// Contains returns true if key is in the table.
func (t *Table[K]) Contains(key K) bool {
	return t.find(t.hashKey(key), key) >= 0
}

// Get returns the stored key which is Equal to key. The stored key can differ
// from key when equality is not identity, for example when the table holds
// interned strings.
func (t *Table[K]) Get(key K) (stored K, ok bool) {
	i := t.find(t.hashKey(key), key)
	if i < 0 {
		return stored, false
	}
	return t.entries[i].key, true
}

// Insert adds key to the table. It returns true if an Equal key was already
// present, in which case the table is unchanged.
func (t *Table[K]) Insert(key K) (present bool) {
	h := t.hashKey(key)
	normalized := t.normalize == nil

	// Insert is find composed with an append of the new entry. Every callback
	// may change the table, so each pass restarts from the top if the
	// modification count changed underneath it.
	for {
		// Rebuilding invalidates bin indexes, so it has to happen before
		// probing.
		t.rebuildIfNecessary()
		mods := t.mods

		var binInd uint64
		if !t.bins.exists() {
			i := t.findEntry(h, key)
			if t.mods != mods {
				continue
			}
			if i >= 0 {
				return true
			}
		} else {
			var i int
			binInd, i = t.findBin(ProbeInsert, h, key, true)
			if t.mods != mods {
				continue
			}
			if i >= 0 {
				return true
			}
		}

		if !normalized {
			key = t.normalize(key)
			normalized = true
			if t.mods != mods {
				continue
			}
		}

		ind := t.entriesBound
		t.entries[ind] = Entry[K]{hash: h, key: key}
		t.entriesBound++
		t.numEntries++
		t.mods++
		if t.bins.exists() {
			t.bins.set(binInd, uint64(ind)+entryBase)
		}
		if debug {
			fmt.Printf("insert(%v): index=%d bin=%d used=%d\n", key, ind, binInd, t.numEntries)
		}
		t.checkInvariants()
		return false
	}
}

// Delete removes the key Equal to key from the table, returning the key that
// was stored. It is a noop to delete a non-existent key.
func (t *Table[K]) Delete(key K) (removed K, ok bool) {
	h := t.hashKey(key)
	for {
		if !t.bins.exists() {
			i := t.findEntry(h, key)
			if i == rebuiltInd {
				continue
			}
			if i < 0 || t.entries[i].deleted() {
				return removed, false
			}
			removed = t.entries[i].key
			t.deleteEntry(i)
			return removed, true
		}

		binInd, i := t.findBin(ProbeDelete, h, key, false)
		if i == rebuiltInd {
			continue
		}
		if i < 0 {
			return removed, false
		}
		if t.bins.get(binInd) != uint64(i)+entryBase {
			// The comparator deleted the entry itself.
			continue
		}
		t.bins.markDeleted(binInd)
		removed = t.entries[i].key
		t.deleteEntry(i)
		return removed, true
	}
}

// Shift removes the oldest key in the table and returns it.
func (t *Table[K]) Shift() (key K, ok bool) {
	for i := t.entriesStart; i < t.entriesBound; i++ {
		e := &t.entries[i]
		if e.deleted() {
			continue
		}
		key = e.key
		if t.bins.exists() {
			t.bins.markDeleted(t.binForEntry(e.hash, i))
		}
		t.deleteEntry(i)
		return key, true
	}
	return key, false
}

// Clear removes all keys from the table, retaining its capacity.
func (t *Table[K]) Clear() {
	clear(t.entries[:t.entriesBound])
	if t.bins.exists() {
		t.bins.clear()
	}
	t.numEntries = 0
	t.entriesStart = 0
	t.entriesBound = 0
	t.rebuilds++
	t.mods++
	t.checkInvariants()
}

// Keys copies keys into out in insertion order and returns the number of keys
// copied, which is at most len(out).
func (t *Table[K]) Keys(out []K) int {
	var n int
	for i := t.entriesStart; i < t.entriesBound && n < len(out); i++ {
		e := &t.entries[i]
		if e.deleted() {
			continue
		}
		out[n] = e.key
		n++
	}
	return n
}

// Clone returns a copy of the table with its own entries and bins. The copy
// shares the hasher, allocator and options of t.
func (t *Table[K]) Clone() *Table[K] {
	c := &Table[K]{
		hasher:       t.hasher,
		allocator:    t.allocator,
		strategy:     t.strategy,
		probeHook:    t.probeHook,
		normalize:    t.normalize,
		entryPower:   t.entryPower,
		numEntries:   t.numEntries,
		entriesStart: t.entriesStart,
		entriesBound: t.entriesBound,
	}
	c.entries = c.allocator.AllocEntries(len(t.entries))
	copy(c.entries, t.entries)
	if t.bins.exists() {
		f := features[t.entryPower]
		buf := c.allocator.AllocBins(len(t.bins.buf))
		copy(buf, t.bins.buf)
		c.bins = makeBinArray(buf, f.binPower, f.sizeInd)
	}
	c.checkInvariants()
	return c
}

// Compact discards deleted entries now rather than at the next rebuild. The
// table is moved to smaller arrays if its keys fit in them.
func (t *Table[K]) Compact() {
	if t.numEntries == t.entriesBound {
		// No deleted entries.
		return
	}
	if t.shrink() {
		return
	}
	t.rebuildInPlace()
}

// shrink moves the table to smaller arrays if its keys fit into a table of
// half the size or less. It returns true if the table was moved.
func (t *Table[K]) shrink() bool {
	n, err := getPower2(2 * t.numEntries)
	if err != nil || n >= t.entryPower {
		return false
	}
	t.rebuildInto(n)
	return true
}

// String returns a dump of the entries and bins of the table.
func (t *Table[K]) String() string {
	return t.debugString()
}

func (t *Table[K]) hashKey(key K) uint64 {
	return normalizeHash(t.hasher.Hash(key))
}

// rebuiltInd is returned by the find routines when a comparator rebuilt the
// table. The caller must restart.
const rebuiltInd = -2

// entryMatches reports whether the entry at index i holds key. The entry hash
// is compared first so that the comparator is only called on a likely match.
func (t *Table[K]) entryMatches(i int, h uint64, key K) (match, rebuilt bool) {
	e := &t.entries[i]
	if e.hash != h {
		return false, false
	}
	rebuilds := t.rebuilds
	stored := e.key
	match = t.hasher.Equal(key, stored)
	return match, rebuilds != t.rebuilds
}

// find returns the index of the entry holding key, or -1.
func (t *Table[K]) find(h uint64, key K) int {
	for {
		var i int
		if !t.bins.exists() {
			i = t.findEntry(h, key)
		} else {
			_, i = t.findBin(ProbeFind, h, key, false)
		}
		if i != rebuiltInd {
			return i
		}
	}
}

// findEntry scans the entries of a packed table for key. It returns the entry
// index, -1 if the key is not present or rebuiltInd.
func (t *Table[K]) findEntry(h uint64, key K) int {
	for i := t.entriesStart; i < t.entriesBound; i++ {
		match, rebuilt := t.entryMatches(i, h, key)
		if rebuilt {
			return rebuiltInd
		}
		if match {
			return i
		}
	}
	return -1
}

// findBin probes the bins for key. If the key is present it returns the bin
// pointing at it and the entry index. Otherwise the entry index is -1 and, if
// reserve is set, the bin is the one a new entry for key should use: the
// first deleted bin of the probe sequence or the empty bin which ended it.
// The entry index is rebuiltInd if a comparator rebuilt the table.
func (t *Table[K]) findBin(op ProbeOp, h uint64, key K, reserve bool) (binInd uint64, ind int) {
	seq := makeProbeSeq(t.strategy, h, t.bins.mask)
	if debug {
		fmt.Printf("%s(%v): %s\n", op, key, seq)
	}

	var collisions int
	firstDeleted := uint64(0)
	haveDeleted := false
	for ; ; seq = seq.next() {
		switch b := t.bins.get(seq.offset); b {
		case emptyBin:
			t.reportProbe(op, collisions)
			if reserve && haveDeleted {
				return firstDeleted, -1
			}
			return seq.offset, -1
		case deletedBin:
			if reserve && !haveDeleted {
				firstDeleted, haveDeleted = seq.offset, true
			}
		default:
			i := int(b - entryBase)
			match, rebuilt := t.entryMatches(i, h, key)
			if rebuilt {
				if debug {
					fmt.Printf("%s(%v): rebuilt during comparison\n", op, key)
				}
				return 0, rebuiltInd
			}
			if match {
				t.reportProbe(op, collisions)
				return seq.offset, i
			}
		}
		collisions++
	}
}

// binForEntry returns the bin pointing at the live entry at index ind. No
// keys are compared.
func (t *Table[K]) binForEntry(h uint64, ind int) uint64 {
	want := uint64(ind) + entryBase
	for seq := makeProbeSeq(t.strategy, h, t.bins.mask); ; seq = seq.next() {
		switch b := t.bins.get(seq.offset); b {
		case want:
			return seq.offset
		case emptyBin:
			panic(errors.AssertionFailedf("entry %d has no bin\n%s", ind, t.debugString()))
		}
	}
}

// findEmptyBin returns the first empty bin in the probe sequence for h. It is
// used when rebuilding, where every key is known to be distinct and there are
// no deleted bins.
func (t *Table[K]) findEmptyBin(bins *binArray, h uint64) uint64 {
	var collisions int
	seq := makeProbeSeq(t.strategy, h, bins.mask)
	for !bins.isEmpty(seq.offset) {
		seq = seq.next()
		collisions++
	}
	t.reportProbe(ProbeRebuild, collisions)
	return seq.offset
}

func (t *Table[K]) reportProbe(op ProbeOp, collisions int) {
	if t.probeHook != nil {
		t.probeHook(op, collisions)
	}
}

// deleteEntry marks the entry at index i deleted. The caller has already
// cleared its bin.
func (t *Table[K]) deleteEntry(i int) {
	t.entries[i].markDeleted()
	t.numEntries--
	t.mods++
	if debug {
		fmt.Printf("delete: index=%d used=%d\n", i, t.numEntries)
	}

	// Advance the start of the entries past the run of deleted entries that
	// begins at i.
	if t.entriesStart == i {
		start := i + 1
		for start < t.entriesBound && t.entries[start].deleted() {
			start++
		}
		t.entriesStart = start
	}
	t.checkInvariants()
}

// removeVisited deletes the entry at index i which was visited by Foreach.
// If the visitor already deleted it the key is looked up again in case the
// visitor inserted it anew.
func (t *Table[K]) removeVisited(i int, h uint64, key K) {
	if t.entries[i].deleted() {
		if i = t.find(h, key); i < 0 {
			return
		}
	}
	if t.bins.exists() {
		t.bins.markDeleted(t.binForEntry(h, i))
	}
	t.deleteEntry(i)
}

func (t *Table[K]) rebuildIfNecessary() {
	if t.entriesBound == len(t.entries) {
		t.rebuild()
	}
}

// rebuild reclaims deleted entries when the entry array is full, growing or
// shrinking the table as needed.
func (t *Table[K]) rebuild() {
	allocated := len(t.entries)
	if (2*t.numEntries <= allocated && rebuildThreshold*t.numEntries > allocated) ||
		t.numEntries < (1<<minimalPower2) {
		t.rebuildInPlace()
		return
	}
	n, err := getPower2(2*t.numEntries - 1)
	if err != nil {
		panic(err)
	}
	t.rebuildInto(n)
}

// rebuildInPlace moves the live entries to the front of the entry array and
// recomputes the bins.
func (t *Table[K]) rebuildInPlace() {
	if debug {
		fmt.Printf("rebuild-in-place: used=%d bound=%d capacity=%d\n",
			t.numEntries, t.entriesBound, len(t.entries))
	}
	if t.bins.exists() {
		t.bins.clear()
	}
	oldBound := t.entriesBound
	n := t.copyLive(t.entries, &t.bins)
	clear(t.entries[n:oldBound])
	t.rebuildCleanup()
}

// rebuildInto moves the live entries into new arrays of 2^power entries.
func (t *Table[K]) rebuildInto(power uint8) {
	if debug {
		fmt.Printf("rebuild: used=%d capacity=%d->%d\n", t.numEntries, len(t.entries), 1<<power)
	}
	entries, bins := t.allocArrays(power)
	t.copyLive(entries, &bins)
	t.freeArrays()
	t.entryPower = power
	t.entries = entries
	t.bins = bins
	t.rebuildCleanup()
}

// copyLive copies the live entries of t, in order, to the front of entries
// and points bins at them. entries may be t.entries. It returns the number of
// entries copied.
func (t *Table[K]) copyLive(entries []Entry[K], bins *binArray) int {
	inPlace := &entries[0] == &t.entries[0]
	var n int
	for i := t.entriesStart; i < t.entriesBound; i++ {
		e := &t.entries[i]
		if e.deleted() {
			continue
		}
		if !inPlace || n != i {
			entries[n] = *e
		}
		if bins.exists() {
			bins.set(t.findEmptyBin(bins, e.hash), uint64(n)+entryBase)
		}
		n++
	}
	return n
}

func (t *Table[K]) rebuildCleanup() {
	t.entriesStart = 0
	t.entriesBound = t.numEntries
	t.rebuilds++
	t.mods++
	t.checkInvariants()
}

func (t *Table[K]) allocArrays(power uint8) ([]Entry[K], binArray) {
	entries := t.allocator.AllocEntries(1 << power)
	if power <= maxPower2ForTablesWithoutBins {
		return entries, binArray{}
	}
	f := features[power]
	bins := makeBinArray(t.allocator.AllocBins(binsSize(f.binPower, f.sizeInd)), f.binPower, f.sizeInd)
	bins.clear()
	return entries, bins
}

func (t *Table[K]) freeArrays() {
	if t.entries != nil {
		t.allocator.FreeEntries(t.entries)
	}
	if t.bins.exists() {
		t.allocator.FreeBins(t.bins.buf)
	}
}

func (t *Table[K]) checkInvariants() {
	if invariants {
		if len(t.entries) != 1<<t.entryPower {
			panic(errors.AssertionFailedf("invariant failed: %d entries, expected 2^%d\n%s",
				len(t.entries), t.entryPower, t.debugString()))
		}
		if want := t.entryPower > maxPower2ForTablesWithoutBins; t.bins.exists() != want {
			panic(errors.AssertionFailedf("invariant failed: bins present=%t at entry power %d",
				t.bins.exists(), t.entryPower))
		}
		if !(0 <= t.entriesStart && t.entriesStart <= t.entriesBound && t.entriesBound <= len(t.entries)) {
			panic(errors.AssertionFailedf("invariant failed: start=%d bound=%d capacity=%d",
				t.entriesStart, t.entriesBound, len(t.entries)))
		}

		// Count the live entries and verify each can be reached by probing
		// its hash.
		var used int
		for i := 0; i < t.entriesBound; i++ {
			e := &t.entries[i]
			if e.deleted() {
				continue
			}
			if i < t.entriesStart {
				panic(errors.AssertionFailedf("invariant failed: live entry %d before start %d\n%s",
					i, t.entriesStart, t.debugString()))
			}
			if t.bins.exists() {
				// binForEntry panics if an empty bin is reached first.
				t.binForEntry(e.hash, i)
			}
			used++
		}
		if used != t.numEntries {
			panic(errors.AssertionFailedf("invariant failed: found %d live entries, but used count is %d\n%s",
				used, t.numEntries, t.debugString()))
		}

		if t.bins.exists() {
			var pointing int
			for i := uint64(0); i < t.bins.len(); i++ {
				b := t.bins.get(i)
				if b < entryBase {
					continue
				}
				ind := int(b - entryBase)
				if ind >= t.entriesBound || t.entries[ind].deleted() {
					panic(errors.AssertionFailedf("invariant failed: bin %d points at dead entry %d\n%s",
						i, ind, t.debugString()))
				}
				pointing++
			}
			if pointing != t.numEntries {
				panic(errors.AssertionFailedf("invariant failed: %d bins point at entries, but used count is %d\n%s",
					pointing, t.numEntries, t.debugString()))
			}
		}
	}
}

func (t *Table[K]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  used=%d  start=%d  bound=%d  rebuilds=%d\n",
		len(t.entries), t.numEntries, t.entriesStart, t.entriesBound, t.rebuilds)
	for i := 0; i < t.entriesBound; i++ {
		e := &t.entries[i]
		if e.deleted() {
			fmt.Fprintf(&buf, "  entry %4d: deleted\n", i)
		} else {
			fmt.Fprintf(&buf, "  entry %4d: %v [hash=%016x]\n", i, e.key, e.hash)
		}
	}
	for i := uint64(0); i < t.bins.len(); i++ {
		switch b := t.bins.get(i); b {
		case emptyBin:
		case deletedBin:
			fmt.Fprintf(&buf, "  bin %4d: deleted\n", i)
		default:
			fmt.Fprintf(&buf, "  bin %4d: entry %d\n", i, b-entryBase)
		}
	}
	return buf.String()
}
