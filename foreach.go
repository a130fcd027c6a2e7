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
	"fmt"

	"github.com/cockroachdb/errors"
)

// Action is returned by a Foreach visitor to direct the iteration.
type Action uint8

const (
	// Continue moves on to the next key.
	Continue Action = iota
	// Stop ends the iteration.
	Stop
	// Delete removes the visited key and moves on to the next key.
	Delete
	// Check is Continue for ForeachChecked. Foreach stops on Check.
	Check
)

func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case Stop:
		return "stop"
	case Delete:
		return "delete"
	case Check:
		return "check"
	default:
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
}

// ErrEntryVanished is returned by ForeachChecked when the key being visited
// was removed from the table while the table was rebuilt by the visitor.
var ErrEntryVanished = errors.New("denseset: entry removed during iteration")

// Foreach calls fn for each key in insertion order until fn returns Stop.
//
// fn may modify the table. Keys inserted by fn are visited if they are
// appended after the visited key. If fn causes the table to be rebuilt the
// visited key is located again and iteration resumes after it. If fn removed
// the visited key before the rebuild, iteration resumes at the key that
// followed it, and ends if that key was removed as well.
func (t *Table[K]) Foreach(fn func(key K) Action) {
	t.foreach(func(key K, _ bool) Action {
		return fn(key)
	}, false)
}

// ForeachChecked is Foreach for callers that need to know when iteration
// could not resume. If the visited key was removed during a rebuild caused by
// fn, fn is called once more with the zero key and vanished set, and
// ErrEntryVanished is returned.
func (t *Table[K]) ForeachChecked(fn func(key K, vanished bool) Action) error {
	if t.foreach(fn, true) {
		return ErrEntryVanished
	}
	return nil
}

// All calls yield sequentially for each key in the table, in insertion
// order. If yield returns false, the iteration stops. The table can be
// mutated during iteration with the semantics of Foreach.
func (t *Table[K]) All(yield func(key K) bool) {
	t.Foreach(func(key K) Action {
		if !yield(key) {
			return Stop
		}
		return Continue
	})
}

// nextLive returns the index of the first live entry at or after i, or -1.
func (t *Table[K]) nextLive(i int) int {
	for ; i < t.entriesBound; i++ {
		if !t.entries[i].deleted() {
			return i
		}
	}
	return -1
}

// foreach returns true if the visited entry vanished during a checked
// iteration.
func (t *Table[K]) foreach(fn func(key K, vanished bool) Action, checked bool) bool {
	// entriesBound is reloaded on every iteration as fn may append entries
	// without rebuilding the table.
	for i := t.entriesStart; i < t.entriesBound; i++ {
		e := &t.entries[i]
		if e.deleted() {
			continue
		}
		key, h := e.key, e.hash
		// next is where an unchecked iteration resumes if the visited key
		// vanishes.
		var next *Entry[K]
		if !checked {
			if j := t.nextLive(i + 1); j >= 0 {
				n := t.entries[j]
				next = &n
			}
		}
		rebuilds := t.rebuilds
		action := fn(key, false)

		if rebuilds != t.rebuilds {
			// The entries have moved. Find the visited key to learn where to
			// continue from.
			if i = t.find(h, key); i < 0 {
				if debug {
					fmt.Printf("foreach(%v): vanished after rebuild\n", key)
				}
				if checked {
					var zero K
					fn(zero, true)
					return true
				}
				if action == Stop || action == Check || next == nil {
					return false
				}
				if i = t.find(next.hash, next.key); i < 0 {
					return false
				}
				// Revisit the loop at next.
				i--
				continue
			}
		}

		switch action {
		case Continue:
		case Check:
			if !checked {
				return false
			}
		case Stop:
			return false
		case Delete:
			t.removeVisited(i, h, key)
		}
	}
	return false
}
