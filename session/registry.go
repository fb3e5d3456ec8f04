/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package session implements the ServerDataManager: the concurrent,
// ref-counted programs/sessions registries described in §4.3, built on the
// generic atomic maps kept from the teacher's atomic package.
package session

import (
	"sync/atomic"
	"time"

	boostatomic "github.com/nabbar/boostrpc/atomic"
)

// entryState distinguishes a live registry entry from one that a
// concurrent TryRemove has committed to tearing down. Once an entry
// transitions to removing, GetOrCreate must not hand out new references to
// it; it loops and installs a fresh replacement instead.
type entryState int32

const (
	stateLive entryState = iota
	stateRemoving
)

// Entry wraps a registered value with the ref-count-with-timestamp
// bookkeeping §3/§5 require of both ProgramData and SessionData entries.
type Entry[V any] struct {
	Value V

	refCount   int32
	state      int32 // entryState, CAS-guarded
	noRefSince atomic.Int64 // unix nanos; valid only while refCount == 0
}

func newEntry[V any](v V) *Entry[V] {
	e := &Entry[V]{Value: v, refCount: 1}
	return e
}

// Inc increments the reference count. It returns false if the entry is
// already being torn down (state == stateRemoving), the locked-sentinel
// equivalent of §4.3's "a locked ref_count prevents further increments".
func (e *Entry[V]) Inc() bool {
	if atomic.LoadInt32(&e.state) == int32(stateRemoving) {
		return false
	}
	atomic.AddInt32(&e.refCount, 1)
	if atomic.LoadInt32(&e.state) == int32(stateRemoving) {
		// A concurrent TryRemove locked the entry between the check above
		// and the increment; back the increment out.
		atomic.AddInt32(&e.refCount, -1)
		return false
	}
	return true
}

// Dec decrements the reference count and records the no-reference
// timestamp the instant it reaches zero, per §3's ProgramData/SessionData
// "no-reference since" invariant.
func (e *Entry[V]) Dec() {
	if atomic.AddInt32(&e.refCount, -1) == 0 {
		e.noRefSince.Store(time.Now().UnixNano())
	}
}

// RefCount reports the current reference count.
func (e *Entry[V]) RefCount() int32 {
	return atomic.LoadInt32(&e.refCount)
}

// UnusedSince reports how long the entry has held a zero ref-count, or
// false if it currently has at least one reference.
func (e *Entry[V]) UnusedSince() (time.Duration, bool) {
	if atomic.LoadInt32(&e.refCount) != 0 {
		return 0, false
	}
	ns := e.noRefSince.Load()
	if ns == 0 {
		return 0, false
	}
	return time.Since(time.Unix(0, ns)), true
}

// tryLockForRemoval CASes state live->removing. On failure to also confirm
// ref-count==0 it restores state to live, so the entry remains usable —
// this is the Go-idiomatic stand-in for §8's "try_remove succeeds only
// when ref_count == 0 while holding the bucket lock": sync.Map exposes no
// bucket lock, so the per-entry state CAS plays that role instead. While
// state == removing, Inc always fails, closing the observe-then-inc race
// the property requires.
func (e *Entry[V]) tryLockForRemoval() bool {
	if !atomic.CompareAndSwapInt32(&e.state, int32(stateLive), int32(stateRemoving)) {
		return false
	}
	if atomic.LoadInt32(&e.refCount) != 0 {
		atomic.StoreInt32(&e.state, int32(stateLive))
		return false
	}
	return true
}

// Registry is a concurrent, ref-counted map of K to *Entry[V], implementing
// the programs/sessions contracts of §4.3: Get, GetOrCreate and TryRemove.
type Registry[K comparable, V any] struct {
	m boostatomic.MapTyped[K, *Entry[V]]
}

// NewRegistry builds an empty Registry.
func NewRegistry[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{m: boostatomic.NewMapTyped[K, *Entry[V]]()}
}

// Get increments the entry's ref-count before returning it, mirroring
// §4.3's get contract. Callers must call Entry.Dec when done.
func (r *Registry[K, V]) Get(key K) (*Entry[V], bool) {
	for {
		e, ok := r.m.Load(key)
		if !ok {
			return nil, false
		}
		if e.Inc() {
			return e, true
		}
		// e is mid-removal; by the time we observed it the owner may
		// already have deleted it from the map, so just retry the load.
	}
}

// GetOrCreate atomically installs build() if key is absent, and returns the
// installed entry (possibly one a racing goroutine installed first) with
// its ref-count already incremented on the caller's behalf. The loser of an
// insert race discards its freshly-built candidate via discard, if given.
func (r *Registry[K, V]) GetOrCreate(key K, build func() V, discard func(V)) *Entry[V] {
	for {
		if e, ok := r.Get(key); ok {
			return e
		}

		candidate := newEntry(build())
		actual, loaded := r.m.LoadOrStore(key, candidate)
		if !loaded {
			return actual
		}
		if discard != nil {
			discard(candidate.Value)
		}
		if actual.Inc() {
			return actual
		}
		// Raced with a concurrent TryRemove of `actual`; loop and retry.
	}
}

// TryRemove removes key iff eval(entry.Value) holds while the entry is
// locked for removal (ref_count == 0), per §4.3/§8. On success teardown(V)
// runs after the entry is unreachable from the map, and true is returned.
func (r *Registry[K, V]) TryRemove(key K, eval func(V) bool, teardown func(V)) bool {
	e, ok := r.m.Load(key)
	if !ok {
		return false
	}
	if !e.tryLockForRemoval() {
		return false
	}
	if eval != nil && !eval(e.Value) {
		atomic.StoreInt32(&e.state, int32(stateLive))
		return false
	}
	r.m.Delete(key)
	if teardown != nil {
		teardown(e.Value)
	}
	return true
}

// Range iterates live entries. The callback must not block on Inc/Dec of
// other entries to avoid lock-order inversions.
func (r *Registry[K, V]) Range(f func(key K, entry *Entry[V]) bool) {
	r.m.Range(func(k K, e *Entry[V]) bool {
		return f(k, e)
	})
}

// Len reports the approximate number of entries (sync.Map has no O(1)
// count; this walks the map, matching the teacher's own Range-to-count
// idiom used in its atomic map tests).
func (r *Registry[K, V]) Len() int {
	n := 0
	r.m.Range(func(K, *Entry[V]) bool {
		n++
		return true
	})
	return n
}
