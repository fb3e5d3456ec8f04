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

// Package cachestate implements the per-artifact three-state machine of
// §4.4: NotGenerated / BeingGenerated / Generated, CAS-guarded transitions,
// atomic tmp-then-rename publish, and mtime-based tamper detection.
package cachestate

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	boostatomic "github.com/nabbar/boostrpc/atomic"
)

// Phase is one of the three legal states of a cache slot.
type Phase int32

const (
	NotGenerated Phase = iota
	BeingGenerated
	Generated
)

func (p Phase) String() string {
	switch p {
	case NotGenerated:
		return "not-generated"
	case BeingGenerated:
		return "being-generated"
	case Generated:
		return "generated"
	default:
		return "unknown"
	}
}

// State is one artifact slot's state machine (§4.4). Allowed reports
// whether this slot is enabled at all for its owning ProgramData (derived
// from the program identity's boost-enable flags); a disallowed slot is
// always skipped by handlers without ever touching the state machine.
type State struct {
	Allowed bool

	phase int32 // Phase, CAS-guarded
	path  boostatomic.Value[string]
	mtime boostatomic.Value[time.Time]

	// procLock serializes concurrent goroutines in this process from
	// both racing the O_EXCL tmp-file open pointlessly; cross-process
	// mutual exclusion is still the tmp file itself (see AcquireProducer).
	procLock *flock.Flock
}

// New builds a State in NotGenerated. Its process-local advisory lock on
// "<filePath>.lock" is created by the first BeginGeneration.
func New(allowed bool) *State {
	return &State{
		Allowed: allowed,
		phase:   int32(NotGenerated),
		path:    boostatomic.NewValue[string](),
		mtime:   boostatomic.NewValue[time.Time](),
	}
}

// Phase returns the current phase.
func (s *State) Phase() Phase {
	return Phase(atomic.LoadInt32(&s.phase))
}

// Path returns the artifact path recorded at the last successful publish,
// or "" if never published.
func (s *State) Path() string {
	return s.path.Load()
}

// BeginGeneration attempts the NotGenerated -> BeingGenerated transition
// (§4.4's "exactly one producer wins"). filePath is the target artifact
// path. It also takes a process-local flock on "<filePath>.lock" so two
// goroutines in this process never both race the filesystem's O_EXCL tmp
// lock for nothing; the flock is released by Abort or Publish. The CAS
// alone already prevents two goroutines sharing this *State from both
// winning, but a restarted generation attempt (Abort then retry) reuses the
// same flock handle, so it must be released symmetrically.
func (s *State) BeginGeneration(filePath string) bool {
	if !atomic.CompareAndSwapInt32(&s.phase, int32(NotGenerated), int32(BeingGenerated)) {
		return false
	}
	s.path.Store(filePath)
	if s.procLock == nil {
		s.procLock = flock.New(filePath + ".lock")
	}
	_, _ = s.procLock.TryLock()
	return true
}

// Abort reverts BeingGenerated -> NotGenerated, e.g. when a producer fails
// partway through (§4.4's abort transition).
func (s *State) Abort() {
	if atomic.CompareAndSwapInt32(&s.phase, int32(BeingGenerated), int32(NotGenerated)) {
		s.unlockProc()
	}
}

func (s *State) unlockProc() {
	if s.procLock != nil {
		_ = s.procLock.Unlock()
	}
}

// Publish commits BeingGenerated -> Generated after the caller has already
// written the artifact bytes at path (via wire.SendFile/ReceiveFile or a
// compiler driver) and performed the tmp-then-rename dance itself; Publish
// only records the mtime snapshot used by the consistency check on read.
func (s *State) Publish(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		s.Abort()
		return err
	}
	s.path.Store(path)
	s.mtime.Store(fi.ModTime())
	if !atomic.CompareAndSwapInt32(&s.phase, int32(BeingGenerated), int32(Generated)) {
		return errNotBeingGenerated
	}
	s.unlockProc()
	return nil
}

// Invalidate reverts Generated -> BeingGenerated -> NotGenerated and
// removes the on-disk file, used both by the tamper-detection path on read
// and by an explicit re-invalidation request.
func (s *State) Invalidate() {
	if atomic.CompareAndSwapInt32(&s.phase, int32(Generated), int32(BeingGenerated)) {
		if p := s.Path(); p != "" {
			_ = os.Remove(p)
		}
		atomic.StoreInt32(&s.phase, int32(NotGenerated))
	}
}

// CheckConsistency implements §4.4's "consistency check on read": before
// vending a Generated artifact, stat the file; a missing file or an mtime
// that no longer matches the snapshot demotes the slot to NotGenerated and
// deletes the file, and the read is treated as a miss.
func (s *State) CheckConsistency() bool {
	if s.Phase() != Generated {
		return false
	}
	path := s.Path()
	fi, err := os.Stat(path)
	if err != nil {
		s.Invalidate()
		return false
	}
	snap := s.mtime.Load()
	if !fi.ModTime().Equal(snap) {
		s.Invalidate()
		return false
	}
	return true
}

// AcquireProducer takes the cross-process tmp-file producer lock for this
// slot's path (O_CREAT|O_EXCL as described in §4.4), returning the open
// lock file to hold until Publish/Abort, or ok=false with a nil error if a
// sibling process/goroutine already holds it.
func AcquireProducer(tmpPath string) (lock *os.File, ok bool, err error) {
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return f, true, nil
}

// WaitForTarget polls for path to appear for up to wait, per §4.4's
// cross-process coordination rule (default 2s, shared with wire.ReceiveFile
// via wire.DefaultWaitForTarget).
func WaitForTarget(path string, wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	for {
		if _, err := os.Stat(path); err == nil {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(25 * time.Millisecond)
	}
}

var errNotBeingGenerated = &phaseError{"state was not BeingGenerated at publish time"}

type phaseError struct{ msg string }

func (e *phaseError) Error() string { return e.msg }
