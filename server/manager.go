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

package server

import (
	"time"

	"github.com/nabbar/boostrpc/identity"
	"github.com/nabbar/boostrpc/session"
)

// Timeouts bundles the control-loop durations named in §4.6/§6.
type Timeouts struct {
	Heartbeat             time.Duration // default ~4min; control wakes at Heartbeat/4
	SessionNoRefTimeout   time.Duration
	UnusedSharedDataTimeout time.Duration
	HalfCleanupInterval   time.Duration
}

// DefaultTimeouts matches §4.6's stated default of a ~4 minute heartbeat.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Heartbeat:               4 * time.Minute,
		SessionNoRefTimeout:     10 * time.Minute,
		UnusedSharedDataTimeout: 30 * time.Minute,
		HalfCleanupInterval:     2 * time.Minute,
	}
}

// DataManager owns the two concurrent registries of §4.3: programs keyed
// by ProgramIdentity, sessions keyed by SessionID.
type DataManager struct {
	Programs *session.Registry[identity.ProgramIdentity, *session.ProgramData]
	Sessions *session.Registry[uint32, *session.SessionData]
	Resolver session.Resolver
	Timeouts Timeouts
}

// NewDataManager builds an empty DataManager.
func NewDataManager(resolver session.Resolver, timeouts Timeouts) *DataManager {
	return &DataManager{
		Programs: session.NewRegistry[identity.ProgramIdentity, *session.ProgramData](),
		Sessions: session.NewRegistry[uint32, *session.SessionData](),
		Resolver: resolver,
		Timeouts: timeouts,
	}
}

// MatchProgram implements get_or_create for the programs map (§4.3): find
// the ProgramData for id, creating one if this is the first session to
// reference it. The returned entry's ref-count is already incremented on
// the caller's behalf; callers must Dec it when the owning session ends.
func (m *DataManager) MatchProgram(id identity.ProgramIdentity) *session.Entry[*session.ProgramData] {
	return m.Programs.GetOrCreate(id,
		func() *session.ProgramData { return session.NewProgramData(id, m.Resolver) },
		func(discarded *session.ProgramData) {
			// The losing side of an insert race never published any cache
			// state or class loaders, so there is nothing to tear down
			// beyond letting it be garbage collected.
			_ = discarded
		},
	)
}

// NewSession installs a fresh SessionData referencing program (whose
// ref-count the caller already holds via MatchProgram) into the sessions
// registry.
func (m *DataManager) NewSession(clientRandomID, serverRandomID uint64, program *session.Entry[*session.ProgramData]) *session.Entry[*session.SessionData] {
	sd := session.NewSessionData(clientRandomID, serverRandomID, program)
	return m.Sessions.GetOrCreate(sd.SessionID,
		func() *session.SessionData { return sd },
		nil,
	)
}

// DropSession removes a session once every holder of its Entry (the
// request-dispatch goroutine, a daemon-stream reference held by the control
// loop) has already called Entry.Dec; it is try_remove's ref_count==0 gate
// — enforced inside Registry.TryRemove itself, not by the eval callback
// here — that decides whether the removal actually takes effect, matching
// §4.3's "try_remove succeeds only when ref_count == 0". On success it
// cascades into decrementing the program's ref-count it was holding (§3's
// "SessionData::drop decrements its parent ProgramData ref_count").
func (m *DataManager) DropSession(sessionID uint32) {
	m.Sessions.TryRemove(sessionID,
		func(sd *session.SessionData) bool { return true },
		func(sd *session.SessionData) {
			sd.Program.Dec()
			m.DropProgram(sd.Program.Value.Identity)
		},
	)
}

// DropProgram evicts a program entry once its ref-count has reached zero,
// releasing its reconstructed class loaders. Used both by DropSession's
// cascade and by the control loop's unused-shared-data sweep (§4.6).
func (m *DataManager) DropProgram(id identity.ProgramIdentity) bool {
	return m.Programs.TryRemove(id,
		func(pd *session.ProgramData) bool { return true },
		func(pd *session.ProgramData) { pd.Loaders.Release() },
	)
}
