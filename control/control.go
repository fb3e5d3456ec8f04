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

// Package control implements the server-side heartbeat and eviction loop of
// §4.6: a ticker-driven sweep that keeps every registered daemon stream
// alive, evicting one after four consecutive missed heartbeats or an
// immediate connection-closed-by-peer, plus a slower sweep that retires
// sessions and programs that have sat at a zero reference count past their
// configured timeout.
package control

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	boostatomic "github.com/nabbar/boostrpc/atomic"
	"github.com/nabbar/boostrpc/identity"
	"github.com/nabbar/boostrpc/metrics"
	"github.com/nabbar/boostrpc/protocol"
	"github.com/nabbar/boostrpc/server"
	"github.com/nabbar/boostrpc/session"
	"github.com/nabbar/boostrpc/stream"
)

// maxHeartbeatMisses is the consecutive-miss threshold of §4.6 before a
// daemon stream is evicted.
const maxHeartbeatMisses = 4

// heartbeatRoundTrip bounds how long the control loop waits for one
// heartbeat echo before counting it as a miss.
const heartbeatRoundTrip = 5 * time.Second

type daemonEntry struct {
	stream *stream.ServerStream
	misses int
}

// Loop drives the heartbeat and cleanup sweeps against one DataManager.
// Run is meant to be called once, from its own goroutine; Register is safe
// to call concurrently from dispatch-loop goroutines handing off a
// ClientDaemonTask stream.
type Loop struct {
	Data    *server.DataManager
	Log     hclog.Logger
	Metrics *metrics.Metrics

	daemons boostatomic.MapTyped[uint32, *daemonEntry]
	magic   int32
}

// NewLoop builds a Loop bound to data. metrics may be nil to skip prometheus
// instrumentation entirely.
func NewLoop(data *server.DataManager, m *metrics.Metrics, log hclog.Logger) *Loop {
	return &Loop{
		Data:    data,
		Log:     log,
		Metrics: m,
		daemons: boostatomic.NewMapTyped[uint32, *daemonEntry](),
	}
}

// Register installs s as sessionID's daemon stream, called from the
// server's Dispatcher after a ClientDaemonTask transfers stream ownership
// to this loop (§4.5/§5). s must already have had TransferOwnership called
// on it by the previous owner.
func (l *Loop) Register(sessionID uint32, s *stream.ServerStream) {
	s.Acquire()
	l.daemons.Store(sessionID, &daemonEntry{stream: s})
}

// Run blocks, driving the heartbeat sweep at Data.Timeouts.Heartbeat/4 and
// the cleanup sweep at Data.Timeouts.HalfCleanupInterval, until ctx is
// cancelled.
func (l *Loop) Run(ctx context.Context) {
	hb := time.NewTicker(l.Data.Timeouts.Heartbeat / 4)
	cleanup := time.NewTicker(l.Data.Timeouts.HalfCleanupInterval)
	defer hb.Stop()
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-hb.C:
			l.sweepHeartbeats()
		case <-cleanup.C:
			l.sweepUnused()
		}
	}
}

func (l *Loop) sweepHeartbeats() {
	magic := atomic.AddInt32(&l.magic, 1)

	l.daemons.Range(func(sessionID uint32, de *daemonEntry) bool {
		if err := de.stream.SetDeadline(heartbeatRoundTrip); err != nil {
			l.evict(sessionID, de)
			return true
		}

		if err := de.stream.SendMessage(protocol.Heartbeat, &protocol.HeartbeatMsg{Magic: magic}); err != nil {
			l.evict(sessionID, de)
			return true
		}

		var reply protocol.HeartbeatMsg
		t, err := de.stream.RecvMessage(&reply)
		if err != nil || t != protocol.Heartbeat || reply.Magic != magic {
			de.misses++
			if de.misses >= maxHeartbeatMisses {
				l.evict(sessionID, de)
			}
			return true
		}

		de.misses = 0
		return true
	})
}

func (l *Loop) evict(sessionID uint32, de *daemonEntry) {
	l.daemons.Delete(sessionID)
	_ = de.stream.Close()
	l.Data.DropSession(sessionID)
	if l.Metrics != nil {
		l.Metrics.DaemonEvictions.Inc()
	}
	l.Log.Info("evicted daemon stream", "session_id", sessionID, "misses", de.misses)
}

// sweepUnused retires sessions and programs that have sat unreferenced
// (every holder has called Entry.Dec) past their configured timeout
// (§4.6's half-cleanup-interval pass).
func (l *Loop) sweepUnused() {
	l.Data.Sessions.Range(func(id uint32, e *session.Entry[*session.SessionData]) bool {
		if dur, idle := e.UnusedSince(); idle && dur >= l.Data.Timeouts.SessionNoRefTimeout {
			l.Data.DropSession(id)
		}
		return true
	})

	l.Data.Programs.Range(func(id identity.ProgramIdentity, e *session.Entry[*session.ProgramData]) bool {
		if dur, idle := e.UnusedSince(); idle && dur >= l.Data.Timeouts.UnusedSharedDataTimeout {
			l.Data.DropProgram(id)
		}
		return true
	})

	if l.Metrics != nil {
		l.Metrics.SessionsActive.Set(float64(l.Data.Sessions.Len()))
		l.Metrics.ProgramsActive.Set(float64(l.Data.Programs.Len()))
	}
}
