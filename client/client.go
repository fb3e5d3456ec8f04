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

package client

import (
	"context"
	"encoding/binary"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/nabbar/boostrpc/config"
	"github.com/nabbar/boostrpc/errs"
	"github.com/nabbar/boostrpc/identity"
	"github.com/nabbar/boostrpc/protocol"
	"github.com/nabbar/boostrpc/stream"
	"github.com/nabbar/boostrpc/wire"
)

// newClientRandomID folds a fresh UUID into the 64-bit nonce space
// client_random_id occupies, the client-side twin of
// server.newServerRandomID — both exist because google/uuid is the
// teacher's chosen source of process-unique randomness, and each side of
// the handshake mints its own half of the (client_random_id,
// server_random_id) pair independently.
func newClientRandomID() uint64 {
	u := uuid.New()
	return binary.LittleEndian.Uint64(u[:8])
}

// Client drives one program run's session: it opens the handshake stream,
// downloads whatever cache artifacts the server already has, and keeps a
// daemon stream alive answering heartbeats until Close.
type Client struct {
	cfg  config.Config
	log  hclog.Logger
	conn *stream.ClientStream

	clientRandomID uint64
	session        *stream.SessionHandshakeResult

	signal   *StartupSignal
	shutdown int32
}

// Dial opens the session handshake stream against cfg.Addr() and performs
// §4.2's first-stream handshake, then immediately drains the up-to-three
// Get*Cache sub-phase the server offers post-handshake, writing whatever
// it returns into localDir.
func Dial(ctx context.Context, cfg config.Config, id identity.ProgramIdentity, localDir string, log hclog.Logger) (*Client, error) {
	cs, err := stream.DialClientStream(cfg.Addr())
	if err != nil {
		return nil, err
	}

	crid := newClientRandomID()
	res, err := cs.OpenSession(crid, id)
	if err != nil {
		_ = cs.Close()
		return nil, err
	}

	c := &Client{
		cfg:            cfg,
		log:            log,
		conn:           cs,
		clientRandomID: crid,
		session:        res,
	}

	if err = c.fetchInitialCaches(localDir); err != nil {
		log.Warn("initial cache fetch failed", "err", err)
	}
	return c, nil
}

// fetchInitialCaches issues the up-to-three Get*Cache sub-requests the
// server accepts immediately after a successful handshake (§4.2), storing
// whatever FileWrapper payloads come back under localDir, then closes the
// sub-phase with EndOfCurrentPhase.
func (c *Client) fetchInitialCaches(localDir string) error {
	type req struct {
		ask  protocol.MessageType
		slot protocol.CacheSlot
	}
	asks := []req{
		{protocol.GetClassLoaderResourceCache, protocol.SlotCLR},
		{protocol.GetAggressiveCDSCache, protocol.SlotAggressiveCDS},
		{protocol.GetLazyAOTCache, protocol.SlotAOTStatic},
	}

	for _, a := range asks {
		if err := c.conn.SendMessage(a.ask, nil); err != nil {
			return err
		}
		path := localDir + "/" + a.slot.FileName(programStrID(c.session.ProgramID))
		if err := wire.ReceiveFile(c.conn, path, wire.DefaultWaitForTarget); err != nil && err != wire.ErrNoSuchFile {
			return err
		}
	}
	return c.conn.SendMessage(protocol.EndOfCurrentPhase, &protocol.EndOfCurrentPhaseMsg{})
}

func programStrID(programID uint32) string {
	// The server hands back only the numeric program_id on this path; the
	// human-readable string id is a server-side convenience this client
	// does not need, so the numeric id alone is a stable enough file key.
	return "program-" + itoa(programID)
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// StartDaemon opens a fresh stream, announces ClientDaemonTask, and answers
// Heartbeat messages until the context is cancelled or the stream fails,
// implementing §4.5/§5's "daemon stream answers heartbeats for the
// session's lifetime".
func (c *Client) StartDaemon(ctx context.Context) error {
	ds, err := stream.DialClientStream(c.cfg.Addr())
	if err != nil {
		return err
	}
	streamID, again, err := ds.OpenStream(c.session.SessionID, c.clientRandomID, c.session.ServerRandomID)
	if err != nil {
		_ = ds.Close()
		return err
	}
	if again {
		_ = ds.Close()
		return errs.ConnClosedByPeer.Errorf("server no longer recognises session %d, resync required", c.session.SessionID)
	}
	_ = streamID

	if err = ds.SendMessage(protocol.ClientDaemonTask, nil); err != nil {
		_ = ds.Close()
		return err
	}

	for {
		select {
		case <-ctx.Done():
			_ = ds.Close()
			return nil
		default:
		}

		var hb protocol.HeartbeatMsg
		t, err := ds.RecvMessage(&hb)
		if err != nil {
			_ = ds.Close()
			return err
		}
		if t != protocol.Heartbeat {
			continue
		}
		if err = ds.SendMessage(protocol.Heartbeat, &hb); err != nil {
			_ = ds.Close()
			return err
		}
	}
}

// SetStartupSignal attaches the startup-complete watcher this session's
// shutdown trigger consults to decide whether lazy-AOT work may run yet
// (§4.8). Nil clears it, treating lazy-AOT as always eligible.
func (c *Client) SetStartupSignal(s *StartupSignal) {
	c.signal = s
}

// Close performs §4.2's closure discipline: send NoMoreRequests before
// dropping the handshake stream, tolerated but logged if skipped.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.shutdown, 0, 1) {
		return nil
	}
	_ = c.conn.SendNoMoreRequests()
	return c.conn.Close()
}

// ClassDataSource supplies the class-loader, class and method locators a
// LazyAOTCompilationTask pushes once the server has answered
// should_send_classes=true; the real managed runtime implements this, this
// module only forwards what it returns (§4.7, an external collaborator
// boundary like compiler.Driver and session.Resolver).
type ClassDataSource interface {
	ClassLoaderLocators() []protocol.ClassLoaderLocator
	KlassLocators() []protocol.KlassLocator
	MethodLocators() []protocol.MethodLocator
}

// TriggerMissingGeneration opens a fresh stream and drives §4.7's
// client-side generation triggers for whatever the server told this session
// it still lacks (§4.8's "at shutdown, or at startup for lazy-AOT, the
// client opens a fresh stream to trigger server-side generation tasks whose
// prerequisite artifacts are missing"). lc supplies the locally-captured CLR
// and CDS artifacts to upload via CacheFilesSyncTask; data supplies the
// class/method locators a LazyAOTCompilationTask needs, and may be nil if
// only the cache-sync half applies (e.g. eager-AOT builds, or a startup
// call before the runtime has anything to offer yet).
func (c *Client) TriggerMissingGeneration(ctx context.Context, lc *LocalCache, data ClassDataSource) error {
	ts, err := stream.DialClientStream(c.cfg.Addr())
	if err != nil {
		return err
	}
	defer func() { _ = ts.Close() }()

	_, again, err := ts.OpenStream(c.session.SessionID, c.clientRandomID, c.session.ServerRandomID)
	if err != nil {
		return err
	}
	if again {
		return errs.ConnClosedByPeer.Errorf("server no longer recognises session %d, resync required", c.session.SessionID)
	}

	if lc != nil {
		if !c.session.HasRemoteCLR {
			if err = c.syncCacheFile(ts, lc, protocol.SlotCLR); err != nil {
				c.log.Warn("cache sync failed", "slot", protocol.SlotCLR, "error", err)
			}
		}
		if !c.session.HasRemoteCDS {
			if err = c.syncCacheFile(ts, lc, protocol.SlotAggressiveCDS); err != nil {
				c.log.Warn("cache sync failed", "slot", protocol.SlotAggressiveCDS, "error", err)
			}
		}
	}

	if !c.session.HasRemoteAOT && (c.signal == nil || c.signal.IsEnded()) {
		if err = c.triggerLazyAOT(ts, data); err != nil {
			c.log.Warn("lazy-AOT trigger failed", "error", err)
		}
	}

	return ts.SendNoMoreRequests()
}

// syncCacheFile uploads one locally-cached artifact the server is missing,
// skipping silently if the local slot has nothing Generated yet.
func (c *Client) syncCacheFile(ts *stream.ClientStream, lc *LocalCache, slot protocol.CacheSlot) error {
	st := lc.Slot(slot)
	if st == nil || !st.CheckConsistency() {
		return nil
	}
	if err := ts.SendMessage(protocol.CacheFilesSyncTask, &protocol.CacheFilesSyncTaskMsg{Slot: slot}); err != nil {
		return err
	}
	return wire.SendFile(ts, uint16(protocol.FileSegment), st.Path())
}

// triggerLazyAOT drives §4.7's LazyAOTCompilationTask from the client side:
// announce the task, read should_send_classes, and only push locators (or
// abort) once the server has told us which way that CAS went.
func (c *Client) triggerLazyAOT(ts *stream.ClientStream, data ClassDataSource) error {
	if err := ts.SendMessage(protocol.LazyAOTCompilationTask, nil); err != nil {
		return err
	}

	var resp protocol.ShouldSendClassesMsg
	t, err := ts.RecvMessage(&resp)
	if err != nil {
		return err
	}
	if t != protocol.ShouldSendClasses {
		return errs.BadMsgType.Errorf("unexpected reply type %s to LazyAOTCompilationTask", t)
	}
	if !resp.Send {
		return ts.SendMessage(protocol.AbortCompilation, nil)
	}
	if data == nil {
		return ts.SendMessage(protocol.EndOfCurrentPhase, &protocol.EndOfCurrentPhaseMsg{})
	}

	if err = ts.SendMessage(protocol.ClassLoaderLocators, &protocol.ClassLoaderLocatorsMsg{Loaders: data.ClassLoaderLocators()}); err != nil {
		return err
	}
	if err = ts.SendMessage(protocol.KlassLocators, &protocol.KlassLocatorsMsg{Klasses: data.KlassLocators()}); err != nil {
		return err
	}
	if err = ts.SendMessage(protocol.MethodLocators, &protocol.MethodLocatorsMsg{Methods: data.MethodLocators()}); err != nil {
		return err
	}
	return ts.SendMessage(protocol.EndOfCurrentPhase, &protocol.EndOfCurrentPhaseMsg{})
}

// StartupSignal implements §4.8's one-shot "startup is complete" callback:
// the embedding runtime calls Fire once it observes the configured
// method's first resolution; IsEnded gates whether lazy-AOT work may be
// kicked off at shutdown. A BoosterStartupMaxTime fallback fires Fire
// automatically if the signal method is never reached (plan-B timeout).
type StartupSignal struct {
	descriptor *regexp.Regexp
	pkgClsMeth string

	ended int32
	timer *time.Timer
}

// descriptorPattern accepts either the full `pkg/Cls.method(Lsig;)R` form
// or the abbreviated `pkg/Cls.method` form §6 documents for
// BoosterStartupSignal.
var descriptorPattern = regexp.MustCompile(`^([\w/$]+)\.(\w+)(\([^)]*\).+)?$`)

// ParseStartupSignal validates and builds a StartupSignal from the
// configured descriptor string; an empty descriptor disables the
// mechanism (signal never fires except via the max-time fallback).
func ParseStartupSignal(descriptor string, maxTime time.Duration, onEnd func()) (*StartupSignal, error) {
	s := &StartupSignal{}
	if descriptor != "" {
		if !descriptorPattern.MatchString(descriptor) {
			return nil, errs.BadMsgData.Errorf("invalid startup signal descriptor %q", descriptor)
		}
		s.pkgClsMeth = descriptor
	}
	if maxTime > 0 {
		s.timer = time.AfterFunc(maxTime, func() {
			s.Fire()
			if onEnd != nil {
				onEnd()
			}
		})
	}
	return s, nil
}

// Matches reports whether a resolved method (already formatted the same
// way as the configured descriptor by the runtime embedding glue) is the
// one this signal watches for.
func (s *StartupSignal) Matches(resolvedMethod string) bool {
	return s.pkgClsMeth != "" && resolvedMethod == s.pkgClsMeth
}

// Fire flips the one-shot is_startup_end flag; safe to call more than
// once (e.g. both from the watched method and the max-time fallback
// racing), only the first call has any effect.
func (s *StartupSignal) Fire() {
	if atomic.CompareAndSwapInt32(&s.ended, 0, 1) {
		if s.timer != nil {
			s.timer.Stop()
		}
	}
}

// IsEnded reports whether Fire has been called.
func (s *StartupSignal) IsEnded() bool {
	return atomic.LoadInt32(&s.ended) != 0
}
