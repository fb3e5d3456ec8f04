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
	"context"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/nabbar/boostrpc/cachestate"
	"github.com/nabbar/boostrpc/compiler"
	"github.com/nabbar/boostrpc/identity"
	"github.com/nabbar/boostrpc/metrics"
	"github.com/nabbar/boostrpc/protocol"
	"github.com/nabbar/boostrpc/session"
	"github.com/nabbar/boostrpc/stream"
	"github.com/nabbar/boostrpc/wire"
)

// newServerRandomID folds a fresh uuid into the uint64 nonce space the
// handshake messages carry, giving server_random_id the same unguessability
// a client's own random id has without reaching for a package-global PRNG.
func newServerRandomID() uint64 {
	id := uuid.New()
	return binary.LittleEndian.Uint64(id[:8])
}

// Dispatcher wires a Listener's accepted streams into the data manager, the
// compiler driver and the on-disk cache directory: one value implements the
// full connection lifecycle of §4.5/§4.7.
type Dispatcher struct {
	Data     *DataManager
	Driver   compiler.Driver
	CacheDir string
	Identity identity.ProgramIdentity
	Log      hclog.Logger
	Metrics  *metrics.Metrics

	// ReceiveWait bounds how long a contended CacheFilesSyncTask waits for a
	// sibling producer to finish before giving up (§4.4/§8).
	ReceiveWait time.Duration

	// OnDaemonStream, if set, receives a stream whose ownership has just
	// been transferred away from this dispatch loop for a ClientDaemonTask
	// (§4.5/§5): the control loop's heartbeat/eviction sweep takes it from
	// here.
	OnDaemonStream func(sessionID uint32, s *stream.ServerStream)
}

// NewDispatcher builds a Dispatcher with ReceiveWait defaulted to
// wire.DefaultWaitForTarget.
func NewDispatcher(data *DataManager, driver compiler.Driver, cacheDir string, serverIdentity identity.ProgramIdentity, log hclog.Logger) *Dispatcher {
	return &Dispatcher{
		Data:        data,
		Driver:      driver,
		CacheDir:    cacheDir,
		Identity:    serverIdentity,
		Log:         log,
		ReceiveWait: wire.DefaultWaitForTarget,
	}
}

// Handle is a Listener.Handler: it reads the very first frame generically,
// since a fresh connection may open either a new session (ClientSessionMeta)
// or resume one (ClientStreamMeta) after a stale-reconnect, then branches.
func (d *Dispatcher) Handle(ctx context.Context, s *stream.ServerStream) {
	t, body, err := s.RecvAny()
	if err != nil {
		d.Log.Debug("stream ended before handshake", "error", err)
		_ = s.Close()
		return
	}

	switch t {
	case protocol.ClientSessionMeta:
		d.handleFirstStream(ctx, s, body)
	case protocol.ClientStreamMeta:
		d.handleSubsequentStream(ctx, s, body)
	default:
		d.Log.Warn("unexpected first frame", "type", t)
		_ = s.Close()
	}
}

func (d *Dispatcher) handleFirstStream(ctx context.Context, s *stream.ServerStream, body []byte) {
	meta, err := stream.DecodeSessionMeta(body)
	if err != nil {
		_ = s.Close()
		return
	}

	id, clientRandomID, err := s.ValidateSessionMeta(meta, stream.DefaultPolicy(d.Identity))
	if err != nil {
		// ValidateSessionMeta has already sent UnsupportedClient and closed
		// the stream.
		return
	}

	program := d.Data.MatchProgram(id)
	sessionEntry := d.Data.NewSession(clientRandomID, newServerRandomID(), program)
	sd := sessionEntry.Value
	pd := program.Value

	reply := &protocol.SessionAcceptedMsg{
		StreamID:       s.StreamID,
		ServerRandomID: sd.ServerRandomID,
		SessionID:      sd.SessionID,
		ProgramID:      pd.ProgramID,
		HasRemoteCLR:   pd.Slot(protocol.SlotCLR).Phase() == cachestate.Generated,
		HasRemoteCDS:   pd.Slot(protocol.SlotAggressiveCDS).Phase() == cachestate.Generated || pd.Slot(protocol.SlotDynamicCDS).Phase() == cachestate.Generated,
		HasRemoteAOT:   pd.Slot(protocol.SlotAOTStatic).Phase() == cachestate.Generated,
	}
	if err = s.AcceptSessionReply(reply); err != nil {
		sessionEntry.Dec()
		d.Data.DropSession(sd.SessionID)
		return
	}

	if !d.runInitialCachePhase(s, pd) {
		sessionEntry.Dec()
		d.Data.DropSession(sd.SessionID)
		return
	}

	d.dispatchLoop(ctx, s, sessionEntry, sd, pd)
}

func (d *Dispatcher) handleSubsequentStream(ctx context.Context, s *stream.ServerStream, body []byte) {
	meta, err := stream.DecodeStreamMeta(body)
	if err != nil {
		_ = s.Close()
		return
	}

	entry, ok := d.Data.Sessions.Get(meta.SessionID)
	if !ok || entry.Value.ClientRandomID != meta.ClientRandomID || entry.Value.ServerRandomID != meta.ServerRandomID {
		_ = s.RejectStreamStale()
		return
	}

	if err = s.AcceptStreamReply(s.StreamID); err != nil {
		entry.Dec()
		return
	}

	sd := entry.Value
	pd := sd.Program.Value
	d.dispatchLoop(ctx, s, entry, sd, pd)
}

// runInitialCachePhase serves the up-to-three post-handshake sub-requests a
// client may issue on its first stream before the general dispatch loop
// begins: GetClassLoaderResourceCache, GetAggressiveCDSCache and
// GetLazyAOTCache, each optional, terminated by EndOfCurrentPhase (§4.7).
func (d *Dispatcher) runInitialCachePhase(s *stream.ServerStream, pd *session.ProgramData) bool {
	for i := 0; i < 3; i++ {
		t, _, err := s.RecvAny()
		if err != nil {
			return false
		}

		var slot protocol.CacheSlot
		var replyType protocol.MessageType
		switch t {
		case protocol.EndOfCurrentPhase:
			return true
		case protocol.GetClassLoaderResourceCache:
			slot, replyType = protocol.SlotCLR, protocol.CacheClassLoaderResource
		case protocol.GetAggressiveCDSCache:
			slot, replyType = protocol.SlotAggressiveCDS, protocol.CacheAggressiveCDS
		case protocol.GetLazyAOTCache:
			slot, replyType = protocol.SlotAOTStatic, protocol.FileSegment
		default:
			return false
		}

		if err = d.serveCacheSlot(s, pd, slot, replyType); err != nil {
			d.Log.Warn("failed serving cache slot", "slot", slot, "error", err)
			return false
		}
	}
	// Three sub-requests is the most the post-handshake phase ever defines;
	// a well-behaved client still sends EndOfCurrentPhase to close it.
	t, _, err := s.RecvAny()
	return err == nil && t == protocol.EndOfCurrentPhase
}

func (d *Dispatcher) serveCacheSlot(s *stream.ServerStream, pd *session.ProgramData, slot protocol.CacheSlot, replyType protocol.MessageType) error {
	st := pd.Slot(slot)
	if !st.Allowed || !st.CheckConsistency() {
		if d.Metrics != nil {
			d.Metrics.CacheMisses.Inc()
		}
		return wire.SendFile(s, uint16(replyType), "")
	}
	if d.Metrics != nil {
		d.Metrics.CacheHits.Inc()
	}
	return wire.SendFile(s, uint16(replyType), st.Path())
}

// dispatchLoop drives the per-MessageType loop of §4.7 for every stream
// after its handshake: heartbeat echo, clean close, cache population and
// lazy AOT compilation, and ownership transfer for a daemon stream.
func (d *Dispatcher) dispatchLoop(ctx context.Context, s *stream.ServerStream, entry *session.Entry[*session.SessionData], sd *session.SessionData, pd *session.ProgramData) {
	defer entry.Dec()

	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		default:
		}

		t, body, err := s.RecvAny()
		if err != nil {
			return
		}

		switch t {
		case protocol.NoMoreRequests:
			_ = s.Close()
			return

		case protocol.Heartbeat:
			var hb protocol.HeartbeatMsg
			if derr := hb.Deserialize(wire.NewBuffer(body, wire.ModeDeserialize)); derr != nil {
				return
			}
			if serr := s.SendMessage(protocol.Heartbeat, &hb); serr != nil {
				return
			}

		case protocol.CacheFilesSyncTask:
			if !d.handleCacheFilesSyncTask(s, pd, body) {
				return
			}

		case protocol.LazyAOTCompilationTask:
			if !d.handleLazyAOTCompilationTask(ctx, s, sd, pd) {
				return
			}

		case protocol.ClientDaemonTask:
			s.TransferOwnership()
			if d.OnDaemonStream != nil {
				d.OnDaemonStream(sd.SessionID, s)
			}
			return

		default:
			d.Log.Debug("unhandled message type in dispatch loop", "type", t)
		}
	}
}

func (d *Dispatcher) handleCacheFilesSyncTask(s *stream.ServerStream, pd *session.ProgramData, body []byte) bool {
	var req protocol.CacheFilesSyncTaskMsg
	if err := req.Deserialize(wire.NewBuffer(body, wire.ModeDeserialize)); err != nil {
		return false
	}

	st := pd.Slot(req.Slot)
	if !st.Allowed {
		return false
	}

	path := pd.SlotPath(d.CacheDir, req.Slot)
	if !st.BeginGeneration(path) {
		return true
	}

	err := wire.ReceiveFile(s, path, d.ReceiveWait)
	switch {
	case err == nil:
		if perr := st.Publish(path); perr != nil {
			d.Log.Warn("publish cache slot failed", "slot", req.Slot, "error", perr)
		}
		return true
	case err == wire.ErrNoSuchFile:
		st.Abort()
		return true
	default:
		st.Abort()
		d.Log.Warn("receive cache file failed", "slot", req.Slot, "error", err)
		return false
	}
}

// handleLazyAOTCompilationTask answers the should_send_classes question
// first (§4.7 step 1: CAS the target slot before reading anything else),
// then, only if the CAS won, gathers the class-loader, class and method
// locators a compile request needs, invokes the compiler driver, and
// reports the outcome.
func (d *Dispatcher) handleLazyAOTCompilationTask(ctx context.Context, s *stream.ServerStream, sd *session.SessionData, pd *session.ProgramData) bool {
	pgo := pd.Identity.EnablePGO
	cacheSlot := protocol.SlotAOTStatic
	if pgo {
		cacheSlot = protocol.SlotAOTPGO
	}
	slot := pd.Slot(cacheSlot)
	outputPath := pd.SlotPath(d.CacheDir, cacheSlot)

	begun := slot.BeginGeneration(outputPath)
	if err := s.SendMessage(protocol.ShouldSendClasses, &protocol.ShouldSendClassesMsg{Send: begun}); err != nil {
		return false
	}
	if !begun {
		return true
	}

	req := compiler.Request{
		SessionID:  sd.SessionID,
		OutputPath: outputPath,
		PGO:        pgo,
	}

	classByAddress := map[uint64]compiler.ClassRef{}

	for {
		t, body, err := s.RecvAny()
		if err != nil {
			return false
		}

		buf := wire.NewBuffer(body, wire.ModeDeserialize)
		switch t {
		case protocol.ClassLoaderLocators:
			var m protocol.ClassLoaderLocatorsMsg
			if err = m.Deserialize(buf); err != nil {
				return false
			}
			// Class-loader reconstruction itself happens lazily inside the
			// runtime's own resolve path; this dispatcher only needs the
			// locators to have been received before the class list.

		case protocol.KlassLocators:
			var m protocol.KlassLocatorsMsg
			if err = m.Deserialize(buf); err != nil {
				return false
			}
			for _, k := range m.Klasses {
				token := newServerRandomID()
				sd.Klasses.Bind(k.ClientAddress, token)
				ref := compiler.ClassRef{Name: k.Name, ServerToken: token}
				classByAddress[k.ClientAddress] = ref
				req.Classes = append(req.Classes, ref)
			}

		case protocol.MethodLocators:
			var m protocol.MethodLocatorsMsg
			if err = m.Deserialize(buf); err != nil {
				return false
			}
			for _, ml := range m.Methods {
				class := classByAddress[ml.ClassAddress]
				mr := compiler.MethodRef{Class: class, Name: ml.Name, Signature: ml.Signature}
				if ml.ToCompile {
					req.MethodsToCompile = append(req.MethodsToCompile, mr)
				} else {
					req.MethodsNotCompile = append(req.MethodsNotCompile, mr)
				}
			}

		case protocol.DataOfClassLoaders, protocol.DataOfKlasses, protocol.ProfilingInfo, protocol.AOTRelatedClassNames:
			var m protocol.BlobArrayMsg
			if err = m.Deserialize(buf); err != nil {
				return false
			}
			req.ResolveExtras = req.ResolveExtras || len(m.Items) > 0

		case protocol.ArrayKlasses:
			var m protocol.BlobArrayMsg
			if err = m.Deserialize(buf); err != nil {
				return false
			}
			return d.runCompilation(ctx, s, slot, req)

		case protocol.AbortCompilation:
			slot.Abort()
			return true

		case protocol.EndOfCurrentPhase:
			return d.runCompilation(ctx, s, slot, req)

		default:
			return false
		}
	}
}

// runCompilation invokes the compiler driver and reports the outcome. The
// slot's generation CAS has already been won by the caller (§4.7 step 1);
// this only ever aborts or publishes it.
func (d *Dispatcher) runCompilation(ctx context.Context, s *stream.ServerStream, slot *cachestate.State, req compiler.Request) bool {
	result, err := d.Driver.Compile(ctx, req)
	if err != nil {
		slot.Abort()
		if d.Metrics != nil {
			d.Metrics.CompileFailures.Inc()
		}
		_ = s.SendMessage(protocol.CompilationFailure, &protocol.CompilationFailureMsg{Reason: err.Error()})
		return true
	}

	if err = slot.Publish(result.ArtifactPath); err != nil {
		if d.Metrics != nil {
			d.Metrics.CompileFailures.Inc()
		}
		_ = s.SendMessage(protocol.CompilationFailure, &protocol.CompilationFailureMsg{Reason: err.Error()})
		return true
	}

	if err = wire.SendFile(s, uint16(protocol.AOTCompilationResult), result.ArtifactPath); err != nil {
		return false
	}
	return true
}
