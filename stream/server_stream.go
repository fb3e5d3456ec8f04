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

package stream

import (
	"net"

	"github.com/nabbar/boostrpc/errs"
	"github.com/nabbar/boostrpc/identity"
	"github.com/nabbar/boostrpc/protocol"
	"github.com/nabbar/boostrpc/wire"
)

// ServerStream is the server side of a CommunicationStream.
type ServerStream struct {
	*CommunicationStream
}

// NewServerStream wraps an accepted connection.
func NewServerStream(conn net.Conn) *ServerStream {
	return &ServerStream{CommunicationStream: newCommunicationStream(conn)}
}

// PolicyCheck is the server's program-identity policy gate run at session
// handshake (§4.2: "cpu-arch, runtime-version, runtime build-info, and
// UseG1GC=true must agree"). It returns a rejection reason, or "" if the
// identity is acceptable.
type PolicyCheck func(id identity.ProgramIdentity) (reason string)

// DefaultPolicy implements the exact rule §4.2 names.
func DefaultPolicy(server identity.ProgramIdentity) PolicyCheck {
	return func(id identity.ProgramIdentity) string {
		if id.Arch != server.Arch {
			return "cpu architecture mismatch"
		}
		if id.RuntimeVersion != server.RuntimeVersion {
			return "runtime version mismatch"
		}
		if id.RuntimeBuildInfo != server.RuntimeBuildInfo {
			return "runtime build info mismatch"
		}
		if !id.Flags.UseG1GC {
			return "UseG1GC is required"
		}
		return ""
	}
}

// AcceptSession reads the first-stream ClientSessionMeta, validates the
// magic and the identity policy, and replies accordingly. On success it
// returns the parsed identity and the client's random id so the caller
// (the server's connection dispatcher) can install/locate the matching
// ProgramData and build a SessionData, then send SessionAcceptedMsg itself
// via Accept.
func (s *ServerStream) AcceptSession(policy PolicyCheck) (id identity.ProgramIdentity, clientRandomID uint64, err error) {
	t, body, err := s.RecvAny()
	if err != nil {
		return id, 0, err
	}
	if t != protocol.ClientSessionMeta {
		return id, 0, errs.BadMsgType.Errorf("expected ClientSessionMeta, got %s", t)
	}
	meta, err := DecodeSessionMeta(body)
	if err != nil {
		return id, 0, err
	}
	return s.ValidateSessionMeta(meta, policy)
}

// DecodeSessionMeta parses a ClientSessionMeta body, for callers (such as
// the connection dispatcher) that must read the first frame generically
// before knowing whether it is a session or a stream handshake.
func DecodeSessionMeta(body []byte) (protocol.ClientSessionMetaMsg, error) {
	var meta protocol.ClientSessionMetaMsg
	err := meta.Deserialize(wire.NewBuffer(body, wire.ModeDeserialize))
	return meta, err
}

// ValidateSessionMeta runs the magic and identity-policy checks of §4.2 on
// an already-decoded ClientSessionMetaMsg, sending UnsupportedClient and
// closing the stream on failure.
func (s *ServerStream) ValidateSessionMeta(meta protocol.ClientSessionMetaMsg, policy PolicyCheck) (id identity.ProgramIdentity, clientRandomID uint64, err error) {
	if !wire.CurrentCompat.Compatible(meta.Magic) {
		_ = s.RejectSession("RPC version")
		return id, 0, errs.IncompatibleRpc.Error()
	}
	if policy != nil {
		if reason := policy(meta.Identity); reason != "" {
			_ = s.RejectSession(reason)
			return id, 0, errs.BadMsgData.Errorf("rejected client identity: %s", reason)
		}
	}
	return meta.Identity, meta.ClientRandomID, nil
}

// RejectSession sends UnsupportedClient and closes the stream, per §4.2.
func (s *ServerStream) RejectSession(reason string) error {
	err := s.SendMessage(protocol.UnsupportedClient, &protocol.UnsupportedClientMsg{Reason: reason})
	_ = s.Close()
	return err
}

// AcceptSessionReply sends the successful handshake reply, reusing the
// ClientSessionMeta type tag for the response per this module's convention
// of pairing one type with both directions of a handshake step.
func (s *ServerStream) AcceptSessionReply(reply *protocol.SessionAcceptedMsg) error {
	return s.SendMessage(protocol.ClientSessionMeta, reply)
}

// AcceptStream reads a subsequent-stream ClientStreamMeta. The caller
// checks the (session_id, client_random_id, server_random_id) triple
// against its SessionData registry; if it does not match, call
// RejectStreamStale, otherwise AcceptStreamReply.
func (s *ServerStream) AcceptStream() (meta protocol.ClientStreamMetaMsg, err error) {
	t, body, err := s.RecvAny()
	if err != nil {
		return meta, err
	}
	if t != protocol.ClientStreamMeta {
		return meta, errs.BadMsgType.Errorf("expected ClientStreamMeta, got %s", t)
	}
	return DecodeStreamMeta(body)
}

// DecodeStreamMeta parses a ClientStreamMeta body, for callers that already
// read the first frame generically via RecvAny.
func DecodeStreamMeta(body []byte) (protocol.ClientStreamMetaMsg, error) {
	var meta protocol.ClientStreamMetaMsg
	err := meta.Deserialize(wire.NewBuffer(body, wire.ModeDeserialize))
	return meta, err
}

// RejectStreamStale sends ClientSessionMetaAgain, forcing the client to
// redo the full session handshake (§4.2/§8 "stale reconnect").
func (s *ServerStream) RejectStreamStale() error {
	return s.SendMessage(protocol.ClientSessionMetaAgain, nil)
}

// AcceptStreamReply sends the successful stream-handshake reply.
func (s *ServerStream) AcceptStreamReply(streamID uint32) error {
	return s.SendMessage(protocol.ClientStreamMeta, &protocol.StreamAcceptedMsg{StreamID: streamID})
}
