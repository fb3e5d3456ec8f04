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

// ClientStream is the client side of a CommunicationStream.
type ClientStream struct {
	*CommunicationStream
}

// DialClientStream opens a TCP connection to addr and wraps it.
func DialClientStream(addr string) (*ClientStream, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errs.ConnClosed.Errorf("dial %s: %v", addr, err)
	}
	return &ClientStream{CommunicationStream: newCommunicationStream(conn)}, nil
}

// SessionHandshakeResult is what OpenSession returns on success.
type SessionHandshakeResult struct {
	StreamID       uint32
	ServerRandomID uint64
	SessionID      uint32
	ProgramID      uint32
	HasRemoteCLR   bool
	HasRemoteCDS   bool
	HasRemoteAOT   bool
}

// OpenSession performs the first-stream handshake of §4.2: send
// ClientSessionMeta, then expect either UnsupportedClient (closes the
// stream and returns errs.IncompatibleRpc/BadMsgData) or a successful
// SessionAcceptedMsg.
func (s *ClientStream) OpenSession(clientRandomID uint64, id identity.ProgramIdentity) (*SessionHandshakeResult, error) {
	meta := &protocol.ClientSessionMetaMsg{
		Magic:          wire.CurrentCompat.Magic,
		ClientRandomID: clientRandomID,
		Identity:       id,
	}
	if err := s.SendMessage(protocol.ClientSessionMeta, meta); err != nil {
		return nil, err
	}

	t, body, err := s.RecvAny()
	if err != nil {
		return nil, err
	}

	if t == protocol.UnsupportedClient {
		var u protocol.UnsupportedClientMsg
		_ = u.Deserialize(wire.NewBuffer(body, wire.ModeDeserialize))
		_ = s.Close()
		return nil, errs.IncompatibleRpc.Errorf("rejected by server: %s", u.Reason)
	}
	if t != protocol.ClientSessionMeta {
		_ = s.Close()
		return nil, errs.BadMsgType.Errorf("unexpected reply type %s to session handshake", t)
	}

	var accepted protocol.SessionAcceptedMsg
	if err = accepted.Deserialize(wire.NewBuffer(body, wire.ModeDeserialize)); err != nil {
		return nil, err
	}

	return &SessionHandshakeResult{
		StreamID:       accepted.StreamID,
		ServerRandomID: accepted.ServerRandomID,
		SessionID:      accepted.SessionID,
		ProgramID:      accepted.ProgramID,
		HasRemoteCLR:   accepted.HasRemoteCLR,
		HasRemoteCDS:   accepted.HasRemoteCDS,
		HasRemoteAOT:   accepted.HasRemoteAOT,
	}, nil
}

// OpenStream performs the subsequent-stream handshake of §4.2. A
// ClientSessionMetaAgain reply means the server no longer recognises the
// triple (e.g. restart); the caller must then redo OpenSession on a fresh
// stream.
func (s *ClientStream) OpenStream(sessionID uint32, clientRandomID, serverRandomID uint64) (streamID uint32, again bool, err error) {
	meta := &protocol.ClientStreamMetaMsg{
		SessionID:      sessionID,
		ClientRandomID: clientRandomID,
		ServerRandomID: serverRandomID,
	}
	if err = s.SendMessage(protocol.ClientStreamMeta, meta); err != nil {
		return 0, false, err
	}

	t, body, err := s.RecvAny()
	if err != nil {
		return 0, false, err
	}
	if t == protocol.ClientSessionMetaAgain {
		return 0, true, nil
	}
	if t != protocol.ClientStreamMeta {
		return 0, false, errs.BadMsgType.Errorf("unexpected reply type %s to stream handshake", t)
	}

	var accepted protocol.StreamAcceptedMsg
	if err = accepted.Deserialize(wire.NewBuffer(body, wire.ModeDeserialize)); err != nil {
		return 0, false, err
	}
	return accepted.StreamID, false, nil
}

// SendNoMoreRequests implements §4.2's closure discipline: a client stream
// that was not explicitly ended should send this before closing.
func (s *ClientStream) SendNoMoreRequests() error {
	return s.SendMessage(protocol.NoMoreRequests, &protocol.NoMoreRequestsMsg{Final: true})
}
