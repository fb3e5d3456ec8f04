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

// Package stream implements CommunicationStream and its client/server
// specializations (§4.2): the per-connection framed message pump, the
// session/stream handshake, and the NoMoreRequests closure discipline.
package stream

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/nabbar/boostrpc/errs"
	"github.com/nabbar/boostrpc/protocol"
	"github.com/nabbar/boostrpc/wire"
)

var streamSeq uint32

func nextStreamID() uint32 { return atomic.AddUint32(&streamSeq, 1) }

// owner models §4.2's "bound thread identity" / thread-affinity assertion.
// Go intentionally has no public goroutine-id API, so ownership here is an
// explicit logical token acquired by whichever goroutine currently drives
// the stream, rather than an OS thread id — the same contract (operations
// from a non-owner are a programming error caught at debug time), expressed
// the idiomatic Go way instead of inspecting runtime internals.
type owner struct {
	token atomic.Value // holds a *int, nil means unowned
}

func (o *owner) acquire() *int {
	tok := new(int)
	o.token.Store(tok)
	return tok
}

func (o *owner) assert(tok *int) {
	cur, _ := o.token.Load().(*int)
	if cur != tok {
		panic("stream: operation from a goroutine that does not own this stream")
	}
}

func (o *owner) transferTo(tok *int) {
	o.token.Store(tok)
}

// CommunicationStream is the shared base of ClientStream and ServerStream:
// one TCP connection, its framed reader/writer, a stream id, and a closed
// flag (§4.2).
type CommunicationStream struct {
	conn     net.Conn
	reader   *wire.Reader
	StreamID uint32

	closed int32
	lastErr atomic.Value // error

	own owner
	tok *int
}

func newCommunicationStream(conn net.Conn) *CommunicationStream {
	s := &CommunicationStream{
		conn:   conn,
		reader: wire.NewReader(conn),
	}
	s.tok = s.own.acquire()
	return s
}

// Acquire marks the calling goroutine as the current owner, per §4.2's
// thread-affinity rule; call once per goroutine that will drive the stream
// before any Send/Recv.
func (s *CommunicationStream) Acquire() {
	s.tok = s.own.acquire()
}

// TransferOwnership hands the stream off to a different logical owner
// (e.g. listener worker -> control thread for a ClientDaemonTask stream,
// §4.5/§5). After this call the caller must not touch the stream again.
func (s *CommunicationStream) TransferOwnership() {
	s.own.transferTo(nil) // invalidate the old token; new owner calls Acquire
}

func (s *CommunicationStream) assertOwner() {
	s.own.assert(s.tok)
}

// Closed reports whether the stream has been closed.
func (s *CommunicationStream) Closed() bool {
	return atomic.LoadInt32(&s.closed) != 0
}

// LastError returns the last error recorded on this stream, if any.
func (s *CommunicationStream) LastError() error {
	e, _ := s.lastErr.Load().(error)
	return e
}

func (s *CommunicationStream) record(err error) error {
	if err != nil {
		s.lastErr.Store(err)
	}
	return err
}

// SetDeadline arms the underlying connection's combined read/write deadline
// d from now, used by the control loop to bound a heartbeat round-trip on a
// daemon stream (§4.6).
func (s *CommunicationStream) SetDeadline(d time.Duration) error {
	return s.conn.SetDeadline(time.Now().Add(d))
}

// Close closes the underlying connection. Idempotent.
func (s *CommunicationStream) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	return s.conn.Close()
}

// WriteFrame implements wire.FrameWriter, so FileWrapper transfers can ride
// directly on a stream.
func (s *CommunicationStream) WriteFrame(f wire.Frame) error {
	s.assertOwner()
	if s.Closed() {
		return errs.ConnClosed.Error()
	}
	_, err := s.conn.Write(f.Encode())
	if err != nil {
		return s.record(errs.ConnClosed.Errorf("write frame: %v", err))
	}
	return nil
}

// ReadFrame implements wire.FrameReader.
func (s *CommunicationStream) ReadFrame() (wire.Frame, error) {
	s.assertOwner()
	f, err := s.reader.ReadFrame()
	if err != nil {
		return wire.Frame{}, s.record(err)
	}
	return f, nil
}

// SendMessage serializes msg into a fresh buffer and writes it as a single
// typed frame.
func (s *CommunicationStream) SendMessage(t protocol.MessageType, msg wire.Serializable) error {
	b := wire.NewBufferSize(256)
	if msg != nil {
		if err := msg.Serialize(b); err != nil {
			return err
		}
	}
	return s.WriteFrame(wire.Frame{Type: uint16(t), Body: b.Bytes()})
}

// RecvMessage reads one frame and deserializes it into msg (or discards the
// body if msg is nil, e.g. for zero-payload message types).
func (s *CommunicationStream) RecvMessage(msg wire.Serializable) (protocol.MessageType, error) {
	t, body, err := s.RecvAny()
	if err != nil {
		return t, err
	}
	if msg != nil {
		b := wire.NewBuffer(body, wire.ModeDeserialize)
		if err = msg.Deserialize(b); err != nil {
			return t, err
		}
	}
	return t, nil
}

// RecvAny reads one frame and returns its type and raw body, letting the
// caller pick which concrete message shape to deserialize into based on
// the type — necessary whenever a reply may legally be one of several
// message shapes (e.g. a handshake's success/failure replies).
func (s *CommunicationStream) RecvAny() (protocol.MessageType, []byte, error) {
	f, err := s.ReadFrame()
	if err != nil {
		return 0, nil, err
	}
	t := protocol.MessageType(f.Type)
	if !t.Valid() {
		return t, nil, s.record(errs.BadMsgType.Errorf("unknown message type %d", f.Type))
	}
	return t, f.Body, nil
}
