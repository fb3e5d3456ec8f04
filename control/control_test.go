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

package control_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/nabbar/boostrpc/control"
	"github.com/nabbar/boostrpc/identity"
	"github.com/nabbar/boostrpc/protocol"
	"github.com/nabbar/boostrpc/server"
	"github.com/nabbar/boostrpc/session"
	"github.com/nabbar/boostrpc/stream"
	"github.com/nabbar/boostrpc/wire"
)

type noopResolver struct{}

func (noopResolver) ResolveBoot() session.ClassLoaderHandle     { return nil }
func (noopResolver) ResolvePlatform() session.ClassLoaderHandle { return nil }
func (noopResolver) ResolveCustom(_ session.ClassLoaderKey, _ session.ClassLoaderHandle) (session.ClassLoaderHandle, error) {
	return nil, nil
}
func (noopResolver) Release(_ []session.ClassLoaderHandle) {}

func testLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{Output: io.Discard, Level: hclog.Off})
}

// connectedStreams wires up a real loopback TCP pair, returning the server
// side as a *stream.ServerStream (for Loop.Register) and the raw client-side
// net.Conn (for the test to play the daemon peer's role directly).
func connectedStreams(t *testing.T) (*stream.ServerStream, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	server := <-accepted
	return stream.NewServerStream(server), client
}

func newTestDataManager() (*server.DataManager, uint32) {
	data := server.NewDataManager(noopResolver{}, server.Timeouts{
		Heartbeat:               40 * time.Millisecond,
		SessionNoRefTimeout:      time.Hour,
		UnusedSharedDataTimeout:  time.Hour,
		HalfCleanupInterval:      time.Hour,
	})
	program := data.MatchProgram(identity.ProgramIdentity{})
	sess := data.NewSession(1, 2, program)
	sessionID := sess.Value.SessionID
	// Mirror server.Dispatcher's handshake path (dispatch.go), which always
	// releases the ref NewSession/GetOrCreate hands back once the immediate
	// caller is done with it; nothing else in this test holds a reference,
	// so DropSession's ref_count==0 gate can actually fire.
	sess.Dec()
	return data, sessionID
}

func TestLoopEvictsOnBrokenStream(t *testing.T) {
	ss, client := connectedStreams(t)
	defer client.Close()

	data, sessionID := newTestDataManager()
	loop := control.NewLoop(data, nil, testLogger())
	loop.Register(sessionID, ss)

	// Simulate a daemon stream that has already gone bad: the very first
	// heartbeat send must fail, so the loop evicts it on its first tick
	// without waiting out maxHeartbeatMisses.
	_ = ss.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	loop.Run(ctx)

	if _, ok := data.Sessions.Get(sessionID); ok {
		t.Fatalf("expected session to be evicted after a broken daemon stream")
	}
}

func TestLoopKeepsRespondingStreamAlive(t *testing.T) {
	ss, client := connectedStreams(t)
	defer ss.Close()
	defer client.Close()

	data, sessionID := newTestDataManager()
	loop := control.NewLoop(data, nil, testLogger())
	loop.Register(sessionID, ss)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r := wire.NewReader(client)
		for {
			f, err := r.ReadFrame()
			if err != nil {
				return
			}
			if protocol.MessageType(f.Type) != protocol.Heartbeat {
				return
			}
			var hb protocol.HeartbeatMsg
			if err := hb.Deserialize(wire.NewBuffer(f.Body, wire.ModeDeserialize)); err != nil {
				return
			}
			b := wire.NewBufferSize(8)
			if err := hb.Serialize(b); err != nil {
				return
			}
			reply := wire.Frame{Type: uint16(protocol.Heartbeat), Body: b.Bytes()}
			if _, err := client.Write(reply.Encode()); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	loop.Run(ctx)
	client.Close()
	<-done

	entry, ok := data.Sessions.Get(sessionID)
	if !ok {
		t.Fatalf("expected session to survive while its daemon stream answers heartbeats")
	}
	entry.Dec()
}
