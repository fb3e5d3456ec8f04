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

// Package errs provides the coded error model shared by every wire, session
// and cache component: a small numeric code (mirroring the RPC error codes of
// the protocol this module speaks), a message, an optional parent and a
// captured call-site trace.
package errs

import (
	"fmt"
	"runtime"
)

// Code classifies an Error the way the wire protocol classifies a failure:
// as one of a small closed set of kinds, never as a free-form string.
type Code uint16

const (
	Unknown Code = iota
	ConnClosed
	ConnClosedByPeer
	BadMsgSize
	BadMsgType
	BadMsgData
	BadArgSize
	BadArgData
	IncompatibleRpc
	DeserTermination
	AbortCurPhase
	ThreadException
)

var codeMessage = map[Code]string{
	Unknown:           "unknown error",
	ConnClosed:        "connection has been closed",
	ConnClosedByPeer:  "connection is closed by the other end",
	BadMsgSize:        "unexpected size of the received message",
	BadMsgType:        "unexpected message type of the received message",
	BadMsgData:        "unexpected payload data of the received message",
	BadArgSize:        "unexpected size of the argument",
	BadArgData:        "unexpected payload data of the argument",
	IncompatibleRpc:   "incompatible rpc version",
	DeserTermination:  "deserialization terminated early (not an error)",
	AbortCurPhase:     "abort current communication phrase (not an error)",
	ThreadException:   "exception propagated from an external collaborator",
}

// String returns the human-readable description registered for the code, or
// the numeric value itself if none was registered.
func (c Code) String() string {
	if m, ok := codeMessage[c]; ok {
		return m
	}
	return fmt.Sprintf("code(%d)", uint16(c))
}

// Error builds a new Error carrying this code, with an optional parent chain.
func (c Code) Error(parents ...error) Error {
	return newError(c, c.String(), parents...)
}

// Errorf builds a new Error carrying this code with a formatted message
// instead of the registered default.
func (c Code) Errorf(format string, args ...interface{}) Error {
	return newError(c, fmt.Sprintf(format, args...))
}

// IsSoft reports whether the code is one of the two markers that the
// protocol treats as "stop decoding here" rather than as a failure:
// DeserTermination and AbortCurPhase never surface to a caller outside the
// argument/phase boundary that catches them.
func (c Code) IsSoft() bool {
	return c == DeserTermination || c == AbortCurPhase
}

func callerFrame(skip int) runtime.Frame {
	pc := make([]uintptr, 1)
	n := runtime.Callers(skip+2, pc)
	if n == 0 {
		return runtime.Frame{}
	}
	frame, _ := runtime.CallersFrames(pc[:n]).Next()
	return frame
}
