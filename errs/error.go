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

package errs

import (
	"fmt"
	"runtime"
	"strings"
)

// Error is a coded error with an optional parent chain and a captured
// call-site trace. It satisfies the standard error interface and
// errors.Is/errors.As via Unwrap.
type Error interface {
	error

	// Code returns the classification of this error.
	Code() Code
	// IsCode reports whether this error (not its parents) carries code c.
	IsCode(c Code) bool
	// Add appends one or more child errors to this error's hierarchy.
	Add(children ...error)
	// Children returns the direct child errors added via Add.
	Children() []error
	// File and Line return the call site where the error was constructed.
	File() string
	Line() int
	// Unwrap exposes the first child, for errors.Is/errors.As chaining.
	Unwrap() error
}

type ers struct {
	c Code
	m string
	p []error
	f runtime.Frame
}

func newError(c Code, msg string, parents ...error) Error {
	return &ers{
		c: c,
		m: msg,
		p: parents,
		f: callerFrame(2),
	}
}

func (e *ers) Error() string {
	s := strings.Builder{}
	s.WriteString(e.m)
	for _, p := range e.p {
		if p == nil {
			continue
		}
		s.WriteString(": ")
		s.WriteString(p.Error())
	}
	return s.String()
}

func (e *ers) Code() Code {
	return e.c
}

func (e *ers) IsCode(c Code) bool {
	return e.c == c
}

func (e *ers) Add(children ...error) {
	for _, c := range children {
		if c != nil {
			e.p = append(e.p, c)
		}
	}
}

func (e *ers) Children() []error {
	return e.p
}

func (e *ers) File() string {
	return e.f.File
}

func (e *ers) Line() int {
	return e.f.Line
}

func (e *ers) Unwrap() error {
	if len(e.p) == 0 {
		return nil
	}
	return e.p[0]
}

// Is reports two coded errors equal when they carry the same Code, so that
// errors.Is(err, SomeCode.Error()) works regardless of message or trace.
func (e *ers) Is(target error) bool {
	if o, ok := target.(*ers); ok {
		return e.c == o.c
	}
	return false
}

// String renders the error with its code name and call site, useful for
// the single-line stream-level log entries mandated by the propagation
// policy (error_name, error_message, session_id, stream_id).
func (e *ers) String() string {
	return fmt.Sprintf("%s: %s (%s:%d)", e.c.String(), e.Error(), e.f.File, e.f.Line)
}
