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

import "errors"

// ErrDeserTermination is the soft marker a composite deserializer returns to
// mean "stop decoding this argument here, the frame is still well-formed".
// The outer reader must catch it at the argument boundary, advance the
// cursor to the argument end, and continue — it must never reach a caller.
var ErrDeserTermination = DeserTermination.Error()

// ErrAbortCurPhase is the soft marker a handler returns to unwind an entire
// task phase cleanly, without treating it as a failure.
var ErrAbortCurPhase = AbortCurPhase.Error()

// IsSoft reports whether err (or anything it wraps) is one of the
// soft markers that must be caught at a phase/argument boundary rather
// than propagated as a fatal error.
func IsSoft(err error) bool {
	return errors.Is(err, ErrDeserTermination) || errors.Is(err, ErrAbortCurPhase)
}

// As reports whether err is (or wraps) an Error, returning the concrete value.
func As(err error) (Error, bool) {
	var e Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
