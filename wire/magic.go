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

package wire

import "hash/fnv"

// CompatDescriptor is exchanged once at session handshake: Magic is the
// cheap per-frame check, Label is a human-readable string folded into
// UnsupportedClient diagnostics. §9's open question flags the raw
// sizeof-based magic as brittle across compilers; this module instead
// derives Magic from a content description (the wire layout version string)
// rather than from in-process type sizes, per the suggested replacement.
type CompatDescriptor struct {
	Magic uint32
	Label string
}

// WireVersion is the content-derived description of this module's wire
// layout. Bump it whenever a frame or composite shape changes
// incompatibly.
const WireVersion = "boostrpc-wire/v1;base=le;meta=u32;null=0xFFFFFFFF"

// CurrentCompat is this build's compatibility descriptor.
var CurrentCompat = NewCompat(WireVersion)

// NewCompat derives a CompatDescriptor from a version label.
func NewCompat(label string) CompatDescriptor {
	h := fnv.New32a()
	_, _ = h.Write([]byte(label))
	return CompatDescriptor{Magic: h.Sum32(), Label: label}
}

// Compatible reports whether a peer's magic matches ours.
func (c CompatDescriptor) Compatible(peerMagic uint32) bool {
	return c.Magic == peerMagic
}
