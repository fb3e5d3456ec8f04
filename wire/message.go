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

import (
	"encoding/binary"
	"io"

	"github.com/nabbar/boostrpc/errs"
)

// FrameHeaderSize is the size in bytes of the (size, type) frame header
// that prefixes every message: a u32 total size and a u16 message type.
const FrameHeaderSize = 6

// MinFrameSize is the smallest legal frame: the header with an empty body.
const MinFrameSize = FrameHeaderSize

// Frame is one complete (size, type, body) unit read from or written to a
// stream. Size is the whole frame's byte length, including the header.
type Frame struct {
	Type uint16
	Body []byte
}

// Encode renders f as a complete frame ready to be written to a stream.
func (f Frame) Encode() []byte {
	out := make([]byte, FrameHeaderSize+len(f.Body))
	binary.LittleEndian.PutUint32(out[0:4], uint32(FrameHeaderSize+len(f.Body)))
	binary.LittleEndian.PutUint16(out[4:6], f.Type)
	copy(out[6:], f.Body)
	return out
}

// Reader reads a sequence of frames off an io.Reader, implementing the
// "read once opportunistically, retain overflow" discipline of §4.1: a
// single underlying Read may return more than one frame's worth of bytes
// (merged writes) or less than one frame (split writes); either way,
// ReadFrame reassembles exactly one frame per call and keeps whatever is
// left over for the next call with no extra syscall when it already holds
// a complete frame.
type Reader struct {
	src io.Reader
	buf []byte // bytes read but not yet consumed by a returned Frame
}

// NewReader wraps src for frame-at-a-time reads.
func NewReader(src io.Reader) *Reader {
	return &Reader{src: src}
}

// ReadFrame returns the next complete frame, blocking on the underlying
// reader as needed. Bytes read are appended to its retained buffer; a frame
// whose size field exceeds MaxFrameSize is rejected.
func (r *Reader) ReadFrame() (Frame, error) {
	for {
		if f, ok, err := r.tryExtract(); err != nil {
			return Frame{}, err
		} else if ok {
			return f, nil
		}

		chunk := make([]byte, 64*1024)
		n, err := r.src.Read(chunk)
		if n > 0 {
			r.buf = append(r.buf, chunk[:n]...)
		}
		if err != nil {
			if n > 0 {
				// Give the freshly appended bytes one more extraction pass
				// before surfacing the read error (e.g. EOF right after the
				// peer's last frame).
				if f, ok, ferr := r.tryExtract(); ferr == nil && ok {
					return f, nil
				}
			}
			if err == io.EOF {
				return Frame{}, errs.ConnClosed.Error(err)
			}
			return Frame{}, errs.ConnClosed.Errorf("read: %v", err)
		}
	}
}

func (r *Reader) tryExtract() (Frame, bool, error) {
	if len(r.buf) < 4 {
		return Frame{}, false, nil
	}

	size := binary.LittleEndian.Uint32(r.buf[0:4])
	if size < MinFrameSize {
		return Frame{}, false, errs.BadMsgSize.Errorf("frame size %d below minimum %d", size, MinFrameSize)
	}
	if size > MaxFrameSize {
		return Frame{}, false, errs.BadMsgSize.Errorf("frame size %d exceeds cap %d", size, MaxFrameSize)
	}
	if uint32(len(r.buf)) < size {
		return Frame{}, false, nil
	}

	typ := binary.LittleEndian.Uint16(r.buf[4:6])
	body := make([]byte, size-FrameHeaderSize)
	copy(body, r.buf[FrameHeaderSize:size])

	// Retain the overflow (bytes of the next frame already read) for the
	// following call; this is the "carry" the overflow-carry property
	// exercises.
	rest := make([]byte, len(r.buf)-int(size))
	copy(rest, r.buf[size:])
	r.buf = rest

	return Frame{Type: typ, Body: body}, true, nil
}
