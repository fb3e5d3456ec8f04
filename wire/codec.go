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
	"github.com/nabbar/boostrpc/errs"
)

// Serializable is implemented by every type that can be written to and read
// back from a Buffer. Nested composites are expected to use SerializeMeta /
// DeserializeMeta so a receiver can skip unknown or oversized arguments
// forward-compatibly.
type Serializable interface {
	Serialize(b *Buffer) error
	Deserialize(b *Buffer) error
}

// SerializeFunc/DeserializeFunc let call sites pass closures instead of
// defining a named type, for one-off composite fields.
type SerializeFunc func(b *Buffer) error
type DeserializeFunc func(b *Buffer) error

// SerializeMeta emits the composite "with meta" envelope: NullPtr if write
// is nil, otherwise a u32 arg_size (not including the 4-byte meta) followed
// by whatever write appends to the buffer.
func SerializeMeta(b *Buffer, write SerializeFunc) error {
	if write == nil {
		b.WriteUint32(NullPtr)
		return nil
	}

	sizeOff := b.off
	b.WriteUint32(0) // placeholder, patched below
	start := b.off

	if err := write(b); err != nil {
		return err
	}

	argSize := uint32(b.off - start)
	binaryPatchUint32(b.b, sizeOff, argSize)
	return nil
}

func binaryPatchUint32(buf []byte, off int, v uint32) {
	buf[off] = byte(v)
	buf[off+1] = byte(v >> 8)
	buf[off+2] = byte(v >> 16)
	buf[off+3] = byte(v >> 24)
}

// DeserializeMeta reads the "with meta" envelope and invokes read with a
// cursor positioned at the start of the argument payload. Per the protocol:
//   - a NullPtr arg_size means absent; read is not invoked.
//   - if read consumes fewer bytes than arg_size and returns
//     errs.ErrDeserTermination, the cursor is advanced to the argument end
//     and the soft marker is swallowed (not an error).
//   - if read consumes more bytes than arg_size, BadArgSize is returned.
func DeserializeMeta(b *Buffer, read DeserializeFunc) error {
	argSize, err := b.ReadUint32()
	if err != nil {
		return err
	}
	if argSize == NullPtr {
		return nil
	}

	start := b.off
	end := start + int(argSize)
	if end > len(b.b) {
		return errs.BadArgSize.Errorf("argument end %d exceeds buffer length %d", end, len(b.b))
	}

	if read != nil {
		if rerr := read(b); rerr != nil {
			if errs.IsSoft(rerr) {
				if b.off > end {
					return errs.BadArgSize.Errorf("argument overran its declared size after soft termination")
				}
				return b.Seek(end)
			}
			return rerr
		}
	}

	if b.off < end {
		// Under-consumption without an explicit soft marker is tolerated the
		// same way: skip the remainder so future arguments stay aligned.
		return b.Seek(end)
	}
	if b.off > end {
		return errs.BadArgSize.Errorf("argument consumed %d bytes, declared size was %d", b.off-start, argSize)
	}
	return nil
}
