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

// Package wire implements the binary framing and serialization layer shared
// by every client/server stream: the (size, type, body) frame, the
// little-endian aligned base-type codec, and the composite "with meta"
// codec used by every nested wrapper type.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/nabbar/boostrpc/errs"
)

// NullPtr is the wire sentinel for "no value" in composite/meta-prefixed
// fields, mirroring the protocol's NULL_PTR.
const NullPtr uint32 = 0xFFFFFFFF

// MaxFrameSize caps a single frame's size field, protecting a receiver from
// unbounded buffer growth on a hostile or corrupt peer.
const MaxFrameSize = 2 << 30 // 2 GiB

// Mode records which direction(s) a Buffer is used for. It is stored on the
// buffer and shown by String; no read or write method checks it.
type Mode uint8

const (
	ModeSerialize Mode = 1 << iota
	ModeDeserialize
)

const ModeBoth = ModeSerialize | ModeDeserialize

// Buffer is a growable byte arena with a cursor, equivalent to the
// protocol's MessageBuffer. Base-type writes/reads advance the cursor by
// pad(cursor, sizeof(T)) + sizeof(T) so that multi-byte values always land
// on a naturally aligned offset, exactly like the native C++ struct layout
// this wire format was derived from.
type Buffer struct {
	b    []byte
	off  int
	mode Mode
}

// NewBuffer wraps an existing byte slice for deserialization.
func NewBuffer(data []byte, mode Mode) *Buffer {
	return &Buffer{b: data, mode: mode}
}

// NewBufferSize allocates an empty buffer pre-sized for serialization.
func NewBufferSize(size int) *Buffer {
	return &Buffer{b: make([]byte, 0, size), mode: ModeSerialize}
}

// Bytes returns the buffer's current contents.
func (b *Buffer) Bytes() []byte {
	return b.b
}

// Len returns the number of bytes currently held by the buffer.
func (b *Buffer) Len() int {
	return len(b.b)
}

// Offset returns the current read/write cursor.
func (b *Buffer) Offset() int {
	return b.off
}

// Remaining returns how many bytes are left to read before the cursor
// reaches the end of the buffer.
func (b *Buffer) Remaining() int {
	return len(b.b) - b.off
}

// Reset rewinds the cursor to the start without discarding capacity.
func (b *Buffer) Reset() {
	b.off = 0
}

// Seek moves the cursor to an absolute offset, used by the "with meta"
// codec to skip forward-compatibly over an oversized or unknown argument.
func (b *Buffer) Seek(off int) error {
	if off < 0 || off > len(b.b) {
		return errs.BadArgSize.Errorf("seek offset %d out of range [0,%d]", off, len(b.b))
	}
	b.off = off
	return nil
}

func pad(cursor, size int) int {
	if size <= 1 {
		return 0
	}
	if m := cursor % size; m != 0 {
		return size - m
	}
	return 0
}

func (b *Buffer) grow(n int) {
	need := b.off + n
	if need <= len(b.b) {
		return
	}
	if need <= cap(b.b) {
		b.b = b.b[:need]
		return
	}
	nb := make([]byte, need, nextPow2(need))
	copy(nb, b.b)
	b.b = nb
}

func nextPow2(n int) int {
	if n <= 0 {
		return 0
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// writeAligned writes raw bytes at the current cursor after applying
// alignment padding for a value of the given natural size, then advances
// the cursor past the written bytes.
func (b *Buffer) writeAligned(size int, write func(dst []byte)) {
	p := pad(b.off, size)
	b.grow(p + size)
	b.off += p
	write(b.b[b.off : b.off+size])
	b.off += size
}

func (b *Buffer) readAligned(size int) ([]byte, error) {
	p := pad(b.off, size)
	if b.off+p+size > len(b.b) {
		return nil, errs.BadMsgSize.Errorf("short read: need %d bytes at %d, have %d", size, b.off+p, len(b.b))
	}
	b.off += p
	v := b.b[b.off : b.off+size]
	b.off += size
	return v, nil
}

// WriteUint8 writes a single byte; no alignment padding is needed.
func (b *Buffer) WriteUint8(v uint8) {
	b.grow(1)
	b.b[b.off] = v
	b.off++
}

// ReadUint8 reads a single byte.
func (b *Buffer) ReadUint8() (uint8, error) {
	if b.off+1 > len(b.b) {
		return 0, errs.BadMsgSize.Errorf("short read: need 1 byte at %d, have %d", b.off, len(b.b))
	}
	v := b.b[b.off]
	b.off++
	return v, nil
}

// WriteBool writes a boolean as a single byte (0 or 1).
func (b *Buffer) WriteBool(v bool) {
	if v {
		b.WriteUint8(1)
	} else {
		b.WriteUint8(0)
	}
}

// ReadBool reads a boolean encoded as a single byte.
func (b *Buffer) ReadBool() (bool, error) {
	v, err := b.ReadUint8()
	return v != 0, err
}

// WriteUint16 writes a little-endian uint16 at a 2-byte aligned offset.
func (b *Buffer) WriteUint16(v uint16) {
	b.writeAligned(2, func(dst []byte) { binary.LittleEndian.PutUint16(dst, v) })
}

// ReadUint16 reads a little-endian uint16 from a 2-byte aligned offset.
func (b *Buffer) ReadUint16() (uint16, error) {
	v, err := b.readAligned(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(v), nil
}

// WriteUint32 writes a little-endian uint32 at a 4-byte aligned offset.
func (b *Buffer) WriteUint32(v uint32) {
	b.writeAligned(4, func(dst []byte) { binary.LittleEndian.PutUint32(dst, v) })
}

// ReadUint32 reads a little-endian uint32 from a 4-byte aligned offset.
func (b *Buffer) ReadUint32() (uint32, error) {
	v, err := b.readAligned(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(v), nil
}

// WriteInt32 writes a little-endian int32 at a 4-byte aligned offset.
func (b *Buffer) WriteInt32(v int32) {
	b.WriteUint32(uint32(v))
}

// ReadInt32 reads a little-endian int32 from a 4-byte aligned offset.
func (b *Buffer) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return int32(v), err
}

// WriteUint64 writes a little-endian uint64 at an 8-byte aligned offset.
func (b *Buffer) WriteUint64(v uint64) {
	b.writeAligned(8, func(dst []byte) { binary.LittleEndian.PutUint64(dst, v) })
}

// ReadUint64 reads a little-endian uint64 from an 8-byte aligned offset.
func (b *Buffer) ReadUint64() (uint64, error) {
	v, err := b.readAligned(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(v), nil
}

// WriteInt64 writes a little-endian int64 at an 8-byte aligned offset.
func (b *Buffer) WriteInt64(v int64) {
	b.WriteUint64(uint64(v))
}

// ReadInt64 reads a little-endian int64 from an 8-byte aligned offset.
func (b *Buffer) ReadInt64() (int64, error) {
	v, err := b.ReadUint64()
	return int64(v), err
}

// WriteBytes performs an unaligned, length-prefixed memcpy write: a u32
// length (NullPtr for a nil slice) followed by the raw bytes.
func (b *Buffer) WriteBytes(v []byte) {
	if v == nil {
		b.WriteUint32(NullPtr)
		return
	}
	b.WriteUint32(uint32(len(v)))
	b.grow(len(v))
	copy(b.b[b.off:], v)
	b.off += len(v)
}

// ReadBytes reads a length-prefixed memcpy write back into a fresh slice.
// A NullPtr length yields a nil slice.
func (b *Buffer) ReadBytes() ([]byte, error) {
	n, err := b.ReadUint32()
	if err != nil {
		return nil, err
	}
	if n == NullPtr {
		return nil, nil
	}
	if int(n) < 0 || b.off+int(n) > len(b.b) {
		return nil, errs.BadMsgSize.Errorf("short read: need %d bytes at %d, have %d", n, b.off, len(b.b))
	}
	v := make([]byte, n)
	copy(v, b.b[b.off:b.off+int(n)])
	b.off += int(n)
	return v, nil
}

// WriteString writes a StringWrapper: a u32 size followed by the raw UTF-8
// bytes. The null terminator is implicit and never transmitted.
func (b *Buffer) WriteString(s string) {
	b.WriteBytes([]byte(s))
}

// ReadString reads back a StringWrapper.
func (b *Buffer) ReadString() (string, error) {
	v, err := b.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// String implements fmt.Stringer for debugging.
func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer{len=%d, off=%d, mode=%d}", len(b.b), b.off, b.mode)
}
