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

// Memory is the MemoryWrapper of §4.1: a null-capable {size, bytes} field.
// It is a thin named type over []byte so it can be used directly wherever a
// Serializable composite field is expected.
type Memory []byte

func (m *Memory) Serialize(b *Buffer) error {
	b.WriteBytes(*m)
	return nil
}

func (m *Memory) Deserialize(b *Buffer) error {
	v, err := b.ReadBytes()
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Str is the StringWrapper of §4.1: a null-capable {size, bytes} field whose
// null terminator is implicit and never transmitted.
type Str string

func (s *Str) Serialize(b *Buffer) error {
	b.WriteString(string(*s))
	return nil
}

func (s *Str) Deserialize(b *Buffer) error {
	v, err := b.ReadString()
	if err != nil {
		return err
	}
	*s = Str(v)
	return nil
}

// SerializeArray writes an ArrayWrapper<T>: {count:u32, elem_with_meta...}.
// A nil items slice is encoded as NullPtr. Each element is wrapped with
// SerializeMeta so a forward-compatible receiver can skip elements it does
// not understand.
func SerializeArray[T any](b *Buffer, items []T, write func(b *Buffer, item T) error) error {
	if items == nil {
		b.WriteUint32(NullPtr)
		return nil
	}

	b.WriteUint32(uint32(len(items)))
	for _, it := range items {
		item := it
		if err := SerializeMeta(b, func(b *Buffer) error { return write(b, item) }); err != nil {
			return err
		}
	}
	return nil
}

// DeserializeArray reads back an ArrayWrapper<T> written by SerializeArray.
// A NullPtr count yields a nil slice.
func DeserializeArray[T any](b *Buffer, read func(b *Buffer) (T, error)) ([]T, error) {
	count, err := b.ReadUint32()
	if err != nil {
		return nil, err
	}
	if count == NullPtr {
		return nil, nil
	}

	items := make([]T, 0, count)
	for i := uint32(0); i < count; i++ {
		var item T
		derr := DeserializeMeta(b, func(b *Buffer) error {
			v, e := read(b)
			item = v
			return e
		})
		if derr != nil {
			return nil, derr
		}
		items = append(items, item)
	}
	return items, nil
}
