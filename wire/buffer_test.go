package wire_test

import (
	"bytes"
	"testing"

	"github.com/nabbar/boostrpc/wire"
)

func TestBufferBaseTypesRoundTrip(t *testing.T) {
	b := wire.NewBufferSize(64)
	b.WriteBool(true)
	b.WriteUint16(0x1234)
	b.WriteUint32(0xCAFEBABE)
	b.WriteUint64(0x0102030405060708)
	b.WriteInt32(-42)
	b.WriteInt64(-424242)
	b.WriteString("hello booster")

	r := wire.NewBuffer(b.Bytes(), wire.ModeDeserialize)

	if v, err := r.ReadBool(); err != nil || v != true {
		t.Fatalf("ReadBool: %v %v", v, err)
	}
	if v, err := r.ReadUint16(); err != nil || v != 0x1234 {
		t.Fatalf("ReadUint16: %v %v", v, err)
	}
	if v, err := r.ReadUint32(); err != nil || v != 0xCAFEBABE {
		t.Fatalf("ReadUint32: %v %v", v, err)
	}
	if v, err := r.ReadUint64(); err != nil || v != 0x0102030405060708 {
		t.Fatalf("ReadUint64: %v %v", v, err)
	}
	if v, err := r.ReadInt32(); err != nil || v != -42 {
		t.Fatalf("ReadInt32: %v %v", v, err)
	}
	if v, err := r.ReadInt64(); err != nil || v != -424242 {
		t.Fatalf("ReadInt64: %v %v", v, err)
	}
	if v, err := r.ReadString(); err != nil || v != "hello booster" {
		t.Fatalf("ReadString: %v %v", v, err)
	}
}

func TestBufferNullBytes(t *testing.T) {
	b := wire.NewBufferSize(8)
	b.WriteBytes(nil)

	r := wire.NewBuffer(b.Bytes(), wire.ModeDeserialize)
	v, err := r.ReadBytes()
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if v != nil {
		t.Fatalf("expected nil, got %v", v)
	}
}

func TestMemoryAndStrRoundTrip(t *testing.T) {
	b := wire.NewBufferSize(32)
	m := wire.Memory([]byte{1, 2, 3})
	if err := m.Serialize(b); err != nil {
		t.Fatalf("serialize memory: %v", err)
	}
	s := wire.Str("jbooster")
	if err := s.Serialize(b); err != nil {
		t.Fatalf("serialize str: %v", err)
	}

	r := wire.NewBuffer(b.Bytes(), wire.ModeDeserialize)
	var m2 wire.Memory
	if err := m2.Deserialize(r); err != nil {
		t.Fatalf("deserialize memory: %v", err)
	}
	if !bytes.Equal(m2, m) {
		t.Fatalf("memory mismatch: %v != %v", m2, m)
	}
	var s2 wire.Str
	if err := s2.Deserialize(r); err != nil {
		t.Fatalf("deserialize str: %v", err)
	}
	if s2 != s {
		t.Fatalf("str mismatch: %v != %v", s2, s)
	}
}

func TestArrayWrapperRoundTrip(t *testing.T) {
	items := []uint32{1, 2, 3, 4, 5}

	b := wire.NewBufferSize(64)
	err := wire.SerializeArray(b, items, func(b *wire.Buffer, v uint32) error {
		b.WriteUint32(v)
		return nil
	})
	if err != nil {
		t.Fatalf("serialize array: %v", err)
	}

	r := wire.NewBuffer(b.Bytes(), wire.ModeDeserialize)
	out, err := wire.DeserializeArray(r, func(b *wire.Buffer) (uint32, error) {
		return b.ReadUint32()
	})
	if err != nil {
		t.Fatalf("deserialize array: %v", err)
	}
	if len(out) != len(items) {
		t.Fatalf("length mismatch: %d != %d", len(out), len(items))
	}
	for i := range items {
		if out[i] != items[i] {
			t.Fatalf("item %d mismatch: %d != %d", i, out[i], items[i])
		}
	}
}

func TestArrayWrapperNull(t *testing.T) {
	b := wire.NewBufferSize(8)
	if err := wire.SerializeArray[int](b, nil, func(b *wire.Buffer, v int) error { return nil }); err != nil {
		t.Fatalf("serialize nil array: %v", err)
	}

	r := wire.NewBuffer(b.Bytes(), wire.ModeDeserialize)
	out, err := wire.DeserializeArray(r, func(b *wire.Buffer) (int, error) { return 0, nil })
	if err != nil {
		t.Fatalf("deserialize nil array: %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil slice, got %v", out)
	}
}

// TestDeserializeMetaForwardCompatSkip exercises forward-compatible skipping:
// a reader that only consumes part of a declared argument, and returns nil
// rather than the DeserTermination soft marker, still leaves the cursor
// correctly positioned at the argument boundary.
func TestDeserializeMetaForwardCompatSkip(t *testing.T) {
	b := wire.NewBufferSize(32)
	if err := wire.SerializeMeta(b, func(b *wire.Buffer) error {
		b.WriteUint32(1)
		b.WriteUint32(2)
		b.WriteUint32(3)
		return nil
	}); err != nil {
		t.Fatalf("serialize meta: %v", err)
	}
	b.WriteUint32(0xAAAA) // a sentinel written right after the argument

	r := wire.NewBuffer(b.Bytes(), wire.ModeDeserialize)
	if err := wire.DeserializeMeta(r, func(b *wire.Buffer) error {
		if _, err := b.ReadUint32(); err != nil {
			return err
		}
		// Pretend this receiver doesn't know about the trailing two u32s.
		return nil
	}); err != nil {
		t.Fatalf("deserialize meta: %v", err)
	}

	v, err := r.ReadUint32()
	if err != nil || v != 0xAAAA {
		t.Fatalf("cursor not realigned to argument end: %v %v", v, err)
	}
}

func TestDeserializeMetaNull(t *testing.T) {
	b := wire.NewBufferSize(8)
	if err := wire.SerializeMeta(b, nil); err != nil {
		t.Fatalf("serialize nil meta: %v", err)
	}

	called := false
	r := wire.NewBuffer(b.Bytes(), wire.ModeDeserialize)
	if err := wire.DeserializeMeta(r, func(b *wire.Buffer) error {
		called = true
		return nil
	}); err != nil {
		t.Fatalf("deserialize nil meta: %v", err)
	}
	if called {
		t.Fatalf("read callback should not run for a null argument")
	}
}
