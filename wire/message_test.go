package wire_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/nabbar/boostrpc/wire"
)

// chunkedReader splits (or merges) Read calls at fixed boundaries to
// emulate a TCP socket that may deliver a message's bytes across several
// reads or bundle several messages into one read.
type chunkedReader struct {
	data   []byte
	chunk  int
	offset int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.offset >= len(c.data) {
		return 0, io.EOF
	}
	n := c.chunk
	if n > len(p) {
		n = len(p)
	}
	if c.offset+n > len(c.data) {
		n = len(c.data) - c.offset
	}
	copy(p, c.data[c.offset:c.offset+n])
	c.offset += n
	return n, nil
}

func TestFramingBackToBack(t *testing.T) {
	a := wire.Frame{Type: 1, Body: []byte("first")}
	b := wire.Frame{Type: 2, Body: []byte("second-message-body")}

	var buf bytes.Buffer
	buf.Write(a.Encode())
	buf.Write(b.Encode())

	for _, chunkSize := range []int{1, 3, 7, 4096} {
		cr := &chunkedReader{data: buf.Bytes(), chunk: chunkSize}
		r := wire.NewReader(cr)

		got1, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("chunk=%d: read first: %v", chunkSize, err)
		}
		if got1.Type != a.Type || !bytes.Equal(got1.Body, a.Body) {
			t.Fatalf("chunk=%d: first frame mismatch: %+v", chunkSize, got1)
		}

		got2, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("chunk=%d: read second: %v", chunkSize, err)
		}
		if got2.Type != b.Type || !bytes.Equal(got2.Body, b.Body) {
			t.Fatalf("chunk=%d: second frame mismatch: %+v", chunkSize, got2)
		}
	}
}

// TestOverflowCarryNoExtraSyscall checks that once a read delivers more than
// one frame's worth of bytes, the second ReadFrame call is satisfied purely
// from the retained buffer.
func TestOverflowCarryNoExtraSyscall(t *testing.T) {
	a := wire.Frame{Type: 1, Body: []byte("aaaa")}
	b := wire.Frame{Type: 2, Body: []byte("bbbb")}

	var buf bytes.Buffer
	buf.Write(a.Encode())
	buf.Write(b.Encode())

	cr := &countingReader{data: buf.Bytes()}
	r := wire.NewReader(cr)

	if _, err := r.ReadFrame(); err != nil {
		t.Fatalf("read first: %v", err)
	}
	readsAfterFirst := cr.reads

	if _, err := r.ReadFrame(); err != nil {
		t.Fatalf("read second: %v", err)
	}
	if cr.reads != readsAfterFirst {
		t.Fatalf("expected no additional syscalls to drain the carried overflow, got %d more", cr.reads-readsAfterFirst)
	}
}

type countingReader struct {
	data  []byte
	off   int
	reads int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.reads++
	if c.off >= len(c.data) {
		return 0, io.EOF
	}
	n := copy(p, c.data[c.off:])
	c.off += n
	return n, nil
}
