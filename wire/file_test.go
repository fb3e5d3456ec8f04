package wire_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nabbar/boostrpc/wire"
)

// framePipe is an in-process FrameWriter/FrameReader pair used to exercise
// SendFile/ReceiveFile without a real socket.
type framePipe struct {
	frames chan wire.Frame
}

func newFramePipe() *framePipe {
	return &framePipe{frames: make(chan wire.Frame, 64)}
}

func (p *framePipe) WriteFrame(f wire.Frame) error {
	p.frames <- f
	return nil
}

func (p *framePipe) ReadFrame() (wire.Frame, error) {
	return <-p.frames, nil
}

func TestSendReceiveFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	content := make([]byte, 3*1024*1024+17) // exercise a multi-chunk-ish size without the 40MiB cost
	for i := range content {
		content[i] = byte(i)
	}
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	dst := filepath.Join(dir, "cache-prog-cds.jsa")
	pipe := newFramePipe()

	done := make(chan error, 1)
	go func() { done <- wire.SendFile(pipe, 42, src) }()

	if err := wire.ReceiveFile(pipe, dst, wire.DefaultWaitForTarget); err != nil {
		t.Fatalf("ReceiveFile: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("SendFile: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read dst: %v", err)
	}
	if len(got) != len(content) {
		t.Fatalf("length mismatch: %d != %d", len(got), len(content))
	}
	for i := range content {
		if got[i] != content[i] {
			t.Fatalf("content mismatch at byte %d", i)
		}
	}

	if st, err := os.Stat(dst); err != nil {
		t.Fatalf("stat dst: %v", err)
	} else if st.Mode().Perm()&0o222 != 0 {
		t.Fatalf("expected published artifact to be read-only, mode=%v", st.Mode())
	}

	if _, err := os.Stat(dst + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("tmp file should have been renamed away, stat err=%v", err)
	}
}

func TestReceiveFileAbsent(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "cache-prog-clr.log")
	pipe := newFramePipe()

	done := make(chan error, 1)
	go func() { done <- wire.SendFile(pipe, 7, filepath.Join(dir, "does-not-exist")) }()

	err := wire.ReceiveFile(pipe, dst, wire.DefaultWaitForTarget)
	if err != wire.ErrNoSuchFile {
		t.Fatalf("expected ErrNoSuchFile, got %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("SendFile: %v", err)
	}
	if _, statErr := os.Stat(dst + ".tmp"); !os.IsNotExist(statErr) {
		t.Fatalf("tmp lock should be cleaned up on absence")
	}
}

func TestReceiveFileContendedProducer(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "cache-prog-aot.so")

	lock, err := os.OpenFile(dst+".tmp", os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("seed tmp lock: %v", err)
	}
	defer func() { _ = lock.Close() }()

	pipe := newFramePipe()
	errCh := make(chan error, 1)
	go func() {
		errCh <- wire.ReceiveFile(pipe, dst, 50*time.Millisecond)
	}()

	err = <-errCh
	if err == nil {
		t.Fatalf("expected a timeout error while the sibling tmp lock is held")
	}
}
