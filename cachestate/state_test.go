package cachestate_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nabbar/boostrpc/cachestate"
)

func publish(t *testing.T, s *cachestate.State, path string, content []byte) {
	t.Helper()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		t.Fatalf("write tmp: %v", err)
	}
	if err := os.Chmod(tmp, 0o444); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := s.Publish(path); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestStateMonotonicity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache-p-cds.jsa")
	s := cachestate.New(true)

	if s.Phase() != cachestate.NotGenerated {
		t.Fatalf("expected NotGenerated initially")
	}
	if !s.BeginGeneration(path) {
		t.Fatalf("expected to win the CAS")
	}
	if s.BeginGeneration(path) {
		t.Fatalf("a second BeginGeneration must not also win")
	}
	publish(t, s, path, []byte("jsa-bytes"))
	if s.Phase() != cachestate.Generated {
		t.Fatalf("expected Generated after publish")
	}
}

func TestStateAbortReturnsToNotGenerated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache-p-aot.so")
	s := cachestate.New(true)

	if !s.BeginGeneration(path) {
		t.Fatalf("expected to win the CAS")
	}
	s.Abort()
	if s.Phase() != cachestate.NotGenerated {
		t.Fatalf("expected NotGenerated after abort")
	}
	if !s.BeginGeneration(path) {
		t.Fatalf("expected to be able to retry generation after abort")
	}
}

func TestCheckConsistencyDetectsTamper(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache-p-clr.log")
	s := cachestate.New(true)
	s.BeginGeneration(path)
	publish(t, s, path, []byte("original"))

	if !s.CheckConsistency() {
		t.Fatalf("expected consistent state right after publish")
	}

	// Simulate an external tool rewriting the file, changing its mtime.
	time.Sleep(10 * time.Millisecond)
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatalf("chmod rw: %v", err)
	}
	if err := os.WriteFile(path, []byte("tampered"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	if s.CheckConsistency() {
		t.Fatalf("expected tamper to be detected")
	}
	if s.Phase() != cachestate.NotGenerated {
		t.Fatalf("expected demotion to NotGenerated, got %v", s.Phase())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected tampered file to be removed")
	}
}

func TestAcquireProducerContention(t *testing.T) {
	dir := t.TempDir()
	tmp := filepath.Join(dir, "cache-p-cds.jsa.tmp")

	lock1, ok1, err := cachestate.AcquireProducer(tmp)
	if err != nil || !ok1 {
		t.Fatalf("expected first acquire to win: ok=%v err=%v", ok1, err)
	}
	defer func() { _ = lock1.Close() }()

	_, ok2, err := cachestate.AcquireProducer(tmp)
	if err != nil {
		t.Fatalf("unexpected error on contended acquire: %v", err)
	}
	if ok2 {
		t.Fatalf("expected second acquire to lose the O_EXCL race")
	}
}
