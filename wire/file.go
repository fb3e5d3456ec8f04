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
	"errors"
	"io"
	"os"
	"time"

	"github.com/nabbar/boostrpc/errs"
)

// MaxChunk is the largest single FileWrapper chunk, per §4.1.
const MaxChunk = 40 << 20

// DefaultWaitForTarget is how long a receiver polls for a sibling
// producer's target file to appear when it loses the O_EXCL race on the
// tmp lock, per §4.4's cross-process coordination rule.
const DefaultWaitForTarget = 2 * time.Second

// ErrNoSuchFile is returned by ReceiveFile when the sender's FileWrapper
// signalled absence (file_size == NullPtr): "no such file, deserialization
// ends", not a transport error.
var ErrNoSuchFile = errors.New("wire: no such file")

// FrameWriter is the minimal write side a stream must offer for chunked
// file transfer: send one already-typed frame at a time, in order.
type FrameWriter interface {
	WriteFrame(f Frame) error
}

// FrameReader is the minimal read side a stream must offer for chunked
// file transfer.
type FrameReader interface {
	ReadFrame() (Frame, error)
}

// fileChunk is the wire shape of one FileWrapper chunk:
// {file_size:u32, chunk_size:u32, bytes}. file_size is repeated on every
// chunk so a receiver never needs to remember it across frames; NullPtr
// means "no such file".
type fileChunk struct {
	fileSize uint32
	data     []byte
}

func (c fileChunk) serialize() []byte {
	b := NewBufferSize(8 + len(c.data))
	b.WriteUint32(c.fileSize)
	b.WriteUint32(uint32(len(c.data)))
	b.WriteBytes(c.data)
	return b.Bytes()
}

func deserializeChunk(body []byte) (fileChunk, error) {
	b := NewBuffer(body, ModeDeserialize)
	fs, err := b.ReadUint32()
	if err != nil {
		return fileChunk{}, err
	}
	_, err = b.ReadUint32() // chunk_size, redundant with the length-prefix on data
	if err != nil {
		return fileChunk{}, err
	}
	data, err := b.ReadBytes()
	if err != nil {
		return fileChunk{}, err
	}
	return fileChunk{fileSize: fs, data: data}, nil
}

// SendFile streams path to w as a sequence of msgType frames. If path does
// not exist, a single chunk with file_size == NullPtr is sent and nil is
// returned: absence is not a transport error.
func SendFile(w FrameWriter, msgType uint16, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return w.WriteFrame(Frame{Type: msgType, Body: fileChunk{fileSize: NullPtr}.serialize()})
		}
		return errs.Unknown.Errorf("open %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return errs.Unknown.Errorf("stat %s: %v", path, err)
	}
	size := st.Size()
	if size < 0 || size > int64(NullPtr)-1 {
		return errs.BadMsgData.Errorf("%s size %d does not fit the wire format", path, size)
	}

	buf := make([]byte, MaxChunk)
	remaining := size
	for remaining > 0 || size == 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		read, rerr := io.ReadFull(f, buf[:n])
		if rerr != nil && rerr != io.EOF && rerr != io.ErrUnexpectedEOF {
			return errs.Unknown.Errorf("read %s: %v", path, rerr)
		}
		chunk := fileChunk{fileSize: uint32(size), data: append([]byte(nil), buf[:read]...)}
		if err = w.WriteFrame(Frame{Type: msgType, Body: chunk.serialize()}); err != nil {
			return err
		}
		remaining -= int64(read)
		if size == 0 {
			break
		}
	}
	return nil
}

// ReceiveFile reads a msgType chunk sequence from r and atomically publishes
// it at destPath. It takes out the tmp-file producer lock itself: on EEXIST
// it polls for destPath to appear for up to wait, then gives up and returns
// errs.ConnClosed (the caller should treat the artifact as still absent and
// retry later, per the contended-generation scenario of §8).
func ReceiveFile(r FrameReader, destPath string, wait time.Duration) error {
	tmp := destPath + ".tmp"

	lock, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			if waitForTarget(destPath, wait) {
				return nil
			}
			return errs.ConnClosed.Errorf("timed out waiting for %s", destPath)
		}
		return errs.Unknown.Errorf("create %s: %v", tmp, err)
	}

	aborted := true
	defer func() {
		_ = lock.Close()
		if aborted {
			_ = os.Remove(tmp)
		}
	}()

	f, err := r.ReadFrame()
	if err != nil {
		return err
	}
	chunk, err := deserializeChunk(f.Body)
	if err != nil {
		return err
	}
	if chunk.fileSize == NullPtr {
		return ErrNoSuchFile
	}

	total := int64(chunk.fileSize)
	var written int64
	if _, werr := lock.Write(chunk.data); werr != nil {
		return errs.Unknown.Errorf("write %s: %v", tmp, werr)
	}
	written += int64(len(chunk.data))

	for written < total {
		f, err = r.ReadFrame()
		if err != nil {
			return err
		}
		chunk, err = deserializeChunk(f.Body)
		if err != nil {
			return err
		}
		if _, werr := lock.Write(chunk.data); werr != nil {
			return errs.Unknown.Errorf("write %s: %v", tmp, werr)
		}
		written += int64(len(chunk.data))
	}

	if err = lock.Close(); err != nil {
		return errs.Unknown.Errorf("close %s: %v", tmp, err)
	}
	if err = os.Chmod(tmp, 0o444); err != nil {
		return errs.Unknown.Errorf("chmod %s: %v", tmp, err)
	}
	if err = os.Rename(tmp, destPath); err != nil {
		return errs.Unknown.Errorf("rename %s -> %s: %v", tmp, destPath, err)
	}

	aborted = false
	return nil
}

func waitForTarget(path string, wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	for {
		if _, err := os.Stat(path); err == nil {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(25 * time.Millisecond)
	}
}
