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

// Package client implements the client-side half of §4.8: program identity
// construction, the local cache directory layout, the local-mode bypass
// that skips the server entirely, and the startup-signal callback that
// tells the booster when it may stop intercepting class loads.
package client

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	homedir "github.com/mitchellh/go-homedir"

	"github.com/nabbar/boostrpc/cachestate"
	"github.com/nabbar/boostrpc/protocol"
)

// DefaultCacheDir resolves $HOME/.booster/<role>, matching §6's documented
// default for BoosterCachePath.
func DefaultCacheDir(role string) (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".booster", role), nil
}

// LocalCache is the client-side counterpart of session.ProgramData's cache
// slots, used only in local mode (§4.8's "skip server, local-only"): it
// tracks the same NotGenerated/BeingGenerated/Generated state machine
// against files under cacheDir, guarded by the same flock-then-O_EXCL
// discipline as the server side (cachestate.State), since a local-mode run
// still shares its cache directory with concurrent sibling JVMs.
type LocalCache struct {
	dir       string
	programID string
	slots     map[protocol.CacheSlot]*cachestate.State
}

// NewLocalCache builds a LocalCache rooted at dir for one program's
// string id, creating dir if it does not already exist.
func NewLocalCache(dir, programStrID string, allowed map[protocol.CacheSlot]bool) (*LocalCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	lc := &LocalCache{
		dir:       dir,
		programID: programStrID,
		slots:     make(map[protocol.CacheSlot]*cachestate.State),
	}
	for _, slot := range []protocol.CacheSlot{
		protocol.SlotCLR, protocol.SlotDynamicCDS, protocol.SlotAggressiveCDS,
		protocol.SlotAOTStatic, protocol.SlotAOTPGO,
	} {
		s := cachestate.New(allowed[slot])
		if allowed[slot] {
			if path := lc.Path(slot); fileExists(path) {
				_ = s.BeginGeneration(path)
				_ = s.Publish(path)
			}
		}
		lc.slots[slot] = s
	}
	return lc, nil
}

// Path returns the on-disk path for slot under this cache's directory.
func (lc *LocalCache) Path(slot protocol.CacheSlot) string {
	return filepath.Join(lc.dir, slot.FileName(lc.programID))
}

// Slot returns the cache state machine for one of the five artifact
// classes.
func (lc *LocalCache) Slot(slot protocol.CacheSlot) *cachestate.State {
	return lc.slots[slot]
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// DirLock returns a process-external advisory lock over this cache
// directory (one file lock per directory, not per slot), used by
// local-mode generation to serialize two sibling JVMs racing to populate
// the same cache before either one has a CacheState of its own to CAS on.
func (lc *LocalCache) DirLock() *flock.Flock {
	return flock.New(filepath.Join(lc.dir, ".booster.lock"))
}
