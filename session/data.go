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

package session

import (
	"sync/atomic"

	"github.com/nabbar/boostrpc/cachestate"
	"github.com/nabbar/boostrpc/identity"
	"github.com/nabbar/boostrpc/protocol"

	boostatomic "github.com/nabbar/boostrpc/atomic"
)

// programSeq/sessionSeq hand out the monotone 32-bit ids §3 requires for
// ProgramData.ProgramID and SessionData.SessionID.
var (
	programSeq uint32
	sessionSeq uint32
)

func nextProgramID() uint32 { return atomic.AddUint32(&programSeq, 1) }
func nextSessionID() uint32 { return atomic.AddUint32(&sessionSeq, 1) }

// ProgramData is the server-side record shared across every session that
// matches the same ProgramIdentity (§3).
type ProgramData struct {
	ProgramID uint32
	StringID  string
	Identity  identity.ProgramIdentity

	Loaders *ClassLoaders

	slots [5]*cachestate.State
}

// NewProgramData builds a fresh ProgramData for id, with all five cache
// slots in NotGenerated and allowed according to the identity's
// enable flags.
func NewProgramData(id identity.ProgramIdentity, resolver Resolver) *ProgramData {
	pd := &ProgramData{
		ProgramID: nextProgramID(),
		StringID:  id.StringID(),
		Identity:  id,
		Loaders:   NewClassLoaders(resolver),
	}
	allowed := [5]bool{id.EnableCLR, id.EnableCDS, id.EnableCDS, id.EnableAOT, id.EnableAOT && id.EnablePGO}
	for i := range pd.slots {
		pd.slots[i] = cachestate.New(allowed[i])
	}
	return pd
}

// Slot returns the cache-state machine for one of the five artifact
// classes (§3's "five CacheState slots").
func (p *ProgramData) Slot(slot protocol.CacheSlot) *cachestate.State {
	return p.slots[slot]
}

// SlotPath returns the on-disk path for one of the program's cache slots
// under cacheDir.
func (p *ProgramData) SlotPath(cacheDir string, slot protocol.CacheSlot) string {
	return cacheDir + "/" + slot.FileName(p.StringID)
}

// AddressMap is the per-session concurrent mapping from a remote (client)
// opaque address to a local (server) pointer-like value (§3). It rehydrates
// object-graph identity across the wire without ever sending real pointers.
type AddressMap[V any] struct {
	m boostatomic.MapTyped[uint64, V]
}

// NewAddressMap builds an empty AddressMap.
func NewAddressMap[V any]() *AddressMap[V] {
	return &AddressMap[V]{m: boostatomic.NewMapTyped[uint64, V]()}
}

func (a *AddressMap[V]) Lookup(remote uint64) (V, bool) { return a.m.Load(remote) }
func (a *AddressMap[V]) Bind(remote uint64, local V)    { a.m.Store(remote, local) }
func (a *AddressMap[V]) Forget(remote uint64)           { a.m.Delete(remote) }

// SessionData is one client run as seen by the server (§3).
type SessionData struct {
	SessionID      uint32
	ClientRandomID uint64
	ServerRandomID uint64
	Program        *Entry[*ProgramData]

	ClassLoaders *AddressMap[uint64] // client classLoaderData* -> server id
	Klasses      *AddressMap[uint64] // client InstanceKlass* -> server id
	Methods      *AddressMap[uint64] // method -> method-data
}

// NewSessionData builds a fresh SessionData bound to program (whose
// ref-count the caller has already incremented via Registry.Get/GetOrCreate
// — SessionData merely holds that reference until it is itself torn down).
func NewSessionData(clientRandomID, serverRandomID uint64, program *Entry[*ProgramData]) *SessionData {
	return &SessionData{
		SessionID:      nextSessionID(),
		ClientRandomID: clientRandomID,
		ServerRandomID: serverRandomID,
		Program:        program,
		ClassLoaders:   NewAddressMap[uint64](),
		Klasses:        NewAddressMap[uint64](),
		Methods:        NewAddressMap[uint64](),
	}
}
