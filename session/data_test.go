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

package session_test

import (
	"testing"

	"github.com/nabbar/boostrpc/identity"
	"github.com/nabbar/boostrpc/protocol"
	"github.com/nabbar/boostrpc/session"
)

type stubResolver struct{}

func (stubResolver) ResolveBoot() session.ClassLoaderHandle     { return nil }
func (stubResolver) ResolvePlatform() session.ClassLoaderHandle { return nil }
func (stubResolver) ResolveCustom(_ session.ClassLoaderKey, _ session.ClassLoaderHandle) (session.ClassLoaderHandle, error) {
	return nil, nil
}
func (stubResolver) Release(_ []session.ClassLoaderHandle) {}

func TestAddressMapBindLookupForget(t *testing.T) {
	m := session.NewAddressMap[uint64]()

	if _, ok := m.Lookup(1); ok {
		t.Fatalf("expected miss on empty map")
	}

	m.Bind(1, 100)
	got, ok := m.Lookup(1)
	if !ok || got != 100 {
		t.Fatalf("expected (100, true), got (%d, %v)", got, ok)
	}

	m.Forget(1)
	if _, ok := m.Lookup(1); ok {
		t.Fatalf("expected miss after Forget")
	}
}

func TestNewProgramDataSlotAllowance(t *testing.T) {
	id := identity.ProgramIdentity{EnableCLR: true, EnableCDS: true, EnableAOT: false, EnablePGO: true}
	pd := session.NewProgramData(id, stubResolver{})

	if !pd.Slot(protocol.SlotCLR).Allowed {
		t.Fatalf("expected CLR slot allowed")
	}
	if !pd.Slot(protocol.SlotDynamicCDS).Allowed || !pd.Slot(protocol.SlotAggressiveCDS).Allowed {
		t.Fatalf("expected both CDS slots allowed")
	}
	if pd.Slot(protocol.SlotAOTStatic).Allowed {
		t.Fatalf("expected AOT slot disallowed when EnableAOT is false")
	}
	if pd.Slot(protocol.SlotAOTPGO).Allowed {
		t.Fatalf("expected PGO slot disallowed when its AOT prerequisite is false, even with EnablePGO true")
	}
}

func TestNewProgramDataIDsAreMonotoneAndUnique(t *testing.T) {
	id := identity.ProgramIdentity{}
	a := session.NewProgramData(id, stubResolver{})
	b := session.NewProgramData(id, stubResolver{})

	if a.ProgramID == b.ProgramID {
		t.Fatalf("expected distinct program ids, got %d twice", a.ProgramID)
	}
}

func TestNewSessionDataHoldsDistinctAddressMaps(t *testing.T) {
	id := identity.ProgramIdentity{}
	pd := session.NewProgramData(id, stubResolver{})
	entry := session.NewRegistry[string, *session.ProgramData]().GetOrCreate(pd.StringID, func() *session.ProgramData { return pd }, nil)

	sd := session.NewSessionData(1, 2, entry)

	sd.ClassLoaders.Bind(7, 70)
	if _, ok := sd.Klasses.Lookup(7); ok {
		t.Fatalf("expected ClassLoaders and Klasses to be independent maps")
	}

	sd2 := session.NewSessionData(1, 2, entry)
	if sd.SessionID == sd2.SessionID {
		t.Fatalf("expected distinct session ids, got %d twice", sd.SessionID)
	}
}
