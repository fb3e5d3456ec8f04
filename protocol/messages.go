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

package protocol

import (
	"github.com/nabbar/boostrpc/identity"
	"github.com/nabbar/boostrpc/wire"
)

// ClientSessionMetaMsg is the body of the first message on a client's first
// stream: it carries the wire-compat magic, the client's random session
// nonce, and the program identity to match against server-side ProgramData.
type ClientSessionMetaMsg struct {
	Magic          uint32
	ClientRandomID uint64
	Identity       identity.ProgramIdentity
}

func (m *ClientSessionMetaMsg) Serialize(b *wire.Buffer) error {
	b.WriteUint32(m.Magic)
	b.WriteUint64(m.ClientRandomID)
	return m.Identity.Serialize(b)
}

func (m *ClientSessionMetaMsg) Deserialize(b *wire.Buffer) error {
	var err error
	if m.Magic, err = b.ReadUint32(); err != nil {
		return err
	}
	if m.ClientRandomID, err = b.ReadUint64(); err != nil {
		return err
	}
	return m.Identity.Deserialize(b)
}

// SessionAcceptedMsg is the server's successful handshake reply.
type SessionAcceptedMsg struct {
	StreamID       uint32
	ServerRandomID uint64
	SessionID      uint32
	ProgramID      uint32
	HasRemoteCLR   bool
	HasRemoteCDS   bool
	HasRemoteAOT   bool
}

func (m *SessionAcceptedMsg) Serialize(b *wire.Buffer) error {
	b.WriteUint32(m.StreamID)
	b.WriteUint64(m.ServerRandomID)
	b.WriteUint32(m.SessionID)
	b.WriteUint32(m.ProgramID)
	b.WriteBool(m.HasRemoteCLR)
	b.WriteBool(m.HasRemoteCDS)
	b.WriteBool(m.HasRemoteAOT)
	return nil
}

func (m *SessionAcceptedMsg) Deserialize(b *wire.Buffer) error {
	var err error
	if m.StreamID, err = b.ReadUint32(); err != nil {
		return err
	}
	if m.ServerRandomID, err = b.ReadUint64(); err != nil {
		return err
	}
	if m.SessionID, err = b.ReadUint32(); err != nil {
		return err
	}
	if m.ProgramID, err = b.ReadUint32(); err != nil {
		return err
	}
	if m.HasRemoteCLR, err = b.ReadBool(); err != nil {
		return err
	}
	if m.HasRemoteCDS, err = b.ReadBool(); err != nil {
		return err
	}
	if m.HasRemoteAOT, err = b.ReadBool(); err != nil {
		return err
	}
	return nil
}

// ClientStreamMetaMsg opens every stream after the first on a session.
type ClientStreamMetaMsg struct {
	SessionID      uint32
	ClientRandomID uint64
	ServerRandomID uint64
}

func (m *ClientStreamMetaMsg) Serialize(b *wire.Buffer) error {
	b.WriteUint32(m.SessionID)
	b.WriteUint64(m.ClientRandomID)
	b.WriteUint64(m.ServerRandomID)
	return nil
}

func (m *ClientStreamMetaMsg) Deserialize(b *wire.Buffer) error {
	var err error
	if m.SessionID, err = b.ReadUint32(); err != nil {
		return err
	}
	if m.ClientRandomID, err = b.ReadUint64(); err != nil {
		return err
	}
	if m.ServerRandomID, err = b.ReadUint64(); err != nil {
		return err
	}
	return nil
}

// StreamAcceptedMsg is the server's reply to a recognised ClientStreamMeta.
type StreamAcceptedMsg struct {
	StreamID uint32
}

func (m *StreamAcceptedMsg) Serialize(b *wire.Buffer) error {
	b.WriteUint32(m.StreamID)
	return nil
}

func (m *StreamAcceptedMsg) Deserialize(b *wire.Buffer) error {
	var err error
	m.StreamID, err = b.ReadUint32()
	return err
}

// UnsupportedClientMsg is sent when a client fails the magic check or the
// program-identity policy check; the stream is closed immediately after.
type UnsupportedClientMsg struct {
	Reason string
}

func (m *UnsupportedClientMsg) Serialize(b *wire.Buffer) error {
	b.WriteString(m.Reason)
	return nil
}

func (m *UnsupportedClientMsg) Deserialize(b *wire.Buffer) error {
	var err error
	m.Reason, err = b.ReadString()
	return err
}

// HeartbeatMsg is exchanged verbatim: the control loop sends one with a
// fresh Magic and expects the same value echoed back.
type HeartbeatMsg struct {
	Magic int32
}

func (m *HeartbeatMsg) Serialize(b *wire.Buffer) error {
	b.WriteInt32(m.Magic)
	return nil
}

func (m *HeartbeatMsg) Deserialize(b *wire.Buffer) error {
	var err error
	m.Magic, err = b.ReadInt32()
	return err
}

// NoMoreRequestsMsg signals a clean, explicit stream half-close.
type NoMoreRequestsMsg struct {
	Final bool
}

func (m *NoMoreRequestsMsg) Serialize(b *wire.Buffer) error {
	b.WriteBool(m.Final)
	return nil
}

func (m *NoMoreRequestsMsg) Deserialize(b *wire.Buffer) error {
	var err error
	m.Final, err = b.ReadBool()
	return err
}

// EndOfCurrentPhaseMsg closes one sub-phase of a multi-request stream
// without closing the stream itself (e.g. after the three post-handshake
// Get*Cache sub-requests).
type EndOfCurrentPhaseMsg struct{}

func (m *EndOfCurrentPhaseMsg) Serialize(b *wire.Buffer) error   { return nil }
func (m *EndOfCurrentPhaseMsg) Deserialize(b *wire.Buffer) error { return nil }

// CompilationFailureMsg reports why a LazyAOTCompilationTask could not
// produce an artifact; carried by CompilationFailure frames.
type CompilationFailureMsg struct {
	Reason string
}

func (m *CompilationFailureMsg) Serialize(b *wire.Buffer) error {
	b.WriteString(m.Reason)
	return nil
}

func (m *CompilationFailureMsg) Deserialize(b *wire.Buffer) error {
	var err error
	m.Reason, err = b.ReadString()
	return err
}

// ShouldSendClassesMsg answers step 1 of a LazyAOTCompilationTask: whether
// the target slot's NotGenerated→BeingGenerated CAS succeeded, decided
// before any locator or data frame is read. A false Send means the client
// must not push locators at all (AbortCompilation is the expected reply).
type ShouldSendClassesMsg struct {
	Send bool
}

func (m *ShouldSendClassesMsg) Serialize(b *wire.Buffer) error {
	b.WriteBool(m.Send)
	return nil
}

func (m *ShouldSendClassesMsg) Deserialize(b *wire.Buffer) error {
	var err error
	m.Send, err = b.ReadBool()
	return err
}

// CacheFilesSyncTaskMsg announces a single-file upload immediately followed
// by a FileSegment chunk sequence that populates one of a program's cache
// slots (§4.7's CacheFilesSyncTask).
type CacheFilesSyncTaskMsg struct {
	Slot CacheSlot
}

func (m *CacheFilesSyncTaskMsg) Serialize(b *wire.Buffer) error {
	b.WriteUint8(uint8(m.Slot))
	return nil
}

func (m *CacheFilesSyncTaskMsg) Deserialize(b *wire.Buffer) error {
	v, err := b.ReadUint8()
	m.Slot = CacheSlot(v)
	return err
}

// ClassLoaderLocator identifies one class loader by the same triple as
// session.ClassLoaderKey, paired with the client-side address the server
// will bind it to in a session's address map.
type ClassLoaderLocator struct {
	ClientAddress    uint64
	LoaderClassName  string
	LoaderName       string
	FirstLoadedClass string
}

func (l *ClassLoaderLocator) serialize(b *wire.Buffer) error {
	b.WriteUint64(l.ClientAddress)
	b.WriteString(l.LoaderClassName)
	b.WriteString(l.LoaderName)
	b.WriteString(l.FirstLoadedClass)
	return nil
}

func deserializeClassLoaderLocator(b *wire.Buffer) (ClassLoaderLocator, error) {
	var l ClassLoaderLocator
	var err error
	if l.ClientAddress, err = b.ReadUint64(); err != nil {
		return l, err
	}
	if l.LoaderClassName, err = b.ReadString(); err != nil {
		return l, err
	}
	if l.LoaderName, err = b.ReadString(); err != nil {
		return l, err
	}
	l.FirstLoadedClass, err = b.ReadString()
	return l, err
}

// ClassLoaderLocatorsMsg carries the parent-to-child loader chain a
// LazyAOTCompilationTask needs resolved before its classes can be located.
type ClassLoaderLocatorsMsg struct {
	Loaders []ClassLoaderLocator
}

func (m *ClassLoaderLocatorsMsg) Serialize(b *wire.Buffer) error {
	return wire.SerializeArray(b, m.Loaders, func(b *wire.Buffer, l ClassLoaderLocator) error { return l.serialize(b) })
}

func (m *ClassLoaderLocatorsMsg) Deserialize(b *wire.Buffer) error {
	items, err := wire.DeserializeArray(b, deserializeClassLoaderLocator)
	if err != nil {
		return err
	}
	m.Loaders = items
	return nil
}

// KlassLocator names a class by its client address, its defining loader's
// client address, and its binary name.
type KlassLocator struct {
	ClientAddress uint64
	LoaderAddress uint64
	Name          string
}

func (k *KlassLocator) serialize(b *wire.Buffer) error {
	b.WriteUint64(k.ClientAddress)
	b.WriteUint64(k.LoaderAddress)
	b.WriteString(k.Name)
	return nil
}

func deserializeKlassLocator(b *wire.Buffer) (KlassLocator, error) {
	var k KlassLocator
	var err error
	if k.ClientAddress, err = b.ReadUint64(); err != nil {
		return k, err
	}
	if k.LoaderAddress, err = b.ReadUint64(); err != nil {
		return k, err
	}
	k.Name, err = b.ReadString()
	return k, err
}

// KlassLocatorsMsg carries the set of classes a LazyAOTCompilationTask
// touches, resolved against the session's class-loader address map.
type KlassLocatorsMsg struct {
	Klasses []KlassLocator
}

func (m *KlassLocatorsMsg) Serialize(b *wire.Buffer) error {
	return wire.SerializeArray(b, m.Klasses, func(b *wire.Buffer, k KlassLocator) error { return k.serialize(b) })
}

func (m *KlassLocatorsMsg) Deserialize(b *wire.Buffer) error {
	items, err := wire.DeserializeArray(b, deserializeKlassLocator)
	if err != nil {
		return err
	}
	m.Klasses = items
	return nil
}

// MethodLocator names a method within a class already named by a preceding
// KlassLocator, flagging whether it belongs on the to-compile or
// not-to-compile side of the request.
type MethodLocator struct {
	ClassAddress uint64
	Name         string
	Signature    string
	ToCompile    bool
}

func (m *MethodLocator) serialize(b *wire.Buffer) error {
	b.WriteUint64(m.ClassAddress)
	b.WriteString(m.Name)
	b.WriteString(m.Signature)
	b.WriteBool(m.ToCompile)
	return nil
}

func deserializeMethodLocator(b *wire.Buffer) (MethodLocator, error) {
	var m MethodLocator
	var err error
	if m.ClassAddress, err = b.ReadUint64(); err != nil {
		return m, err
	}
	if m.Name, err = b.ReadString(); err != nil {
		return m, err
	}
	if m.Signature, err = b.ReadString(); err != nil {
		return m, err
	}
	m.ToCompile, err = b.ReadBool()
	return m, err
}

// MethodLocatorsMsg carries the methods a LazyAOTCompilationTask should (and
// should not) compile.
type MethodLocatorsMsg struct {
	Methods []MethodLocator
}

func (m *MethodLocatorsMsg) Serialize(b *wire.Buffer) error {
	return wire.SerializeArray(b, m.Methods, func(b *wire.Buffer, l MethodLocator) error { return l.serialize(b) })
}

func (m *MethodLocatorsMsg) Deserialize(b *wire.Buffer) error {
	items, err := wire.DeserializeArray(b, deserializeMethodLocator)
	if err != nil {
		return err
	}
	m.Methods = items
	return nil
}

// AddressedBlob pairs a client-side address with an opaque payload; used by
// DataOfClassLoaders, DataOfKlasses, ProfilingInfo and ArrayKlasses, whose
// internal structure belongs to the managed runtime this module never
// inspects — only forwards to the compiler driver's resolve_extras path.
type AddressedBlob struct {
	ClientAddress uint64
	Data          []byte
}

func (a *AddressedBlob) serialize(b *wire.Buffer) error {
	b.WriteUint64(a.ClientAddress)
	b.WriteBytes(a.Data)
	return nil
}

func deserializeAddressedBlob(b *wire.Buffer) (AddressedBlob, error) {
	var a AddressedBlob
	var err error
	if a.ClientAddress, err = b.ReadUint64(); err != nil {
		return a, err
	}
	a.Data, err = b.ReadBytes()
	return a, err
}

// BlobArrayMsg is the shared shape of DataOfClassLoaders, DataOfKlasses,
// ProfilingInfo and ArrayKlasses.
type BlobArrayMsg struct {
	Items []AddressedBlob
}

func (m *BlobArrayMsg) Serialize(b *wire.Buffer) error {
	return wire.SerializeArray(b, m.Items, func(b *wire.Buffer, a AddressedBlob) error { return a.serialize(b) })
}

func (m *BlobArrayMsg) Deserialize(b *wire.Buffer) error {
	items, err := wire.DeserializeArray(b, deserializeAddressedBlob)
	if err != nil {
		return err
	}
	m.Items = items
	return nil
}
