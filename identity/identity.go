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

// Package identity implements the ProgramIdentity equality key that matches
// a client run against cached server-side artifacts, and the fixed flag
// snapshot folded into it.
package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/nabbar/boostrpc/wire"
)

// CPUArch enumerates the architectures the protocol recognises. Artifacts
// are never portable across architectures (see Non-goals), so this field
// participates in both equality and the hash.
type CPUArch uint8

const (
	ArchUnknown CPUArch = iota
	ArchX86
	ArchARM
	ArchAARCH64
)

// RuntimeFlags is the fixed, enumerated set of runtime flags snapshotted
// into every ProgramIdentity (§3, §6). Only flags that affect cached
// artifact validity belong here; this module does not attempt to snapshot
// the full runtime flag surface.
type RuntimeFlags struct {
	UseG1GC           bool
	TieredCompilation bool
	CompressedOops    bool
	MaxHeapSize       uint64
}

func (f RuntimeFlags) serialize(b *wire.Buffer) {
	b.WriteBool(f.UseG1GC)
	b.WriteBool(f.TieredCompilation)
	b.WriteBool(f.CompressedOops)
	b.WriteUint64(f.MaxHeapSize)
}

func (f *RuntimeFlags) deserialize(b *wire.Buffer) error {
	var err error
	if f.UseG1GC, err = b.ReadBool(); err != nil {
		return err
	}
	if f.TieredCompilation, err = b.ReadBool(); err != nil {
		return err
	}
	if f.CompressedOops, err = b.ReadBool(); err != nil {
		return err
	}
	f.MaxHeapSize, err = b.ReadUint64()
	return err
}

// ProgramIdentity is the equality key described by §3: exact match on every
// field is required for a client to be matched against an existing
// ProgramData. All fields are comparable, so == compares every field and the
// server's programs registry uses ProgramIdentity directly as its map key;
// Equal applies the same rule but compares CommandLine only in strict-match
// mode.
type ProgramIdentity struct {
	Arch              CPUArch
	RuntimeVersion    uint32
	RuntimeBuildInfo  string
	DisplayName       string
	Entry             string // main-class or jar name, jar suffix stripped
	IsJar             bool
	ClasspathNameHash uint32
	ClasspathMTimeHash uint32
	AgentNameHash     uint32
	// CommandLine is only populated (and only participates in equality) when
	// BoosterClientStrictMatch is enabled.
	CommandLine string
	StrictMatch bool

	EnableCLR bool
	EnableCDS bool
	EnableAOT bool
	EnablePGO bool

	Flags RuntimeFlags
}

// StripJarSuffix removes a trailing ".jar" from a program entry name, per
// §3's "program entry ... with jar-file suffix stripped".
func StripJarSuffix(entry string) string {
	return strings.TrimSuffix(entry, ".jar")
}

// HashStrings folds a set of strings (classpath entries, agent names) into a
// stable 32-bit hash, used for the ClasspathNameHash/AgentNameHash fields so
// the wire payload carries a fixed-size fingerprint rather than the
// (potentially large) raw list.
func HashStrings(items []string) uint32 {
	h := fnv.New32a()
	for _, s := range items {
		_, _ = h.Write([]byte(s))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum32()
}

// HashMTimes folds a set of classpath entry modification times (unix nanos)
// into a stable 32-bit hash.
func HashMTimes(mtimes []int64) uint32 {
	h := fnv.New32a()
	buf := make([]byte, 8)
	for _, t := range mtimes {
		binary.LittleEndian.PutUint64(buf, uint64(t))
		_, _ = h.Write(buf)
	}
	return h.Sum32()
}

// Equal implements §3's "equality requires exact match on every field"
// rule. Identities that differ in StrictMatch are never equal; CommandLine
// is compared only when both sides are in strict-match mode.
func (p ProgramIdentity) Equal(o ProgramIdentity) bool {
	if p.Arch != o.Arch || p.RuntimeVersion != o.RuntimeVersion ||
		p.RuntimeBuildInfo != o.RuntimeBuildInfo || p.DisplayName != o.DisplayName ||
		p.Entry != o.Entry || p.IsJar != o.IsJar ||
		p.ClasspathNameHash != o.ClasspathNameHash ||
		p.ClasspathMTimeHash != o.ClasspathMTimeHash ||
		p.AgentNameHash != o.AgentNameHash ||
		p.EnableCLR != o.EnableCLR || p.EnableCDS != o.EnableCDS ||
		p.EnableAOT != o.EnableAOT || p.EnablePGO != o.EnablePGO ||
		p.Flags != o.Flags {
		return false
	}
	if p.StrictMatch != o.StrictMatch {
		return false
	}
	if p.StrictMatch && p.CommandLine != o.CommandLine {
		return false
	}
	return true
}

// Hash folds every contributing field into a stable 32-bit value, per §3
// ("the hash is a fold of the per-field hashes"). It is used as the server's
// programs map key fingerprint and as the suffix of the derived string id.
func (p ProgramIdentity) Hash() uint32 {
	h := fnv.New32a()
	write := func(s string) {
		_, _ = h.Write([]byte(s))
		_, _ = h.Write([]byte{0})
	}
	var u32 [4]byte
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(u32[:], v)
		_, _ = h.Write(u32[:])
	}

	putU32(uint32(p.Arch))
	putU32(p.RuntimeVersion)
	write(p.RuntimeBuildInfo)
	write(p.DisplayName)
	write(p.Entry)
	if p.IsJar {
		putU32(1)
	}
	putU32(p.ClasspathNameHash)
	putU32(p.ClasspathMTimeHash)
	putU32(p.AgentNameHash)
	if p.StrictMatch {
		write(p.CommandLine)
	}
	for _, b := range []bool{p.EnableCLR, p.EnableCDS, p.EnableAOT, p.EnablePGO,
		p.Flags.UseG1GC, p.Flags.TieredCompilation, p.Flags.CompressedOops} {
		if b {
			putU32(1)
		} else {
			putU32(0)
		}
	}
	putU32(uint32(p.Flags.MaxHeapSize))
	putU32(uint32(p.Flags.MaxHeapSize >> 32))
	return h.Sum32()
}

// ContentHash returns a full SHA-256 digest of the identity, used where a
// longer, collision-resistant fingerprint is preferable to the 32-bit Hash
// (e.g. as part of an on-disk program string id in very large deployments).
func (p ProgramIdentity) ContentHash() [32]byte {
	b := wire.NewBufferSize(256)
	_ = p.Serialize(b)
	return sha256.Sum256(b.Bytes())
}

// StringID derives the human-readable id §3 specifies:
// "<name>-<entry>-<hash-hex>".
func (p ProgramIdentity) StringID() string {
	return fmt.Sprintf("%s-%s-%08x", sanitize(p.DisplayName), sanitize(p.Entry), p.Hash())
}

func sanitize(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (p *ProgramIdentity) Serialize(b *wire.Buffer) error {
	b.WriteUint8(uint8(p.Arch))
	b.WriteUint32(p.RuntimeVersion)
	b.WriteString(p.RuntimeBuildInfo)
	b.WriteString(p.DisplayName)
	b.WriteString(p.Entry)
	b.WriteBool(p.IsJar)
	b.WriteUint32(p.ClasspathNameHash)
	b.WriteUint32(p.ClasspathMTimeHash)
	b.WriteUint32(p.AgentNameHash)
	b.WriteBool(p.StrictMatch)
	b.WriteString(p.CommandLine)
	b.WriteBool(p.EnableCLR)
	b.WriteBool(p.EnableCDS)
	b.WriteBool(p.EnableAOT)
	b.WriteBool(p.EnablePGO)
	p.Flags.serialize(b)
	return nil
}

func (p *ProgramIdentity) Deserialize(b *wire.Buffer) error {
	var err error
	var v8 uint8
	if v8, err = b.ReadUint8(); err != nil {
		return err
	}
	p.Arch = CPUArch(v8)
	if p.RuntimeVersion, err = b.ReadUint32(); err != nil {
		return err
	}
	if p.RuntimeBuildInfo, err = b.ReadString(); err != nil {
		return err
	}
	if p.DisplayName, err = b.ReadString(); err != nil {
		return err
	}
	if p.Entry, err = b.ReadString(); err != nil {
		return err
	}
	if p.IsJar, err = b.ReadBool(); err != nil {
		return err
	}
	if p.ClasspathNameHash, err = b.ReadUint32(); err != nil {
		return err
	}
	if p.ClasspathMTimeHash, err = b.ReadUint32(); err != nil {
		return err
	}
	if p.AgentNameHash, err = b.ReadUint32(); err != nil {
		return err
	}
	if p.StrictMatch, err = b.ReadBool(); err != nil {
		return err
	}
	if p.CommandLine, err = b.ReadString(); err != nil {
		return err
	}
	if p.EnableCLR, err = b.ReadBool(); err != nil {
		return err
	}
	if p.EnableCDS, err = b.ReadBool(); err != nil {
		return err
	}
	if p.EnableAOT, err = b.ReadBool(); err != nil {
		return err
	}
	if p.EnablePGO, err = b.ReadBool(); err != nil {
		return err
	}
	return p.Flags.deserialize(b)
}
