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

import "sync"

// ClassLoaderKey is the triple (§3) identifying a class loader: interned
// strings compared by content here (Go has no interning primitive as cheap
// as the original's symbol table, so equality is structural instead of
// pointer equality — semantically identical, just without the identity
// short-circuit).
type ClassLoaderKey struct {
	LoaderClassName    string
	LoaderName         string
	FirstLoadedClass   string
}

// BootLoaderKey and PlatformLoaderKey are the two well-known loaders that
// are never reconstructed (§3).
var (
	BootLoaderKey     = ClassLoaderKey{}
	PlatformLoaderKey = ClassLoaderKey{LoaderClassName: "…PlatformClassLoader"}
)

// IsBoot reports whether k identifies the boot loader.
func (k ClassLoaderKey) IsBoot() bool { return k == BootLoaderKey }

// IsPlatform reports whether k identifies the platform loader.
func (k ClassLoaderKey) IsPlatform() bool { return k == PlatformLoaderKey }

// ClassLoaderNode is one link of a ClassLoaderChain (§3): a loader key plus
// its client-side address, used to rebuild the loader tree on the server in
// parent-first order.
type ClassLoaderNode struct {
	Key            ClassLoaderKey
	ClientAddress  uint64
}

// ClassLoaderChain is the parent path from a target loader up to the boot
// loader, ordered child-to-parent as received; Resolve walks it
// parent-first per §4.3's "parent resolution is required to precede child
// insertion".
type ClassLoaderChain []ClassLoaderNode

// ParentFirst returns the chain reversed so index 0 is the boot-most
// ancestor, matching the insertion order §4.3 requires.
func (c ClassLoaderChain) ParentFirst() ClassLoaderChain {
	out := make(ClassLoaderChain, len(c))
	for i, n := range c {
		out[len(c)-1-i] = n
	}
	return out
}

// ClassLoaderHandle is an opaque reference to a reconstructed class loader;
// the real managed-runtime representation is an external collaborator this
// module never inspects, only stores and releases.
type ClassLoaderHandle any

// Resolver builds/releases reconstructed class loaders; supplied by the
// external collaborator (the managed runtime) per §4.3/§9.
type Resolver interface {
	// ResolveBoot returns the built-in boot loader handle.
	ResolveBoot() ClassLoaderHandle
	// ResolvePlatform returns the built-in platform loader handle.
	ResolvePlatform() ClassLoaderHandle
	// ResolveCustom creates a fresh custom loader with the given resolved
	// parent handle.
	ResolveCustom(key ClassLoaderKey, parent ClassLoaderHandle) (ClassLoaderHandle, error)
	// Release tears down every reconstructed loader belonging to one
	// ProgramData, called when that ProgramData is evicted.
	Release(handles []ClassLoaderHandle)
}

// ClassLoaders is the per-ProgramData nested concurrent map keyed by
// ClassLoaderKey (§4.3). Resolution rule: boot and platform keys map to the
// runtime's built-in singletons; anything else is a fresh custom loader
// whose parent is resolved first.
type ClassLoaders struct {
	mu       sync.Mutex
	resolver Resolver
	m        map[ClassLoaderKey]ClassLoaderHandle
}

// NewClassLoaders builds an empty per-program class-loader table.
func NewClassLoaders(resolver Resolver) *ClassLoaders {
	return &ClassLoaders{resolver: resolver, m: make(map[ClassLoaderKey]ClassLoaderHandle)}
}

// Resolve returns the handle for key, reconstructing it (and, transitively,
// resolving its parent first) if absent. chain supplies the parent path
// when key is neither boot nor platform.
//
// Open Question (i): when a non-boot/platform key's parent cannot be
// resolved from chain, this falls back to the boot loader as the entry's
// parent rather than failing the session — the same provisional behaviour
// the original flags, kept here (not hardened into an error) because the
// distilled spec's "falls back" language is the one explicitly endorsed
// option; see DESIGN.md.
func (c *ClassLoaders) Resolve(key ClassLoaderKey, chain ClassLoaderChain) (ClassLoaderHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveLocked(key, chain)
}

func (c *ClassLoaders) resolveLocked(key ClassLoaderKey, chain ClassLoaderChain) (ClassLoaderHandle, error) {
	if key.IsBoot() {
		return c.resolver.ResolveBoot(), nil
	}
	if key.IsPlatform() {
		return c.resolver.ResolvePlatform(), nil
	}
	if h, ok := c.m[key]; ok {
		return h, nil
	}

	var parent ClassLoaderHandle = c.resolver.ResolveBoot()
	for _, node := range chain.ParentFirst() {
		if node.Key == key {
			break
		}
		h, err := c.resolveLocked(node.Key, chain)
		if err != nil {
			return nil, err
		}
		parent = h
	}

	h, err := c.resolver.ResolveCustom(key, parent)
	if err != nil {
		return nil, err
	}
	c.m[key] = h
	return h, nil
}

// Handles returns every reconstructed (non-builtin) handle, for Release.
func (c *ClassLoaders) Handles() []ClassLoaderHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlesLocked()
}

func (c *ClassLoaders) handlesLocked() []ClassLoaderHandle {
	out := make([]ClassLoaderHandle, 0, len(c.m))
	for _, h := range c.m {
		out = append(out, h)
	}
	return out
}

// Release tears down every reconstructed loader via the resolver.
func (c *ClassLoaders) Release() {
	c.mu.Lock()
	handles := c.handlesLocked()
	c.m = make(map[ClassLoaderKey]ClassLoaderHandle)
	c.mu.Unlock()

	if len(handles) == 0 {
		return
	}
	c.resolver.Release(handles)
}
