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

// Package compiler declares the external compiler-driver boundary: the
// JIT/AOT backend itself is explicitly out of scope (§1), reached only
// through this interface.
package compiler

import "context"

// ClassRef names a class by its client-observed identity, already resolved
// through the session's address maps to a server-local token.
type ClassRef struct {
	Name        string
	ServerToken uint64
}

// MethodRef names a method within a class, analogous to ClassRef.
type MethodRef struct {
	Class     ClassRef
	Name      string
	Signature string
}

// Request bundles everything a LazyAOTCompilationTask has gathered before
// invoking the driver (§4.7 step 2-3).
type Request struct {
	SessionID         uint32
	OutputPath        string
	Classes           []ClassRef
	MethodsToCompile  []MethodRef
	MethodsNotCompile []MethodRef
	PGO               bool
	ResolveExtras     bool
}

// Result is what a successful compilation yields.
type Result struct {
	ArtifactPath string
}

// Driver is the external collaborator invoked as
// (session_id, output_path, classes, methods_to_compile, methods_not_compile,
// pgo, resolve_extras) -> (ok, artifact, err), per §1 and §4.7.
type Driver interface {
	Compile(ctx context.Context, req Request) (Result, error)
}

// DriverFunc adapts a plain function to Driver.
type DriverFunc func(ctx context.Context, req Request) (Result, error)

func (f DriverFunc) Compile(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}
