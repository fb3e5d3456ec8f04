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

package client

import (
	"os"
	"runtime"

	"github.com/nabbar/boostrpc/config"
	"github.com/nabbar/boostrpc/identity"
)

// ClasspathEntry is one entry of the running program's effective classpath,
// as the identity builder needs both its name and its last-modified time
// to fold into ProgramIdentity's ClasspathNameHash/ClasspathMTimeHash.
type ClasspathEntry struct {
	Name  string
	MTime int64 // unix nanos
}

// BuildOptions carries everything BuildIdentity needs that cannot be
// observed from the Go process itself, since this module never links
// against the managed runtime it is boosting (see Non-goals): the caller
// (the runtime's own embedding glue) supplies these.
type BuildOptions struct {
	RuntimeVersion   uint32
	RuntimeBuildInfo string
	DisplayName      string
	Entry            string
	IsJar            bool
	Classpath        []ClasspathEntry
	AgentNames       []string
	CommandLine      string
	Flags            identity.RuntimeFlags
}

// hostArch maps runtime.GOARCH onto identity.CPUArch; archs the protocol
// does not recognise fold to ArchUnknown rather than failing the build,
// since an unrecognised arch still participates correctly in equality (it
// just never matches a differently-unknown arch's cache by coincidence).
func hostArch() identity.CPUArch {
	switch runtime.GOARCH {
	case "amd64", "386":
		return identity.ArchX86
	case "arm":
		return identity.ArchARM
	case "arm64":
		return identity.ArchAARCH64
	default:
		return identity.ArchUnknown
	}
}

// BuildIdentity constructs the ProgramIdentity for this run, folding in
// strict-match command-line capture only when cfg.BoosterClientStrictMatch
// is set (§3's "only participates in equality ... when BoosterClientStrictMatch
// is enabled").
func BuildIdentity(cfg config.Config, opt BuildOptions) identity.ProgramIdentity {
	names := make([]string, len(opt.Classpath))
	mtimes := make([]int64, len(opt.Classpath))
	for i, e := range opt.Classpath {
		names[i] = e.Name
		mtimes[i] = e.MTime
	}

	clr, cds, aot, pgo := cfg.BoostPackages()

	id := identity.ProgramIdentity{
		Arch:               hostArch(),
		RuntimeVersion:      opt.RuntimeVersion,
		RuntimeBuildInfo:    opt.RuntimeBuildInfo,
		DisplayName:         opt.DisplayName,
		Entry:               identity.StripJarSuffix(opt.Entry),
		IsJar:                opt.IsJar,
		ClasspathNameHash:   identity.HashStrings(names),
		ClasspathMTimeHash:  identity.HashMTimes(mtimes),
		AgentNameHash:       identity.HashStrings(opt.AgentNames),
		StrictMatch:         cfg.BoosterClientStrictMatch,
		EnableCLR:           clr,
		EnableCDS:           cds,
		EnableAOT:           aot,
		EnablePGO:           pgo,
		Flags:               opt.Flags,
	}
	if cfg.BoosterClientStrictMatch {
		id.CommandLine = opt.CommandLine
	}
	return id
}

// DefaultCommandLine joins os.Args as a fallback CommandLine source for
// embedders that do not track it themselves.
func DefaultCommandLine() string {
	line := ""
	for i, a := range os.Args {
		if i > 0 {
			line += " "
		}
		line += a
	}
	return line
}
