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

// Package protocol defines the closed MessageType enum exchanged between
// client and server, and the request/response payload shapes carried by
// each type over the wire package's framing.
package protocol

// MessageType is the u16 carried in every frame header. The set is closed:
// a value outside this enum is a BadMsgType.
type MessageType uint16

const (
	ClientSessionMeta MessageType = iota + 1
	ClientStreamMeta
	ClientSessionMetaAgain
	EndOfCurrentPhase
	NoMoreRequests
	ClientDaemonTask
	CacheFilesSyncTask
	LazyAOTCompilationTask
	GetClassLoaderResourceCache
	GetAggressiveCDSCache
	GetLazyAOTCache
	CacheClassLoaderResource
	CacheAggressiveCDS
	ClassLoaderLocators
	DataOfClassLoaders
	KlassLocators
	DataOfKlasses
	MethodLocators
	ProfilingInfo
	ArrayKlasses
	FileSegment
	Heartbeat
	UnsupportedClient

	// Supplemental types recovered from the original AOT task flow
	// (original_source/.../messageType.hpp) that the distilled spec
	// summarized under LazyAOTCompilationTask's prose but did not name
	// individually.
	AOTRelatedClassNames
	AOTCompilationResult
	AbortCompilation
	CompilationFailure
	UnexpectedMessageType

	// ShouldSendClasses is the server's answer to the first step of a
	// LazyAOTCompilationTask (§4.7 step 1): whether the CAS on the target
	// slot succeeded, decided and sent before any locator is read.
	ShouldSendClasses
)

var messageTypeName = map[MessageType]string{
	ClientSessionMeta:           "ClientSessionMeta",
	ClientStreamMeta:            "ClientStreamMeta",
	ClientSessionMetaAgain:      "ClientSessionMetaAgain",
	EndOfCurrentPhase:           "EndOfCurrentPhase",
	NoMoreRequests:              "NoMoreRequests",
	ClientDaemonTask:            "ClientDaemonTask",
	CacheFilesSyncTask:          "CacheFilesSyncTask",
	LazyAOTCompilationTask:      "LazyAOTCompilationTask",
	GetClassLoaderResourceCache: "GetClassLoaderResourceCache",
	GetAggressiveCDSCache:       "GetAggressiveCDSCache",
	GetLazyAOTCache:             "GetLazyAOTCache",
	CacheClassLoaderResource:    "CacheClassLoaderResource",
	CacheAggressiveCDS:          "CacheAggressiveCDS",
	ClassLoaderLocators:         "ClassLoaderLocators",
	DataOfClassLoaders:          "DataOfClassLoaders",
	KlassLocators:               "KlassLocators",
	DataOfKlasses:               "DataOfKlasses",
	MethodLocators:              "MethodLocators",
	ProfilingInfo:               "ProfilingInfo",
	ArrayKlasses:                "ArrayKlasses",
	FileSegment:                 "FileSegment",
	Heartbeat:                   "Heartbeat",
	UnsupportedClient:           "UnsupportedClient",
	AOTRelatedClassNames:        "AOTRelatedClassNames",
	AOTCompilationResult:        "AOTCompilationResult",
	AbortCompilation:            "AbortCompilation",
	CompilationFailure:          "CompilationFailure",
	UnexpectedMessageType:       "UnexpectedMessageType",
	ShouldSendClasses:           "ShouldSendClasses",
}

func (t MessageType) String() string {
	if n, ok := messageTypeName[t]; ok {
		return n
	}
	return "UnknownMessageType"
}

// Valid reports whether t is a member of the closed enum.
func (t MessageType) Valid() bool {
	_, ok := messageTypeName[t]
	return ok
}

// CacheSlot names one of the five artifact classes a ProgramData tracks.
type CacheSlot uint8

const (
	SlotCLR CacheSlot = iota
	SlotDynamicCDS
	SlotAggressiveCDS
	SlotAOTStatic
	SlotAOTPGO
	slotCount
)

var slotSuffix = map[CacheSlot]string{
	SlotCLR:           "clr.log",
	SlotDynamicCDS:    "dy-cds.jsa",
	SlotAggressiveCDS: "cds.jsa",
	SlotAOTStatic:     "aot.so",
	SlotAOTPGO:        "aot-pgo.so",
}

// FileName returns the on-disk artifact name for this slot under a program's
// string id, e.g. "cache-myapp-a1b2c3d4-cds.jsa".
func (s CacheSlot) FileName(programStrID string) string {
	return "cache-" + programStrID + "-" + slotSuffix[s]
}

func (s CacheSlot) String() string {
	if n, ok := slotSuffix[s]; ok {
		return n
	}
	return "unknown-slot"
}
