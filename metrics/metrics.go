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

// Package metrics bundles the prometheus collectors shared by the server's
// dispatcher and its control loop. It is a leaf package deliberately kept
// free of any dependency on server/control/stream, so both can import it
// without an import cycle.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the set of collectors an operator would alert on: session and
// program occupancy, cache hit/miss counts, compile failures, and daemon
// stream evictions.
type Metrics struct {
	SessionsActive  prometheus.Gauge
	ProgramsActive  prometheus.Gauge
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	CompileFailures prometheus.Counter
	DaemonEvictions prometheus.Counter
}

// New builds a Metrics and registers it against reg, if non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "boostrpc", Subsystem: "server", Name: "sessions_active",
			Help: "Number of sessions currently tracked by the server.",
		}),
		ProgramsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "boostrpc", Subsystem: "server", Name: "programs_active",
			Help: "Number of distinct program identities currently tracked by the server.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boostrpc", Subsystem: "cache", Name: "hits_total",
			Help: "Cache slot reads that found a consistent, already-generated artifact.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boostrpc", Subsystem: "cache", Name: "misses_total",
			Help: "Cache slot reads that found no artifact or a tampered one.",
		}),
		CompileFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boostrpc", Subsystem: "compiler", Name: "failures_total",
			Help: "LazyAOTCompilationTask requests that did not produce an artifact.",
		}),
		DaemonEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boostrpc", Subsystem: "server", Name: "daemon_evictions_total",
			Help: "Daemon streams evicted after missed heartbeats or a closed connection.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SessionsActive, m.ProgramsActive,
			m.CacheHits, m.CacheMisses,
			m.CompileFailures, m.DaemonEvictions,
		)
	}
	return m
}
