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

// Package server implements the listener, bounded worker pool and
// connection dispatch described in §4.5: a TCP accept loop handing each
// connection to a semaphore-bounded pool of stream handlers.
package server

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/semaphore"

	"github.com/nabbar/boostrpc/stream"
)

// Handler processes one accepted connection end to end (handshake +
// dispatch loop) until the stream closes or transfers ownership away.
type Handler func(ctx context.Context, s *stream.ServerStream)

// Config bundles the listener's tunables, sourced from the config package's
// flag surface (BoosterAddress/BoosterPort/BoosterTimeout and friends).
type Config struct {
	Address     string
	MaxWorkers  int64
	DialTimeout time.Duration
	TLS         *tls.Config
}

// Listener runs the accept loop of §4.5: non-blocking-equivalent accept
// with a poll interval, SO_REUSEADDR/SO_KEEPALIVE via net.ListenConfig,
// and a bounded worker pool implemented with golang.org/x/sync/semaphore
// (the teacher's own semaphore package ships no production source in this
// retrieval pack — only tests — so the equivalent ecosystem library
// already in this module's dependency set is used directly; see
// DESIGN.md).
type Listener struct {
	cfg  Config
	log  hclog.Logger
	sem  *semaphore.Weighted
	ln   net.Listener
	quit chan struct{}
}

// New builds a Listener bound to cfg.Address. It does not start accepting
// until Serve is called.
func New(cfg Config, log hclog.Logger) (*Listener, error) {
	lc := net.ListenConfig{KeepAlive: 30 * time.Second}
	ln, err := lc.Listen(context.Background(), "tcp4", cfg.Address)
	if err != nil {
		return nil, err
	}
	if cfg.TLS != nil {
		ln = tls.NewListener(ln, cfg.TLS)
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 64
	}
	return &Listener{
		cfg:  cfg,
		log:  log,
		sem:  semaphore.NewWeighted(cfg.MaxWorkers),
		ln:   ln,
		quit: make(chan struct{}),
	}, nil
}

// Addr returns the bound address, useful when Address was given as ":0".
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve accepts connections until ctx is cancelled or Close is called,
// handing each to handler on its own goroutine once a worker-pool slot is
// available. If the pool has no free slot the connection is closed
// immediately, per §4.5 ("if the pool rejects a hand-off the fd is
// closed").
func (l *Listener) Serve(ctx context.Context, handler Handler) error {
	go func() {
		<-ctx.Done()
		_ = l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-l.quit:
				return nil
			default:
				l.log.Warn("accept failed", "error", err)
				continue
			}
		}

		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}

		if !l.sem.TryAcquire(1) {
			l.log.Warn("worker pool saturated, dropping connection", "remote", conn.RemoteAddr())
			_ = conn.Close()
			continue
		}

		go func() {
			defer l.sem.Release(1)
			handler(ctx, stream.NewServerStream(conn))
		}()
	}
}

// Close stops the accept loop and releases the listening socket.
func (l *Listener) Close() error {
	close(l.quit)
	return l.ln.Close()
}
