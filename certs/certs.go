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

// Package certs wraps the booster listener's optional TLS material (§4.5):
// off by default, it only produces a *tls.Config once a certificate pair is
// configured. The shape (a Config struct carrying certificate pair and root
// CA material, validated before Build) follows nabbar-golib/certificates'
// config/cert/rootca split, trimmed to the one knob this listener needs
// instead of that package's full cipher-suite/curve/TLS-version surface.
package certs

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Config is the booster listener's TLS material. A zero Config leaves TLS
// off; CertFile+KeyFile is the minimum to turn it on, ClientCAFile layers
// mTLS on top exactly as nabbar-golib/certificates' AuthClient modes do,
// collapsed here to the two cases this listener actually offers: verify if
// presented, or require and verify.
type Config struct {
	CertFile string
	KeyFile  string

	ClientCAFile      string
	RequireClientCert bool
}

// Enabled reports whether a certificate file or a key file is configured.
func (c Config) Enabled() bool {
	return c.CertFile != "" || c.KeyFile != ""
}

// Build loads the certificate pair (and, if configured, the client CA pool)
// and returns a *tls.Config ready for server.Config.TLS, or (nil, nil) when
// TLS is not enabled, mirroring nabbar-golib/certificates' TLSConfig.TLS
// build step without that package's cipher/curve/version knobs (§4.5 only
// calls for on/off TLS, not manual suite pinning).
func (c Config) Build() (*tls.Config, error) {
	if !c.Enabled() {
		return nil, nil
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return nil, fmt.Errorf("certs: both a certificate and a key file are required")
	}

	pair, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("certs: load certificate pair: %w", err)
	}

	tc := &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS12,
	}

	if c.ClientCAFile != "" {
		pool, err := loadCertPool(c.ClientCAFile)
		if err != nil {
			return nil, err
		}
		tc.ClientCAs = pool
		if c.RequireClientCert {
			tc.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			tc.ClientAuth = tls.VerifyClientCertIfGiven
		}
	}

	return tc, nil
}

func loadCertPool(pemFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(pemFile)
	if err != nil {
		return nil, fmt.Errorf("certs: read client CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("certs: %s contains no valid PEM certificates", pemFile)
	}
	return pool, nil
}
