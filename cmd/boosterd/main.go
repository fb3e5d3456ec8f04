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

// Command boosterd runs the booster server: the listener, connection
// dispatcher, and heartbeat/eviction control loop of §4.5/§4.6.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nabbar/boostrpc/certs"
	"github.com/nabbar/boostrpc/client"
	"github.com/nabbar/boostrpc/compiler"
	"github.com/nabbar/boostrpc/config"
	"github.com/nabbar/boostrpc/control"
	"github.com/nabbar/boostrpc/identity"
	"github.com/nabbar/boostrpc/metrics"
	"github.com/nabbar/boostrpc/server"
	"github.com/nabbar/boostrpc/session"
)

// noopResolver is the default session.Resolver when boosterd runs without an
// embedded managed runtime to reconstruct class loaders against — standalone
// protocol testing and development. A real deployment links a Resolver
// implementation supplied by the managed runtime (out of scope, §1).
type noopResolver struct{}

func (noopResolver) ResolveBoot() session.ClassLoaderHandle     { return nil }
func (noopResolver) ResolvePlatform() session.ClassLoaderHandle { return nil }
func (noopResolver) ResolveCustom(_ session.ClassLoaderKey, _ session.ClassLoaderHandle) (session.ClassLoaderHandle, error) {
	return nil, nil
}
func (noopResolver) Release(_ []session.ClassLoaderHandle) {}

// unavailableDriver rejects every compilation request; wired in only when
// no real compiler.Driver is configured, since the JIT/AOT backend itself
// is explicitly out of scope (§1) and this binary has no built-in one.
var unavailableDriver = compiler.DriverFunc(func(_ context.Context, _ compiler.Request) (compiler.Result, error) {
	return compiler.Result{}, errors.New("boosterd: no compiler driver configured")
})

func main() {
	def := config.Default()
	def.AsBooster = true

	root := &cobra.Command{
		Use:   "boosterd",
		Short: "booster coordination server",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			cfg, err := config.Load(v, cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	config.BindFlags(root.Flags(), def)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		color.Red("boosterd: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logrusLog := logrus.New()
	log := hclog.New(&hclog.LoggerOptions{
		Name:  "boosterd",
		Level: hclog.Info,
		Output: logrusLog.Writer(),
	})

	cacheDir := cfg.BoosterCachePath
	if cacheDir == "" {
		var err error
		if cacheDir, err = client.DefaultCacheDir("server"); err != nil {
			return err
		}
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	data := server.NewDataManager(noopResolver{}, server.DefaultTimeouts())
	loop := control.NewLoop(data, m, log)

	serverIdentity := identity.ProgramIdentity{Arch: identity.ArchX86, Flags: identity.RuntimeFlags{UseG1GC: true}}
	disp := server.NewDispatcher(data, unavailableDriver, cacheDir, serverIdentity, log)
	disp.Metrics = m
	disp.OnDaemonStream = loop.Register

	tlsCfg, err := certs.Config{
		CertFile:          cfg.BoosterTLSCertFile,
		KeyFile:           cfg.BoosterTLSKeyFile,
		ClientCAFile:      cfg.BoosterTLSClientCA,
		RequireClientCert: cfg.BoosterTLSRequireMTLS,
	}.Build()
	if err != nil {
		return err
	}

	ln, err := server.New(server.Config{Address: fmt.Sprintf("%s:%d", cfg.BoosterAddress, cfg.BoosterPort), TLS: tlsCfg}, log)
	if err != nil {
		return err
	}
	if tlsCfg != nil {
		color.Green("boosterd: TLS enabled for the listener")
	}

	go loop.Run(ctx)

	color.Green("boosterd listening on %s", ln.Addr())
	err = ln.Serve(ctx, disp.Handle)
	_ = ln.Close()
	return err
}
