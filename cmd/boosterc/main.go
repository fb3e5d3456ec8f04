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

// Command boosterc drives the client half of the protocol: useful both as
// the embedding point for a real managed runtime's boost glue and, on its
// own, as a way to exercise a running boosterd end to end.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nabbar/boostrpc/client"
	"github.com/nabbar/boostrpc/config"
	"github.com/nabbar/boostrpc/protocol"
)

func main() {
	def := config.Default()
	def.UseBooster = true

	root := &cobra.Command{
		Use:   "boosterc",
		Short: "booster client probe",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			cfg, err := config.Load(v, cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, args)
		},
	}
	config.BindFlags(root.Flags(), def)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		color.Red("boosterc: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, args []string) error {
	logrusLog := logrus.New()
	log := hclog.New(&hclog.LoggerOptions{
		Name:   "boosterc",
		Level:  hclog.Info,
		Output: logrusLog.Writer(),
	})

	if !cfg.UseBooster {
		color.Yellow("boosterc: use-booster is disabled, nothing to do")
		return nil
	}

	entry := "probe"
	if len(args) > 0 {
		entry = args[0]
	}

	cacheDir := cfg.BoosterCachePath
	if cacheDir == "" {
		var err error
		if cacheDir, err = client.DefaultCacheDir("client"); err != nil {
			return err
		}
	}

	startupSignal, err := client.ParseStartupSignal(cfg.BoosterStartupSignal, time.Duration(cfg.BoosterStartupMaxTime)*time.Second, nil)
	if err != nil {
		return err
	}

	id := client.BuildIdentity(cfg, client.BuildOptions{
		DisplayName: entry,
		Entry:       entry,
		CommandLine: client.DefaultCommandLine(),
	})

	slots := map[protocol.CacheSlot]bool{
		protocol.SlotCLR:           id.EnableCLR,
		protocol.SlotDynamicCDS:    id.EnableCDS,
		protocol.SlotAggressiveCDS: id.EnableCDS,
		protocol.SlotAOTStatic:     id.EnableAOT,
		protocol.SlotAOTPGO:        id.EnablePGO,
	}

	if cfg.BoosterLocalMode {
		color.Yellow("boosterc: local mode, skipping server handshake")
		lc, err := client.NewLocalCache(cacheDir, id.StringID(), slots)
		if err != nil {
			return err
		}
		for slot, allowed := range slots {
			if allowed && lc.Slot(slot).CheckConsistency() {
				color.Green("boosterc: local cache already has %s", slot)
			}
		}
		return nil
	}

	c, err := client.Dial(ctx, cfg, id, cacheDir, log)
	if err != nil {
		if cfg.BoosterCrashIfNoServer {
			color.Red("boosterc: handshake failed: %v", err)
			os.Exit(1)
		}
		return err
	}
	c.SetStartupSignal(startupSignal)

	lc, err := client.NewLocalCache(cacheDir, id.StringID(), slots)
	if err != nil {
		log.Warn("local cache unavailable, shutdown trigger will rely on server state alone", "error", err)
		lc = nil
	}

	color.Green("boosterc: session established for %s", id.StringID())

	go func() {
		if err := c.StartDaemon(ctx); err != nil {
			log.Warn("daemon stream ended", "error", err)
		}
	}()

	<-ctx.Done()

	triggerCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.TriggerMissingGeneration(triggerCtx, lc, nil); err != nil {
		log.Warn("shutdown generation trigger failed", "error", err)
	}

	return c.Close()
}
