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

// Package config defines the flag surface recognised by both binaries
// (boosterd, boosterc), loaded through viper/pflag and validated with
// go-playground/validator before any component trusts it.
package config

import (
	"fmt"
	"strconv"
	"strings"

	libval "github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the flag surface: every field here maps to one externally
// defined flag name, settable by CLI flag, environment variable
// (BOOSTER_<FIELD>), or config file, in that precedence order.
type Config struct {
	UseBooster   bool   `mapstructure:"use_booster" validate:"-"`
	AsBooster    bool   `mapstructure:"as_booster" validate:"-"`
	BoosterAddress string `mapstructure:"booster_address" validate:"omitempty,hostname_rfc1123|ip"`
	BoosterPort    uint16 `mapstructure:"booster_port" validate:"omitempty,gte=1024"`

	BoosterTimeout uint `mapstructure:"booster_timeout" validate:"gte=0"`

	BoosterCachePath string `mapstructure:"booster_cache_path"`
	BoosterLocalMode bool   `mapstructure:"booster_local_mode"`

	BoosterStartupSignal  string `mapstructure:"booster_startup_signal" validate:"omitempty"`
	BoosterStartupMaxTime int    `mapstructure:"booster_startup_max_time" validate:"gte=0"`

	BoostStopAtLevel  int    `mapstructure:"boost_stop_at_level" validate:"gte=0,lte=4"`
	UseBoostPackages  string `mapstructure:"use_boost_packages" validate:"omitempty"`

	BoosterClientStrictMatch   bool `mapstructure:"booster_client_strict_match"`
	BoosterCrashIfNoServer     bool `mapstructure:"booster_crash_if_no_server"`
	BoosterExitIfUnsupported   bool `mapstructure:"booster_exit_if_unsupported"`
	BoosterResolveExtraKlasses bool `mapstructure:"booster_resolve_extra_klasses"`

	// TLS wrapping of the listener is optional and off by default (§4.5);
	// it only activates once both a certificate and key are configured.
	BoosterTLSCertFile   string `mapstructure:"booster_tls_cert_file" validate:"omitempty"`
	BoosterTLSKeyFile    string `mapstructure:"booster_tls_key_file" validate:"omitempty,required_with=BoosterTLSCertFile"`
	BoosterTLSClientCA   string `mapstructure:"booster_tls_client_ca" validate:"omitempty"`
	BoosterTLSRequireMTLS bool  `mapstructure:"booster_tls_require_mtls"`
}

// Default returns the documented defaults (§6): 4s socket timeout, stop
// level 0 (boost disabled until a flag or package list turns it on).
func Default() Config {
	return Config{
		BoosterTimeout:   4000,
		BoostStopAtLevel: 0,
	}
}

// BindFlags registers every field of Config onto fs. Each flag name is the
// field's mapstructure tag with dashes in place of underscores; Load maps
// the names back to the tags.
func BindFlags(fs *pflag.FlagSet, def Config) {
	fs.Bool("use-booster", def.UseBooster, "enable the client boost path")
	fs.Bool("as-booster", def.AsBooster, "run this process as the booster server")
	fs.String("booster-address", def.BoosterAddress, "booster server address")
	fs.Uint16("booster-port", def.BoosterPort, "booster server port (1024-65535)")
	fs.Uint("booster-timeout", def.BoosterTimeout, "per-operation socket timeout in milliseconds")
	fs.String("booster-cache-path", def.BoosterCachePath, "cache directory (default $HOME/.booster/{client|server})")
	fs.Bool("booster-local-mode", def.BoosterLocalMode, "skip the server, use only the local cache")
	fs.String("booster-startup-signal", def.BoosterStartupSignal, "method signature marking end of startup")
	fs.Int("booster-startup-max-time", def.BoosterStartupMaxTime, "fallback startup timeout in seconds, 0 disables it")
	fs.Int("boost-stop-at-level", def.BoostStopAtLevel, "boost level to stop at: 0 none, 1 +clr, 2 +cds, 3 +aot, 4 +pgo")
	fs.String("use-boost-packages", def.UseBoostPackages, "csv of clr|cds|aot|pgo or all, alternative to boost-stop-at-level")
	fs.Bool("booster-client-strict-match", def.BoosterClientStrictMatch, "include the full command line in the program identity")
	fs.Bool("booster-crash-if-no-server", def.BoosterCrashIfNoServer, "exit if the session handshake fails")
	fs.Bool("booster-exit-if-unsupported", def.BoosterExitIfUnsupported, "exit if the server rejects this client as unsupported")
	fs.Bool("booster-resolve-extra-klasses", def.BoosterResolveExtraKlasses, "drive the compiler driver's extra class resolution mode")
	fs.String("booster-tls-cert-file", def.BoosterTLSCertFile, "PEM certificate file; enables TLS on the listener together with the key file")
	fs.String("booster-tls-key-file", def.BoosterTLSKeyFile, "PEM private key file for booster-tls-cert-file")
	fs.String("booster-tls-client-ca", def.BoosterTLSClientCA, "PEM root CA file used to verify client certificates")
	fs.Bool("booster-tls-require-mtls", def.BoosterTLSRequireMTLS, "reject clients that do not present a certificate verified by booster-tls-client-ca")
}

// Load builds a Config from fs-bound flags, BOOSTER_-prefixed environment
// variables, and an optional config file already set on v, validates it,
// and returns the result.
func Load(v *viper.Viper, fs *pflag.FlagSet) (Config, error) {
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if bindErr == nil {
			bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
		}
	})
	if bindErr != nil {
		return Config{}, bindErr
	}
	v.SetEnvPrefix("booster")
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, err
	}
	if err := Validate(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

var validate = libval.New()

// Validate runs struct-tag validation plus the cross-field rules §6 states
// in prose rather than as a single tag (booster-port required with
// as-booster, stop-level/package-list mutual exclusion, known package
// names, TLS cert/key pairing). The port is checked as a number only: at
// least 1024 when set, and a uint16 cannot exceed 65535. Its textual form,
// such as a leading zero, is not checked.
func Validate(c Config) error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.AsBooster && c.BoosterPort == 0 {
		return fmt.Errorf("config: booster-port is required when as-booster is set")
	}
	if c.BoostStopAtLevel != 0 && c.UseBoostPackages != "" {
		return fmt.Errorf("config: boost-stop-at-level and use-boost-packages are mutually exclusive")
	}
	if c.UseBoostPackages != "" {
		for _, pkg := range strings.Split(c.UseBoostPackages, ",") {
			switch strings.ToLower(strings.TrimSpace(pkg)) {
			case "clr", "cds", "aot", "pgo", "all":
			default:
				return fmt.Errorf("config: unrecognised boost package %q", pkg)
			}
		}
	}
	if (c.BoosterTLSCertFile == "") != (c.BoosterTLSKeyFile == "") {
		return fmt.Errorf("config: booster-tls-cert-file and booster-tls-key-file must be set together")
	}
	if c.BoosterTLSRequireMTLS && c.BoosterTLSClientCA == "" {
		return fmt.Errorf("config: booster-tls-require-mtls requires booster-tls-client-ca")
	}
	return nil
}

// BoostPackages expands UseBoostPackages/BoostStopAtLevel into the four
// boolean enable flags folded into identity.ProgramIdentity, implementing
// §6's "alternative to above; mutually exclusive" contract in one place.
func (c Config) BoostPackages() (clr, cds, aot, pgo bool) {
	if c.UseBoostPackages != "" {
		set := map[string]bool{}
		for _, pkg := range strings.Split(c.UseBoostPackages, ",") {
			set[strings.ToLower(strings.TrimSpace(pkg))] = true
		}
		if set["all"] {
			return true, true, true, true
		}
		return set["clr"], set["cds"], set["aot"], set["pgo"]
	}
	switch c.BoostStopAtLevel {
	case 1:
		return true, false, false, false
	case 2:
		return true, true, false, false
	case 3:
		return true, true, true, false
	case 4:
		return true, true, true, true
	default:
		return false, false, false, false
	}
}

// Addr formats BoosterAddress/BoosterPort as a dial target.
func (c Config) Addr() string {
	return c.BoosterAddress + ":" + strconv.Itoa(int(c.BoosterPort))
}
