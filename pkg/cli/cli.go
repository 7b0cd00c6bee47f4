// Blood Group Bridge
// Copyright (c) 2026 The Blood Group Bridge Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Blood Group Bridge.
//
// Blood Group Bridge is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Blood Group Bridge is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Blood Group Bridge.  If not, see <http://www.gnu.org/licenses/>.

package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/bgbridge/bloodgroup-bridge/internal/telemetry"
	"github.com/bgbridge/bloodgroup-bridge/pkg/config"
	"github.com/bgbridge/bloodgroup-bridge/pkg/helpers"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Flags struct {
	Version   *bool
	Config    *string
	Device    *string
	Demo      *bool
	ListPorts *bool
	Predict   *string
}

// SetupFlags defines the command line flags on fs.
func SetupFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		Version: fs.Bool(
			"version",
			false,
			"print version and exit",
		),
		Config: fs.String(
			"config",
			"",
			"path to config file (default: "+config.CfgFile+" in the user config dir, or $"+config.CfgEnv+")",
		),
		Device: fs.String(
			"device",
			"",
			"preferred serial device, overrides the config file",
		),
		Demo: fs.Bool(
			"demo",
			false,
			"skip device discovery and run in demo mode",
		),
		ListPorts: fs.Bool(
			"list-ports",
			false,
			"list serial ports and exit",
		),
		Predict: fs.String(
			"predict",
			"",
			"classify a single image file and exit",
		),
	}
}

// Pre parses args and handles flags that need no setup. It returns true if
// the process should exit.
func (f *Flags) Pre(fs *flag.FlagSet, args []string, out io.Writer) (bool, error) {
	if err := fs.Parse(args); err != nil {
		return true, fmt.Errorf("failed to parse flags: %w", err)
	}

	if *f.Version {
		_, _ = fmt.Fprintf(out, "bgbridge v%s (%s/%s)\n", config.AppVersion, runtime.GOOS, runtime.GOARCH)
		return true, nil
	}
	return false, nil
}

// Setup initializes logging, the config and error reporting, in that
// order. The returned logger is the log file, to be closed on exit.
//
//nolint:gocritic // config struct copied for immutability
func Setup(
	flags *Flags,
	defaults config.Values,
	writers []io.Writer,
) (*config.Instance, *lumberjack.Logger, error) {
	logFile, err := helpers.InitLogging(helpers.LogDir(), false, writers...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	cfg, err := config.NewConfig(helpers.ConfigDir(), defaults, config.WithPath(*flags.Config))
	if err != nil {
		_ = logFile.Close()
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	helpers.SetLogLevel(cfg.DebugLogging())

	base := io.MultiWriter(append([]io.Writer{logFile}, writers...)...)
	if err := telemetry.Init(telemetry.Settings{
		Enabled:    cfg.ErrorReporting(),
		DSN:        cfg.ErrorReportingDSN(),
		InstanceID: cfg.InstanceID(),
		Version:    config.AppVersion,
	}, base); err != nil {
		log.Warn().Err(err).Msg("failed to initialize error reporting")
	}

	log.Info().Msgf("bgbridge v%s starting, config: %s, pid: %d", config.AppVersion, cfg.Path(), os.Getpid())
	return cfg, logFile, nil
}
