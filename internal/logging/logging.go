// Copyright (c) Swattek Systems, Inc.
// SPDX-License-Identifier: BSD-3-Clause

// Package logging configures the process-wide slog logger. Flags and
// env vars set Verbose/Logfile before Init runs (grounded on the
// logging.Verbose/logging.Logfile pattern cmd/run/run.go is built
// against in the teacher).
package logging

import (
	"fmt"
	"log/slog"
	"os"
)

// Verbose enables debug-level logging when true.
var Verbose bool

// Logfile is the path debug logs are written to; empty means stdout.
var Logfile string

// Init installs the process-wide slog handler per the current values
// of Verbose and Logfile. Call once during startup, after flags have
// been parsed.
func Init() error {
	level := slog.LevelInfo
	if Verbose {
		level = slog.LevelDebug
	}

	out := os.Stdout
	if Logfile != "" {
		f, err := os.OpenFile(Logfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("logging: open %s: %w", Logfile, err)
		}
		out = f
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	return nil
}
