// Package sysutil wires process-wide concerns shared by the binaries:
// the global zerolog logger and the build version.
package sysutil

import (
	"io"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ParseLevel maps a config string to a zerolog level. "warning" is accepted
// for warn; empty or unknown values mean info.
func ParseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// SetupLogger installs the global logger. Pretty output uses the console
// writer and is meant for local runs only. Every line carries service and
// role. The logger also becomes the fallback for log.Ctx on contexts that
// carry none.
func SetupLogger(w io.Writer, level string, pretty bool, service, role string) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(level))
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	out := w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}
	l := zerolog.New(out).With().
		Timestamp().
		Str("service", service).
		Str("role", role).
		Logger()

	log.Logger = l
	zerolog.DefaultContextLogger = &log.Logger
	return l
}

// Version reports the first non-empty of explicit, the main module version
// recorded by the Go toolchain, and "dev".
func Version(explicit string) string {
	var build string
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "(devel)" {
		build = bi.Main.Version
	}
	return FirstNonEmpty(explicit, build, "dev")
}

// FirstNonEmpty returns the first value that is not blank, trimmed.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
