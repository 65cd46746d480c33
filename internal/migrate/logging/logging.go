// Package logging configures the loader's diagnostics sinks: a console run
// log and a JSON file receiving every failed transaction group with enough
// context for offline replay.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

const logFilePermission = 0o664

// NewRunLogger returns the primary run logger, writing human-readable output
// to w (normally stderr).
func NewRunLogger(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	return zerolog.New(console).Level(level).With().Timestamp().Logger()
}

// NewFailedTxLogger returns a logger appending JSON lines to path, one per
// failed transaction group. The returned closer must be called at run end.
func NewFailedTxLogger(path string) (zerolog.Logger, io.Closer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, logFilePermission)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("failed to open failed-tx log %s: %w", path, err)
	}
	logger := zerolog.New(zerolog.SyncWriter(f)).With().Timestamp().Logger()
	return logger, f, nil
}
