// Package vanelog centralises the zerolog setup used by every worker in the
// node so that log lines share a consistent "component" field.
package vanelog

import (
	"os"

	"github.com/rs/zerolog"
)

// Base is the process-wide root logger. Individual workers derive a scoped
// child via For, never writing to Base directly.
var Base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
	With().
	Timestamp().
	Logger()

// For returns a child logger tagged with the given component name.
func For(component string) zerolog.Logger {
	return Base.With().Str("component", component).Logger()
}
