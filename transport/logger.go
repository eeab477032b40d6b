package transport

import "github.com/rs/zerolog"

// Logger is the logging seam used throughout the transport layer. Keeping it
// as an interface lets callers substitute any sink; the zero value of
// Session's configuration backs it with a no-op zerolog.Logger.
type Logger interface {
	Debug() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
}

type zlogger struct {
	log zerolog.Logger
}

// NewLogger wraps a zerolog.Logger as a transport Logger.
func NewLogger(log zerolog.Logger) Logger {
	return zlogger{log: log}
}

func (z zlogger) Debug() *zerolog.Event { return z.log.Debug() }
func (z zlogger) Warn() *zerolog.Event  { return z.log.Warn() }
func (z zlogger) Error() *zerolog.Event { return z.log.Error() }

// DefaultLogger discards everything, matching the driver's historical
// silent-by-default behavior.
func DefaultLogger() Logger {
	return NewLogger(zerolog.Nop())
}
