// Package supervisor runs the long-lived parts of each binary under a
// suture tree so a failing service is restarted with backoff instead of
// taking the process down.
package supervisor

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

// Supervisor settings shared by every binary.
const (
	FailureThreshold = 5.0
	FailureDecay     = 30.0
	FailureBackoff   = 15 * time.Second
	ShutdownTimeout  = 10 * time.Second
)

// New returns a root supervisor whose lifecycle events go to logger.
func New(name string, logger zerolog.Logger) *suture.Supervisor {
	return suture.New(name, suture.Spec{
		EventHook:        EventHook(logger),
		FailureThreshold: FailureThreshold,
		FailureDecay:     FailureDecay,
		FailureBackoff:   FailureBackoff,
		Timeout:          ShutdownTimeout,
	})
}

// EventHook logs suture events. Panics and backoff are errors.
func EventHook(logger zerolog.Logger) suture.EventHook {
	logger = logger.With().Str("component", "supervisor").Logger()
	return func(e suture.Event) {
		ev := logger.Warn()
		switch e.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeBackoff:
			ev = logger.Error()
		case suture.EventTypeResume:
			ev = logger.Info()
		}
		ev.Fields(e.Map()).Msg(e.String())
	}
}
