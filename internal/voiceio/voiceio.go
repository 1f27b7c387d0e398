// Package voiceio abstracts the caller-facing channel: CLI for development,
// a browser websocket for web calls, and (via the bridge package) telephony.
//
// A handler turns whatever its channel carries into [signal.Signal] values
// and plays back [signal.Response] values. Handlers own their transport; the
// orchestrator only sees the channel of signals.
package voiceio

import (
	"github.com/voxloop/voxloop/internal/signal"
)

// Handler is one caller-facing I/O channel.
type Handler interface {
	// Signals returns the inbound signal stream. The channel closes when
	// the caller hangs up or the transport fails; check Err afterwards.
	Signals() <-chan signal.Signal

	// Send plays a response to the caller. Responses the channel cannot
	// express (audio on a text channel) are silently skipped.
	Send(resp signal.Response) error

	// Err returns the terminal error after Signals closes, or nil for a
	// clean hangup.
	Err() error

	// Close tears the channel down. Idempotent.
	Close() error
}
