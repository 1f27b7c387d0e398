// Package live defines the provider-agnostic contract for a bidirectional
// LLM live-session: audio and text flow in, audio, text, and tool calls flow
// out, over one long-lived connection.
//
// A session outlives individual model turns. Turn boundaries are signalled
// by the provider via [Response.TurnComplete] and do not end the session.
package live

import "context"

// ToolDeclaration advertises one callable function to the model. Parameters
// is a JSON-Schema-shaped object description.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// SessionConfig configures a new live session.
type SessionConfig struct {
	// SystemPrompt is the rendered system instruction for the session.
	SystemPrompt string

	// Voice selects the provider voice. Empty means provider default.
	Voice string

	// Tools are the function declarations the model may call.
	Tools []ToolDeclaration
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	CallID string
	Name   string
	Args   map[string]any
}

// Response is one unit of model output. Any combination of fields may be
// set; consumers dispatch on whichever are present.
type Response struct {
	// Text content produced by the model turn, if any.
	Text string

	// Audio is little-endian pcm16 mono at 24 kHz.
	Audio []byte

	// ToolCalls are function invocations to execute and answer.
	ToolCalls []ToolCall

	// InputTranscription is the provider's recognition of user speech.
	InputTranscription string

	// TurnComplete marks the end of a model turn. The session stays open.
	TurnComplete bool
}

// Session is an open bidirectional channel to the model.
//
// Ownership: one goroutine consumes Responses; sends may come from the
// inbound audio pump and from tool-result paths. Close is idempotent and
// unblocks the consumer by closing the Responses channel.
type Session interface {
	// SendAudio streams a chunk of little-endian pcm16 mono at 16 kHz.
	SendAudio(pcm []byte) error

	// SendText injects a text turn. endOfTurn asks the model to respond.
	SendText(text string, endOfTurn bool) error

	// SendToolResponse returns a tool result so the model can continue.
	SendToolResponse(callID, name string, result map[string]any) error

	// Responses returns the model output stream. Closed when the session
	// ends for any reason.
	Responses() <-chan Response

	// Err reports the terminal error, or nil after a clean close.
	Err() error

	// Close tears the session down. Idempotent.
	Close() error
}

// Provider opens live sessions.
type Provider interface {
	Open(ctx context.Context, cfg SessionConfig) (Session, error)
}
