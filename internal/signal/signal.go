// Package signal defines the messages flowing between I/O handlers, agents,
// and the orchestrator.
//
// Both directions are modelled as tagged variants: a [Signal] is one of
// audio, text, or system input, and a [Response] is one of audio, text, tool
// call, routing, or error output. The sets are closed, so each processing
// stage can dispatch with a single switch on the kind.
package signal

import (
	"time"

	"github.com/google/uuid"
)

// Kind tags the variant of a [Signal].
type Kind string

const (
	KindAudio  Kind = "audio"
	KindText   Kind = "text"
	KindSystem Kind = "system"
)

// Encoding identifies the sample encoding of an audio signal.
type Encoding string

const (
	EncodingLinear16 Encoding = "LINEAR16"
	EncodingMulaw    Encoding = "MULAW"
)

// Signal is one unit of input entering the framework.
type Signal struct {
	ID        string
	Kind      Kind
	Timestamp time.Time
	SessionID string
	Metadata  map[string]any

	// Audio payload (KindAudio).
	Samples    []byte
	SampleRate int
	Channels   int
	Encoding   Encoding

	// Text payload (KindText and KindSystem).
	Content  string
	Language string
}

// NewAudio builds an audio signal with a fresh id and UTC timestamp.
func NewAudio(sessionID string, samples []byte, rate, channels int, enc Encoding) Signal {
	return Signal{
		ID:         uuid.NewString(),
		Kind:       KindAudio,
		Timestamp:  time.Now().UTC(),
		SessionID:  sessionID,
		Samples:    samples,
		SampleRate: rate,
		Channels:   channels,
		Encoding:   enc,
	}
}

// NewText builds a text signal with a fresh id and UTC timestamp.
func NewText(sessionID, content string) Signal {
	return Signal{
		ID:        uuid.NewString(),
		Kind:      KindText,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Content:   content,
		Language:  "en",
	}
}

// NewSystem builds a system signal carrying an instruction for the agent.
func NewSystem(sessionID, content string) Signal {
	s := NewText(sessionID, content)
	s.Kind = KindSystem
	return s
}

// Transcription returns the textual content of the signal: the content of a
// text or system signal, or the "transcription" metadata of an audio signal.
// Returns "" when no text is available.
func (s Signal) Transcription() string {
	if s.Kind == KindText || s.Kind == KindSystem {
		return s.Content
	}
	if t, ok := s.Metadata["transcription"].(string); ok {
		return t
	}
	return ""
}
