// Package bridge connects a Twilio Media Streams websocket to a live model
// session: inbound mu-law telephone audio up to the model, model audio back
// down the phone line, with agent switching and tool execution in between.
package bridge

import "encoding/json"

// Twilio Media Streams event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventClear     = "clear"
)

// Event is the envelope for every frame on a Media Streams connection, both
// directions. Twilio's field casing is part of the wire contract.
type Event struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequenceNumber,omitempty"`
	StreamSid      string `json:"streamSid,omitempty"`

	// connected
	Protocol string `json:"protocol,omitempty"`
	Version  string `json:"version,omitempty"`

	Start *StartPayload `json:"start,omitempty"`
	Media *MediaPayload `json:"media,omitempty"`
	Stop  *StopPayload  `json:"stop,omitempty"`
	Mark  *MarkPayload  `json:"mark,omitempty"`
}

// StartPayload carries the call metadata sent once per stream.
type StartPayload struct {
	AccountSid       string            `json:"accountSid"`
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

// MediaFormat describes the audio encoding of the stream. Twilio telephony
// is always 8 kHz mono mu-law.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload carries one base64 mu-law audio chunk.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// StopPayload is sent when the caller hangs up or the stream is stopped.
type StopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// MarkPayload labels a point in the outbound audio queue. Twilio echoes the
// mark back once playback reaches it.
type MarkPayload struct {
	Name string `json:"name"`
}

// mediaEvent builds an outbound media frame for the stream.
func mediaEvent(streamSid, b64Payload string) ([]byte, error) {
	return json.Marshal(Event{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &MediaPayload{Payload: b64Payload},
	})
}

// clearEvent builds the frame that flushes Twilio's outbound audio queue,
// used when a new agent takes over mid-utterance.
func clearEvent(streamSid string) ([]byte, error) {
	return json.Marshal(Event{Event: EventClear, StreamSid: streamSid})
}

// markEvent builds an outbound mark frame.
func markEvent(streamSid, name string) ([]byte, error) {
	return json.Marshal(Event{
		Event:     EventMark,
		StreamSid: streamSid,
		Mark:      &MarkPayload{Name: name},
	})
}
