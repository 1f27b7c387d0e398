package signal

// ResponseKind tags the variant of a [Response].
type ResponseKind string

const (
	ResponseAudio    ResponseKind = "audio"
	ResponseText     ResponseKind = "text"
	ResponseToolCall ResponseKind = "tool_call"
	ResponseRouting  ResponseKind = "routing"
	ResponseError    ResponseKind = "error"
)

// ToolCall is a single function invocation requested by the model.
// CallID is unique per call site.
type ToolCall struct {
	ToolName  string
	Arguments map[string]any
	CallID    string
}

// RoutingDecision is the payload of a routing response.
type RoutingDecision struct {
	ThoughtProcess  string
	RouteTo         string
	HandoverContext map[string]any
	Priority        int
}

// Response is one unit of output produced by an agent.
type Response struct {
	Kind      ResponseKind
	SessionID string
	AgentName string
	Metadata  map[string]any

	// Audio payload (ResponseAudio): little-endian pcm16.
	Audio      []byte
	SampleRate int

	// Text payload (ResponseText and ResponseError).
	Text string

	// Tool payload (ResponseToolCall).
	ToolCalls []ToolCall

	// Routing payload (ResponseRouting).
	Routing *RoutingDecision

	RequiresToolExecution bool
	IsFinal               bool
}

// TextResponse builds a final text response from the named agent.
func TextResponse(sessionID, agentName, text string) Response {
	return Response{
		Kind:      ResponseText,
		SessionID: sessionID,
		AgentName: agentName,
		Text:      text,
		IsFinal:   true,
	}
}

// AudioResponse builds an audio response from the named agent.
func AudioResponse(sessionID, agentName string, pcm []byte, rate int) Response {
	return Response{
		Kind:       ResponseAudio,
		SessionID:  sessionID,
		AgentName:  agentName,
		Audio:      pcm,
		SampleRate: rate,
		IsFinal:    true,
	}
}

// ToolCallResponse builds a response asking the orchestrator to execute tools.
func ToolCallResponse(sessionID, agentName string, calls []ToolCall) Response {
	return Response{
		Kind:                  ResponseToolCall,
		SessionID:             sessionID,
		AgentName:             agentName,
		ToolCalls:             calls,
		RequiresToolExecution: true,
	}
}

// RoutingResponse builds a response carrying a routing decision.
func RoutingResponse(sessionID, agentName string, d RoutingDecision) Response {
	return Response{
		Kind:      ResponseRouting,
		SessionID: sessionID,
		AgentName: agentName,
		Routing:   &d,
		IsFinal:   true,
	}
}

// ErrorResponse builds a user-facing error response.
func ErrorResponse(sessionID, agentName, text string) Response {
	return Response{
		Kind:      ResponseError,
		SessionID: sessionID,
		AgentName: agentName,
		Text:      text,
		IsFinal:   true,
	}
}
