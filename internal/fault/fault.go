// Package fault defines the error kinds shared across the orchestrator,
// agents, and the carrier bridge.
//
// Component-local recoverable conditions are handled in place; anything that
// affects routing or user-visible state bubbles up to the event loop, which
// translates it into a short spoken line and a metric. Calls are never
// silently dropped.
package fault

import "fmt"

// InterventionType classifies why an intervention fired.
type InterventionType string

const (
	InterventionHotword   InterventionType = "HOTWORD"
	InterventionSentiment InterventionType = "SENTIMENT"
	InterventionTimeout   InterventionType = "TIMEOUT"
)

// FrameworkError is the base error kind. It carries a message and a free-form
// details map. Concrete kinds embed it.
type FrameworkError struct {
	Message string
	Details map[string]any
}

func (e *FrameworkError) Error() string { return e.Message }

// Intervention is raised by the observer to force a context switch. It is
// caught at the event-loop boundary and triggers intervention dispatch; it is
// never fatal.
type Intervention struct {
	FrameworkError
	Type        InterventionType
	TargetAgent string // empty means "let the orchestrator pick"
}

// NewIntervention builds an Intervention with the given type and target.
func NewIntervention(typ InterventionType, target, message string) *Intervention {
	return &Intervention{
		FrameworkError: FrameworkError{Message: message},
		Type:           typ,
		TargetAgent:    target,
	}
}

// RoutingError reports a failed agent switch. The call continues under the
// previous agent after a short apology.
type RoutingError struct {
	FrameworkError
	SourceAgent string
	TargetAgent string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing %s -> %s: %s", e.SourceAgent, e.TargetAgent, e.Message)
}

// AgentError reports an agent-internal failure. Recoverable errors produce an
// apology and the call continues; non-recoverable ones tear down the call.
type AgentError struct {
	FrameworkError
	AgentName   string
	Recoverable bool
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s: %s", e.AgentName, e.Message)
}

// ToolExecutionError reports a tool invocation failure, including unknown
// tool names. The LLM receives an error result object so it may adapt.
type ToolExecutionError struct {
	FrameworkError
	ToolName  string
	Arguments map[string]any
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s: %s", e.ToolName, e.Message)
}

// AuthenticationError reports that an operation requires authentication while
// the user is anonymous. The orchestrator converts it into a warm handoff to
// the identity agent.
type AuthenticationError struct {
	FrameworkError
}

// NewAuthenticationError builds an AuthenticationError with a default message
// when msg is empty.
func NewAuthenticationError(msg string) *AuthenticationError {
	if msg == "" {
		msg = "authentication required"
	}
	return &AuthenticationError{FrameworkError{Message: msg}}
}

// SessionExpiredError reports that a session is no longer valid. The call is
// torn down.
type SessionExpiredError struct {
	FrameworkError
	SessionID string
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("session %s: %s", e.SessionID, e.Message)
}
