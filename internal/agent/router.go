package agent

import (
	"context"
	"strings"

	"github.com/voxloop/voxloop/internal/callctx"
	"github.com/voxloop/voxloop/internal/prompt"
	"github.com/voxloop/voxloop/internal/signal"
)

// Well-known agent names.
const (
	RouterName      = "router"
	IdentityName    = "identity"
	TaskManagerName = "task_manager"
)

// TransferTool is the meta-tool the router's model calls to hand a caller to
// a specialist. The orchestrator intercepts it; it never executes locally.
const TransferTool = "transfer_agent"

// taskKeywords route straight to the task manager without a model round trip.
// Matched as whole words against the lowercased transcription.
var taskKeywords = []string{
	"task", "tasks", "todo", "todos", "reminder", "reminders",
	"remind", "due", "deadline", "priority",
}

// identityKeywords route to the identity agent; phrases match against the
// normalized transcription, so multi-word entries work too.
var identityKeywords = []string{
	"who am i", "my name", "identify", "identity", "my account", "register",
}

// Router decides which specialist handles the caller. Precedence: an
// unauthenticated caller always goes to identity, then the keyword fast path,
// then the model with the transfer tool.
type Router struct {
	base
}

var _ Agent = (*Router)(nil)

// NewRouter creates the routing agent.
func NewRouter(prompts *prompt.Loader) *Router {
	return &Router{base: base{name: RouterName, prompts: prompts}}
}

func (r *Router) Tools() []Tool {
	return []Tool{{
		Name:        TransferTool,
		Description: "Transfer the caller to a specialist agent. Call this as soon as the caller's intent is clear.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"target_agent_name": map[string]any{
					"type":        "string",
					"description": "Name of the agent to transfer to.",
					"enum":        []string{IdentityName, TaskManagerName},
				},
				"reason": map[string]any{
					"type":        "string",
					"description": "Short reason for the transfer.",
				},
				"user_intent": map[string]any{
					"type":        "string",
					"description": "What the caller is trying to accomplish, in their words.",
				},
			},
			"required": []string{"target_agent_name"},
		},
		// Interception happens upstream; this body only runs if a caller
		// wires the router without transfer handling.
		Invoke: func(ctx context.Context, g *callctx.GlobalContext, args map[string]any) (map[string]any, error) {
			return map[string]any{"status": "transfer_requested", "target_agent_name": argString(args, "target_agent_name")}, nil
		},
	}}
}

// ProcessSignal applies the deterministic routing rules. Signals that need
// the model fall through with a nil response.
func (r *Router) ProcessSignal(ctx context.Context, g *callctx.GlobalContext, sig signal.Signal) (*signal.Response, error) {
	if !g.IsAuthenticated() {
		resp := signal.RoutingResponse(sig.SessionID, r.name, signal.RoutingDecision{
			ThoughtProcess: "caller is not authenticated",
			RouteTo:        IdentityName,
			Priority:       1,
		})
		return &resp, nil
	}

	text := sig.Transcription()
	if text == "" {
		return nil, nil
	}
	if matchKeyword(text, taskKeywords) {
		resp := signal.RoutingResponse(sig.SessionID, r.name, signal.RoutingDecision{
			ThoughtProcess: "task keyword fast path",
			RouteTo:        TaskManagerName,
			Priority:       2,
		})
		return &resp, nil
	}
	if matchKeyword(text, identityKeywords) {
		resp := signal.RoutingResponse(sig.SessionID, r.name, signal.RoutingDecision{
			ThoughtProcess: "identity keyword fast path",
			RouteTo:        IdentityName,
			Priority:       2,
		})
		return &resp, nil
	}

	// Nothing matched. Task work is where registered callers almost always
	// want to be, so that is the default; the stop hotwords bring anyone
	// routed wrongly back here.
	resp := signal.RoutingResponse(sig.SessionID, r.name, signal.RoutingDecision{
		ThoughtProcess: "no keyword matched, defaulting to task manager",
		RouteTo:        TaskManagerName,
		Priority:       3,
	})
	return &resp, nil
}

// DecisionFromTransfer converts transfer_agent arguments into a routing
// decision. The target falls back to the task manager when the model sends
// an agent name nobody registered.
func DecisionFromTransfer(g *callctx.GlobalContext, args map[string]any) signal.RoutingDecision {
	target := argString(args, "target_agent_name")
	known := false
	for _, name := range g.AvailableAgents() {
		if name == target {
			known = true
			break
		}
	}
	if !known {
		target = TaskManagerName
	}
	return signal.RoutingDecision{
		ThoughtProcess: argString(args, "reason"),
		RouteTo:        target,
		HandoverContext: map[string]any{
			"user_intent": argString(args, "user_intent"),
		},
		Priority: 3,
	}
}

// matchKeyword reports whether any keyword appears as a whole word in text.
func matchKeyword(text string, keywords []string) bool {
	padded := " " + normalizeWords(text) + " "
	for _, k := range keywords {
		if strings.Contains(padded, " "+k+" ") {
			return true
		}
	}
	return false
}

// normalizeWords lowercases and strips punctuation down to spaced tokens.
func normalizeWords(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	prevSpace := false
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			prevSpace = false
		default:
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
