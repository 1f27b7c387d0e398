// Package agent defines the conversational agents: the router that picks a
// specialist, the identity agent that registers callers, and the task manager
// that operates on the task store.
//
// An agent contributes a system prompt and a tool set to the live model
// session, and may short-circuit a signal deterministically before the model
// ever sees it. Returning a nil response from ProcessSignal means "no local
// answer, let the model handle it".
package agent

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/voxloop/voxloop/internal/callctx"
	"github.com/voxloop/voxloop/internal/fault"
	"github.com/voxloop/voxloop/internal/prompt"
	"github.com/voxloop/voxloop/internal/signal"
	"github.com/voxloop/voxloop/pkg/live"
)

// Tool is one function the model may invoke. Slow tools trigger a spoken
// filler while they run.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON-schema object describing the arguments.
	Parameters map[string]any
	IsSlow     bool
	Invoke     func(ctx context.Context, g *callctx.GlobalContext, args map[string]any) (map[string]any, error)
}

// Agent is one conversational specialist.
type Agent interface {
	// Name returns the agent's registry name.
	Name() string

	// SystemPrompt renders the agent's system prompt for the current call
	// state. A pending handoff envelope is consumed here and appended as a
	// context block.
	SystemPrompt(g *callctx.GlobalContext) (string, error)

	// Tools returns the agent's tool set.
	Tools() []Tool

	// OnEnter runs when the agent becomes active, before the first signal.
	OnEnter(ctx context.Context, g *callctx.GlobalContext) error

	// OnExit runs when the agent is deactivated.
	OnExit(ctx context.Context, g *callctx.GlobalContext) error

	// ProcessSignal gives the agent a chance to answer deterministically.
	// A nil response delegates the signal to the live model.
	ProcessSignal(ctx context.Context, g *callctx.GlobalContext, sig signal.Signal) (*signal.Response, error)
}

// AuthGated marks agents whose entire tool set needs a registered caller.
// The orchestrator checks it before dispatching a signal and routes an
// anonymous caller to registration first.
type AuthGated interface {
	RequiresAuth() bool
}

// Declarations converts the tool set to the wire form sent to the model.
func Declarations(tools []Tool) []live.ToolDeclaration {
	out := make([]live.ToolDeclaration, 0, len(tools))
	for _, t := range tools {
		out = append(out, live.ToolDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return out
}

// FindTool returns the named tool from an agent's set.
func FindTool(a Agent, name string) (Tool, bool) {
	for _, t := range a.Tools() {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// ExecuteTool runs the named tool with the given arguments. Unknown tools and
// invocation failures are reported as [fault.ToolExecutionError] so the
// caller can hand the model a structured error result instead of dying.
func ExecuteTool(ctx context.Context, a Agent, g *callctx.GlobalContext, name string, args map[string]any) (map[string]any, error) {
	t, ok := FindTool(a, name)
	if !ok {
		return nil, &fault.ToolExecutionError{
			FrameworkError: fault.FrameworkError{Message: fmt.Sprintf("unknown tool %q", name)},
			ToolName:       name,
			Arguments:      args,
		}
	}
	ctx, span := otel.Tracer("voxloop/agent").Start(ctx, "tool",
		trace.WithAttributes(
			attribute.String("tool.name", name),
			attribute.String("agent.name", a.Name()),
		))
	defer span.End()
	result, err := t.Invoke(ctx, g, args)
	if err != nil {
		return nil, &fault.ToolExecutionError{
			FrameworkError: fault.FrameworkError{Message: err.Error()},
			ToolName:       name,
			Arguments:      args,
		}
	}
	return result, nil
}

// base carries the prompt plumbing shared by all agents.
type base struct {
	name    string
	prompts *prompt.Loader
}

func (b *base) Name() string { return b.name }

// SystemPrompt loads and renders the agent's prompt, then appends the pending
// handoff block. Consuming the handoff here guarantees it is injected into
// exactly one prompt.
func (b *base) SystemPrompt(g *callctx.GlobalContext) (string, error) {
	tpl, err := b.prompts.Load(b.name)
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", b.name, err)
	}
	out := prompt.Render(tpl, g.PromptVars())
	if h := g.Session.ConsumeHandoff(); h != nil {
		if block := h.Inject(); block != "" {
			out += "\n\n" + block
		}
	}
	return out, nil
}

func (b *base) OnEnter(ctx context.Context, g *callctx.GlobalContext) error { return nil }
func (b *base) OnExit(ctx context.Context, g *callctx.GlobalContext) error  { return nil }

// argString extracts a string argument, tolerating absent keys.
func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// argInt extracts an integer argument. JSON numbers arrive as float64.
func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
