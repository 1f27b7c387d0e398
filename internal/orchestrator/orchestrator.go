// Package orchestrator runs the per-call event loop: signals in from a
// voiceio handler, through the observer and the active agent, responses back
// out. It owns the global context, the agent registry, and the background
// inactivity monitor.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxloop/voxloop/internal/agent"
	"github.com/voxloop/voxloop/internal/callctx"
	"github.com/voxloop/voxloop/internal/fault"
	"github.com/voxloop/voxloop/internal/observe"
	"github.com/voxloop/voxloop/internal/observer"
	"github.com/voxloop/voxloop/internal/signal"
	"github.com/voxloop/voxloop/internal/voiceio"
)

// Spoken fallbacks for recoverable faults.
const (
	lineRoutingFailed = "I'm sorry, I couldn't transfer you just now. Let's continue."
	lineAgentFailed   = "Sorry, something went wrong on my end. Could you say that again?"
	lineStillThere    = "Are you still there?"
	lineGoodbye       = "I haven't heard from you, so I'll end the call here. Goodbye."
	lineEscalate      = "Let me get someone who can help you."
)

// monitorInterval drives the background loop: silence is sampled every tick
// and the inactivity window checked alongside it.
const monitorInterval = time.Second

// fillerDelay is how long routing or a slow tool may run quietly before a
// holding phrase is spoken.
const fillerDelay = 400 * time.Millisecond

// Orchestrator drives one call.
type Orchestrator struct {
	global   *callctx.GlobalContext
	handler  voiceio.Handler
	observer *observer.Observer
	tracker  *observe.CallTracker
	filler   *voiceio.Filler

	agents map[string]agent.Agent

	// timeoutFired marks that the caller was already prompted once; a second
	// consecutive timeout ends the call.
	timeoutFired bool
}

// New creates an orchestrator for one call. obs may be nil to disable
// interventions (used by unit tests of the plain loop).
func New(global *callctx.GlobalContext, handler voiceio.Handler, obs *observer.Observer, tracker *observe.CallTracker) *Orchestrator {
	o := &Orchestrator{
		global:   global,
		handler:  handler,
		observer: obs,
		tracker:  tracker,
		agents:   make(map[string]agent.Agent),
	}
	o.filler = voiceio.NewFiller(o.sayFiller, fillerDelay)
	return o
}

// sayFiller voices a holding phrase through the handler when routing or a
// slow tool overruns the filler delay.
func (o *Orchestrator) sayFiller(text string) {
	_ = o.handler.Send(signal.TextResponse(o.global.Session.SessionID, o.global.Session.ActiveAgent(), text))
}

// Register adds an agent to the registry and announces it in the global
// context. Registration order is preserved for prompt rendering.
func (o *Orchestrator) Register(agents ...agent.Agent) {
	for _, a := range agents {
		o.agents[a.Name()] = a
		o.global.AddAgent(a.Name())
	}
}

// Agent returns a registered agent by name.
func (o *Orchestrator) Agent(name string) (agent.Agent, bool) {
	a, ok := o.agents[name]
	return a, ok
}

// ActiveAgent returns the currently active agent.
func (o *Orchestrator) ActiveAgent() agent.Agent {
	return o.agents[o.global.Session.ActiveAgent()]
}

// SetActiveAgent switches the call to the named agent: the old agent's
// OnExit, the new one's OnEnter, then the session record. An unknown name
// yields a [fault.RoutingError] and the active agent is left untouched.
func (o *Orchestrator) SetActiveAgent(ctx context.Context, name string) error {
	next, ok := o.agents[name]
	current := o.global.Session.ActiveAgent()
	if !ok {
		return &fault.RoutingError{
			FrameworkError: fault.FrameworkError{Message: fmt.Sprintf("unknown agent %q", name)},
			SourceAgent:    current,
			TargetAgent:    name,
		}
	}
	if current == name {
		return nil
	}

	if o.tracker != nil {
		o.tracker.RoutingStarted()
	}
	if cur, ok := o.agents[current]; ok {
		if err := cur.OnExit(ctx, o.global); err != nil {
			slog.Warn("agent OnExit failed", "agent", current, "error", err)
		}
	}
	if err := next.OnEnter(ctx, o.global); err != nil {
		return &fault.RoutingError{
			FrameworkError: fault.FrameworkError{Message: err.Error()},
			SourceAgent:    current,
			TargetAgent:    name,
		}
	}
	o.global.Session.SwitchAgent(name)
	if o.tracker != nil {
		o.tracker.RoutingCompleted(ctx, current, name)
	}
	slog.Info("agent switched",
		"session_id", o.global.Session.SessionID,
		"from", current,
		"to", name,
	)
	return nil
}

// Run processes signals until the handler closes or ctx is cancelled. The
// first registered agent becomes active if none is.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.ActiveAgent() == nil {
		if len(o.global.AvailableAgents()) == 0 {
			return errors.New("orchestrator: no agents registered")
		}
		if err := o.SetActiveAgent(ctx, o.global.AvailableAgents()[0]); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			if o.tracker != nil {
				o.tracker.SampleSilence(ctx)
			}
			if done := o.checkInactivity(ctx); done {
				return nil
			}

		case sig, ok := <-o.handler.Signals():
			if !ok {
				return o.handler.Err()
			}
			if err := o.handleSignal(ctx, sig); err != nil {
				return err
			}
		}
	}
}

// handleSignal runs one signal through the observer and the active agent.
func (o *Orchestrator) handleSignal(ctx context.Context, sig signal.Signal) error {
	o.global.RefreshTime()
	o.global.Session.Touch()
	o.timeoutFired = false

	if text := sig.Transcription(); text != "" {
		o.global.Session.AppendTurn(callctx.RoleUser, text, o.global.Session.ActiveAgent())
	}

	if o.observer != nil {
		if iv := o.observer.Observe(sig); iv != nil {
			return o.dispatchIntervention(ctx, iv)
		}
	}

	active := o.ActiveAgent()
	if gated, ok := active.(agent.AuthGated); ok && gated.RequiresAuth() && !o.global.IsAuthenticated() {
		if _, ok := o.agents[agent.IdentityName]; ok {
			o.global.Session.PrepareHandoff(agent.IdentityName, "authentication required", "")
			if err := o.SetActiveAgent(ctx, agent.IdentityName); err != nil {
				o.global.Session.ConsumeHandoff()
				return o.handleFault(ctx, err)
			}
			active = o.ActiveAgent()
		}
	}

	resp, err := active.ProcessSignal(ctx, o.global, sig)
	if err != nil {
		return o.handleFault(ctx, err)
	}
	if resp == nil {
		// Nothing deterministic to say; transports with a live model feed
		// the signal onward themselves.
		return nil
	}
	return o.dispatchResponse(ctx, *resp)
}

// dispatchResponse acts on one agent response.
func (o *Orchestrator) dispatchResponse(ctx context.Context, resp signal.Response) error {
	switch resp.Kind {
	case signal.ResponseRouting:
		return o.applyRouting(ctx, resp)

	case signal.ResponseToolCall:
		return o.executeToolCalls(ctx, resp)

	case signal.ResponseText, signal.ResponseAudio, signal.ResponseError:
		o.filler.Cancel()
		if resp.Kind != signal.ResponseError {
			if resp.Text != "" {
				o.global.Session.AppendTurn(callctx.RoleAssistant, resp.Text, resp.AgentName)
			}
			// Audio counts as a greeting even when no transcript came along.
			o.global.Session.LatchGreeting()
		}
		if resp.Kind == signal.ResponseAudio && o.tracker != nil {
			o.tracker.MarkAudioSent(ctx)
		}
		return o.handler.Send(resp)
	}
	return nil
}

// applyRouting prepares the handoff envelope and performs the switch. A
// failed switch degrades to an apology under the current agent.
func (o *Orchestrator) applyRouting(ctx context.Context, resp signal.Response) error {
	d := resp.Routing
	intent, _ := d.HandoverContext["user_intent"].(string)
	o.global.Session.PrepareHandoff(d.RouteTo, d.ThoughtProcess, intent)

	o.filler.Start(voiceio.FillerRouting)
	err := o.SetActiveAgent(ctx, d.RouteTo)
	o.filler.Cancel()
	if err != nil {
		slog.Error("routing failed",
			"session_id", o.global.Session.SessionID,
			"target", d.RouteTo,
			"error", err,
		)
		// Burn the unconsumed envelope so it cannot leak into a later switch.
		o.global.Session.ConsumeHandoff()
		return o.handler.Send(signal.ErrorResponse(resp.SessionID, resp.AgentName, lineRoutingFailed))
	}
	return nil
}

// executeToolCalls runs each requested tool and reports results back through
// the handler as text. A transfer call supersedes everything else in the
// batch: the current agent is done with the caller, so the remaining calls
// are dropped and the handoff takes over.
func (o *Orchestrator) executeToolCalls(ctx context.Context, resp signal.Response) error {
	for _, call := range resp.ToolCalls {
		if call.ToolName == agent.TransferTool {
			d := agent.DecisionFromTransfer(o.global, call.Arguments)
			return o.applyRouting(ctx, signal.RoutingResponse(resp.SessionID, resp.AgentName, d))
		}
	}

	active := o.ActiveAgent()
	for _, call := range resp.ToolCalls {
		if tool, ok := agent.FindTool(active, call.ToolName); ok && tool.IsSlow {
			o.filler.Start(voiceio.FillerForTool(call.ToolName))
		}
		start := time.Now()
		result, err := agent.ExecuteTool(ctx, active, o.global, call.ToolName, call.Arguments)
		o.filler.Cancel()
		if o.tracker != nil {
			o.tracker.RecordToolExecution(ctx, call.ToolName, time.Since(start), err)
		}
		if err != nil {
			if ferr := o.handleFault(ctx, err); ferr != nil {
				return ferr
			}
			continue
		}
		if msg, ok := result["summary"].(string); ok && msg != "" {
			if err := o.handler.Send(signal.TextResponse(resp.SessionID, active.Name(), msg)); err != nil {
				return err
			}
		}
	}
	return nil
}

// dispatchIntervention reacts to an observer trigger. Detection pauses while
// the intervention is handled so the trigger text cannot fire twice, then
// re-arms for the rest of the call.
func (o *Orchestrator) dispatchIntervention(ctx context.Context, iv *fault.Intervention) error {
	o.observer.Cancel()
	defer o.observer.Reset()

	if o.tracker != nil {
		o.tracker.RecordIntervention(ctx, string(iv.Type))
	}
	slog.Info("intervention dispatched",
		"session_id", o.global.Session.SessionID,
		"type", iv.Type,
		"target", iv.TargetAgent,
	)

	target := iv.TargetAgent
	if target == "" {
		return nil
	}
	if _, ok := o.agents[target]; !ok {
		// No such specialist wired; acknowledge instead of failing the call.
		return o.handler.Send(signal.TextResponse(o.global.Session.SessionID, o.global.Session.ActiveAgent(), lineEscalate))
	}
	o.global.Session.PrepareHandoff(target, string(iv.Type), "")
	if err := o.SetActiveAgent(ctx, target); err != nil {
		return o.handleFault(ctx, err)
	}
	return nil
}

// checkInactivity prompts an idle caller once and ends the call on the
// second consecutive timeout. Returns true when the call should end.
func (o *Orchestrator) checkInactivity(ctx context.Context) bool {
	if o.observer == nil {
		return false
	}
	iv := o.observer.CheckInactivity(o.global.Session)
	if iv == nil {
		return false
	}
	if o.tracker != nil {
		o.tracker.RecordIntervention(ctx, string(iv.Type))
	}
	if o.timeoutFired {
		_ = o.handler.Send(signal.TextResponse(o.global.Session.SessionID, o.global.Session.ActiveAgent(), lineGoodbye))
		return true
	}
	o.timeoutFired = true
	o.global.Session.Touch()
	_ = o.handler.Send(signal.TextResponse(o.global.Session.SessionID, o.global.Session.ActiveAgent(), lineStillThere))
	return false
}

// handleFault translates framework errors into user-facing behavior.
// Unrecoverable faults propagate and end the call.
func (o *Orchestrator) handleFault(ctx context.Context, err error) error {
	sessionID := o.global.Session.SessionID
	activeName := o.global.Session.ActiveAgent()

	var authErr *fault.AuthenticationError
	if errors.As(err, &authErr) {
		// Warm handoff to registration instead of an error message.
		if _, ok := o.agents[agent.IdentityName]; ok {
			o.global.Session.PrepareHandoff(agent.IdentityName, "authentication required", "")
			if serr := o.SetActiveAgent(ctx, agent.IdentityName); serr == nil {
				return nil
			}
		}
		return o.handler.Send(signal.ErrorResponse(sessionID, activeName, lineAgentFailed))
	}

	var routeErr *fault.RoutingError
	if errors.As(err, &routeErr) {
		slog.Error("routing error", "session_id", sessionID, "error", err)
		return o.handler.Send(signal.ErrorResponse(sessionID, activeName, lineRoutingFailed))
	}

	var toolErr *fault.ToolExecutionError
	if errors.As(err, &toolErr) {
		slog.Error("tool error", "session_id", sessionID, "tool", toolErr.ToolName, "error", err)
		return o.handler.Send(signal.ErrorResponse(sessionID, activeName, lineAgentFailed))
	}

	var agentErr *fault.AgentError
	if errors.As(err, &agentErr) && agentErr.Recoverable {
		slog.Error("recoverable agent error", "session_id", sessionID, "agent", agentErr.AgentName, "error", err)
		return o.handler.Send(signal.ErrorResponse(sessionID, activeName, lineAgentFailed))
	}

	return err
}
