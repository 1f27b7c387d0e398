package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxloop/voxloop/internal/agent"
	"github.com/voxloop/voxloop/internal/callctx"
	"github.com/voxloop/voxloop/internal/fault"
	"github.com/voxloop/voxloop/internal/observer"
	"github.com/voxloop/voxloop/internal/signal"
	"github.com/voxloop/voxloop/internal/voiceio"
)

// fakeHandler records sends and feeds signals from a channel.
type fakeHandler struct {
	signals chan signal.Signal

	mu   sync.Mutex
	sent []signal.Response
}

var _ voiceio.Handler = (*fakeHandler)(nil)

func newFakeHandler() *fakeHandler {
	return &fakeHandler{signals: make(chan signal.Signal, 8)}
}

func (h *fakeHandler) Signals() <-chan signal.Signal { return h.signals }
func (h *fakeHandler) Err() error                    { return nil }
func (h *fakeHandler) Close() error                  { return nil }

func (h *fakeHandler) Send(resp signal.Response) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, resp)
	return nil
}

func (h *fakeHandler) responses() []signal.Response {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]signal.Response, len(h.sent))
	copy(out, h.sent)
	return out
}

// fakeAgent answers with a scripted response and counts lifecycle calls.
type fakeAgent struct {
	name     string
	response *signal.Response
	err      error
	tools    []agent.Tool

	mu      sync.Mutex
	entered int
	exited  int
}

var _ agent.Agent = (*fakeAgent)(nil)

func (a *fakeAgent) Name() string                                          { return a.name }
func (a *fakeAgent) SystemPrompt(g *callctx.GlobalContext) (string, error) { return "test prompt", nil }
func (a *fakeAgent) Tools() []agent.Tool                                   { return a.tools }

func (a *fakeAgent) OnEnter(ctx context.Context, g *callctx.GlobalContext) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entered++
	return nil
}

func (a *fakeAgent) OnExit(ctx context.Context, g *callctx.GlobalContext) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exited++
	return nil
}

func (a *fakeAgent) ProcessSignal(ctx context.Context, g *callctx.GlobalContext, sig signal.Signal) (*signal.Response, error) {
	return a.response, a.err
}

// gatedAgent is a fakeAgent whose tools only work for registered callers.
type gatedAgent struct{ fakeAgent }

func (a *gatedAgent) RequiresAuth() bool { return true }

func newTestOrchestrator(t *testing.T, obs *observer.Observer, agents ...agent.Agent) (*Orchestrator, *fakeHandler, *callctx.GlobalContext) {
	t.Helper()
	sess := callctx.NewSession("s1", callctx.PlatformTest)
	g := callctx.NewGlobal("voxloop", "test", "development", sess)
	h := newFakeHandler()
	o := New(g, h, obs, nil)
	o.Register(agents...)
	return o, h, g
}

func TestSetActiveAgent_LifecycleOrder(t *testing.T) {
	a1 := &fakeAgent{name: "router"}
	a2 := &fakeAgent{name: "task_manager"}
	o, _, g := newTestOrchestrator(t, nil, a1, a2)
	ctx := context.Background()

	if err := o.SetActiveAgent(ctx, "router"); err != nil {
		t.Fatalf("first switch: %v", err)
	}
	if a1.entered != 1 {
		t.Errorf("router entered %d times", a1.entered)
	}

	if err := o.SetActiveAgent(ctx, "task_manager"); err != nil {
		t.Fatalf("second switch: %v", err)
	}
	if a1.exited != 1 || a2.entered != 1 {
		t.Errorf("lifecycle calls: router exits=%d, task_manager enters=%d", a1.exited, a2.entered)
	}
	if g.Session.ActiveAgent() != "task_manager" || g.Session.PreviousAgent() != "router" {
		t.Errorf("session agents: active=%q previous=%q", g.Session.ActiveAgent(), g.Session.PreviousAgent())
	}

	// Switching to the active agent is a no-op.
	if err := o.SetActiveAgent(ctx, "task_manager"); err != nil {
		t.Fatalf("idempotent switch: %v", err)
	}
	if a2.entered != 1 {
		t.Errorf("re-entered active agent: %d", a2.entered)
	}
}

func TestSetActiveAgent_Unknown(t *testing.T) {
	a1 := &fakeAgent{name: "router"}
	o, _, g := newTestOrchestrator(t, nil, a1)
	ctx := context.Background()
	if err := o.SetActiveAgent(ctx, "router"); err != nil {
		t.Fatal(err)
	}

	err := o.SetActiveAgent(ctx, "billing")
	var re *fault.RoutingError
	if !errors.As(err, &re) || re.TargetAgent != "billing" {
		t.Fatalf("got %v, want routing error naming billing", err)
	}
	if g.Session.ActiveAgent() != "router" {
		t.Errorf("active agent changed to %q after failed switch", g.Session.ActiveAgent())
	}
}

func TestHandleSignal_RoutingSwitchesAndPreparesHandoff(t *testing.T) {
	routing := signal.RoutingResponse("s1", "router", signal.RoutingDecision{
		ThoughtProcess: "task keyword fast path",
		RouteTo:        "task_manager",
		HandoverContext: map[string]any{
			"user_intent": "list tasks",
		},
	})
	a1 := &fakeAgent{name: "router", response: &routing}
	a2 := &fakeAgent{name: "task_manager"}
	o, _, g := newTestOrchestrator(t, nil, a1, a2)
	ctx := context.Background()
	if err := o.SetActiveAgent(ctx, "router"); err != nil {
		t.Fatal(err)
	}

	if err := o.handleSignal(ctx, signal.NewText("s1", "show my tasks")); err != nil {
		t.Fatalf("handleSignal: %v", err)
	}
	if g.Session.ActiveAgent() != "task_manager" {
		t.Fatalf("active agent = %q", g.Session.ActiveAgent())
	}

	h := g.Session.ConsumeHandoff()
	if h == nil {
		t.Fatal("no handoff prepared")
	}
	if h.LastUserTurn != "show my tasks" || h.UserIntent != "list tasks" {
		t.Errorf("handoff = %+v", h)
	}
}

func TestHandleSignal_RoutingToUnknownAgentApologizes(t *testing.T) {
	routing := signal.RoutingResponse("s1", "router", signal.RoutingDecision{RouteTo: "billing"})
	a1 := &fakeAgent{name: "router", response: &routing}
	o, h, g := newTestOrchestrator(t, nil, a1)
	ctx := context.Background()
	if err := o.SetActiveAgent(ctx, "router"); err != nil {
		t.Fatal(err)
	}

	if err := o.handleSignal(ctx, signal.NewText("s1", "billing please")); err != nil {
		t.Fatalf("handleSignal: %v", err)
	}
	sent := h.responses()
	if len(sent) != 1 || sent[0].Kind != signal.ResponseError {
		t.Fatalf("sent = %+v, want one error response", sent)
	}
	if g.Session.ActiveAgent() != "router" {
		t.Errorf("active agent = %q", g.Session.ActiveAgent())
	}
	if g.Session.ConsumeHandoff() != nil {
		t.Error("stale handoff left behind after failed switch")
	}
}

func TestHandleSignal_TransferToolBecomesHandoff(t *testing.T) {
	calls := signal.ToolCallResponse("s1", "router", []signal.ToolCall{
		{
			ToolName: agent.TransferTool,
			Arguments: map[string]any{
				"target_agent_name": "task_manager",
				"reason":            "caller wants their list",
				"user_intent":       "list my tasks",
			},
		},
		// A call queued after the transfer must never run.
		{ToolName: "create_task", Arguments: map[string]any{"title": "x"}},
	})
	executed := false
	a1 := &fakeAgent{name: "router", response: &calls, tools: []agent.Tool{{
		Name: "create_task",
		Invoke: func(ctx context.Context, g *callctx.GlobalContext, args map[string]any) (map[string]any, error) {
			executed = true
			return map[string]any{"status": "created"}, nil
		},
	}}}
	a2 := &fakeAgent{name: "task_manager"}
	o, _, g := newTestOrchestrator(t, nil, a1, a2)
	ctx := context.Background()
	if err := o.SetActiveAgent(ctx, "router"); err != nil {
		t.Fatal(err)
	}

	if err := o.handleSignal(ctx, signal.NewText("s1", "show me what I have")); err != nil {
		t.Fatalf("handleSignal: %v", err)
	}
	if g.Session.ActiveAgent() != "task_manager" {
		t.Fatalf("active agent = %q, want task_manager", g.Session.ActiveAgent())
	}
	h := g.Session.ConsumeHandoff()
	if h == nil || h.UserIntent != "list my tasks" {
		t.Errorf("handoff = %+v", h)
	}
	if executed {
		t.Error("tool queued after the transfer was executed")
	}
}

func TestHandleSignal_AnonymousCallerGatedToIdentity(t *testing.T) {
	a1 := &gatedAgent{fakeAgent{name: "task_manager"}}
	a2 := &fakeAgent{name: agent.IdentityName}
	o, _, g := newTestOrchestrator(t, nil, a1, a2)
	ctx := context.Background()
	if err := o.SetActiveAgent(ctx, "task_manager"); err != nil {
		t.Fatal(err)
	}

	if err := o.handleSignal(ctx, signal.NewText("s1", "add milk to my list")); err != nil {
		t.Fatalf("handleSignal: %v", err)
	}
	if g.Session.ActiveAgent() != agent.IdentityName {
		t.Fatalf("active agent = %q, want identity", g.Session.ActiveAgent())
	}
	if h := g.Session.ConsumeHandoff(); h == nil || h.Reason != "authentication required" {
		t.Errorf("handoff = %+v", h)
	}
}

func TestHandleSignal_AuthenticatedCallerPassesGate(t *testing.T) {
	a1 := &gatedAgent{fakeAgent{name: "task_manager"}}
	a2 := &fakeAgent{name: agent.IdentityName}
	o, _, g := newTestOrchestrator(t, nil, a1, a2)
	g.SetUser(callctx.UserContext{UserID: "u1", FullName: "Ada", IsAuthenticated: true})
	ctx := context.Background()
	if err := o.SetActiveAgent(ctx, "task_manager"); err != nil {
		t.Fatal(err)
	}

	if err := o.handleSignal(ctx, signal.NewText("s1", "add milk to my list")); err != nil {
		t.Fatalf("handleSignal: %v", err)
	}
	if g.Session.ActiveAgent() != "task_manager" {
		t.Errorf("active agent = %q, want task_manager", g.Session.ActiveAgent())
	}
}

func TestHandleSignal_TextLatchesGreeting(t *testing.T) {
	text := signal.TextResponse("s1", "router", "Hello! How can I help?")
	a1 := &fakeAgent{name: "router", response: &text}
	o, h, g := newTestOrchestrator(t, nil, a1)
	ctx := context.Background()
	if err := o.SetActiveAgent(ctx, "router"); err != nil {
		t.Fatal(err)
	}

	if err := o.handleSignal(ctx, signal.NewText("s1", "hi")); err != nil {
		t.Fatal(err)
	}
	if !g.Session.GreetingCompleted() {
		t.Error("greeting not latched")
	}
	if len(h.responses()) != 1 {
		t.Errorf("responses = %d", len(h.responses()))
	}
	hist := g.Session.History()
	if len(hist) != 2 || hist[0].Role != callctx.RoleUser || hist[1].Role != callctx.RoleAssistant {
		t.Errorf("history = %+v", hist)
	}
}

func TestHandleSignal_HotwordSwitchesToRouter(t *testing.T) {
	a1 := &fakeAgent{name: "router"}
	a2 := &fakeAgent{name: "task_manager"}
	o, _, g := newTestOrchestrator(t, observer.New(), a1, a2)
	ctx := context.Background()
	if err := o.SetActiveAgent(ctx, "task_manager"); err != nil {
		t.Fatal(err)
	}

	if err := o.handleSignal(ctx, signal.NewText("s1", "stop")); err != nil {
		t.Fatalf("handleSignal: %v", err)
	}
	if g.Session.ActiveAgent() != "router" {
		t.Errorf("active agent = %q, want router", g.Session.ActiveAgent())
	}
}

func TestHandleSignal_EscalationWithoutHumanAgent(t *testing.T) {
	a1 := &fakeAgent{name: "router"}
	o, h, g := newTestOrchestrator(t, observer.New(), a1)
	ctx := context.Background()
	if err := o.SetActiveAgent(ctx, "router"); err != nil {
		t.Fatal(err)
	}

	if err := o.handleSignal(ctx, signal.NewText("s1", "get me an operator")); err != nil {
		t.Fatalf("handleSignal: %v", err)
	}
	sent := h.responses()
	if len(sent) != 1 || !strings.Contains(sent[0].Text, "someone who can help") {
		t.Errorf("sent = %+v, want escalation line", sent)
	}
	if g.Session.ActiveAgent() != "router" {
		t.Errorf("active agent = %q", g.Session.ActiveAgent())
	}
}

func TestHandleSignal_ObserverRearmsAfterIntervention(t *testing.T) {
	a1 := &fakeAgent{name: "router"}
	a2 := &fakeAgent{name: "task_manager"}
	o, _, g := newTestOrchestrator(t, observer.New(), a1, a2)
	ctx := context.Background()
	if err := o.SetActiveAgent(ctx, "task_manager"); err != nil {
		t.Fatal(err)
	}

	if err := o.handleSignal(ctx, signal.NewText("s1", "stop")); err != nil {
		t.Fatalf("first hotword: %v", err)
	}
	if g.Session.ActiveAgent() != "router" {
		t.Fatalf("active agent = %q after first hotword", g.Session.ActiveAgent())
	}

	// A later hotword must still fire; the first intervention may not leave
	// the monitor disarmed for the rest of the call.
	if err := o.SetActiveAgent(ctx, "task_manager"); err != nil {
		t.Fatal(err)
	}
	if err := o.handleSignal(ctx, signal.NewText("s1", "cancel that")); err != nil {
		t.Fatalf("second hotword: %v", err)
	}
	if g.Session.ActiveAgent() != "router" {
		t.Errorf("active agent = %q, want router after second hotword", g.Session.ActiveAgent())
	}
}

func TestHandleSignal_AudioResponseLatchesGreeting(t *testing.T) {
	resp := signal.AudioResponse("s1", "router", []byte{0x01, 0x02}, 24000)
	a1 := &fakeAgent{name: "router", response: &resp}
	o, h, g := newTestOrchestrator(t, nil, a1)
	ctx := context.Background()
	if err := o.SetActiveAgent(ctx, "router"); err != nil {
		t.Fatal(err)
	}

	if err := o.handleSignal(ctx, signal.NewText("s1", "hi")); err != nil {
		t.Fatal(err)
	}
	if !g.Session.GreetingCompleted() {
		t.Error("audio-only response did not latch the greeting")
	}
	sent := h.responses()
	if len(sent) != 1 || sent[0].Kind != signal.ResponseAudio {
		t.Errorf("responses = %+v", sent)
	}
}

func TestSlowToolSpeaksFillerBeforeResult(t *testing.T) {
	calls := signal.ToolCallResponse("s1", "task_manager", []signal.ToolCall{
		{ToolName: "search_tasks", Arguments: map[string]any{"query": "milk"}},
	})
	slow := agent.Tool{
		Name:   "search_tasks",
		IsSlow: true,
		Invoke: func(ctx context.Context, g *callctx.GlobalContext, args map[string]any) (map[string]any, error) {
			time.Sleep(fillerDelay + 300*time.Millisecond)
			return map[string]any{"status": "ok", "summary": "Found two tasks."}, nil
		},
	}
	a1 := &fakeAgent{name: "task_manager", response: &calls, tools: []agent.Tool{slow}}
	o, h, _ := newTestOrchestrator(t, nil, a1)
	ctx := context.Background()
	if err := o.SetActiveAgent(ctx, "task_manager"); err != nil {
		t.Fatal(err)
	}

	if err := o.handleSignal(ctx, signal.NewText("s1", "find the milk task")); err != nil {
		t.Fatalf("handleSignal: %v", err)
	}
	if !o.filler.Played() {
		t.Error("slow tool ran without a holding phrase")
	}
	sent := h.responses()
	if len(sent) != 2 {
		t.Fatalf("responses = %+v, want filler then summary", sent)
	}
	if sent[1].Text != "Found two tasks." {
		t.Errorf("final response = %q", sent[1].Text)
	}
}

func TestFastToolSkipsFiller(t *testing.T) {
	calls := signal.ToolCallResponse("s1", "task_manager", []signal.ToolCall{
		{ToolName: "search_tasks", Arguments: map[string]any{"query": "milk"}},
	})
	fast := agent.Tool{
		Name:   "search_tasks",
		IsSlow: true,
		Invoke: func(ctx context.Context, g *callctx.GlobalContext, args map[string]any) (map[string]any, error) {
			return map[string]any{"status": "ok", "summary": "Found it."}, nil
		},
	}
	a1 := &fakeAgent{name: "task_manager", response: &calls, tools: []agent.Tool{fast}}
	o, h, _ := newTestOrchestrator(t, nil, a1)
	ctx := context.Background()
	if err := o.SetActiveAgent(ctx, "task_manager"); err != nil {
		t.Fatal(err)
	}

	if err := o.handleSignal(ctx, signal.NewText("s1", "find the milk task")); err != nil {
		t.Fatalf("handleSignal: %v", err)
	}
	// Give a mis-armed filler time to fire before asserting silence.
	time.Sleep(fillerDelay + 100*time.Millisecond)
	if o.filler.Played() {
		t.Error("filler spoke although the tool answered immediately")
	}
	if sent := h.responses(); len(sent) != 1 || sent[0].Text != "Found it." {
		t.Errorf("responses = %+v", sent)
	}
}

func TestHandleFault_AuthenticationHandsOffToIdentity(t *testing.T) {
	a1 := &fakeAgent{name: "task_manager", err: fault.NewAuthenticationError("")}
	a2 := &fakeAgent{name: agent.IdentityName}
	o, _, g := newTestOrchestrator(t, nil, a1, a2)
	ctx := context.Background()
	if err := o.SetActiveAgent(ctx, "task_manager"); err != nil {
		t.Fatal(err)
	}

	if err := o.handleSignal(ctx, signal.NewText("s1", "add a task")); err != nil {
		t.Fatalf("handleSignal: %v", err)
	}
	if g.Session.ActiveAgent() != agent.IdentityName {
		t.Errorf("active agent = %q, want identity", g.Session.ActiveAgent())
	}
	if h := g.Session.ConsumeHandoff(); h == nil || h.Reason != "authentication required" {
		t.Errorf("handoff = %+v", h)
	}
}
