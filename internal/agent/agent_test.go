package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/voxloop/voxloop/internal/callctx"
	"github.com/voxloop/voxloop/internal/fault"
	"github.com/voxloop/voxloop/internal/prompt"
	"github.com/voxloop/voxloop/internal/signal"
	"github.com/voxloop/voxloop/internal/store"
)

func newGlobal(t *testing.T) *callctx.GlobalContext {
	t.Helper()
	sess := callctx.NewSession("s1", callctx.PlatformTest)
	g := callctx.NewGlobal("voxloop", "test", "development", sess)
	g.AddAgent(RouterName)
	g.AddAgent(IdentityName)
	g.AddAgent(TaskManagerName)
	return g
}

func testLoader() *prompt.Loader {
	return prompt.NewLoader("", DefaultPrompts())
}

func authenticate(g *callctx.GlobalContext) {
	g.SetUser(callctx.UserContext{
		UserID:          "u1",
		FullName:        "Ada Lovelace",
		PhoneNumber:     "+15550001",
		IsAuthenticated: true,
	})
}

func TestRouter_UnauthenticatedGoesToIdentity(t *testing.T) {
	g := newGlobal(t)
	r := NewRouter(testLoader())

	resp, err := r.ProcessSignal(context.Background(), g, signal.NewText("s1", "I want to add a task"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp == nil || resp.Kind != signal.ResponseRouting {
		t.Fatalf("got %+v, want routing response", resp)
	}
	if resp.Routing.RouteTo != IdentityName {
		t.Errorf("route_to = %q, want identity", resp.Routing.RouteTo)
	}
}

func TestRouter_KeywordFastPath(t *testing.T) {
	g := newGlobal(t)
	authenticate(g)
	r := NewRouter(testLoader())

	for _, text := range []string{
		"add a task for tomorrow",
		"what's on my todo list",
		"remind me about the dentist",
		"anything due today?",
	} {
		resp, err := r.ProcessSignal(context.Background(), g, signal.NewText("s1", text))
		if err != nil {
			t.Fatalf("%q: %v", text, err)
		}
		if resp == nil || resp.Routing == nil || resp.Routing.RouteTo != TaskManagerName {
			t.Errorf("%q did not fast-path to task_manager: %+v", text, resp)
		}
	}
}

func TestRouter_IdentityKeywordFastPath(t *testing.T) {
	g := newGlobal(t)
	authenticate(g)
	r := NewRouter(testLoader())

	for _, text := range []string{
		"wait, who am I registered as?",
		"you got my name wrong",
		"can you identify me",
	} {
		resp, err := r.ProcessSignal(context.Background(), g, signal.NewText("s1", text))
		if err != nil {
			t.Fatalf("%q: %v", text, err)
		}
		if resp == nil || resp.Routing == nil || resp.Routing.RouteTo != IdentityName {
			t.Errorf("%q did not fast-path to identity: %+v", text, resp)
		}
	}
}

func TestRouter_AmbiguousDefaultsToTaskManager(t *testing.T) {
	g := newGlobal(t)
	authenticate(g)
	r := NewRouter(testLoader())

	resp, err := r.ProcessSignal(context.Background(), g, signal.NewText("s1", "hello there"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp == nil || resp.Routing == nil || resp.Routing.RouteTo != TaskManagerName {
		t.Fatalf("ambiguous text did not default to task_manager: %+v", resp)
	}

	// Only actual speech triggers the default; silence stays with the model.
	resp, err = r.ProcessSignal(context.Background(), g, signal.NewText("s1", ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != nil {
		t.Errorf("empty transcription answered locally: %+v", resp)
	}
}

func TestDecisionFromTransfer(t *testing.T) {
	g := newGlobal(t)

	d := DecisionFromTransfer(g, map[string]any{
		"target_agent_name": TaskManagerName,
		"reason":            "caller wants their list",
		"user_intent":       "list my tasks",
	})
	if d.RouteTo != TaskManagerName {
		t.Errorf("route_to = %q", d.RouteTo)
	}
	if d.HandoverContext["user_intent"] != "list my tasks" {
		t.Errorf("user_intent not carried: %+v", d.HandoverContext)
	}

	// Unknown targets fall back instead of crashing the call.
	d = DecisionFromTransfer(g, map[string]any{"target_agent_name": "billing"})
	if d.RouteTo != TaskManagerName {
		t.Errorf("unknown target routed to %q, want task_manager", d.RouteTo)
	}
}

func TestSystemPrompt_ConsumesHandoffOnce(t *testing.T) {
	g := newGlobal(t)
	authenticate(g)
	g.Session.AppendTurn(callctx.RoleUser, "add milk to my list", RouterName)
	g.Session.LatchGreeting()
	g.Session.PrepareHandoff(TaskManagerName, "task intent", "add milk")

	a := NewTaskManager(testLoader(), nil)
	p1, err := a.SystemPrompt(g)
	if err != nil {
		t.Fatalf("SystemPrompt: %v", err)
	}
	for _, want := range []string{
		"[HANDOFF CONTEXT]",
		`Last User Message: "add milk to my list"`,
		"Do NOT re-greet",
		"[END CONTEXT]",
	} {
		if !strings.Contains(p1, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	p2, err := a.SystemPrompt(g)
	if err != nil {
		t.Fatalf("SystemPrompt: %v", err)
	}
	if strings.Contains(p2, "[HANDOFF CONTEXT]") {
		t.Error("handoff injected twice")
	}
}

func TestIdentityPrompt_CarriesCallerID(t *testing.T) {
	g := newGlobal(t)
	g.Session.SetMetadata("from_number", "+15550001")

	p, err := NewIdentity(testLoader(), nil).SystemPrompt(g)
	if err != nil {
		t.Fatalf("SystemPrompt: %v", err)
	}
	if !strings.Contains(p, "caller ID: +15550001") {
		t.Errorf("caller ID not rendered into prompt: %s", p)
	}
}

func TestSystemPrompt_RendersVars(t *testing.T) {
	g := newGlobal(t)
	authenticate(g)

	p, err := NewRouter(testLoader()).SystemPrompt(g)
	if err != nil {
		t.Fatalf("SystemPrompt: %v", err)
	}
	if !strings.Contains(p, "Ada Lovelace") {
		t.Error("user_name not rendered")
	}
	if strings.Contains(p, "{{") {
		t.Errorf("unrendered placeholder in prompt: %s", p)
	}
}

func TestExecuteTool_Unknown(t *testing.T) {
	g := newGlobal(t)
	r := NewRouter(testLoader())

	_, err := ExecuteTool(context.Background(), r, g, "no_such_tool", nil)
	var te *fault.ToolExecutionError
	if !errors.As(err, &te) {
		t.Fatalf("got %v, want ToolExecutionError", err)
	}
	if te.ToolName != "no_such_tool" {
		t.Errorf("tool name = %q", te.ToolName)
	}
}

func TestTaskManager_ToolsAreSlowAndComplete(t *testing.T) {
	a := NewTaskManager(testLoader(), nil)
	tools := a.Tools()
	if len(tools) != 9 {
		t.Fatalf("tool count = %d, want 9", len(tools))
	}
	byName := make(map[string]bool)
	for _, tool := range tools {
		byName[tool.Name] = true
		if !tool.IsSlow {
			t.Errorf("tool %s is not marked slow", tool.Name)
		}
	}
	for _, want := range []string{
		"create_task", "get_all_tasks", "search_tasks", "update_task",
		"update_task_status", "delete_task", "get_todays_tasks",
		"get_high_priority_tasks", "get_task_summary",
	} {
		if !byName[want] {
			t.Errorf("missing tool %s", want)
		}
	}
	decls := Declarations(tools)
	if len(decls) != len(tools) {
		t.Fatalf("declarations = %d", len(decls))
	}
	for i, d := range decls {
		if d.Name != tools[i].Name || d.Parameters == nil {
			t.Errorf("declaration %d malformed: %+v", i, d)
		}
	}
}

func TestTaskManager_RequiresAuthentication(t *testing.T) {
	g := newGlobal(t)
	a := NewTaskManager(testLoader(), store.New(nil))

	_, err := ExecuteTool(context.Background(), a, g, "create_task", map[string]any{"title": "x"})
	if err == nil {
		t.Fatal("anonymous create_task succeeded")
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+1 (555) 123-4567", "+15551234567"},
		{"555.123.4567", "5551234567"},
		{"  +44 20 7946 0958 ", "+442079460958"},
		{"+", ""},
		{"", ""},
		{"ext. abc", ""},
	}
	for _, tt := range tests {
		if got := NormalizePhone(tt.in); got != tt.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseDueDate(t *testing.T) {
	got, err := ParseDueDate("2026-08-24")
	if err != nil {
		t.Fatalf("bare date: %v", err)
	}
	want := time.Date(2026, 8, 24, 23, 59, 59, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("bare date = %s, want end of day", got)
	}

	got, err = ParseDueDate("2026-08-24T09:30:00")
	if err != nil {
		t.Fatalf("timestamp: %v", err)
	}
	if got.Hour() != 9 || got.Minute() != 30 {
		t.Errorf("timestamp = %s", got)
	}

	if got, err := ParseDueDate(""); err != nil || got != nil {
		t.Errorf("empty input: (%v, %v), want (nil, nil)", got, err)
	}

	if _, err := ParseDueDate("next tuesday"); err == nil {
		t.Error("vague date accepted")
	}
}

func TestSummarizeTasks(t *testing.T) {
	if got := SummarizeTasks(nil); got != "You have no open tasks." {
		t.Errorf("empty summary = %q", got)
	}

	tasks := []store.Task{
		{Title: "file taxes", Priority: 1},
		{Title: "call plumber", Priority: 2},
		{Title: "water plants", Priority: 4},
	}
	got := SummarizeTasks(tasks)
	if !strings.Contains(got, "3 open tasks") {
		t.Errorf("summary missing count: %q", got)
	}
	if !strings.Contains(got, "2 high priority: file taxes, call plumber") {
		t.Errorf("summary missing high-priority list: %q", got)
	}

	one := SummarizeTasks(tasks[2:])
	if !strings.Contains(one, "1 open task.") {
		t.Errorf("singular form wrong: %q", one)
	}
}
