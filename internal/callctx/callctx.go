// Package callctx holds the hierarchical state for one call: the global
// context owned by the orchestrator, the per-call session context, the
// authenticated user, and the handoff envelopes carried across agent
// switches.
//
// The orchestrator exclusively owns the [GlobalContext] for a call. Agents
// receive it by reference for reads and scoped mutation: they may append
// conversation turns and mutate the scratchpad, but must not touch the
// active agent or the user slot directly.
package callctx

import (
	"maps"
	"strings"
	"sync"
	"time"
)

// Platform identifies where the call originated.
type Platform string

const (
	PlatformTelephony Platform = "telephony"
	PlatformWeb       Platform = "web"
	PlatformCLI       Platform = "cli"
	PlatformTest      Platform = "test"
)

// Role classifies a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// UserContext describes the caller. Anonymous is the default until the
// identity agent authenticates them.
type UserContext struct {
	UserID          string
	PhoneNumber     string
	FullName        string
	IsAuthenticated bool
	VoicePrefs      map[string]any
	Metadata        map[string]any
}

// Anonymous is the unauthenticated default user.
var Anonymous = UserContext{UserID: "anonymous"}

// ConversationTurn is one append-only entry in the session history.
type ConversationTurn struct {
	TurnID    string
	Timestamp time.Time
	Role      Role
	Content   string
	AgentName string
	Metadata  map[string]any
}

// Scratchpad is a mutable key-value store agents use for multi-turn slot
// filling. Safe for concurrent use.
type Scratchpad struct {
	mu        sync.Mutex
	values    map[string]any
	createdAt time.Time
	updatedAt time.Time
}

// NewScratchpad creates an empty scratchpad.
func NewScratchpad() *Scratchpad {
	now := time.Now().UTC()
	return &Scratchpad{values: make(map[string]any), createdAt: now, updatedAt: now}
}

// Set stores a value and bumps the updated stamp.
func (s *Scratchpad) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.updatedAt = time.Now().UTC()
}

// Get returns the stored value and whether it exists.
func (s *Scratchpad) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Snapshot returns a copy of the current contents.
func (s *Scratchpad) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.values)
}

// Clear removes all entries.
func (s *Scratchpad) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]any)
	s.updatedAt = time.Now().UTC()
}

// HandoffData is the envelope carried across a warm agent switch. It is
// produced by [SessionContext.PrepareHandoff] and consumed exactly once by
// the next agent's OnEnter.
type HandoffData struct {
	SourceAgent       string
	TargetAgent       string
	LastUserTurn      string
	UserIntent        string
	UserName          string
	GreetingCompleted bool
	Scratchpad        map[string]any
	Reason            string
	Timestamp         time.Time
}

// Inject renders the prompt injection block for a warm handoff. The format
// is stable; downstream prompts and tests rely on its exact lines. Absent
// fields are omitted, and when every optional field is empty the result is
// the empty string.
func (h *HandoffData) Inject() string {
	if h == nil {
		return ""
	}
	var lines []string
	if h.UserName != "" {
		lines = append(lines, "User Name: "+h.UserName)
	}
	if h.UserIntent != "" {
		lines = append(lines, "Previous Intent: "+h.UserIntent)
	}
	if h.LastUserTurn != "" {
		lines = append(lines, `Last User Message: "`+h.LastUserTurn+`"`)
	}
	if h.GreetingCompleted {
		lines = append(lines, "Note: Greeting already completed. Do NOT re-greet the user.")
	}
	if h.Reason != "" {
		lines = append(lines, "Handoff Reason: "+h.Reason)
	}
	if len(lines) == 0 {
		return ""
	}
	return "[HANDOFF CONTEXT]\n" + strings.Join(lines, "\n") + "\n[END CONTEXT]"
}
