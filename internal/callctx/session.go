package callctx

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionContext is the per-call conversational state. The history is
// append-only, the greeting flag is a latch (false to true only), and the
// handoff slot is the single authoritative record of an in-flight handoff.
//
// Pumps and background monitors touch the session concurrently, so all
// mutation goes through mutex-guarded methods.
type SessionContext struct {
	SessionID string
	CreatedAt time.Time
	Platform  Platform

	mu                sync.Mutex
	lastActivity      time.Time
	activeAgent       string
	previousAgent     string
	history           []ConversationTurn
	scratchpad        *Scratchpad
	metadata          map[string]any
	handoff           *HandoffData
	greetingCompleted bool
}

// NewSession creates a session for the given id and platform.
func NewSession(sessionID string, platform Platform) *SessionContext {
	now := time.Now().UTC()
	return &SessionContext{
		SessionID:    sessionID,
		CreatedAt:    now,
		Platform:     platform,
		lastActivity: now,
		scratchpad:   NewScratchpad(),
		metadata:     make(map[string]any),
	}
}

// Scratchpad returns the session scratchpad.
func (s *SessionContext) Scratchpad() *Scratchpad { return s.scratchpad }

// SetMetadata stores a session metadata value.
func (s *SessionContext) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
}

// Metadata returns the metadata value for key, or nil.
func (s *SessionContext) Metadata(key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata[key]
}

// MetadataString returns the metadata value for key as a string, or "".
func (s *SessionContext) MetadataString(key string) string {
	v, _ := s.Metadata(key).(string)
	return v
}

// ActiveAgent returns the name of the agent currently receiving signals.
func (s *SessionContext) ActiveAgent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeAgent
}

// PreviousAgent returns the agent active before the most recent switch.
func (s *SessionContext) PreviousAgent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previousAgent
}

// SwitchAgent records an agent switch and bumps the activity clock.
func (s *SessionContext) SwitchAgent(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeAgent != "" && s.activeAgent != name {
		s.previousAgent = s.activeAgent
	}
	s.activeAgent = name
	s.lastActivity = time.Now().UTC()
}

// Touch bumps the last-activity clock.
func (s *SessionContext) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now().UTC()
}

// LastActivity returns the time of the most recent turn or switch.
func (s *SessionContext) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// AppendTurn appends a turn to the history and bumps the activity clock.
// Timestamps are assigned here so the history stays monotonic.
func (s *SessionContext) AppendTurn(role Role, content, agentName string) ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if n := len(s.history); n > 0 && now.Before(s.history[n-1].Timestamp) {
		now = s.history[n-1].Timestamp
	}
	turn := ConversationTurn{
		TurnID:    uuid.NewString(),
		Timestamp: now,
		Role:      role,
		Content:   content,
		AgentName: agentName,
	}
	s.history = append(s.history, turn)
	s.lastActivity = now
	return turn
}

// History returns a copy of the conversation so far.
func (s *SessionContext) History() []ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConversationTurn, len(s.history))
	copy(out, s.history)
	return out
}

// LastUserTurn returns the content of the most recent user turn, or "".
func (s *SessionContext) LastUserTurn() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Role == RoleUser {
			return s.history[i].Content
		}
	}
	return ""
}

// LatchGreeting marks the greeting as completed. The flag never goes back
// to false.
func (s *SessionContext) LatchGreeting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.greetingCompleted = true
}

// GreetingCompleted reports whether the caller has already been greeted.
func (s *SessionContext) GreetingCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.greetingCompleted
}

// PrepareHandoff builds and stores the handoff envelope for a switch to
// target. Any previously prepared but unconsumed handoff is replaced.
func (s *SessionContext) PrepareHandoff(target, reason, userIntent string) *HandoffData {
	s.mu.Lock()
	defer s.mu.Unlock()

	lastUser := ""
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Role == RoleUser {
			lastUser = s.history[i].Content
			break
		}
	}

	h := &HandoffData{
		SourceAgent:       s.activeAgent,
		TargetAgent:       target,
		LastUserTurn:      lastUser,
		UserIntent:        userIntent,
		GreetingCompleted: s.greetingCompleted,
		Scratchpad:        s.scratchpad.Snapshot(),
		Reason:            reason,
		Timestamp:         time.Now().UTC(),
	}
	s.handoff = h
	return h
}

// ConsumeHandoff returns the pending handoff and clears the slot, so each
// prepared handoff is consumed at most once.
func (s *SessionContext) ConsumeHandoff() *HandoffData {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.handoff
	s.handoff = nil
	return h
}
