package callctx

import (
	"slices"
	"sync"
	"time"
)

// GlobalContext is the root state object for one call. The orchestrator owns
// it exclusively; agents get read access plus the scoped mutations exposed by
// [SessionContext] and [Scratchpad].
type GlobalContext struct {
	AppName     string
	Version     string
	Environment string
	Session     *SessionContext

	mu          sync.Mutex
	currentTime time.Time
	user        UserContext
	agents      []string // registration order preserved
	metadata    map[string]any
}

// NewGlobal creates a global context wrapping the given session.
func NewGlobal(appName, version, environment string, session *SessionContext) *GlobalContext {
	return &GlobalContext{
		AppName:     appName,
		Version:     version,
		Environment: environment,
		Session:     session,
		currentTime: time.Now().UTC(),
		user:        Anonymous,
		metadata:    make(map[string]any),
	}
}

// RefreshTime updates the context clock. The event loop calls this once per
// inbound signal.
func (g *GlobalContext) RefreshTime() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.currentTime = time.Now().UTC()
}

// CurrentTime returns the clock value from the last refresh.
func (g *GlobalContext) CurrentTime() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.currentTime
}

// User returns the current user context.
func (g *GlobalContext) User() UserContext {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.user
}

// SetUser installs an authenticated user. Only the orchestrator and the
// bridge call this, after a successful identity lookup or create_user.
func (g *GlobalContext) SetUser(u UserContext) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.user = u
}

// ClearUser resets the user slot to anonymous.
func (g *GlobalContext) ClearUser() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.user = Anonymous
}

// IsAuthenticated reports whether the current user is authenticated.
func (g *GlobalContext) IsAuthenticated() bool {
	return g.User().IsAuthenticated
}

// AddAgent records an available agent name, keeping registration order.
func (g *GlobalContext) AddAgent(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !slices.Contains(g.agents, name) {
		g.agents = append(g.agents, name)
	}
}

// AvailableAgents returns the registered agent names in order.
func (g *GlobalContext) AvailableAgents() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.agents)
}

// PromptVars returns the template variables every agent prompt can use.
// user_name falls back to "Guest" for anonymous callers.
func (g *GlobalContext) PromptVars() map[string]string {
	g.mu.Lock()
	user := g.user
	now := g.currentTime
	g.mu.Unlock()

	name := user.FullName
	if name == "" {
		name = "Guest"
	}
	auth := "false"
	if user.IsAuthenticated {
		auth = "true"
	}
	greeted := "false"
	if g.Session.GreetingCompleted() {
		greeted = "true"
	}
	phone := user.PhoneNumber
	if phone == "" {
		phone = g.Session.MetadataString("from_number")
	}
	if phone == "" {
		phone = "unknown"
	}
	return map[string]string{
		"user_name":          name,
		"current_time":       now.Format(time.RFC3339),
		"platform_source":    string(g.Session.Platform),
		"session_id":         g.Session.SessionID,
		"phone_number":       phone,
		"is_authenticated":   auth,
		"greeting_completed": greeted,
	}
}
