package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/voxloop/voxloop/internal/callctx"
	"github.com/voxloop/voxloop/internal/prompt"
	"github.com/voxloop/voxloop/internal/signal"
	"github.com/voxloop/voxloop/internal/store"
)

// CreateUserTool is the registration tool. The bridge watches its result to
// install the authenticated user and move the call to the task manager.
const CreateUserTool = "create_user"

// Identity registers new callers and looks up returning ones by phone number.
type Identity struct {
	base
	store *store.Store
}

var _ Agent = (*Identity)(nil)

// NewIdentity creates the identity agent.
func NewIdentity(prompts *prompt.Loader, st *store.Store) *Identity {
	return &Identity{
		base:  base{name: IdentityName, prompts: prompts},
		store: st,
	}
}

// OnEnter tries caller-ID authentication: when the session carries a phone
// number that maps to a known user, the conversation can skip registration.
func (a *Identity) OnEnter(ctx context.Context, g *callctx.GlobalContext) error {
	phone := NormalizePhone(g.Session.MetadataString("from_number"))
	if phone == "" || a.store == nil {
		return nil
	}
	u, err := a.store.Users.GetByPhone(ctx, phone)
	if err != nil || u == nil {
		// Lookup failures degrade to manual registration, never kill the call.
		return nil
	}
	g.Session.Scratchpad().Set("known_user_id", u.ID)
	g.Session.Scratchpad().Set("known_user_name", u.Name)
	return nil
}

func (a *Identity) Tools() []Tool {
	return []Tool{
		{
			Name:        CreateUserTool,
			Description: "Register the caller. Call once you have their name; the phone number comes from caller ID when available.",
			IsSlow:      true,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{
						"type":        "string",
						"description": "The caller's full name.",
					},
					"phone": map[string]any{
						"type":        "string",
						"description": "Phone number in any format. Omit to use caller ID.",
					},
				},
				"required": []string{"name"},
			},
			Invoke: a.createUser,
		},
		{
			Name:        "lookup_user",
			Description: "Look up an existing account by phone number.",
			IsSlow:      true,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"phone": map[string]any{
						"type":        "string",
						"description": "Phone number in any format.",
					},
				},
				"required": []string{"phone"},
			},
			Invoke: a.lookupUser,
		},
	}
}

// ProcessSignal delegates everything to the model; registration is a dialogue.
func (a *Identity) ProcessSignal(ctx context.Context, g *callctx.GlobalContext, sig signal.Signal) (*signal.Response, error) {
	return nil, nil
}

func (a *Identity) createUser(ctx context.Context, g *callctx.GlobalContext, args map[string]any) (map[string]any, error) {
	name := strings.TrimSpace(argString(args, "name"))
	if name == "" {
		return map[string]any{"status": "error", "message": "a name is required"}, nil
	}
	phone := NormalizePhone(argString(args, "phone"))
	if phone == "" {
		phone = NormalizePhone(g.Session.MetadataString("from_number"))
	}
	if phone == "" {
		return map[string]any{"status": "error", "message": "no phone number available; ask the caller for one"}, nil
	}

	u, created, err := a.store.Users.GetOrCreate(ctx, phone, name)
	if err != nil {
		if errors.Is(err, store.ErrDuplicatePhone) {
			return map[string]any{"status": "error", "message": "that phone number is already registered"}, nil
		}
		return nil, err
	}
	status := "existing"
	if created {
		status = "created"
	}
	return map[string]any{
		"status":  status,
		"user_id": u.ID,
		"name":    u.Name,
		"phone":   u.Phone,
	}, nil
}

func (a *Identity) lookupUser(ctx context.Context, g *callctx.GlobalContext, args map[string]any) (map[string]any, error) {
	phone := NormalizePhone(argString(args, "phone"))
	if phone == "" {
		return map[string]any{"status": "error", "message": "a phone number is required"}, nil
	}
	u, err := a.store.Users.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return map[string]any{"status": "not_found"}, nil
	}
	return map[string]any{
		"status":  "found",
		"user_id": u.ID,
		"name":    u.Name,
		"phone":   u.Phone,
	}, nil
}

// NormalizePhone strips formatting from a phone number, keeping digits and a
// leading plus. Returns "" when nothing dialable remains.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && b.Len() == 0:
			// A plus only counts before any digit, wherever the carrier
			// put its leading whitespace or punctuation.
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" || s == "+" {
		return ""
	}
	return s
}
