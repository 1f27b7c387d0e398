package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/voxloop/voxloop/internal/agent"
	"github.com/voxloop/voxloop/internal/callctx"
	"github.com/voxloop/voxloop/internal/observe"
	"github.com/voxloop/voxloop/internal/observer"
	"github.com/voxloop/voxloop/internal/store"
	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/live"
)

const (
	// startEventWait bounds how long we wait for Twilio's start event after
	// the websocket is accepted.
	startEventWait = 2 * time.Second

	// receiveHeartbeat is the longest silence tolerated on the Twilio socket
	// before the carrier leg is pinged. Media frames arrive every 20 ms on a
	// live call, but Twilio pauses them during long silences, so a quiet
	// socket is probed rather than dropped.
	receiveHeartbeat = 30 * time.Second

	// pingTimeout bounds the carrier heartbeat probe.
	pingTimeout = 5 * time.Second

	// maxSessionRetries bounds reconnects after unexpected model-session
	// failures within one call.
	maxSessionRetries = 3

	// Telephone audio is 8 kHz mu-law; the model wants 16 kHz in and
	// produces 24 kHz out.
	telephonyRate = 8000
	modelInRate   = 16000
	modelOutRate  = 24000
)

// Bridge accepts Twilio Media Streams connections and runs calls against a
// live model provider.
type Bridge struct {
	provider live.Provider
	store    *store.Store
	metrics  *observe.Metrics

	appName     string
	version     string
	environment string

	inactivityTimeout time.Duration
	sentimentEnabled  bool
	hotwords          map[string]string

	agents map[string]agent.Agent
	order  []string
}

// Config carries the bridge's construction parameters.
type Config struct {
	Provider          live.Provider
	Store             *store.Store
	Metrics           *observe.Metrics
	AppName           string
	Version           string
	Environment       string
	InactivityTimeout time.Duration
	SentimentEnabled  bool

	// Hotwords overrides the observer's built-in hotword table. Nil keeps
	// the defaults.
	Hotwords map[string]string
}

// New creates a bridge. Register agents before serving calls.
func New(cfg Config) *Bridge {
	return &Bridge{
		provider:          cfg.Provider,
		store:             cfg.Store,
		metrics:           cfg.Metrics,
		appName:           cfg.AppName,
		version:           cfg.Version,
		environment:       cfg.Environment,
		inactivityTimeout: cfg.InactivityTimeout,
		sentimentEnabled:  cfg.SentimentEnabled,
		hotwords:          cfg.Hotwords,
		agents:            make(map[string]agent.Agent),
	}
}

// Register adds agents to the bridge's registry.
func (b *Bridge) Register(agents ...agent.Agent) {
	for _, a := range agents {
		if _, ok := b.agents[a.Name()]; !ok {
			b.order = append(b.order, a.Name())
		}
		b.agents[a.Name()] = a
	}
}

// HandleCall runs one telephony call to completion. conn must be an accepted
// Media Streams websocket; fromNumber is the caller ID from the webhook, and
// may be empty.
func (b *Bridge) HandleCall(ctx context.Context, conn *websocket.Conn, callSid, fromNumber string) error {
	start, err := b.awaitStart(ctx, conn)
	if err != nil {
		return err
	}
	if callSid == "" {
		callSid = start.CallSid
	}
	if v := start.CustomParameters["from_number"]; v != "" {
		fromNumber = v
	}

	ctx, span := otel.Tracer("voxloop/bridge").Start(ctx, "call",
		trace.WithAttributes(attribute.String("call.sid", callSid)))
	defer span.End()

	c := &call{
		bridge:    b,
		conn:      conn,
		streamSid: start.StreamSid,
		tracker:   observe.NewCallTracker(callSid, b.metrics),
		observer:  observer.New(b.observerOptions()...),
		inRes:     audio.NewResampler(telephonyRate, modelInRate),
		outRes:    audio.NewResampler(modelOutRate, telephonyRate),
	}

	sess := callctx.NewSession(callSid, callctx.PlatformTelephony)
	sess.SetMetadata("from_number", fromNumber)
	sess.SetMetadata("stream_sid", start.StreamSid)
	c.global = callctx.NewGlobal(b.appName, b.version, b.environment, sess)
	for _, name := range b.order {
		c.global.AddAgent(name)
	}

	b.metrics.ActiveCalls.Add(ctx, 1)
	defer b.metrics.ActiveCalls.Add(ctx, -1)

	slog.Info("call started",
		"call_sid", callSid,
		"stream_sid", start.StreamSid,
		"from", fromNumber,
	)
	err = c.run(ctx)
	slog.Info("call ended", "call_sid", callSid, "error", err)
	return err
}

func (b *Bridge) observerOptions() []observer.Option {
	opts := []observer.Option{
		observer.WithSentiment(b.sentimentEnabled),
		observer.WithInactivityTimeout(b.inactivityTimeout),
	}
	if len(b.hotwords) > 0 {
		opts = append(opts, observer.WithHotwords(b.hotwords))
	}
	return opts
}

// awaitStart consumes frames until the start event arrives. Twilio sends
// connected first; anything else before start is dropped.
func (b *Bridge) awaitStart(ctx context.Context, conn *websocket.Conn) (*StartPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, startEventWait)
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("bridge: waiting for start event: %w", err)
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		switch ev.Event {
		case EventStart:
			if ev.Start == nil {
				return nil, errors.New("bridge: start event without payload")
			}
			return ev.Start, nil
		case EventStop:
			return nil, errors.New("bridge: stream stopped before start")
		}
	}
}

// initialAgent picks where a call begins: known callers land in the task
// manager, unknown ones in registration.
func (b *Bridge) initialAgent(ctx context.Context, c *call, fromNumber string) string {
	phone := agent.NormalizePhone(fromNumber)
	if phone != "" && b.store != nil {
		u, err := b.store.Users.GetByPhone(ctx, phone)
		if err != nil {
			slog.Warn("caller-id lookup failed", "error", err)
		} else if u != nil {
			c.global.SetUser(callctx.UserContext{
				UserID:          u.ID,
				PhoneNumber:     u.Phone,
				FullName:        u.Name,
				IsAuthenticated: true,
			})
			if _, ok := b.agents[agent.TaskManagerName]; ok {
				return agent.TaskManagerName
			}
		}
	}
	if _, ok := b.agents[agent.IdentityName]; ok {
		return agent.IdentityName
	}
	if len(b.order) > 0 {
		return b.order[0]
	}
	return ""
}

// opener returns the one-shot instruction that makes the model speak first.
func opener(name string, g *callctx.GlobalContext) string {
	switch name {
	case agent.TaskManagerName:
		u := g.User()
		if n, ok := g.Session.Scratchpad().Get("open_task_count"); ok {
			return fmt.Sprintf(
				"The call just connected. Greet %s by name, mention they have %v open tasks, and ask what they would like to do.",
				u.FullName, n)
		}
		return fmt.Sprintf("The call just connected. Greet %s by name and ask what they would like to do.", u.FullName)
	case agent.IdentityName:
		return "The call just connected and the caller is not registered. Greet them warmly, say you can set up an account in seconds, and ask for their name."
	default:
		return "The call just connected. Greet the caller briefly and ask how you can help."
	}
}
