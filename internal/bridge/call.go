package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxloop/voxloop/internal/agent"
	"github.com/voxloop/voxloop/internal/callctx"
	"github.com/voxloop/voxloop/internal/fault"
	"github.com/voxloop/voxloop/internal/observe"
	"github.com/voxloop/voxloop/internal/observer"
	"github.com/voxloop/voxloop/internal/signal"
	"github.com/voxloop/voxloop/internal/voiceio"
	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/live"
)

// call is the state for one active telephony call.
type call struct {
	bridge    *Bridge
	conn      *websocket.Conn
	streamSid string
	global    *callctx.GlobalContext
	tracker   *observe.CallTracker
	observer  *observer.Observer

	// inRes upsamples caller audio 8 kHz to 16 kHz; outRes downsamples model
	// audio 24 kHz to 8 kHz. Both carry interpolation state across chunks
	// and are reset when a new model session starts speaking.
	inRes  *audio.Resampler
	outRes *audio.Resampler

	mu        sync.Mutex
	session   live.Session
	lastFrame time.Time

	retries         int
	timeoutPrompted bool
}

// markFrame records that the carrier socket just produced a frame.
func (c *call) markFrame() {
	c.mu.Lock()
	c.lastFrame = time.Now()
	c.mu.Unlock()
}

// carrierAlive verifies the carrier leg when no frame has arrived within the
// heartbeat window. Twilio stops sending media during long silences, so a
// quiet socket is pinged rather than hung up on; only a failed ping ends the
// call. A successful ping restarts the window.
func (c *call) carrierAlive(ctx context.Context) error {
	c.mu.Lock()
	last := c.lastFrame
	c.mu.Unlock()
	if time.Since(last) <= receiveHeartbeat {
		return nil
	}

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.conn.Ping(pctx); err != nil {
		return fmt.Errorf("bridge: carrier heartbeat: %w", err)
	}
	c.markFrame()
	return nil
}

// run drives the call until hangup, model exhaustion, or ctx cancellation.
func (c *call) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.closeSession()

	first := c.bridge.initialAgent(ctx, c, c.global.Session.MetadataString("from_number"))
	if first == "" {
		return errors.New("bridge: no agents registered")
	}
	if err := c.switchAgent(ctx, first, true); err != nil {
		return err
	}

	// Inbound pump: Twilio frames to the model.
	c.markFrame()
	pumpErr := make(chan error, 1)
	go func() {
		pumpErr <- c.inboundPump(ctx)
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		sess := c.currentSession()
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-pumpErr:
			// Caller hung up or the carrier socket died; either way the
			// call is over.
			return err

		case <-ticker.C:
			c.tracker.SampleSilence(ctx)
			if err := c.carrierAlive(ctx); err != nil {
				return err
			}
			if done := c.checkInactivity(ctx); done {
				return nil
			}

		case resp, ok := <-sess.Responses():
			if !ok {
				// The supervisor only sees a closed channel when the session
				// ended on its own; a swap installs the new session before
				// the old one is closed out of the loop.
				if c.currentSession() != sess {
					continue
				}
				if sessErr := sess.Err(); sessErr == nil {
					slog.Info("model session closed cleanly", "call_sid", c.global.Session.SessionID)
					return nil
				}
				if err := c.recoverSession(ctx, sess.Err()); err != nil {
					return err
				}
				continue
			}
			if err := c.handleModelResponse(ctx, resp); err != nil {
				return err
			}
		}
	}
}

// inboundPump reads Twilio frames and streams caller audio to the model. No
// read deadline here: an expiring read context would close the websocket, and
// silence is not an error. The supervisor's heartbeat check decides when a
// quiet socket is actually dead. Returns nil on a clean stop event.
func (c *call) inboundPump(ctx context.Context) error {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil
			}
			return fmt.Errorf("bridge: carrier socket: %w", err)
		}
		c.markFrame()

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Debug("dropping malformed carrier frame", "error", err)
			continue
		}

		switch ev.Event {
		case EventMedia:
			if ev.Media == nil {
				continue
			}
			mulaw, err := base64.StdEncoding.DecodeString(ev.Media.Payload)
			if err != nil || len(mulaw) == 0 {
				continue
			}
			pcm8k := audio.DecodeMulaw(mulaw)
			pcm16k := c.inRes.Process(pcm8k)
			if len(pcm16k) == 0 {
				continue
			}
			if err := c.currentSession().SendAudio(pcm16k); err != nil {
				slog.Warn("model audio send failed", "error", err)
			}

		case EventStop:
			return nil

		case EventMark, EventConnected:
			// Playback checkpoints and the banner frame carry no input.
		}
	}
}

// handleModelResponse dispatches one unit of model output.
func (c *call) handleModelResponse(ctx context.Context, resp live.Response) error {
	if resp.InputTranscription != "" {
		c.tracker.MarkUserSpeechEnd()
		c.global.RefreshTime()
		c.global.Session.Touch()
		c.timeoutPrompted = false
		c.global.Session.AppendTurn(callctx.RoleUser, resp.InputTranscription, c.global.Session.ActiveAgent())

		sig := signal.NewText(c.global.Session.SessionID, resp.InputTranscription)
		if iv := c.observer.Observe(sig); iv != nil {
			return c.dispatchIntervention(ctx, iv)
		}
	}

	if len(resp.Audio) > 0 {
		if err := c.sendAudioToCaller(ctx, resp.Audio); err != nil {
			return err
		}
	}

	if resp.Text != "" {
		c.global.Session.AppendTurn(callctx.RoleAssistant, resp.Text, c.global.Session.ActiveAgent())
		c.global.Session.LatchGreeting()
	}

	for _, tc := range resp.ToolCalls {
		if err := c.handleToolCall(ctx, tc); err != nil {
			return err
		}
	}
	return nil
}

// sendAudioToCaller downsamples model audio and writes a media frame.
func (c *call) sendAudioToCaller(ctx context.Context, pcm24k []byte) error {
	pcm8k := c.outRes.Process(pcm24k)
	if len(pcm8k) == 0 {
		return nil
	}
	frame, err := mediaEvent(c.streamSid, base64.StdEncoding.EncodeToString(audio.EncodeMulaw(pcm8k)))
	if err != nil {
		return err
	}
	if err := c.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("bridge: write media: %w", err)
	}
	c.tracker.MarkAudioSent(ctx)
	c.global.Session.LatchGreeting()
	return nil
}

// handleToolCall executes one model-requested tool. The transfer and
// registration tools are intercepted because they change who is on the call.
func (c *call) handleToolCall(ctx context.Context, tc live.ToolCall) error {
	active := c.bridge.agents[c.global.Session.ActiveAgent()]
	if active == nil {
		return fmt.Errorf("bridge: tool call %q with no active agent", tc.Name)
	}

	if tc.Name == agent.TransferTool {
		d := agent.DecisionFromTransfer(c.global, tc.Args)
		intent, _ := d.HandoverContext["user_intent"].(string)
		c.global.Session.PrepareHandoff(d.RouteTo, d.ThoughtProcess, intent)
		return c.switchAgent(ctx, d.RouteTo, false)
	}

	tool, _ := agent.FindTool(active, tc.Name)
	if tool.IsSlow {
		c.speakFiller(voiceio.FillerForTool(tc.Name))
	}

	start := time.Now()
	result, err := agent.ExecuteTool(ctx, active, c.global, tc.Name, tc.Args)
	c.tracker.RecordToolExecution(ctx, tc.Name, time.Since(start), err)
	if err != nil {
		var authErr *fault.AuthenticationError
		if errors.As(err, &authErr) {
			c.global.Session.PrepareHandoff(agent.IdentityName, "authentication required", "")
			return c.switchAgent(ctx, agent.IdentityName, false)
		}
		// Hand the model a structured error so it can apologise in voice.
		result = map[string]any{"status": "error", "message": err.Error()}
	}

	if tc.Name == agent.CreateUserTool {
		if status, _ := result["status"].(string); status == "created" || status == "existing" {
			c.installUser(result)
			c.global.Session.PrepareHandoff(agent.TaskManagerName, "registration complete", "")
			return c.switchAgent(ctx, agent.TaskManagerName, false)
		}
	}

	if err := c.currentSession().SendToolResponse(tc.CallID, tc.Name, result); err != nil {
		return fmt.Errorf("bridge: tool response: %w", err)
	}
	return nil
}

// installUser promotes a successful registration into the call state.
func (c *call) installUser(result map[string]any) {
	id, _ := result["user_id"].(string)
	name, _ := result["name"].(string)
	phone, _ := result["phone"].(string)
	if id == "" {
		return
	}
	c.global.SetUser(callctx.UserContext{
		UserID:          id,
		FullName:        name,
		PhoneNumber:     phone,
		IsAuthenticated: true,
	})
}

// switchAgent moves the call to the named agent and replaces the model
// session with one built from the new agent's prompt and tools. greet
// selects the cold-open instruction for the first agent on the call.
func (c *call) switchAgent(ctx context.Context, name string, greet bool) error {
	next, ok := c.bridge.agents[name]
	if !ok {
		// Burn the envelope and keep the current agent talking.
		c.global.Session.ConsumeHandoff()
		slog.Error("transfer to unknown agent", "target", name)
		c.speak("Apologise briefly: you could not transfer the caller, and ask how else you can help.")
		return nil
	}

	current := c.global.Session.ActiveAgent()
	c.tracker.RoutingStarted()
	if cur, ok := c.bridge.agents[current]; ok {
		if err := cur.OnExit(ctx, c.global); err != nil {
			slog.Warn("agent OnExit failed", "agent", current, "error", err)
		}
	}
	if err := next.OnEnter(ctx, c.global); err != nil {
		slog.Warn("agent OnEnter failed", "agent", name, "error", err)
	}
	c.global.Session.SwitchAgent(name)

	// The new agent's prompt consumes the pending handoff here.
	prompt, err := next.SystemPrompt(c.global)
	if err != nil {
		return err
	}

	if err := c.openSession(ctx, prompt, agent.Declarations(next.Tools())); err != nil {
		return err
	}
	c.tracker.RoutingCompleted(ctx, current, name)

	if greet {
		c.speak(opener(name, c.global))
	} else {
		c.speak("You have just taken over the call mid-conversation. Continue naturally from the context above; do not greet again.")
	}
	return nil
}

// openSession replaces the live model session. Queued outbound audio from
// the old agent is flushed so the caller never hears two voices overlap.
func (c *call) openSession(ctx context.Context, prompt string, tools []live.ToolDeclaration) error {
	c.closeSession()

	sess, err := c.bridge.provider.Open(ctx, live.SessionConfig{
		SystemPrompt: prompt,
		Tools:        tools,
	})
	if err != nil {
		return fmt.Errorf("bridge: open model session: %w", err)
	}

	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()

	// Fresh session, fresh interpolation state.
	c.outRes.Reset()

	if frame, err := clearEvent(c.streamSid); err == nil {
		_ = c.conn.Write(ctx, websocket.MessageText, frame)
	}
	// Twilio echoes the mark back once the flush has played out, labelling
	// the agent swap in the stream.
	if frame, err := markEvent(c.streamSid, "agent-switch"); err == nil {
		_ = c.conn.Write(ctx, websocket.MessageText, frame)
	}
	return nil
}

// recoverSession reopens the model session after an unexpected close.
// Repeated failures exhaust the retry budget and end the call.
func (c *call) recoverSession(ctx context.Context, sessErr error) error {
	c.retries++
	if c.retries > maxSessionRetries {
		return fmt.Errorf("bridge: model session failed %d times: %w", c.retries, sessErr)
	}
	slog.Warn("model session lost, reopening",
		"call_sid", c.global.Session.SessionID,
		"attempt", c.retries,
		"error", sessErr,
	)

	active := c.bridge.agents[c.global.Session.ActiveAgent()]
	if active == nil {
		return fmt.Errorf("bridge: session lost with no active agent: %w", sessErr)
	}
	prompt, err := active.SystemPrompt(c.global)
	if err != nil {
		return err
	}
	if err := c.openSession(ctx, prompt, agent.Declarations(active.Tools())); err != nil {
		return err
	}
	c.speak("The call dropped for a moment. Briefly apologise and pick up where you left off.")
	return nil
}

// dispatchIntervention reacts to an observer trigger mid-call. Detection
// pauses while the intervention is handled, then re-arms for the rest of the
// call.
func (c *call) dispatchIntervention(ctx context.Context, iv *fault.Intervention) error {
	c.observer.Cancel()
	defer c.observer.Reset()

	c.tracker.RecordIntervention(ctx, string(iv.Type))

	target := iv.TargetAgent
	if target == "" {
		return nil
	}
	if _, ok := c.bridge.agents[target]; !ok {
		c.speak("Tell the caller you are getting someone who can help, and stay on the line with them.")
		return nil
	}
	c.global.Session.PrepareHandoff(target, string(iv.Type), "")
	return c.switchAgent(ctx, target, false)
}

// checkInactivity prompts an idle caller once and ends the call on the
// second consecutive timeout.
func (c *call) checkInactivity(ctx context.Context) bool {
	iv := c.observer.CheckInactivity(c.global.Session)
	if iv == nil {
		return false
	}
	c.tracker.RecordIntervention(ctx, string(iv.Type))
	if c.timeoutPrompted {
		c.speak("Say goodbye: you have not heard from the caller, so you are ending the call.")
		return true
	}
	c.timeoutPrompted = true
	c.global.Session.Touch()
	c.speak("Ask the caller briefly if they are still there.")
	return false
}

// speakFiller asks the model to voice a holding phrase while a slow tool
// runs. The instruction goes out before the tool blocks, so the caller
// hears something within the latency budget.
func (c *call) speakFiller(typ voiceio.FillerType) {
	phrase := typ.Phrase()
	c.speak(fmt.Sprintf("Say exactly this short phrase to the caller now: %q", phrase))
	c.tracker.RecordFillerPlayed(context.Background(), string(typ), 0)
}

// speak sends a hidden stage direction to the model.
func (c *call) speak(instruction string) {
	if err := c.currentSession().SendText(instruction, true); err != nil {
		slog.Warn("stage direction failed", "error", err)
	}
}

func (c *call) currentSession() live.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *call) closeSession() {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess != nil {
		_ = sess.Close()
	}
}
