// Package observer implements the passive conversation monitor. It inspects
// every inbound signal without mutating it and raises a [fault.Intervention]
// when a hotword fires, sentiment collapses, or the caller goes quiet for too
// long. The orchestrator decides what the intervention means; the observer
// only detects.
package observer

import (
	"strings"
	"sync"
	"time"

	"github.com/voxloop/voxloop/internal/callctx"
	"github.com/voxloop/voxloop/internal/fault"
	"github.com/voxloop/voxloop/internal/signal"
)

// Default agent targets for interventions.
const (
	TargetHumanIntervention = "human_intervention"
	TargetRouter            = "router"
)

// SentimentThreshold is the score below which a sentiment intervention fires.
const SentimentThreshold = -0.7

// defaultHotwords maps each trigger word to the agent that should take over.
// Escalation words route to a human; correction words return to the router.
var defaultHotwords = map[string]string{
	"operator":   TargetHumanIntervention,
	"help":       TargetHumanIntervention,
	"emergency":  TargetHumanIntervention,
	"stop":       TargetRouter,
	"cancel":     TargetRouter,
	"nevermind":  TargetRouter,
	"never mind": TargetRouter,
}

// Option configures an [Observer].
type Option func(*Observer)

// WithHotwords replaces the default hotword table. Keys are matched as whole
// words, case-insensitively.
func WithHotwords(hw map[string]string) Option {
	return func(o *Observer) { o.hotwords = hw }
}

// WithSentiment enables or disables sentiment scoring.
func WithSentiment(enabled bool) Option {
	return func(o *Observer) { o.sentimentEnabled = enabled }
}

// WithInactivityTimeout sets the silence window after which a timeout
// intervention fires. Zero disables the check.
func WithInactivityTimeout(d time.Duration) Option {
	return func(o *Observer) { o.timeout = d }
}

// Observer inspects signals for intervention triggers. Safe for concurrent
// use. A cancelled observer passes everything through until Reset is called.
type Observer struct {
	hotwords         map[string]string
	sentimentEnabled bool
	timeout          time.Duration

	mu        sync.Mutex
	cancelled bool
}

// New creates an observer with the default hotword table and sentiment
// scoring disabled.
func New(opts ...Option) *Observer {
	o := &Observer{hotwords: defaultHotwords}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Cancel disarms the observer. Idempotent.
func (o *Observer) Cancel() {
	o.mu.Lock()
	o.cancelled = true
	o.mu.Unlock()
}

// Reset re-arms a cancelled observer. Idempotent.
func (o *Observer) Reset() {
	o.mu.Lock()
	o.cancelled = false
	o.mu.Unlock()
}

// Observe inspects one signal and returns a non-nil intervention when a
// trigger fires. Hotwords take precedence over sentiment. The signal itself
// is never modified.
func (o *Observer) Observe(sig signal.Signal) *fault.Intervention {
	o.mu.Lock()
	cancelled := o.cancelled
	o.mu.Unlock()
	if cancelled {
		return nil
	}

	text := sig.Transcription()
	if text == "" {
		return nil
	}

	if word, target, ok := o.matchHotword(text); ok {
		iv := fault.NewIntervention(fault.InterventionHotword, target, "hotword detected: "+word)
		iv.Details = map[string]any{"hotword": word}
		return iv
	}

	if o.sentimentEnabled {
		if score := ScoreSentiment(text); score < SentimentThreshold {
			iv := fault.NewIntervention(fault.InterventionSentiment, TargetHumanIntervention, "negative sentiment detected")
			iv.Details = map[string]any{"score": score}
			return iv
		}
	}

	return nil
}

// CheckInactivity returns a timeout intervention when the session has seen no
// activity for longer than the configured window. Nil when the window has not
// elapsed, the check is disabled, or the observer is cancelled.
func (o *Observer) CheckInactivity(sess *callctx.SessionContext) *fault.Intervention {
	o.mu.Lock()
	cancelled := o.cancelled
	o.mu.Unlock()
	if cancelled || o.timeout <= 0 {
		return nil
	}

	idle := time.Since(sess.LastActivity())
	if idle <= o.timeout {
		return nil
	}
	iv := fault.NewIntervention(fault.InterventionTimeout, "", "inactivity timeout")
	iv.Details = map[string]any{"idle_seconds": idle.Seconds()}
	return iv
}

// matchHotword scans the transcription for the first configured hotword,
// matching whole words only so "helpful" never triggers "help".
func (o *Observer) matchHotword(text string) (word, target string, ok bool) {
	norm := normalize(text)
	padded := " " + norm + " "
	for w, t := range o.hotwords {
		if strings.Contains(padded, " "+w+" ") {
			return w, t, true
		}
	}
	return "", "", false
}

// normalize lowercases text and strips punctuation so word matching only has
// to deal with space-separated tokens.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	prevSpace := false
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'':
			b.WriteRune(r)
			prevSpace = false
		default:
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
