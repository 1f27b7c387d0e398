package voiceio

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// FillerType classifies the filler phrase spoken while something slow runs.
type FillerType string

const (
	FillerRouting       FillerType = "ROUTING"
	FillerToolExecution FillerType = "TOOL_EXECUTION"
	FillerThinking      FillerType = "THINKING"
	FillerCreating      FillerType = "CREATING"
	FillerSearching     FillerType = "SEARCHING"
)

// fillerPhrases holds the spoken variants per type. One is picked at random
// so back-to-back fillers do not sound canned.
var fillerPhrases = map[FillerType][]string{
	FillerRouting: {
		"One moment.",
		"Let me connect you.",
		"Just a second.",
	},
	FillerToolExecution: {
		"One moment please.",
		"Working on that.",
		"Just a moment.",
	},
	FillerThinking: {
		"Let me think.",
		"Hmm, one second.",
	},
	FillerCreating: {
		"Adding that now.",
		"Got it, saving that.",
		"Writing that down.",
	},
	FillerSearching: {
		"Let me check.",
		"Looking that up.",
		"One second, checking.",
	},
}

// Phrase returns a random phrase for the filler type.
func (f FillerType) Phrase() string {
	phrases := fillerPhrases[f]
	if len(phrases) == 0 {
		phrases = fillerPhrases[FillerToolExecution]
	}
	return phrases[rand.Intn(len(phrases))]
}

// FillerForTool maps a slow tool name to the filler that best matches what
// the caller is waiting for.
func FillerForTool(tool string) FillerType {
	switch {
	case strings.HasPrefix(tool, "create") || strings.HasPrefix(tool, "add"):
		return FillerCreating
	case strings.HasPrefix(tool, "search") || strings.HasPrefix(tool, "get") || strings.HasPrefix(tool, "list") || strings.HasPrefix(tool, "lookup"):
		return FillerSearching
	default:
		return FillerToolExecution
	}
}

// Filler speaks a delayed filler phrase, cancelled when the real answer
// arrives first. Cancel is idempotent and safe after the phrase has played.
type Filler struct {
	speak func(text string)
	delay time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	played bool
}

// NewFiller creates a filler player. speak is invoked from a background
// goroutine when the delay elapses before Cancel.
func NewFiller(speak func(text string), delay time.Duration) *Filler {
	return &Filler{speak: speak, delay: delay}
}

// Start arms the filler for the given type. A previously armed filler is
// cancelled first. Reports via Played whether the phrase ended up spoken.
func (f *Filler) Start(typ FillerType) {
	f.Cancel()

	ctx, cancel := context.WithCancel(context.Background())
	f.mu.Lock()
	f.cancel = cancel
	f.played = false
	f.mu.Unlock()

	go func() {
		timer := time.NewTimer(f.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// Only speak if this arm is still the current one.
		f.mu.Lock()
		armed := false
		if f.cancel != nil && ctx.Err() == nil {
			armed = true
			f.played = true
			f.cancel = nil
		}
		f.mu.Unlock()
		if armed {
			f.speak(typ.Phrase())
		}
	}()
}

// Cancel disarms a pending filler. Idempotent; calling with nothing armed or
// after the phrase has played is a no-op.
func (f *Filler) Cancel() {
	f.mu.Lock()
	cancel := f.cancel
	f.cancel = nil
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Played reports whether the most recently armed filler actually spoke.
func (f *Filler) Played() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.played
}
