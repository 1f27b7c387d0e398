package observe

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Warning thresholds for VUI latency metrics. Crossing a threshold raises
// the log level from info to warn but never alters control flow.
const (
	TTFAWarnThreshold    = 500 * time.Millisecond
	RoutingWarnThreshold = 200 * time.Millisecond
	SilenceWarnThreshold = 1000 * time.Millisecond
)

// CallTracker measures the VUI metrics for one call: TTFA, routing latency,
// silence episodes, tool execution, and filler playback. Safe for concurrent
// use; the pumps and the silence monitor all feed it.
type CallTracker struct {
	sessionID string
	metrics   *Metrics

	mu            sync.Mutex
	userSpeechEnd time.Time // zero when no utterance is awaiting first audio
	lastAudio     time.Time
	silenceWarned bool
	routingStart  time.Time
}

// NewCallTracker creates a tracker for the given session. metrics may not
// be nil; use [DefaultMetrics] when no custom provider is wired.
func NewCallTracker(sessionID string, metrics *Metrics) *CallTracker {
	return &CallTracker{
		sessionID: sessionID,
		metrics:   metrics,
		lastAudio: time.Now(),
	}
}

// MarkUserSpeechEnd stamps the end of a user utterance. The next audio frame
// sent to the user closes the TTFA interval. Causality is preserved: a TTFA
// event is only emitted when a speech-end stamp exists.
func (t *CallTracker) MarkUserSpeechEnd() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.userSpeechEnd = time.Now()
}

// MarkAudioSent stamps an outgoing audio frame. The first frame after a
// speech-end stamp records TTFA; every frame resets the silence episode.
func (t *CallTracker) MarkAudioSent(ctx context.Context) {
	now := time.Now()

	t.mu.Lock()
	speechEnd := t.userSpeechEnd
	t.userSpeechEnd = time.Time{}
	t.lastAudio = now
	t.silenceWarned = false
	t.mu.Unlock()

	if speechEnd.IsZero() {
		return
	}
	d := now.Sub(speechEnd)
	t.metrics.TTFADuration.Record(ctx, d.Seconds())
	logAt(d > TTFAWarnThreshold, "first_audio_sent",
		"session_id", t.sessionID,
		"metric", string(MetricTTFA),
		"value_ms", d.Milliseconds(),
	)
}

// RoutingStarted stamps the beginning of an agent switch.
func (t *CallTracker) RoutingStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routingStart = time.Now()
}

// RoutingCompleted records the agent-switch latency since RoutingStarted.
// A completion without a matching start is ignored.
func (t *CallTracker) RoutingCompleted(ctx context.Context, from, to string) {
	t.mu.Lock()
	start := t.routingStart
	t.routingStart = time.Time{}
	t.mu.Unlock()

	if start.IsZero() {
		return
	}
	d := time.Since(start)
	t.metrics.RoutingDuration.Record(ctx, d.Seconds())
	t.metrics.RecordAgentSwitch(ctx, from, to)
	logAt(d > RoutingWarnThreshold, "routing_complete",
		"session_id", t.sessionID,
		"metric", string(MetricRoutingLatency),
		"value_ms", d.Milliseconds(),
		"from", from,
		"to", to,
	)
}

// SampleSilence checks wall-clock time since the last outgoing audio frame.
// Call it at roughly 1 Hz. A silence episode emits at most one event; the
// episode ends when the next audio frame is sent.
func (t *CallTracker) SampleSilence(ctx context.Context) {
	t.mu.Lock()
	since := time.Since(t.lastAudio)
	warned := t.silenceWarned
	if since > SilenceWarnThreshold && !warned {
		t.silenceWarned = true
	}
	t.mu.Unlock()

	if since <= SilenceWarnThreshold || warned {
		return
	}
	t.metrics.SilenceDuration.Record(ctx, since.Seconds())
	slog.Warn("silence_threshold_exceeded",
		"session_id", t.sessionID,
		"metric", string(MetricSilence),
		"value_ms", since.Milliseconds(),
	)
}

// RecordToolExecution records the wall-clock duration of one tool call.
func (t *CallTracker) RecordToolExecution(ctx context.Context, tool string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	t.metrics.ToolExecutionDuration.Record(ctx, d.Seconds())
	t.metrics.RecordToolCall(ctx, tool, status)
	slog.Info("tool_executed",
		"session_id", t.sessionID,
		"metric", string(MetricToolExecution),
		"tool", tool,
		"value_ms", d.Milliseconds(),
		"status", status,
	)
}

// RecordFillerPlayed records how long a filler utterance played.
func (t *CallTracker) RecordFillerPlayed(ctx context.Context, kind string, d time.Duration) {
	t.metrics.FillerDuration.Record(ctx, d.Seconds())
	slog.Info("filler_played",
		"session_id", t.sessionID,
		"metric", string(MetricFillerPlayed),
		"filler", kind,
		"value_ms", d.Milliseconds(),
	)
}

// RecordIntervention records an observer intervention.
func (t *CallTracker) RecordIntervention(ctx context.Context, typ string) {
	t.metrics.RecordIntervention(ctx, typ)
	slog.Info("intervention",
		"session_id", t.sessionID,
		"type", typ,
	)
}

// logAt logs at warn level when the threshold was crossed, info otherwise.
func logAt(warn bool, msg string, args ...any) {
	if warn {
		slog.Warn(msg, args...)
		return
	}
	slog.Info(msg, args...)
}
