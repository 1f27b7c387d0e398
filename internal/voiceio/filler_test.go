package voiceio

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxloop/voxloop/internal/signal"
)

func TestFillerForTool(t *testing.T) {
	tests := []struct {
		tool string
		want FillerType
	}{
		{"create_task", FillerCreating},
		{"create_user", FillerCreating},
		{"add_reminder", FillerCreating},
		{"search_tasks", FillerSearching},
		{"get_tasks", FillerSearching},
		{"get_task_summary", FillerSearching},
		{"lookup_user", FillerSearching},
		{"update_task", FillerToolExecution},
		{"delete_task", FillerToolExecution},
	}
	for _, tt := range tests {
		if got := FillerForTool(tt.tool); got != tt.want {
			t.Errorf("FillerForTool(%q) = %s, want %s", tt.tool, got, tt.want)
		}
	}
}

func TestFillerType_PhraseNonEmpty(t *testing.T) {
	for _, typ := range []FillerType{
		FillerRouting, FillerToolExecution, FillerThinking, FillerCreating, FillerSearching,
	} {
		if typ.Phrase() == "" {
			t.Errorf("%s has no phrase", typ)
		}
	}
	// Unknown types fall back instead of panicking.
	if FillerType("BOGUS").Phrase() == "" {
		t.Error("unknown type has no fallback phrase")
	}
}

func TestFiller_SpeaksAfterDelay(t *testing.T) {
	var mu sync.Mutex
	var spoken []string
	f := NewFiller(func(text string) {
		mu.Lock()
		spoken = append(spoken, text)
		mu.Unlock()
	}, 10*time.Millisecond)

	f.Start(FillerSearching)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(spoken) != 1 {
		t.Fatalf("spoke %d times, want 1", len(spoken))
	}
	if !f.Played() {
		t.Error("Played() = false after speaking")
	}
}

func TestFiller_CancelBeforeDelay(t *testing.T) {
	var mu sync.Mutex
	count := 0
	f := NewFiller(func(string) {
		mu.Lock()
		count++
		mu.Unlock()
	}, 30*time.Millisecond)

	f.Start(FillerToolExecution)
	f.Cancel()
	f.Cancel() // idempotent
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("cancelled filler spoke %d times", count)
	}
	if f.Played() {
		t.Error("Played() = true after cancel")
	}
}

func TestFiller_RestartReplacesPending(t *testing.T) {
	var mu sync.Mutex
	count := 0
	f := NewFiller(func(string) {
		mu.Lock()
		count++
		mu.Unlock()
	}, 20*time.Millisecond)

	f.Start(FillerCreating)
	f.Start(FillerSearching)
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("spoke %d times, want exactly 1", count)
	}
}

func TestCLIHandler_TextRoundTrip(t *testing.T) {
	in := strings.NewReader("hello\n\nadd a task\nquit\nignored\n")
	var out strings.Builder
	h := NewCLIHandler("s1", in, &out)
	defer h.Close()

	var got []string
	for sig := range h.Signals() {
		if sig.Kind != signal.KindText {
			t.Errorf("kind = %s", sig.Kind)
		}
		got = append(got, sig.Content)
	}
	if len(got) != 2 || got[0] != "hello" || got[1] != "add a task" {
		t.Errorf("signals = %v", got)
	}
	if err := h.Err(); err != nil {
		t.Errorf("Err() = %v", err)
	}

	if err := h.Send(signal.TextResponse("s1", "router", "hi there")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := h.Send(signal.AudioResponse("s1", "router", []byte{1, 2}, 24000)); err != nil {
		t.Fatalf("Send audio: %v", err)
	}
	if !strings.Contains(out.String(), "[router] hi there") {
		t.Errorf("output = %q", out.String())
	}
	if strings.Contains(out.String(), "\x01") {
		t.Error("audio bytes leaked into CLI output")
	}
}
