package voiceio

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/voxloop/voxloop/internal/signal"
)

// CLIHandler is the development channel: lines typed on stdin become text
// signals, responses print to stdout. Audio responses are skipped.
type CLIHandler struct {
	sessionID string
	out       io.Writer
	signals   chan signal.Signal

	mu        sync.Mutex
	err       error
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

var _ Handler = (*CLIHandler)(nil)

// NewCLIHandler creates a CLI handler reading lines from in. Typing "quit"
// or "exit" (or closing stdin) ends the session.
func NewCLIHandler(sessionID string, in io.Reader, out io.Writer) *CLIHandler {
	h := &CLIHandler{
		sessionID: sessionID,
		out:       out,
		signals:   make(chan signal.Signal),
		done:      make(chan struct{}),
	}
	go h.readLoop(in)
	return h
}

func (h *CLIHandler) readLoop(in io.Reader) {
	defer close(h.signals)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return
		}
		select {
		case h.signals <- signal.NewText(h.sessionID, line):
		case <-h.done:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
	}
}

func (h *CLIHandler) Signals() <-chan signal.Signal { return h.signals }

func (h *CLIHandler) Send(resp signal.Response) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	switch resp.Kind {
	case signal.ResponseText:
		_, err := fmt.Fprintf(h.out, "[%s] %s\n", resp.AgentName, resp.Text)
		return err
	case signal.ResponseError:
		_, err := fmt.Fprintf(h.out, "[error] %s\n", resp.Text)
		return err
	}
	return nil
}

func (h *CLIHandler) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *CLIHandler) Close() error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()
		close(h.done)
	})
	return nil
}
