package voiceio

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxloop/voxloop/internal/signal"
)

// browser frame types.
const (
	wsFrameText  = "text"
	wsFrameAudio = "audio"
	wsFrameError = "error"
)

// wsFrame is the JSON envelope exchanged with browser clients. Audio is
// base64 little-endian pcm16.
type wsFrame struct {
	Type       string `json:"type"`
	Agent      string `json:"agent,omitempty"`
	Text       string `json:"text,omitempty"`
	Data       string `json:"data,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// WSHandler adapts a browser websocket to the handler interface. Browser
// clients capture microphone pcm16 at 16 kHz and play back whatever sample
// rate the frame declares.
type WSHandler struct {
	sessionID string
	conn      *websocket.Conn
	signals   chan signal.Signal

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

var _ Handler = (*WSHandler)(nil)

// NewWSHandler wraps an accepted browser websocket connection.
func NewWSHandler(ctx context.Context, sessionID string, conn *websocket.Conn) *WSHandler {
	hctx, cancel := context.WithCancel(ctx)
	h := &WSHandler{
		sessionID: sessionID,
		conn:      conn,
		signals:   make(chan signal.Signal, 16),
		ctx:       hctx,
		cancel:    cancel,
	}
	go h.readLoop()
	return h
}

func (h *WSHandler) readLoop() {
	defer close(h.signals)
	for {
		_, data, err := h.conn.Read(h.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && h.ctx.Err() == nil {
				h.setErr(fmt.Errorf("voiceio: websocket read: %w", err))
			}
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Debug("voiceio: dropping malformed browser frame", "error", err)
			continue
		}

		var sig signal.Signal
		switch frame.Type {
		case wsFrameText:
			if frame.Text == "" {
				continue
			}
			sig = signal.NewText(h.sessionID, frame.Text)
		case wsFrameAudio:
			pcm, err := base64.StdEncoding.DecodeString(frame.Data)
			if err != nil || len(pcm) == 0 {
				continue
			}
			rate := frame.SampleRate
			if rate == 0 {
				rate = 16000
			}
			sig = signal.NewAudio(h.sessionID, pcm, rate, 1, signal.EncodingLinear16)
		default:
			continue
		}

		select {
		case h.signals <- sig:
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *WSHandler) Signals() <-chan signal.Signal { return h.signals }

func (h *WSHandler) Send(resp signal.Response) error {
	var frame wsFrame
	switch resp.Kind {
	case signal.ResponseText:
		frame = wsFrame{Type: wsFrameText, Agent: resp.AgentName, Text: resp.Text}
	case signal.ResponseAudio:
		frame = wsFrame{
			Type:       wsFrameAudio,
			Agent:      resp.AgentName,
			Data:       base64.StdEncoding.EncodeToString(resp.Audio),
			SampleRate: resp.SampleRate,
		}
	case signal.ResponseError:
		frame = wsFrame{Type: wsFrameError, Text: resp.Text}
	default:
		return nil
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("voiceio: marshal frame: %w", err)
	}
	if err := h.conn.Write(h.ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("voiceio: websocket write: %w", err)
	}
	return nil
}

func (h *WSHandler) setErr(err error) {
	h.mu.Lock()
	if h.err == nil {
		h.err = err
	}
	h.mu.Unlock()
}

func (h *WSHandler) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *WSHandler) Close() error {
	h.closeOnce.Do(func() {
		h.cancel()
		_ = h.conn.Close(websocket.StatusNormalClosure, "session ended")
	})
	return nil
}
