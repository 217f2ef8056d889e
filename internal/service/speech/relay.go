package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yuechen/ai-roleplay/backend/internal/config"
)

var ErrEmptyText = errors.New("tts text is empty")

// Request 描述一次流式合成。Token 为空时由签发器按需获取。
type Request struct {
	Text       string `json:"text"`
	Token      string `json:"token,omitempty"`
	Voice      string `json:"voice,omitempty"`
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// TokenProvider 供中继按需取短期凭证。
type TokenProvider interface {
	Token(ctx context.Context) (Token, error)
}

// Relay drives the ISI session protocol (start, run, stop, drain) and
// re-frames the provider's audio frames as a byte-chunk stream.
type Relay struct {
	cfg    config.SpeechConfig
	issuer TokenProvider
	dialer *websocket.Dialer
}

// NewRelay 创建语音中继。
func NewRelay(cfg config.SpeechConfig, issuer TokenProvider) *Relay {
	return &Relay{
		cfg:    cfg,
		issuer: issuer,
		dialer: &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
	}
}

// Synthesize opens a provider session and returns a finite, non-restartable
// stream of audio chunks. Validation and credential errors surface before
// any connection attempt; once the channel exists, a mid-stream provider
// failure simply ends it early (already yielded chunks stand, no retry).
// Cancelling ctx tears the provider connection down.
func (r *Relay) Synthesize(ctx context.Context, req Request) (<-chan []byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	if r.cfg.AppKey == "" {
		return nil, fmt.Errorf("缺少 ISI_APPKEY")
	}

	token := strings.TrimSpace(req.Token)
	if token == "" {
		issued, err := r.issuer.Token(ctx)
		if err != nil {
			return nil, err
		}
		token = issued.ID
	}

	voice := req.Voice
	if voice == "" {
		voice = "xiaoyun"
	}
	format := req.Format
	if format == "" {
		format = "mp3"
	}
	sampleRate := req.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	header := http.Header{}
	header.Set("X-NLS-Token", token)

	conn, _, err := r.dialer.DialContext(ctx, r.cfg.WSURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to speech gateway: %w", err)
	}

	taskID := hexID()
	controls := []envelope{
		newEnvelope(taskID, nameStartSynthesis, r.cfg.AppKey, map[string]any{
			"voice":       voice,
			"format":      format,
			"sample_rate": sampleRate,
		}),
		newEnvelope(taskID, nameRunSynthesis, r.cfg.AppKey, map[string]any{
			"text": req.Text,
		}),
		newEnvelope(taskID, nameStopSynthesis, r.cfg.AppKey, nil),
	}
	for _, control := range controls {
		if err := conn.WriteJSON(control); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to send %s: %w", control.Header.Name, err)
		}
	}

	chunks := make(chan []byte)
	go r.receive(ctx, conn, taskID, chunks)
	return chunks, nil
}

// receive drains the connection: binary frames become audio chunks, text
// frames are control events, and the connection is closed on every exit.
func (r *Relay) receive(ctx context.Context, conn *websocket.Conn, taskID string, chunks chan<- []byte) {
	defer close(chunks)
	defer conn.Close()

	// ReadMessage has no ctx; closing the connection unblocks it when the
	// caller disconnects.
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-finished:
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			// Dropped connection: the stream just ends early.
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("[speech] task=%s connection closed: %v", taskID, err)
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			select {
			case chunks <- data:
			case <-ctx.Done():
				return
			}
		case websocket.TextMessage:
			var event controlEvent
			if err := json.Unmarshal(data, &event); err != nil {
				continue // malformed control frames are not fatal
			}
			switch event.Header.Name {
			case eventSynthesisCompleted:
				return
			case eventTaskFailed:
				log.Printf("[speech] task=%s failed: status=%d %s",
					taskID, event.Header.Status, event.Header.StatusText)
				return
			}
			// Other event names (SynthesisStarted, SentenceBegin, ...) are
			// informational.
		}
	}
}
