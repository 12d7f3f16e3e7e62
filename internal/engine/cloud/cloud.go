// Package cloud implements the hosted recognizer engine over a persistent
// WebSocket. The daemon dials once on load and reuses the connection for
// every utterance of the session; audio goes up as binary PCM frames framed
// by start/end text messages, transcript events come back as JSON text
// messages:
//
//	→ {"type":"start","utterance_id":"u1","sample_rate":16000,"language":"en"}
//	→ <binary little-endian int16 PCM, chunked>
//	→ {"type":"end","utterance_id":"u1"}
//	← {"type":"partial","utterance_id":"u1","text":"hello"}
//	← {"type":"final","utterance_id":"u1","text":"hello world","confidence":0.93}
package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/dictalabs/dicta-core/internal/audio"
	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/engine"
	"github.com/dictalabs/dicta-core/internal/vad"
)

// chunkSamples is the upload granularity (~100ms at 16kHz).
const chunkSamples = 1600

const dialTimeout = 10 * time.Second

type clientMessage struct {
	Type        string `json:"type"` // start, end
	UtteranceID string `json:"utterance_id"`
	SampleRate  int    `json:"sample_rate,omitempty"`
	Language    string `json:"language,omitempty"`
}

type serverMessage struct {
	Type        string  `json:"type"` // partial, final, error
	UtteranceID string  `json:"utterance_id"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
	Message     string  `json:"message"`
}

// Adapter streams utterances to the hosted recognizer. The session
// controller serializes Feed calls, so a single connection guarded by mu is
// enough; a connection lost mid-utterance fails that utterance and the next
// Feed redials.
type Adapter struct {
	cfg config.EngineConfig
	log *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	loaded bool
}

func New(cfg config.EngineConfig, log *slog.Logger) *Adapter {
	return &Adapter{
		cfg: cfg,
		log: log.With(slog.String("component", "engine.cloud")),
	}
}

func (a *Adapter) Descriptor() engine.Descriptor {
	desc := engine.Descriptor{
		ID:        "cloud",
		Streaming: true,
		Languages: []string{a.cfg.Language},
	}
	if a.cfg.CloudURL == "" {
		desc.Detail = "engine.cloud_url not configured"
		return desc
	}
	desc.Available = true
	return desc
}

// Load dials the recognizer endpoint and keeps the connection for the whole
// session.
func (a *Adapter) Load(ctx context.Context) error {
	if a.cfg.CloudURL == "" {
		return fmt.Errorf("%w: engine.cloud_url not configured", engine.ErrLoadFailed)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loaded && a.conn != nil {
		return nil
	}

	conn, err := a.dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrLoadFailed, err)
	}
	a.conn = conn
	a.loaded = true
	a.log.Info("connected to cloud recognizer", slog.String("url", a.cfg.CloudURL))
	return nil
}

func (a *Adapter) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	opts := &websocket.DialOptions{}
	if a.cfg.CloudToken != "" {
		opts.HTTPHeader = http.Header{
			"Authorization": []string{"Bearer " + a.cfg.CloudToken},
		}
	}
	conn, _, err := websocket.Dial(dialCtx, a.cfg.CloudURL, opts)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", a.cfg.CloudURL, err)
	}
	// Utterances can exceed the 32KiB default.
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

func (a *Adapter) Feed(ctx context.Context, utt *vad.Utterance, emit func(engine.TranscriptEvent)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.loaded {
		return engine.ErrNotLoaded
	}
	if a.conn == nil {
		// Previous utterance lost the connection.
		conn, err := a.dial(ctx)
		if err != nil {
			return fmt.Errorf("%w: reconnect: %v", engine.ErrInferenceFailed, err)
		}
		a.conn = conn
		a.log.Info("reconnected to cloud recognizer")
	}

	err := a.feed(ctx, a.conn, utt, emit)
	if err != nil {
		if ctx.Err() != nil {
			err = engine.ErrCancelled
		}
		a.conn.Close(websocket.StatusInternalError, "utterance failed")
		a.conn = nil
	}
	return err
}

func (a *Adapter) feed(ctx context.Context, conn *websocket.Conn, utt *vad.Utterance, emit func(engine.TranscriptEvent)) error {
	if err := writeJSON(ctx, conn, clientMessage{
		Type:        "start",
		UtteranceID: utt.ID,
		SampleRate:  utt.SampleRate,
		Language:    a.cfg.Language,
	}); err != nil {
		return fmt.Errorf("%w: send start: %v", engine.ErrInferenceFailed, err)
	}

	samples := utt.Samples
	for len(samples) > 0 {
		n := chunkSamples
		if n > len(samples) {
			n = len(samples)
		}
		if err := conn.Write(ctx, websocket.MessageBinary, audio.Int16ToBytes(samples[:n])); err != nil {
			return fmt.Errorf("%w: send audio: %v", engine.ErrInferenceFailed, err)
		}
		samples = samples[n:]
	}

	if err := writeJSON(ctx, conn, clientMessage{Type: "end", UtteranceID: utt.ID}); err != nil {
		return fmt.Errorf("%w: send end: %v", engine.ErrInferenceFailed, err)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("%w: read event: %v", engine.ErrInferenceFailed, err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			a.log.Warn("unparseable recognizer event", slog.String("data", string(data)))
			continue
		}
		if msg.UtteranceID != "" && msg.UtteranceID != utt.ID {
			// Stale event from a failed earlier utterance.
			continue
		}
		switch msg.Type {
		case "partial":
			emit(engine.TranscriptEvent{UtteranceID: utt.ID, Text: msg.Text, Confidence: msg.Confidence})
		case "final":
			emit(engine.TranscriptEvent{UtteranceID: utt.ID, Text: msg.Text, Final: true, Confidence: msg.Confidence})
			return nil
		case "error":
			return fmt.Errorf("%w: recognizer: %s", engine.ErrInferenceFailed, msg.Message)
		default:
			a.log.Warn("unknown recognizer event type", slog.String("type", msg.Type))
		}
	}
}

func (a *Adapter) Unload() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.loaded = false
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close(websocket.StatusNormalClosure, "session closed")
	a.conn = nil
	if err != nil {
		return fmt.Errorf("close cloud connection: %w", err)
	}
	return nil
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
