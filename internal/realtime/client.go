package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("realtime session closed")

// Dialer opens upstream speech sessions.
type Dialer struct {
	URL    string
	APIKey string
	Logger *zap.Logger
}

// Client owns one outbound connection to the realtime speech endpoint.
// Writes are serialized; events are delivered on a single channel and the
// channel is closed when the transport goes away.
type Client struct {
	conn   *websocket.Conn
	events chan Event
	done   chan struct{}
	logger *zap.Logger

	writeMu sync.Mutex
	closed  bool

	closeOnce sync.Once
}

// Open establishes the connection and sends the configuration handshake.
// The handshake is fire-and-forget: the real acknowledgment arrives
// asynchronously as the first normal event.
func (d *Dialer) Open(ctx context.Context, cfg SessionConfig) (*Client, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime endpoint: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial realtime endpoint: %w", err)
	}

	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		conn:   conn,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		logger: logger,
	}

	if err := c.sendSessionUpdate(cfg, true); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send session handshake: %w", err)
	}

	go c.readLoop()
	return c, nil
}

// Events returns the normalized event stream. The channel closes after
// EventClosed is delivered.
func (c *Client) Events() <-chan Event {
	return c.events
}

// AppendAudio forwards one inbound base64 audio chunk to the upstream input
// buffer. Best effort: sends are skipped once the socket is closed.
func (c *Client) AppendAudio(payload string) error {
	return c.send(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": payload,
	})
}

// CreateResponse asks the upstream to start generating a response without
// waiting for caller audio. Used on outbound calls where the assistant
// speaks first.
func (c *Client) CreateResponse() error {
	return c.send(map[string]any{
		"type": "response.create",
		"response": map[string]any{
			"modalities": []string{"text", "audio"},
		},
	})
}

// Truncate stops a specific in-flight assistant output item.
func (c *Client) Truncate(itemID string) error {
	return c.send(map[string]any{
		"type":          "conversation.item.truncate",
		"item_id":       itemID,
		"content_index": 0,
		"audio_end_ms":  0,
	})
}

// UpdateInstructions sends an instructions-only reconfiguration, leaving
// audio format and voice untouched.
func (c *Client) UpdateInstructions(instructions string) error {
	return c.send(map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"instructions": instructions,
		},
	})
}

// Close is idempotent and safe to call concurrently with the read loop.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.closed = true
		c.writeMu.Unlock()
		close(c.done)
		_ = c.conn.Close()
	})
	return nil
}

func (c *Client) sendSessionUpdate(cfg SessionConfig, full bool) error {
	session := map[string]any{
		"instructions": cfg.Instructions,
	}
	if full {
		session["modalities"] = []string{"text", "audio"}
		session["voice"] = cfg.Voice
		session["input_audio_format"] = cfg.AudioFormat
		session["output_audio_format"] = cfg.AudioFormat
		session["input_audio_transcription"] = map[string]any{
			"model":    cfg.TranscriptionModel,
			"language": cfg.Language,
		}
		session["turn_detection"] = map[string]any{
			"type":                "server_vad",
			"threshold":           cfg.VADThreshold,
			"prefix_padding_ms":   cfg.PrefixPaddingMS,
			"silence_duration_ms": cfg.SilenceDurationMS,
		}
	}
	return c.send(map[string]any{"type": "session.update", "session": session})
}

func (c *Client) send(msg map[string]any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.conn.WriteJSON(msg)
}

// upstreamEvent covers every provider event shape the relay cares about.
type upstreamEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Item       *struct {
		ID string `json:"id"`
	} `json:"item,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// emit delivers one event unless the client is closed. A consumer that
// stopped draining must not pin the read loop on a full channel.
func (c *Client) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.emit(Event{Kind: EventClosed, Detail: err.Error()})
			return
		}

		var ev upstreamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warn("unparseable upstream event dropped", zap.Error(err))
			continue
		}

		switch ev.Type {
		case "response.audio.delta":
			if ev.Delta != "" && !c.emit(Event{Kind: EventAudioDelta, Audio: ev.Delta}) {
				return
			}
		case "response.output_item.added":
			if ev.Item != nil && !c.emit(Event{Kind: EventOutputItemStarted, ItemID: ev.Item.ID}) {
				return
			}
		case "input_audio_buffer.speech_started":
			if !c.emit(Event{Kind: EventTurnStarted}) {
				return
			}
		case "conversation.item.input_audio_transcription.completed":
			if !c.emit(Event{Kind: EventInputTranscriptDone, Text: ev.Transcript}) {
				return
			}
		case "response.audio_transcript.done":
			if !c.emit(Event{Kind: EventOutputTranscriptDone, Text: ev.Transcript}) {
				return
			}
		case "error":
			detail := "upstream error"
			if ev.Error != nil {
				detail = ev.Error.Message
			}
			if !c.emit(Event{Kind: EventError, Detail: detail}) {
				return
			}
		}
	}
}
