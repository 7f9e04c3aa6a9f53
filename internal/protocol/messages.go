package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SessionKind discriminates the two downstream leg protocols.
type SessionKind string

const (
	KindTelephony SessionKind = "telephony"
	KindApp       SessionKind = "app"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	// ErrNoStream is returned when a telephony frame must carry a streamSid
	// that is not known yet. Callers drop the frame.
	ErrNoStream = errors.New("stream id not known yet")
)

// AnalysisContext is one previously analyzed document attached to an app session.
type AnalysisContext struct {
	FileName string `json:"fileName"`
	Analysis string `json:"analysis"`
}

// Decoded downstream messages. DecodeDownstream returns exactly one of these.
type (
	// AudioChunk carries one inbound base64 audio frame, already unwrapped
	// from the leg-specific envelope.
	AudioChunk struct {
		Payload string
	}

	// StartTelephony is the provider's one-shot start frame.
	StartTelephony struct {
		StreamSid string
		CallSid   string
	}

	// StartApp opens an app session, optionally with prior document analysis.
	StartApp struct {
		Contexts []AnalysisContext
	}

	// UpdateContext delivers new document analysis mid-session.
	UpdateContext struct {
		Contexts []AnalysisContext
	}

	// Stop is terminal for either leg.
	Stop struct{}
)

// DecodeDownstream translates one raw downstream message into the relay's
// internal representation. A malformed message yields an error the caller
// logs and drops; it never terminates the session.
func DecodeDownstream(kind SessionKind, raw []byte) (any, error) {
	switch kind {
	case KindTelephony:
		return decodeTelephony(raw)
	case KindApp:
		return decodeApp(raw)
	default:
		return nil, fmt.Errorf("unknown session kind %q", kind)
	}
}

// EncodeAudio wraps one upstream audio delta for the downstream peer.
// Telephony frames cannot be addressed without the streamSid from the start
// frame; until it is known the chunk is unsendable and the caller drops it.
func EncodeAudio(kind SessionKind, payload, streamSid string) ([]byte, error) {
	switch kind {
	case KindTelephony:
		if streamSid == "" {
			return nil, ErrNoStream
		}
		return json.Marshal(telephonyOutbound{
			Event:     "media",
			StreamSid: streamSid,
			Media:     &mediaPayload{Payload: payload},
		})
	case KindApp:
		return json.Marshal(appOutbound{Type: "audio", Data: payload})
	default:
		return nil, fmt.Errorf("unknown session kind %q", kind)
	}
}

// EncodeClear builds the barge-in signal for the downstream peer: Twilio has
// an explicit buffered-audio clear message, the app gets an interrupt
// advisory to stop local playback.
func EncodeClear(kind SessionKind, streamSid string) ([]byte, error) {
	switch kind {
	case KindTelephony:
		if streamSid == "" {
			return nil, ErrNoStream
		}
		return json.Marshal(telephonyOutbound{Event: "clear", StreamSid: streamSid})
	case KindApp:
		return json.Marshal(appOutbound{Type: "interrupt"})
	default:
		return nil, fmt.Errorf("unknown session kind %q", kind)
	}
}
