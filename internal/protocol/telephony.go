package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Twilio Media Streams frames. Inbound messages use an "event" discriminator;
// media payloads are base64 mu-law 8kHz under media.payload.
type telephonyInbound struct {
	Event string `json:"event"`
	Start *struct {
		StreamSid string `json:"streamSid"`
		CallSid   string `json:"callSid"`
	} `json:"start,omitempty"`
	Media *mediaPayload `json:"media,omitempty"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

type telephonyOutbound struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid"`
	Media     *mediaPayload `json:"media,omitempty"`
}

func decodeTelephony(raw []byte) (any, error) {
	var msg telephonyInbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid telephony frame: %w", err)
	}

	switch msg.Event {
	case "start":
		if msg.Start == nil || msg.Start.StreamSid == "" {
			return nil, errors.New("start frame missing streamSid")
		}
		return StartTelephony{StreamSid: msg.Start.StreamSid, CallSid: msg.Start.CallSid}, nil
	case "media":
		if msg.Media == nil || msg.Media.Payload == "" {
			return nil, errors.New("media frame missing payload")
		}
		return AudioChunk{Payload: msg.Media.Payload}, nil
	case "stop":
		return Stop{}, nil
	case "connected", "mark":
		// Housekeeping frames Twilio sends that the relay does not act on.
		return nil, ErrUnsupportedType
	default:
		return nil, ErrUnsupportedType
	}
}
