package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// App-leg frames use a "type" discriminator; audio is base64 PCM16 under data.
type appInbound struct {
	Type                string            `json:"type"`
	Data                string            `json:"data,omitempty"`
	AnalysisContextList []AnalysisContext `json:"analysisContextList,omitempty"`
	AnalysisContext     *AnalysisContext  `json:"analysisContext,omitempty"`
}

type appOutbound struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
}

// Transcript advisory shown live in the app UI.
type appTranscript struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Role string `json:"role"`
}

type appError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func decodeApp(raw []byte) (any, error) {
	var msg appInbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid app message: %w", err)
	}

	switch msg.Type {
	case "start_app":
		return StartApp{Contexts: contextList(msg)}, nil
	case "audio":
		if msg.Data == "" {
			return nil, errors.New("audio message missing data")
		}
		return AudioChunk{Payload: msg.Data}, nil
	case "update_context":
		ctxs := contextList(msg)
		if len(ctxs) == 0 {
			return nil, errors.New("update_context carries no context")
		}
		return UpdateContext{Contexts: ctxs}, nil
	case "stop":
		return Stop{}, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// contextList accepts both the list form and the legacy single-object form.
func contextList(msg appInbound) []AnalysisContext {
	if len(msg.AnalysisContextList) > 0 {
		return msg.AnalysisContextList
	}
	if msg.AnalysisContext != nil {
		return []AnalysisContext{*msg.AnalysisContext}
	}
	return nil
}

// EncodeTranscript wraps a completed transcript for the app UI.
func EncodeTranscript(text, role string) ([]byte, error) {
	return json.Marshal(appTranscript{Type: "transcript", Text: text, Role: role})
}

// EncodeSessionStarted acknowledges a successful upstream handshake to the app.
func EncodeSessionStarted() ([]byte, error) {
	return json.Marshal(appOutbound{Type: "session_started"})
}

// EncodeError reports a session-level failure to the app client. The
// telephony leg has no equivalent channel.
func EncodeError(detail string) ([]byte, error) {
	return json.Marshal(appError{Type: "error", Error: detail})
}
