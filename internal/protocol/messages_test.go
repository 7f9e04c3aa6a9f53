package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecodeTelephonyStart(t *testing.T) {
	raw := []byte(`{"event":"start","start":{"streamSid":"S1","callSid":"C1"}}`)
	got, err := DecodeDownstream(KindTelephony, raw)
	if err != nil {
		t.Fatalf("DecodeDownstream() error = %v", err)
	}
	start, ok := got.(StartTelephony)
	if !ok {
		t.Fatalf("decoded type = %T, want StartTelephony", got)
	}
	if start.StreamSid != "S1" || start.CallSid != "C1" {
		t.Fatalf("start = %+v, want StreamSid=S1 CallSid=C1", start)
	}
}

func TestTelephonyMediaRoundTrip(t *testing.T) {
	raw := []byte(`{"event":"media","media":{"payload":"AAA="}}`)
	got, err := DecodeDownstream(KindTelephony, raw)
	if err != nil {
		t.Fatalf("DecodeDownstream() error = %v", err)
	}
	chunk, ok := got.(AudioChunk)
	if !ok {
		t.Fatalf("decoded type = %T, want AudioChunk", got)
	}

	out, err := EncodeAudio(KindTelephony, chunk.Payload, "S1")
	if err != nil {
		t.Fatalf("EncodeAudio() error = %v", err)
	}
	var echo struct {
		Event     string `json:"event"`
		StreamSid string `json:"streamSid"`
		Media     struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}
	if err := json.Unmarshal(out, &echo); err != nil {
		t.Fatalf("unmarshal encoded frame: %v", err)
	}
	if echo.Event != "media" || echo.StreamSid != "S1" {
		t.Fatalf("encoded frame = %s, want media event for S1", out)
	}
	if echo.Media.Payload != "AAA=" {
		t.Fatalf("payload = %q, want %q preserved byte-for-byte", echo.Media.Payload, "AAA=")
	}
}

func TestEncodeAudioTelephonyWithoutStream(t *testing.T) {
	if _, err := EncodeAudio(KindTelephony, "AAA=", ""); !errors.Is(err, ErrNoStream) {
		t.Fatalf("EncodeAudio() error = %v, want ErrNoStream", err)
	}
}

func TestDecodeTelephonyMalformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"event":"media"}`,
		`{"event":"start","start":{}}`,
	} {
		if _, err := DecodeDownstream(KindTelephony, []byte(raw)); err == nil {
			t.Fatalf("DecodeDownstream(%q) error = nil, want parse error", raw)
		}
	}
}

func TestDecodeTelephonyIgnoresHousekeeping(t *testing.T) {
	_, err := DecodeDownstream(KindTelephony, []byte(`{"event":"mark"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("DecodeDownstream(mark) error = %v, want ErrUnsupportedType", err)
	}
}

func TestDecodeAppAudio(t *testing.T) {
	got, err := DecodeDownstream(KindApp, []byte(`{"type":"audio","data":"UENN"}`))
	if err != nil {
		t.Fatalf("DecodeDownstream() error = %v", err)
	}
	chunk, ok := got.(AudioChunk)
	if !ok || chunk.Payload != "UENN" {
		t.Fatalf("decoded = %#v, want AudioChunk{UENN}", got)
	}
}

func TestDecodeAppStartWithSingleContext(t *testing.T) {
	raw := []byte(`{"type":"start_app","analysisContext":{"fileName":"policy.pdf","analysis":"coverage summary"}}`)
	got, err := DecodeDownstream(KindApp, raw)
	if err != nil {
		t.Fatalf("DecodeDownstream() error = %v", err)
	}
	start, ok := got.(StartApp)
	if !ok {
		t.Fatalf("decoded type = %T, want StartApp", got)
	}
	if len(start.Contexts) != 1 || start.Contexts[0].FileName != "policy.pdf" {
		t.Fatalf("contexts = %+v, want single policy.pdf entry", start.Contexts)
	}
}

func TestDecodeAppUpdateContextList(t *testing.T) {
	raw := []byte(`{"type":"update_context","analysisContextList":[{"fileName":"a","analysis":"x"},{"fileName":"b","analysis":"y"}]}`)
	got, err := DecodeDownstream(KindApp, raw)
	if err != nil {
		t.Fatalf("DecodeDownstream() error = %v", err)
	}
	upd, ok := got.(UpdateContext)
	if !ok || len(upd.Contexts) != 2 {
		t.Fatalf("decoded = %#v, want UpdateContext with 2 entries", got)
	}
}

func TestDecodeAppUpdateContextEmpty(t *testing.T) {
	if _, err := DecodeDownstream(KindApp, []byte(`{"type":"update_context"}`)); err == nil {
		t.Fatalf("DecodeDownstream() error = nil, want error for empty update_context")
	}
}

func TestEncodeClearPerKind(t *testing.T) {
	out, err := EncodeClear(KindTelephony, "S1")
	if err != nil {
		t.Fatalf("EncodeClear(telephony) error = %v", err)
	}
	if !strings.Contains(string(out), `"event":"clear"`) || !strings.Contains(string(out), `"streamSid":"S1"`) {
		t.Fatalf("telephony clear = %s, want clear event with streamSid", out)
	}

	out, err = EncodeClear(KindApp, "")
	if err != nil {
		t.Fatalf("EncodeClear(app) error = %v", err)
	}
	if !strings.Contains(string(out), `"type":"interrupt"`) {
		t.Fatalf("app clear = %s, want interrupt advisory", out)
	}
}

func TestEncodeTranscript(t *testing.T) {
	out, err := EncodeTranscript("네, 수요일 오후 3시요", "user")
	if err != nil {
		t.Fatalf("EncodeTranscript() error = %v", err)
	}
	var msg appTranscript
	if err := json.Unmarshal(out, &msg); err != nil {
		t.Fatalf("unmarshal transcript: %v", err)
	}
	if msg.Type != "transcript" || msg.Role != "user" {
		t.Fatalf("transcript = %+v, want type=transcript role=user", msg)
	}
}
