package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/owantlab/arkgenie/internal/protocol"
	"github.com/owantlab/arkgenie/internal/realtime"
)

type fakeUpstream struct {
	mu           sync.Mutex
	appended     []string
	responses    int
	truncated    []string
	instructions []string
	closes       int

	events chan realtime.Event
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{events: make(chan realtime.Event, 16)}
}

func (f *fakeUpstream) AppendAudio(payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, payload)
	return nil
}

func (f *fakeUpstream) CreateResponse() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses++
	return nil
}

func (f *fakeUpstream) Truncate(itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.truncated = append(f.truncated, itemID)
	return nil
}

func (f *fakeUpstream) UpdateInstructions(instructions string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instructions = append(f.instructions, instructions)
	return nil
}

func (f *fakeUpstream) Events() <-chan realtime.Event { return f.events }

func (f *fakeUpstream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeUpstream) emit(ev realtime.Event) { f.events <- ev }

func (f *fakeUpstream) snapshotAppended() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.appended...)
}

func (f *fakeUpstream) snapshotTruncated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.truncated...)
}

func (f *fakeUpstream) snapshotInstructions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.instructions...)
}

func (f *fakeUpstream) responseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.responses
}

func (f *fakeUpstream) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeCalls struct {
	completed chan string
}

func newFakeCalls() *fakeCalls { return &fakeCalls{completed: make(chan string, 4)} }

func (f *fakeCalls) CompleteCall(_ context.Context, callSid string) error {
	f.completed <- callSid
	return nil
}

type stubPrompts struct{}

func (stubPrompts) Phone(purpose, customerName string) string {
	return "phone instructions for " + customerName + ": " + purpose
}

func (stubPrompts) App(contexts []protocol.AnalysisContext) string {
	parts := make([]string, 0, len(contexts))
	for _, cc := range contexts {
		parts = append(parts, cc.Analysis)
	}
	return "app instructions " + strings.Join(parts, "; ")
}

type harness struct {
	inbound  chan []byte
	outbound chan []byte
	done     chan error
	stopped  chan struct{}
	up       *fakeUpstream
	calls    *fakeCalls
	cancel   context.CancelFunc
}

// startSession runs a session against a fake upstream that opens immediately.
func startSession(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		inbound:  make(chan []byte),
		outbound: make(chan []byte, 32),
		done:     make(chan error, 1),
		stopped:  make(chan struct{}),
		up:       newFakeUpstream(),
		calls:    newFakeCalls(),
	}
	if opts.Open == nil {
		opts.Open = func(context.Context, realtime.SessionConfig) (Upstream, error) {
			return h.up, nil
		}
	}
	if opts.Calls == nil {
		opts.Calls = h.calls
	}
	if opts.Prompts == nil {
		opts.Prompts = stubPrompts{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.stopped:
		case <-time.After(2 * time.Second):
			t.Fatalf("session did not stop")
		}
	})

	s := New(opts)
	go func() {
		h.done <- s.Run(ctx, h.inbound, h.outbound)
		close(h.stopped)
	}()
	return h
}

func (h *harness) send(t *testing.T, frame string) {
	t.Helper()
	select {
	case h.inbound <- []byte(frame):
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not accept frame %s", frame)
	}
}

func (h *harness) recv(t *testing.T) map[string]any {
	t.Helper()
	select {
	case raw, ok := <-h.outbound:
		if !ok {
			t.Fatalf("outbound closed while expecting a frame")
		}
		var decoded map[string]any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("invalid outbound frame %s: %v", raw, err)
		}
		return decoded
	case <-time.After(2 * time.Second):
		t.Fatalf("no outbound frame")
		return nil
	}
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

const startFrame = `{"event":"start","start":{"streamSid":"S1","callSid":"C1"}}`

func mediaFrame(payload string) string {
	return `{"event":"media","media":{"payload":"` + payload + `"}}`
}

func telephonyOptions(policy HangupPolicy) Options {
	return Options{Kind: protocol.KindTelephony, Hangup: policy}
}

func TestTelephonyCallFlow(t *testing.T) {
	h := startSession(t, telephonyOptions(testPolicy()))

	h.send(t, startFrame)
	waitFor(t, "initial response request", func() bool { return h.up.responseCount() == 1 })

	h.send(t, mediaFrame("AAA="))
	waitFor(t, "audio forwarded upstream", func() bool {
		got := h.up.snapshotAppended()
		return len(got) == 1 && got[0] == "AAA="
	})

	h.up.emit(realtime.Event{Kind: realtime.EventAudioDelta, Audio: "QUJD"})
	frame := h.recv(t)
	if frame["event"] != "media" || frame["streamSid"] != "S1" {
		t.Fatalf("outbound frame = %v, want media for S1", frame)
	}
	media, _ := frame["media"].(map[string]any)
	if media["payload"] != "QUJD" {
		t.Fatalf("payload = %v, want QUJD", media["payload"])
	}

	h.send(t, `{"event":"stop"}`)
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not end after stop")
	}
	if h.up.closeCount() != 1 {
		t.Fatalf("upstream closes = %d, want 1", h.up.closeCount())
	}
}

func TestDuplicateStartIgnored(t *testing.T) {
	var mu sync.Mutex
	opens := 0
	opts := telephonyOptions(testPolicy())
	up := newFakeUpstream()
	opts.Open = func(context.Context, realtime.SessionConfig) (Upstream, error) {
		mu.Lock()
		opens++
		mu.Unlock()
		return up, nil
	}
	h := startSession(t, opts)
	h.up = up

	h.send(t, startFrame)
	waitFor(t, "first open", func() bool { return up.responseCount() == 1 })
	h.send(t, `{"event":"start","start":{"streamSid":"S2","callSid":"C2"}}`)
	h.send(t, mediaFrame("AAA=")) // forces the loop past the duplicate start

	waitFor(t, "audio after duplicate start", func() bool { return len(up.snapshotAppended()) == 1 })
	mu.Lock()
	defer mu.Unlock()
	if opens != 1 {
		t.Fatalf("upstream opened %d times, want 1", opens)
	}
}

func TestPendingAudioFlushedInOrder(t *testing.T) {
	release := make(chan struct{})
	opts := telephonyOptions(testPolicy())
	up := newFakeUpstream()
	opts.Open = func(ctx context.Context, _ realtime.SessionConfig) (Upstream, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return up, nil
	}
	h := startSession(t, opts)
	h.up = up

	h.send(t, startFrame)
	h.send(t, mediaFrame("AA=="))
	h.send(t, mediaFrame("AB=="))
	h.send(t, mediaFrame("AC=="))
	close(release)

	waitFor(t, "queued audio flushed", func() bool { return len(up.snapshotAppended()) == 3 })
	got := up.snapshotAppended()
	want := []string{"AA==", "AB==", "AC=="}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("flushed audio = %v, want %v", got, want)
		}
	}
	if up.responseCount() != 1 {
		t.Fatalf("responses = %d, want 1", up.responseCount())
	}
}

func TestPendingAudioBounded(t *testing.T) {
	release := make(chan struct{})
	opts := telephonyOptions(testPolicy())
	opts.PendingAudioCap = 2
	up := newFakeUpstream()
	opts.Open = func(ctx context.Context, _ realtime.SessionConfig) (Upstream, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return up, nil
	}
	h := startSession(t, opts)
	h.up = up

	h.send(t, startFrame)
	h.send(t, mediaFrame("AA=="))
	h.send(t, mediaFrame("AB=="))
	h.send(t, mediaFrame("AC=="))
	// A housekeeping frame forces the loop to finish processing the last
	// media frame before the upstream is released.
	h.send(t, `{"event":"mark"}`)
	close(release)

	waitFor(t, "bounded queue flushed", func() bool { return len(up.snapshotAppended()) == 2 })
	got := up.snapshotAppended()
	if got[0] != "AB==" || got[1] != "AC==" {
		t.Fatalf("flushed audio = %v, want oldest frame dropped", got)
	}
}

func TestTeardownDuringOpenClosesLateUpstream(t *testing.T) {
	release := make(chan struct{})
	opts := telephonyOptions(testPolicy())
	up := newFakeUpstream()
	opts.Open = func(context.Context, realtime.SessionConfig) (Upstream, error) {
		<-release
		return up, nil
	}
	h := startSession(t, opts)
	h.up = up

	h.send(t, startFrame)
	h.send(t, `{"event":"stop"}`)
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not end while the upstream was still opening")
	}

	// The dial finishes after the session is gone; the opener must reap it.
	close(release)
	waitFor(t, "late upstream closed", func() bool { return up.closeCount() == 1 })
	if got := up.responseCount(); got != 0 {
		t.Fatalf("responses = %d, want the late upstream never driven", got)
	}
}

func TestBargeInWithoutOutputItem(t *testing.T) {
	opts := Options{Kind: protocol.KindApp}
	h := startSession(t, opts)

	h.send(t, `{"type":"start_app"}`)
	if frame := h.recv(t); frame["type"] != "session_started" {
		t.Fatalf("first frame = %v, want session_started", frame)
	}

	// Speech starts before any output item is known: no truncate, clear only.
	h.up.emit(realtime.Event{Kind: realtime.EventTurnStarted})
	if frame := h.recv(t); frame["type"] != "interrupt" {
		t.Fatalf("frame = %v, want interrupt", frame)
	}
	if got := h.up.snapshotTruncated(); len(got) != 0 {
		t.Fatalf("truncated = %v, want none", got)
	}

	h.up.emit(realtime.Event{Kind: realtime.EventOutputItemStarted, ItemID: "item_1"})
	h.up.emit(realtime.Event{Kind: realtime.EventTurnStarted})
	if frame := h.recv(t); frame["type"] != "interrupt" {
		t.Fatalf("second barge-in should still clear")
	}
	waitFor(t, "truncate of item_1", func() bool {
		got := h.up.snapshotTruncated()
		return len(got) == 1 && got[0] == "item_1"
	})
}

func TestClosingPhraseEndsCall(t *testing.T) {
	policy := testPolicy()
	policy.Delay = 40 * time.Millisecond
	h := startSession(t, telephonyOptions(policy))

	h.send(t, startFrame)
	waitFor(t, "upstream open", func() bool { return h.up.responseCount() == 1 })

	h.up.emit(realtime.Event{Kind: realtime.EventOutputTranscriptDone, Text: "네, 감사합니다. 좋은 하루 되세요."})

	select {
	case callSid := <-h.calls.completed:
		if callSid != "C1" {
			t.Fatalf("completed call = %q, want C1", callSid)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("call was not completed after the closing phrase")
	}

	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not end after hangup")
	}
	if h.up.closeCount() != 1 {
		t.Fatalf("upstream closes = %d, want 1", h.up.closeCount())
	}
}

func TestGenuineReplyCancelsHangup(t *testing.T) {
	policy := testPolicy()
	policy.Delay = 60 * time.Millisecond
	h := startSession(t, telephonyOptions(policy))

	h.send(t, startFrame)
	waitFor(t, "upstream open", func() bool { return h.up.responseCount() == 1 })

	h.up.emit(realtime.Event{Kind: realtime.EventOutputTranscriptDone, Text: "예약 완료되었습니다."})
	h.up.emit(realtime.Event{Kind: realtime.EventInputTranscriptDone, Text: "네, 수요일 오후 3시요"})

	select {
	case callSid := <-h.calls.completed:
		t.Fatalf("call %q completed despite a genuine reply", callSid)
	case <-time.After(200 * time.Millisecond):
	}

	// The session keeps relaying after the cancel.
	h.send(t, mediaFrame("AA=="))
	waitFor(t, "audio after cancelled hangup", func() bool { return len(h.up.snapshotAppended()) == 1 })
}

func TestAutomatedUtteranceKeepsHangupArmed(t *testing.T) {
	policy := testPolicy()
	policy.Delay = 60 * time.Millisecond
	h := startSession(t, telephonyOptions(policy))

	h.send(t, startFrame)
	waitFor(t, "upstream open", func() bool { return h.up.responseCount() == 1 })

	h.up.emit(realtime.Event{Kind: realtime.EventOutputTranscriptDone, Text: "감사합니다. 안녕히 계세요."})
	h.up.emit(realtime.Event{Kind: realtime.EventInputTranscriptDone, Text: "삐 소리 후 메시지를 남겨주세요."})
	h.up.emit(realtime.Event{Kind: realtime.EventInputTranscriptDone, Text: "네"})

	select {
	case callSid := <-h.calls.completed:
		if callSid != "C1" {
			t.Fatalf("completed call = %q, want C1", callSid)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("automated utterances must not cancel the hangup")
	}
}

func TestRepeatedClosingPhraseReplacesTimer(t *testing.T) {
	policy := testPolicy()
	policy.Delay = 120 * time.Millisecond
	h := startSession(t, telephonyOptions(policy))

	h.send(t, startFrame)
	waitFor(t, "upstream open", func() bool { return h.up.responseCount() == 1 })

	start := time.Now()
	h.up.emit(realtime.Event{Kind: realtime.EventOutputTranscriptDone, Text: "감사합니다."})
	time.Sleep(70 * time.Millisecond)
	h.up.emit(realtime.Event{Kind: realtime.EventOutputTranscriptDone, Text: "안녕히 계세요."})

	select {
	case <-h.calls.completed:
	case <-time.After(2 * time.Second):
		t.Fatalf("hangup never fired")
	}
	// The second phrase restarts the delay, so the hangup cannot land before
	// roughly 70ms + 120ms after the first phrase.
	if elapsed := time.Since(start); elapsed < 170*time.Millisecond {
		t.Fatalf("hangup after %v, want the replaced timer to run the full delay", elapsed)
	}

	select {
	case callSid := <-h.calls.completed:
		t.Fatalf("second hangup for %q, timers must replace, not stack", callSid)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestUpstreamCloseEndsSession(t *testing.T) {
	h := startSession(t, telephonyOptions(testPolicy()))

	h.send(t, startFrame)
	waitFor(t, "upstream open", func() bool { return h.up.responseCount() == 1 })

	h.up.emit(realtime.Event{Kind: realtime.EventClosed, Detail: "upstream gone"})

	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not end after upstream close")
	}
	if h.up.closeCount() != 1 {
		t.Fatalf("upstream closes = %d, want exactly 1", h.up.closeCount())
	}
}

func TestUpdateContextReusesUpstream(t *testing.T) {
	var mu sync.Mutex
	opens := 0
	opts := Options{Kind: protocol.KindApp}
	up := newFakeUpstream()
	opts.Open = func(context.Context, realtime.SessionConfig) (Upstream, error) {
		mu.Lock()
		opens++
		mu.Unlock()
		return up, nil
	}
	h := startSession(t, opts)
	h.up = up

	h.send(t, `{"type":"start_app"}`)
	if frame := h.recv(t); frame["type"] != "session_started" {
		t.Fatalf("first frame = %v, want session_started", frame)
	}

	h.send(t, `{"type":"update_context","analysisContextList":[{"fileName":"계약서.pdf","analysis":"보장기간 1년 자동차보험"}]}`)
	waitFor(t, "instruction update", func() bool {
		got := up.snapshotInstructions()
		return len(got) == 1 && strings.Contains(got[0], "보장기간 1년 자동차보험")
	})

	mu.Lock()
	defer mu.Unlock()
	if opens != 1 {
		t.Fatalf("upstream opened %d times, want the session to be reused", opens)
	}
}

func TestAppTranscriptsForwarded(t *testing.T) {
	h := startSession(t, Options{Kind: protocol.KindApp})

	h.send(t, `{"type":"start_app"}`)
	if frame := h.recv(t); frame["type"] != "session_started" {
		t.Fatalf("first frame = %v, want session_started", frame)
	}

	h.up.emit(realtime.Event{Kind: realtime.EventInputTranscriptDone, Text: "보험 추천해 주세요"})
	frame := h.recv(t)
	if frame["type"] != "transcript" || frame["role"] != "user" || frame["text"] != "보험 추천해 주세요" {
		t.Fatalf("user transcript frame = %v", frame)
	}

	h.up.emit(realtime.Event{Kind: realtime.EventOutputTranscriptDone, Text: "추천드릴 상품은"})
	frame = h.recv(t)
	if frame["type"] != "transcript" || frame["role"] != "assistant" {
		t.Fatalf("assistant transcript frame = %v", frame)
	}
}

func TestUpstreamOpenFailureNotifiesApp(t *testing.T) {
	opts := Options{Kind: protocol.KindApp}
	opts.Open = func(context.Context, realtime.SessionConfig) (Upstream, error) {
		return nil, errors.New("dial refused")
	}
	h := startSession(t, opts)

	h.send(t, `{"type":"start_app"}`)
	frame := h.recv(t)
	if frame["type"] != "error" {
		t.Fatalf("frame = %v, want an error advisory", frame)
	}

	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not end after open failure")
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	h1 := startSession(t, telephonyOptions(testPolicy()))
	h2 := startSession(t, telephonyOptions(testPolicy()))

	h1.send(t, startFrame)
	h2.send(t, `{"event":"start","start":{"streamSid":"S2","callSid":"C2"}}`)
	waitFor(t, "both upstreams open", func() bool {
		return h1.up.responseCount() == 1 && h2.up.responseCount() == 1
	})

	h1.up.emit(realtime.Event{Kind: realtime.EventAudioDelta, Audio: "QQ=="})
	frame := h1.recv(t)
	if frame["streamSid"] != "S1" {
		t.Fatalf("frame went to streamSid %v, want S1", frame["streamSid"])
	}

	select {
	case raw := <-h2.outbound:
		t.Fatalf("second session received %s, want nothing", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDownstreamCloseWithoutStop(t *testing.T) {
	h := startSession(t, telephonyOptions(testPolicy()))

	h.send(t, startFrame)
	waitFor(t, "upstream open", func() bool { return h.up.responseCount() == 1 })

	close(h.inbound)
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not end when the socket reader closed")
	}
	if h.up.closeCount() != 1 {
		t.Fatalf("upstream closes = %d, want 1", h.up.closeCount())
	}
}
