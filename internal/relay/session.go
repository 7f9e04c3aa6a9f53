package relay

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/owantlab/arkgenie/internal/callstore"
	"github.com/owantlab/arkgenie/internal/observability"
	"github.com/owantlab/arkgenie/internal/protocol"
	"github.com/owantlab/arkgenie/internal/realtime"
)

// Upstream is the slice of the realtime client the relay drives.
type Upstream interface {
	AppendAudio(payload string) error
	CreateResponse() error
	Truncate(itemID string) error
	UpdateInstructions(instructions string) error
	Events() <-chan realtime.Event
	Close() error
}

// OpenFunc opens one upstream speech session.
type OpenFunc func(ctx context.Context, cfg realtime.SessionConfig) (Upstream, error)

// CallController ends calls through the telephony provider.
type CallController interface {
	CompleteCall(ctx context.Context, callSid string) error
}

// InstructionSource composes system instructions for the upstream session.
type InstructionSource interface {
	Phone(purpose, customerName string) string
	App(contexts []protocol.AnalysisContext) string
}

type state int

const (
	stateIdle state = iota
	stateAwaitingUpstream
	stateActive
	stateClosing
	stateClosed
)

// Options configures one relay session.
type Options struct {
	Kind          protocol.SessionKind
	Open          OpenFunc
	SessionConfig realtime.SessionConfig
	Prompts       InstructionSource
	Hangup        HangupPolicy

	// Telephony only.
	Calls    CallController
	Contexts callstore.Store

	// Defaults from the TwiML stream URL, overridden by stored call context.
	CustomerName string
	Purpose      string

	// PendingAudioCap bounds frames queued while the upstream opens.
	PendingAudioCap int

	Logger  *zap.Logger
	Metrics *observability.Metrics
}

type openResult struct {
	upstream Upstream
	err      error
}

// Session is the per-connection state machine bridging one downstream leg
// with one upstream speech session. All transitions run on the Run goroutine;
// the only other goroutine it owns is the upstream opener.
type Session struct {
	opts   Options
	logger *zap.Logger

	st        state
	streamSid string
	callSid   string

	upstream       Upstream
	upstreamEvents <-chan realtime.Event
	openCh         chan openResult

	// done is closed by the first teardown; the opener goroutine watches it
	// so an upstream that finishes opening late is still closed.
	done chan struct{}

	// lastAssistantItem is the most recent in-flight output item, the
	// truncation target on barge-in.
	lastAssistantItem string

	contexts []protocol.AnalysisContext
	pending  []string

	endTimer *time.Timer

	outbound chan<- []byte
}

func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PendingAudioCap <= 0 {
		opts.PendingAudioCap = 25
	}
	return &Session{
		opts:   opts,
		logger: opts.Logger.With(zap.String("kind", string(opts.Kind))),
		openCh: make(chan openResult),
		done:   make(chan struct{}),
	}
}

// Run pumps the session until either side closes or the hangup timer fires.
// It owns every per-session resource: the upstream client, the pending audio
// queue and the termination timer are all released on every exit path.
func (s *Session) Run(ctx context.Context, inbound <-chan []byte, outbound chan<- []byte) error {
	s.outbound = outbound
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.teardown()
	defer func() {
		if s.outbound != nil {
			close(s.outbound)
		}
	}()

	s.countSession("started")
	for s.st != stateClosed {
		select {
		case <-runCtx.Done():
			s.teardown()

		case raw, ok := <-inbound:
			if !ok {
				s.teardown()
				continue
			}
			s.handleDownstream(runCtx, raw)

		case res := <-s.openCh:
			s.handleOpened(res)

		case ev, ok := <-s.upstreamEvents:
			if !ok {
				// Unexpected upstream close: no audio source remains.
				s.upstreamEvents = nil
				s.logger.Warn("upstream closed unexpectedly")
				s.countSession("upstream_lost")
				s.teardown()
				continue
			}
			s.handleUpstream(ev)

		case <-s.timerC():
			s.endTimer = nil
			s.fireHangup()
		}
	}
	s.countSession("ended")
	return nil
}

func (s *Session) handleDownstream(ctx context.Context, raw []byte) {
	if s.st >= stateClosing {
		return
	}
	msg, err := protocol.DecodeDownstream(s.opts.Kind, raw)
	if err != nil {
		// One bad frame must not kill the relay.
		if !errors.Is(err, protocol.ErrUnsupportedType) {
			s.logger.Warn("downstream frame dropped", zap.Error(err))
			s.countError("decode")
		}
		return
	}

	switch m := msg.(type) {
	case protocol.StartTelephony:
		s.startTelephony(ctx, m)
	case protocol.StartApp:
		s.startApp(ctx, m)
	case protocol.AudioChunk:
		s.inboundAudio(m.Payload)
	case protocol.UpdateContext:
		s.updateContext(m.Contexts)
	case protocol.Stop:
		s.teardown()
	}
}

func (s *Session) startTelephony(ctx context.Context, m protocol.StartTelephony) {
	if s.st != stateIdle || s.opts.Kind != protocol.KindTelephony {
		// streamSid and callSid are write-once; duplicate starts are ignored.
		return
	}
	s.streamSid = m.StreamSid
	s.callSid = m.CallSid
	s.logger = s.logger.With(zap.String("call_sid", s.callSid))

	customer, purpose := s.opts.CustomerName, s.opts.Purpose
	if s.opts.Contexts != nil && s.callSid != "" {
		if cc, err := s.opts.Contexts.GetContext(ctx, s.callSid); err == nil {
			customer, purpose = cc.CustomerName, cc.Purpose
		}
	}

	cfg := s.opts.SessionConfig
	cfg.Instructions = s.opts.Prompts.Phone(purpose, customer)
	s.openUpstream(ctx, cfg)
}

func (s *Session) startApp(ctx context.Context, m protocol.StartApp) {
	if s.st != stateIdle || s.opts.Kind != protocol.KindApp {
		return
	}
	s.contexts = m.Contexts

	cfg := s.opts.SessionConfig
	cfg.Instructions = s.opts.Prompts.App(s.contexts)
	s.openUpstream(ctx, cfg)
}

// openUpstream dials in a goroutine so the run loop stays responsive. The
// handoff is unbuffered: either the run loop takes the result, or the session
// is already down and the opener closes what it opened.
func (s *Session) openUpstream(ctx context.Context, cfg realtime.SessionConfig) {
	s.st = stateAwaitingUpstream
	go func() {
		u, err := s.opts.Open(ctx, cfg)
		select {
		case s.openCh <- openResult{upstream: u, err: err}:
		case <-s.done:
			if u != nil {
				_ = u.Close()
			}
		}
	}()
}

func (s *Session) handleOpened(res openResult) {
	if s.st >= stateClosing {
		if res.upstream != nil {
			_ = res.upstream.Close()
		}
		return
	}
	if res.err != nil {
		s.logger.Error("upstream open failed", zap.Error(res.err))
		s.countError("upstream_open")
		s.notifyError("speech session unavailable")
		s.teardown()
		return
	}

	s.upstream = res.upstream
	s.upstreamEvents = res.upstream.Events()
	s.st = stateActive
	s.countSession("upstream_open")

	// Flush audio that arrived while the handshake was in flight.
	for _, payload := range s.pending {
		_ = s.upstream.AppendAudio(payload)
	}
	s.pending = nil

	switch s.opts.Kind {
	case protocol.KindTelephony:
		// Outbound call: the assistant greets first, unprompted.
		if err := s.upstream.CreateResponse(); err != nil {
			s.logger.Warn("initial response request failed", zap.Error(err))
		}
	case protocol.KindApp:
		if msg, err := protocol.EncodeSessionStarted(); err == nil {
			s.sendDownstream(msg)
		}
	}
}

func (s *Session) inboundAudio(payload string) {
	switch s.st {
	case stateActive:
		if err := s.upstream.AppendAudio(payload); err != nil {
			s.logger.Warn("append audio failed", zap.Error(err))
		}
		s.countAudio("inbound")
	case stateAwaitingUpstream:
		// Bounded queue: drop oldest beyond the cap so a slow handshake
		// cannot grow memory without limit.
		if len(s.pending) >= s.opts.PendingAudioCap {
			s.pending = s.pending[1:]
		}
		s.pending = append(s.pending, payload)
	default:
		// No upstream to feed; drop.
	}
}

func (s *Session) updateContext(contexts []protocol.AnalysisContext) {
	if s.opts.Kind != protocol.KindApp {
		return
	}
	s.contexts = contexts
	if s.st != stateActive {
		return
	}
	if err := s.upstream.UpdateInstructions(s.opts.Prompts.App(s.contexts)); err != nil {
		s.logger.Warn("instruction update failed", zap.Error(err))
		s.countError("update_instructions")
	}
}

func (s *Session) handleUpstream(ev realtime.Event) {
	if s.st >= stateClosing {
		return
	}
	s.countUpstream(string(ev.Kind))

	switch ev.Kind {
	case realtime.EventAudioDelta:
		out, err := protocol.EncodeAudio(s.opts.Kind, ev.Audio, s.streamSid)
		if err != nil {
			// Telephony audio before the start frame has nowhere to go.
			if !errors.Is(err, protocol.ErrNoStream) {
				s.logger.Warn("encode audio failed", zap.Error(err))
			}
			return
		}
		s.sendDownstream(out)
		s.countAudio("outbound")

	case realtime.EventOutputItemStarted:
		s.lastAssistantItem = ev.ItemID

	case realtime.EventTurnStarted:
		s.bargeIn()

	case realtime.EventInputTranscriptDone:
		s.inputTranscript(ev.Text)

	case realtime.EventOutputTranscriptDone:
		s.outputTranscript(ev.Text)

	case realtime.EventError:
		s.logger.Warn("upstream error", zap.String("detail", ev.Detail))
		s.countError("upstream")
		s.notifyError(ev.Detail)

	case realtime.EventClosed:
		s.logger.Info("upstream connection closed", zap.String("detail", ev.Detail))
		s.teardown()
	}
}

// bargeIn interrupts the assistant's in-flight output: truncate it upstream
// and tell the downstream peer to drop buffered audio. Skipping the truncate
// when no output item is known yet is non-fatal; the clear still goes out.
func (s *Session) bargeIn() {
	if s.lastAssistantItem != "" {
		if err := s.upstream.Truncate(s.lastAssistantItem); err != nil {
			s.logger.Warn("truncate failed", zap.Error(err))
		}
	}
	out, err := protocol.EncodeClear(s.opts.Kind, s.streamSid)
	if err != nil {
		return
	}
	s.sendDownstream(out)
	s.countSession("barge_in")
}

func (s *Session) inputTranscript(text string) {
	switch s.opts.Kind {
	case protocol.KindTelephony:
		if s.opts.Hangup.IsAutomatedUtterance(text) {
			// An IVR or voicemail prompt is not the callee cancelling the
			// hangup; leave any pending timer armed.
			return
		}
		if s.endTimer != nil {
			s.logger.Info("caller replied, hangup cancelled")
			s.cancelHangup()
			s.countSession("hangup_cancelled")
		}
	case protocol.KindApp:
		if msg, err := protocol.EncodeTranscript(text, "user"); err == nil {
			s.sendDownstream(msg)
		}
	}
}

func (s *Session) outputTranscript(text string) {
	switch s.opts.Kind {
	case protocol.KindTelephony:
		if s.opts.Hangup.IsClosingPhrase(text) {
			s.armHangup()
		}
	case protocol.KindApp:
		if msg, err := protocol.EncodeTranscript(text, "assistant"); err == nil {
			s.sendDownstream(msg)
		}
	}
}

// armHangup schedules call termination, replacing any pending timer so
// consecutive closing phrases time from the latest one. Never stacked.
func (s *Session) armHangup() {
	s.cancelHangup()
	s.endTimer = time.NewTimer(s.opts.Hangup.Delay)
	s.logger.Info("closing phrase detected, hangup scheduled",
		zap.Duration("delay", s.opts.Hangup.Delay))
	s.countSession("hangup_armed")
}

func (s *Session) cancelHangup() {
	if s.endTimer == nil {
		return
	}
	if !s.endTimer.Stop() {
		select {
		case <-s.endTimer.C:
		default:
		}
	}
	s.endTimer = nil
}

func (s *Session) timerC() <-chan time.Time {
	if s.endTimer == nil {
		return nil
	}
	return s.endTimer.C
}

func (s *Session) fireHangup() {
	s.countSession("hangup_fired")
	if s.opts.Calls != nil && s.callSid != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.opts.Calls.CompleteCall(ctx, s.callSid); err != nil {
			// Best effort: the relay's job is done either way.
			s.logger.Warn("provider hangup failed", zap.Error(err))
			s.countError("hangup")
		}
	}
	s.teardown()
}

// teardown is idempotent: a downstream stop can race an upstream close and
// both land here.
func (s *Session) teardown() {
	if s.st >= stateClosing {
		s.st = stateClosed
		return
	}
	s.st = stateClosing
	close(s.done)
	s.cancelHangup()
	if s.upstream != nil {
		_ = s.upstream.Close()
	}
	s.pending = nil
	s.st = stateClosed
}

// notifyError tells the app client about a session-level failure. The
// telephony leg has no error channel; the caller just hears silence.
func (s *Session) notifyError(detail string) {
	if s.opts.Kind != protocol.KindApp {
		return
	}
	if msg, err := protocol.EncodeError(detail); err == nil {
		s.sendDownstream(msg)
	}
}

func (s *Session) sendDownstream(msg []byte) {
	if s.outbound == nil {
		return
	}
	select {
	case s.outbound <- msg:
	default:
		// Writer saturated; dropping keeps the session loop responsive.
		s.countError("outbound_full")
	}
}

func (s *Session) countSession(event string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.SessionEvents.WithLabelValues(string(s.opts.Kind), event).Inc()
	}
}

func (s *Session) countUpstream(event string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.UpstreamEvents.WithLabelValues(event).Inc()
	}
}

func (s *Session) countError(stage string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.RelayErrors.WithLabelValues(stage).Inc()
	}
}

func (s *Session) countAudio(direction string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.AudioFrames.WithLabelValues(string(s.opts.Kind), direction).Inc()
	}
}
