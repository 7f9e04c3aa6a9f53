package realtime

// EventKind identifies normalized upstream events.
type EventKind string

const (
	// EventAudioDelta carries one base64 chunk of assistant audio output.
	EventAudioDelta EventKind = "audio_delta"
	// EventOutputItemStarted announces a new in-flight assistant output item.
	EventOutputItemStarted EventKind = "output_item_started"
	// EventTurnStarted means the human began speaking: the barge-in trigger.
	EventTurnStarted EventKind = "turn_started"
	// EventInputTranscriptDone is a completed transcript of caller speech.
	EventInputTranscriptDone EventKind = "input_transcript_done"
	// EventOutputTranscriptDone is a completed transcript of assistant speech.
	EventOutputTranscriptDone EventKind = "output_transcript_done"
	// EventError surfaces an upstream-reported or transport error. The
	// session may still be usable; the relay decides.
	EventError EventKind = "error"
	// EventClosed is terminal: the upstream connection is gone.
	EventClosed EventKind = "closed"
)

// Event is the normalized union the relay consumes.
type Event struct {
	Kind   EventKind
	Audio  string
	ItemID string
	Text   string
	Detail string
}
