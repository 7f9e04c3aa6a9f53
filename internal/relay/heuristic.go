package relay

import (
	"strings"
	"time"
	"unicode/utf8"
)

// HangupPolicy decides when an outbound call should be auto-terminated.
//
// The assistant's own closing words are not proof the human is done, so a
// closing phrase only arms a delay timer; a genuine reply within the window
// cancels it, while carrier announcements and noise artifacts do not.
type HangupPolicy struct {
	// ClosingPhrases are assistant-transcript markers (farewells,
	// "reservation complete" phrasing). Substring containment, no stemming.
	ClosingPhrases []string
	// ARSPhrases are markers of automated systems: dead-number and
	// no-answer announcements, voicemail beeps.
	ARSPhrases []string
	// MinTranscriptLen is the rune count below which an input transcript is
	// treated as a noise artifact rather than a reply.
	MinTranscriptLen int
	// Delay between detecting a closing phrase and hanging up.
	Delay time.Duration
}

// IsClosingPhrase reports whether an assistant transcript contains a
// configured closing marker.
func (p HangupPolicy) IsClosingPhrase(text string) bool {
	for _, marker := range p.ClosingPhrases {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// IsAutomatedUtterance reports whether an input transcript looks like an
// automated system (IVR, voicemail, carrier announcement) or silence
// artifact rather than a genuine reply. Approximate on purpose: a very short
// real reply and noise are indistinguishable by length alone.
func (p HangupPolicy) IsAutomatedUtterance(text string) bool {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < p.MinTranscriptLen {
		return true
	}
	for _, marker := range p.ARSPhrases {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
