package realtime

// SessionConfig is the handshake sent once per upstream session. Immutable for
// the session's life; only instructions may be updated afterwards.
type SessionConfig struct {
	Instructions       string
	Voice              string
	AudioFormat        string
	TranscriptionModel string
	Language           string

	// Server-side VAD turn detection.
	VADThreshold      float64
	PrefixPaddingMS   int
	SilenceDurationMS int
}

// TelephonyConfig is the preset for carrier legs: companded narrowband audio
// and a longer trailing silence, since phone callers pause more.
func TelephonyConfig(voice, transcriptionModel, language string) SessionConfig {
	return SessionConfig{
		Voice:              voice,
		AudioFormat:        "g711_ulaw",
		TranscriptionModel: transcriptionModel,
		Language:           language,
		VADThreshold:       0.5,
		PrefixPaddingMS:    500,
		SilenceDurationMS:  2000,
	}
}

// AppConfig is the preset for app legs: linear PCM16 and snappier turn-taking.
func AppConfig(voice, transcriptionModel, language string) SessionConfig {
	return SessionConfig{
		Voice:              voice,
		AudioFormat:        "pcm16",
		TranscriptionModel: transcriptionModel,
		Language:           language,
		VADThreshold:       0.5,
		PrefixPaddingMS:    300,
		SilenceDurationMS:  1500,
	}
}
