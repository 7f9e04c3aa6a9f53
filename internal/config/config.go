package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the relay server.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	// ServerDomain is the public hostname Twilio calls back into
	// (TwiML stream URL, status callbacks).
	ServerDomain string

	OpenAIAPIKey          string
	RealtimeURL           string
	VoiceID               string
	TranscriptionModel    string
	TranscriptionLanguage string
	ChatModel             string

	EndCallDelay     time.Duration
	ClosingPhrases   []string
	ARSPhrases       []string
	MinTranscriptLen int
	PendingAudioCap  int

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioNumber     string

	DatabaseURL string

	RAGChunksPath string

	GoogleServiceAccountEmail string
	GooglePrivateKey          string
	GoogleSpreadsheetID       string
	GoogleSheetName           string
}

// Default marker lists mirror the phrases the phone assistant is prompted to
// say when wrapping up, and the carrier announcements that mean no human
// answered. Substring containment, Korean script.
var (
	defaultClosingPhrases = []string{"안녕히 계세요", "좋은 하루", "감사합니다", "예약 완료"}
	defaultARSPhrases     = []string{"없는 번호", "연결이 되지", "전화를 받지", "삐"}
)

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                  envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:          envOrDefault("APP_METRICS_NAMESPACE", "arkgenie"),
		AllowAnyOrigin:            false,
		ServerDomain:              envOrDefault("SERVER_DOMAIN", "ark-genie-server.onrender.com"),
		OpenAIAPIKey:              trimmedEnv("OPENAI_API_KEY"),
		RealtimeURL:               envOrDefault("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-12-17"),
		VoiceID:                   envOrDefault("REALTIME_VOICE_ID", "shimmer"),
		TranscriptionModel:        envOrDefault("TRANSCRIPTION_MODEL", "whisper-1"),
		TranscriptionLanguage:     envOrDefault("TRANSCRIPTION_LANGUAGE", "ko"),
		ChatModel:                 envOrDefault("OPENAI_CHAT_MODEL", "gpt-4o"),
		ClosingPhrases:            listFromEnv("CLOSING_PHRASES", defaultClosingPhrases),
		ARSPhrases:                listFromEnv("ARS_PHRASES", defaultARSPhrases),
		MinTranscriptLen:          3,
		PendingAudioCap:           25,
		TwilioAccountSID:          trimmedEnv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:           trimmedEnv("TWILIO_AUTH_TOKEN"),
		TwilioNumber:              trimmedEnv("TWILIO_NUMBER"),
		DatabaseURL:               trimmedEnv("DATABASE_URL"),
		RAGChunksPath:             envOrDefault("RAG_CHUNKS_PATH", "rag_chunks.json"),
		GoogleServiceAccountEmail: trimmedEnv("GOOGLE_SERVICE_ACCOUNT_EMAIL"),
		GooglePrivateKey:          normalizePrivateKey(os.Getenv("GOOGLE_PRIVATE_KEY")),
		GoogleSpreadsheetID:       trimmedEnv("GOOGLE_SPREADSHEET_ID"),
		GoogleSheetName:           envOrDefault("GOOGLE_SHEET_NAME", "Sheet1"),
		ShutdownTimeout:           15 * time.Second,
		EndCallDelay:              15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EndCallDelay, err = durationFromEnv("END_CALL_DELAY", cfg.EndCallDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.MinTranscriptLen, err = intFromEnv("MIN_TRANSCRIPT_LEN", cfg.MinTranscriptLen)
	if err != nil {
		return Config{}, err
	}
	cfg.PendingAudioCap, err = intFromEnv("PENDING_AUDIO_CAP", cfg.PendingAudioCap)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.EndCallDelay < time.Second {
		return Config{}, fmt.Errorf("END_CALL_DELAY must be at least 1s")
	}
	if cfg.MinTranscriptLen < 0 {
		return Config{}, fmt.Errorf("MIN_TRANSCRIPT_LEN must be >= 0")
	}
	if cfg.PendingAudioCap <= 0 {
		return Config{}, fmt.Errorf("PENDING_AUDIO_CAP must be positive")
	}

	return cfg, nil
}

// SheetsEnabled reports whether Google Sheets credentials are fully configured.
func (c Config) SheetsEnabled() bool {
	return c.GoogleServiceAccountEmail != "" && c.GooglePrivateKey != "" && c.GoogleSpreadsheetID != ""
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// normalizePrivateKey restores real newlines in a PEM key passed through an
// env var with literal "\n" sequences.
func normalizePrivateKey(v string) string {
	return strings.TrimSpace(strings.ReplaceAll(v, `\n`, "\n"))
}

func listFromEnv(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
