package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/owantlab/arkgenie/internal/analysis"
	"github.com/owantlab/arkgenie/internal/callstore"
	"github.com/owantlab/arkgenie/internal/config"
	"github.com/owantlab/arkgenie/internal/customers"
	"github.com/owantlab/arkgenie/internal/observability"
	"github.com/owantlab/arkgenie/internal/prompt"
	"github.com/owantlab/arkgenie/internal/protocol"
	"github.com/owantlab/arkgenie/internal/rag"
	"github.com/owantlab/arkgenie/internal/realtime"
	"github.com/owantlab/arkgenie/internal/relay"
	"github.com/owantlab/arkgenie/internal/telephony"
)

// Server exposes the management API and the two websocket relay legs.
type Server struct {
	cfg       config.Config
	calls     *telephony.Controller
	callStore callstore.Store
	customers customers.Store
	sheets    *customers.SheetsStore
	analyzer  *analysis.Service
	prompts   *prompt.Composer
	kb        *rag.Index
	open      relay.OpenFunc
	metrics   *observability.Metrics
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

// Deps carries everything the server wires together. Sheets is nil when no
// spreadsheet is configured; Calls is nil when Twilio is not configured.
type Deps struct {
	Calls     *telephony.Controller
	CallStore callstore.Store
	Customers customers.Store
	Sheets    *customers.SheetsStore
	Analyzer  *analysis.Service
	Prompts   *prompt.Composer
	KB        *rag.Index
	Open      relay.OpenFunc
	Metrics   *observability.Metrics
	Logger    *zap.Logger
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:       cfg,
		calls:     deps.Calls,
		callStore: deps.CallStore,
		customers: deps.Customers,
		sheets:    deps.Sheets,
		analyzer:  deps.Analyzer,
		prompts:   deps.Prompts,
		kb:        deps.KB,
		open:      deps.Open,
		metrics:   deps.Metrics,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Twilio and the mobile app are not browsers and omit Origin;
				// browser clients must come from the same origin unless the
				// deployment opts out.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.handleInfo)
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/api/call", s.handleCall)
	r.Get("/api/call-status/{callSid}", s.handleCallStatus)
	r.Post("/call-status", s.handleCallStatusCallback)
	r.HandleFunc("/incoming-call", s.handleIncomingCall)

	r.Get("/media-stream", s.handleMediaStream)
	r.Get("/app-stream", s.handleAppStream)

	r.Post("/api/chat", s.handleChat)
	r.Post("/api/rag-search", s.handleRAGSearch)
	r.Post("/api/analyze-image", s.handleAnalyzeImage)
	r.Post("/api/analyze-file", s.handleAnalyzeFile)
	r.Post("/api/analyze-prospect", s.handleAnalyzeProspect)
	r.Post("/api/generate-prospect-message", s.handleProspectMessage)

	r.Get("/api/sheets/status", s.handleSheetsStatus)
	r.Get("/api/sheets/customers", s.handleListCustomers)
	r.Post("/api/sheets/customers", s.handleAddCustomer)
	r.Put("/api/sheets/customers/{id}", s.handleUpdateCustomer)
	r.Delete("/api/sheets/customers/{id}", s.handleDeleteCustomer)
	r.Get("/api/sheets/download", s.handleDownloadCustomers)

	return r
}

// handleMediaStream is the Twilio leg: mu-law audio in Media Streams frames.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	purpose := r.URL.Query().Get("purpose")
	customerName := r.URL.Query().Get("customerName")
	if purpose == "" {
		purpose = "상담예약"
	}

	cfg := realtime.TelephonyConfig(s.cfg.VoiceID, s.cfg.TranscriptionModel, s.cfg.TranscriptionLanguage)
	s.serveRelay(w, r, relay.Options{
		Kind:          protocol.KindTelephony,
		SessionConfig: cfg,
		Calls:         s.calls,
		Contexts:      s.callStore,
		CustomerName:  customerName,
		Purpose:       purpose,
	})
}

// handleAppStream is the app leg: PCM16 audio in typed JSON frames.
func (s *Server) handleAppStream(w http.ResponseWriter, r *http.Request) {
	cfg := realtime.AppConfig(s.cfg.VoiceID, s.cfg.TranscriptionModel, s.cfg.TranscriptionLanguage)
	s.serveRelay(w, r, relay.Options{
		Kind:          protocol.KindApp,
		SessionConfig: cfg,
	})
}

// serveRelay upgrades the connection and pumps raw frames between the socket
// and a relay session. The session owns all protocol work; this function owns
// only the socket.
func (s *Server) serveRelay(w http.ResponseWriter, r *http.Request, opts relay.Options) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	opts.Open = s.open
	opts.Prompts = s.prompts
	opts.Hangup = relay.HangupPolicy{
		ClosingPhrases:   s.cfg.ClosingPhrases,
		ARSPhrases:       s.cfg.ARSPhrases,
		MinTranscriptLen: s.cfg.MinTranscriptLen,
		Delay:            s.cfg.EndCallDelay,
	}
	opts.PendingAudioCap = s.cfg.PendingAudioCap
	opts.Logger = s.logger.With(zap.String("session_id", uuid.NewString()))
	opts.Metrics = s.metrics

	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
		defer s.metrics.ActiveSessions.Dec()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan []byte, 256)
	outbound := make(chan []byte, 256)
	runDone := make(chan struct{})

	sess := relay.New(opts)
	go func() {
		defer close(runDone)
		_ = sess.Run(ctx, inbound, outbound)
	}()
	go func() {
		// Unblock the read loop once the session is over.
		<-runDone
		cancel()
		_ = conn.Close()
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range outbound {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				cancel()
				return
			}
			if s.metrics != nil {
				s.metrics.WSMessages.WithLabelValues("outbound", string(opts.Kind)).Inc()
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if s.metrics != nil {
			s.metrics.WSMessages.WithLabelValues("inbound", string(opts.Kind)).Inc()
		}
		select {
		case <-ctx.Done():
		case inbound <- data:
			continue
		}
		break
	}

	close(inbound)
	<-runDone
	cancel()
	<-writerDone
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondFailure uses the API's soft-error shape: HTTP 200 with success=false,
// which is what the app clients check.
func respondFailure(w http.ResponseWriter, msg string) {
	respondJSON(w, http.StatusOK, map[string]any{"success": false, "error": msg})
}
