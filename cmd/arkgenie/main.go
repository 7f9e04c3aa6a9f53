package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/owantlab/arkgenie/internal/analysis"
	"github.com/owantlab/arkgenie/internal/callstore"
	"github.com/owantlab/arkgenie/internal/config"
	"github.com/owantlab/arkgenie/internal/customers"
	"github.com/owantlab/arkgenie/internal/httpapi"
	"github.com/owantlab/arkgenie/internal/observability"
	"github.com/owantlab/arkgenie/internal/prompt"
	"github.com/owantlab/arkgenie/internal/rag"
	"github.com/owantlab/arkgenie/internal/realtime"
	"github.com/owantlab/arkgenie/internal/relay"
	"github.com/owantlab/arkgenie/internal/telephony"
)

func main() {
	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	callStore, err := callstore.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("call store init failed", zap.Error(err))
	}
	defer callStore.Close()

	kb, err := rag.Load(cfg.RAGChunksPath)
	if err != nil {
		logger.Fatal("knowledge base load failed", zap.Error(err))
	}
	logger.Info("knowledge base loaded", zap.Bool("enabled", kb.Enabled()))

	var customerStore customers.Store = customers.NewInMemoryStore()
	var sheetsStore *customers.SheetsStore
	if cfg.SheetsEnabled() {
		sheetsStore, err = customers.NewSheetsStore(ctx, customers.SheetsConfig{
			ClientEmail:   cfg.GoogleServiceAccountEmail,
			PrivateKey:    cfg.GooglePrivateKey,
			SpreadsheetID: cfg.GoogleSpreadsheetID,
			SheetName:     cfg.GoogleSheetName,
		})
		if err != nil {
			logger.Fatal("sheets store init failed", zap.Error(err))
		}
		customerStore = sheetsStore
		logger.Info("customer book backed by google sheets")
	} else {
		logger.Info("customer book in memory, sheets not configured")
	}

	calls := telephony.NewController(telephony.Config{
		AccountSID:   cfg.TwilioAccountSID,
		AuthToken:    cfg.TwilioAuthToken,
		FromNumber:   cfg.TwilioNumber,
		ServerDomain: cfg.ServerDomain,
	}, logger.Named("telephony"))
	if calls == nil {
		logger.Info("telephony disabled, twilio credentials not set")
	}

	analyzer := analysis.NewService(
		openai.NewClient(cfg.OpenAIAPIKey),
		cfg.ChatModel,
		logger.Named("analysis"),
	)

	dialer := &realtime.Dialer{
		URL:    cfg.RealtimeURL,
		APIKey: cfg.OpenAIAPIKey,
		Logger: logger.Named("realtime"),
	}
	open := func(ctx context.Context, sc realtime.SessionConfig) (relay.Upstream, error) {
		return dialer.Open(ctx, sc)
	}

	api := httpapi.New(cfg, httpapi.Deps{
		Calls:     calls,
		CallStore: callStore,
		Customers: customerStore,
		Sheets:    sheetsStore,
		Analyzer:  analyzer,
		Prompts:   prompt.NewComposer(kb),
		KB:        kb,
		Open:      open,
		Metrics:   metrics,
		Logger:    logger.Named("relay"),
	})

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
}
