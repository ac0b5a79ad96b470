package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/genai"

	"github.com/harudiary/voice-gateway/internal/auth"
	"github.com/harudiary/voice-gateway/internal/config"
	"github.com/harudiary/voice-gateway/internal/diary"
	"github.com/harudiary/voice-gateway/internal/gateway"
	"github.com/harudiary/voice-gateway/internal/observability"
	"github.com/harudiary/voice-gateway/internal/resilience"
	"github.com/harudiary/voice-gateway/internal/session"
	"github.com/harudiary/voice-gateway/internal/upstream"
	"github.com/harudiary/voice-gateway/internal/voice"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.InitLogger("info", false)
		logger := observability.GetLogger()
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()
	logger.Info().Str("port", cfg.Port).Msg("Starting voice diary gateway")

	ctx := context.Background()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GoogleAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Gemini client")
	}

	dialer := upstream.NewGeminiDialer(client, cfg.LiveModel)
	validator := auth.NewValidator(cfg.JWTSecret)
	voices := voice.NewStore(cfg.DefaultVoice)

	summaryBreaker := resilience.NewCircuitBreaker("gemini-summary",
		cfg.BreakerMaxFailures, time.Duration(cfg.BreakerResetTimeout)*time.Second)
	diaryStore := diary.NewStore(diary.StoreConfig{
		Dir:        cfg.DataDir,
		Summarizer: diary.NewGeminiSummarizer(client, cfg.SummaryModel),
		Retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
		},
		Breaker: summaryBreaker,
		Logger:  logger,
	})

	registry := session.NewRegistry(diaryStore, logger)
	handler := gateway.NewHandler(cfg, registry, dialer, validator, voices, logger)
	voiceHandler := gateway.NewVoiceHandler(validator, voices)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/audio", handler.HandleAudioWS)
	mux.HandleFunc("/voices", voiceHandler.HandleVoices)
	mux.HandleFunc("/select_voice", voiceHandler.HandleSelectVoice)
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"data_dir": func(ctx context.Context) (bool, error) {
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return false, err
			}
			return true, nil
		},
	}))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Drain live sessions first so their transcripts get persisted, then
	// stop accepting HTTP
	registry.BroadcastShutdown(shutdownCtx)

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	logger.Info().Msg("Voice diary gateway stopped")
}
