package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sonavoice/voice-client/internal/call"
	"github.com/sonavoice/voice-client/internal/config"
	"github.com/sonavoice/voice-client/internal/observability"
	"github.com/sonavoice/voice-client/internal/transport"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before the logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("transport", cfg.Transport).
		Str("agent_url", cfg.AgentURL).
		Int("sample_rate", cfg.SampleRate).
		Float64("min_buffer_seconds", cfg.MinBufferSeconds).
		Float64("max_buffer_seconds", cfg.MaxBufferSeconds).
		Msg("Voice client starting")

	// The audio host must be initialized before any device is opened.
	if err := portaudio.Initialize(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize audio host")
	}
	defer portaudio.Terminate()

	// Pick the transport strategy
	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		metrics = observability.NewCallMetrics(observability.NewCorrelationID())
	}
	var strategy transport.Strategy
	switch cfg.Transport {
	case "peer":
		signaler := &transport.HTTPSignaler{URL: cfg.AgentURL, APIKey: cfg.AgentAPIKey}
		strategy = transport.NewPeerStrategy(cfg, signaler, logger, metrics)
	default:
		strategy = transport.NewSocketStrategy(cfg, logger, metrics)
	}

	session := call.NewSession(cfg, strategy)

	// Observability server: health, readiness, metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"audio_devices": func(ctx context.Context) (bool, error) {
			if _, err := portaudio.DefaultInputDevice(); err != nil {
				return false, fmt.Errorf("input device: %w", err)
			}
			if _, err := portaudio.DefaultOutputDevice(); err != nil {
				return false, fmt.Errorf("output device: %w", err)
			}
			return true, nil
		},
		"call_session": func(ctx context.Context) (bool, error) {
			state := session.State()
			if state == transport.StateEnded {
				return false, fmt.Errorf("session ended")
			}
			return true, nil
		},
	}))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("Observability server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Observability server failed to start")
		}
	}()

	// Connect and start the call
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := session.Connect(ctx); err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("Failed to connect to agent")
	}
	cancel()

	if err := session.StartCall(); err != nil {
		session.Cleanup()
		logger.Fatal().Err(err).Msg("Failed to start call")
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down...")

	if session.State() == transport.StateCalling {
		if err := session.EndCall(); err != nil {
			logger.Warn().Err(err).Msg("End call reported error")
		}
	}
	session.Cleanup()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Observability server forced to shutdown")
	}

	logger.Info().Msg("Voice client exited gracefully")
}
