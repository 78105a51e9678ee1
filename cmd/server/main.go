// Astro-Repo Server
//
// Features:
// - Repository sessions with lazily expanded trees
// - Graph projection of the loaded tree
// - File analysis, summaries and questions through a hosted LLM
// - Profile questions about a user's public repositories
// - SSE session events
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/swapisticated/Astro-Repo/internal/api"
	"github.com/swapisticated/Astro-Repo/internal/config"
	"github.com/swapisticated/Astro-Repo/internal/events"
	"github.com/swapisticated/Astro-Repo/internal/github"
	"github.com/swapisticated/Astro-Repo/internal/llm"
	"github.com/swapisticated/Astro-Repo/internal/logging"
	"github.com/swapisticated/Astro-Repo/internal/metrics"
	"github.com/swapisticated/Astro-Repo/internal/session"
	"github.com/swapisticated/Astro-Repo/internal/universe"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("Astro-Repo server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("llm_provider", cfg.LLMProvider),
		zap.Strings("llm_models", cfg.LLMModels))

	gh := github.NewFromConfig(cfg)
	completer := llm.NewFromConfig(cfg)
	if !completer.Configured() {
		logging.Warn("no LLM API key configured; AI answers will be placeholders")
	}

	broadcaster := events.NewBroadcaster()
	opts := session.OptionsFromConfig(cfg)
	sessions := session.NewManager(gh, completer, broadcaster, opts)

	srv := api.NewServer(api.Deps{
		Sessions:    sessions,
		Source:      gh,
		LLM:         completer,
		Profiles:    universe.New(gh, completer),
		Broadcaster: broadcaster,
		Options:     opts,
		GraphDepth:  cfg.GraphDepth,
	})

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sessions.CloseAll()
		httpServer.Shutdown(ctx)
		metricsServer.Close()
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
	logging.Info("server stopped")
}
