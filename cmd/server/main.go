package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	medigem "github.com/MegaGrindStone/medigem-relay"
	"github.com/MegaGrindStone/medigem-relay/internal/handlers"
	"github.com/MegaGrindStone/medigem-relay/internal/logging"
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine, the environment may be set by other means.
	_ = godotenv.Load()

	cfg, err := loadConfig(configPath())
	if err != nil {
		log.Fatal(err)
	}

	logger, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatal(fmt.Errorf("error setting up logger: %w", err))
	}
	defer logCloser.Close()

	llm, err := cfg.LLM.llm(logger)
	if err != nil {
		logger.Error("Failed to create llm", slog.String("provider", cfg.LLM.Provider), slog.String("err", err.Error()))
		os.Exit(1)
	}

	m, err := handlers.NewMain(llm, cfg.SystemPrompt, logger, handlers.WithIdleTimeout(cfg.IdleTimeout))
	if err != nil {
		logger.Error("Failed to create handlers", slog.String("err", err.Error()))
		os.Exit(1)
	}

	// Serve static files
	staticFS, err := fs.Sub(medigem.StaticFS, "static")
	if err != nil {
		panic(err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/api/chat", m.HandleChat)
	mux.HandleFunc("/api/render", m.HandleRender)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.CORS(cfg.AllowedOrigin, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		// srv.Shutdown waits for in-flight streams, end them.
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Warn("Failed to shutdown relay", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("MEDI-GEM relay listening",
			slog.String("addr", "http://localhost:"+cfg.Port),
			slog.String("provider", cfg.LLM.Provider))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}
}

// configPath returns MEDIGEM_CONFIG, or config.yaml in the user's config directory.
func configPath() string {
	if p := os.Getenv("MEDIGEM_CONFIG"); p != "" {
		return p
	}
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(cfgDir, "medigem", "config.yaml")
}
