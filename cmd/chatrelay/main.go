package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/codefionn/chatrelay/internal/config"
	"github.com/codefionn/chatrelay/internal/consts"
	"github.com/codefionn/chatrelay/internal/history"
	"github.com/codefionn/chatrelay/internal/llm"
	"github.com/codefionn/chatrelay/internal/logger"
	"github.com/codefionn/chatrelay/internal/pidfile"
	"github.com/codefionn/chatrelay/internal/pprof"
	"github.com/codefionn/chatrelay/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	configPath := flag.String("config", config.DefaultPath(), "path to the config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	redisURL := flag.String("redis", "", "redis URL (overrides config)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error, none")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *redisURL != "" {
		cfg.RedisURL = *redisURL
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if initErr := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); initErr != nil {
		return fmt.Errorf("failed to initialize logger: %w", initErr)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	logger.Info("chatrelay starting")
	logger.Debug("Configuration loaded: addr=%s provider=%s model=%s", cfg.ListenAddr, cfg.Provider, cfg.Model)

	if cfg.PidFile != "" {
		pid := pidfile.New(cfg.PidFile)
		if err := pid.Acquire(); err != nil {
			return err
		}
		defer func() {
			if releaseErr := pid.Release(); releaseErr != nil {
				logger.Warn("Failed to remove pidfile: %v", releaseErr)
			}
		}()
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid redis URL %s: %w", cfg.RedisURL, err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), consts.Timeout5Seconds)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisURL, err)
	}

	client, err := llm.NewClient(cfg.Provider, cfg.Model, cfg.OllamaURL, cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}

	store := history.New(rdb, logger.Global().WithPrefix("history"))
	store.SetSystemPrompt(cfg.SystemPrompt)

	if cfg.PprofAddr != "" {
		profiler := pprof.NewServer(cfg.PprofAddr, logger.Global())
		if err := profiler.Start(); err != nil {
			return err
		}
		defer func() {
			if stopErr := profiler.Stop(); stopErr != nil {
				logger.Warn("Failed to stop pprof server: %v", stopErr)
			}
		}()
	}

	server := web.NewServer(cfg.ListenAddr, client, store, logger.Global())
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	logger.Info("Chat available on ws://%s/api/chat (model %s via %s)", cfg.ListenAddr, client.GetModelName(), cfg.Provider)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("Received %s, shutting down", sig)

	if err := server.Stop(); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	logger.Info("chatrelay stopped")
	return nil
}
