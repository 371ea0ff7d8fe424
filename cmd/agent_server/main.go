package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"supply_agent/internal/agent"
	"supply_agent/internal/config"
	"supply_agent/internal/core"
	"supply_agent/internal/llm"
	"supply_agent/internal/memory"
	"supply_agent/internal/notify"
	"supply_agent/internal/server"
	"supply_agent/internal/sim"
	"supply_agent/internal/store"
	"supply_agent/internal/stream"
	"supply_agent/pkg/logging"
	"supply_agent/pkg/telemetry"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/agent_server.yaml", "Path to configuration file")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	port := flag.Int("port", 0, "Server port (overrides config)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("agent_server version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	logger, err := logging.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobalLogger(logger)

	logger.Info("Starting agent_server",
		"version", version,
		"db", cfg.Database.Path,
		"port", cfg.Server.Port,
		"scheduler_enabled", cfg.Scheduler.Enabled,
	)

	tel, err := telemetry.Setup(cfg.Telemetry.ServiceName)
	if err != nil {
		logger.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	db, err := store.NewSQLiteStore(cfg.Database.Path, logger)
	if err != nil {
		logger.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// jobs left queued or running by a previous process can never finish
	if n, err := db.FailInterruptedJobs(ctx, "interrupted by restart"); err != nil {
		logger.Warn("Interrupted job sweep failed", "error", err)
	} else if n > 0 {
		logger.Info("Marked interrupted jobs as failed", "count", n)
	}

	mem := memory.NewManager(db, logger)

	hub := stream.NewHub(logger)
	go hub.Run(ctx)

	bus := stream.NewBus(cfg.Stream.BufferSize, cfg.Stream.GracePeriod, logger)
	bus.AttachHub(hub)

	var forecaster core.ForecastClient
	var dialogist core.DialogueClient
	if cfg.LLM.Enabled {
		client := llm.NewClient(cfg.LLM, logger)
		forecaster = llm.NewForecaster(client, cfg.Forecast.Timeout, logger)
		dialogist = llm.NewDialogist(client, cfg.LLM.DialogueTimeout, logger)
		logger.Info("External estimator enabled", "model", cfg.LLM.Model)
	} else {
		logger.Info("External estimator disabled, statistical forecasts only")
	}

	pipeline := agent.NewPipeline(db, mem, bus, forecaster, dialogist, cfg, logger)

	notifier := notify.NewNotifier(logger)
	if url := string(cfg.Notify.SlackWebhookURL); url != "" {
		notifier.AddChannel(notify.NewSlackChannel(url))
	}
	if token := string(cfg.Notify.TelegramBotToken); token != "" {
		notifier.AddChannel(notify.NewTelegramChannel(token, cfg.Notify.TelegramChatID))
	}
	pipeline.SetNotifier(notifier)

	var market agent.MarketTicker
	if cfg.Agent.SimulateMarket {
		market = sim.NewMarket(db, logger)
	}

	controller := agent.NewController(ctx, pipeline, db, mem, market, cfg, logger)
	if err := controller.Start(); err != nil {
		logger.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	srv := server.NewServer(cfg, logger, db, controller, bus, hub, mem)
	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.Error("Server error", "error", err)
			cancel()
		}
	}()

	logger.Info("agent_server is running",
		"api_url", fmt.Sprintf("http://localhost:%d", cfg.Server.Port),
		"stream_url", fmt.Sprintf("http://localhost:%d/agent/stream/{job_id}", cfg.Server.Port),
		"websocket_url", fmt.Sprintf("ws://localhost:%d/ws", cfg.Server.Port),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal, gracefully shutting down...")
	case <-ctx.Done():
	}

	cancel()
	controller.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", "error", err)
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Telemetry shutdown failed", "error", err)
	}

	logger.Info("agent_server stopped")
}
