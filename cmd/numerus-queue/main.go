package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/numerus/internal/common"
	"github.com/ternarybob/numerus/internal/mailer"
	"github.com/ternarybob/numerus/internal/model"
	"github.com/ternarybob/numerus/internal/queue"
	"github.com/ternarybob/numerus/internal/server"
	badger "github.com/ternarybob/numerus/internal/storage/badger"
	"github.com/ternarybob/numerus/internal/task"
)

var (
	configPath   = flag.String("config", "", "Configuration file path")
	configPathC  = flag.String("c", "", "Configuration file path (shorthand)")
	serverPort   = flag.Int("port", 0, "Server port (overrides config)")
	serverPortP  = flag.Int("p", 0, "Server port (shorthand, overrides config)")
	logPath      = flag.String("l", "-", "Log file path, \"-\" for console")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("numerus-queue version %s\n", common.GetVersion())
		os.Exit(0)
	}

	path := *configPath
	if *configPathC != "" {
		path = *configPathC
	}
	if path == "" {
		if _, err := os.Stat("numerus.toml"); err == nil {
			path = "numerus.toml"
		}
	}

	config, err := common.LoadFromFile(path)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Str("path", path).Msg("Failed to load configuration")
		os.Exit(1)
	}

	port := *serverPort
	if *serverPortP != 0 {
		port = *serverPortP
	}
	common.ApplyFlagOverrides(config, port)

	logger := common.InitLogger(config, *logPath)
	common.PrintBanner("numerus-queue")

	logger.Info().
		Str("config", path).
		Int("port", config.Server.Port).
		Str("models_dir", config.Models.Dir).
		Msg("Queue daemon configuration loaded")

	registry := model.NewRegistry()
	loader := model.NewLoader(config.Models.Dir, registry, logger)
	if err := loader.Scan(); err != nil {
		logger.Fatal().Err(err).Str("dir", config.Models.Dir).Msg("Model scan failed")
	}
	if err := loader.StartRescan(config.Models.ScanIntervalDuration()); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start model rescan")
	}
	defer loader.Stop()

	emails, err := task.NewEmails(config.Templates.EmailDir, config.Web.BaseURL, config.Queue.ConfirmTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load email templates")
	}

	store, err := badger.Open(config.Storage.Badger.Path, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", config.Storage.Badger.Path).Msg("Failed to open snapshot store")
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := mailer.NewDispatcher(mailer.NewSMTPSender(config.Email), logger, 60)
	dispatcher.Start(ctx)

	state := queue.NewState(config, registry, emails, dispatcher, store, logger)
	if err := state.Load(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to restore queue snapshot")
	}

	sweeper := queue.NewSweeper(state, config.Queue.KeepAliveIntervalDuration(), logger)
	sweeper.Start(ctx)

	srv := server.New(config, state, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Int("models", registry.Len()).
		Msg("Queue daemon ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down queue daemon")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	// One final snapshot so nothing accepted during shutdown is lost.
	state.Sync()
	logger.Info().Msg("Queue daemon stopped")
}
