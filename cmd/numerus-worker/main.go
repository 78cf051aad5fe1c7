package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/numerus/internal/client"
	"github.com/ternarybob/numerus/internal/common"
	"github.com/ternarybob/numerus/internal/mailer"
	"github.com/ternarybob/numerus/internal/model"
	"github.com/ternarybob/numerus/internal/task"
	"github.com/ternarybob/numerus/internal/worker"
)

var (
	configPath   = flag.String("config", "", "Configuration file path")
	configPathC  = flag.String("c", "", "Configuration file path (shorthand)")
	logPath      = flag.String("l", "-", "Log file path, \"-\" for console")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("numerus-worker version %s\n", common.GetVersion())
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

	logger := common.InitLogger(config, *logPath)
	common.PrintBanner("numerus-worker")

	logger.Info().
		Str("config", path).
		Str("queue", config.Queue.BaseURL()).
		Str("models_dir", config.Models.Dir).
		Str("work_dir", config.Models.WorkDir).
		Msg("Worker configuration loaded")

	registry := model.NewRegistry()
	loader := model.NewLoader(config.Models.Dir, registry, logger)
	if err := loader.Scan(); err != nil {
		logger.Fatal().Err(err).Str("dir", config.Models.Dir).Msg("Model scan failed")
	}
	if err := loader.StartRescan(config.Models.ScanIntervalDuration()); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start model rescan")
	}
	defer loader.Stop()

	if registry.Len() == 0 {
		logger.Warn().Str("dir", config.Models.Dir).Msg("No models loaded, worker will idle until the next rescan")
	}

	emails, err := task.NewEmails(config.Templates.EmailDir, config.Web.BaseURL, config.Queue.ConfirmTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load email templates")
	}

	qc := client.New(config.Queue.BaseURL(), config.Queue.Secret, logger)
	driver := worker.NewDriver(config, qc, registry, mailer.NewSMTPSender(config.Email), emails, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		driver.Run(ctx)
	}()

	logger.Info().Msg("Worker ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down worker")
	cancel()
	<-done
	logger.Info().Msg("Worker stopped")
}
