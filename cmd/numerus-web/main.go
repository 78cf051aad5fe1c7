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

	"github.com/ternarybob/numerus/internal/client"
	"github.com/ternarybob/numerus/internal/common"
	"github.com/ternarybob/numerus/internal/model"
	"github.com/ternarybob/numerus/internal/web"
)

var (
	configPath   = flag.String("config", "", "Configuration file path")
	configPathC  = flag.String("c", "", "Configuration file path (shorthand)")
	webPort      = flag.Int("port", 0, "Web port (overrides config)")
	webPortP     = flag.Int("p", 0, "Web port (shorthand, overrides config)")
	logPath      = flag.String("l", "-", "Log file path, \"-\" for console")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("numerus-web version %s\n", common.GetVersion())
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

	port := *webPort
	if *webPortP != 0 {
		port = *webPortP
	}
	if port > 0 {
		config.Web.Port = port
	}

	logger := common.InitLogger(config, *logPath)
	common.PrintBanner("numerus-web")

	logger.Info().
		Str("config", path).
		Int("port", config.Web.Port).
		Str("queue", config.Queue.BaseURL()).
		Msg("Web frontend configuration loaded")

	registry := model.NewRegistry()
	loader := model.NewLoader(config.Models.Dir, registry, logger)
	if err := loader.Scan(); err != nil {
		logger.Fatal().Err(err).Str("dir", config.Models.Dir).Msg("Model scan failed")
	}
	if err := loader.StartRescan(config.Models.ScanIntervalDuration()); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start model rescan")
	}
	defer loader.Stop()

	qc := client.New(config.Queue.BaseURL(), config.Queue.Secret, logger)
	frontend, err := web.New(config, qc, registry, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize web frontend")
	}

	go func() {
		if err := frontend.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Web.Host, config.Web.Port)).
		Int("models", registry.Len()).
		Msg("Web frontend ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down web frontend")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := frontend.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}
	logger.Info().Msg("Web frontend stopped")
}
