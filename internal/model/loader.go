package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// Loader scans a directory of model definition files and feeds new
// versions into a Registry. A broken definition file is logged and
// skipped so one bad model never takes down the rest.
type Loader struct {
	dir      string
	registry *Registry
	logger   arbor.ILogger
	cron     *cron.Cron
}

func NewLoader(dir string, registry *Registry, logger arbor.ILogger) *Loader {
	return &Loader{
		dir:      dir,
		registry: registry,
		logger:   logger,
	}
}

func isDefinitionFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml", ".yaml", ".yml":
		return true
	}
	return false
}

// Scan loads every definition file in the directory. Files whose content
// hash is already registered are skipped without re-parsing.
func (l *Loader) Scan() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("failed to read model directory %s: %w", l.dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isDefinitionFile(entry.Name()) {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())

		raw, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to read model definition")
			continue
		}

		def, err := ParseDefinition(path, raw)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Skipping invalid model definition")
			continue
		}
		if def.Abstract {
			l.logger.Debug().Str("path", path).Msg("Skipping abstract base definition")
			continue
		}
		if l.registry.Add(def) {
			l.logger.Info().
				Str("model", def.ShortName).
				Str("version", def.Version).
				Msg("Loaded model definition")
		}
	}
	return nil
}

// StartRescan schedules periodic rescans so edited or newly dropped
// definition files become available without a restart.
func (l *Loader) StartRescan(interval time.Duration) error {
	if l.cron != nil {
		return fmt.Errorf("rescan already started")
	}

	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if err := l.Scan(); err != nil {
			l.logger.Warn().Err(err).Msg("Model rescan failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule model rescan: %w", err)
	}

	c.Start()
	l.cron = c
	l.logger.Info().Str("interval", interval.String()).Msg("Model rescan scheduled")
	return nil
}

// Stop cancels the rescan schedule.
func (l *Loader) Stop() {
	if l.cron != nil {
		l.cron.Stop()
		l.cron = nil
	}
}
