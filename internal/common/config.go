package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration shared by the three
// daemons. Each daemon reads the sections it needs; unknown sections are
// ignored so a single numerus.toml can drive the whole deployment.
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Web         WebConfig       `toml:"web"`
	Queue       QueueConfig     `toml:"queue"`
	Worker      WorkerConfig    `toml:"worker"`
	Storage     StorageConfig   `toml:"storage"`
	Models      ModelsConfig    `toml:"models"`
	Email       EmailConfig     `toml:"email"`
	Latex       LatexConfig     `toml:"latex"`
	Templates   TemplatesConfig `toml:"templates"`
	Logging     LoggingConfig   `toml:"logging"`
}

// ServerConfig is the bind address for the queue daemon.
type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// WebConfig is the bind address for the web frontend plus the public base
// URL used when rendering confirmation links in email.
type WebConfig struct {
	Port    int    `toml:"port"`
	Host    string `toml:"host"`
	BaseURL string `toml:"base_url"` // e.g. "https://models.example.org"
}

// QueueConfig holds the coordination parameters of the queue daemon and the
// address workers and the web frontend use to reach it.
type QueueConfig struct {
	Address           string `toml:"address"`             // Queue daemon host as seen by clients
	Port              int    `toml:"port"`                // Queue daemon port as seen by clients
	Secret            string `toml:"secret"`              // Shared request secret, required on every call
	KeepAliveInterval int    `toml:"keep_alive_interval"` // Seconds between heartbeats / sweeper runs
	KeepAliveTimeout  int    `toml:"keep_alive_timeout"`  // Seconds of heartbeat silence before a worker is presumed dead
	MaxJobFailures    int    `toml:"max_job_failures"`    // Failure cap before the user is notified instead of a retry
	ConfirmTimeout    int    `toml:"confirm_timeout"`     // Minutes a confirmation code stays valid
}

// KeepAliveIntervalDuration returns the heartbeat/sweep period.
func (q QueueConfig) KeepAliveIntervalDuration() time.Duration {
	return time.Duration(q.KeepAliveInterval) * time.Second
}

// KeepAliveTimeoutDuration returns the heartbeat silence deadline.
func (q QueueConfig) KeepAliveTimeoutDuration() time.Duration {
	return time.Duration(q.KeepAliveTimeout) * time.Second
}

// ConfirmTimeoutDuration returns how long a confirmation code stays valid.
func (q QueueConfig) ConfirmTimeoutDuration() time.Duration {
	return time.Duration(q.ConfirmTimeout) * time.Minute
}

// BaseURL returns the queue daemon endpoint for client requests.
func (q QueueConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", q.Address, q.Port)
}

// WorkerConfig holds worker polling behavior.
type WorkerConfig struct {
	RequestSleepTime int `toml:"request_sleep_time"` // Seconds between polls when the queue is empty
	ErrorSleepTime   int `toml:"error_sleep_time"`   // Seconds to back off after a transport error
}

// RequestSleep returns the idle poll interval.
func (w WorkerConfig) RequestSleep() time.Duration {
	return time.Duration(w.RequestSleepTime) * time.Second
}

// ErrorSleep returns the transport error backoff.
func (w WorkerConfig) ErrorSleep() time.Duration {
	return time.Duration(w.ErrorSleepTime) * time.Second
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration for the queue
// snapshot store.
type BadgerConfig struct {
	Path string `toml:"path"` // Database directory path
}

// ModelsConfig controls model definition discovery and execution.
type ModelsConfig struct {
	Dir          string `toml:"dir"`           // Directory containing model definition files (TOML/YAML)
	ScanInterval int    `toml:"scan_interval"` // Seconds between rescans of the model directory
	WorkDir      string `toml:"work_dir"`      // Parent directory for per-task working directories
}

// ScanIntervalDuration returns the model directory rescan period.
func (m ModelsConfig) ScanIntervalDuration() time.Duration {
	return time.Duration(m.ScanInterval) * time.Second
}

// EmailConfig holds SMTP transport settings and the fixed envelope lists.
type EmailConfig struct {
	SMTPHost    string   `toml:"smtp_host"`
	SMTPPort    int      `toml:"smtp_port"`
	Username    string   `toml:"username"`
	Password    string   `toml:"password"`
	UseTLS      bool     `toml:"use_tls"`
	UseAuth     bool     `toml:"use_auth"`
	FromAddress string   `toml:"from_address"`
	CC          []string `toml:"cc"`
	BCC         []string `toml:"bcc"`
}

// Addr returns the host:port dial address for the SMTP server.
func (e EmailConfig) Addr() string {
	return fmt.Sprintf("%s:%d", e.SMTPHost, e.SMTPPort)
}

// LatexConfig controls PDF rendition of results. An empty PdflatexPath
// selects the built-in PDF renderer.
type LatexConfig struct {
	PdflatexPath string `toml:"pdflatex_path"`
	NumRuns      int    `toml:"num_runs"` // pdflatex passes, 2-3 for cross references
}

// TemplatesConfig optionally overrides the embedded email/latex templates
// with files from a directory.
type TemplatesConfig struct {
	EmailDir string `toml:"email_dir"`
	LatexDir string `toml:"latex_dir"`
}

type LoggingConfig struct {
	Level string `toml:"level"` // "debug", "info", "warn", "error"
}

// NewDefaultConfig creates a configuration with default values. Technical
// parameters live here; only deployment-facing settings belong in
// numerus.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 9000,
			Host: "localhost",
		},
		Web: WebConfig{
			Port:    8000,
			Host:    "localhost",
			BaseURL: "http://localhost:8000",
		},
		Queue: QueueConfig{
			Address:           "localhost",
			Port:              9000,
			Secret:            "",
			KeepAliveInterval: 30,
			KeepAliveTimeout:  120,
			MaxJobFailures:    3,
			ConfirmTimeout:    20,
		},
		Worker: WorkerConfig{
			RequestSleepTime: 10,
			ErrorSleepTime:   10,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/queue",
			},
		},
		Models: ModelsConfig{
			Dir:          "./models",
			ScanInterval: 60,
			WorkDir:      os.TempDir(),
		},
		Email: EmailConfig{
			SMTPPort: 25,
			CC:       []string{},
			BCC:      []string{},
		},
		Latex: LatexConfig{
			NumRuns: 2,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration with priority: defaults -> file -> env.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files; later files
// override earlier files, environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects configurations no daemon could run with.
func (c *Config) Validate() error {
	if c.Queue.KeepAliveInterval <= 0 {
		return fmt.Errorf("queue.keep_alive_interval must be positive, got %d", c.Queue.KeepAliveInterval)
	}
	if c.Queue.KeepAliveTimeout <= 0 {
		return fmt.Errorf("queue.keep_alive_timeout must be positive, got %d", c.Queue.KeepAliveTimeout)
	}
	if c.Queue.MaxJobFailures < 0 {
		return fmt.Errorf("queue.max_job_failures must not be negative, got %d", c.Queue.MaxJobFailures)
	}
	if c.Queue.ConfirmTimeout <= 0 {
		return fmt.Errorf("queue.confirm_timeout must be positive, got %d", c.Queue.ConfirmTimeout)
	}
	if c.Models.ScanInterval <= 0 {
		return fmt.Errorf("models.scan_interval must be positive, got %d", c.Models.ScanInterval)
	}
	if c.Latex.NumRuns <= 0 {
		return fmt.Errorf("latex.num_runs must be positive, got %d", c.Latex.NumRuns)
	}
	return nil
}

// applyEnvOverrides applies NUMERUS_* environment variable overrides.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("NUMERUS_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("NUMERUS_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("NUMERUS_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if addr := os.Getenv("NUMERUS_QUEUE_ADDRESS"); addr != "" {
		config.Queue.Address = addr
	}
	if port := os.Getenv("NUMERUS_QUEUE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Queue.Port = p
		}
	}
	if secret := os.Getenv("NUMERUS_QUEUE_SECRET"); secret != "" {
		config.Queue.Secret = secret
	}

	if path := os.Getenv("NUMERUS_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}

	if dir := os.Getenv("NUMERUS_MODELS_DIR"); dir != "" {
		config.Models.Dir = dir
	}
	if dir := os.Getenv("NUMERUS_WORK_DIR"); dir != "" {
		config.Models.WorkDir = dir
	}

	if host := os.Getenv("NUMERUS_SMTP_HOST"); host != "" {
		config.Email.SMTPHost = host
	}
	if port := os.Getenv("NUMERUS_SMTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Email.SMTPPort = p
		}
	}
	if user := os.Getenv("NUMERUS_SMTP_USERNAME"); user != "" {
		config.Email.Username = user
	}
	if pass := os.Getenv("NUMERUS_SMTP_PASSWORD"); pass != "" {
		config.Email.Password = pass
	}

	if level := os.Getenv("NUMERUS_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config.
// Command-line flags have the highest priority.
func ApplyFlagOverrides(config *Config, port int) {
	if port > 0 {
		config.Server.Port = port
	}
}

// IsProduction returns true if the environment is set to production.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
