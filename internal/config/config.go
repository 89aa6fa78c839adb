package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Addr      string
	AuthToken string
}

// SchedulerConfig holds scheduling loop settings.
type SchedulerConfig struct {
	Precision       string
	DefaultTimezone string
	ErrorThreshold  int
	Workers         int
	TriggerTimeout  time.Duration
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark BarkConfig
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig
	Scheduler    SchedulerConfig
	Notification NotificationConfig

	Mode          string
	StateDir      string
	Tenants       []string
	LogLevel      string
	ShutdownGrace time.Duration
}

const (
	defaultAddr            = "0.0.0.0:7070"
	defaultLogLevel        = "info"
	defaultMode            = "http"
	defaultPrecision       = "minute"
	defaultTimezone        = "Europe/Paris"
	defaultErrorThreshold  = 30
	defaultWorkers         = 8
	defaultTriggerTimeout  = 10 * time.Second
	defaultShutdownGrace   = 5 * time.Second
	errorThresholdEnvAlias = "CRON_ERROR_THRESHOLD"
)

// getEnvString returns the environment variable value or default
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt returns the environment variable as int or default
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool returns the environment variable as bool or default
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

// getEnvDuration returns the environment variable as duration or default
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Parse parses command line flags and environment variables into Config.
// Priority: CLI flags > Environment variables > .env file > defaults
func Parse() (*Config, error) {
	// Load .env file if exists (silent fail if not present)
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "crontabd", ".env"))
	}
	_ = godotenv.Load(envFiles...)

	cfg := &Config{
		Server: ServerConfig{
			Addr:      getEnvString("CRONTABD_ADDR", defaultAddr),
			AuthToken: getEnvString("CRONTABD_AUTH_TOKEN", ""),
		},
		Scheduler: SchedulerConfig{
			Precision:       getEnvString("CRONTABD_PRECISION", defaultPrecision),
			DefaultTimezone: getEnvString("CRONTABD_DEFAULT_TIMEZONE", defaultTimezone),
			ErrorThreshold:  getEnvInt("CRONTABD_ERROR_THRESHOLD", getEnvInt(errorThresholdEnvAlias, defaultErrorThreshold)),
			Workers:         getEnvInt("CRONTABD_WORKERS", defaultWorkers),
			TriggerTimeout:  getEnvDuration("CRONTABD_TRIGGER_TIMEOUT", defaultTriggerTimeout),
		},
		Notification: NotificationConfig{
			Bark: BarkConfig{
				URL:     getEnvString("CRONTABD_BARK_URL", ""),
				Enabled: getEnvBool("CRONTABD_BARK_ENABLED", false),
			},
		},
		Mode:          getEnvString("CRONTABD_MODE", defaultMode),
		StateDir:      getEnvString("CRONTABD_STATE_DIR", ""),
		Tenants:       splitList(getEnvString("CRONTABD_TENANTS", "")),
		LogLevel:      getEnvString("CRONTABD_LOG_LEVEL", defaultLogLevel),
		ShutdownGrace: getEnvDuration("CRONTABD_SHUTDOWN_GRACE", defaultShutdownGrace),
	}

	var addr, mode, stateDir, logLevel, precision, timezone, tenants string
	var errorThreshold, workers int
	var shutdownGrace, triggerTimeout time.Duration

	flag.StringVar(&addr, "addr", "", "HTTP listen address (overrides env)")
	flag.StringVar(&mode, "mode", "", "Run mode: http, mcp or both")
	flag.StringVar(&stateDir, "state-dir", "", "Directory to store tenant databases")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&precision, "precision", "", "Scheduling precision: minute or second")
	flag.StringVar(&timezone, "default-timezone", "", "Timezone applied to specs without one")
	flag.StringVar(&tenants, "tenants", "", "Comma-separated tenants to load at startup")
	flag.IntVar(&errorThreshold, "error-threshold", 0, "Consecutive failures before a task is evicted")
	flag.IntVar(&workers, "workers", 0, "Bound on concurrent selection and trigger work")
	flag.DurationVar(&triggerTimeout, "trigger-timeout", 0, "Timeout for one webhook invocation")
	flag.DurationVar(&shutdownGrace, "shutdown-grace", 0, "Grace period when shutting down")

	flag.Parse()

	if addr != "" {
		cfg.Server.Addr = addr
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if precision != "" {
		cfg.Scheduler.Precision = precision
	}
	if timezone != "" {
		cfg.Scheduler.DefaultTimezone = timezone
	}
	if tenants != "" {
		cfg.Tenants = splitList(tenants)
	}
	if errorThreshold > 0 {
		cfg.Scheduler.ErrorThreshold = errorThreshold
	}
	if workers > 0 {
		cfg.Scheduler.Workers = workers
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "trigger-timeout":
			cfg.Scheduler.TriggerTimeout = triggerTimeout
		case "shutdown-grace":
			cfg.ShutdownGrace = shutdownGrace
		}
	})

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}
	if cfg.Scheduler.ErrorThreshold < 1 {
		cfg.Scheduler.ErrorThreshold = defaultErrorThreshold
	}
	if cfg.Scheduler.Workers < 1 {
		cfg.Scheduler.Workers = defaultWorkers
	}

	switch cfg.Mode {
	case "http", "mcp", "both":
	default:
		return nil, fmt.Errorf("invalid mode %q (expected http, mcp or both)", cfg.Mode)
	}

	return cfg, nil
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "crontabd")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
